package region

import (
	"bytes"
	"sync/atomic"
)

// Node-tree mirror header field offsets, in 32-bit words.
const (
	headerNodeCount = iota
	headerVersion
	headerDroppedCount
)

// Node-tree mirror entry field offsets, in 32-bit words, before the
// def-name bytes.
const (
	entryID = iota
	entryParentID
	entryPrevID
	entryNextID
	entryHeadID
	entryIsGroup
)

// EmptySlotID marks an unused node-tree mirror slot.
const EmptySlotID int32 = -1

// NodeTreeEntry is the decoded form of one mirror slot (spec.md §4.8).
type NodeTreeEntry struct {
	ID       int32
	ParentID int32
	PrevID   int32
	NextID   int32
	HeadID   int32
	IsGroup  bool
	DefName  string
}

func (r *Region) headerWord(field int) *uint32 {
	return r.wordPtr(r.Layout.NodeTreeOffset + field*4)
}

// NodeCount returns the engine-published node count.
func (r *Region) NodeCount() int32 {
	return int32(atomic.LoadUint32(r.headerWord(headerNodeCount)))
}

// TreeVersion returns the monotonically increasing mirror version.
// Readers retry a snapshot if this changes across the read (testable
// property 8).
func (r *Region) TreeVersion() uint32 {
	return atomic.LoadUint32(r.headerWord(headerVersion))
}

// DroppedCount returns how many node-tree updates the engine could not
// fit in the mirror's fixed capacity.
func (r *Region) DroppedCount() uint32 {
	return atomic.LoadUint32(r.headerWord(headerDroppedCount))
}

func (r *Region) entryOffset(i int) int {
	return r.Layout.NodeTreeOffset + NodeTreeHeaderSize + i*NodeTreeEntrySize
}

// readEntry decodes one mirror slot without synchronization; callers
// wrap this in a version-stable retry loop via Tree().
func (r *Region) readEntry(i int) NodeTreeEntry {
	base := r.entryOffset(i)
	e := NodeTreeEntry{
		ID:       int32(atomic.LoadUint32(r.wordPtr(base + entryID*4))),
		ParentID: int32(atomic.LoadUint32(r.wordPtr(base + entryParentID*4))),
		PrevID:   int32(atomic.LoadUint32(r.wordPtr(base + entryPrevID*4))),
		NextID:   int32(atomic.LoadUint32(r.wordPtr(base + entryNextID*4))),
		HeadID:   int32(atomic.LoadUint32(r.wordPtr(base + entryHeadID*4))),
		IsGroup:  atomic.LoadUint32(r.wordPtr(base+entryIsGroup*4)) != 0,
	}

	// Copy the 32-byte def-name into a private scratch before scanning
	// for the null terminator, so a concurrent engine write can't
	// truncate mid-read (spec.md §4.8).
	nameOffset := base + 6*4
	scratch := make([]byte, NodeTreeDefNameSizeBytes)
	copy(scratch, r.buf[nameOffset:nameOffset+NodeTreeDefNameSizeBytes])
	if nul := bytes.IndexByte(scratch, 0); nul >= 0 {
		scratch = scratch[:nul]
	}
	e.DefName = string(scratch)
	return e
}

// NodeTreeDefNameSizeBytes is the fixed width of the null-padded
// definition-name field within one node-tree entry.
const NodeTreeDefNameSizeBytes = 32

// Tree returns every non-empty entry in the node-tree mirror, retrying
// the whole scan if the version changed while reading (testable property
// 8: a reader must see either the before- or after-state, never a
// mixture).
func (r *Region) Tree() (entries []NodeTreeEntry, version uint32, dropped uint32) {
	for {
		before := r.TreeVersion()
		count := int(r.NodeCount())
		if count > r.Layout.NodeTreeCapacity {
			count = r.Layout.NodeTreeCapacity
		}

		collected := make([]NodeTreeEntry, 0, count)
		for i := 0; i < r.Layout.NodeTreeCapacity; i++ {
			e := r.readEntry(i)
			if e.ID == EmptySlotID {
				continue
			}
			collected = append(collected, e)
		}

		after := r.TreeVersion()
		if before == after {
			return collected, after, r.DroppedCount()
		}
		// version moved mid-scan: retry
	}
}
