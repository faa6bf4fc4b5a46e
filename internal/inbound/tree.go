package inbound

import "github.com/supersonic-audio/supersonic/internal/region"

// TreeSource is the node-tree mirror surface *region.Region satisfies
// directly.
type TreeSource interface {
	Tree() (entries []region.NodeTreeEntry, version uint32, dropped uint32)
	NodeTreeBytes() []byte
}

// TreeReader is the on-demand reader spec.md §4.8 describes: unlike
// reply/debug it isn't a worker, it's called synchronously by the host
// whenever query_tree() is invoked. The version-stable retry and
// def-name scratch-copy defenses already live in *region.Region.Tree();
// this type exists to give the tree mirror the same "reader" API shape
// as its two worker siblings.
type TreeReader struct {
	source TreeSource
}

// NewTreeReader constructs a tree-mirror reader over a region.
func NewTreeReader(source TreeSource) *TreeReader {
	return &TreeReader{source: source}
}

// QueryTree returns every live node-tree entry plus the mirror's version
// and dropped-update count (spec.md §4.8).
func (t *TreeReader) QueryTree() (entries []region.NodeTreeEntry, version uint32, dropped uint32) {
	return t.source.Tree()
}

// QueryRawTree returns the node-tree mirror's unparsed backing bytes for
// the host API's get_raw_tree() (spec.md §6.3).
func (t *TreeReader) QueryRawTree() []byte {
	return t.source.NodeTreeBytes()
}
