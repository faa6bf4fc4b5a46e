package ring

import (
	"context"
	"testing"
)

func newTestRing(size int) (buf []byte, head, tail, seq, lock *uint32) {
	buf = make([]byte, size)
	head, tail, seq, lock = new(uint32), new(uint32), new(uint32), new(uint32)
	return
}

func TestWriteAndDrainRoundTrip(t *testing.T) {
	buf, head, tail, seq, lock := newTestRing(256)
	w := NewWriter(buf, head, tail, seq, lock)
	r := NewReader(buf, head, tail, nil)

	payload := []byte("hello")
	gotSeq, err := w.Write(context.Background(), payload, 7)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if gotSeq != 1 {
		t.Errorf("expected sequence 1, got %d", gotSeq)
	}

	records := r.Drain(10)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if string(records[0].Bytes) != "hello" {
		t.Errorf("expected payload %q, got %q", "hello", records[0].Bytes)
	}
	if records[0].SourceID != 7 {
		t.Errorf("expected source_id 7, got %d", records[0].SourceID)
	}
}

func TestSequenceIncreasesMonotonically(t *testing.T) {
	buf, head, tail, seq, lock := newTestRing(4096)
	w := NewWriter(buf, head, tail, seq, lock)
	r := NewReader(buf, head, tail, nil)

	for i := 0; i < 5; i++ {
		if _, err := w.Write(context.Background(), []byte("x"), 0); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	records := r.Drain(10)
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].Sequence <= records[i-1].Sequence {
			t.Errorf("sequence not strictly increasing at %d: %d <= %d", i, records[i].Sequence, records[i-1].Sequence)
		}
	}
}

func TestRingFullReturnsErrFull(t *testing.T) {
	buf, head, tail, seq, lock := newTestRing(32)
	w := NewWriter(buf, head, tail, seq, lock)

	// 32-byte ring: a 1-byte payload (20-byte record) is not too large
	// for it, but with 16 bytes of slack kept free it never has room, so
	// the writer reports ErrFull.
	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = w.Write(context.Background(), []byte("x"), 0)
		if lastErr != nil {
			break
		}
	}
	if lastErr != ErrFull {
		t.Errorf("expected ErrFull eventually, got %v", lastErr)
	}
}

func TestRingWrapDeliversAllRecordsInOrder(t *testing.T) {
	const capacity = 2048
	buf, head, tail, seq, lock := newTestRing(capacity)
	w := NewWriter(buf, head, tail, seq, lock)
	payload := make([]byte, 100)
	var corrupted int
	r := NewReader(buf, head, tail, func() { corrupted++ })

	written, total := 0, 0
	var lastSeq uint32
	collect := func(records []Record) {
		for _, rec := range records {
			if rec.Sequence <= lastSeq {
				t.Errorf("sequence out of order: %d after %d", rec.Sequence, lastSeq)
			}
			lastSeq = rec.Sequence
		}
		total += len(records)
	}
	for *head < capacity*3 {
		if _, err := w.Write(context.Background(), payload, 0); err != nil {
			// drain to make room, then retry
			collect(r.Drain(100))
			continue
		}
		written++
	}
	collect(r.Drain(1000))

	if total == 0 {
		t.Fatal("expected to receive records across the wrap boundary")
	}
	if total != written {
		t.Errorf("expected all %d written records delivered, got %d", written, total)
	}
	if corrupted != 0 {
		t.Errorf("expected no corruption reports, got %d", corrupted)
	}
}

func TestWrapWithFourByteTailGapDoesNotPanic(t *testing.T) {
	// 64-byte ring. First two records land head exactly at capacity-4,
	// the smallest possible nonzero tail gap (records are always 4-byte
	// aligned) and the one case a padding marker with a stored length
	// word could never fit in. A is drained before B is written, since
	// the writer keeps 16 bytes of slack free and B (44 bytes) only fits
	// once A's 16 bytes are released.
	const capacity = 64
	buf, head, tail, seq, lock := newTestRing(capacity)
	w := NewWriter(buf, head, tail, seq, lock)
	r := NewReader(buf, head, tail, nil)

	if _, err := w.Write(context.Background(), []byte{}, 1); err != nil {
		t.Fatalf("write A failed: %v", err)
	}
	if got := r.Drain(10); len(got) != 1 {
		t.Fatalf("expected record A drained, got %d records", len(got))
	}
	if _, err := w.Write(context.Background(), make([]byte, 28), 2); err != nil {
		t.Fatalf("write B failed: %v", err)
	}
	if got := int(*head); got != capacity-4 {
		t.Fatalf("expected head at capacity-4 (%d), got %d", capacity-4, got)
	}

	first := r.Drain(10)
	if len(first) != 1 {
		t.Fatalf("expected record B drained, got %d records", len(first))
	}
	if *tail != *head {
		t.Fatalf("expected tail caught up to head, tail=%d head=%d", *tail, *head)
	}

	// This write must wrap around the 4-byte gap; the old padding format
	// needed 8 bytes here and indexed past the buffer.
	var corrupted int
	rCorrupt := NewReader(buf, head, tail, func() { corrupted++ })
	if _, err := w.Write(context.Background(), []byte("C"), 3); err != nil {
		t.Fatalf("wrap write failed: %v", err)
	}

	records := rCorrupt.Drain(10)
	if len(records) != 1 {
		t.Fatalf("expected 1 record after wrap, got %d", len(records))
	}
	if string(records[0].Bytes) != "C" {
		t.Errorf("expected payload %q, got %q", "C", records[0].Bytes)
	}
	if records[0].SourceID != 3 {
		t.Errorf("expected source_id 3, got %d", records[0].SourceID)
	}
	if corrupted != 0 {
		t.Errorf("expected no corruption reports, got %d", corrupted)
	}
}

func TestCorruptionResyncsToHead(t *testing.T) {
	buf, head, tail, seq, lock := newTestRing(256)
	w := NewWriter(buf, head, tail, seq, lock)

	if _, err := w.Write(context.Background(), []byte("payload"), 0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Corrupt the frame magic at the tail.
	buf[0] = 0xFF
	buf[1] = 0xFF
	buf[2] = 0xFF
	buf[3] = 0xFF

	var corruptions int
	r := NewReader(buf, head, tail, func() { corruptions++ })
	records := r.Drain(10)

	if len(records) != 0 {
		t.Errorf("expected 0 records after corruption, got %d", len(records))
	}
	if corruptions != 1 {
		t.Errorf("expected 1 corruption callback, got %d", corruptions)
	}
	if *tail != *head {
		t.Errorf("expected tail resynced to head, tail=%d head=%d", *tail, *head)
	}
}
