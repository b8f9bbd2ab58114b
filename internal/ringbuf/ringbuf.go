// Package ringbuf implements the AUX Ring View (C1): a reader against the
// kernel-shared PT AUX area, synchronized with the kernel via
// acquire/release ordered accesses to the header page's aux_head/aux_tail
// counters.
package ringbuf

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// overflowNumerator/Denominator express the "90% full" fatal threshold as
// a size*9/10 head-tail distance (avoids floating point on a hot path).
const (
	overflowNumerator   = 9
	overflowDenominator = 10
)

// View adopts the perf_event_mmap_page header page and the AUX buffer
// region mmap'd alongside it. The header page carries the aux_head (set
// by the kernel) / aux_tail (set by this reader) quartet along with
// aux_offset/aux_size, which are read once at construction.
type View struct {
	header *unix.PerfEventMmapPage
	aux    []byte
	size   uint64
}

// New adopts headerPage (one OS page containing the perf_event mmap
// header) and auxRegion (the AUX buffer, aux_size bytes, a power of two).
// Both slices must remain valid and unmoved for the lifetime of the View:
// they are expected to back real mmap'd memory shared with the kernel.
func New(headerPage []byte, auxRegion []byte) (*View, error) {
	if len(headerPage) < int(unsafe.Sizeof(unix.PerfEventMmapPage{})) {
		return nil, fmt.Errorf("ringbuf: header page of %d bytes is smaller than perf_event_mmap_page", len(headerPage))
	}

	hdr := (*unix.PerfEventMmapPage)(unsafe.Pointer(&headerPage[0]))

	size := hdr.Aux_size
	if size == 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("ringbuf: aux_size %d is not a power of two", size)
	}
	if uint64(len(auxRegion)) != size {
		return nil, fmt.Errorf("ringbuf: aux region is %d bytes, expected aux_size %d", len(auxRegion), size)
	}

	return &View{header: hdr, aux: auxRegion, size: size}, nil
}

// Next reads aux_tail (a plain read: this reader is the sole writer of
// it) and aux_head with acquire ordering, synchronizing with the
// kernel's release store on production. If they're equal, it returns 0
// consumed without invoking callback. Otherwise callback is handed a
// logically contiguous view of the unread bytes [aux_tail, aux_head);
// when the view wraps around the physical buffer, Next allocates a
// temporary and copies both halves so callback always sees one
// contiguous slice — the extra copy the sync-aligned chunker upstream
// needs anyway. After callback returns the number of prefix bytes it
// consumed, Next stores the advanced aux_tail with release ordering.
func (v *View) Next(callback func([]byte) int) (int, error) {
	tail := v.header.Aux_tail
	head := atomic.LoadUint64(&v.header.Aux_head)

	if head == tail {
		return 0, nil
	}

	if head-tail > (v.size*overflowNumerator)/overflowDenominator {
		return 0, fmt.Errorf("ringbuf: aux overflow: unread distance %d exceeds 90%% of size %d", head-tail, v.size)
	}

	wrappedHead := head % v.size
	wrappedTail := tail % v.size

	var view []byte
	if wrappedHead > wrappedTail {
		view = v.aux[wrappedTail:wrappedHead]
	} else {
		tmp := make([]byte, 0, v.size)
		tmp = append(tmp, v.aux[wrappedTail:]...)
		tmp = append(tmp, v.aux[:wrappedHead]...)
		view = tmp
	}

	consumed := callback(view)

	atomic.StoreUint64(&v.header.Aux_tail, tail+uint64(consumed))
	return consumed, nil
}

// AuxTail returns the reader's current aux_tail value, for tests and
// diagnostics.
func (v *View) AuxTail() uint64 {
	return v.header.Aux_tail
}
