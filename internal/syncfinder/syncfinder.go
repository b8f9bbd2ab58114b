// Package syncfinder locates PT Packet Stream Boundaries (PSBs) in a byte
// slice. A PSB is the 16-byte pattern formed by the two-byte opcode 0x02
// 0x82 repeated eight times; any PT decoder may resynchronize at one.
package syncfinder

import "encoding/binary"

const (
	opcPSB = 0x02
	extPSB = 0x82

	// psbRepeatCount is the number of additional 0x02 0x82 pairs after the
	// first, giving 8 total pairs (16 bytes).
	psbRepeatCount = 7
	psbLen         = 2 * (psbRepeatCount + 1)

	// maxSyncpoints bounds a single find_sync_range scan.
	maxSyncpoints = 128
)

// psbPatterns holds the two little-endian uint64 bit patterns an
// 8-byte-aligned window of repeating 0x02 0x82 can take, depending on
// whether the window starts on the opcode or the extension byte. They
// let the fast path compare aligned 8-byte windows instead of scanning
// byte by byte.
var psbPatterns = [2]uint64{
	binary.LittleEndian.Uint64([]byte{0x02, 0x82, 0x02, 0x82, 0x02, 0x82, 0x02, 0x82}),
	binary.LittleEndian.Uint64([]byte{0x82, 0x02, 0x82, 0x02, 0x82, 0x02, 0x82, 0x02}),
}

// FindNextSync returns the offset of the first byte of the next PSB at or
// after position 0 in slice, or -1 if none exists.
//
// It fast-skips 8 bytes at a time while an 8-byte window doesn't match
// either of the two possible repeating bit patterns, since any PSB fully
// covers the window that starts 0 to 7 bytes after it. Once a window
// matches, it confirms byte-wise at that window's offset and the 7
// offsets before it. This keeps long non-PSB runs cheap without giving
// up exactness: isPSBAt is always the final word.
func FindNextSync(slice []byte) int {
	n := len(slice)
	last := n - psbLen
	if last < 0 {
		return -1
	}

	i := 0
	for i+8 <= n {
		w := binary.LittleEndian.Uint64(slice[i : i+8])
		if w != psbPatterns[0] && w != psbPatterns[1] {
			i += 8
			continue
		}
		for j := max(0, i-7); j <= i && j <= last; j++ {
			if isPSBAt(slice, j) {
				return j
			}
		}
		i++
	}

	return -1
}

func isPSBAt(slice []byte, i int) bool {
	for j := 0; j <= psbRepeatCount; j++ {
		off := i + 2*j
		if slice[off] != opcPSB || slice[off+1] != extPSB {
			return false
		}
	}
	return true
}

// Result is the outcome of FindSyncRange.
type Result struct {
	// Kind distinguishes Ok, NoSync and OneSync outcomes.
	Kind ResultKind
	// Start and End are PSB offsets forming the half-open range [Start,
	// End) when Kind == Ok. When Kind == OneSync, Start holds the single
	// PSB's offset and End is unused.
	Start, End int
}

// ResultKind enumerates the outcomes of FindSyncRange.
type ResultKind int

const (
	// Ok: at least two PSBs found; Start..End is the range between the
	// first and last.
	Ok ResultKind = iota
	// NoSync: no PSB found at all.
	NoSync
	// OneSync: exactly one PSB found, at offset Start.
	OneSync
)

// FindSyncRange scans forward up to maxSyncpoints PSBs starting at
// position 0 of slice (the caller guarantees slice is itself already
// sync-aligned, i.e. slice[0] begins a PSB whenever one is present at
// all) and returns the half-open range from the first to the last PSB
// found.
func FindSyncRange(slice []byte) Result {
	offsets := make([]int, 0, maxSyncpoints)

	pos := 0
	for len(offsets) < maxSyncpoints {
		off := FindNextSync(slice[pos:])
		if off < 0 {
			break
		}
		abs := pos + off
		offsets = append(offsets, abs)
		pos = abs + psbLen
		if pos >= len(slice) {
			break
		}
	}

	switch len(offsets) {
	case 0:
		return Result{Kind: NoSync}
	case 1:
		return Result{Kind: OneSync, Start: offsets[0]}
	default:
		return Result{Kind: Ok, Start: offsets[0], End: offsets[len(offsets)-1]}
	}
}
