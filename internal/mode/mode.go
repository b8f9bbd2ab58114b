// Package mode defines the tracing modes a capture session can run in and
// the code-emission predicates the JIT queries to decide what to emit.
package mode

import "fmt"

// Mode selects which hardware packets the session decodes and how PCs are
// recovered from them.
type Mode uint8

const (
	// Uninitialized is the zero value: no session has been configured yet.
	Uninitialized Mode = iota
	// Simple mode: the JIT calls TraceGuestPC directly, no PT decoding.
	Simple
	// Tip mode: guest PCs are recovered from TIP packet targets.
	Tip
	// Fup mode: runs the same parser and IP-reconstruction state machine
	// as Tip. Guest PCs come from TIP targets; FUP targets only update the
	// last IP and never emit a PC.
	Fup
	// PtWrite mode: guest PCs are PTWRITE payloads, captured verbatim.
	PtWrite
)

func (m Mode) String() string {
	switch m {
	case Uninitialized:
		return "uninitialized"
	case Simple:
		return "simple"
	case Tip:
		return "tip"
	case Fup:
		return "fup"
	case PtWrite:
		return "ptw"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Parse maps the set-mode string argument of the control ABI to a Mode.
func Parse(s string) (Mode, error) {
	switch s {
	case "simple":
		return Simple, nil
	case "tip":
		return Tip, nil
	case "fup":
		return Fup, nil
	case "ptw":
		return PtWrite, nil
	default:
		return Uninitialized, fmt.Errorf("unknown mode %q", s)
	}
}

// IsHardware reports whether m drives the PT hardware capture pipeline
// (as opposed to Simple, which bypasses it entirely).
func (m Mode) IsHardware() bool {
	return m == Tip || m == Fup || m == PtWrite
}

// TraceFileName returns the output trace file name for m, per the
// "<out_dir>/{simple|tip|ptw}.trace" convention. Fup shares Tip's naming
// since both recover guest PCs the same way.
func (m Mode) TraceFileName() string {
	switch m {
	case Simple:
		return "simple.trace"
	case Tip, Fup:
		return "tip.trace"
	case PtWrite:
		return "ptw.trace"
	default:
		return ""
	}
}

// InsertJmxAtBlockStart: true iff mode is Tip or Fup.
func (m Mode) InsertJmxAtBlockStart() bool {
	return m == Tip || m == Fup
}

// InsertPtWrite: true iff mode is PtWrite.
func (m Mode) InsertPtWrite() bool {
	return m == PtWrite
}

// InsertChainCountCheck: true iff mode is Tip, Fup, or PtWrite.
func (m Mode) InsertChainCountCheck() bool {
	return m.IsHardware()
}

// EnableSimpleTracing: true iff mode is Simple.
func (m Mode) EnableSimpleTracing() bool {
	return m == Simple
}
