package ptpacket

// Parser is the C7 Packet Parser abstraction: it consumes decoded
// packets and retains only the ones relevant to its mode, producing a
// slice of processed packets of type T once the worker task has exhausted
// the region. Go has no trait objects, so concrete implementations are
// chosen once per mode (see pkg/traceabi's newHardwareSession) and
// plumbed through the worker pool as a concrete type parameter rather
// than boxed — the "monomorphize the pool" option spec.md section 9
// calls out.
type Parser[T any] interface {
	// Process is called once per decoded packet in stream order.
	Process(p Packet)
	// Finish extracts the accumulated processed packets, consuming the
	// parser.
	Finish() []T
}

// PtwParser retains the payload of every PTW packet, discarding all
// others.
type PtwParser struct {
	buf []uint64
}

// NewPtwParser constructs an empty PtwParser.
func NewPtwParser() *PtwParser {
	return &PtwParser{}
}

func (p *PtwParser) Process(pkt Packet) {
	if pkt.IsPTW {
		p.buf = append(p.buf, pkt.PTW)
	}
}

func (p *PtwParser) Finish() []uint64 {
	return p.buf
}

// TipEntry is a processed TIP/FUP packet: a compression kind paired with
// its raw (not yet IP-reconstructed) payload.
type TipEntry struct {
	Kind Kind
	Data uint64
}

// TipFupParser retains TIP packets (Suppressed already dropped by the
// decoder) and FUP packets, tagging FUP entries Update64NoEmit so the PC
// Writer updates its last_ip register without emitting a PC for them.
type TipFupParser struct {
	buf []TipEntry
}

// NewTipFupParser constructs an empty TipFupParser.
func NewTipFupParser() *TipFupParser {
	return &TipFupParser{}
}

func (p *TipFupParser) Process(pkt Packet) {
	if pkt.IsPTW {
		return
	}
	p.buf = append(p.buf, TipEntry{Kind: pkt.Kind, Data: pkt.TIPData})
}

func (p *TipFupParser) Finish() []TipEntry {
	return p.buf
}
