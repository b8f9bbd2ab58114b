// Package pcwriter implements the PC Writer (C9): the ordered-batch
// consumer that reconstructs IPs from compressed TIP/FUP updates (or
// takes PTW payloads verbatim), maps host PCs to guest PCs, and streams
// little-endian u64s to the output trace file. It is also the sole
// raiser of the pipeline's backpressure Notifier, per spec.md section 9's
// resolved Open Question.
package pcwriter

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ptpipe/ptpipe/internal/notifier"
	"github.com/ptpipe/ptpipe/internal/pcmap"
	"github.com/ptpipe/ptpipe/internal/ptpacket"
	"github.com/ptpipe/ptpipe/internal/threadhandle"
)

// Calculator turns one processed packet into an optional guest PC.
type Calculator[T any] interface {
	CalculatePC(data T) (pc uint64, emit bool)
}

// PtwCalculator is the identity PacketWriter for PTW mode: every payload
// is emitted verbatim.
type PtwCalculator struct{}

func (PtwCalculator) CalculatePC(data uint64) (uint64, bool) { return data, true }

// TipCalculator reconstructs IPs from TIP/FUP compressed updates, keeping
// a private last_ip register and looking resolved IPs up in the shared
// PC map at ip-9 (9 is the length of the JIT-emitted indirect jump that
// provoked the TIP/FUP).
type TipCalculator struct {
	lastIP uint64
	pcMap  *pcmap.Map
}

// NewTipCalculator constructs a TipCalculator with last_ip initialized to
// 0, reading from the given shared PC map.
func NewTipCalculator(m *pcmap.Map) *TipCalculator {
	return &TipCalculator{pcMap: m}
}

const jitIndirectJumpLen = 9

func (c *TipCalculator) CalculatePC(e ptpacket.TipEntry) (uint64, bool) {
	var newIP uint64
	switch e.Kind {
	case ptpacket.Update16:
		newIP = (c.lastIP &^ 0xFFFF) | e.Data
	case ptpacket.Update32:
		newIP = (c.lastIP &^ 0xFFFFFFFF) | e.Data
	case ptpacket.Update48:
		newIP = (c.lastIP &^ 0xFFFFFFFFFFFF) | e.Data
	case ptpacket.SignExtend48:
		newIP = signExtendBit47(e.Data)
	case ptpacket.Update64, ptpacket.Update64NoEmit:
		newIP = e.Data
	}
	c.lastIP = newIP

	if e.Kind == ptpacket.Update64NoEmit {
		return 0, false
	}
	return c.pcMap.Lookup(newIP - jitIndirectJumpLen)
}

// signExtendBit47 sign-extends a 48-bit payload from its bit 47 (the
// payload's own MSB) to a full 64-bit value, matching spec.md 4.9's
// sign_extend_from_bit_47 and the original implementation's
// ((payload as i64) << 16) >> 16 shift trick.
func signExtendBit47(payload uint64) uint64 {
	return uint64(int64(payload<<16) >> 16)
}

// Queue is the minimal Ordered Queue surface the PC Writer needs: a
// single-consumer, non-blocking Recv plus an emptiness check for the
// shutdown drain.
type Queue[T any] interface {
	Recv() (T, bool)
	IsEmpty() bool
}

// TaskCounter exposes the Task Manager's in-flight task count.
type TaskCounter interface {
	TaskCount() uint32
}

// Config bounds the Writer's readiness signal.
type Config struct {
	// MaxTasks matches the Task Manager's MaxTasks: readiness is raised
	// whenever task_count is below it, so the Reader never waits longer
	// than necessary.
	MaxTasks uint32
}

// Run drives the PC Writer main loop on the calling goroutine, writing
// resolved PCs as little-endian u64s to out. It exits once the owning
// Context has received an exit signal, the queue is empty, and no tasks
// remain in flight — the four-step drain sequence spec.md section 5
// describes.
func Run[T any](
	ctx *threadhandle.Context,
	cfg Config,
	out io.Writer,
	queue Queue[[]T],
	calc Calculator[T],
	tasks TaskCounter,
	readyNotifier *notifier.Notifier,
) error {
	ctx.Ready()

	w := bufio.NewWriter(out)
	var buf [8]byte

	for {
		batch, ok := queue.Recv()
		if ok {
			for _, p := range batch {
				pc, emit := calc.CalculatePC(p)
				if !emit {
					continue
				}
				binary.LittleEndian.PutUint64(buf[:], pc)
				if _, err := w.Write(buf[:]); err != nil {
					return fmt.Errorf("pcwriter: writing trace output: %w", err)
				}
			}
			continue
		}

		if ctx.ReceivedExit() && tasks.TaskCount() == 0 && queue.IsEmpty() {
			if err := w.Flush(); err != nil {
				return fmt.Errorf("pcwriter: flushing trace output: %w", err)
			}
			return nil
		}

		if tasks.TaskCount() < cfg.MaxTasks {
			readyNotifier.Notify()
		}
	}
}
