// Package traceabi implements the Go-side logic behind the process-wide
// control singleton spec.md section 6 and 9 describe: the small set of
// operations a DBT/JIT runtime calls into across the (out-of-scope) cgo
// ABI boundary to drive a capture session. It mirrors
// original_source/scribe/src/state.rs's State/InnerState: an atomic mode
// byte for lock-free predicate reads, plus a mutex-guarded tagged inner
// state (Uninitialized / Simple-file / Hardware-pipeline) for the
// operations that mutate session state.
package traceabi

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ptpipe/ptpipe/internal/mode"
)

// Config describes the session set-mode is asked to start.
type Config struct {
	Mode       mode.Mode
	OutDir     string
	CPU        int
	DataPages  uint32
	AuxPages   uint32
	NumThreads int
	MaxTasks   uint32
}

type innerKind uint8

const (
	innerUninitialized innerKind = iota
	innerSimple
	innerHardware
)

// State is the process-wide control singleton. The zero value is a valid,
// Uninitialized State.
type State struct {
	modeVal atomic.Uint32 // see mode.Mode. Read lock-free by the predicate methods.

	mu    sync.Mutex
	kind  innerKind
	file  *os.File
	simpl *bufio.Writer
	hw    hardwareSession

	logger *zap.SugaredLogger
}

// New constructs an Uninitialized State, logging via logger (nil is
// valid: operations simply don't log).
func New(logger *zap.SugaredLogger) *State {
	return &State{logger: logger}
}

func (s *State) log() *zap.SugaredLogger {
	if s.logger == nil {
		return zap.NewNop().Sugar()
	}
	return s.logger
}

// Mode returns the currently configured mode, lock-free.
func (s *State) Mode() mode.Mode {
	return mode.Mode(s.modeVal.Load())
}

// SetMode configures the session: Simple mode opens a buffered writer
// over <out_dir>/simple.trace; Tip, Fup and PtWrite start the full
// Reader/Task-Manager/Writer hardware pipeline. Matches
// state.rs::handle_arg's match on mode, minus its argv-parsing (out of
// scope per spec.md section 1; internal/config + cmd/ptpipe handle that).
func (s *State) SetMode(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind != innerUninitialized {
		return fmt.Errorf("traceabi: session already configured (mode %v)", s.Mode())
	}

	switch cfg.Mode {
	case mode.Simple:
		f, err := os.Create(filepath.Join(cfg.OutDir, cfg.Mode.TraceFileName()))
		if err != nil {
			return fmt.Errorf("traceabi: creating simple trace output: %w", err)
		}
		s.file = f
		s.simpl = bufio.NewWriter(f)
		s.kind = innerSimple

	case mode.Tip, mode.Fup, mode.PtWrite:
		hw, err := newHardwareSession(HardwareConfig{
			Mode:       cfg.Mode,
			OutDir:     cfg.OutDir,
			CPU:        cfg.CPU,
			DataPages:  cfg.DataPages,
			AuxPages:   cfg.AuxPages,
			NumThreads: cfg.NumThreads,
			MaxTasks:   cfg.MaxTasks,
		})
		if err != nil {
			return err
		}
		s.hw = hw
		s.kind = innerHardware

	default:
		return fmt.Errorf("traceabi: cannot set mode %v", cfg.Mode)
	}

	s.modeVal.Store(uint32(cfg.Mode))
	s.log().Infow("session configured", "mode", cfg.Mode.String(), "out_dir", cfg.OutDir)
	return nil
}

// TraceGuestPC records pc directly to the Simple-mode output file.
// Supplemented feature (SPEC_FULL.md section 10): a no-op outside Simple
// mode, matching state.rs::trace_guest_pc's early return.
func (s *State) TraceGuestPC(pc uint64) error {
	if !s.Mode().EnableSimpleTracing() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], pc)
	if _, err := s.simpl.Write(buf[:]); err != nil {
		return fmt.Errorf("traceabi: writing simple trace: %w", err)
	}
	return nil
}

// InstallPCMapping records a host->guest PC mapping, for Tip/Fup sessions
// (a no-op in Simple and PtWrite modes, matching state.rs::pc_mapping's
// early return when not InnerState::Hardware).
func (s *State) InstallPCMapping(hostPC, guestPC uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind == innerHardware {
		s.hw.insertMapping(hostPC, guestPC)
	}
}

// StartRecording enables the perf event for a hardware session (a no-op
// otherwise, matching state.rs::start_recording's early return).
func (s *State) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind != innerHardware {
		return nil
	}
	return s.hw.startRecording()
}

// StopRecording disables the perf event for a hardware session (a no-op
// otherwise).
func (s *State) StopRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind != innerHardware {
		return nil
	}
	return s.hw.stopRecording()
}

// Stats reports the Task Manager's in-flight decode-task count for a
// hardware session; ok is false in Simple mode or before SetMode, where
// there is no such count to report. Supplemented feature (SPEC_FULL.md
// section 10), grounded on the teacher's counters idiom.
func (s *State) Stats() (taskCount uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kind != innerHardware {
		return 0, false
	}
	return s.hw.taskCount(), true
}

// Exit tears the session down: flushing Simple mode's writer, or
// signaling the Reader and Writer to drain and join for a hardware
// session. Matches state.rs::exit's match on the taken InnerState.
func (s *State) Exit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log().Infow("session terminating", "mode", s.Mode().String())

	switch s.kind {
	case innerSimple:
		if err := s.simpl.Flush(); err != nil {
			return fmt.Errorf("traceabi: flushing simple trace: %w", err)
		}
		return s.file.Close()

	case innerHardware:
		return s.hw.close()

	default:
		return nil
	}
}
