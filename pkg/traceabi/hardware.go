package traceabi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ptpipe/ptpipe/internal/mode"
	"github.com/ptpipe/ptpipe/internal/notifier"
	"github.com/ptpipe/ptpipe/internal/orderedqueue"
	"github.com/ptpipe/ptpipe/internal/pcmap"
	"github.com/ptpipe/ptpipe/internal/pcwriter"
	"github.com/ptpipe/ptpipe/internal/perf"
	"github.com/ptpipe/ptpipe/internal/ptpacket"
	"github.com/ptpipe/ptpipe/internal/reader"
	"github.com/ptpipe/ptpipe/internal/taskmanager"
	"github.com/ptpipe/ptpipe/internal/threadhandle"
)

// HardwareConfig collects the pieces a hardware-mode session (Tip, Fup,
// PtWrite) needs to start its Reader/Task-Manager/Writer pipeline.
type HardwareConfig struct {
	Mode       mode.Mode
	OutDir     string
	CPU        int
	DataPages  uint32
	AuxPages   uint32
	NumThreads int
	MaxTasks   uint32
}

// hardwareSession is the non-generic handle State.inner holds for Tip,
// Fup and PtWrite modes: start/stop recording, PC-map installation and
// the readiness wait, without exposing the underlying processed-packet
// type parameter.
type hardwareSession interface {
	insertMapping(hostPC, guestPC uint64)
	startRecording() error
	stopRecording() error
	waitForEmpty()
	taskCount() uint32
	close() error
}

// newHardwareSession wires C1 through C9 together for one concrete
// processed-packet type T, mirroring HardwareTracer::init's match on mode
// in the original implementation: PtWrite instantiates with T=uint64 and
// an identity PacketWriter, Tip/Fup instantiate with T=ptpacket.TipEntry
// and a stateful last-IP PacketWriter sharing the session's PC map.
func newHardwareSession(cfg HardwareConfig) (hardwareSession, error) {
	switch cfg.Mode {
	case mode.PtWrite:
		newParser := func() ptpacket.Parser[uint64] { return ptpacket.NewPtwParser() }
		return newSession[uint64](cfg, nil, newParser, pcwriter.PtwCalculator{})
	case mode.Tip, mode.Fup:
		pcMap := pcmap.New()
		newParser := func() ptpacket.Parser[ptpacket.TipEntry] { return ptpacket.NewTipFupParser() }
		return newSession[ptpacket.TipEntry](cfg, pcMap, newParser, pcwriter.NewTipCalculator(pcMap))
	default:
		return nil, fmt.Errorf("traceabi: mode %v does not drive a hardware session", cfg.Mode)
	}
}

type session[T any] struct {
	pcMap   *pcmap.Map
	perf    *perf.Session
	manager *taskmanager.Manager[T]
	notify  *notifier.Notifier
	reader  *threadhandle.Handle
	writer  *threadhandle.Handle
	out     *os.File
}

func newSession[T any](
	cfg HardwareConfig,
	pcMap *pcmap.Map,
	newParser func() ptpacket.Parser[T],
	calc pcwriter.Calculator[T],
) (*session[T], error) {
	perfSession, err := perf.Open(perf.Config{
		DataPages: cfg.DataPages,
		AuxPages:  cfg.AuxPages,
		PTWrite:   cfg.Mode == mode.PtWrite,
	}, cfg.CPU)
	if err != nil {
		return nil, err
	}

	out, err := os.Create(filepath.Join(cfg.OutDir, cfg.Mode.TraceFileName()))
	if err != nil {
		perfSession.Close()
		return nil, fmt.Errorf("traceabi: creating trace output: %w", err)
	}

	queue := orderedqueue.New[[]T]()
	manager := taskmanager.New[T](context.Background(), cfg.NumThreads, cfg.MaxTasks, newParser, queue)
	notify := notifier.New()

	s := &session[T]{
		pcMap:   pcMap,
		perf:    perfSession,
		manager: manager,
		notify:  notify,
		out:     out,
	}

	s.reader = threadhandle.Spawn(func(ctx *threadhandle.Context) {
		reader.Run(ctx, reader.Config{MaxTasks: cfg.MaxTasks}, perfSession.View, manager, notify)
	})
	s.writer = threadhandle.Spawn(func(ctx *threadhandle.Context) {
		pcwriter.Run[T](ctx, pcwriter.Config{MaxTasks: cfg.MaxTasks}, out, queue, calc, manager, notify)
	})

	return s, nil
}

func (s *session[T]) insertMapping(hostPC, guestPC uint64) {
	if s.pcMap != nil {
		s.pcMap.Insert(hostPC, guestPC)
	}
}

// startRecording waits for the PC Writer's readiness signal (raised while
// the in-flight task count is below MaxTasks) before enabling the perf
// event, in the place of HardwareTracer::start_recording's wait_for_empty
// call in the original implementation.
func (s *session[T]) startRecording() error {
	s.waitForEmpty()
	return s.perf.Enable()
}

func (s *session[T]) stopRecording() error {
	return s.perf.Disable()
}

func (s *session[T]) waitForEmpty() {
	s.notify.Wait()
}

// taskCount reports the Task Manager's in-flight decode-task count, for
// the periodic session-metrics logging SPEC_FULL.md section 10 adds.
func (s *session[T]) taskCount() uint32 {
	return s.manager.TaskCount()
}

func (s *session[T]) close() error {
	s.reader.Exit()
	s.writer.Exit()

	var errs []error
	if err := s.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.perf.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.out.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("traceabi: closing hardware session: %v", errs)
	}
	return nil
}
