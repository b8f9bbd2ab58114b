package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"

	"github.com/ptpipe/ptpipe/internal/config"
	"github.com/ptpipe/ptpipe/internal/mode"
	"github.com/ptpipe/ptpipe/internal/notifier"
	"github.com/ptpipe/ptpipe/internal/orderedqueue"
	"github.com/ptpipe/ptpipe/internal/pcmap"
	"github.com/ptpipe/ptpipe/internal/pcwriter"
	"github.com/ptpipe/ptpipe/internal/ptpacket"
	"github.com/ptpipe/ptpipe/internal/taskmanager"
	"github.com/ptpipe/ptpipe/internal/threadhandle"
)

// runDecode feeds a raw AUX dump file through the same Task Manager and
// PC Writer the live-capture path uses (SPEC_FULL.md 6.5), minus the
// Reader Thread: there is no kernel ring buffer to poll, so the whole
// file is handed to the Task Manager's callback in one terminating call.
func runDecode(cfg config.Config, inputPath string, logger *zap.SugaredLogger) error {
	m, err := mode.Parse(cfg.Mode)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("decode: reading %s: %w", inputPath, err)
	}

	switch m {
	case mode.PtWrite:
		newParser := func() ptpacket.Parser[uint64] { return ptpacket.NewPtwParser() }
		return decodeWith[uint64](cfg, m, data, newParser, pcwriter.PtwCalculator{}, logger)
	case mode.Tip, mode.Fup:
		pcMap := pcmap.New()
		newParser := func() ptpacket.Parser[ptpacket.TipEntry] { return ptpacket.NewTipFupParser() }
		return decodeWith[ptpacket.TipEntry](cfg, m, data, newParser, pcwriter.NewTipCalculator(pcMap), logger)
	default:
		return fmt.Errorf("decode: mode %v has no hardware decode pipeline", m)
	}
}

func decodeWith[T any](
	cfg config.Config,
	m mode.Mode,
	data []byte,
	newParser func() ptpacket.Parser[T],
	calc pcwriter.Calculator[T],
	logger *zap.SugaredLogger,
) error {
	out, err := os.Create(filepath.Join(cfg.OutDir, m.TraceFileName()))
	if err != nil {
		return fmt.Errorf("decode: creating trace output: %w", err)
	}

	queue := orderedqueue.New[[]T]()
	notify := notifier.New()
	manager := taskmanager.New[T](context.Background(), cfg.NumThreads, cfg.MaxTasks, newParser, queue)

	writer := threadhandle.Spawn(func(ctx *threadhandle.Context) {
		if err := pcwriter.Run[T](ctx, pcwriter.Config{MaxTasks: cfg.MaxTasks}, out, queue, calc, manager, notify); err != nil {
			logger.Errorw("pcwriter exited with an error", "error", err)
		}
	})

	consumed := manager.Callback(true)(data)
	if fatal := manager.FatalErr(); fatal != nil {
		writer.Exit()
		out.Close()
		return fatal
	}
	if consumed != len(data) {
		logger.Warnw("trailing bytes left undecoded", "consumed", consumed, "total", len(data))
	}

	for manager.TaskCount() > 0 || !queue.IsEmpty() {
		runtime.Gosched()
	}

	writer.Exit()

	if err := manager.Close(); err != nil {
		return err
	}
	return out.Close()
}
