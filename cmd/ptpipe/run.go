package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ptpipe/ptpipe/common/go/xcmd"
	"github.com/ptpipe/ptpipe/internal/config"
	"github.com/ptpipe/ptpipe/internal/mode"
	"github.com/ptpipe/ptpipe/pkg/traceabi"
)

// metricsInterval is how often run logs session metrics while a live
// capture is in progress (SPEC_FULL.md section 10's supplemented
// structured-metrics feature).
const metricsInterval = 5 * time.Second

func runLive(cfg config.Config, logger *zap.SugaredLogger) error {
	m, err := mode.Parse(cfg.Mode)
	if err != nil {
		return err
	}

	state := traceabi.New(logger)
	if err := state.SetMode(traceabi.Config{
		Mode:       m,
		OutDir:     cfg.OutDir,
		CPU:        -1,
		DataPages:  cfg.DataPages,
		AuxPages:   cfg.AuxPages,
		NumThreads: cfg.NumThreads,
		MaxTasks:   cfg.MaxTasks,
	}); err != nil {
		return err
	}

	if err := state.StartRecording(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if m.IsHardware() {
		go logMetrics(ctx, state, logger)
	}

	waitErr := xcmd.WaitInterrupted(ctx)

	if err := state.StopRecording(); err != nil {
		logger.Errorw("failed to stop recording", "error", err)
	}
	if err := state.Exit(); err != nil {
		logger.Errorw("failed to exit session cleanly", "error", err)
	}

	return waitErr
}

func logMetrics(ctx context.Context, state *traceabi.State, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if taskCount, ok := state.Stats(); ok {
				logger.Infow("session metrics", "in_flight_tasks", taskCount)
			}
		}
	}
}
