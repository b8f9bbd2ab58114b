// Package reader implements the Reader Thread (C8): it owns the perf
// file descriptor and the AUX Ring View, repeatedly pulls bytes and
// forwards them to the Task Manager, respects Task-Manager backpressure,
// and performs the final drain on shutdown.
package reader

import (
	"runtime"

	"github.com/ptpipe/ptpipe/internal/notifier"
	"github.com/ptpipe/ptpipe/internal/threadhandle"
)

// Callback abstracts the Task Manager surface the Reader needs: a
// one-shot dispatch closure factory, the in-flight task count, and the
// first fatal error recorded by any dispatched task.
type Callback interface {
	Callback(terminating bool) func([]byte) int
	TaskCount() uint32
	FatalErr() error
}

// RingView abstracts the AUX Ring View surface the Reader needs, so tests
// can exercise the main loop without real mmap'd kernel memory; *ringbuf.View
// satisfies this directly.
type RingView interface {
	Next(callback func([]byte) int) (int, error)
}

// Config bounds the Reader's backpressure wait.
type Config struct {
	// MaxTasks is the in-flight task count at or above which the Reader
	// waits on readyNotifier before dispatching more work. Default,
	// matching spec.md 4.6, is NUM_THREADS * 4096.
	MaxTasks uint32
}

// Run drives the Reader Thread main loop on the calling goroutine. It
// blocks until ctx (via threadhandle.Context) signals exit and the final
// drain completes. readyNotifier is raised by the PC Writer and is the
// sole backpressure signal the Reader waits on (spec.md section 9's
// resolved Open Question).
func Run(ctx *threadhandle.Context, cfg Config, view RingView, tasks Callback, readyNotifier *notifier.Notifier) error {
	ctx.Ready()

	terminating := false
	for {
		if !terminating && tasks.TaskCount() >= cfg.MaxTasks {
			readyNotifier.Wait()
		}

		consumed, err := view.Next(tasks.Callback(terminating))
		if err != nil {
			return err
		}
		if err := tasks.FatalErr(); err != nil {
			return err
		}

		if consumed == 0 {
			if terminating {
				return nil
			}
			if ctx.ReceivedExit() {
				terminating = true
				continue
			}
			runtime.Gosched()
		}
	}
}
