// Package taskmanager implements the Task Manager (C6): it chunks
// sync-aligned ranges handed to it by the AUX Ring View, assigns dense
// strictly-increasing sequence numbers, and dispatches decode tasks onto
// a fixed-size worker pool supervised by an errgroup, tracking the
// in-flight task count the PC Writer's backpressure decision reads.
package taskmanager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ptpipe/ptpipe/internal/ptpacket"
	"github.com/ptpipe/ptpipe/internal/syncfinder"
)

// Queue is the minimal interface the Ordered Queue (C3) exposes to the
// Task Manager: many-writer Send of a finished batch.
type Queue[T any] interface {
	Send(seq uint64, payload []T)
}

// Manager drives the parallel decode stage for one concrete processed
// packet type T, produced by parser instances built from newParser.
type Manager[T any] struct {
	queue     Queue[T]
	newParser func() ptpacket.Parser[T]

	seq       uint64 // owned solely by the Reader goroutine that calls Callback
	taskCount atomic.Uint32

	tasks chan func()
	eg    *errgroup.Group

	fatalMu sync.Mutex
	fatal   error
}

// New constructs a Manager with numThreads pool workers run under an
// errgroup derived from ctx, which Close waits on. Workers always return
// nil; a decode error is recorded for FatalErr instead, and the other
// workers keep running.
//
// maxTasks sizes the internal dispatch channel: it must match the
// Reader's own MaxTasks backpressure threshold, so that the channel send
// in spawn (which runs synchronously inside the Reader's Callback call)
// never blocks before TaskCount reaches MaxTasks. A smaller channel would
// add a second, undocumented suspension point alongside the backpressure
// Notifier, which spec.md section 5 reserves as the Reader's only wait.
func New[T any](ctx context.Context, numThreads int, maxTasks uint32, newParser func() ptpacket.Parser[T], queue Queue[T]) *Manager[T] {
	eg, _ := errgroup.WithContext(ctx)

	m := &Manager[T]{
		queue:     queue,
		newParser: newParser,
		tasks:     make(chan func(), maxTasks),
		eg:        eg,
	}

	for i := 0; i < numThreads; i++ {
		eg.Go(m.workerLoop)
	}

	return m
}

func (m *Manager[T]) workerLoop() error {
	for task := range m.tasks {
		task()
	}
	return nil
}

// TaskCount returns the number of decode tasks currently in flight.
func (m *Manager[T]) TaskCount() uint32 {
	return m.taskCount.Load()
}

// FatalErr returns the first fatal error recorded by a dispatched task or
// by Callback itself, if any.
func (m *Manager[T]) FatalErr() error {
	m.fatalMu.Lock()
	defer m.fatalMu.Unlock()
	return m.fatal
}

func (m *Manager[T]) setFatal(err error) {
	m.fatalMu.Lock()
	defer m.fatalMu.Unlock()
	if m.fatal == nil {
		m.fatal = err
	}
}

// Callback returns the one-shot closure to be passed to AUX Ring
// View.Next. It finds the first sync-aligned range in buf via the Sync
// Finder, submits an owned copy to the worker pool under a freshly
// assigned sequence number, and returns the number of bytes consumed.
//
//   - NoSync is fatal: the reader must always observe at least one PSB
//     once the kernel has produced enough data for a full region.
//   - OneSync and not terminating: returns 0 (request more data); the
//     caller (AUX Ring View) does not advance aux_tail.
//   - OneSync and terminating: the whole trailing range is consumed as
//     the final chunk, accepting a region with no closing PSB.
func (m *Manager[T]) Callback(terminating bool) func([]byte) int {
	return func(buf []byte) int {
		if len(buf) == 0 {
			return 0
		}

		res := syncfinder.FindSyncRange(buf)
		switch res.Kind {
		case syncfinder.NoSync:
			m.setFatal(fmt.Errorf("taskmanager: no PSB found in a %d-byte region", len(buf)))
			return 0

		case syncfinder.OneSync:
			if !terminating {
				return 0
			}
			m.spawn(buf[res.Start:])
			return len(buf)

		default: // Ok
			m.spawn(buf[res.Start:res.End])
			return res.End
		}
	}
}

func (m *Manager[T]) spawn(region []byte) {
	owned := make([]byte, len(region))
	copy(owned, region)

	seq := m.seq
	m.seq++
	m.taskCount.Add(1)

	m.tasks <- func() {
		defer m.taskCount.Add(^uint32(0))

		parser := m.newParser()
		dec := ptpacket.NewDecoder(owned)

		for {
			p, err := dec.Next()
			if err == ptpacket.ErrEndOfStream {
				break
			}
			if err != nil {
				m.setFatal(fmt.Errorf("taskmanager: decoding sequence %d: %w", seq, err))
				break
			}
			parser.Process(p)
		}

		m.queue.Send(seq, parser.Finish())
	}
}

// Close stops accepting new tasks and waits for the pool to drain.
func (m *Manager[T]) Close() error {
	close(m.tasks)
	return m.eg.Wait()
}
