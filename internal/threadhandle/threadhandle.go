// Package threadhandle wraps a worker goroutine with a ready-handshake and
// an exit-signal channel, mirroring the ready/exit rendezvous the reader
// and writer threads in the original pipeline use around their OS-level
// setup (mmaps, the perf file descriptor).
package threadhandle

import "sync"

// Context is handed to the worker function. The worker calls Ready once
// its OS-level resources are installed, and polls ReceivedExit to learn
// whether it should wind down.
type Context struct {
	ready    chan struct{}
	readyOne sync.Once

	exit    chan struct{}
	exitOne sync.Once
}

func newContext() *Context {
	return &Context{
		ready: make(chan struct{}),
		exit:  make(chan struct{}),
	}
}

// Ready signals that the worker has finished setup. Calling it more than
// once is a no-op: the rendezvous is one-shot.
func (c *Context) Ready() {
	c.readyOne.Do(func() { close(c.ready) })
}

// ReceivedExit reports, without blocking, whether Exit has been signaled.
func (c *Context) ReceivedExit() bool {
	select {
	case <-c.exit:
		return true
	default:
		return false
	}
}

// ExitSignal returns the channel that closes when Exit is called, for use
// in a select alongside other blocking operations.
func (c *Context) ExitSignal() <-chan struct{} {
	return c.exit
}

func (c *Context) signalExit() {
	c.exitOne.Do(func() { close(c.exit) })
}

// Handle is a spawned worker: Exit signals it to wind down and waits for
// it to return.
type Handle struct {
	ctx *Context
	wg  sync.WaitGroup
}

// Spawn starts f in a new goroutine and blocks until f calls Ready on its
// Context. This rendezvous prevents the caller from observing a Handle
// before the worker has installed whatever OS-level resources it owns.
func Spawn(f func(ctx *Context)) *Handle {
	ctx := newContext()
	h := &Handle{ctx: ctx}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		f(ctx)
	}()

	<-ctx.ready
	return h
}

// Exit sends the one-shot exit signal and joins the worker.
func (h *Handle) Exit() {
	h.ctx.signalExit()
	h.wg.Wait()
}
