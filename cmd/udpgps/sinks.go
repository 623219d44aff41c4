package main

import (
	"context"
	"sync"
)

// sinks runs the optional feed consumers on a context of their own, so every
// return path of listen stops them. Their connections close only after the
// goroutines have done their final flush.
type sinks struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []func()
}

func newSinks(parent context.Context) *sinks {
	s := &sinks{}
	s.ctx, s.cancel = context.WithCancel(parent)
	return s
}

func (s *sinks) run(fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *sinks) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

func (s *sinks) shutdown() {
	s.cancel()
	s.wg.Wait()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
