// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package synchronizer

import (
	"fmt"
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

// PanicError is returned by MultiErrGroup when a task panicked
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// MultiErrGroup is a wait group struct similar to errgroup.Group
// but collects all errors and supports limiting concurrency.
// A panicking task does not take the others down; the panic is
// returned from Wait as a *PanicError
type MultiErrGroup struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	errors []error
	sem    chan struct{}
}

// SetLimit sets the maximum number of goroutines that can run concurrently.
// Should be called before any Go() calls.
func (g *MultiErrGroup) SetLimit(n int) {
	if n > 0 {
		g.sem = make(chan struct{}, n)
	}
}

func (g *MultiErrGroup) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errors = append(g.errors, err)
}

// Go starts a goroutine and captures any returned error.
func (g *MultiErrGroup) Go(f func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		// Acquire a token if limiting is enabled
		if g.sem != nil {
			g.sem <- struct{}{}
			defer func() { <-g.sem }()
		}

		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				log.Errorf("recovered from panic: %v\n%s", r, stack)
				g.record(&PanicError{Value: r, Stack: stack})
			}
		}()

		if err := f(); err != nil {
			g.record(err)
		}
	}()
}

// Wait blocks until all goroutines have finished and returns all collected errors.
func (g *MultiErrGroup) Wait() []error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.errors) == 0 {
		return nil
	}
	return g.errors
}
