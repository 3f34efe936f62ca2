// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// TaskError is a task's failure, or its recovered panic, labelled with
// the task's name.
type TaskError struct {
	Task  string
	Err   error
	Panic bool
}

func (e *TaskError) Error() string {
	if e.Panic {
		return fmt.Sprintf("task %s panicked: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// group runs named tasks sharing one cancellable context. The first
// failing task cancels the context with its error as the cause; Wait
// still joins every task.
type group struct {
	cancel context.CancelCauseFunc
	logger *slog.Logger

	wait sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

func newGroup(cancel context.CancelCauseFunc, logger *slog.Logger) *group {
	return &group{cancel: cancel, logger: logger}
}

// Go starts fn as task name.
func (g *group) Go(name string, fn func() error) {
	g.wait.Add(1)
	go func() {
		defer g.wait.Done()
		if err := g.call(name, fn); err != nil {
			g.mu.Lock()
			g.errs = append(g.errs, err)
			g.mu.Unlock()
			g.cancel(err)
		}
	}()
}

func (g *group) call(name string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			g.logger.Error("task panicked",
				"task", name,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			err = &TaskError{Task: name, Err: fmt.Errorf("%v", recovered), Panic: true}
		}
	}()
	if err := fn(); err != nil {
		g.logger.Error("task failed", "task", name, "error", err)
		return &TaskError{Task: name, Err: err}
	}
	g.logger.Debug("task finished", "task", name)
	return nil
}

// Wait joins every task and returns their errors joined.
func (g *group) Wait() error {
	g.wait.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}
