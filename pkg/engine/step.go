package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// StepCommand is an operator decision for the node the engine waits on.
type StepCommand string

const (
	StepContinue StepCommand = "continue"
	StepSkip     StepCommand = "skip"
	StepStop     StepCommand = "stop"
)

var (
	ErrNotWaiting = errors.New("execution is not waiting for a step command")
	ErrStopped    = errors.New("execution was stopped")
)

// StepController lets an operator drive an execution. While paused the
// engine waits for a command before each node; Stop halts scheduling in any
// mode. Every execution gets one, so Stop works for regular runs too.
//
// Nodes of one scope may wait at the same time. Commands go to the oldest
// waiter.
type StepController struct {
	mu       sync.Mutex
	paused   bool
	waiters  []*waiter
	stopped  chan struct{}
	stopOnce sync.Once
}

type waiter struct {
	nodeID   string
	commands chan StepCommand
}

// NewStepController returns a controller; paused=true starts the execution
// in step mode.
func NewStepController(paused bool) *StepController {
	return &StepController{
		paused:  paused,
		stopped: make(chan struct{}),
	}
}

// Pause switches to step mode from the next node on.
func (s *StepController) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = true
}

// Resume leaves step mode and releases every waiting node.
func (s *StepController) Resume() {
	s.mu.Lock()
	s.paused = false
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		w.commands <- StepContinue
	}
}

// Continue runs the node the engine has waited on longest.
func (s *StepController) Continue() error {
	return s.send(StepContinue)
}

// Skip marks the longest waiting node skipped without running it.
func (s *StepController) Skip() error {
	return s.send(StepSkip)
}

func (s *StepController) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *StepController) Stopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

// Waiting returns the id of the node next in line for a command, or "".
func (s *StepController) Waiting() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.waiters) == 0 {
		return ""
	}

	return s.waiters[0].nodeID
}

// Waiters returns the ids of every waiting node, oldest first.
func (s *StepController) Waiters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.waiters))
	for _, w := range s.waiters {
		ids = append(ids, w.nodeID)
	}

	return ids
}

func (s *StepController) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.paused
}

func (s *StepController) send(cmd StepCommand) error {
	if s.Stopped() {
		return ErrStopped
	}

	s.mu.Lock()
	if len(s.waiters) == 0 {
		s.mu.Unlock()

		return ErrNotWaiting
	}

	w := s.waiters[0]
	s.waiters = s.waiters[1:]
	s.mu.Unlock()

	w.commands <- cmd

	return nil
}

// await blocks until the node may proceed. It returns StepStop once the
// controller is stopped or ctx is done.
func (s *StepController) await(ctx context.Context, nodeID string) StepCommand {
	if s.Stopped() || ctx.Err() != nil {
		return StepStop
	}

	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()

		return StepContinue
	}

	// Buffered so senders never block on a waiter that already left.
	w := &waiter{nodeID: nodeID, commands: make(chan StepCommand, 1)}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case cmd := <-w.commands:
		return cmd
	case <-s.stopped:
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.waiters = slices.DeleteFunc(s.waiters, func(other *waiter) bool { return other == w })
	s.mu.Unlock()

	return StepStop
}

// Controls tracks the controllers of running executions.
type Controls struct {
	mu      sync.RWMutex
	running map[string]*StepController
}

func NewControls() *Controls {
	return &Controls{running: make(map[string]*StepController)}
}

func (c *Controls) register(executionID string, ctrl *StepController) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running[executionID] = ctrl
}

func (c *Controls) remove(executionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.running, executionID)
}

// Get returns the controller of a running execution.
func (c *Controls) Get(executionID string) (*StepController, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctrl, ok := c.running[executionID]

	return ctrl, ok
}
