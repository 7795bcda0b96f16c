package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/flowforge/ingestion/pkg/events"
	"github.com/flowforge/ingestion/pkg/logger"
)

// Strategy is a supervision restart policy (§4.6).
type Strategy int

const (
	// OneForOne restarts only the child that crashed.
	OneForOne Strategy = iota
	// OneForAll restarts every child whenever any one of them crashes.
	OneForAll
	// RestForOne restarts the crashed child and every child declared after it.
	RestForOne
)

// child is one supervised unit: a name for logging/events and a run
// function that blocks until its context is canceled or it panics.
type child struct {
	name string
	run  func(ctx context.Context)
}

// Supervisor runs a fixed list of children under one restart Strategy. A
// panic inside a child's run func is recovered at the supervisor boundary
// ("crash" in spec terms) and the policy decides what else gets restarted.
type Supervisor struct {
	name     string
	strategy Strategy
	children []child
	bus      events.Bus

	mu       sync.Mutex
	cancels  []context.CancelFunc
	wg       sync.WaitGroup
	stopping bool
}

// NewSupervisor returns a Supervisor over children, not yet started.
func NewSupervisor(name string, strategy Strategy, bus events.Bus, children []child) *Supervisor {
	return &Supervisor{name: name, strategy: strategy, bus: bus, children: children}
}

// Start launches every child and returns immediately; children run until
// ctx is canceled or Stop is called.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.cancels = make([]context.CancelFunc, len(s.children))
	s.mu.Unlock()

	for i := range s.children {
		s.startChild(ctx, i)
	}
}

func (s *Supervisor) startChild(parentCtx context.Context, idx int) {
	childCtx, cancel := context.WithCancel(parentCtx)

	s.mu.Lock()
	s.cancels[idx] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSupervised(childCtx, idx)
	}()
	s.publish("stage.started", s.children[idx].name)
}

// runSupervised runs one child once, recovering a panic. After a crash it
// applies the restart strategy, which starts the replacement in a new
// goroutine, and returns.
func (s *Supervisor) runSupervised(ctx context.Context, idx int) {
	c := s.children[idx]

	for {
		crashed := s.runOnce(ctx, c)

		s.mu.Lock()
		stopping := s.stopping
		s.mu.Unlock()
		if stopping || ctx.Err() != nil {
			return
		}
		if !crashed {
			return
		}

		s.publish("stage.crashed", c.name)
		s.applyStrategy(ctx, idx)
		s.publish("stage.restarted", c.name)
		return
	}
}

// runOnce runs c.run once, returning true iff it terminated via panic.
func (s *Supervisor) runOnce(ctx context.Context, c child) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			logger.L().ErrorContext(ctx, "pipeline stage crashed",
				"stage", c.name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	c.run(ctx)
	return false
}

// applyStrategy restarts idx and, per strategy, its siblings, replacing
// each restarted child's context (and therefore unblocking anything
// waiting on the old one, such as a downstream Link.Fail).
func (s *Supervisor) applyStrategy(parentCtx context.Context, idx int) {
	switch s.strategy {
	case OneForOne:
		s.restart(parentCtx, idx)
	case OneForAll:
		for i := range s.children {
			s.stopAt(i)
		}
		for i := range s.children {
			s.restart(parentCtx, i)
		}
	case RestForOne:
		for i := idx; i < len(s.children); i++ {
			s.stopAt(i)
		}
		for i := idx; i < len(s.children); i++ {
			s.restart(parentCtx, i)
		}
	}
}

func (s *Supervisor) stopAt(idx int) {
	s.mu.Lock()
	cancel := s.cancels[idx]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Supervisor) restart(parentCtx context.Context, idx int) {
	s.startChild(parentCtx, idx)
}

func (s *Supervisor) publish(eventType, stage string) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(context.Background(), "pipeline.lifecycle", events.Event{
		Type:   eventType,
		Source: s.name,
		Payload: map[string]string{
			"stage": stage,
		},
	})
}

// Stop cancels every child and blocks until they have all returned.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopping = true
	cancels := append([]context.CancelFunc(nil), s.cancels...)
	s.mu.Unlock()

	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
	s.wg.Wait()
}
