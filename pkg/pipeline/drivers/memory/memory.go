// Package memory provides an in-memory ProducerDriver and Acknowledger,
// useful for tests and local demos of a topology with no external broker.
package memory

import (
	"sync"

	"github.com/flowforge/ingestion/pkg/pipeline"
)

// Source is a fixed or appendable in-memory sequence of payloads. It
// implements pipeline.ProducerDriver, handing out up to n payloads per
// HandleDemand call in FIFO order.
type Source struct {
	mu      sync.Mutex
	pending []interface{}
}

// NewSource returns a Source preloaded with items.
func NewSource(items ...interface{}) *Source {
	return &Source{pending: append([]interface{}(nil), items...)}
}

// Push appends items to the source, visible to the next HandleDemand call.
func (s *Source) Push(items ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, items...)
}

// Init returns the driver's own state; Source keeps its state in itself, so
// the returned state is unused and always nil.
func (s *Source) Init(args interface{}) (interface{}, error) {
	return nil, nil
}

// HandleDemand hands out up to n queued payloads, wrapping each in a
// *pipeline.Message acknowledged by one *Acknowledger created for this call.
func (s *Source) HandleDemand(n int, state interface{}) ([]*pipeline.Message, interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil, state, nil
	}

	take := n
	if take > len(s.pending) {
		take = len(s.pending)
	}

	batch := s.pending[:take]
	s.pending = s.pending[take:]

	ack := &Acknowledger{}
	msgs := make([]*pipeline.Message, take)
	for i, item := range batch {
		msgs[i] = pipeline.NewMessage(item, ack, nil)
	}
	return msgs, state, nil
}

// Acknowledger records every successful and failed message handed to it,
// for test assertions. It never retries; a real source-backed driver would
// replace this with one that nacks failed messages back to its origin.
type Acknowledger struct {
	mu         sync.Mutex
	successful []*pipeline.Message
	failed     []*pipeline.Message
}

// ID is the same for every memory Acknowledger, so adjacent messages from
// different HandleDemand calls are acked together through one of them.
func (a *Acknowledger) ID() string {
	return "memory.Acknowledger"
}

// Ack records the successful/failed split for later inspection.
func (a *Acknowledger) Ack(successful, failed []*pipeline.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successful = append(a.successful, successful...)
	a.failed = append(a.failed, failed...)
}

// Successful returns every message acked as successful so far.
func (a *Acknowledger) Successful() []*pipeline.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*pipeline.Message(nil), a.successful...)
}

// Failed returns every message acked as failed so far.
func (a *Acknowledger) Failed() []*pipeline.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*pipeline.Message(nil), a.failed...)
}
