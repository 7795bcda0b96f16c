package tests

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowforge/ingestion/pkg/pipeline"
	pmemory "github.com/flowforge/ingestion/pkg/pipeline/drivers/memory"
	"github.com/stretchr/testify/suite"
)

// recordingHandler accumulates every batch handed to handle_batch, keyed by
// publisher key, for assertion after a topology run.
type recordingHandler struct {
	mu      sync.Mutex
	batches map[string][][]*pipeline.Message
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{batches: make(map[string][][]*pipeline.Message)}
}

func (r *recordingHandler) handle(key string, msgs []*pipeline.Message, info pipeline.BatchInfo, userCtx interface{}) (pipeline.Ack, error) {
	r.mu.Lock()
	cp := append([]*pipeline.Message(nil), msgs...)
	r.batches[key] = append(r.batches[key], cp)
	r.mu.Unlock()
	return pipeline.Ack{Successful: msgs}, nil
}

func (r *recordingHandler) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches[key] {
		n += len(b)
	}
	return n
}

func (r *recordingHandler) batchCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches[key])
}

// values flattens every batch recorded for key, in arrival order, for
// assertions on exactly which payloads made it through.
func (r *recordingHandler) values(key string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, b := range r.batches[key] {
		for _, m := range b {
			out = append(out, m.Data.(int))
		}
	}
	return out
}

// PipelineSuite exercises the topology end to end against the in-memory
// source driver.
type PipelineSuite struct {
	suite.Suite
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) TestPoolSizingDefaults() {
	src := pmemory.NewSource()
	handler := newRecordingHandler()

	topo := pipeline.Topology{
		Name: "sizing",
		Producers: []pipeline.ProducerSpec{{
			Group:  "default",
			Driver: src,
		}},
		Processor: pipeline.ProcessorSpec{
			HandleMessage: func(m *pipeline.Message, _ interface{}) (*pipeline.Message, error) { return m, nil },
		},
		Publishers: []pipeline.PublisherSpec{{HandleBatch: handler.handle}},
	}

	running, err := pipeline.NewTopology(topo)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	running.Start(ctx)
	defer running.Stop()

	s.Require().Eventually(func() bool {
		_, ok := running.Registry().Lookup("sizing.Producer_default_1")
		return ok
	}, time.Second, 5*time.Millisecond)

	_, ok := running.Registry().Lookup("sizing.Batcher_default")
	s.True(ok)
	_, ok = running.Registry().Lookup("sizing.Consumer_default_1")
	s.True(ok)
}

func (s *PipelineSuite) TestRoutingByDestinationKey() {
	n := 20
	items := make([]interface{}, n)
	for i := range items {
		items[i] = i
	}
	src := pmemory.NewSource(items...)
	handler := newRecordingHandler()

	topo := pipeline.Topology{
		Name: "routing",
		Producers: []pipeline.ProducerSpec{{
			Group:  "default",
			Driver: src,
		}},
		Processor: pipeline.ProcessorSpec{
			Stages: 4,
			HandleMessage: func(m *pipeline.Message, _ interface{}) (*pipeline.Message, error) {
				if m.Data.(int)%2 == 0 {
					m.Publisher = "even"
				} else {
					m.Publisher = "odd"
				}
				return m, nil
			},
		},
		Publishers: []pipeline.PublisherSpec{
			{Key: "even", HandleBatch: handler.handle, BatchSize: 5, BatchTimeout: 50 * time.Millisecond},
			{Key: "odd", HandleBatch: handler.handle, BatchSize: 5, BatchTimeout: 50 * time.Millisecond},
		},
	}

	running, err := pipeline.NewTopology(topo)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	running.Start(ctx)

	s.Require().Eventually(func() bool {
		return handler.count("even")+handler.count("odd") == n
	}, time.Second, 10*time.Millisecond)

	running.Stop()

	s.Equal(n/2, handler.count("even"))
	s.Equal(n/2, handler.count("odd"))
}

func (s *PipelineSuite) TestBatchSizeGrouping() {
	n := 25
	items := make([]interface{}, n)
	for i := range items {
		items[i] = i
	}
	src := pmemory.NewSource(items...)
	handler := newRecordingHandler()

	topo := pipeline.Topology{
		Name: "batching",
		Producers: []pipeline.ProducerSpec{{
			Group:  "default",
			Driver: src,
		}},
		Processor: pipeline.ProcessorSpec{
			Stages:        2,
			HandleMessage: func(m *pipeline.Message, _ interface{}) (*pipeline.Message, error) { return m, nil },
		},
		Publishers: []pipeline.PublisherSpec{
			{HandleBatch: handler.handle, BatchSize: 10, BatchTimeout: time.Second},
		},
	}

	running, err := pipeline.NewTopology(topo)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	running.Start(ctx)

	s.Require().Eventually(func() bool {
		return handler.count(pipeline.DefaultDestination) == n
	}, 1500*time.Millisecond, 10*time.Millisecond)

	running.Stop()

	// 25 items at batch size 10: two full batches of 10 plus one partial
	// batch of 5, flushed by the timeout.
	s.Equal(3, handler.batchCount(pipeline.DefaultDestination))
}

func (s *PipelineSuite) TestProcessorCrashIsolation() {
	src := pmemory.NewSource()
	handler := newRecordingHandler()

	var crashedOnce atomic.Bool

	topo := pipeline.Topology{
		Name: "crash",
		Producers: []pipeline.ProducerSpec{{
			Group:  "default",
			Driver: src,
		}},
		Processor: pipeline.ProcessorSpec{
			Stages: 1,
			HandleMessage: func(m *pipeline.Message, _ interface{}) (*pipeline.Message, error) {
				if m.Data.(int) == 3 && crashedOnce.CompareAndSwap(false, true) {
					panic("simulated processor fault")
				}
				return m, nil
			},
		},
		Publishers: []pipeline.PublisherSpec{{HandleBatch: handler.handle, BatchSize: 2, BatchTimeout: 50 * time.Millisecond}},
	}

	running, err := pipeline.NewTopology(topo)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	running.Start(ctx)

	var before *pipeline.Handle
	s.Require().Eventually(func() bool {
		h, ok := running.Registry().Lookup("crash.Producer_default_1")
		if !ok {
			return false
		}
		before = h
		return true
	}, time.Second, 5*time.Millisecond)

	src.Push(1, 2)
	s.Require().Eventually(func() bool {
		return handler.count(pipeline.DefaultDestination) == 2
	}, time.Second, 10*time.Millisecond)

	crashed, ok := running.Registry().Lookup("crash.Processor_1")
	s.Require().True(ok)

	// 3 crashes the sole processor worker (one_for_all restarts the whole
	// pool) and is lost with it, as is any message the crashed worker had
	// already taken off its input link; so 4 and 5 are pushed only once the
	// replacement worker has registered. They must still reach handle_batch
	// once the batcher resubscribes to the restarted worker's new output link.
	src.Push(3)
	s.Require().Eventually(func() bool {
		h, ok := running.Registry().Lookup("crash.Processor_1")
		return ok && h.Incarnation != crashed.Incarnation
	}, time.Second, 5*time.Millisecond)

	src.Push(4, 5)
	s.Require().Eventually(func() bool {
		return handler.count(pipeline.DefaultDestination) == 4
	}, 2*time.Second, 10*time.Millisecond)

	// Stop unregisters every stage, so the producer is looked up before it.
	after, ok := running.Registry().Lookup("crash.Producer_default_1")
	s.Require().True(ok)
	s.Equal(before.Incarnation, after.Incarnation, "producer must survive a processor crash untouched")

	running.Stop()

	s.ElementsMatch([]int{1, 2, 4, 5}, handler.values(pipeline.DefaultDestination),
		"3 is lost with the crashed worker, but every other message must still be batched")
}

func (s *PipelineSuite) TestGracefulShutdownAfterTimeoutFlush() {
	n := 7
	items := make([]interface{}, n)
	for i := range items {
		items[i] = i
	}
	src := pmemory.NewSource(items...)
	handler := newRecordingHandler()

	topo := pipeline.Topology{
		Name: "shutdown",
		Producers: []pipeline.ProducerSpec{{
			Group:  "default",
			Driver: src,
		}},
		Processor: pipeline.ProcessorSpec{
			HandleMessage: func(m *pipeline.Message, _ interface{}) (*pipeline.Message, error) { return m, nil },
		},
		Publishers: []pipeline.PublisherSpec{{HandleBatch: handler.handle, BatchSize: 100, BatchTimeout: 100 * time.Millisecond}},
	}

	running, err := pipeline.NewTopology(topo)
	s.Require().NoError(err)

	ctx := context.Background()
	running.Start(ctx)

	s.Require().Eventually(func() bool {
		return handler.count(pipeline.DefaultDestination) == n
	}, time.Second, 10*time.Millisecond)

	running.Stop()
	s.Equal(n, handler.count(pipeline.DefaultDestination))
}

func (s *PipelineSuite) TestAcknowledgerReceivesAllMessages() {
	n := 9
	items := make([]interface{}, n)
	for i := range items {
		items[i] = i
	}
	src := pmemory.NewSource(items...)
	handler := newRecordingHandler()

	topo := pipeline.Topology{
		Name: "ack",
		Producers: []pipeline.ProducerSpec{{
			Group:  "default",
			Driver: src,
		}},
		Processor: pipeline.ProcessorSpec{
			HandleMessage: func(m *pipeline.Message, _ interface{}) (*pipeline.Message, error) { return m, nil },
		},
		Publishers: []pipeline.PublisherSpec{{HandleBatch: handler.handle, BatchSize: 3, BatchTimeout: 50 * time.Millisecond}},
	}

	running, err := pipeline.NewTopology(topo)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	running.Start(ctx)

	s.Require().Eventually(func() bool {
		return handler.count(pipeline.DefaultDestination) == n
	}, time.Second, 10*time.Millisecond)

	running.Stop()

	// Every message is acked once, as successful, through one of the
	// acknowledgers the source attached to the batch's messages.
	handler.mu.Lock()
	defer handler.mu.Unlock()
	seen := make(map[*pmemory.Acknowledger]bool)
	acked := 0
	for _, batch := range handler.batches[pipeline.DefaultDestination] {
		for _, m := range batch {
			a := m.Acknowledger.(*pmemory.Acknowledger)
			if !seen[a] {
				seen[a] = true
				acked += len(a.Successful())
			}
		}
	}
	s.Equal(n, acked)
}

func (s *PipelineSuite) TestInvalidConfigRejected() {
	_, err := pipeline.NewTopology(pipeline.Topology{})
	s.Error(err)

	_, err = pipeline.NewTopology(pipeline.Topology{
		Producers: []pipeline.ProducerSpec{{Driver: pmemory.NewSource()}, {Driver: pmemory.NewSource()}},
		Processor: pipeline.ProcessorSpec{HandleMessage: func(m *pipeline.Message, _ interface{}) (*pipeline.Message, error) { return m, nil }},
	})
	s.Error(err)

	_, err = pipeline.NewTopology(pipeline.Topology{
		Producers: []pipeline.ProducerSpec{{Driver: pmemory.NewSource()}},
		Processor: pipeline.ProcessorSpec{HandleMessage: func(m *pipeline.Message, _ interface{}) (*pipeline.Message, error) { return m, nil }},
		Publishers: []pipeline.PublisherSpec{
			{Key: "dup", HandleBatch: func(string, []*pipeline.Message, pipeline.BatchInfo, interface{}) (pipeline.Ack, error) {
				return pipeline.Ack{}, nil
			}},
			{Key: "dup", HandleBatch: func(string, []*pipeline.Message, pipeline.BatchInfo, interface{}) (pipeline.Ack, error) {
				return pipeline.Ack{}, nil
			}},
		},
	})
	s.Error(err)
}

func (s *PipelineSuite) TestNonSlugDestinationKeyRejected() {
	_, err := pipeline.NewTopology(pipeline.Topology{
		Producers: []pipeline.ProducerSpec{{Group: "default", Driver: pmemory.NewSource()}},
		Processor: pipeline.ProcessorSpec{HandleMessage: func(m *pipeline.Message, _ interface{}) (*pipeline.Message, error) { return m, nil }},
		Publishers: []pipeline.PublisherSpec{
			{Key: "Not_A_Slug", HandleBatch: func(string, []*pipeline.Message, pipeline.BatchInfo, interface{}) (pipeline.Ack, error) {
				return pipeline.Ack{}, nil
			}},
		},
	})
	s.Error(err)
}
