package pipeline

import (
	"context"

	"github.com/flowforge/ingestion/pkg/events"
	memevents "github.com/flowforge/ingestion/pkg/events/adapters/memory"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/flowforge/ingestion/pkg/pipeline")

// Running is a started Topology: the live registry, the root supervisor,
// and the lifecycle event bus.
type Running struct {
	name     string
	registry *Registry
	bus      events.Bus
	root     *Supervisor

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTopology validates t and returns a Running instance not yet started.
// Configuration errors (§7 taxonomy #1) surface here, before any stage runs.
func NewTopology(t Topology) (*Running, error) {
	norm, err := t.validate()
	if err != nil {
		return nil, err
	}

	bus := memevents.New()
	registry := NewRegistry()

	root := buildRootSupervisor(norm, registry, bus)

	return &Running{
		name:     norm.name,
		registry: registry,
		bus:      bus,
		root:     root,
	}, nil
}

// Start launches the topology's three-tier supervision tree and returns
// without waiting for the stages to come up (they register themselves as
// they start); the topology continues running in the background until
// Stop is called or ctx is canceled.
func (r *Running) Start(ctx context.Context) {
	_, span := tracer.Start(ctx, "pipeline.start")
	defer span.End()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	r.root.Start(runCtx)
	r.publish("topology.started")

	go func() {
		<-runCtx.Done()
		close(r.done)
	}()
}

// Stop requests an ordered shutdown: every stage drains its current event
// then exits (§4.6). There is no upper time bound on the drain in this
// core (§9 design note).
func (r *Running) Stop() {
	_, span := tracer.Start(context.Background(), "pipeline.stop")
	defer span.End()

	if r.cancel != nil {
		r.cancel()
	}
	r.root.Stop()
	r.publish("topology.shutdown")
}

// Registry exposes the stage registry for administrative introspection
// and test assertions (§6 "locate any stage by name").
func (r *Running) Registry() *Registry {
	return r.registry
}

// Events exposes the in-process lifecycle bus (stage.started,
// stage.crashed, stage.restarted, topology.started, topology.shutdown).
func (r *Running) Events() events.Bus {
	return r.bus
}

func (r *Running) publish(eventType string) {
	_ = r.bus.Publish(context.Background(), "pipeline.lifecycle", events.Event{
		Type:   eventType,
		Source: r.name,
	})
}

// buildRootSupervisor assembles TopologyRoot (one_for_one) over the
// producer, processor, and publisher supervisors (§2 diagram).
func buildRootSupervisor(norm *normalized, registry *Registry, bus events.Bus) *Supervisor {
	wiring := newTopologyWiring(norm, registry, bus)

	rootChildren := []child{
		asSupervisedChild(norm.name+".ProducerSupervisor",
			NewSupervisor(norm.name+".ProducerSupervisor", OneForOne, bus, wiring.producerChildren())),
		asSupervisedChild(norm.name+".ProcessorSupervisor",
			NewSupervisor(norm.name+".ProcessorSupervisor", OneForAll, bus, wiring.processorChildren())),
		asSupervisedChild(norm.name+".PublisherSupervisor",
			NewSupervisor(norm.name+".PublisherSupervisor", OneForOne, bus, wiring.publisherChildren())),
	}

	return NewSupervisor(norm.name+".TopologyRoot", OneForOne, bus, rootChildren)
}

// asSupervisedChild wraps a nested Supervisor as a single child of its
// parent: starting it, blocking until the parent cancels its context, then
// stopping it. A panic inside sub.Start/sub.Stop themselves (not inside
// one of its own children, which it recovers internally) is recovered by
// the parent like any other child crash and restarted under the parent's
// strategy; it does not stop the topology.
func asSupervisedChild(name string, sub *Supervisor) child {
	return child{
		name: name,
		run: func(ctx context.Context) {
			sub.Start(ctx)
			<-ctx.Done()
			sub.Stop()
		},
	}
}

// topologyWiring holds every edge (channel-backed Link) between stages,
// built once at topology construction so that stage identity (name) stays
// stable across restarts while the underlying Link objects are recreated
// only where the spec requires it (processor pool restarts; see edge.go).
type topologyWiring struct {
	norm     *normalized
	registry *Registry
	bus      events.Bus

	producerToProcessor [][]*Link[*Message]          // [producerIdx][processorIdx], fixed for topology lifetime
	processorToBatcher  map[string][]*edge[*Message] // key -> [processorIdx], recreated on processor restart
	batcherToConsumer   map[string][]*Link[batchEvent]
}

func newTopologyWiring(norm *normalized, registry *Registry, bus events.Bus) *topologyWiring {
	w := &topologyWiring{
		norm:               norm,
		registry:           registry,
		bus:                bus,
		processorToBatcher: make(map[string][]*edge[*Message]),
		batcherToConsumer:  make(map[string][]*Link[batchEvent]),
	}

	N := norm.producer.Stages
	M := norm.processor.Stages

	w.producerToProcessor = make([][]*Link[*Message], N)
	for p := 0; p < N; p++ {
		w.producerToProcessor[p] = make([]*Link[*Message], M)
		for j := 0; j < M; j++ {
			w.producerToProcessor[p][j] = NewLink[*Message](norm.processor.DemandConfig, "")
		}
	}

	for _, key := range norm.publisherKs {
		spec := norm.publishers[key]

		edges := make([]*edge[*Message], M)
		for j := 0; j < M; j++ {
			edges[j] = newEdge[*Message](NewLink[*Message](spec.DemandConfig, key))
		}
		w.processorToBatcher[key] = edges

		consumerLinks := make([]*Link[batchEvent], spec.Stages)
		for c := 0; c < spec.Stages; c++ {
			consumerLinks[c] = NewLink[batchEvent](spec.DemandConfig, "")
		}
		w.batcherToConsumer[key] = consumerLinks
	}

	return w
}

func (w *topologyWiring) producerChildren() []child {
	norm := w.norm
	N := norm.producer.Stages
	children := make([]child, N)

	for p := 0; p < N; p++ {
		p := p
		name := producerName(norm.name, norm.producer.Group, p, N)
		children[p] = child{
			name: name,
			run: func(ctx context.Context) {
				stage, err := newProducerStage(name, norm.producer.Driver, norm.producer.Args)
				if err != nil {
					panic(err)
				}
				w.registry.Register(name)
				defer w.registry.Unregister(name)
				stage.run(ctx, w.producerToProcessor[p])
			},
		}
	}
	return children
}

func (w *topologyWiring) processorChildren() []child {
	norm := w.norm
	M := norm.processor.Stages
	children := make([]child, M)

	for j := 0; j < M; j++ {
		j := j
		name := processorName(norm.name, j, M)
		children[j] = child{
			name: name,
			run: func(ctx context.Context) {
				N := norm.producer.Stages
				inputs := make([]*Link[*Message], N)
				for p := 0; p < N; p++ {
					inputs[p] = w.producerToProcessor[p][j]
				}

				outputs := make(map[string]*Link[*Message], len(norm.publisherKs))
				for _, key := range norm.publisherKs {
					link := NewLink[*Message](norm.publishers[key].DemandConfig, key)
					w.processorToBatcher[key][j].set(link)
					outputs[key] = link
				}

				w.registry.Register(name)
				defer w.registry.Unregister(name)

				worker := newProcessorWorker(name, norm.processor.HandleMessage, norm.userCtx, inputs, outputs)
				worker.run(ctx)
			},
		}
	}
	return children
}

func (w *topologyWiring) publisherChildren() []child {
	norm := w.norm
	children := make([]child, 0, len(norm.publisherKs))

	for _, key := range norm.publisherKs {
		key := key
		spec := norm.publishers[key]
		destName := norm.name + ".DestSupervisor_" + key

		batcherStageName := batcherName(norm.name, key)
		consumerSupName := norm.name + ".ConsumerSupervisor_" + key

		batcherChild := child{
			name: batcherStageName,
			run: func(ctx context.Context) {
				M := norm.processor.Stages
				refs := make(map[string]*Link[*Message], M)
				for j := 0; j < M; j++ {
					link := w.processorToBatcher[key][j].get()
					if link != nil && !link.Failed() {
						refs[processorName(norm.name, j, M)] = link
					}
				}

				resub := func(workerName string) (*Link[*Message], bool) {
					for j := 0; j < M; j++ {
						if processorName(norm.name, j, M) != workerName {
							continue
						}
						link := w.processorToBatcher[key][j].get()
						if link == nil || link.Failed() {
							return nil, false
						}
						return link, true
					}
					return nil, false
				}

				w.registry.Register(batcherStageName)
				defer w.registry.Unregister(batcherStageName)

				stage := newBatcherStage(batcherStageName, key, spec.BatchSize, spec.BatchTimeout, resub, w.batcherToConsumer[key])
				stage.run(ctx, refs)
			},
		}

		consumerChildren := make([]child, spec.Stages)
		for c := 0; c < spec.Stages; c++ {
			c := c
			name := consumerName(norm.name, key, c, spec.Stages)
			link := w.batcherToConsumer[key][c]
			consumerChildren[c] = child{
				name: name,
				run: func(ctx context.Context) {
					w.registry.Register(name)
					defer w.registry.Unregister(name)
					worker := newConsumerWorker(name, key, spec.HandleBatch, norm.userCtx, link)
					worker.run(ctx)
				},
			}
		}

		consumerPoolChild := asSupervisedChild(consumerSupName,
			NewSupervisor(consumerSupName, OneForOne, w.bus, consumerChildren))

		destSub := NewSupervisor(destName, RestForOne, w.bus, []child{batcherChild, consumerPoolChild})
		children = append(children, asSupervisedChild(destName, destSub))
	}

	return children
}
