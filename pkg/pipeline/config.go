package pipeline

import (
	"runtime"
	"time"

	"github.com/flowforge/ingestion/pkg/errors"
	"github.com/flowforge/ingestion/pkg/validator"
)

var nameValidator = validator.New()

const (
	defaultMinDemand    = 5
	defaultMaxDemand    = 10
	defaultBatchSize    = 100
	defaultBatchTimeout = time.Second
	defaultProducerN    = 1
	defaultConsumerN    = 1
)

// DemandConfig carries the low/high water marks for pull credit on one
// subscriber edge.
type DemandConfig struct {
	// MinDemand is the outstanding-credit floor that triggers replenishment.
	MinDemand int
	// MaxDemand is the credit granted on subscribe and on replenishment.
	MaxDemand int
}

func (d DemandConfig) withDefaults() DemandConfig {
	if d.MaxDemand <= 0 {
		d.MaxDemand = defaultMaxDemand
	}
	if d.MinDemand <= 0 {
		d.MinDemand = defaultMinDemand
	}
	if d.MinDemand > d.MaxDemand {
		d.MinDemand = d.MaxDemand
	}
	return d
}

// ProducerDriver is the user-supplied source adapter contract.
type ProducerDriver interface {
	// Init returns the driver's initial state.
	Init(args interface{}) (interface{}, error)

	// HandleDemand returns at most n events, given the current state, and
	// the state to carry forward. Called whenever downstream demand exists.
	HandleDemand(n int, state interface{}) ([]*Message, interface{}, error)
}

// ProducerSpec configures one named producer group.
type ProducerSpec struct {
	// Group names this producer group; it appears in derived stage names.
	Group string
	// Driver is the user-supplied source adapter.
	Driver ProducerDriver
	// Args is passed to Driver.Init.
	Args interface{}
	// Stages is the pool size; default 1.
	Stages int
	DemandConfig
}

func (p ProducerSpec) withDefaults() ProducerSpec {
	if p.Stages <= 0 {
		p.Stages = defaultProducerN
	}
	p.DemandConfig = p.DemandConfig.withDefaults()
	return p
}

// ProcessorSpec configures the single processor pool.
type ProcessorSpec struct {
	// HandleMessage is invoked once per message, in the processor's identity.
	HandleMessage HandleMessage
	// Stages is the pool size; default 2*NumCPU.
	Stages int
	DemandConfig
}

func (p ProcessorSpec) withDefaults() ProcessorSpec {
	if p.Stages <= 0 {
		p.Stages = 2 * runtime.NumCPU()
	}
	p.DemandConfig = p.DemandConfig.withDefaults()
	return p
}

// PublisherSpec configures one destination key's batcher and consumer pool.
type PublisherSpec struct {
	// Key is the destination tag; defaults to DefaultDestination if empty.
	Key string
	// HandleBatch is invoked once per emitted batch for this key.
	HandleBatch HandleBatch
	// Stages is the consumer pool size for this key; default 1.
	Stages int
	// BatchSize is the maximum messages per emitted batch; default 100.
	BatchSize int
	// BatchTimeout flushes a non-empty partial batch after this duration
	// elapses without reaching BatchSize; default 1s.
	BatchTimeout time.Duration
	DemandConfig
}

func (p PublisherSpec) withDefaults() PublisherSpec {
	if p.Key == "" {
		p.Key = DefaultDestination
	}
	if p.Stages <= 0 {
		p.Stages = defaultConsumerN
	}
	if p.BatchSize <= 0 {
		p.BatchSize = defaultBatchSize
	}
	if p.BatchTimeout <= 0 {
		p.BatchTimeout = defaultBatchTimeout
	}
	p.DemandConfig = p.DemandConfig.withDefaults()
	return p
}

// Topology describes one fully configured pipeline: its name, exactly one
// producer group, the processor pool, its destination keys, and the
// opaque user context passed unmodified to every callback.
type Topology struct {
	// Name prefixes every derived stage name.
	Name string
	// UserContext is passed by value to every callback invocation.
	UserContext interface{}
	// Producers holds exactly one producer group (spec restriction, §3).
	Producers []ProducerSpec
	// Processor configures the single processor pool.
	Processor ProcessorSpec
	// Publishers lists destination keys; defaults to one "default" key.
	Publishers []PublisherSpec
}

// normalized is a Topology after validation and default application.
type normalized struct {
	name        string
	userCtx     interface{}
	producer    ProducerSpec
	processor   ProcessorSpec
	publishers  map[string]PublisherSpec
	publisherKs []string // insertion order, for deterministic naming
}

// validate checks Topology invariants (§3) and applies defaults,
// returning a normalized form ready to build stages from.
func (t Topology) validate() (*normalized, error) {
	if len(t.Producers) == 0 {
		return nil, ErrNoProducerGroup()
	}
	if len(t.Producers) > 1 {
		return nil, ErrMultipleProducerGroups(len(t.Producers))
	}

	producer := t.Producers[0].withDefaults()
	if producer.Driver == nil {
		return nil, errors.InvalidArgument("producer group requires a driver", nil)
	}
	if err := nameValidator.ValidateVar(producer.Group, "slug"); err != nil {
		return nil, errors.InvalidArgument("producer group \""+producer.Group+"\" must be a lowercase, dash-separated slug", err)
	}

	processor := t.Processor.withDefaults()
	if processor.HandleMessage == nil {
		return nil, errors.InvalidArgument("processor requires HandleMessage", nil)
	}

	publishers := t.Publishers
	if len(publishers) == 0 {
		publishers = []PublisherSpec{{}}
	}

	seen := make(map[string]bool, len(publishers))
	pubMap := make(map[string]PublisherSpec, len(publishers))
	order := make([]string, 0, len(publishers))
	for _, p := range publishers {
		p = p.withDefaults()
		if err := nameValidator.ValidateVar(p.Key, "slug"); err != nil {
			return nil, errors.InvalidArgument("destination key \""+p.Key+"\" must be a lowercase, dash-separated slug", err)
		}
		if seen[p.Key] {
			return nil, ErrDuplicateDestination(p.Key)
		}
		if p.HandleBatch == nil {
			return nil, errors.InvalidArgument("publisher "+p.Key+" requires HandleBatch", nil)
		}
		seen[p.Key] = true
		pubMap[p.Key] = p
		order = append(order, p.Key)
	}

	name := t.Name
	if name == "" {
		name = "topology"
	}

	return &normalized{
		name:        name,
		userCtx:     t.UserContext,
		producer:    producer,
		processor:   processor,
		publishers:  pubMap,
		publisherKs: order,
	}, nil
}
