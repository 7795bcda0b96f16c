package pipeline

import (
	"context"
	"time"

	"github.com/flowforge/ingestion/pkg/datastructures/queue/ring"
)

// injectionBufferSize bounds how many PushMessages-injected messages may
// queue ahead of demand before PushMessages itself starts blocking its
// caller. The buffer never drops a message; it only ever backs up.
const injectionBufferSize = 4096

// demandPollInterval bounds how long the producer sleeps when every
// downstream link is at zero credit and the injection buffer is empty.
const demandPollInterval = 20 * time.Millisecond

// producerStage wraps one ProducerDriver instance, multiplexing its two
// message sources: demand-driven HandleDemand calls and PushMessages
// injection (§4.2). It feeds every processor link that subscribes to it,
// servicing each independently so one slow subscriber's lack of credit
// never starves another's.
type producerStage struct {
	name   string
	driver ProducerDriver
	args   interface{}
	state  interface{}

	injected *ring.Buffer[*Message]
}

func newProducerStage(name string, driver ProducerDriver, args interface{}) (*producerStage, error) {
	state, err := driver.Init(args)
	if err != nil {
		return nil, err
	}
	return &producerStage{
		name:     name,
		driver:   driver,
		args:     args,
		state:    state,
		injected: ring.New[*Message](injectionBufferSize),
	}, nil
}

// PushMessages synchronously injects msgs ahead of demand. It blocks the
// caller only if the injection buffer is already full.
func (p *producerStage) PushMessages(msgs []*Message) {
	for _, m := range msgs {
		p.injected.Enqueue(m)
	}
}

// run drives the producer's serial dispatch loop: injected messages first
// (never dropped), then driver-pulled events, against whatever credit each
// subscriber link currently has. A contract-violating driver (HandleDemand
// returning an error) panics the stage, which the supervisor then restarts.
func (p *producerStage) run(ctx context.Context, links []*Link[*Message]) {
	for {
		if ctx.Err() != nil {
			return
		}

		progressed := p.drainInjected(ctx, links)
		progressed = p.pullFromDriver(ctx, links) || progressed

		if !progressed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(demandPollInterval):
			}
		}
	}
}

func (p *producerStage) drainInjected(ctx context.Context, links []*Link[*Message]) bool {
	progressed := false
	for _, link := range links {
		for link.AvailableCredit() > 0 {
			msg, err := p.injected.TryDequeue()
			if err != nil {
				break
			}
			if sendErr := link.Send(ctx, msg); sendErr != nil {
				return progressed
			}
			progressed = true
		}
	}
	return progressed
}

func (p *producerStage) pullFromDriver(ctx context.Context, links []*Link[*Message]) bool {
	progressed := false
	for _, link := range links {
		credit := link.AvailableCredit()
		if credit <= 0 {
			continue
		}

		events, newState, err := p.driver.HandleDemand(credit, p.state)
		if err != nil {
			panic(ErrCallbackContract(p.name, err))
		}
		p.state = newState

		for _, msg := range events {
			if sendErr := link.Send(ctx, msg); sendErr != nil {
				return progressed
			}
			progressed = true
		}
	}
	return progressed
}
