package pipeline

import "context"

// processorWorker is one worker in the processor pool. It subscribes to
// every producer (inputs) and is subscribed to by every batcher (one
// partitioned output link per destination key). A worker's crash kills
// only its in-flight messages (the one being handled and any already taken
// off its input links); the processor supervisor restarts the whole
// pool per §4.6's one_for_all policy.
type processorWorker struct {
	name    string
	handle  HandleMessage
	userCtx interface{}

	inputs  []*Link[*Message]
	outputs map[string]*Link[*Message] // destination key -> batcher link
}

func newProcessorWorker(name string, handle HandleMessage, userCtx interface{}, inputs []*Link[*Message], outputs map[string]*Link[*Message]) *processorWorker {
	return &processorWorker{
		name:    name,
		handle:  handle,
		userCtx: userCtx,
		inputs:  inputs,
		outputs: outputs,
	}
}

// run services every input link (merged, so an idle producer never stalls
// delivery from another), invokes handle_message, sets ProcessorPID, and
// routes the result to the output link matching its Publisher. Messages
// handled by this worker, for a fixed destination key, remain in receipt
// order (§4.3); order across workers or keys is not guaranteed.
func (w *processorWorker) run(ctx context.Context) {
	merged := mergeLinks(ctx, w.inputs)

	for {
		var msg *Message
		var ok bool
		select {
		case msg, ok = <-merged:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}

		msg.ProcessorPID = w.name

		result, err := w.handle(msg, w.userCtx)
		if err != nil {
			panic(ErrCallbackContract(w.name, err))
		}

		out, ok := w.outputs[result.Publisher]
		if !ok {
			panic(ErrUnknownDestination(result.Publisher))
		}

		if sendErr := out.Send(ctx, result); sendErr != nil {
			return
		}
	}
}
