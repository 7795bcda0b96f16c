package pipeline

import "context"

// consumerWorker is one worker in a destination key's consumer pool. It is
// subscribed to the single batcher of its key; each received event is one
// batch plus its BatchInfo (§4.5).
type consumerWorker struct {
	name    string
	key     string
	handle  HandleBatch
	userCtx interface{}

	input *Link[batchEvent]
}

func newConsumerWorker(name, key string, handle HandleBatch, userCtx interface{}, input *Link[batchEvent]) *consumerWorker {
	return &consumerWorker{name: name, key: key, handle: handle, userCtx: userCtx, input: input}
}

func (w *consumerWorker) run(ctx context.Context) {
	for {
		event, ok := w.input.Receive(ctx)
		if !ok {
			return
		}

		ack, err := w.handle(w.key, event.messages, event.info, w.userCtx)
		if err != nil {
			panic(ErrCallbackContract(w.name, err))
		}

		ackByGroup(event.messages, ack)
	}
}

// ackByGroup walks the batch in its original order and, for every maximal
// run of consecutive messages whose acknowledgers share the same handler
// ID, invokes one of those acknowledgers once with the run's members split
// into successful/failed per the handle_batch result (§4.5 rule 2). Two
// distinct Acknowledger instances that report the same ID are the same
// logical handler and coalesce into one run, not just two pointers to the
// same instance.
func ackByGroup(batch []*Message, ack Ack) {
	failed := make(map[*Message]bool, len(ack.Failed))
	for _, m := range ack.Failed {
		failed[m] = true
	}

	i := 0
	for i < len(batch) {
		acker := batch[i].Acknowledger
		id := ackerID(acker)
		j := i
		var successRun, failedRun []*Message
		for j < len(batch) && ackerID(batch[j].Acknowledger) == id {
			if failed[batch[j]] {
				failedRun = append(failedRun, batch[j])
			} else {
				successRun = append(successRun, batch[j])
			}
			j++
		}
		if acker != nil {
			acker.Ack(successRun, failedRun)
		}
		i = j
	}
}

// ackerID returns acker's handler ID, or "" for a nil Acknowledger (such
// messages are never actually acked below, so they merely share a run).
func ackerID(acker Acknowledger) string {
	if acker == nil {
		return ""
	}
	return acker.ID()
}
