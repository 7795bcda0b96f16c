package pipeline

import "context"

// mergeLinks fans multiple upstream links into one channel so a stage
// that subscribes to several upstreams (a processor worker subscribed to
// every producer, a batcher subscribed to every processor worker) can
// service whichever has data without round-robin blocking on an idle one.
// Each forwarder goroutine exits, closing nothing, once its link fails or
// ctx is done; the merged channel is simply abandoned at that point.
func mergeLinks[T any](ctx context.Context, links []*Link[T]) <-chan T {
	out := make(chan T)
	for _, link := range links {
		link := link
		go func() {
			for {
				event, ok := link.Receive(ctx)
				if !ok {
					return
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return out
}
