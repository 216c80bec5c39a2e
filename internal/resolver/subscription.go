// subscription.go resolves the fields of the Subscription type

package resolver

import (
	"context"
	"fmt"

	"github.com/andrewwphillips/bookql/internal/domain"
	"github.com/andrewwphillips/bookql/internal/logging"
)

// BookAdded streams each book added after the call until ctx is done or the
// bus is closed. A book added before the call is never sent.
func (r *Resolver) BookAdded(ctx context.Context) (<-chan *BookResolver, error) {
	events, err := r.bus.Subscribe(ctx, TopicBookAdded)
	if err != nil {
		return nil, err
	}

	ch := make(chan *BookResolver)
	go func() {
		defer close(ch)
		for ev := range events {
			b, ok := ev.(*domain.Book)
			if !ok {
				logging.FromContext(ctx).Info("ignoring unexpected event", "topic", TopicBookAdded, "type", fmt.Sprintf("%T", ev))
				continue
			}
			select {
			case ch <- &BookResolver{root: r, b: b}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
