package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/asklokesh/next-portal/catalog/pkg/graph"
)

// TopicPrefix prefixes the routing key of every change notification, e.g.
// "relationship.created".
const TopicPrefix = "relationship."

// Notifier publishes scheduled-run changes to a topic exchange, one
// message per event.
type Notifier struct {
	ch       Channel
	exchange string
}

var _ graph.ChangeNotifier = (*Notifier)(nil)

func NewNotifier(ch Channel, exchange string) *Notifier {
	return &Notifier{ch: ch, exchange: exchange}
}

func (n *Notifier) Notify(ctx context.Context, events []graph.ChangeEvent) error {
	var errs []error
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		body, err := json.Marshal(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s event: %w", ev.Kind, err))
			continue
		}
		topic := TopicPrefix + string(ev.Kind)
		if err := PublishTopic(ctx, n.ch, n.exchange, topic, body); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}
