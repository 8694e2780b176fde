package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"tidebridge/internal/escrow"
	"tidebridge/internal/event"
	"tidebridge/internal/observability"
)

// Publisher drains the escrow ledger's publish channel and forwards each
// event to JetStream. A failed publish is logged and dropped; downstream
// consumers that need a complete history read the event log instead.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan escrow.Output
	metrics   *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan escrow.Output, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run consumes the publish channel until it closes or the context ends.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if out.Event == nil {
				continue
			}

			if err := p.publish(ctx, out.Event); err != nil {
				log.Printf("WARN: publish %s seq=%d failed: %v", out.Event.TypeName, out.Event.Seq, err)
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
				continue
			}
			if p.metrics != nil {
				p.metrics.EventsPublished.Inc()
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt *event.RequestEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = p.js.Publish(ctx, Subject(evt), data)
	return err
}

// Subject returns the stream subject for an event:
// bridge.requests.<type>.<kind> for request lifecycle events, and
// bridge.requests.<type> for corrections, batch summaries, and receipts.
func Subject(evt *event.RequestEvent) string {
	subject := SubjectRoot + "." + evt.Type.Subject()
	if evt.Request != nil && evt.Request.Kind != "" {
		subject += "." + strings.ToLower(evt.Request.Kind)
	}
	return subject
}
