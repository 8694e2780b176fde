package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"tidebridge/internal/escrow"
	"tidebridge/internal/event"
	"tidebridge/internal/events"
	"tidebridge/internal/testutil"
)

// --- Test helpers ---

func submittedEvent(seq int64, kind string) *event.RequestEvent {
	return &event.RequestEvent{
		Seq:       seq,
		Type:      event.EventTypeRequestSubmitted,
		TypeName:  event.EventTypeRequestSubmitted.String(),
		Timestamp: time.Now().UTC(),
		Request: &event.RequestSnapshot{
			ID:        uint64(seq),
			Requester: "0x1111111111111111111111111111111111111111",
			Kind:      kind,
			Status:    "PENDING",
			Asset:     "USDC",
			Amount:    1500,
			CreatedAt: time.Now().UTC(),
		},
	}
}

// ============================================================================
// Test: subject mapping
// ============================================================================

func TestSubjectMapping(t *testing.T) {
	cases := []struct {
		name string
		evt  *event.RequestEvent
		want string
	}{
		{
			name: "lifecycle event carries the kind token",
			evt:  submittedEvent(1, "OPEN_POSITION"),
			want: "bridge.requests.submitted.open_position",
		},
		{
			name: "completed withdraw",
			evt: &event.RequestEvent{
				Type:    event.EventTypeRequestCompleted,
				Request: &event.RequestSnapshot{Kind: "WITHDRAW_FUNDS"},
			},
			want: "bridge.requests.completed.withdraw_funds",
		},
		{
			name: "batch summary has no kind token",
			evt: &event.RequestEvent{
				Type:    event.EventTypeBatchProcessed,
				Summary: &event.BatchSummary{},
			},
			want: "bridge.requests.batch",
		},
		{
			name: "receipt has no kind token",
			evt: &event.RequestEvent{
				Type:    event.EventTypeReceiptIssued,
				Receipt: &event.SignedReceipt{RequestID: 9},
			},
			want: "bridge.requests.receipt",
		},
		{
			name: "correction has no kind token",
			evt: &event.RequestEvent{
				Type:       event.EventTypeEscrowCorrected,
				Correction: &event.EscrowCorrection{},
			},
			want: "bridge.requests.corrected",
		},
	}

	for _, tc := range cases {
		if got := events.Subject(tc.evt); got != tc.want {
			t.Errorf("%s: subject = %q, want %q", tc.name, got, tc.want)
		}
	}
}

// ============================================================================
// Test: publish round trip (requires a running NATS server)
// ============================================================================

func TestPublisherRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := events.ConnectNATS(testutil.TestNATSURL())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Start from an empty stream so leftovers from earlier runs cannot match.
	_ = js.DeleteStream(ctx, events.StreamName)
	if err := events.EnsureStream(ctx, js); err != nil {
		t.Fatalf("EnsureStream: %v", err)
	}

	publishChan := make(chan escrow.Output, 4)
	pub := events.NewPublisher(js, publishChan, nil)

	done := make(chan error, 1)
	go func() { done <- pub.Run(context.Background()) }()

	publishChan <- escrow.Output{Event: submittedEvent(1, "OPEN_POSITION")}
	publishChan <- escrow.Output{Event: submittedEvent(2, "WITHDRAW_FUNDS")}
	close(publishChan)
	if err := <-done; err != nil {
		t.Fatalf("publisher run: %v", err)
	}

	cons, err := js.OrderedConsumer(ctx, events.StreamName, jetstream.OrderedConsumerConfig{})
	if err != nil {
		t.Fatalf("ordered consumer: %v", err)
	}

	first, err := cons.Next(jetstream.FetchMaxWait(10 * time.Second))
	if err != nil {
		t.Fatalf("first message: %v", err)
	}
	if got := first.Subject(); got != "bridge.requests.submitted.open_position" {
		t.Errorf("first subject = %q, want bridge.requests.submitted.open_position", got)
	}
	var decoded event.RequestEvent
	if err := json.Unmarshal(first.Data(), &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.TypeName != "RequestSubmitted" {
		t.Errorf("payload event_type = %q, want RequestSubmitted", decoded.TypeName)
	}
	if decoded.Request == nil || decoded.Request.ID != 1 {
		t.Errorf("payload request = %+v, want id 1", decoded.Request)
	}

	second, err := cons.Next(jetstream.FetchMaxWait(10 * time.Second))
	if err != nil {
		t.Fatalf("second message: %v", err)
	}
	if got := second.Subject(); got != "bridge.requests.submitted.withdraw_funds" {
		t.Errorf("second subject = %q, want bridge.requests.submitted.withdraw_funds", got)
	}
}
