package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"tidebridge/internal/notify"
)

// --- Test helpers ---

type fakeSender struct {
	name   string
	err    error
	titles []string
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	f.titles = append(f.titles, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

// ============================================================================
// Test: event filtering
// ============================================================================

func TestNotifierFiltersEvents(t *testing.T) {
	a := &fakeSender{name: "a"}
	n := notify.NewNotifier([]notify.Sender{a}, []string{"lease_lost"}, zerolog.Nop())

	if err := n.Notify(context.Background(), "batch_aborted", "aborted", "x"); err != nil {
		t.Fatalf("filtered notify: %v", err)
	}
	if len(a.titles) != 0 {
		t.Errorf("filtered event was delivered: %v", a.titles)
	}

	if err := n.Notify(context.Background(), "lease_lost", "lease lost", "x"); err != nil {
		t.Fatalf("allowed notify: %v", err)
	}
	if len(a.titles) != 1 || a.titles[0] != "lease lost" {
		t.Errorf("deliveries = %v, want [lease lost]", a.titles)
	}

	// NotifyAll ignores the filter.
	if err := n.NotifyAll(context.Background(), "starting", "x"); err != nil {
		t.Fatalf("notify all: %v", err)
	}
	if len(a.titles) != 2 {
		t.Errorf("deliveries after NotifyAll = %v", a.titles)
	}
}

func TestNotifierEmptyFilterAllowsEverything(t *testing.T) {
	a := &fakeSender{name: "a"}
	n := notify.NewNotifier([]notify.Sender{a}, nil, zerolog.Nop())

	for _, event := range []string{"lease_lost", "batch_aborted", "anything"} {
		if err := n.Notify(context.Background(), event, event, "x"); err != nil {
			t.Fatalf("notify %s: %v", event, err)
		}
	}
	if len(a.titles) != 3 {
		t.Errorf("deliveries = %v, want all three", a.titles)
	}
}

// ============================================================================
// Test: sender failures
// ============================================================================

func TestNotifierReportsFailuresButTriesAllSenders(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := notify.NewNotifier([]notify.Sender{bad, good}, nil, zerolog.Nop())

	err := n.Notify(context.Background(), "lease_lost", "t", "m")
	if err == nil {
		t.Fatal("expected an error from the failing sender")
	}
	if !strings.Contains(err.Error(), "bad: boom") {
		t.Errorf("error = %v, want it to name the failing sender", err)
	}
	if len(good.titles) != 1 {
		t.Errorf("healthy sender not reached: %v", good.titles)
	}
}

// ============================================================================
// Test: discord webhook sender
// ============================================================================

func TestDiscordSenderDelivery(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := notify.NewDiscordSender(srv.URL)
	if err := s.Send(context.Background(), "lease lost", "instance a"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["content"] != "**lease lost**\ninstance a" {
		t.Errorf("content = %q", got["content"])
	}
}

func TestDiscordSenderSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	s := notify.NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Errorf("err = %v, want status 404 mention", err)
	}
}
