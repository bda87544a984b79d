package messaging

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/whisper/automod/internal/incident"
	"github.com/whisper/automod/internal/moderation"
)

// newTestClient connects to a local NATS server. Tests that call it require
// NATS on localhost:4222.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.Name = "automod-test"
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestIncidentSubject(t *testing.T) {
	if got := IncidentSubject("123"); got != "automod.incident.123" {
		t.Errorf("IncidentSubject(123) = %q", got)
	}
}

func TestCheckRoundTrip(t *testing.T) {
	c := newTestClient(t)

	err := c.ServeChecks(func(req CheckRequest) CheckResponse {
		if req.GuildID != "g1" {
			return CheckResponse{Error: "unknown guild"}
		}
		return CheckResponse{
			Filter:  "words",
			Reason:  "contains word `" + req.Message.Content + "`",
			Context: moderation.ContextMessageCreate,
		}
	})
	if err != nil {
		t.Fatalf("ServeChecks() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Check(ctx, CheckRequest{GuildID: "g1", Message: moderation.MessageInfo{Content: "bad"}})
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	want := CheckResponse{Filter: "words", Reason: "contains word `bad`", Context: moderation.ContextMessageCreate}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("Check() mismatch (-want +got):\n%s", diff)
	}

	resp, err = c.Check(ctx, CheckRequest{GuildID: "nope"})
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if resp.Error != "unknown guild" {
		t.Errorf("Check(unknown guild).Error = %q", resp.Error)
	}
}

func TestMalformedCheckRequest(t *testing.T) {
	c := newTestClient(t)
	if err := c.ServeChecks(func(CheckRequest) CheckResponse { return CheckResponse{Passed: true} }); err != nil {
		t.Fatalf("ServeChecks() error: %v", err)
	}

	msg, err := c.conn.Request(SubjectCheck, []byte("{not json"), 2*time.Second)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if string(msg.Data) == `{"passed":true}` {
		t.Error("malformed request reached the handler")
	}
}

func TestPublishIncident(t *testing.T) {
	c := newTestClient(t)

	got := make(chan *incident.Incident, 1)
	if err := c.SubscribeIncidents("*", func(inc *incident.Incident) { got <- inc }); err != nil {
		t.Fatalf("SubscribeIncidents() error: %v", err)
	}

	inc := incident.New(
		incident.Subject{GuildID: "g1", ChannelID: "c1", AuthorID: "u1", MessageID: "m1"},
		&moderation.FilterFailure{FilterName: "Spam", Reason: "sent too many links", Context: moderation.ContextMessageCreate},
		false,
		time.Now().Truncate(time.Millisecond),
	)
	if err := c.PublishIncident(inc); err != nil {
		t.Fatalf("PublishIncident() error: %v", err)
	}

	select {
	case recv := <-got:
		if diff := cmp.Diff(inc, recv); diff != "" {
			t.Errorf("incident mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("incident not delivered")
	}

	if err := c.Unsubscribe(IncidentSubject("*")); err != nil {
		t.Errorf("Unsubscribe() error: %v", err)
	}
	if err := c.Unsubscribe(IncidentSubject("*")); err == nil {
		t.Error("expected an error unsubscribing twice")
	}
}
