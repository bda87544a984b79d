package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/automod/internal/incident"
	"github.com/whisper/automod/internal/moderation"
)

type fakeCounter struct {
	counts   map[string]int
	clearErr error
}

func (f *fakeCounter) Count(_ context.Context, guildID, userID string) (int, error) {
	return f.counts[guildID+":"+userID], nil
}

func (f *fakeCounter) Clear(_ context.Context, guildID, userID string) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	delete(f.counts, guildID+":"+userID)
	return nil
}

func TestPardon(t *testing.T) {
	store := &fakeCounter{counts: map[string]int{"g:u": 3}}
	var out bytes.Buffer

	if err := pardon(context.Background(), &out, store, "g", "u"); err != nil {
		t.Fatalf("pardon() error: %v", err)
	}
	if got := out.String(); got != "cleared 3 infractions for u in guild g\n" {
		t.Errorf("pardon() output = %q", got)
	}
	if _, ok := store.counts["g:u"]; ok {
		t.Error("expected the counter to be cleared")
	}

	out.Reset()
	if err := pardon(context.Background(), &out, store, "g", "u"); err != nil {
		t.Fatalf("pardon() error: %v", err)
	}
	if !strings.Contains(out.String(), "has no infractions") {
		t.Errorf("pardon() output = %q", out.String())
	}
}

func TestPardon_ClearError(t *testing.T) {
	boom := errors.New("redis down")
	store := &fakeCounter{counts: map[string]int{"g:u": 1}, clearErr: boom}
	if err := pardon(context.Background(), &bytes.Buffer{}, store, "g", "u"); !errors.Is(err, boom) {
		t.Errorf("pardon() error = %v, want %v", err, boom)
	}
}

func TestPrintIncidents(t *testing.T) {
	var out bytes.Buffer
	printIncidents(&out, nil)
	if out.String() != "no incidents\n" {
		t.Errorf("printIncidents(nil) = %q", out.String())
	}

	out.Reset()
	printIncidents(&out, []incident.Incident{{
		ID:         uuid.New(),
		AuthorID:   "u1",
		FilterName: "slurs",
		Reason:     "contains word `bad`",
		Context:    moderation.ContextMessageCreate,
		Actions:    []string{"delete_message", "send_log"},
		OccurredAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected a header and one row, got %q", out.String())
	}
	for _, want := range []string{"2024-05-01 12:00:00", "u1", "slurs", "delete_message,send_log (disarmed)", "contains word `bad`"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row %q missing %q", lines[1], want)
		}
	}
}

func TestFormatIncident(t *testing.T) {
	inc := &incident.Incident{
		GuildID:     "g",
		AuthorID:    "u",
		FilterName:  "spam",
		Reason:      "sent too many links",
		Context:     moderation.ContextMessageEdit,
		Infractions: 2,
		OccurredAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	want := `2024-05-01T12:00:00Z guild=g author=u filter="spam" context="message edit" infractions=2 reason="sent too many links"`
	if got := formatIncident(inc); got != want {
		t.Errorf("formatIncident() =\n%s\nwant\n%s", got, want)
	}
}
