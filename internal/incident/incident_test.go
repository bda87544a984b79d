package incident

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/automod/internal/moderation"
)

func TestNew(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	failure := &moderation.FilterFailure{
		FilterName: "links",
		Reason:     "contains denied domain `example.com`",
		Context:    moderation.ContextMessageEdit,
		Actions: []moderation.Action{
			moderation.DeleteMessage{ChannelID: "c", MessageID: "m"},
			moderation.SendLog{ChannelID: "log"},
		},
	}

	inc := New(Subject{GuildID: "g", ChannelID: "c", AuthorID: "u", MessageID: "m"}, failure, true, now)

	if inc.ID == uuid.Nil {
		t.Error("expected a generated id")
	}
	if inc.FilterName != "links" || inc.Context != moderation.ContextMessageEdit || !inc.Armed {
		t.Errorf("New() = %+v", inc)
	}
	if strings.Join(inc.Actions, ",") != "delete_message,send_log" {
		t.Errorf("Actions = %v", inc.Actions)
	}
	if !inc.OccurredAt.Equal(now) || inc.OccurredAt.Location() != time.UTC {
		t.Errorf("OccurredAt = %v, want %v in UTC", inc.OccurredAt, now)
	}

	other := New(Subject{}, failure, false, now)
	if other.ID == inc.ID {
		t.Error("expected distinct ids")
	}
}

func TestIncident_JSON(t *testing.T) {
	inc := New(Subject{GuildID: "g", AuthorID: "u"}, &moderation.FilterFailure{
		FilterName: "Username",
		Reason:     "r",
		Context:    moderation.ContextUsername,
	}, false, time.Unix(0, 0))

	data, err := json.Marshal(inc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"filter":"Username"`, `"context":"username"`, `"actions":[]`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}
	if strings.Contains(s, "channel_id") || strings.Contains(s, "message_id") {
		t.Errorf("JSON %s should omit empty channel and message ids", s)
	}
}
