package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"mossgov/internal/domain"
)

// Sink persists audit records.
type Sink interface {
	AppendEvent(ctx context.Context, e domain.Event) (int64, error)
}

// Recorder writes every event it receives to the audit log.
type Recorder struct {
	Sink Sink
	Log  zerolog.Logger
}

// ToRecord converts an event into its persisted form.
func ToRecord(e Event) (domain.Event, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	payload := map[string]any{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.Event{}, fmt.Errorf("decode event payload: %w", err)
	}
	kind, id := e.Entity()
	return domain.Event{
		TS:         e.Timestamp(),
		Type:       string(e.EventName()),
		EntityKind: kind,
		EntityID:   id,
		Payload:    payload,
	}, nil
}

// Handle is a Handler; attach it with Bus.SubscribeAll.
func (r Recorder) Handle(ctx context.Context, e Event) {
	rec, err := ToRecord(e)
	if err == nil {
		_, err = r.Sink.AppendEvent(context.WithoutCancel(ctx), rec)
	}
	if err != nil {
		r.Log.Error().Err(err).Str("event", string(e.EventName())).Msg("append audit event")
	}
}
