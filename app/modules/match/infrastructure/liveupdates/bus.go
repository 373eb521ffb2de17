// Package liveupdates broadcasts match changes to connected clients.
// Emission is fire-and-forget; a failed publish is logged and dropped.
package liveupdates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	nc "github.com/nats-io/nats.go"
)

type Event string

const (
	MatchStarted     Event = "match-started"
	MatchUpdated     Event = "match-updated"
	MatchCancelled   Event = "match-cancelled"
	MatchCompleted   Event = "match-completed"
	TeamAssigned     Event = "team-assigned"
	PasscodeRevealed Event = "passcode-revealed"
)

// Envelope is the JSON body of every live update.
type Envelope struct {
	Event      Event     `json:"event"`
	MatchID    uuid.UUID `json:"match_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data,omitempty"`
}

// Bus emits live updates.
type Bus interface {
	Emit(ctx context.Context, event Event, matchID uuid.UUID, data any)
}

// Topic is the subject an event is published on.
func Topic(prefix string, event Event) string {
	return fmt.Sprintf("%s.%s", prefix, event)
}

// WatermillBus publishes envelopes through a watermill publisher.
type WatermillBus struct {
	publisher message.Publisher
	prefix    string
	logger    *slog.Logger
	now       func() time.Time
}

var _ Bus = (*WatermillBus)(nil)

func NewWatermillBus(publisher message.Publisher, prefix string, logger *slog.Logger) *WatermillBus {
	if prefix == "" {
		prefix = "league.live"
	}
	return &WatermillBus{
		publisher: publisher,
		prefix:    prefix,
		logger:    logger.With(attr.String("component", "live_updates")),
		now:       time.Now,
	}
}

// NewNATSPublisher builds the core NATS publisher used in production. Live
// updates are ephemeral, so JetStream is off.
func NewNATSPublisher(url string, logger *slog.Logger, opts ...nc.Option) (message.Publisher, error) {
	publisher, err := wmnats.NewPublisher(
		wmnats.PublisherConfig{
			URL:         url,
			NatsOptions: append([]nc.Option{nc.RetryOnFailedConnect(true)}, opts...),
			Marshaler:   &wmnats.NATSMarshaler{},
			JetStream:   wmnats.JetStreamConfig{Disabled: true},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create live update publisher: %w", err)
	}
	return publisher, nil
}

func (b *WatermillBus) Emit(ctx context.Context, event Event, matchID uuid.UUID, data any) {
	logger := b.logger.With(attr.String("event", string(event)), attr.MatchID(matchID))

	payload, err := json.Marshal(Envelope{Event: event, MatchID: matchID, OccurredAt: b.now().UTC(), Data: data})
	if err != nil {
		logger.WarnContext(ctx, "Failed to encode live update", attr.Error(err))
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event", string(event))
	msg.Metadata.Set("match_id", matchID.String())
	msg.SetContext(ctx)

	if err := b.publisher.Publish(Topic(b.prefix, event), msg); err != nil {
		logger.WarnContext(ctx, "Failed to publish live update", attr.Error(err))
		return
	}
	logger.DebugContext(ctx, "Live update published")
}

// Emitted is one event captured by FakeBus.
type Emitted struct {
	Event   Event
	MatchID uuid.UUID
	Data    any
}

// FakeBus records emitted events.
type FakeBus struct {
	mu     sync.Mutex
	Events []Emitted
}

var _ Bus = (*FakeBus)(nil)

func (f *FakeBus) Emit(ctx context.Context, event Event, matchID uuid.UUID, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, Emitted{Event: event, MatchID: matchID, Data: data})
}

// Names returns the emitted event names in order.
func (f *FakeBus) Names() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.Events))
	for i, e := range f.Events {
		out[i] = e.Event
	}
	return out
}
