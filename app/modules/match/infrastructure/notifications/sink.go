// Package notifications talks to the chat bot. Every call is best effort:
// failures are logged at WARN and reported as false, never as errors.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"
)

// Sink is the chat bot as the match module sees it.
type Sink interface {
	AnnounceCreated(ctx context.Context, match MatchSummary) bool
	AnnounceReminder(ctx context.Context, match MatchSummary) bool
	AnnounceCancelled(ctx context.Context, match MatchSummary) bool
	AnnounceResults(ctx context.Context, results Results) bool
	PostPasscode(ctx context.Context, channelRef string, post PasscodePost) bool
	PostCancellation(ctx context.Context, channelRef string, match MatchSummary) bool
	PostScreenshotRequest(ctx context.Context, channelRef string, req ScreenshotRequest) bool
	// CreateChannel returns the new channel's reference, or "" on failure.
	CreateChannel(ctx context.Context, params ChannelParams) string
	DeleteChannel(ctx context.Context, channelRef string) bool
}

// Requester is the part of *nats.Conn the sink uses.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Config tunes the NATS sink.
type Config struct {
	SubjectPrefix  string
	RequestTimeout time.Duration
	RatePerSecond  float64
	Burst          int
}

// reply is what the bot answers on every subject.
type reply struct {
	OK         bool   `json:"ok"`
	ChannelRef string `json:"channel_ref,omitempty"`
	Error      string `json:"error,omitempty"`
}

type envelope struct {
	ChannelRef string `json:"channel_ref,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

// NATSSink sends chat bot commands as NATS requests and waits for the bot's reply.
type NATSSink struct {
	conn    Requester
	cfg     Config
	limiter *ChannelLimiter
	logger  *slog.Logger
}

var _ Sink = (*NATSSink)(nil)

func NewNATSSink(conn Requester, cfg Config, logger *slog.Logger) *NATSSink {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "league.bot"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &NATSSink{
		conn:    conn,
		cfg:     cfg,
		limiter: NewChannelLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  logger.With(attr.String("component", "notification_sink")),
	}
}

func (s *NATSSink) AnnounceCreated(ctx context.Context, match MatchSummary) bool {
	_, ok := s.request(ctx, "announce.created", "", match)
	return ok
}

func (s *NATSSink) AnnounceReminder(ctx context.Context, match MatchSummary) bool {
	_, ok := s.request(ctx, "announce.reminder", "", match)
	return ok
}

func (s *NATSSink) AnnounceCancelled(ctx context.Context, match MatchSummary) bool {
	_, ok := s.request(ctx, "announce.cancelled", "", match)
	return ok
}

func (s *NATSSink) AnnounceResults(ctx context.Context, results Results) bool {
	_, ok := s.request(ctx, "announce.results", "", results)
	return ok
}

func (s *NATSSink) PostPasscode(ctx context.Context, channelRef string, post PasscodePost) bool {
	_, ok := s.request(ctx, "post.passcode", channelRef, post)
	return ok
}

func (s *NATSSink) PostCancellation(ctx context.Context, channelRef string, match MatchSummary) bool {
	_, ok := s.request(ctx, "post.cancellation", channelRef, match)
	return ok
}

func (s *NATSSink) PostScreenshotRequest(ctx context.Context, channelRef string, req ScreenshotRequest) bool {
	_, ok := s.request(ctx, "post.screenshot_request", channelRef, req)
	return ok
}

func (s *NATSSink) CreateChannel(ctx context.Context, params ChannelParams) string {
	r, ok := s.request(ctx, "channel.create", "", params)
	if !ok {
		return ""
	}
	if r.ChannelRef == "" {
		s.logger.WarnContext(ctx, "Bot created a channel without a reference", attr.MatchID(params.MatchID))
	}
	return r.ChannelRef
}

func (s *NATSSink) DeleteChannel(ctx context.Context, channelRef string) bool {
	_, ok := s.request(ctx, "channel.delete", channelRef, nil)
	return ok
}

func (s *NATSSink) request(ctx context.Context, action, channelRef string, payload any) (reply, bool) {
	subject := fmt.Sprintf("%s.%s", s.cfg.SubjectPrefix, action)
	logger := s.logger.With(attr.String("subject", subject))
	if channelRef != "" {
		logger = logger.With(attr.String("channel_ref", channelRef))
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	fail := func(msg string, err error) (reply, bool) {
		logger.WarnContext(ctx, msg, attr.Error(err))
		return reply{}, false
	}

	if err := s.limiter.For(channelRef).Wait(ctx); err != nil {
		return fail("Notification rate limited", err)
	}

	data, err := json.Marshal(envelope{ChannelRef: channelRef, Payload: payload})
	if err != nil {
		return fail("Failed to encode notification", err)
	}

	msg, err := s.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fail("Notification request failed", err)
	}

	var r reply
	if err := json.Unmarshal(msg.Data, &r); err != nil {
		return fail("Failed to decode bot reply", err)
	}
	if !r.OK {
		return fail("Bot rejected notification", errors.New(r.Error))
	}

	logger.DebugContext(ctx, "Notification delivered")
	return r, true
}
