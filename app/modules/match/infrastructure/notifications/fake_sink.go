package notifications

import (
	"context"
	"sync"
)

// FakeCall is one recorded sink call.
type FakeCall struct {
	Method     string
	ChannelRef string
	Payload    any
}

// FakeSink records calls. Methods listed in Fail return false; ChannelRef is
// handed out by CreateChannel.
type FakeSink struct {
	mu         sync.Mutex
	Calls      []FakeCall
	Fail       map[string]bool
	ChannelRef string
}

var _ Sink = (*FakeSink)(nil)

func NewFakeSink() *FakeSink {
	return &FakeSink{Fail: map[string]bool{}, ChannelRef: "channel-1"}
}

func (f *FakeSink) record(method, channelRef string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, FakeCall{Method: method, ChannelRef: channelRef, Payload: payload})
	return !f.Fail[method]
}

// Methods returns the recorded method names in call order.
func (f *FakeSink) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = c.Method
	}
	return out
}

// Last returns the most recent call to method.
func (f *FakeSink) Last(method string) (FakeCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Calls) - 1; i >= 0; i-- {
		if f.Calls[i].Method == method {
			return f.Calls[i], true
		}
	}
	return FakeCall{}, false
}

func (f *FakeSink) AnnounceCreated(ctx context.Context, match MatchSummary) bool {
	return f.record("AnnounceCreated", "", match)
}

func (f *FakeSink) AnnounceReminder(ctx context.Context, match MatchSummary) bool {
	return f.record("AnnounceReminder", "", match)
}

func (f *FakeSink) AnnounceCancelled(ctx context.Context, match MatchSummary) bool {
	return f.record("AnnounceCancelled", "", match)
}

func (f *FakeSink) AnnounceResults(ctx context.Context, results Results) bool {
	return f.record("AnnounceResults", "", results)
}

func (f *FakeSink) PostPasscode(ctx context.Context, channelRef string, post PasscodePost) bool {
	return f.record("PostPasscode", channelRef, post)
}

func (f *FakeSink) PostCancellation(ctx context.Context, channelRef string, match MatchSummary) bool {
	return f.record("PostCancellation", channelRef, match)
}

func (f *FakeSink) PostScreenshotRequest(ctx context.Context, channelRef string, req ScreenshotRequest) bool {
	return f.record("PostScreenshotRequest", channelRef, req)
}

func (f *FakeSink) CreateChannel(ctx context.Context, params ChannelParams) string {
	if !f.record("CreateChannel", "", params) {
		return ""
	}
	return f.ChannelRef
}

func (f *FakeSink) DeleteChannel(ctx context.Context, channelRef string) bool {
	return f.record("DeleteChannel", channelRef, nil)
}
