package matchdomain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var ErrUnparseableTime = errors.New("could not recognize start time")

var compactClock = regexp.MustCompile(`\b(\d{1,2})(\d{2})(am|pm)\b`)

var timeParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseScheduledStart reads a start time either as RFC 3339 or as natural
// language ("tomorrow at 8pm", "next friday 19:30") relative to now in loc.
// The result is in UTC and truncated to the minute.
func ParseScheduledStart(input string, loc *time.Location, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, fmt.Errorf("%w: empty input", ErrUnparseableTime)
	}
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t.UTC().Truncate(time.Minute), nil
	}
	if loc == nil {
		loc = time.UTC
	}

	normalized := strings.ToLower(input)
	normalized = strings.ReplaceAll(normalized, "today ", "today at ")
	normalized = compactClock.ReplaceAllString(normalized, "$1:$2 $3")

	r, err := timeParser.Parse(normalized, now.In(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrUnparseableTime, input, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTime, input)
	}
	return r.Time.UTC().Truncate(time.Minute), nil
}
