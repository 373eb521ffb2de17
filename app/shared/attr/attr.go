// Package attr provides typed slog attribute constructors so log keys stay
// consistent across modules.
package attr

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type correlationIDKey struct{}

func String(key, value string) slog.Attr { return slog.String(key, value) }

func Int(key string, value int) slog.Attr { return slog.Int(key, value) }

func Int64(key string, value int64) slog.Attr { return slog.Int64(key, value) }

func Float64(key string, value float64) slog.Attr { return slog.Float64(key, value) }

func Bool(key string, value bool) slog.Attr { return slog.Bool(key, value) }

func Time(key string, value time.Time) slog.Attr { return slog.Time(key, value) }

func Duration(key string, value time.Duration) slog.Attr { return slog.Duration(key, value) }

func Any(key string, value any) slog.Attr { return slog.Any(key, value) }

// Error returns an "error" attribute; a nil error is logged as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// MatchID logs a match identifier under "match_id".
func MatchID(id uuid.UUID) slog.Attr { return slog.String("match_id", id.String()) }

// GameID logs a game identifier under "game_id".
func GameID(id uuid.UUID) slog.Attr { return slog.String("game_id", id.String()) }

func UserID(id string) slog.Attr { return slog.String("user_id", id) }

func SeasonID(id string) slog.Attr { return slog.String("season_id", id) }

func JobKey(key string) slog.Attr { return slog.String("job_key", key) }

// WithCorrelationID stores a correlation id on the context for later log lines.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// ExtractCorrelationID returns the context's correlation id attribute. The
// empty attribute it returns otherwise is dropped by slog handlers.
func ExtractCorrelationID(ctx context.Context) slog.Attr {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok && id != "" {
		return slog.String("correlation_id", id)
	}
	return slog.Attr{}
}
