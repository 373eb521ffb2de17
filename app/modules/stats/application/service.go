package statsservice

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrSeasonRequired is returned when a query names no season.
var ErrSeasonRequired = errors.New("season id is required")

// Repository is the read side of the match repository.
type Repository interface {
	ListSeasonStandings(ctx context.Context, db bun.IDB, seasonID string) ([]matchdb.UserSeasonStats, error)
	ListRatingHistoryForUser(ctx context.Context, db bun.IDB, userID, seasonID string) ([]matchdb.RatingHistory, error)
}

// Standing is one row of a season table.
type Standing struct {
	Rank           int
	UserID         string
	DisplayRating  int
	InternalRating float64
	SeasonHigh     int
	Provisional    bool
	Matches        int
	Wins           int
	Podiums        int
	TotalScore     int
	LastMatchAt    *time.Time
}

// RatingPoint is a player's rating right after one finalized match.
type RatingPoint struct {
	MatchID        string
	Position       int
	Delta          float64
	DisplayRating  int
	InternalRating float64
	At             time.Time
}

// Service answers standings and rating history queries.
type Service struct {
	repo    Repository
	logger  *slog.Logger
	tracer  trace.Tracer
	palette ChartPalette
}

func NewService(repo Repository, logger *slog.Logger, tracer trace.Tracer) *Service {
	return &Service{repo: repo, logger: logger, tracer: tracer, palette: DefaultPalette}
}

// Standings ranks a season by display rating. Players with equal display
// ratings share a rank.
func (s *Service) Standings(ctx context.Context, seasonID string) ([]Standing, error) {
	ctx, span := s.tracer.Start(ctx, "StatsService.Standings", trace.WithAttributes(
		attribute.String("season_id", seasonID),
	))
	defer span.End()

	if seasonID == "" {
		return nil, ErrSeasonRequired
	}
	rows, err := s.repo.ListSeasonStandings(ctx, nil, seasonID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "Failed to load standings", attr.SeasonID(seasonID), attr.Error(err))
		return nil, fmt.Errorf("statsservice.Standings: %w", err)
	}

	slices.SortStableFunc(rows, func(a, b matchdb.UserSeasonStats) int {
		if c := cmp.Compare(b.DisplayRating, a.DisplayRating); c != 0 {
			return c
		}
		if c := cmp.Compare(b.InternalRating, a.InternalRating); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})

	out := make([]Standing, len(rows))
	for i, r := range rows {
		rank := i + 1
		if i > 0 && r.DisplayRating == rows[i-1].DisplayRating {
			rank = out[i-1].Rank
		}
		out[i] = Standing{
			Rank:           rank,
			UserID:         r.UserID,
			DisplayRating:  r.DisplayRating,
			InternalRating: r.InternalRating,
			SeasonHigh:     r.SeasonHighRating,
			Provisional:    r.DisplayRating < int(r.InternalRating),
			Matches:        r.TotalMatches,
			Wins:           r.Wins,
			Podiums:        r.Podiums,
			TotalScore:     r.TotalScore,
			LastMatchAt:    r.LastMatchAt,
		}
	}
	return out, nil
}

// RatingHistory lists a player's snapshots in the order they were written.
func (s *Service) RatingHistory(ctx context.Context, userID, seasonID string) ([]RatingPoint, error) {
	ctx, span := s.tracer.Start(ctx, "StatsService.RatingHistory", trace.WithAttributes(
		attribute.String("season_id", seasonID),
		attribute.String("user_id", userID),
	))
	defer span.End()

	if seasonID == "" {
		return nil, ErrSeasonRequired
	}
	rows, err := s.repo.ListRatingHistoryForUser(ctx, nil, userID, seasonID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("statsservice.RatingHistory: %w", err)
	}
	slices.SortFunc(rows, func(a, b matchdb.RatingHistory) int { return cmp.Compare(a.ID, b.ID) })

	points := make([]RatingPoint, len(rows))
	for i, r := range rows {
		points[i] = RatingPoint{
			MatchID:        r.MatchID.String(),
			Position:       r.Position,
			Delta:          r.Delta,
			DisplayRating:  r.DisplayAfter,
			InternalRating: r.InternalAfter,
			At:             r.CreatedAt,
		}
	}
	return points, nil
}

// RatingHistoryChart renders a player's display rating over the season as a PNG.
func (s *Service) RatingHistoryChart(ctx context.Context, userID, seasonID string) ([]byte, error) {
	points, err := s.RatingHistory(ctx, userID, seasonID)
	if err != nil {
		return nil, err
	}
	png, err := renderRatingChart(points, s.palette)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to render rating chart",
			attr.UserID(userID),
			attr.SeasonID(seasonID),
			attr.Error(err),
		)
		return nil, fmt.Errorf("statsservice.RatingHistoryChart: %w", err)
	}
	return png, nil
}

// ExportSeasonStandings writes the season table to an xlsx workbook.
func (s *Service) ExportSeasonStandings(ctx context.Context, seasonID string) ([]byte, error) {
	standings, err := s.Standings(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	data, err := writeStandingsWorkbook(seasonID, standings)
	if err != nil {
		return nil, fmt.Errorf("statsservice.ExportSeasonStandings: %w", err)
	}
	s.logger.InfoContext(ctx, "Exported season standings",
		attr.SeasonID(seasonID),
		attr.Int("rows", len(standings)),
	)
	return data, nil
}
