package matchservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/liveupdates"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/notifications"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	minPlayersFloor = 2
	// maxPlayersCeiling bounds a lobby; finishing positions above it are invalid.
	maxPlayersCeiling = 99
)

// CreateMatch validates and inserts a WAITING match, schedules its start and
// reminder jobs and renumbers the season.
func (s *Orchestrator) CreateMatch(ctx context.Context, input CreateMatchInput) (*matchdb.Match, error) {
	return withTelemetry(s, ctx, "CreateMatch", uuid.Nil, func(ctx context.Context) (*matchdb.Match, error) {
		now := s.clock.Now()
		m, err := s.buildMatch(input, now)
		if err != nil {
			return nil, err
		}

		_, err = runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (none, error) {
			if err := s.repo.CreateMatch(ctx, db, m); err != nil {
				return none{}, fmt.Errorf("create match: %w", err)
			}
			return none{}, s.reassignMatchNumbers(ctx, db, m.SeasonID)
		})
		if err != nil {
			return nil, err
		}

		lead := m.ScheduledStart.Sub(now)
		s.enqueue(ctx, matchdomain.NewStartMatchJob(m.ID), lead)
		if lead >= s.cfg.ReminderMinLead {
			s.enqueue(ctx, matchdomain.NewReminderMatchJob(m.ID), lead-s.cfg.ReminderLead)
		}

		if created, err := s.repo.GetMatch(ctx, nil, m.ID); err == nil {
			m = created
		}

		if ref := s.sink.CreateChannel(ctx, notifications.ChannelParams{MatchID: m.ID, Name: channelName(m)}); ref != "" {
			if err := s.repo.SetChannelRef(ctx, nil, m.ID, ref); err != nil {
				s.logger.WarnContext(ctx, "Failed to store channel reference", attr.MatchID(m.ID), attr.Error(err))
			} else {
				m.ChannelRef = ref
			}
		}
		s.sink.AnnounceCreated(ctx, summary(m, nil))
		s.bus.Emit(ctx, liveupdates.MatchUpdated, m.ID, m)
		return m, nil
	})
}

func (s *Orchestrator) buildMatch(input CreateMatchInput, now time.Time) (*matchdb.Match, error) {
	if strings.TrimSpace(input.SeasonID) == "" {
		return nil, validationf("season_required", "season id is required")
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, validationf("title_required", "title is required")
	}
	if !input.Category.IsValid() {
		return nil, validationf("invalid_category", "unknown category %q", input.Category)
	}
	if input.MinPlayers < minPlayersFloor {
		return nil, validationf("invalid_min_players", "at least %d players are required", minPlayersFloor)
	}
	if input.MaxPlayers < input.MinPlayers || input.MaxPlayers > maxPlayersCeiling {
		return nil, validationf("invalid_max_players", "max players must be between %d and %d", input.MinPlayers, maxPlayersCeiling)
	}
	if input.Category.RequiresTeams() && input.MinPlayers < 2*matchdomain.MinTeamSize {
		return nil, validationf("invalid_min_players", "team matches need at least %d players", 2*matchdomain.MinTeamSize)
	}

	loc := s.cfg.DefaultTimezone
	if input.Timezone != "" {
		l, err := time.LoadLocation(input.Timezone)
		if err != nil {
			return nil, validationf("invalid_timezone", "unknown timezone %q", input.Timezone)
		}
		loc = l
	}
	start, err := matchdomain.ParseScheduledStart(input.ScheduledStart, loc, now)
	if errors.Is(err, matchdomain.ErrUnparseableTime) {
		return nil, validationf("invalid_start", "could not read start time %q", input.ScheduledStart)
	}
	if err != nil {
		return nil, err
	}
	if !start.After(now) {
		return nil, validationf("start_in_past", "start time %s is not in the future", start.Format(time.RFC3339))
	}
	if input.Duration <= 0 {
		return nil, validationf("invalid_deadline", "deadline must be after the start time")
	}

	seen := make(map[string]bool, len(input.Tracks))
	for _, t := range input.Tracks {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, validationf("invalid_track", "track ids must not be empty")
		}
		if seen[t] {
			return nil, validationf("duplicate_track", "track %q is listed twice", t)
		}
		seen[t] = true
	}

	return &matchdb.Match{
		ID:             uuid.New(),
		SeasonID:       input.SeasonID,
		Title:          strings.TrimSpace(input.Title),
		Category:       input.Category,
		Status:         matchdomain.StatusWaiting,
		ScheduledStart: start,
		Deadline:       start.Add(input.Duration),
		MinPlayers:     input.MinPlayers,
		MaxPlayers:     input.MaxPlayers,
		Tracks:         input.Tracks,
		CreatedBy:      input.CreatedBy,
	}, nil
}

func channelName(m *matchdb.Match) string {
	return fmt.Sprintf("match-%s", strings.ToLower(strings.ReplaceAll(m.Title, " ", "-")))
}
