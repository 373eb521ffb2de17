package matchservice

import (
	"context"
	"errors"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/liveupdates"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/notifications"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	ratingdomain "github.com/Black-And-White-Club/race-league/app/modules/rating/domain"
	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// computation is the rating outcome of one game before it is persisted.
type computation struct {
	game       *matchdb.Game
	mode       ratingdomain.Mode
	results    []ratingdomain.Result
	teamScores []matchdomain.TeamScore
	scores     map[string]int
	teams      map[string]int
	before     map[string]matchdb.UserSeasonStats
	fresh      map[string]bool
}

func (c *computation) finalizeResult(matchID uuid.UUID) *FinalizeResult {
	return &FinalizeResult{
		MatchID:    matchID,
		GameID:     c.game.ID,
		Mode:       c.mode,
		Results:    c.results,
		TeamScores: c.teamScores,
	}
}

// computeRatings derives finishing positions from the verified scores of the
// match's game and runs the rating algorithm.
//
// The game is finalizable when no non-excluded score is PENDING and at least
// two are VERIFIED. Unsubmitted and rejected players sit the rating out.
func (s *Orchestrator) computeRatings(ctx context.Context, db bun.IDB, m *matchdb.Match) (*computation, error) {
	game, err := s.repo.GetCurrentGame(ctx, db, m.ID)
	if errors.Is(err, matchdb.ErrNotFound) {
		return nil, integrityf("no_game", "match %s has no game", m.ID)
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListGameParticipants(ctx, db, game.ID)
	if err != nil {
		return nil, err
	}

	var verified []matchdb.GameParticipant
	for _, r := range rows {
		if r.IsExcluded {
			continue
		}
		switch r.Status {
		case matchdomain.ScorePending:
			return nil, integrityf("pending_scores", "score for %s is still pending", r.UserID)
		case matchdomain.ScoreVerified:
			verified = append(verified, r)
		}
	}
	if len(verified) < 2 {
		return nil, integrityf("not_enough_verified", "%d verified scores, at least 2 are required", len(verified))
	}

	c := &computation{
		game:   game,
		mode:   ratingdomain.ModeIndividual,
		scores: make(map[string]int, len(verified)),
		before: make(map[string]matchdb.UserSeasonStats, len(verified)),
		fresh:  make(map[string]bool),
	}
	userIDs := make([]string, len(verified))
	for i, r := range verified {
		userIDs[i] = r.UserID
		c.scores[r.UserID] = r.TotalScore
	}

	positions, err := c.positions(game, verified)
	if err != nil {
		return nil, err
	}

	stats, err := s.repo.GetSeasonStats(ctx, db, m.SeasonID, userIDs)
	if err != nil {
		return nil, err
	}
	for _, st := range stats {
		c.before[st.UserID] = st
	}

	participants := make([]ratingdomain.Participant, len(verified))
	for i, r := range verified {
		st, ok := c.before[r.UserID]
		if !ok {
			st = matchdb.UserSeasonStats{UserID: r.UserID, SeasonID: m.SeasonID, InternalRating: ratingdomain.InitialRating}
			c.before[r.UserID] = st
			c.fresh[r.UserID] = true
		}
		p := ratingdomain.Participant{
			UserID:            r.UserID,
			InternalRating:    st.InternalRating,
			DisplayRating:     st.DisplayRating,
			SeasonHigh:        st.SeasonHighRating,
			ConvergencePoints: st.ConvergencePoints,
			GamesPlayed:       st.TotalMatches,
			Position:          positions[r.UserID],
		}
		if c.mode == ratingdomain.ModeTeam {
			p.TeamIndex = r.TeamIndex
		}
		participants[i] = p
	}

	results, err := ratingdomain.Calculate(participants, c.mode)
	if err != nil {
		return nil, integrityf("rating_failed", "%v", err)
	}
	c.results = results
	return c, nil
}

// positions ranks individuals by score, or teams by their summed score with
// every member taking the team's rank.
func (c *computation) positions(game *matchdb.Game, verified []matchdb.GameParticipant) (map[string]int, error) {
	if !game.IsTeamGame() {
		standings := make([]ratingdomain.Standing, len(verified))
		for i, r := range verified {
			standings[i] = ratingdomain.Standing{UserID: r.UserID, Score: r.TotalScore, EliminatedAtRace: r.EliminatedAtRace}
		}
		return ratingdomain.AssignPositions(standings), nil
	}

	c.mode = ratingdomain.ModeTeam
	teams := make(map[string]int, len(verified))
	for _, r := range verified {
		if r.TeamIndex == nil {
			return nil, integrityf("missing_team", "%s has no team in a team game", r.UserID)
		}
		teams[r.UserID] = *r.TeamIndex
	}
	c.teams = teams
	c.teamScores = matchdomain.CalculateTeamScores(c.scores, teams)

	rank := make(map[int]int, len(c.teamScores))
	for _, ts := range c.teamScores {
		rank[ts.Team] = ts.Rank
	}
	positions := make(map[string]int, len(teams))
	for user, team := range teams {
		positions[user] = rank[team]
	}
	return positions, nil
}

// applyRatings writes the new season stats, the history snapshots and the
// per-player deltas of c.
func (s *Orchestrator) applyRatings(ctx context.Context, db bun.IDB, m *matchdb.Match, c *computation, now time.Time) error {
	stats := make([]matchdb.UserSeasonStats, 0, len(c.results))
	history := make([]matchdb.RatingHistory, 0, len(c.results))
	changes := make(map[string]float64, len(c.results))

	for _, r := range c.results {
		before := c.before[r.UserID]
		after := before
		after.InternalRating = r.NewInternalRating
		after.DisplayRating = r.NewDisplayRating
		after.SeasonHighRating = r.NewSeasonHigh
		after.ConvergencePoints = r.NewConvergencePoints
		after.TotalMatches = r.NewGamesPlayed
		after.TotalScore += c.scores[r.UserID]
		after.LastMatchAt = &now
		if r.Position == 1 {
			after.Wins++
		}
		if r.Position <= 3 {
			after.Podiums++
		}
		stats = append(stats, after)

		history = append(history, matchdb.RatingHistory{
			UserID:            r.UserID,
			SeasonID:          m.SeasonID,
			MatchID:           m.ID,
			GameID:            c.game.ID,
			Position:          r.Position,
			ComparisonMode:    string(r.ComparisonMode),
			Delta:             r.Delta,
			FirstGame:         c.fresh[r.UserID],
			InternalBefore:    before.InternalRating,
			DisplayBefore:     before.DisplayRating,
			SeasonHighBefore:  before.SeasonHighRating,
			ConvergenceBefore: before.ConvergencePoints,
			MatchesBefore:     before.TotalMatches,
			WinsBefore:        before.Wins,
			PodiumsBefore:     before.Podiums,
			TotalScoreBefore:  before.TotalScore,
			LastMatchBefore:   before.LastMatchAt,
			InternalAfter:     r.NewInternalRating,
			DisplayAfter:      r.NewDisplayRating,
			ConvergenceAfter:  r.NewConvergencePoints,
			CreatedAt:         now,
		})
		changes[r.UserID] = r.Delta
	}

	if err := s.repo.UpsertSeasonStats(ctx, db, stats); err != nil {
		return err
	}
	if err := s.repo.InsertRatingHistory(ctx, db, history); err != nil {
		return err
	}
	if err := s.repo.SetRatingChanges(ctx, db, c.game.ID, changes); err != nil {
		return err
	}
	if c.mode == ratingdomain.ModeTeam {
		if err := s.repo.SetTeamScores(ctx, db, c.game.ID, c.teamScores); err != nil {
			return err
		}
	}
	return nil
}

// FinalizeMatch rates a COMPLETED match and moves it to FINALIZED. Stats,
// history and the status change commit together.
func (s *Orchestrator) FinalizeMatch(ctx context.Context, matchID uuid.UUID, moderatorID string) (*FinalizeResult, error) {
	return withTelemetry(s, ctx, "FinalizeMatch", matchID, func(ctx context.Context) (*FinalizeResult, error) {
		now := s.clock.Now()
		type finalized struct {
			match *matchdb.Match
			comp  *computation
		}
		out, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (finalized, error) {
			m, err := s.loadMatch(ctx, db, matchID)
			if err != nil {
				return finalized{}, err
			}
			if m.Status != matchdomain.StatusCompleted {
				return finalized{}, preconditionf("not_completed", "only completed matches can be finalized, match is %s", m.Status)
			}
			c, err := s.computeRatings(ctx, db, m)
			if err != nil {
				return finalized{}, err
			}
			if err := s.applyRatings(ctx, db, m, c, now); err != nil {
				return finalized{}, err
			}
			err = s.repo.UpdateMatchStatus(ctx, db, m.ID, matchdomain.StatusCompleted, matchdomain.StatusFinalized, matchdb.StatusChange{})
			if errors.Is(err, matchdb.ErrNoRowsAffected) {
				return finalized{}, preconditionf("status_changed", "match was finalized concurrently")
			}
			if err != nil {
				return finalized{}, err
			}
			m.Status = matchdomain.StatusFinalized
			return finalized{match: m, comp: c}, nil
		})
		if err != nil {
			return nil, err
		}

		m, c := out.match, out.comp
		for _, r := range c.results {
			s.metrics.RecordRatingDelta(ctx, r.Delta)
		}
		s.announceResults(ctx, m, c)
		if m.ChannelRef != "" {
			s.enqueue(ctx, matchdomain.NewDeleteChannelJob(m.ID, m.ChannelRef), s.cfg.ChannelCleanupDelay)
		}

		result := c.finalizeResult(m.ID)
		s.bus.Emit(ctx, liveupdates.MatchUpdated, m.ID, result)
		s.logger.InfoContext(ctx, "Match finalized",
			attr.MatchID(m.ID),
			attr.UserID(moderatorID),
			attr.Int("rated", len(c.results)),
		)
		return result, nil
	})
}

func (s *Orchestrator) announceResults(ctx context.Context, m *matchdb.Match, c *computation) {
	lines := make([]notifications.ResultLine, len(c.results))
	for i, r := range c.results {
		lines[i] = notifications.ResultLine{
			UserID:        r.UserID,
			Position:      r.Position,
			Score:         c.scores[r.UserID],
			Delta:         r.Delta,
			DisplayRating: r.NewDisplayRating,
		}
		if team, ok := c.teams[r.UserID]; ok {
			lines[i].Team = &team
		}
	}
	s.sink.AnnounceResults(ctx, notifications.Results{
		Match:      summary(m, nil),
		Lines:      lines,
		TeamScores: c.teamScores,
	})
}

// RecalculateMatch re-rates a FINALIZED match after a score correction. It
// refuses once any participant has played a later match in the season, since
// restoring their stats would discard that later result.
func (s *Orchestrator) RecalculateMatch(ctx context.Context, matchID uuid.UUID) (*FinalizeResult, error) {
	return withTelemetry(s, ctx, "RecalculateMatch", matchID, func(ctx context.Context) (*FinalizeResult, error) {
		now := s.clock.Now()
		return runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (*FinalizeResult, error) {
			m, err := s.loadMatch(ctx, db, matchID)
			if err != nil {
				return nil, err
			}
			if m.Status != matchdomain.StatusFinalized {
				return nil, preconditionf("not_finalized", "only finalized matches can be recalculated, match is %s", m.Status)
			}

			history, err := s.repo.ListRatingHistoryForMatch(ctx, db, matchID)
			if err != nil {
				return nil, err
			}
			if len(history) == 0 {
				return nil, integrityf("no_history", "match %s has no rating snapshots", matchID)
			}

			var lastID int64
			userIDs := make([]string, len(history))
			for i, h := range history {
				userIDs[i] = h.UserID
				lastID = max(lastID, h.ID)
			}
			later, err := s.repo.HasLaterRatingHistory(ctx, db, m.SeasonID, userIDs, lastID)
			if err != nil {
				return nil, err
			}
			if later {
				return nil, preconditionf("later_matches_exist", "participants have been rated in later matches")
			}

			if err := s.restoreStats(ctx, db, m.SeasonID, history); err != nil {
				return nil, err
			}
			if err := s.repo.DeleteRatingHistoryForMatch(ctx, db, matchID); err != nil {
				return nil, err
			}

			c, err := s.computeRatings(ctx, db, m)
			if err != nil {
				return nil, err
			}
			if err := s.applyRatings(ctx, db, m, c, now); err != nil {
				return nil, err
			}
			return c.finalizeResult(m.ID), nil
		})
	})
}

// restoreStats rolls season stats back to the snapshots taken before the
// match was rated.
func (s *Orchestrator) restoreStats(ctx context.Context, db bun.IDB, seasonID string, history []matchdb.RatingHistory) error {
	var drop []string
	var restore []matchdb.UserSeasonStats
	for _, h := range history {
		if h.FirstGame {
			drop = append(drop, h.UserID)
			continue
		}
		restore = append(restore, matchdb.UserSeasonStats{
			UserID:            h.UserID,
			SeasonID:          seasonID,
			InternalRating:    h.InternalBefore,
			DisplayRating:     h.DisplayBefore,
			SeasonHighRating:  h.SeasonHighBefore,
			ConvergencePoints: h.ConvergenceBefore,
			TotalMatches:      h.MatchesBefore,
			Wins:              h.WinsBefore,
			Podiums:           h.PodiumsBefore,
			TotalScore:        h.TotalScoreBefore,
			LastMatchAt:       h.LastMatchBefore,
		})
	}
	if len(drop) > 0 {
		if err := s.repo.DeleteSeasonStats(ctx, db, seasonID, drop); err != nil {
			return err
		}
	}
	if len(restore) > 0 {
		if err := s.repo.UpsertSeasonStats(ctx, db, restore); err != nil {
			return err
		}
	}
	return nil
}

// OnDeadline completes every IN_PROGRESS match whose deadline has passed.
// Finalizable games get their rating deltas previewed onto the participant
// rows; the rest complete without a preview and wait for moderation.
func (s *Orchestrator) OnDeadline(ctx context.Context, now time.Time) (int, error) {
	return withTelemetry(s, ctx, "OnDeadline", uuid.Nil, func(ctx context.Context) (int, error) {
		expired, err := s.repo.FindExpiredInProgressMatches(ctx, nil, now)
		if err != nil {
			return 0, err
		}

		var errs []error
		completed := 0
		for i := range expired {
			m := &expired[i]
			ok, err := s.completeExpired(ctx, m)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				completed++
			}
		}
		return completed, errors.Join(errs...)
	})
}

func (s *Orchestrator) completeExpired(ctx context.Context, m *matchdb.Match) (bool, error) {
	var preview map[string]float64
	c, err := s.computeRatings(ctx, nil, m)
	switch {
	case err == nil:
		preview = make(map[string]float64, len(c.results))
		for _, r := range c.results {
			preview[r.UserID] = r.Delta
		}
	case IsDomainError(err):
		s.logger.InfoContext(ctx, "Completing match without rating preview", attr.MatchID(m.ID), attr.Error(err))
	default:
		return false, err
	}

	_, err = runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (none, error) {
		if preview != nil {
			if err := s.repo.SetRatingChanges(ctx, db, c.game.ID, preview); err != nil {
				return none{}, err
			}
		}
		err := s.repo.UpdateMatchStatus(ctx, db, m.ID, matchdomain.StatusInProgress, matchdomain.StatusCompleted, matchdb.StatusChange{})
		if errors.Is(err, matchdb.ErrNoRowsAffected) {
			return none{}, errSkip
		}
		return none{}, err
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m.Status = matchdomain.StatusCompleted
	s.bus.Emit(ctx, liveupdates.MatchCompleted, m.ID, summary(m, nil))
	return true, nil
}
