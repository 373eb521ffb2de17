package matchservice

import (
	"context"
	"errors"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/liveupdates"
	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	"github.com/Black-And-White-Club/race-league/app/shared/attr"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CancelMatch cancels a waiting or running match on a moderator's request.
func (s *Orchestrator) CancelMatch(ctx context.Context, matchID uuid.UUID, reason string) error {
	_, err := withTelemetry(s, ctx, "CancelMatch", matchID, func(ctx context.Context) (none, error) {
		m, err := s.loadMatch(ctx, nil, matchID)
		if err != nil {
			return none{}, err
		}
		if m.Status != matchdomain.StatusWaiting && m.Status != matchdomain.StatusInProgress {
			return none{}, preconditionf("not_cancellable", "match is %s", m.Status)
		}
		if reason == "" {
			reason = matchdomain.CancelReasonModerator
		}
		return none{}, s.cancelMatch(ctx, m, reason)
	})
	return err
}

// cancelMatch moves m to CANCELLED, frees its number and tells everyone.
// Losing the status race to another writer is reported as a precondition error.
func (s *Orchestrator) cancelMatch(ctx context.Context, m *matchdb.Match, reason string) error {
	_, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (none, error) {
		return none{}, s.markCancelled(ctx, db, m, m.Status, reason)
	})
	if err != nil {
		return err
	}
	s.announceCancellation(ctx, m, reason)
	return nil
}

// markCancelled is the transactional half of a cancellation.
func (s *Orchestrator) markCancelled(ctx context.Context, db bun.IDB, m *matchdb.Match, from matchdomain.Status, reason string) error {
	err := s.repo.UpdateMatchStatus(ctx, db, m.ID, from, matchdomain.StatusCancelled, matchdb.StatusChange{
		ClearNumber:  true,
		CancelReason: reason,
	})
	if errors.Is(err, matchdb.ErrNoRowsAffected) {
		return preconditionf("status_changed", "match left %s concurrently", from)
	}
	if err != nil {
		return err
	}
	return s.reassignMatchNumbers(ctx, db, m.SeasonID)
}

// announceCancellation runs once the cancellation committed: pending jobs are
// dropped and the channel, bot and live listeners are told.
func (s *Orchestrator) announceCancellation(ctx context.Context, m *matchdb.Match, reason string) {
	var gameID *uuid.UUID
	if g, err := s.repo.GetCurrentGame(ctx, nil, m.ID); err == nil {
		gameID = &g.ID
	}
	s.cancelPendingJobs(ctx, m.ID, gameID)

	m.Status = matchdomain.StatusCancelled
	m.CancelReason = reason
	m.MatchNumber = nil

	players, err := s.roster(ctx, nil, m.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to load roster for cancellation notice", attr.MatchID(m.ID), attr.Error(err))
	}
	sum := summary(m, players)
	s.sink.AnnounceCancelled(ctx, sum)
	if m.ChannelRef != "" {
		s.sink.PostCancellation(ctx, m.ChannelRef, sum)
		s.enqueue(ctx, matchdomain.NewDeleteChannelJob(m.ID, m.ChannelRef), s.cfg.ChannelCleanupDelay)
	}
	s.bus.Emit(ctx, liveupdates.MatchCancelled, m.ID, sum)

	s.logger.InfoContext(ctx, "Match cancelled", attr.MatchID(m.ID), attr.String("reason", reason))
}

// DeleteMatch removes a waiting or cancelled match entirely.
func (s *Orchestrator) DeleteMatch(ctx context.Context, matchID uuid.UUID) error {
	_, err := withTelemetry(s, ctx, "DeleteMatch", matchID, func(ctx context.Context) (none, error) {
		m, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (*matchdb.Match, error) {
			m, err := s.loadMatch(ctx, db, matchID)
			if err != nil {
				return nil, err
			}
			if m.Status != matchdomain.StatusWaiting && m.Status != matchdomain.StatusCancelled {
				return nil, preconditionf("not_deletable", "match is %s", m.Status)
			}
			if err := s.repo.DeleteMatch(ctx, db, matchID); err != nil {
				if errors.Is(err, matchdb.ErrNoRowsAffected) {
					return nil, notFound("match", matchID)
				}
				return nil, err
			}
			return m, s.reassignMatchNumbers(ctx, db, m.SeasonID)
		})
		if err != nil {
			return none{}, err
		}

		s.cancelPendingJobs(ctx, matchID, nil)
		s.cancelJob(ctx, matchdomain.JobKey(matchdomain.JobDeleteChannel, matchID))
		if m.ChannelRef != "" {
			s.sink.DeleteChannel(ctx, m.ChannelRef)
		}
		s.bus.Emit(ctx, liveupdates.MatchUpdated, matchID, map[string]any{"match_id": matchID, "deleted": true})
		return none{}, nil
	})
	return err
}
