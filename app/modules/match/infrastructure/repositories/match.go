package matchdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Impl is the bun-backed Repository.
type Impl struct {
	db bun.IDB
}

// NewRepository returns a Repository running on db when callers pass nil.
func NewRepository(db bun.IDB) Repository {
	return &Impl{db: db}
}

func (r *Impl) GetMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error) {
	if db == nil {
		db = r.db
	}
	match := new(Match)
	err := db.NewSelect().
		Model(match).
		Where("m.id = ?", matchID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("matchdb.GetMatch: %w", err)
	}
	return match, nil
}

// GetMatchForUpdate reads the match and row-locks it until the surrounding
// transaction ends. Roster changes and the start job serialise on this lock.
func (r *Impl) GetMatchForUpdate(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error) {
	if db == nil {
		db = r.db
	}
	match := new(Match)
	err := db.NewSelect().
		Model(match).
		Where("m.id = ?", matchID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("matchdb.GetMatchForUpdate: %w", err)
	}
	return match, nil
}

func (r *Impl) CreateMatch(ctx context.Context, db bun.IDB, match *Match) error {
	if db == nil {
		db = r.db
	}
	if _, err := db.NewInsert().Model(match).Exec(ctx); err != nil {
		return fmt.Errorf("matchdb.CreateMatch: %w", err)
	}
	return nil
}

func (r *Impl) UpdateMatchStatus(ctx context.Context, db bun.IDB, matchID uuid.UUID, from, to matchdomain.Status, change StatusChange) error {
	if db == nil {
		db = r.db
	}
	q := db.NewUpdate().
		Model((*Match)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", matchID).
		Where("status = ?", from)
	if change.ActualStart != nil {
		q = q.Set("actual_start = ?", *change.ActualStart)
	}
	if change.ClearNumber {
		q = q.Set("match_number = NULL")
	}
	if change.CancelReason != "" {
		q = q.Set("cancel_reason = ?", change.CancelReason)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.UpdateMatchStatus: %w", err)
	}
	return requireRows(res, "matchdb.UpdateMatchStatus")
}

func (r *Impl) DeleteMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	res, err := db.NewDelete().
		Model((*Match)(nil)).
		Where("id = ?", matchID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.DeleteMatch: %w", err)
	}
	return requireRows(res, "matchdb.DeleteMatch")
}

func (r *Impl) SetChannelRef(ctx context.Context, db bun.IDB, matchID uuid.UUID, channelRef string) error {
	if db == nil {
		db = r.db
	}
	q := db.NewUpdate().
		Model((*Match)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", matchID)
	if channelRef == "" {
		q = q.Set("channel_ref = NULL")
	} else {
		q = q.Set("channel_ref = ?", channelRef)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("matchdb.SetChannelRef: %w", err)
	}
	return nil
}

func (r *Impl) FindOverdueWaitingMatches(ctx context.Context, db bun.IDB, now time.Time) ([]Match, error) {
	if db == nil {
		db = r.db
	}
	var matches []Match
	err := db.NewSelect().
		Model(&matches).
		Where("m.status = ?", matchdomain.StatusWaiting).
		Where("m.scheduled_start <= ?", now).
		Order("m.scheduled_start ASC", "m.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("matchdb.FindOverdueWaitingMatches: %w", err)
	}
	return matches, nil
}

func (r *Impl) FindExpiredInProgressMatches(ctx context.Context, db bun.IDB, now time.Time) ([]Match, error) {
	if db == nil {
		db = r.db
	}
	var matches []Match
	err := db.NewSelect().
		Model(&matches).
		Where("m.status = ?", matchdomain.StatusInProgress).
		Where("m.deadline <= ?", now).
		Order("m.deadline ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("matchdb.FindExpiredInProgressMatches: %w", err)
	}
	return matches, nil
}

func (r *Impl) AcquireSeasonLock(ctx context.Context, db bun.IDB, seasonID string) error {
	if db == nil {
		db = r.db
	}
	// hashtext() gives a stable int key for the season string
	if _, err := db.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "match-numbers:"+seasonID).Exec(ctx); err != nil {
		return fmt.Errorf("matchdb.AcquireSeasonLock: %w", err)
	}
	return nil
}

func (r *Impl) ListNumberingCandidates(ctx context.Context, db bun.IDB, seasonID string) ([]matchdomain.NumberingCandidate, error) {
	if db == nil {
		db = r.db
	}
	var matches []Match
	err := db.NewSelect().
		Model(&matches).
		Column("id", "status", "match_number", "scheduled_start").
		Where("m.season_id = ?", seasonID).
		Where("m.status <> ?", matchdomain.StatusCancelled).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("matchdb.ListNumberingCandidates: %w", err)
	}
	out := make([]matchdomain.NumberingCandidate, len(matches))
	for i, m := range matches {
		out[i] = matchdomain.NumberingCandidate{
			ID:             m.ID,
			Status:         m.Status,
			Number:         m.MatchNumber,
			ScheduledStart: m.ScheduledStart,
		}
	}
	return out, nil
}

func (r *Impl) ClearMatchNumbers(ctx context.Context, db bun.IDB, matchIDs []uuid.UUID) error {
	if len(matchIDs) == 0 {
		return nil
	}
	if db == nil {
		db = r.db
	}
	_, err := db.NewUpdate().
		Model((*Match)(nil)).
		Set("match_number = NULL").
		Where("id IN (?)", bun.In(matchIDs)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.ClearMatchNumbers: %w", err)
	}
	return nil
}

func (r *Impl) SetMatchNumber(ctx context.Context, db bun.IDB, matchID uuid.UUID, number int) error {
	if db == nil {
		db = r.db
	}
	res, err := db.NewUpdate().
		Model((*Match)(nil)).
		Set("match_number = ?", number).
		Where("id = ?", matchID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.SetMatchNumber: %w", err)
	}
	return requireRows(res, "matchdb.SetMatchNumber")
}

func (r *Impl) AddParticipant(ctx context.Context, db bun.IDB, matchID uuid.UUID, userID string, joinedAt time.Time) error {
	if db == nil {
		db = r.db
	}
	res, err := db.NewInsert().
		Model(&MatchParticipant{MatchID: matchID, UserID: userID, JoinedAt: joinedAt}).
		On("CONFLICT (match_id, user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.AddParticipant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}

	res, err = db.NewUpdate().
		Model((*Match)(nil)).
		Set("current_players = current_players + 1").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", matchID).
		Where("status = ?", matchdomain.StatusWaiting).
		Where("current_players < max_players").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.AddParticipant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.rosterRejection(ctx, db, matchID, ErrMatchFull)
	}
	return nil
}

func (r *Impl) RemoveParticipant(ctx context.Context, db bun.IDB, matchID uuid.UUID, userID string) error {
	if db == nil {
		db = r.db
	}
	res, err := db.NewUpdate().
		Model((*Match)(nil)).
		Set("current_players = GREATEST(current_players - 1, 0)").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", matchID).
		Where("status = ?", matchdomain.StatusWaiting).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.RemoveParticipant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.rosterRejection(ctx, db, matchID, ErrNotWaiting)
	}

	res, err = db.NewDelete().
		Model((*MatchParticipant)(nil)).
		Where("match_id = ?", matchID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("matchdb.RemoveParticipant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// rosterRejection explains why a roster counter update matched no rows.
func (r *Impl) rosterRejection(ctx context.Context, db bun.IDB, matchID uuid.UUID, fallback error) error {
	var status matchdomain.Status
	err := db.NewSelect().
		Model((*Match)(nil)).
		Column("status").
		Where("id = ?", matchID).
		Scan(ctx, &status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("matchdb.rosterRejection: %w", err)
	case status != matchdomain.StatusWaiting:
		return ErrNotWaiting
	}
	return fallback
}

func (r *Impl) ListParticipants(ctx context.Context, db bun.IDB, matchID uuid.UUID) ([]MatchParticipant, error) {
	if db == nil {
		db = r.db
	}
	var participants []MatchParticipant
	err := db.NewSelect().
		Model(&participants).
		Where("mp.match_id = ?", matchID).
		Order("mp.joined_at ASC", "mp.user_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("matchdb.ListParticipants: %w", err)
	}
	return participants, nil
}

func requireRows(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNoRowsAffected
	}
	return nil
}
