package matchdb

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	matchdomain "github.com/Black-And-White-Club/race-league/app/modules/match/domain"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// FakeRepository is an in-memory Repository for tests. It honours the same
// conditional-update semantics as the bun implementation. Set Errors[method]
// to make that method fail.
type FakeRepository struct {
	mu sync.Mutex

	Matches      map[uuid.UUID]*Match
	Participants map[uuid.UUID][]MatchParticipant
	Games        map[uuid.UUID]*Game
	GameRows     map[uuid.UUID]map[string]*GameParticipant
	Votes        map[uuid.UUID][]SplitVote
	Stats        map[string]*UserSeasonStats
	History      []RatingHistory

	Errors map[string]error

	gameOrder   []uuid.UUID
	nextHistory int64
}

var _ Repository = (*FakeRepository)(nil)

func NewFakeRepository() *FakeRepository {
	return &FakeRepository{
		Matches:      make(map[uuid.UUID]*Match),
		Participants: make(map[uuid.UUID][]MatchParticipant),
		Games:        make(map[uuid.UUID]*Game),
		GameRows:     make(map[uuid.UUID]map[string]*GameParticipant),
		Votes:        make(map[uuid.UUID][]SplitVote),
		Stats:        make(map[string]*UserSeasonStats),
		Errors:       make(map[string]error),
	}
}

func statsKey(seasonID, userID string) string { return seasonID + "/" + userID }

func (f *FakeRepository) fail(method string) error {
	return f.Errors[method]
}

func (f *FakeRepository) GetMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetMatch"); err != nil {
		return nil, err
	}
	m, ok := f.Matches[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// GetMatchForUpdate has nothing to lock in memory; the fake's mutex already
// serialises each call.
func (f *FakeRepository) GetMatchForUpdate(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Match, error) {
	return f.GetMatch(ctx, db, matchID)
}

func (f *FakeRepository) CreateMatch(ctx context.Context, db bun.IDB, match *Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateMatch"); err != nil {
		return err
	}
	if match.ID == uuid.Nil {
		match.ID = uuid.New()
	}
	if _, exists := f.Matches[match.ID]; exists {
		return ErrDuplicate
	}
	cp := *match
	f.Matches[match.ID] = &cp
	return nil
}

func (f *FakeRepository) UpdateMatchStatus(ctx context.Context, db bun.IDB, matchID uuid.UUID, from, to matchdomain.Status, change StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateMatchStatus"); err != nil {
		return err
	}
	m, ok := f.Matches[matchID]
	if !ok || m.Status != from {
		return ErrNoRowsAffected
	}
	m.Status = to
	if change.ActualStart != nil {
		t := *change.ActualStart
		m.ActualStart = &t
	}
	if change.ClearNumber {
		m.MatchNumber = nil
	}
	if change.CancelReason != "" {
		m.CancelReason = change.CancelReason
	}
	return nil
}

func (f *FakeRepository) DeleteMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteMatch"); err != nil {
		return err
	}
	if _, ok := f.Matches[matchID]; !ok {
		return ErrNoRowsAffected
	}
	delete(f.Matches, matchID)
	delete(f.Participants, matchID)
	for id, g := range f.Games {
		if g.MatchID == matchID {
			delete(f.Games, id)
			delete(f.GameRows, id)
			delete(f.Votes, id)
		}
	}
	return nil
}

func (f *FakeRepository) SetChannelRef(ctx context.Context, db bun.IDB, matchID uuid.UUID, channelRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.Matches[matchID]; ok {
		m.ChannelRef = channelRef
	}
	return nil
}

func (f *FakeRepository) FindOverdueWaitingMatches(ctx context.Context, db bun.IDB, now time.Time) ([]Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FindOverdueWaitingMatches"); err != nil {
		return nil, err
	}
	var out []Match
	for _, m := range f.Matches {
		if m.Status == matchdomain.StatusWaiting && !m.ScheduledStart.After(now) {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b Match) int {
		if c := a.ScheduledStart.Compare(b.ScheduledStart); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (f *FakeRepository) FindExpiredInProgressMatches(ctx context.Context, db bun.IDB, now time.Time) ([]Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FindExpiredInProgressMatches"); err != nil {
		return nil, err
	}
	var out []Match
	for _, m := range f.Matches {
		if m.Status == matchdomain.StatusInProgress && !m.Deadline.After(now) {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b Match) int { return a.Deadline.Compare(b.Deadline) })
	return out, nil
}

func (f *FakeRepository) AcquireSeasonLock(ctx context.Context, db bun.IDB, seasonID string) error {
	return f.fail("AcquireSeasonLock")
}

func (f *FakeRepository) ListNumberingCandidates(ctx context.Context, db bun.IDB, seasonID string) ([]matchdomain.NumberingCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []matchdomain.NumberingCandidate
	for _, m := range f.Matches {
		if m.SeasonID != seasonID || m.Status == matchdomain.StatusCancelled {
			continue
		}
		out = append(out, matchdomain.NumberingCandidate{
			ID:             m.ID,
			Status:         m.Status,
			Number:         m.MatchNumber,
			ScheduledStart: m.ScheduledStart,
		})
	}
	return out, nil
}

func (f *FakeRepository) ClearMatchNumbers(ctx context.Context, db bun.IDB, matchIDs []uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range matchIDs {
		if m, ok := f.Matches[id]; ok {
			m.MatchNumber = nil
		}
	}
	return nil
}

func (f *FakeRepository) SetMatchNumber(ctx context.Context, db bun.IDB, matchID uuid.UUID, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.Matches[matchID]
	if !ok {
		return ErrNoRowsAffected
	}
	for _, other := range f.Matches {
		if other.ID != matchID && other.SeasonID == m.SeasonID && other.MatchNumber != nil && *other.MatchNumber == number {
			return ErrDuplicate
		}
	}
	n := number
	m.MatchNumber = &n
	return nil
}

func (f *FakeRepository) AddParticipant(ctx context.Context, db bun.IDB, matchID uuid.UUID, userID string, joinedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddParticipant"); err != nil {
		return err
	}
	m, ok := f.Matches[matchID]
	if !ok {
		return ErrNotFound
	}
	for _, p := range f.Participants[matchID] {
		if p.UserID == userID {
			return ErrDuplicate
		}
	}
	if m.Status != matchdomain.StatusWaiting {
		return ErrNotWaiting
	}
	if m.CurrentPlayers >= m.MaxPlayers {
		return ErrMatchFull
	}
	f.Participants[matchID] = append(f.Participants[matchID], MatchParticipant{MatchID: matchID, UserID: userID, JoinedAt: joinedAt})
	m.CurrentPlayers++
	return nil
}

func (f *FakeRepository) RemoveParticipant(ctx context.Context, db bun.IDB, matchID uuid.UUID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.Matches[matchID]
	if !ok {
		return ErrNotFound
	}
	if m.Status != matchdomain.StatusWaiting {
		return ErrNotWaiting
	}
	roster := f.Participants[matchID]
	idx := slices.IndexFunc(roster, func(p MatchParticipant) bool { return p.UserID == userID })
	if idx < 0 {
		return ErrNotFound
	}
	f.Participants[matchID] = slices.Delete(roster, idx, idx+1)
	if m.CurrentPlayers > 0 {
		m.CurrentPlayers--
	}
	return nil
}

func (f *FakeRepository) ListParticipants(ctx context.Context, db bun.IDB, matchID uuid.UUID) ([]MatchParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Clone(f.Participants[matchID])
	slices.SortFunc(out, func(a, b MatchParticipant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out, nil
}

func (f *FakeRepository) CreateGame(ctx context.Context, db bun.IDB, game *Game) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateGame"); err != nil {
		return err
	}
	if game.ID == uuid.Nil {
		game.ID = uuid.New()
	}
	if game.PasscodeVersion == 0 {
		game.PasscodeVersion = 1
	}
	cp := *game
	f.Games[game.ID] = &cp
	f.gameOrder = append(f.gameOrder, game.ID)
	return nil
}

func (f *FakeRepository) GetGame(ctx context.Context, db bun.IDB, gameID uuid.UUID) (*Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.Games[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *FakeRepository) GetGameForUpdate(ctx context.Context, db bun.IDB, gameID uuid.UUID) (*Game, error) {
	return f.GetGame(ctx, db, gameID)
}

func (f *FakeRepository) GetCurrentGame(ctx context.Context, db bun.IDB, matchID uuid.UUID) (*Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.gameOrder) - 1; i >= 0; i-- {
		if g, ok := f.Games[f.gameOrder[i]]; ok && g.MatchID == matchID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) PublishPasscode(ctx context.Context, db bun.IDB, gameID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.Games[gameID]
	if !ok || g.PasscodePublishedAt != nil {
		return ErrNoRowsAffected
	}
	g.PasscodePublishedAt = &at
	return nil
}

func (f *FakeRepository) RotatePasscode(ctx context.Context, db bun.IDB, gameID uuid.UUID, fromVersion int, passcode string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.Games[gameID]
	if !ok || g.PasscodeVersion != fromVersion {
		return ErrNoRowsAffected
	}
	g.Passcode = passcode
	g.PasscodeVersion++
	g.PasscodePublishedAt = &at
	return nil
}

func (f *FakeRepository) SetTeamScores(ctx context.Context, db bun.IDB, gameID uuid.UUID, scores []matchdomain.TeamScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.Games[gameID]; ok {
		g.TeamScores = slices.Clone(scores)
	}
	return nil
}

func (f *FakeRepository) UpsertGameParticipant(ctx context.Context, db bun.IDB, participant *GameParticipant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpsertGameParticipant"); err != nil {
		return err
	}
	rows := f.rowsFor(participant.GameID)
	if existing, ok := rows[participant.UserID]; ok {
		if existing.Status == matchdomain.ScoreVerified {
			return ErrAlreadyVerified
		}
		// team assignment columns are owned by the start transaction
		participant.TeamIndex = existing.TeamIndex
		participant.IsExcluded = existing.IsExcluded
		participant.RatingChange = existing.RatingChange
	}
	cp := *participant
	rows[participant.UserID] = &cp
	return nil
}

func (f *FakeRepository) BulkCreateGameParticipants(ctx context.Context, db bun.IDB, participants []GameParticipant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("BulkCreateGameParticipants"); err != nil {
		return err
	}
	for _, p := range participants {
		rows := f.rowsFor(p.GameID)
		if _, ok := rows[p.UserID]; ok {
			continue
		}
		cp := p
		rows[p.UserID] = &cp
	}
	return nil
}

func (f *FakeRepository) rowsFor(gameID uuid.UUID) map[string]*GameParticipant {
	rows, ok := f.GameRows[gameID]
	if !ok {
		rows = make(map[string]*GameParticipant)
		f.GameRows[gameID] = rows
	}
	return rows
}

func (f *FakeRepository) GetGameParticipant(ctx context.Context, db bun.IDB, gameID uuid.UUID, userID string) (*GameParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.GameRows[gameID][userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *FakeRepository) ListGameParticipants(ctx context.Context, db bun.IDB, gameID uuid.UUID) ([]GameParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]GameParticipant, 0, len(f.GameRows[gameID]))
	for _, p := range f.GameRows[gameID] {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b GameParticipant) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}

func (f *FakeRepository) VerifyGameParticipant(ctx context.Context, db bun.IDB, gameID uuid.UUID, userID, moderatorID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.GameRows[gameID][userID]
	if !ok || p.Status != matchdomain.ScorePending {
		return ErrNoRowsAffected
	}
	p.Status = matchdomain.ScoreVerified
	p.VerifiedBy = moderatorID
	p.VerifiedAt = &at
	return nil
}

func (f *FakeRepository) RejectGameParticipant(ctx context.Context, db bun.IDB, gameID uuid.UUID, userID, moderatorID, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.GameRows[gameID][userID]
	if !ok || p.Status != matchdomain.ScorePending {
		return ErrNoRowsAffected
	}
	p.Status = matchdomain.ScoreRejected
	p.VerifiedBy = ""
	p.VerifiedAt = nil
	p.RejectedBy = moderatorID
	p.RejectionReason = reason
	if p.ScreenshotURL != "" {
		p.ScreenshotDeletedAt = &at
	}
	return nil
}

func (f *FakeRepository) SetRatingChanges(ctx context.Context, db bun.IDB, gameID uuid.UUID, changes map[string]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for userID, delta := range changes {
		if p, ok := f.GameRows[gameID][userID]; ok {
			d := delta
			p.RatingChange = &d
		}
	}
	return nil
}

func (f *FakeRepository) CreateSplitVote(ctx context.Context, db bun.IDB, vote *SplitVote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.Votes[vote.GameID] {
		if v.UserID == vote.UserID && v.PasscodeVersion == vote.PasscodeVersion {
			return ErrDuplicate
		}
	}
	f.Votes[vote.GameID] = append(f.Votes[vote.GameID], *vote)
	return nil
}

func (f *FakeRepository) CountSplitVotes(ctx context.Context, db bun.IDB, gameID uuid.UUID, passcodeVersion int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.Votes[gameID] {
		if v.PasscodeVersion == passcodeVersion {
			n++
		}
	}
	return n, nil
}

func (f *FakeRepository) GetSeasonStats(ctx context.Context, db bun.IDB, seasonID string, userIDs []string) ([]UserSeasonStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []UserSeasonStats
	for _, u := range userIDs {
		if s, ok := f.Stats[statsKey(seasonID, u)]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *FakeRepository) UpsertSeasonStats(ctx context.Context, db bun.IDB, stats []UserSeasonStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpsertSeasonStats"); err != nil {
		return err
	}
	for _, s := range stats {
		cp := s
		f.Stats[statsKey(s.SeasonID, s.UserID)] = &cp
	}
	return nil
}

func (f *FakeRepository) DeleteSeasonStats(ctx context.Context, db bun.IDB, seasonID string, userIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range userIDs {
		delete(f.Stats, statsKey(seasonID, u))
	}
	return nil
}

func (f *FakeRepository) ListSeasonStandings(ctx context.Context, db bun.IDB, seasonID string) ([]UserSeasonStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListSeasonStandings"); err != nil {
		return nil, err
	}
	var out []UserSeasonStats
	for _, s := range f.Stats {
		if s.SeasonID == seasonID {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b UserSeasonStats) int {
		if c := cmp.Compare(b.DisplayRating, a.DisplayRating); c != 0 {
			return c
		}
		if c := cmp.Compare(b.InternalRating, a.InternalRating); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out, nil
}

func (f *FakeRepository) InsertRatingHistory(ctx context.Context, db bun.IDB, rows []RatingHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("InsertRatingHistory"); err != nil {
		return err
	}
	for _, r := range rows {
		f.nextHistory++
		r.ID = f.nextHistory
		f.History = append(f.History, r)
	}
	return nil
}

func (f *FakeRepository) ListRatingHistoryForMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) ([]RatingHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RatingHistory
	for _, r := range f.History {
		if r.MatchID == matchID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *FakeRepository) ListRatingHistoryForUser(ctx context.Context, db bun.IDB, userID, seasonID string) ([]RatingHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListRatingHistoryForUser"); err != nil {
		return nil, err
	}
	var out []RatingHistory
	for _, r := range f.History {
		if r.UserID == userID && r.SeasonID == seasonID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *FakeRepository) DeleteRatingHistoryForMatch(ctx context.Context, db bun.IDB, matchID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.History = slices.DeleteFunc(f.History, func(r RatingHistory) bool { return r.MatchID == matchID })
	return nil
}

func (f *FakeRepository) HasLaterRatingHistory(ctx context.Context, db bun.IDB, seasonID string, userIDs []string, afterID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.History {
		if r.SeasonID == seasonID && r.ID > afterID && slices.Contains(userIDs, r.UserID) {
			return true, nil
		}
	}
	return false, nil
}
