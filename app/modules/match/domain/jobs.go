package matchdomain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType names a delayed job. It doubles as the queue kind.
type JobType string

const (
	JobStartMatch     JobType = "start-match"
	JobReminderMatch  JobType = "reminder-match"
	JobRevealPasscode JobType = "reveal-passcode"
	JobDeleteChannel  JobType = "delete-discord-channel"
)

// JobTypes lists every job type the orchestrator schedules.
var JobTypes = []JobType{JobStartMatch, JobReminderMatch, JobRevealPasscode, JobDeleteChannel}

// JobKey is the idempotency key of a job: "<type>-<id>".
func JobKey(t JobType, id uuid.UUID) string {
	return fmt.Sprintf("%s-%s", t, id)
}

// Job is a delayed job payload. Every variant references the match it acts on
// so pending jobs can be reconciled against match state.
type Job interface {
	Kind() string
	Type() JobType
	Key() string
	Match() uuid.UUID
}

// StartMatchJob fires at the scheduled start.
type StartMatchJob struct {
	JobKey  string    `json:"job_key" river:"unique"`
	MatchID uuid.UUID `json:"match_id"`
}

func NewStartMatchJob(matchID uuid.UUID) StartMatchJob {
	return StartMatchJob{JobKey: JobKey(JobStartMatch, matchID), MatchID: matchID}
}

func (StartMatchJob) Kind() string       { return string(JobStartMatch) }
func (StartMatchJob) Type() JobType      { return JobStartMatch }
func (j StartMatchJob) Key() string      { return j.JobKey }
func (j StartMatchJob) Match() uuid.UUID { return j.MatchID }

// ReminderMatchJob fires shortly before the scheduled start.
type ReminderMatchJob struct {
	JobKey  string    `json:"job_key" river:"unique"`
	MatchID uuid.UUID `json:"match_id"`
}

func NewReminderMatchJob(matchID uuid.UUID) ReminderMatchJob {
	return ReminderMatchJob{JobKey: JobKey(JobReminderMatch, matchID), MatchID: matchID}
}

func (ReminderMatchJob) Kind() string       { return string(JobReminderMatch) }
func (ReminderMatchJob) Type() JobType      { return JobReminderMatch }
func (j ReminderMatchJob) Key() string      { return j.JobKey }
func (j ReminderMatchJob) Match() uuid.UUID { return j.MatchID }

// RevealPasscodeJob publishes a held team-mode passcode.
type RevealPasscodeJob struct {
	JobKey  string    `json:"job_key" river:"unique"`
	MatchID uuid.UUID `json:"match_id"`
	GameID  uuid.UUID `json:"game_id"`
}

func NewRevealPasscodeJob(matchID, gameID uuid.UUID) RevealPasscodeJob {
	return RevealPasscodeJob{JobKey: JobKey(JobRevealPasscode, gameID), MatchID: matchID, GameID: gameID}
}

func (RevealPasscodeJob) Kind() string       { return string(JobRevealPasscode) }
func (RevealPasscodeJob) Type() JobType      { return JobRevealPasscode }
func (j RevealPasscodeJob) Key() string      { return j.JobKey }
func (j RevealPasscodeJob) Match() uuid.UUID { return j.MatchID }

// DeleteChannelJob removes the match chat channel after the match ends.
type DeleteChannelJob struct {
	JobKey     string    `json:"job_key" river:"unique"`
	MatchID    uuid.UUID `json:"match_id"`
	ChannelRef string    `json:"channel_ref"`
}

func NewDeleteChannelJob(matchID uuid.UUID, channelRef string) DeleteChannelJob {
	return DeleteChannelJob{JobKey: JobKey(JobDeleteChannel, matchID), MatchID: matchID, ChannelRef: channelRef}
}

func (DeleteChannelJob) Kind() string       { return string(JobDeleteChannel) }
func (DeleteChannelJob) Type() JobType      { return JobDeleteChannel }
func (j DeleteChannelJob) Key() string      { return j.JobKey }
func (j DeleteChannelJob) Match() uuid.UUID { return j.MatchID }

// JobInfo describes a pending job as reported by the queue.
type JobInfo struct {
	ID          int64
	Key         string
	Type        JobType
	MatchID     uuid.UUID
	State       string
	ScheduledAt time.Time
	Attempt     int
	MaxAttempts int
}

// PrunableWhenNotWaiting reports whether a pending job of this type is a ghost
// once its match has left WAITING. Reveal and cleanup jobs are meant to run
// after start, so they only become ghosts when the match is gone.
func (t JobType) PrunableWhenNotWaiting() bool {
	return t == JobStartMatch || t == JobReminderMatch
}
