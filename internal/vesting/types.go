package vesting

import (
	"errors"
	"time"

	"github.com/globe-and-citizen/cnc-portal-sub005/internal/ids"
)

// Team owns a set of grants denominated in a single asset.
// Immutable once created; never deleted.
type Team struct {
	ID        int64     `json:"id"`
	Owner     string    `json:"owner"`
	Asset     string    `json:"asset"`
	CreatedAt time.Time `json:"created_at"`
}

// Schedule is an active vesting grant. Amounts are in the asset's
// smallest unit (e.g., wei). No floats.
type Schedule struct {
	Member    string    `json:"member"`
	TeamID    int64     `json:"team_id"`
	Start     int64     `json:"start"`    // epoch seconds when vesting begins
	Duration  int64     `json:"duration"` // seconds over which the grant unlocks
	Cliff     int64     `json:"cliff"`    // seconds after start before anything unlocks
	Total     int64     `json:"total_amount"`
	Released  int64     `json:"released"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ArchivedRecord is the immutable snapshot of a schedule taken the moment
// it was stopped. Appended to per-team history, never mutated.
type ArchivedRecord struct {
	Schedule
	StoppedAt time.Time `json:"stopped_at"`
}

// ArchivedEntry pairs an archived record with its history cursor.
type ArchivedEntry struct {
	Member string         `json:"member"`
	Record ArchivedRecord `json:"record"`
	Seq    uint64         `json:"seq"` // monotonic per team, insertion order
}

// Event types emitted by successful mutations.
const (
	EventVestingCreated = "VestingCreated"
	EventTokensReleased = "TokensReleased"
	EventVestingStopped = "VestingStopped"
)

// Event is the externally observable record of a committed mutation.
// Consumed by notifiers and indexers via the outbox.
type Event struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Member   string    `json:"member"`
	TeamID   int64     `json:"team_id"`
	Amount   int64     `json:"amount"`   // created: total; released: paid out; stopped: remainder settled
	Released int64     `json:"released"` // cumulative released after the operation
	Total    int64     `json:"total_amount"`
	At       time.Time `json:"at"`
}

var (
	ErrNotFound        = errors.New("vesting: not found")
	ErrTeamExists      = errors.New("vesting: team already exists with different owner or asset")
	ErrNotOwner        = errors.New("vesting: caller is not the team owner")
	ErrNotAdmin        = errors.New("vesting: caller is not the administrator")
	ErrAssetMismatch   = errors.New("vesting: asset does not match the team asset")
	ErrZeroAmount      = errors.New("vesting: amount must be > 0")
	ErrInvalidSchedule = errors.New("vesting: start, duration and cliff must be non-negative")
	ErrGrantActive     = errors.New("vesting: member already has an active grant")
	ErrNoActiveGrant   = errors.New("vesting: no active grant")
	ErrNothingDue      = errors.New("vesting: nothing to release")
	ErrPaused          = errors.New("vesting: engine is paused")
	ErrCustody         = errors.New("vesting: custody transfer failed")
	ErrCorrupt         = errors.New("vesting: ledger corruption detected")
)

func newEventID() string {
	return ids.New()
}
