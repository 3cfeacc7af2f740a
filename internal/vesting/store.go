package vesting

import "context"

// Store is the durable ledger behind the engine. Implementations must make
// multi-record mutations (Archive, index maintenance) atomic as a unit: a
// half-applied move from active to archived must never be observable.
type Store interface {
	// GetTeam returns ErrNotFound when the team does not exist.
	GetTeam(ctx context.Context, teamID int64) (Team, error)
	// PutTeam is idempotent for an identical record and returns
	// ErrTeamExists when the id is taken with a different owner or asset.
	PutTeam(ctx context.Context, team Team) error

	// GetActive returns ErrNotFound when no active schedule exists.
	GetActive(ctx context.Context, member string, teamID int64) (Schedule, error)
	// PutActive upserts a schedule and maintains the member/team indices.
	PutActive(ctx context.Context, s Schedule) error
	// Archive appends the record to the team history and removes the
	// active schedule plus its index entries in one atomic step.
	Archive(ctx context.Context, member string, teamID int64, rec ArchivedRecord) error

	// ListArchived pages through a team's history in insertion order.
	// Entries with Seq <= after are skipped; the returned cursor is the
	// Seq of the last entry.
	ListArchived(ctx context.Context, teamID int64, limit int, after uint64) ([]ArchivedEntry, uint64, error)

	// ListActiveMembers returns members holding an active schedule under
	// the team, sorted for deterministic output.
	ListActiveMembers(ctx context.Context, teamID int64) ([]string, error)
	// ListActiveTeams returns team ids under which the member holds an
	// active schedule, sorted.
	ListActiveTeams(ctx context.Context, member string) ([]int64, error)
}
