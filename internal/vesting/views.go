package vesting

import "context"

// Views is the read-only projection layer consumed by external
// collaborators. It never mutates the store.
type Views struct {
	store Store
}

// NewViews wraps a store in the query façade.
func NewViews(store Store) *Views {
	return &Views{store: store}
}

// TeamMembers lists members currently holding an active schedule under
// the team.
func (v *Views) TeamMembers(ctx context.Context, teamID int64) ([]string, error) {
	return v.store.ListActiveMembers(ctx, teamID)
}

// MemberTeams lists teams under which the member currently holds an
// active schedule.
func (v *Views) MemberTeams(ctx context.Context, member string) ([]int64, error) {
	return v.store.ListActiveTeams(ctx, member)
}

// TeamArchivedFlat returns the team's archived history as parallel
// member/record slices in archival order, with a cursor for continuation.
// A member stopped more than once appears once per stop.
func (v *Views) TeamArchivedFlat(ctx context.Context, teamID int64, limit int, after uint64) ([]string, []ArchivedRecord, uint64, error) {
	entries, next, err := v.store.ListArchived(ctx, teamID, limit, after)
	if err != nil {
		return nil, nil, 0, err
	}
	members := make([]string, 0, len(entries))
	records := make([]ArchivedRecord, 0, len(entries))
	for _, entry := range entries {
		members = append(members, entry.Member)
		records = append(records, entry.Record)
	}
	return members, records, next, nil
}
