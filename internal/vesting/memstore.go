package vesting

import (
	"context"
	"sort"
	"sync"
)

type pairKey struct {
	member string
	teamID int64
}

// InMemory implements Store with in-process concurrency safety.
// Suitable for tests and single-node dev deployments; the Postgres store
// under internal/store/pg is the durable counterpart.
type InMemory struct {
	mu       sync.RWMutex
	teams    map[int64]Team
	active   map[pairKey]Schedule
	archived map[int64][]ArchivedEntry
	archSeq  map[int64]uint64

	// secondary indices, updated in the same critical section as the
	// primary writes
	members map[int64]map[string]struct{}
	byUser  map[string]map[int64]struct{}
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		teams:    make(map[int64]Team),
		active:   make(map[pairKey]Schedule),
		archived: make(map[int64][]ArchivedEntry),
		archSeq:  make(map[int64]uint64),
		members:  make(map[int64]map[string]struct{}),
		byUser:   make(map[string]map[int64]struct{}),
	}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) GetTeam(ctx context.Context, teamID int64) (Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	team, ok := s.teams[teamID]
	if !ok {
		return Team{}, ErrNotFound
	}
	return team, nil
}

func (s *InMemory) PutTeam(ctx context.Context, team Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.teams[team.ID]; ok {
		if existing.Owner == team.Owner && existing.Asset == team.Asset {
			return nil
		}
		return ErrTeamExists
	}
	s.teams[team.ID] = team
	return nil
}

func (s *InMemory) GetActive(ctx context.Context, member string, teamID int64) (Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.active[pairKey{member, teamID}]
	if !ok {
		return Schedule{}, ErrNotFound
	}
	return sched, nil
}

func (s *InMemory) PutActive(ctx context.Context, sched Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[pairKey{sched.Member, sched.TeamID}] = sched

	if s.members[sched.TeamID] == nil {
		s.members[sched.TeamID] = make(map[string]struct{})
	}
	s.members[sched.TeamID][sched.Member] = struct{}{}
	if s.byUser[sched.Member] == nil {
		s.byUser[sched.Member] = make(map[int64]struct{})
	}
	s.byUser[sched.Member][sched.TeamID] = struct{}{}
	return nil
}

func (s *InMemory) Archive(ctx context.Context, member string, teamID int64, rec ArchivedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{member, teamID}
	if _, ok := s.active[key]; !ok {
		return ErrNotFound
	}

	s.archSeq[teamID]++
	s.archived[teamID] = append(s.archived[teamID], ArchivedEntry{
		Member: member,
		Record: rec,
		Seq:    s.archSeq[teamID],
	})

	delete(s.active, key)
	if m := s.members[teamID]; m != nil {
		delete(m, member)
	}
	if t := s.byUser[member]; t != nil {
		delete(t, teamID)
	}
	return nil
}

func (s *InMemory) ListArchived(ctx context.Context, teamID int64, limit int, after uint64) ([]ArchivedEntry, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []ArchivedEntry
	var last uint64
	for _, entry := range s.archived[teamID] {
		if entry.Seq <= after {
			continue
		}
		res = append(res, entry)
		last = entry.Seq
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}

func (s *InMemory) ListActiveMembers(ctx context.Context, teamID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]string, 0, len(s.members[teamID]))
	for member := range s.members[teamID] {
		res = append(res, member)
	}
	sort.Strings(res)
	return res, nil
}

func (s *InMemory) ListActiveTeams(ctx context.Context, member string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]int64, 0, len(s.byUser[member]))
	for teamID := range s.byUser[member] {
		res = append(res, teamID)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res, nil
}
