package vesting

import (
	"context"
	"errors"
	"testing"
	"time"
)

func archiveN(t *testing.T, s *InMemory, teamID int64, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		member := string(rune('a' + i))
		sched := Schedule{Member: member, TeamID: teamID, Duration: 1, Total: 10, Active: true}
		if err := s.PutActive(ctx, sched); err != nil {
			t.Fatalf("PutActive: %v", err)
		}
		rec := ArchivedRecord{Schedule: sched, StoppedAt: time.Unix(int64(i), 0)}
		rec.Active = false
		if err := s.Archive(ctx, member, teamID, rec); err != nil {
			t.Fatalf("Archive %s: %v", member, err)
		}
	}
}

func TestListArchivedPagination(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	archiveN(t, s, 1, 5)

	page1, next, err := s.ListArchived(ctx, 1, 2, 0)
	if err != nil {
		t.Fatalf("ListArchived: %v", err)
	}
	if len(page1) != 2 || page1[0].Seq != 1 || page1[1].Seq != 2 || next != 2 {
		t.Fatalf("unexpected first page: %+v next=%d", page1, next)
	}

	page2, next, err := s.ListArchived(ctx, 1, 2, next)
	if err != nil {
		t.Fatalf("ListArchived: %v", err)
	}
	if len(page2) != 2 || page2[0].Seq != 3 || next != 4 {
		t.Fatalf("unexpected second page: %+v next=%d", page2, next)
	}

	page3, _, err := s.ListArchived(ctx, 1, 2, next)
	if err != nil {
		t.Fatalf("ListArchived: %v", err)
	}
	if len(page3) != 1 || page3[0].Seq != 5 {
		t.Fatalf("unexpected last page: %+v", page3)
	}

	// Cursor past the end yields an empty page, not an error.
	empty, _, err := s.ListArchived(ctx, 1, 2, 99)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty page, got %v err=%v", empty, err)
	}
}

func TestArchiveRequiresActiveRecord(t *testing.T) {
	s := NewInMemory()
	err := s.Archive(context.Background(), "0xm", 1, ArchivedRecord{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIndicesFollowActiveSet(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	for _, member := range []string{"0xb", "0xa"} {
		if err := s.PutActive(ctx, Schedule{Member: member, TeamID: 1, Duration: 1, Total: 10, Active: true}); err != nil {
			t.Fatalf("PutActive: %v", err)
		}
	}
	if err := s.PutActive(ctx, Schedule{Member: "0xa", TeamID: 2, Duration: 1, Total: 10, Active: true}); err != nil {
		t.Fatalf("PutActive: %v", err)
	}

	members, err := s.ListActiveMembers(ctx, 1)
	if err != nil {
		t.Fatalf("ListActiveMembers: %v", err)
	}
	if len(members) != 2 || members[0] != "0xa" || members[1] != "0xb" {
		t.Fatalf("expected sorted members, got %v", members)
	}

	teams, err := s.ListActiveTeams(ctx, "0xa")
	if err != nil {
		t.Fatalf("ListActiveTeams: %v", err)
	}
	if len(teams) != 2 || teams[0] != 1 || teams[1] != 2 {
		t.Fatalf("expected sorted teams, got %v", teams)
	}

	if err := s.Archive(ctx, "0xa", 1, ArchivedRecord{Schedule: Schedule{Member: "0xa", TeamID: 1}}); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	members, _ = s.ListActiveMembers(ctx, 1)
	if len(members) != 1 || members[0] != "0xb" {
		t.Fatalf("archive must drop the member from the index, got %v", members)
	}
	teams, _ = s.ListActiveTeams(ctx, "0xa")
	if len(teams) != 1 || teams[0] != 2 {
		t.Fatalf("archive must drop the team from the member index, got %v", teams)
	}
}

func TestPutTeamIdempotency(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	team := Team{ID: 1, Owner: "0xowner", Asset: "CNC"}

	if err := s.PutTeam(ctx, team); err != nil {
		t.Fatalf("PutTeam: %v", err)
	}
	if err := s.PutTeam(ctx, team); err != nil {
		t.Fatalf("identical PutTeam must succeed: %v", err)
	}
	team.Asset = "USDC"
	if err := s.PutTeam(ctx, team); !errors.Is(err, ErrTeamExists) {
		t.Fatalf("expected ErrTeamExists, got %v", err)
	}
}
