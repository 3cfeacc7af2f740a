package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/globe-and-citizen/cnc-portal-sub005/internal/vesting"
)

// Store is the durable ledger backed by PostgreSQL. Multi-record mutations
// run inside serializable transactions with row locks, so a half-applied
// move from active to archived is never observable.
type Store struct {
	db *sql.DB
}

var _ vesting.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) GetTeam(ctx context.Context, teamID int64) (vesting.Team, error) {
	team := vesting.Team{ID: teamID}
	err := s.db.QueryRowContext(ctx, `
		select owner_addr, asset, created_at from vesting_teams where id=$1
	`, teamID).Scan(&team.Owner, &team.Asset, &team.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return vesting.Team{}, vesting.ErrNotFound
	}
	if err != nil {
		return vesting.Team{}, err
	}
	return team, nil
}

func (s *Store) PutTeam(ctx context.Context, team vesting.Team) error {
	res, err := s.db.ExecContext(ctx, `
		insert into vesting_teams(id, owner_addr, asset, created_at)
		values ($1,$2,$3,$4)
		on conflict (id) do nothing
	`, team.ID, team.Owner, team.Asset, team.CreatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	existing, err := s.GetTeam(ctx, team.ID)
	if err != nil {
		return err
	}
	if existing.Owner != team.Owner || existing.Asset != team.Asset {
		return vesting.ErrTeamExists
	}
	return nil
}

func (s *Store) GetActive(ctx context.Context, member string, teamID int64) (vesting.Schedule, error) {
	sched := vesting.Schedule{Member: member, TeamID: teamID, Active: true}
	err := s.db.QueryRowContext(ctx, `
		select start_at, duration, cliff, total_amount, released, created_at
		from vesting_active where member=$1 and team_id=$2
	`, member, teamID).Scan(&sched.Start, &sched.Duration, &sched.Cliff, &sched.Total, &sched.Released, &sched.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return vesting.Schedule{}, vesting.ErrNotFound
	}
	if err != nil {
		return vesting.Schedule{}, err
	}
	return sched, nil
}

func (s *Store) PutActive(ctx context.Context, sched vesting.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		insert into vesting_active(member, team_id, start_at, duration, cliff, total_amount, released, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (member, team_id) do update
		set released = excluded.released
	`, sched.Member, sched.TeamID, sched.Start, sched.Duration, sched.Cliff, sched.Total, sched.Released, sched.CreatedAt)
	return err
}

func (s *Store) Archive(ctx context.Context, member string, teamID int64, rec vesting.ArchivedRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the active row so the snapshot and the delete agree.
	var dummy int
	err = tx.QueryRowContext(ctx, `
		select 1 from vesting_active where member=$1 and team_id=$2 for update
	`, member, teamID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return vesting.ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into vesting_archived(team_id, member, start_at, duration, cliff, total_amount, released, created_at, stopped_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, teamID, member, rec.Start, rec.Duration, rec.Cliff, rec.Total, rec.Released, rec.CreatedAt, rec.StoppedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		delete from vesting_active where member=$1 and team_id=$2
	`, member, teamID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListArchived(ctx context.Context, teamID int64, limit int, after uint64) ([]vesting.ArchivedEntry, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select sequence, member, start_at, duration, cliff, total_amount, released, created_at, stopped_at
		from vesting_archived
		where team_id=$1 and sequence > $2
		order by sequence asc
		limit $3
	`, teamID, after, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []vesting.ArchivedEntry
	var last uint64
	for rows.Next() {
		entry := vesting.ArchivedEntry{}
		rec := &entry.Record
		rec.TeamID = teamID
		if err := rows.Scan(&entry.Seq, &entry.Member, &rec.Start, &rec.Duration, &rec.Cliff,
			&rec.Total, &rec.Released, &rec.CreatedAt, &rec.StoppedAt); err != nil {
			return nil, 0, err
		}
		rec.Member = entry.Member
		rec.Active = false
		res = append(res, entry)
		last = entry.Seq
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return res, last, nil
}

func (s *Store) ListActiveMembers(ctx context.Context, teamID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select member from vesting_active where team_id=$1 order by member asc
	`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, err
		}
		res = append(res, member)
	}
	return res, rows.Err()
}

func (s *Store) ListActiveTeams(ctx context.Context, member string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		select team_id from vesting_active where member=$1 order by team_id asc
	`, member)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []int64
	for rows.Next() {
		var teamID int64
		if err := rows.Scan(&teamID); err != nil {
			return nil, err
		}
		res = append(res, teamID)
	}
	return res, rows.Err()
}
