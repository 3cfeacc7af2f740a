package vesting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/globe-and-citizen/cnc-portal-sub005/internal/clock"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/obs"
)

// StopPolicy decides what happens to the unreleased remainder of a grant
// when the owner stops it early.
type StopPolicy string

const (
	// StopRefund credits the remainder back to the team owner (default).
	StopRefund StopPolicy = "refund"
	// StopForfeit leaves the remainder inside engine custody.
	StopForfeit StopPolicy = "forfeit"
)

// ParseStopPolicy maps a config string to a policy, defaulting to refund.
func ParseStopPolicy(raw string) (StopPolicy, error) {
	switch StopPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StopRefund:
		return StopRefund, nil
	case StopForfeit:
		return StopForfeit, nil
	default:
		return "", fmt.Errorf("unknown stop policy %q", raw)
	}
}

// Config carries engine policy knobs.
type Config struct {
	// Admin is the only identity allowed to pause/unpause the engine.
	Admin string
	// Policy governs the unreleased remainder on StopVesting.
	Policy StopPolicy
}

// Engine enforces the grant lifecycle and vesting math. It is the only
// component allowed to mutate the Store for business operations.
//
// Mutations for one (member, team) pair are linearized through a per-pair
// mutex so the releasable computation and the released increment can never
// interleave; distinct pairs proceed in parallel.
type Engine struct {
	store   Store
	custody Custody
	clock   clock.Clock
	admin   string
	policy  StopPolicy

	paused atomic.Bool

	lockMu sync.Mutex
	locks  map[pairKey]*sync.Mutex
}

// NewEngine wires the engine. A nil clock defaults to the system clock.
func NewEngine(store Store, custody Custody, clk clock.Clock, cfg Config) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	policy := cfg.Policy
	if policy == "" {
		policy = StopRefund
	}
	return &Engine{
		store:   store,
		custody: custody,
		clock:   clk,
		admin:   cfg.Admin,
		policy:  policy,
		locks:   make(map[pairKey]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing mutations for one pair. The table
// grows with distinct pairs and is never pruned; acceptable for the
// expected cardinality of grants.
func (e *Engine) lockFor(member string, teamID int64) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	key := pairKey{member, teamID}
	mu, ok := e.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[key] = mu
	}
	return mu
}

// CreateTeam registers a team. Calling it again with identical owner and
// asset is a no-op; a conflicting redefinition fails with ErrTeamExists.
func (e *Engine) CreateTeam(ctx context.Context, teamID int64, owner, asset string) error {
	owner = strings.TrimSpace(owner)
	asset = strings.TrimSpace(asset)
	if owner == "" || asset == "" {
		return fmt.Errorf("%w: owner and asset are required", ErrInvalidSchedule)
	}
	return e.store.PutTeam(ctx, Team{
		ID:        teamID,
		Owner:     owner,
		Asset:     asset,
		CreatedAt: e.clock.Now(),
	})
}

// AddVesting commits a new grant, taking custody of the full amount from
// the caller. If the team does not exist yet it is created implicitly with
// the caller as owner. A member may hold at most one active grant per team;
// a duplicate add always fails with ErrGrantActive (top-ups are not merged,
// stop the old grant first).
func (e *Engine) AddVesting(ctx context.Context, caller string, teamID int64, member string, start, duration, cliff, total int64, asset string) (Event, error) {
	if e.paused.Load() {
		return Event{}, ErrPaused
	}
	if total <= 0 {
		return Event{}, ErrZeroAmount
	}
	if start < 0 || duration < 0 || cliff < 0 || member == "" {
		return Event{}, ErrInvalidSchedule
	}

	mu := e.lockFor(member, teamID)
	mu.Lock()
	defer mu.Unlock()

	now := e.clock.Now()
	team, err := e.store.GetTeam(ctx, teamID)
	switch {
	case errors.Is(err, ErrNotFound):
		team = Team{ID: teamID, Owner: caller, Asset: asset, CreatedAt: now}
		if err := e.store.PutTeam(ctx, team); err != nil {
			if !errors.Is(err, ErrTeamExists) {
				return Event{}, err
			}
			// Lost a race creating the team; re-read and validate below.
			team, err = e.store.GetTeam(ctx, teamID)
			if err != nil {
				return Event{}, err
			}
			if team.Owner != caller {
				return Event{}, ErrNotOwner
			}
			if team.Asset != asset {
				return Event{}, ErrAssetMismatch
			}
		}
	case err != nil:
		return Event{}, err
	default:
		if team.Owner != caller {
			return Event{}, ErrNotOwner
		}
		if team.Asset != asset {
			return Event{}, ErrAssetMismatch
		}
	}

	if _, err := e.store.GetActive(ctx, member, teamID); err == nil {
		return Event{}, ErrGrantActive
	} else if !errors.Is(err, ErrNotFound) {
		return Event{}, err
	}

	if err := e.custody.Debit(ctx, caller, asset, total); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrCustody, err)
	}
	sched := Schedule{
		Member:    member,
		TeamID:    teamID,
		Start:     start,
		Duration:  duration,
		Cliff:     cliff,
		Total:     total,
		Released:  0,
		Active:    true,
		CreatedAt: now,
	}
	if err := e.store.PutActive(ctx, sched); err != nil {
		// Return the escrowed funds so the failed call has no net effect.
		_ = e.custody.Credit(ctx, caller, asset, total)
		return Event{}, err
	}
	return e.newEvent(EventVestingCreated, member, teamID, total, 0, total), nil
}

// VestedAmount reports the unlocked portion of the member's active grant
// at the engine clock's current time. No active grant vests zero.
func (e *Engine) VestedAmount(ctx context.Context, member string, teamID int64) (int64, error) {
	return e.VestedAmountAt(ctx, member, teamID, e.clock.Now().Unix())
}

// VestedAmountAt is VestedAmount evaluated at an explicit instant.
func (e *Engine) VestedAmountAt(ctx context.Context, member string, teamID int64, now int64) (int64, error) {
	sched, err := e.store.GetActive(ctx, member, teamID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if err := checkIntegrity(sched); err != nil {
		return 0, err
	}
	return vestedAt(sched, now), nil
}

// vestedAt implements the linear-with-cliff unlock curve: zero before the
// cliff, everything at or after duration end, linear in between with
// integer division truncating toward zero.
func vestedAt(s Schedule, now int64) int64 {
	if now < s.Start+s.Cliff {
		return 0
	}
	if now >= s.Start+s.Duration {
		return s.Total
	}
	elapsed := now - s.Start
	// Split Total into q*Duration + r so the scaled product stays inside
	// 64 bits: q*elapsed is capped by Total, and r*elapsed < Duration^2.
	q := s.Total / s.Duration
	r := s.Total % s.Duration
	return q*elapsed + r*elapsed/s.Duration
}

// Release pays the caller everything vested but not yet released under
// their own grant. The custody credit and the released increment commit
// together or not at all.
func (e *Engine) Release(ctx context.Context, caller string, teamID int64) (Event, error) {
	if e.paused.Load() {
		return Event{}, ErrPaused
	}

	mu := e.lockFor(caller, teamID)
	mu.Lock()
	defer mu.Unlock()

	sched, err := e.store.GetActive(ctx, caller, teamID)
	if errors.Is(err, ErrNotFound) {
		return Event{}, ErrNoActiveGrant
	}
	if err != nil {
		return Event{}, err
	}
	if err := checkIntegrity(sched); err != nil {
		return Event{}, err
	}
	team, err := e.store.GetTeam(ctx, teamID)
	if err != nil {
		return Event{}, err
	}

	now := e.clock.Now().Unix()
	releasable := vestedAt(sched, now) - sched.Released
	if releasable <= 0 {
		return Event{}, ErrNothingDue
	}

	if err := e.custody.Credit(ctx, caller, team.Asset, releasable); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrCustody, err)
	}
	sched.Released += releasable
	if err := e.store.PutActive(ctx, sched); err != nil {
		// Claw the payout back; released must not drift from custody.
		_ = e.custody.Debit(ctx, caller, team.Asset, releasable)
		return Event{}, err
	}
	return e.newEvent(EventTokensReleased, caller, teamID, releasable, sched.Released, sched.Total), nil
}

// StopVesting terminates a member's grant: an inactive snapshot moves to
// the team's archived history, the active record disappears, and the
// unreleased remainder is settled per the configured policy.
func (e *Engine) StopVesting(ctx context.Context, caller, member string, teamID int64) (Event, error) {
	if e.paused.Load() {
		return Event{}, ErrPaused
	}

	mu := e.lockFor(member, teamID)
	mu.Lock()
	defer mu.Unlock()

	team, err := e.store.GetTeam(ctx, teamID)
	if errors.Is(err, ErrNotFound) {
		return Event{}, ErrNoActiveGrant
	}
	if err != nil {
		return Event{}, err
	}
	if team.Owner != caller {
		return Event{}, ErrNotOwner
	}

	sched, err := e.store.GetActive(ctx, member, teamID)
	if errors.Is(err, ErrNotFound) {
		return Event{}, ErrNoActiveGrant
	}
	if err != nil {
		return Event{}, err
	}
	if err := checkIntegrity(sched); err != nil {
		return Event{}, err
	}

	remainder := sched.Total - sched.Released
	refunded := remainder > 0 && e.policy == StopRefund
	if refunded {
		if err := e.custody.Credit(ctx, team.Owner, team.Asset, remainder); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrCustody, err)
		}
	}

	rec := ArchivedRecord{Schedule: sched, StoppedAt: e.clock.Now()}
	rec.Active = false
	if err := e.store.Archive(ctx, member, teamID, rec); err != nil {
		if refunded {
			_ = e.custody.Debit(ctx, team.Owner, team.Asset, remainder)
		}
		return Event{}, err
	}
	settled := int64(0)
	if refunded {
		settled = remainder
	}
	return e.newEvent(EventVestingStopped, member, teamID, settled, sched.Released, sched.Total), nil
}

// Pause gates all mutating grant operations. Admin only; reads stay open.
func (e *Engine) Pause(ctx context.Context, caller string) error {
	if caller != e.admin || e.admin == "" {
		return ErrNotAdmin
	}
	e.paused.Store(true)
	return nil
}

// Unpause lifts the gate. Admin only.
func (e *Engine) Unpause(ctx context.Context, caller string) error {
	if caller != e.admin || e.admin == "" {
		return ErrNotAdmin
	}
	e.paused.Store(false)
	return nil
}

// Paused reports the current gate state.
func (e *Engine) Paused() bool { return e.paused.Load() }

// checkIntegrity detects stored-state corruption. A released amount above
// the committed total indicates a prior bug, not a runtime condition, and
// is surfaced loudly instead of silently tolerated.
func checkIntegrity(s Schedule) error {
	if s.Released < 0 || s.Released > s.Total {
		obs.LogRequest(map[string]any{
			"level":    "error",
			"msg":      "vesting ledger corruption",
			"member":   s.Member,
			"team_id":  s.TeamID,
			"released": s.Released,
			"total":    s.Total,
		})
		return fmt.Errorf("%w: released %d outside [0, %d] for member %s team %d",
			ErrCorrupt, s.Released, s.Total, s.Member, s.TeamID)
	}
	return nil
}

func (e *Engine) newEvent(typ, member string, teamID, amount, released, total int64) Event {
	return Event{
		ID:       newEventID(),
		Type:     typ,
		Member:   member,
		TeamID:   teamID,
		Amount:   amount,
		Released: released,
		Total:    total,
		At:       e.clock.Now(),
	}
}
