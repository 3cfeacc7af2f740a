package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/globe-and-citizen/cnc-portal-sub005/internal/audit"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/obs"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/vesting"
)

type createTeamRequest struct {
	TeamID int64  `json:"team_id"`
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
}

type addVestingRequest struct {
	TeamID   int64  `json:"team_id"`
	Member   string `json:"member"`
	Start    int64  `json:"start"`
	Duration int64  `json:"duration"`
	Cliff    int64  `json:"cliff"`
	Total    int64  `json:"total_amount"`
	Asset    string `json:"asset"`
}

type releaseRequest struct {
	TeamID int64 `json:"team_id"`
}

type stopRequest struct {
	TeamID int64  `json:"team_id"`
	Member string `json:"member"`
}

type archivedFlatResponse struct {
	Members   []string                 `json:"members"`
	Records   []vesting.ArchivedRecord `json:"records"`
	NextAfter uint64                   `json:"next_after"`
	AsOf      time.Time                `json:"as_of"`
}

func (a *API) handleTeamsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTeam(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

// handleTeamResource routes /v1/teams/{id}/members and /v1/teams/{id}/archived.
func (a *API) handleTeamResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/teams/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	teamID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "team id must be an integer")
		return
	}
	switch parts[1] {
	case "members":
		a.teamMembers(w, r, teamID)
	case "archived":
		a.teamArchived(w, r, teamID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleVestingsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.addVesting(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

// handleVestingResource routes /v1/vestings/{team}/{member}/vested.
func (a *API) handleVestingResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/vestings/")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "vested" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	teamID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "team id must be an integer")
		return
	}
	member := parts[1]
	if member == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.vestedAmount(w, r, member, teamID)
}

// handleMemberResource routes /v1/members/{addr}/teams.
func (a *API) handleMemberResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/members/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "teams" || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	teams, err := a.views.MemberTeams(r.Context(), parts[0])
	if err != nil {
		handleVestingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (a *API) createTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, ok := a.callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "caller identity required")
		return
	}
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		owner = caller
	}
	err := a.engine.CreateTeam(r.Context(), req.TeamID, owner, strings.TrimSpace(req.Asset))
	obs.ObserveVestingOp("create_team", err)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}

	a.audit(r.Context(), "vesting.team.create", map[string]any{
		"team_id": req.TeamID,
		"owner":   owner,
		"asset":   req.Asset,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"team_id": req.TeamID})
}

func (a *API) addVesting(w http.ResponseWriter, r *http.Request) {
	var req addVestingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, ok := a.callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "caller identity required")
		return
	}

	evt, err := a.engine.AddVesting(r.Context(), caller, req.TeamID, strings.TrimSpace(req.Member),
		req.Start, req.Duration, req.Cliff, req.Total, strings.TrimSpace(req.Asset))
	obs.ObserveVestingOp("add_vesting", err)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}

	a.publish(evt)
	a.audit(r.Context(), "vesting.grant.create", map[string]any{
		"team_id": req.TeamID,
		"member":  req.Member,
		"total":   req.Total,
	})
	writeJSON(w, http.StatusCreated, evt)
}

func (a *API) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req releaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, ok := a.callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "caller identity required")
		return
	}

	evt, err := a.engine.Release(r.Context(), caller, req.TeamID)
	obs.ObserveVestingOp("release", err)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}

	a.publish(evt)
	a.audit(r.Context(), "vesting.grant.release", map[string]any{
		"team_id": req.TeamID,
		"member":  caller,
		"amount":  evt.Amount,
	})
	writeJSON(w, http.StatusOK, evt)
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req stopRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller, ok := a.callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "caller identity required")
		return
	}

	evt, err := a.engine.StopVesting(r.Context(), caller, strings.TrimSpace(req.Member), req.TeamID)
	obs.ObserveVestingOp("stop_vesting", err)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}

	a.publish(evt)
	a.audit(r.Context(), "vesting.grant.stop", map[string]any{
		"team_id":  req.TeamID,
		"member":   req.Member,
		"released": evt.Released,
		"total":    evt.Total,
	})
	writeJSON(w, http.StatusOK, evt)
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	a.setPaused(w, r, true)
}

func (a *API) handleUnpause(w http.ResponseWriter, r *http.Request) {
	a.setPaused(w, r, false)
}

func (a *API) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := a.callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "caller identity required")
		return
	}

	var err error
	op := "unpause"
	if paused {
		op = "pause"
	}
	if paused {
		err = a.engine.Pause(r.Context(), caller)
	} else {
		err = a.engine.Unpause(r.Context(), caller)
	}
	obs.ObserveVestingOp(op, err)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}
	obs.SetPaused(paused)

	a.audit(r.Context(), "vesting.admin."+op, nil)
	writeJSON(w, http.StatusOK, map[string]any{"paused": paused})
}

func (a *API) vestedAmount(w http.ResponseWriter, r *http.Request, member string, teamID int64) {
	at := strings.TrimSpace(r.URL.Query().Get("at"))
	var (
		amount int64
		err    error
	)
	if at != "" {
		now, perr := strconv.ParseInt(at, 10, 64)
		if perr != nil {
			writeError(w, r, http.StatusBadRequest, "at must be epoch seconds")
			return
		}
		amount, err = a.engine.VestedAmountAt(r.Context(), member, teamID, now)
	} else {
		amount, err = a.engine.VestedAmount(r.Context(), member, teamID)
	}
	if err != nil {
		handleVestingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"member":  member,
		"team_id": teamID,
		"vested":  amount,
	})
}

func (a *API) teamMembers(w http.ResponseWriter, r *http.Request, teamID int64) {
	members, err := a.views.TeamMembers(r.Context(), teamID)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (a *API) teamArchived(w http.ResponseWriter, r *http.Request, teamID int64) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	afterParam := strings.TrimSpace(r.URL.Query().Get("after"))
	var after uint64
	if afterParam != "" {
		v, err := strconv.ParseUint(afterParam, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}

	members, records, next, err := a.views.TeamArchivedFlat(r.Context(), teamID, limit, after)
	if err != nil {
		handleVestingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, archivedFlatResponse{
		Members:   members,
		Records:   records,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}

func (a *API) publish(evt vesting.Event) {
	if a.outbox != nil {
		a.outbox.Publish(evt)
	}
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleVestingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, vesting.ErrZeroAmount),
		errors.Is(err, vesting.ErrAssetMismatch),
		errors.Is(err, vesting.ErrInvalidSchedule):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, vesting.ErrNotOwner), errors.Is(err, vesting.ErrNotAdmin):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, vesting.ErrNoActiveGrant), errors.Is(err, vesting.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, vesting.ErrTeamExists),
		errors.Is(err, vesting.ErrGrantActive),
		errors.Is(err, vesting.ErrNothingDue):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, vesting.ErrPaused):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, vesting.ErrCustody):
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
