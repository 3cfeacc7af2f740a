package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/globe-and-citizen/cnc-portal-sub005/internal/obs"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/outbox"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/vesting"
)

// ReadyProbe reports whether the service can take traffic (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP collaborator layer over the vesting engine.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	engine *vesting.Engine
	views  *vesting.Views
	outbox *outbox.Outbox

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, engine *vesting.Engine, views *vesting.Views, ob *outbox.Outbox) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		engine:     engine,
		views:      views,
		outbox:     ob,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// caller identity (dev token issuance)
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// vesting ledger
	a.mux.HandleFunc("/v1/teams", a.handleTeamsCollection)
	a.mux.HandleFunc("/v1/teams/", a.handleTeamResource)
	a.mux.HandleFunc("/v1/vestings", a.handleVestingsCollection)
	a.mux.HandleFunc("/v1/vestings/release", a.handleRelease)
	a.mux.HandleFunc("/v1/vestings/stop", a.handleStop)
	a.mux.HandleFunc("/v1/vestings/", a.handleVestingResource)
	a.mux.HandleFunc("/v1/members/", a.handleMemberResource)
	a.mux.HandleFunc("/v1/admin/pause", a.handlePause)
	a.mux.HandleFunc("/v1/admin/unpause", a.handleUnpause)

	// committed-event stream for indexers and notifiers
	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = withRequestID(h)
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "vesting-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "vesting-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"paused":  a.engine.Paused(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
