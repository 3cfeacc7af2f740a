package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/globe-and-citizen/cnc-portal-sub005/internal/auth"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/clock"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/outbox"
	"github.com/globe-and-citizen/cnc-portal-sub005/internal/vesting"
)

var testNow = time.Unix(1_700_000_000, 0).UTC()

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("VESTING_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	store := vesting.NewInMemory()
	custody := vesting.NewInMemoryCustody(true)
	engine := vesting.NewEngine(store, custody, clock.NewFake(testNow), vesting.Config{Admin: "0xadmin"})

	api := New(ReadyProbe{}, "test", engine, vesting.NewViews(store), outbox.New())
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(caller string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{"caller": caller}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func (c *apiClient) authAs(caller string) map[string]string {
	c.t.Helper()
	return map[string]string{"Authorization": "Bearer " + c.obtainToken(caller)}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPIVestingLifecycle(t *testing.T) {
	api := newTestAPI(t)
	ownerAuth := api.authAs("0xowner")
	memberAuth := api.authAs("0xmember")

	// Grant that started an hour ago and fully vested: duration one hour,
	// no cliff.
	resp := api.post("/v1/vestings", map[string]any{
		"team_id":      7,
		"member":       "0xmember",
		"start":        testNow.Unix() - 3600,
		"duration":     3600,
		"cliff":        0,
		"total_amount": 1000,
		"asset":        "CNC",
	}, ownerAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected grant status: %d", resp.StatusCode)
	}
	created := decode[map[string]any](t, resp)
	if created["type"] != vesting.EventVestingCreated {
		t.Fatalf("unexpected event type: %v", created["type"])
	}
	if created["total_amount"].(float64) != 1000 {
		t.Fatalf("unexpected grant total: %v", created["total_amount"])
	}

	// Anyone may read the vested amount.
	resp = api.get("/v1/vestings/7/0xmember/vested", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected vested status: %d", resp.StatusCode)
	}
	vested := decode[map[string]any](t, resp)
	if vested["vested"].(float64) != 1000 {
		t.Fatalf("unexpected vested amount: %v", vested["vested"])
	}

	// The member pulls the unlocked tokens.
	resp = api.post("/v1/vestings/release", map[string]any{"team_id": 7}, memberAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected release status: %d", resp.StatusCode)
	}
	released := decode[map[string]any](t, resp)
	if released["amount"].(float64) != 1000 {
		t.Fatalf("unexpected release amount: %v", released["amount"])
	}

	resp = api.get("/v1/teams/7/members", nil, nil)
	members := decode[map[string]any](t, resp)
	if got := members["members"].([]any); len(got) != 1 || got[0] != "0xmember" {
		t.Fatalf("unexpected members: %v", got)
	}

	// The owner retires the drained grant.
	resp = api.post("/v1/vestings/stop", map[string]any{
		"team_id": 7,
		"member":  "0xmember",
	}, ownerAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stop status: %d", resp.StatusCode)
	}
	stopped := decode[map[string]any](t, resp)
	if stopped["released"].(float64) != 1000 {
		t.Fatalf("unexpected released at stop: %v", stopped["released"])
	}

	resp = api.get("/v1/teams/7/archived", url.Values{"limit": []string{"10"}}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected archived status: %d", resp.StatusCode)
	}
	archived := decode[archivedFlatResponse](t, resp)
	if len(archived.Members) != 1 || archived.Members[0] != "0xmember" {
		t.Fatalf("unexpected archived members: %v", archived.Members)
	}
	if archived.NextAfter == 0 {
		t.Fatalf("expected pagination cursor in archived response")
	}

	resp = api.get("/v1/teams/7/members", nil, nil)
	members = decode[map[string]any](t, resp)
	if got := members["members"].([]any); len(got) != 0 {
		t.Fatalf("expected no active members after stop, got %v", got)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/vestings", map[string]any{
		"team_id":      1,
		"member":       "0xm",
		"duration":     3600,
		"total_amount": 100,
		"asset":        "CNC",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"caller": ""}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	ownerAuth := api.authAs("0xowner")

	// No active grant for the caller.
	resp := api.post("/v1/vestings/release", map[string]any{"team_id": 42}, ownerAuth)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing grant, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Team identity conflicts surface as 409.
	resp = api.post("/v1/teams", map[string]any{"team_id": 3, "asset": "CNC"}, ownerAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = api.post("/v1/teams", map[string]any{
		"team_id": 3,
		"owner":   "0xsomeoneelse",
		"asset":   "CNC",
	}, ownerAuth)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for conflicting team, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Zero-amount grants are rejected before touching custody.
	resp = api.post("/v1/vestings", map[string]any{
		"team_id":      3,
		"member":       "0xm",
		"duration":     3600,
		"total_amount": 0,
		"asset":        "CNC",
	}, ownerAuth)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero amount, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Malformed path parameters.
	resp = api.get("/v1/vestings/not-a-number/0xm/vested", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad team id, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown pairs read as zero rather than erroring.
	resp = api.get("/v1/vestings/3/0xghost/vested", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for unknown pair, got %d", resp.StatusCode)
	}
	vested := decode[map[string]any](t, resp)
	if vested["vested"].(float64) != 0 {
		t.Fatalf("expected zero vested for unknown pair, got %v", vested["vested"])
	}
}

func TestAPIPauseLifecycle(t *testing.T) {
	api := newTestAPI(t)
	adminAuth := api.authAs("0xadmin")
	ownerAuth := api.authAs("0xowner")

	resp := api.post("/v1/admin/pause", nil, ownerAuth)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin pause, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/admin/pause", nil, adminAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin pause, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/vestings", map[string]any{
		"team_id":      1,
		"member":       "0xm",
		"duration":     3600,
		"total_amount": 100,
		"asset":        "CNC",
	}, ownerAuth)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while paused, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Info keeps answering and reports the pause.
	resp = api.get("/v1/info", nil, nil)
	info := decode[map[string]any](t, resp)
	if info["paused"] != true {
		t.Fatalf("expected paused=true in info, got %v", info["paused"])
	}

	resp = api.post("/v1/admin/unpause", nil, adminAuth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin unpause, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/vestings", map[string]any{
		"team_id":      1,
		"member":       "0xm",
		"duration":     3600,
		"total_amount": 100,
		"asset":        "CNC",
	}, ownerAuth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 after unpause, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
