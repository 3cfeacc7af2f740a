package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// Smoke-tests a running vesting-api instance end to end: grant, release,
// stop, archived history. Requires the API to run without an auth secret
// so the X-Caller header identifies callers.
func main() {
	base := os.Getenv("VESTING_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	teamID := time.Now().Unix()
	owner := "0xsmoke-owner"
	member := "0xsmoke-member"
	now := time.Now().Unix()

	// Fully vested grant: started an hour ago, one hour duration, no cliff.
	var created struct {
		Total int64 `json:"total_amount"`
	}
	post(client, base+"/v1/vestings", owner, map[string]any{
		"team_id":      teamID,
		"member":       member,
		"start":        now - 3600,
		"duration":     3600,
		"cliff":        0,
		"total_amount": 1000,
		"asset":        "CNC",
	}, &created)
	if created.Total != 1000 {
		log.Fatalf("unexpected grant total: %d", created.Total)
	}

	var vested struct {
		Vested int64 `json:"vested"`
	}
	get(client, fmt.Sprintf("%s/v1/vestings/%d/%s/vested", base, teamID, member), &vested)
	if vested.Vested != 1000 {
		log.Fatalf("expected fully vested grant, got %d", vested.Vested)
	}

	var released struct {
		Amount int64 `json:"amount"`
	}
	post(client, base+"/v1/vestings/release", member, map[string]any{"team_id": teamID}, &released)
	if released.Amount != 1000 {
		log.Fatalf("unexpected release amount: %d", released.Amount)
	}

	var stopped struct {
		Released int64 `json:"released"`
	}
	post(client, base+"/v1/vestings/stop", owner, map[string]any{
		"team_id": teamID,
		"member":  member,
	}, &stopped)
	if stopped.Released != 1000 {
		log.Fatalf("unexpected released at stop: %d", stopped.Released)
	}

	var archived struct {
		Members []string `json:"members"`
	}
	get(client, fmt.Sprintf("%s/v1/teams/%d/archived", base, teamID), &archived)
	if len(archived.Members) != 1 || archived.Members[0] != member {
		log.Fatalf("unexpected archived history: %v", archived.Members)
	}

	var members struct {
		Members []string `json:"members"`
	}
	get(client, fmt.Sprintf("%s/v1/teams/%d/members", base, teamID), &members)
	if len(members.Members) != 0 {
		log.Fatalf("expected no active members after stop, got %v", members.Members)
	}

	fmt.Printf("✅ vesting smoke test passed: team=%d\n", teamID)
}

func post(client *http.Client, url, caller string, body, out any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", url, err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller", caller)
	do(client, req, out)
}

func get(client *http.Client, url string, out any) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	do(client, req, out)
}

func do(client *http.Client, req *http.Request, out any) {
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		log.Fatalf("%s %s: status %d: %v", req.Method, req.URL, resp.StatusCode, errBody)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s: %v", req.URL, err)
		}
	}
}
