package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/teams/42/members":           "/v1/teams/:id/members",
		"/v1/teams/42/archived?limit=10": "/v1/teams/:id/archived",
		"/v1/members/0xabc/teams":        "/v1/members/:addr/teams",
		"/v1/vestings/42/0xabc/vested":   "/v1/vestings/:id/:addr/vested",
		"/v1/vestings":                   "/v1/vestings",
		"/v1/vestings/release":           "/v1/vestings/release",
		"/v1/events":                     "/v1/events",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
