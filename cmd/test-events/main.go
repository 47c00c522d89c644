// Command test-events generates synthetic behavioral sessions and
// submits them to a running pipeline instance, then triggers the
// extract and infer stages. Useful for smoke-testing a deployment.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"
)

// Default configuration constants.
const (
	defaultSessions = 10
	defaultBalloons = 8
	defaultTimeout  = 30 * time.Second
)

type event struct {
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data"`
}

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:9080", "Base URL of the service")
		sessions = flag.Int("sessions", defaultSessions, "Number of sessions to simulate")
		balloons = flag.Int("balloons", defaultBalloons, "Balloon rounds per session")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
		timeout  = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
	)
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	client := &http.Client{Timeout: *timeout}
	ctx := context.Background()

	for i := 0; i < *sessions; i++ {
		sessionID := fmt.Sprintf("sim-%d-%d", *seed%100000, i)
		userID := fmt.Sprintf("user-%d", i%5)
		if err := runSession(ctx, client, *baseURL, sessionID, userID, *balloons, rng); err != nil {
			os.Stderr.WriteString("session " + sessionID + " failed: " + err.Error() + "\n")
			return
		}
		fmt.Printf("session %s submitted\n", sessionID)
	}
}

// runSession plays one balloon-game session end to end: ingestion,
// extraction, inference.
func runSession(ctx context.Context, client *http.Client, baseURL, sessionID, userID string, balloons int, rng *rand.Rand) error {
	ms := time.Now().Add(-time.Hour).UnixMilli()
	batch := []event{{
		SessionID: sessionID,
		EventType: "session_start",
		EventData: map[string]any{
			"event_id":               sessionID + "-start",
			"user_id":                userID,
			"consent_given":          true,
			"timestamp_milliseconds": ms,
		},
	}}

	for b := 0; b < balloons; b++ {
		balloonID := fmt.Sprintf("b%d", b)
		pumps := 2 + rng.Intn(8)
		for n := 1; n <= pumps; n++ {
			ms += 300 + int64(rng.Intn(1200))
			batch = append(batch, event{
				SessionID: sessionID,
				EventType: "balloon_risk",
				EventData: map[string]any{
					"event_id":               fmt.Sprintf("%s-%s-p%d", sessionID, balloonID, n),
					"balloon_id":             balloonID,
					"pump_number":            n,
					"timestamp_milliseconds": ms,
				},
			})
		}
		ms += 500
		if rng.Float64() < 0.3 {
			batch = append(batch, event{
				SessionID: sessionID,
				EventType: "balloon_risk",
				EventData: map[string]any{
					"event_id":               sessionID + "-" + balloonID + "-pop",
					"balloon_id":             balloonID,
					"pumps_at_pop":           pumps,
					"timestamp_milliseconds": ms,
				},
			})
		} else {
			batch = append(batch, event{
				SessionID: sessionID,
				EventType: "balloon_risk",
				EventData: map[string]any{
					"event_id":               sessionID + "-" + balloonID + "-cash",
					"balloon_id":             balloonID,
					"earnings_collected":     float64(pumps) * 0.05,
					"timestamp_milliseconds": ms,
				},
			})
		}
	}

	ms += 1000
	batch = append(batch, event{
		SessionID: sessionID,
		EventType: "session_end",
		EventData: map[string]any{
			"event_id":               sessionID + "-end",
			"completed":              true,
			"timestamp_milliseconds": ms,
		},
	})

	if err := post(ctx, client, baseURL+"/events/batch", map[string]any{"events": batch}); err != nil {
		return err
	}
	if err := post(ctx, client, baseURL+"/sessions/"+sessionID+"/extract", nil); err != nil {
		return err
	}
	return post(ctx, client, baseURL+"/sessions/"+sessionID+"/infer", nil)
}

func post(ctx context.Context, client *http.Client, url string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s returned %s", url, resp.Status)
	}
	return nil
}
