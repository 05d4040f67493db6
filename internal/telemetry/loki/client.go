// Package loki provides a client to push log entries to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bcryptcheck/internal/telemetry/domain"
)

// jobLabel is the job label on every stream pushed by bcryptcheck.
const jobLabel = "bcryptcheck"

// ErrNoBaseURL is returned when a push is attempted without a Loki URL.
var ErrNoBaseURL = errors.New("loki: base URL is empty")

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters that are invalid in Loki label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// PushEvent sends a single log line to Loki at the given base URL (e.g. http://localhost:3100).
// labels are added to the stream next to job=bcryptcheck; empty values are dropped.
// Returns an error if the HTTP request fails or Loki returns non-2xx.
func PushEvent(ctx context.Context, client *http.Client, baseURL string, timestamp time.Time, line string, labels map[string]string) error {
	if baseURL == "" {
		return ErrNoBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = jobLabel
	for k, v := range labels {
		sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_")
		if sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	body := PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimSuffix(baseURL, "/") + "/loki/api/v1/push"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}

// Emitter pushes run events to Loki as JSON lines.
type Emitter struct {
	baseURL string
	client  *http.Client
}

// NewEmitter returns an Emitter for baseURL. A nil client uses http.DefaultClient.
func NewEmitter(baseURL string, client *http.Client) *Emitter {
	return &Emitter{baseURL: strings.TrimSpace(baseURL), client: client}
}

// Emit pushes event with low-cardinality labels: event_type, driver, success, env and host_platform.
func (e *Emitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	labels := map[string]string{
		"event_type":    event.Type,
		"driver":        event.Driver,
		"success":       strconv.FormatBool(event.Success),
		"env":           event.Env,
		"host_platform": event.HostPlatform,
	}
	return PushEvent(ctx, e.client, e.baseURL, ts, string(line), labels)
}
