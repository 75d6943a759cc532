// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgevision/obstacle-relay/pkg/config"
	"github.com/edgevision/obstacle-relay/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeTestFrame(t *testing.T) *core.Frame {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := os.WriteFile(path, []byte("fake-jpeg"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &core.Frame{Path: path, CapturedAt: time.Now()}
}

func modelReply(text string) string {
	reply := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	}
	data, _ := json.Marshal(reply)
	return string(data)
}

func newTestRemote(endpoint string) *Remote {
	r := NewRemote(config.DetectorConfig{
		Endpoint:       endpoint,
		APIKey:         "test-key",
		TimeoutSeconds: 5,
	}, testLogger())
	r.backoff = time.Millisecond
	return r
}

func TestAnalyzeParsesFencedVerdict(t *testing.T) {
	verdict := "```json\n{\"has_obstacle\": true, \"obstacles\": [{\"type\": \"person\", \"confidence\": 1.4, \"description\": \"pedestrian\"}], \"risk_level\": \"high\", \"recommendation\": \"Stop and change course\"}\n```"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("expected api key in query, got %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, modelReply(verdict))
	}))
	defer srv.Close()

	result, err := newTestRemote(srv.URL).Analyze(context.Background(), writeTestFrame(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.HasObstacle || result.RiskLevel != core.RiskHigh {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Obstacles) != 1 {
		t.Fatalf("expected 1 obstacle, got %d", len(result.Obstacles))
	}
	// Out-of-range confidence is clamped at the parse boundary.
	if result.Obstacles[0].Confidence != 1.0 {
		t.Fatalf("expected clamped confidence 1.0, got %f", result.Obstacles[0].Confidence)
	}
}

func TestAnalyzeRejectsUnknownRiskLevel(t *testing.T) {
	verdict := `{"has_obstacle": true, "obstacles": [], "risk_level": "extreme", "recommendation": "x"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelReply(verdict))
	}))
	defer srv.Close()

	_, err := newTestRemote(srv.URL).Analyze(context.Background(), writeTestFrame(t))
	if !errors.Is(err, core.ErrDetectorBadResponse) {
		t.Fatalf("expected ErrDetectorBadResponse, got %v", err)
	}
}

func TestAnalyzeRejectsObstacleWithoutType(t *testing.T) {
	verdict := `{"has_obstacle": true, "obstacles": [{"confidence": 0.8, "description": "blur"}], "risk_level": "high", "recommendation": "Stop"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelReply(verdict))
	}))
	defer srv.Close()

	_, err := newTestRemote(srv.URL).Analyze(context.Background(), writeTestFrame(t))
	if !errors.Is(err, core.ErrDetectorBadResponse) {
		t.Fatalf("expected ErrDetectorBadResponse, got %v", err)
	}
}

func TestAnalyzeRejectsNonJSONVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelReply("I could not analyze this image, sorry."))
	}))
	defer srv.Close()

	_, err := newTestRemote(srv.URL).Analyze(context.Background(), writeTestFrame(t))
	if !errors.Is(err, core.ErrDetectorBadResponse) {
		t.Fatalf("expected ErrDetectorBadResponse, got %v", err)
	}
}

func TestAnalyzeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestRemote(srv.URL).Analyze(context.Background(), writeTestFrame(t))
	if !errors.Is(err, core.ErrDetectorUnavailable) {
		t.Fatalf("expected ErrDetectorUnavailable, got %v", err)
	}
}

func TestAnalyzeRetriesOnOverload(t *testing.T) {
	var calls atomic.Int32
	verdict := `{"has_obstacle": false, "obstacles": [], "risk_level": "low", "recommendation": "Path clear"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, modelReply(verdict))
	}))
	defer srv.Close()

	result, err := newTestRemote(srv.URL).Analyze(context.Background(), writeTestFrame(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HasObstacle {
		t.Fatalf("unexpected result: %+v", result)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestAnalyzeGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestRemote(srv.URL).Analyze(context.Background(), writeTestFrame(t))
	if !errors.Is(err, core.ErrDetectorUnavailable) {
		t.Fatalf("expected ErrDetectorUnavailable, got %v", err)
	}
	if calls.Load() != maxRetries {
		t.Fatalf("expected %d attempts, got %d", maxRetries, calls.Load())
	}
}

func TestParseDetectionDefaultsRiskLevel(t *testing.T) {
	result, err := parseDetection(`{"has_obstacle": true, "obstacles": [], "recommendation": "careful"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RiskLevel != core.RiskMedium {
		t.Fatalf("expected medium default, got %s", result.RiskLevel)
	}
}

func TestAnalyzeMissingFrameFile(t *testing.T) {
	_, err := newTestRemote("http://127.0.0.1:0").Analyze(context.Background(),
		&core.Frame{Path: "/nonexistent/frame.jpg"})
	if !errors.Is(err, core.ErrDetectorUnavailable) {
		t.Fatalf("expected ErrDetectorUnavailable, got %v", err)
	}
}
