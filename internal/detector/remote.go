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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/edgevision/obstacle-relay/pkg/config"
	"github.com/edgevision/obstacle-relay/pkg/core"
)

const detectionPrompt = `Analyze this image for obstacle detection. Look for any objects, people, vehicles, or barriers that could be obstacles in a path or navigation context.

Respond in JSON format with:
{
    "has_obstacle": boolean,
    "obstacles": [
        {
            "type": "string (person/vehicle/object/barrier)",
            "confidence": float (0.0-1.0),
            "description": "brief description"
        }
    ],
    "risk_level": "string (low/medium/high)",
    "recommendation": "string (action to take)"
}

Be precise and accurate. Only mark has_obstacle as true if there are clear obstacles that would impede movement or navigation.`

const maxRetries = 3

// Remote sends frames to a hosted vision model and strict-parses its
// JSON verdict. It fails closed: transport trouble is
// ErrDetectorUnavailable, an unparseable or out-of-schema reply is
// ErrDetectorBadResponse.
type Remote struct {
	endpoint string
	apiKey   string
	client   *http.Client
	backoff  time.Duration
	logger   *slog.Logger
}

func NewRemote(cfg config.DetectorConfig, logger *slog.Logger) *Remote {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		backoff:  time.Second,
		logger:   logger,
	}
}

func (d *Remote) Name() string { return "remote" }

type generateRequest struct {
	Contents []struct {
		Parts []part `json:"parts"`
	} `json:"contents"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (d *Remote) Analyze(ctx context.Context, frame *core.Frame) (*core.DetectionResult, error) {
	imgBytes, err := os.ReadFile(frame.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read frame: %v", core.ErrDetectorUnavailable, err)
	}

	var req generateRequest
	req.Contents = make([]struct {
		Parts []part `json:"parts"`
	}, 1)
	req.Contents[0].Parts = []part{
		{Text: detectionPrompt},
		{InlineData: &inlineData{
			MimeType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(imgBytes),
		}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", core.ErrDetectorUnavailable, err)
	}

	text, err := d.call(ctx, body)
	if err != nil {
		return nil, err
	}

	result, err := parseDetection(text)
	if err != nil {
		return nil, err
	}

	d.logger.Info("remote analysis complete", "frame", frame.Path, "has_obstacle", result.HasObstacle)
	return result, nil
}

// call posts the request, retrying with exponential backoff when the
// model reports overload (503).
func (d *Remote) call(ctx context.Context, body []byte) (string, error) {
	url := d.endpoint
	if d.apiKey != "" {
		url += "?key=" + d.apiKey
	}

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("%w: %v", core.ErrDetectorUnavailable, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("%w: %v", core.ErrDetectorUnavailable, err)
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("%w: read response: %v", core.ErrDetectorUnavailable, err)
		}

		if resp.StatusCode == http.StatusServiceUnavailable && attempt < maxRetries {
			delay := d.backoff * time.Duration(1<<(attempt-1))
			d.logger.Warn("model overloaded, retrying", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", core.ErrDetectorUnavailable, ctx.Err())
			}
		}

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("%w: status %d", core.ErrDetectorUnavailable, resp.StatusCode)
		}

		var gr generateResponse
		if err := json.Unmarshal(respBody, &gr); err != nil {
			return "", fmt.Errorf("%w: %v", core.ErrDetectorBadResponse, err)
		}
		if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
			return "", fmt.Errorf("%w: empty candidates", core.ErrDetectorBadResponse)
		}
		return gr.Candidates[0].Content.Parts[0].Text, nil
	}
}

// parseDetection strips markdown fencing and strict-parses the verdict.
// Unknown risk levels or obstacle types are rejected here, at the
// boundary, not passed through.
func parseDetection(text string) (*core.DetectionResult, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var result core.DetectionResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDetectorBadResponse, err)
	}
	if result.RiskLevel == "" {
		result.RiskLevel = core.RiskMedium
	}
	for i := range result.Obstacles {
		if result.Obstacles[i].Type == "" {
			return nil, fmt.Errorf("%w: obstacle %d missing type", core.ErrDetectorBadResponse, i)
		}
		result.Obstacles[i].Confidence = clamp01(result.Obstacles[i].Confidence)
	}
	return &result, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
