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
	"testing"

	"github.com/edgevision/obstacle-relay/pkg/config"
	"github.com/edgevision/obstacle-relay/pkg/core"
)

func TestEstimatePositionAngle(t *testing.T) {
	cases := []struct {
		cx   float64
		want float64
	}{
		{0.5, 0},
		{0.0, -90},
		{1.0, 90},
		{0.75, 45},
		{0.25, -45},
		{1.5, 90},   // clamped
		{-0.5, -90}, // clamped
	}
	for _, c := range cases {
		pos := estimatePosition(modelBox{CX: c.cx, W: 0.1, H: 0.1})
		if pos.AngleDeg != c.want {
			t.Fatalf("cx=%f: expected angle %f, got %f", c.cx, c.want, pos.AngleDeg)
		}
	}
}

func TestEstimatePositionDistanceBuckets(t *testing.T) {
	cases := []struct {
		w, h     float64
		distance string
		size     string
	}{
		{0.6, 0.5, "1", "large"},  // area 0.30
		{0.3, 0.3, "2", "medium"}, // area 0.09
		{0.1, 0.1, "3", "small"},  // area 0.01
	}
	for _, c := range cases {
		pos := estimatePosition(modelBox{CX: 0.5, W: c.w, H: c.h})
		if pos.Distance != c.distance || pos.RelativeSize != c.size {
			t.Fatalf("w=%f h=%f: expected %s/%s, got %s/%s",
				c.w, c.h, c.distance, c.size, pos.Distance, pos.RelativeSize)
		}
	}
}

func TestPercentBBox(t *testing.T) {
	bbox := percentBBox(modelBox{CX: 0.5, CY: 0.5, W: 0.2, H: 0.4})
	if bbox.X != 40 || bbox.Y != 30 || bbox.Width != 20 || bbox.Height != 40 {
		t.Fatalf("unexpected bbox: %+v", bbox)
	}
}

func TestClassifyObstacle(t *testing.T) {
	cases := map[string]core.ObstacleType{
		"person":  core.ObstaclePerson,
		"Person":  core.ObstaclePerson,
		"car":     core.ObstacleVehicle,
		"truck":   core.ObstacleVehicle,
		"bicycle": core.ObstacleVehicle,
		"fence":   core.ObstacleBarrier,
		"wall":    core.ObstacleBarrier,
		"dog":     core.ObstacleObject,
		"chair":   core.ObstacleObject,
	}
	for name, want := range cases {
		if got := classifyObstacle(name); got != want {
			t.Fatalf("classifyObstacle(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestBuildResultEmpty(t *testing.T) {
	result := buildResult(nil)
	if result.HasObstacle {
		t.Fatal("expected no obstacle")
	}
	if result.RiskLevel != core.RiskLow || result.Recommendation != "Path clear" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Obstacles == nil {
		t.Fatal("expected empty obstacle slice, got nil")
	}
}

func TestBuildResultRiskEscalation(t *testing.T) {
	near := ObjectDetection{Name: "person", Confidence: 0.9, Position: Position{Distance: "1"}}
	mid := ObjectDetection{Name: "car", Confidence: 0.8, Position: Position{Distance: "2"}}
	far := ObjectDetection{Name: "chair", Confidence: 0.7, Position: Position{Distance: "3"}}

	result := buildResult([]ObjectDetection{far})
	if result.RiskLevel != core.RiskLow {
		t.Fatalf("expected low risk for distant object, got %s", result.RiskLevel)
	}

	result = buildResult([]ObjectDetection{far, mid})
	if result.RiskLevel != core.RiskMedium || result.Recommendation != "Proceed with caution" {
		t.Fatalf("expected medium risk, got %+v", result)
	}

	// High risk wins regardless of order.
	result = buildResult([]ObjectDetection{near, mid, far})
	if result.RiskLevel != core.RiskHigh || result.Recommendation != "Stop and change course" {
		t.Fatalf("expected high risk, got %+v", result)
	}
	result = buildResult([]ObjectDetection{mid, near})
	if result.RiskLevel != core.RiskHigh {
		t.Fatalf("expected high risk regardless of order, got %s", result.RiskLevel)
	}

	if len(result.Obstacles) != 2 || result.Obstacles[1].Type != core.ObstaclePerson {
		t.Fatalf("unexpected obstacles: %+v", result.Obstacles)
	}
}

func TestRound2(t *testing.T) {
	if round2(45.678) != 45.68 {
		t.Fatalf("unexpected rounding: %f", round2(45.678))
	}
	if round2(-45.678) != -45.68 {
		t.Fatalf("unexpected rounding: %f", round2(-45.678))
	}
	if round2(3) != 3 {
		t.Fatalf("unexpected rounding: %f", round2(3))
	}
}

func TestNewLocalRequiresModelCommand(t *testing.T) {
	_, err := NewLocal(config.DetectorConfig{}, t.TempDir(), testLogger())
	if err == nil {
		t.Fatal("expected missing model_command to be rejected")
	}
}

func TestLocalThresholdReload(t *testing.T) {
	d, err := NewLocal(config.DetectorConfig{ModelCommand: "python3 detect.py"}, t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Threshold() != 0.4 {
		t.Fatalf("expected default threshold 0.4, got %f", d.Threshold())
	}

	cfg := config.Default()
	cfg.Detector.ConfidenceThreshold = 0.7
	d.ApplyConfig(cfg)
	if d.Threshold() != 0.7 {
		t.Fatalf("expected threshold 0.7, got %f", d.Threshold())
	}

	cfg.Detector.ConfidenceThreshold = 0
	d.ApplyConfig(cfg)
	if d.Threshold() != 0.7 {
		t.Fatalf("expected zero threshold ignored, got %f", d.Threshold())
	}
}
