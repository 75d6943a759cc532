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
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/edgevision/obstacle-relay/pkg/config"
	"github.com/edgevision/obstacle-relay/pkg/core"
)

const targetWidth = 416

// Local runs object detection through an external model process on a
// resized copy of the frame. On success the consumed source frame is
// deleted; on failure it is left in place for retry or inspection.
type Local struct {
	command    string
	args       []string
	resultsDir string
	annotate   bool
	logger     *slog.Logger

	mu        sync.Mutex
	threshold float64
}

// modelBox is one detection as printed by the model process:
// normalized center coordinates and extents.
type modelBox struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	CX         float64 `json:"cx"`
	CY         float64 `json:"cy"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
}

type Position struct {
	AngleDeg     float64 `json:"angle"`
	Distance     string  `json:"distance"`
	RelativeSize string  `json:"relative_size"`
}

type BBoxPercent struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type ObjectDetection struct {
	Name       string      `json:"name"`
	Confidence float64     `json:"confidence"`
	Position   Position    `json:"position"`
	BBox       BBoxPercent `json:"bbox"`
}

func NewLocal(cfg config.DetectorConfig, resultsDir string, logger *slog.Logger) (*Local, error) {
	fields := strings.Fields(cfg.ModelCommand)
	if len(fields) == 0 {
		return nil, fmt.Errorf("local detector: model_command not configured")
	}
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}

	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.4
	}

	return &Local{
		command:    fields[0],
		args:       fields[1:],
		resultsDir: resultsDir,
		annotate:   cfg.Annotate,
		logger:     logger,
		threshold:  threshold,
	}, nil
}

func (d *Local) Name() string { return "local" }

func (d *Local) Analyze(ctx context.Context, frame *core.Frame) (*core.DetectionResult, error) {
	img := gocv.IMRead(frame.Path, gocv.IMReadColor)
	if img.Empty() {
		return nil, fmt.Errorf("%w: unreadable frame %s", core.ErrDetectorUnavailable, frame.Path)
	}
	defer img.Close()

	scaledHeight := int(float64(img.Rows()) * float64(targetWidth) / float64(img.Cols()))
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(targetWidth, scaledHeight), 0, 0, gocv.InterpolationLanczos4)

	tmp := filepath.Join(os.TempDir(), "resized_"+filepath.Base(frame.Path))
	if ok := gocv.IMWrite(tmp, resized); !ok {
		return nil, fmt.Errorf("%w: write resized frame", core.ErrDetectorUnavailable)
	}
	defer os.Remove(tmp)

	boxes, err := d.runModel(ctx, tmp)
	if err != nil {
		return nil, err
	}

	detections := make([]ObjectDetection, 0, len(boxes))
	threshold := d.Threshold()
	for _, b := range boxes {
		if b.Confidence < threshold {
			continue
		}
		detections = append(detections, ObjectDetection{
			Name:       b.Name,
			Confidence: round2(clamp01(b.Confidence)),
			Position:   estimatePosition(b),
			BBox:       percentBBox(b),
		})
	}

	base := strings.TrimSuffix(filepath.Base(frame.Path), filepath.Ext(frame.Path))

	if d.annotate {
		d.writeAnnotated(resized, detections, base)
	}
	d.writeAnalysis(base, detections)

	result := buildResult(detections)

	// Ingest cleanup: the frame is consumed only when analysis succeeded.
	if err := os.Remove(frame.Path); err != nil {
		d.logger.Warn("failed to remove consumed frame", "frame", frame.Path, "error", err)
	}

	d.logger.Info("local analysis complete", "frame", frame.Path, "objects", len(detections))
	return result, nil
}

func (d *Local) runModel(ctx context.Context, imagePath string) ([]modelBox, error) {
	args := append(append([]string{}, d.args...), imagePath)
	out, err := exec.CommandContext(ctx, d.command, args...).Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("%w: model process: %v %s", core.ErrDetectorUnavailable, err, stderr)
	}

	var boxes []modelBox
	if err := json.Unmarshal(out, &boxes); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDetectorBadResponse, err)
	}
	return boxes, nil
}

func (d *Local) writeAnnotated(resized gocv.Mat, detections []ObjectDetection, base string) {
	annotated := resized.Clone()
	defer annotated.Close()

	green := color.RGBA{G: 255}
	width := annotated.Cols()
	height := annotated.Rows()
	for _, det := range detections {
		x := int(det.BBox.X / 100 * float64(width))
		y := int(det.BBox.Y / 100 * float64(height))
		w := int(det.BBox.Width / 100 * float64(width))
		h := int(det.BBox.Height / 100 * float64(height))
		rect := image.Rect(x, y, x+w, y+h)
		gocv.Rectangle(&annotated, rect, green, 2)
		label := fmt.Sprintf("%s %.2f", det.Name, det.Confidence)
		gocv.PutText(&annotated, label, image.Pt(x, y-4), gocv.FontHersheySimplex, 0.5, green, 1)
	}

	path := filepath.Join(d.resultsDir, base+"_annotated.jpg")
	if ok := gocv.IMWrite(path, annotated); !ok {
		d.logger.Warn("failed to write annotated frame", "path", path)
	}
}

func (d *Local) writeAnalysis(base string, detections []ObjectDetection) {
	out := struct {
		Objects      []ObjectDetection `json:"objects"`
		TotalObjects int               `json:"total_objects"`
		ProcessedAt  string            `json:"processed_at"`
	}{
		Objects:      detections,
		TotalObjects: len(detections),
		ProcessedAt:  time.Now().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(d.resultsDir, base+"_analysis.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		d.logger.Warn("failed to write analysis file", "path", path, "error", err)
	}
}

func (d *Local) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// ApplyConfig hot-reloads the confidence threshold.
func (d *Local) ApplyConfig(cfg *config.Config) {
	if cfg.Detector.ConfidenceThreshold <= 0 {
		return
	}
	d.mu.Lock()
	d.threshold = cfg.Detector.ConfidenceThreshold
	d.mu.Unlock()
}

// estimatePosition maps a normalized box to a coarse bearing: the
// horizontal center maps linearly to ±90° and the box area buckets into
// three distance bands.
func estimatePosition(b modelBox) Position {
	angle := (b.CX - 0.5) * 180
	if angle > 90 {
		angle = 90
	}
	if angle < -90 {
		angle = -90
	}

	area := b.W * b.H
	size := "small"
	distance := "3"
	switch {
	case area > 0.25:
		size = "large"
		distance = "1"
	case area > 0.05:
		size = "medium"
		distance = "2"
	}

	return Position{
		AngleDeg:     round2(angle),
		Distance:     distance,
		RelativeSize: size,
	}
}

func percentBBox(b modelBox) BBoxPercent {
	return BBoxPercent{
		X:      round2((b.CX - b.W/2) * 100),
		Y:      round2((b.CY - b.H/2) * 100),
		Width:  round2(b.W * 100),
		Height: round2(b.H * 100),
	}
}

func classifyObstacle(name string) core.ObstacleType {
	switch strings.ToLower(name) {
	case "person":
		return core.ObstaclePerson
	case "car", "truck", "bus", "bicycle", "motorcycle", "train":
		return core.ObstacleVehicle
	case "fence", "wall", "gate", "barrier":
		return core.ObstacleBarrier
	default:
		return core.ObstacleObject
	}
}

func buildResult(detections []ObjectDetection) *core.DetectionResult {
	result := &core.DetectionResult{
		HasObstacle: len(detections) > 0,
		Obstacles:   make([]core.Obstacle, 0, len(detections)),
		RiskLevel:   core.RiskLow,
	}

	for _, det := range detections {
		result.Obstacles = append(result.Obstacles, core.Obstacle{
			Type:       classifyObstacle(det.Name),
			Confidence: det.Confidence,
			Description: fmt.Sprintf("%s at %.0f degrees, distance %s",
				det.Name, det.Position.AngleDeg, det.Position.Distance),
		})
		switch det.Position.Distance {
		case "1":
			result.RiskLevel = core.RiskHigh
		case "2":
			if result.RiskLevel != core.RiskHigh {
				result.RiskLevel = core.RiskMedium
			}
		}
	}

	switch result.RiskLevel {
	case core.RiskHigh:
		result.Recommendation = "Stop and change course"
	case core.RiskMedium:
		result.Recommendation = "Proceed with caution"
	default:
		result.Recommendation = "Path clear"
	}
	return result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
