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

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/edgevision/obstacle-relay/internal/logging"
	"github.com/edgevision/obstacle-relay/pkg/config"
	"github.com/edgevision/obstacle-relay/pkg/core"
)

// Coordinator owns the capture/detect/notify cycle and the pipeline
// state machine. State is mutated only through Start and Stop; at most
// one capture loop runs no matter how many Start calls arrive.
type Coordinator struct {
	source      core.FrameSource
	detector    core.Detector
	broadcaster core.Broadcaster
	cycles      *logging.CycleLogger
	logger      *slog.Logger

	processedLog string

	mu           sync.Mutex
	state        core.PipelineState
	cancel       context.CancelFunc
	done         chan struct{}
	currentImage string
	interval     time.Duration
}

func New(
	source core.FrameSource,
	detector core.Detector,
	broadcaster core.Broadcaster,
	interval time.Duration,
	cycles *logging.CycleLogger,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		source:      source,
		detector:    detector,
		broadcaster: broadcaster,
		cycles:      cycles,
		logger:      logger,
		state:       core.StateIdle,
		interval:    interval,
	}
}

// WithProcessedLog records loop-path analyses of ingested frames to the
// given append-only log file.
func (c *Coordinator) WithProcessedLog(path string) *Coordinator {
	c.processedLog = path
	return c
}

// Start launches the capture loop. It is idempotent: a second Start
// without an intervening Stop reports false and changes nothing.
func (c *Coordinator) Start(ctx context.Context) bool {
	c.mu.Lock()
	if c.state == core.StateCapturing {
		c.mu.Unlock()
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.state = core.StateCapturing
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.broadcaster.Broadcast(core.NewStatusUpdate("starting", "Obstacle detection starting..."))
	go c.run(loopCtx, done)
	c.broadcaster.Broadcast(core.NewStatusUpdate("active", "Obstacle detection is now active"))

	c.logger.Info("pipeline started", "source", c.source.Name(), "detector", c.detector.Name())
	return true
}

// Stop signals the loop to terminate after its current iteration. No
// in-flight capture or detection is forcibly killed.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = core.StateStopped
	c.mu.Unlock()

	c.broadcaster.Broadcast(core.NewStatusUpdate("stopped", "Obstacle detection stopped"))
	c.logger.Info("pipeline stopped")
}

// Done reports the running loop's completion channel, or a closed
// channel when no loop was ever started.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

func (c *Coordinator) State() core.PipelineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Active() bool {
	return c.State() == core.StateCapturing
}

func (c *Coordinator) CurrentImage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentImage
}

func (c *Coordinator) setCurrentImage(path string) {
	c.mu.Lock()
	c.currentImage = path
	c.mu.Unlock()
}

func (c *Coordinator) sleepInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// ApplyConfig hot-reloads the cycle interval.
func (c *Coordinator) ApplyConfig(cfg *config.Config) {
	if cfg.Capture.IntervalSeconds <= 0 {
		return
	}
	c.mu.Lock()
	c.interval = time.Duration(cfg.Capture.IntervalSeconds) * time.Second
	c.mu.Unlock()
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.cycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.sleepInterval()):
		}
	}
}

// cycle runs one capture→detect→notify pass. Every failure inside it
// is recovered locally: the loop never terminates because one cycle
// went wrong.
func (c *Coordinator) cycle(ctx context.Context) {
	started := time.Now()

	frame, err := c.source.NextFrame(ctx)
	if err != nil {
		c.logger.Error("cycle capture failed", "source", c.source.Name(), "error", err)
		c.cycles.Log(c.source.Name(), nil, logging.OutcomeFailed, 0, c.broadcaster.ActiveCount(), time.Since(started))
		return
	}
	if frame == nil {
		c.cycles.Log(c.source.Name(), nil, logging.OutcomeNoFrame, 0, c.broadcaster.ActiveCount(), time.Since(started))
		return
	}

	c.setCurrentImage(frame.Path)

	// The detector runs on its own goroutine under an uncancellable
	// context: Stop lets an in-flight call finish, and the loop exits
	// at the top of the next iteration.
	resultCh := make(chan *core.DetectionResult, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := c.detector.Analyze(context.WithoutCancel(ctx), frame)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	var result *core.DetectionResult
	select {
	case result = <-resultCh:
	case err := <-errCh:
		c.logger.Error("detection failed, skipping cycle", "frame", frame.Path, "error", err)
		c.cycles.Log(c.source.Name(), frame, logging.OutcomeFailed, 0, c.broadcaster.ActiveCount(), time.Since(started))
		return
	}

	outcome := logging.OutcomeClear
	if result.HasObstacle {
		outcome = logging.OutcomeObstacle
		c.broadcaster.Broadcast(core.NewObstacleAlert(result, frame.Path))
		c.logger.Warn("obstacle alert sent", "risk_level", result.RiskLevel, "obstacles", len(result.Obstacles))
	}

	c.appendProcessedLog(frame, result, time.Since(started))
	c.cycles.Log(c.source.Name(), frame, outcome, len(result.Obstacles), c.broadcaster.ActiveCount(), time.Since(started))
}

// Capture performs a one-shot manual capture, bypassing the loop. The
// result is returned to the caller and nothing is broadcast.
func (c *Coordinator) Capture(ctx context.Context) (string, error) {
	frame, err := c.source.NextFrame(ctx)
	if err != nil {
		return "", err
	}
	if frame == nil {
		return "", core.ErrCaptureFailed
	}
	c.setCurrentImage(frame.Path)
	return frame.Path, nil
}

// AnalyzeCurrent runs the detector on the most recently captured image.
// Manual analysis is diagnostic: it never broadcasts.
func (c *Coordinator) AnalyzeCurrent(ctx context.Context) (*core.DetectionResult, string, error) {
	current := c.CurrentImage()
	if current == "" {
		return nil, "", core.ErrNoFrame
	}

	result, err := c.detector.Analyze(ctx, &core.Frame{Path: current, CapturedAt: time.Now()})
	if err != nil {
		return nil, current, err
	}
	return result, current, nil
}

// appendProcessedLog records one completed ingest-frame analysis.
func (c *Coordinator) appendProcessedLog(frame *core.Frame, result *core.DetectionResult, elapsed time.Duration) {
	if c.processedLog == "" {
		return
	}

	entry := struct {
		Timestamp        string `json:"timestamp"`
		Filename         string `json:"filename"`
		Sequence         int64  `json:"sequence"`
		ObjectsDetected  int    `json:"objects_detected"`
		ProcessingTimeMS int64  `json:"processing_time_ms"`
	}{
		Timestamp:        time.Now().Format(time.RFC3339),
		Filename:         filepath.Base(frame.Path),
		Sequence:         frame.Sequence,
		ObjectsDetected:  len(result.Obstacles),
		ProcessingTimeMS: elapsed.Milliseconds(),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	f, err := os.OpenFile(c.processedLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		c.logger.Warn("processed log open failed", "path", c.processedLog, "error", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s\n", line)
}
