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

package camera

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/edgevision/obstacle-relay/pkg/config"
	"github.com/edgevision/obstacle-relay/pkg/core"
)

// Capture produces frames by invoking the still-capture command.
// Success requires a zero exit code AND the output file on disk.
type Capture struct {
	command   string
	imagesDir string
	logger    *slog.Logger

	mu      sync.Mutex
	quality int
	width   int
	height  int
}

func New(cfg *config.Config, logger *slog.Logger) (*Capture, error) {
	imagesDir := cfg.Storage.ImagesDir()
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}

	width, height, err := cfg.Capture.Dimensions()
	if err != nil {
		return nil, err
	}

	return &Capture{
		command:   cfg.Capture.Command,
		imagesDir: imagesDir,
		logger:    logger,
		quality:   cfg.Capture.Quality,
		width:     width,
		height:    height,
	}, nil
}

func (c *Capture) Name() string { return "camera" }

func (c *Capture) NextFrame(ctx context.Context) (*core.Frame, error) {
	now := time.Now()
	filename := fmt.Sprintf("capture_%s.jpg", now.Format("20060102_150405"))
	path := filepath.Join(c.imagesDir, filename)

	c.mu.Lock()
	quality, width, height := c.quality, c.width, c.height
	c.mu.Unlock()

	cmd := exec.CommandContext(ctx, c.command,
		"-o", path,
		"--quality", strconv.Itoa(quality),
		"--width", strconv.Itoa(width),
		"--height", strconv.Itoa(height),
		"--immediate",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		c.logger.Error("camera capture failed", "command", c.command, "stderr", stderr.String(), "error", err)
		return nil, fmt.Errorf("%w: %s", core.ErrCaptureFailed, err)
	}

	if _, err := os.Stat(path); err != nil {
		c.logger.Error("camera capture produced no file", "path", path)
		return nil, fmt.Errorf("%w: output file missing", core.ErrCaptureFailed)
	}

	c.logger.Info("image captured", "filename", filename)
	return &core.Frame{Path: path, CapturedAt: now}, nil
}

// ApplyConfig hot-reloads quality and resolution.
func (c *Capture) ApplyConfig(cfg *config.Config) {
	width, height, err := cfg.Capture.Dimensions()
	if err != nil {
		c.logger.Warn("ignoring reloaded resolution", "resolution", cfg.Capture.Resolution, "error", err)
		return
	}
	c.mu.Lock()
	c.quality = cfg.Capture.Quality
	c.width = width
	c.height = height
	c.mu.Unlock()
}
