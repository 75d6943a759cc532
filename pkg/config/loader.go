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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     int    `yaml:"port"`
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"log_level"`

	FrameSource string `yaml:"frame_source"` // "camera" or "ingest"

	Capture  CaptureConfig  `yaml:"capture"`
	Detector DetectorConfig `yaml:"detector"`
	Storage  StorageConfig  `yaml:"storage"`
	Sources  []SourceConfig `yaml:"sources"`
}

type CaptureConfig struct {
	Command         string `yaml:"command"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	Quality         int    `yaml:"quality"`
	Resolution      string `yaml:"resolution"`
}

type DetectorConfig struct {
	Type                string  `yaml:"type"` // "remote" or "local"
	APIKey              string  `yaml:"api_key"`
	Endpoint            string  `yaml:"endpoint"`
	ModelCommand        string  `yaml:"model_command"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	Annotate            bool    `yaml:"annotate"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// SourceConfig describes one push-ingest broker subscription.
type SourceConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

func (s StorageConfig) ImagesDir() string    { return filepath.Join(s.Path, "images") }
func (s StorageConfig) ResultsDir() string   { return filepath.Join(s.Path, "results") }
func (s StorageConfig) QueueFile() string    { return filepath.Join(s.Path, "process_queue.txt") }
func (s StorageConfig) ProcessedLog() string { return filepath.Join(s.Path, "processed_log.txt") }

func Default() *Config {
	return &Config{
		Port:        8000,
		Debug:       false,
		LogLevel:    "info",
		FrameSource: "camera",
		Capture: CaptureConfig{
			Command:         "rpicam-still",
			IntervalSeconds: 5,
			Quality:         85,
			Resolution:      "1920x1080",
		},
		Detector: DetectorConfig{
			Type:                "remote",
			Endpoint:            "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent",
			ConfidenceThreshold: 0.4,
			TimeoutSeconds:      30,
		},
		Storage: StorageConfig{Path: "./storage"},
	}
}

// Load reads the yaml config at path over the defaults. A missing file
// is not an error: the defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)

	if _, _, err := cfg.Capture.Dimensions(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = v == "true" || v == "1"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DETECTOR_API_KEY"); v != "" {
		cfg.Detector.APIKey = v
	}
	if v := os.Getenv("CAPTURE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Capture.IntervalSeconds = n
		}
	}
	if v := os.Getenv("IMAGE_QUALITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Capture.Quality = n
		}
	}
	if v := os.Getenv("CAMERA_RESOLUTION"); v != "" {
		cfg.Capture.Resolution = v
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
}

// Dimensions parses the WxH resolution string.
func (c CaptureConfig) Dimensions() (width, height int, err error) {
	parts := strings.SplitN(c.Resolution, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid resolution %q", c.Resolution)
	}
	width, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution %q", c.Resolution)
	}
	height, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution %q", c.Resolution)
	}
	return width, height, nil
}
