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
	"context"
	"log/slog"
	"os"
	"time"
)

// Reloader receives updated settings when the config file changes.
type Reloader interface {
	ApplyConfig(cfg *Config)
}

// Watcher polls the config file's mtime and pushes reloaded capture and
// detector settings into the running components. Structural settings
// (port, sources, storage layout) are not hot-reloaded.
type Watcher struct {
	path      string
	reloaders []Reloader
	interval  time.Duration
	logger    *slog.Logger
	lastMod   time.Time
}

func NewWatcher(path string, logger *slog.Logger, reloaders ...Reloader) *Watcher {
	return &Watcher{
		path:      path,
		reloaders: reloaders,
		interval:  5 * time.Second,
		logger:    logger,
	}
}

func (w *Watcher) Watch(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}

			if !info.ModTime().After(w.lastMod) {
				continue
			}

			w.lastMod = info.ModTime()

			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Error("config reload failed", "path", w.path, "error", err)
				continue
			}

			for _, r := range w.reloaders {
				r.ApplyConfig(cfg)
			}
			w.logger.Info("settings reloaded", "path", w.path)
		}
	}
}
