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

package ingest

import (
	"context"
	"log/slog"
	"sync"
)

// Registry owns the configured ingest sources: connect them up front,
// run each consumer in its own goroutine, and track per-source health.
type Registry struct {
	sources map[string]Source
	healthy map[string]bool
	logger  *slog.Logger
	mu      sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sources: make(map[string]Source),
		healthy: make(map[string]bool),
		logger:  logger,
	}
}

func (r *Registry) Register(s Source) {
	r.mu.Lock()
	r.sources[s.Name()] = s
	r.mu.Unlock()
	r.logger.Info("registered ingest source", "name", s.Name(), "type", s.Type())
}

// ConnectAll connects every source, marking the ones that fail
// unhealthy rather than aborting startup. Returns the connected count.
func (r *Registry) ConnectAll(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	connected := 0
	for name, s := range r.sources {
		if err := s.Connect(ctx); err != nil {
			r.logger.Error("source connect failed", "name", name, "error", err)
			r.healthy[name] = false
		} else {
			r.healthy[name] = true
			connected++
		}
	}
	return connected
}

func (r *Registry) IsHealthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthy[name]
}

func (r *Registry) StartAll(ctx context.Context, ch chan<- Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, s := range r.sources {
		if !r.healthy[name] {
			continue
		}
		go func(n string, src Source) {
			if err := src.Start(ctx, ch); err != nil && ctx.Err() == nil {
				r.logger.Error("ingest source failed", "name", n, "error", err)
			}
		}(name, s)
	}
}

func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, s := range r.sources {
		r.logger.Info("stopping ingest source", "name", name)
		s.Disconnect(ctx)
	}
}
