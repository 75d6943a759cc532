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

package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/edgevision/obstacle-relay/pkg/core"
)

// Hub holds the set of live observers and the most recent obstacle
// alert. All mutation goes through the hub mutex: concurrent Broadcast,
// Attach and Detach calls never corrupt the set, and successive
// broadcasts reach each observer in call order.
type Hub struct {
	mu        sync.Mutex
	observers map[string]core.Observer
	last      *core.Notification
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Hub {
	return &Hub{
		observers: make(map[string]core.Observer),
		logger:    logger,
	}
}

// Attach registers an observer under its derived identity. A reconnect
// arriving under the same identity replaces the stale connection, which
// is closed here.
func (h *Hub) Attach(o core.Observer) {
	h.mu.Lock()
	if prev, ok := h.observers[o.ID()]; ok && prev != o {
		prev.Close()
	}
	h.observers[o.ID()] = o
	count := len(h.observers)
	h.mu.Unlock()
	h.logger.Info("observer attached", "observer_id", o.ID(), "total", count)
}

// Detach removes the given observer. It is idempotent, and a stale
// connection detaching after a reconnect replaced it never evicts the
// replacement: only the exact observer held in the table is removed.
func (h *Hub) Detach(o core.Observer) {
	h.mu.Lock()
	cur, ok := h.observers[o.ID()]
	if ok && cur == o {
		delete(h.observers, o.ID())
	} else {
		ok = false
	}
	count := len(h.observers)
	h.mu.Unlock()
	if ok {
		h.logger.Info("observer detached", "observer_id", o.ID(), "total", count)
	}
}

// Broadcast serializes the notification once and delivers it to every
// observer. An observer whose delivery fails is removed in the same
// pass; the send is not retried. Obstacle alerts update the retained
// last-notification regardless of how many observers are attached.
func (h *Hub) Broadcast(n core.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n.Kind == core.KindObstacleAlert {
		retained := n
		h.last = &retained
	}

	if len(h.observers) == 0 {
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("marshal notification failed", "type", n.Kind, "error", err)
		return
	}

	for id, o := range h.observers {
		if err := o.Send(payload); err != nil {
			h.logger.Error("delivery failed, removing observer", "observer_id", id, "error", err)
			delete(h.observers, id)
			o.Close()
		}
	}
}

// LastNotification returns the most recently broadcast obstacle alert,
// or nil when none has been sent.
func (h *Hub) LastNotification() *core.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return nil
	}
	n := *h.last
	return &n
}

func (h *Hub) ActiveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// CloseAll detaches and closes every observer. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, o := range h.observers {
		o.Close()
		delete(h.observers, id)
	}
}
