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
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/edgevision/obstacle-relay/pkg/core"
)

type mockObserver struct {
	id      string
	sendErr error
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
}

func (m *mockObserver) ID() string { return m.id }

func (m *mockObserver) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, payload)
	return nil
}

func (m *mockObserver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockObserver) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func alert() core.Notification {
	return core.NewObstacleAlert(&core.DetectionResult{
		HasObstacle:    true,
		Obstacles:      []core.Obstacle{{Type: core.ObstaclePerson, Confidence: 0.9, Description: "person"}},
		RiskLevel:      core.RiskHigh,
		Recommendation: "Stop and change course",
	}, "/tmp/frame.jpg")
}

func TestBroadcastDeliversToAllObservers(t *testing.T) {
	h := New(testLogger())
	a := &mockObserver{id: "a"}
	b := &mockObserver{id: "b"}
	h.Attach(a)
	h.Attach(b)

	h.Broadcast(alert())

	if a.sentCount() != 1 || b.sentCount() != 1 {
		t.Fatalf("expected 1 delivery each, got %d and %d", a.sentCount(), b.sentCount())
	}
}

func TestBroadcastWithNoObserversCachesAlert(t *testing.T) {
	h := New(testLogger())

	h.Broadcast(alert())

	last := h.LastNotification()
	if last == nil {
		t.Fatal("expected alert to be retained with zero observers")
	}
	if last.Kind != core.KindObstacleAlert {
		t.Fatalf("expected obstacle alert, got %s", last.Kind)
	}
}

func TestStatusUpdateNotCached(t *testing.T) {
	h := New(testLogger())
	o := &mockObserver{id: "a"}
	h.Attach(o)

	h.Broadcast(alert())
	h.Broadcast(core.NewStatusUpdate("stopped", "Obstacle detection stopped"))

	last := h.LastNotification()
	if last == nil || last.Kind != core.KindObstacleAlert {
		t.Fatalf("expected retained alert to survive status update, got %+v", last)
	}
	if o.sentCount() != 2 {
		t.Fatalf("expected both notifications delivered, got %d", o.sentCount())
	}
}

func TestFailedDeliveryRemovesObserver(t *testing.T) {
	h := New(testLogger())
	good := &mockObserver{id: "good"}
	bad := &mockObserver{id: "bad", sendErr: errors.New("connection reset")}
	h.Attach(good)
	h.Attach(bad)

	h.Broadcast(alert())

	if h.ActiveCount() != 1 {
		t.Fatalf("expected failed observer removed, active=%d", h.ActiveCount())
	}
	if !bad.closed {
		t.Fatal("expected failed observer to be closed")
	}

	h.Broadcast(alert())
	if good.sentCount() != 2 {
		t.Fatalf("expected surviving observer to keep receiving, got %d", good.sentCount())
	}
}

func TestDetachIdempotent(t *testing.T) {
	h := New(testLogger())
	o := &mockObserver{id: "a"}
	h.Attach(o)

	h.Detach(o)
	h.Detach(o)
	h.Detach(&mockObserver{id: "never-attached"})

	if h.ActiveCount() != 0 {
		t.Fatalf("expected 0 observers, got %d", h.ActiveCount())
	}
}

func TestAttachReplacesSameIdentity(t *testing.T) {
	h := New(testLogger())
	old := &mockObserver{id: "cam-1"}
	h.Attach(old)

	replacement := &mockObserver{id: "cam-1"}
	h.Attach(replacement)

	if h.ActiveCount() != 1 {
		t.Fatalf("expected reconnect to replace, active=%d", h.ActiveCount())
	}
	if !old.closed {
		t.Fatal("expected stale connection to be closed on replacement")
	}

	// The stale handler detaching later must not evict the replacement.
	h.Detach(old)
	if h.ActiveCount() != 1 {
		t.Fatalf("stale detach evicted replacement, active=%d", h.ActiveCount())
	}

	h.Broadcast(alert())
	if old.sentCount() != 0 || replacement.sentCount() != 1 {
		t.Fatalf("expected delivery to replacement only, got old=%d new=%d", old.sentCount(), replacement.sentCount())
	}
}

func TestLastNotificationReturnsCopy(t *testing.T) {
	h := New(testLogger())
	h.Broadcast(alert())

	first := h.LastNotification()
	first.Kind = core.KindStatusUpdate

	second := h.LastNotification()
	if second.Kind != core.KindObstacleAlert {
		t.Fatal("expected retained notification to be immutable from outside")
	}
}

func TestCloseAll(t *testing.T) {
	h := New(testLogger())
	a := &mockObserver{id: "a"}
	b := &mockObserver{id: "b"}
	h.Attach(a)
	h.Attach(b)

	h.CloseAll()

	if h.ActiveCount() != 0 {
		t.Fatalf("expected 0 observers, got %d", h.ActiveCount())
	}
	if !a.closed || !b.closed {
		t.Fatal("expected all observers closed")
	}
}
