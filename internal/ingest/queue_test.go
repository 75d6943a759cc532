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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(filepath.Join(t.TempDir(), "process_queue.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return q
}

func TestQueueAppendAndDrain(t *testing.T) {
	q := newTestQueue(t)

	for i := 1; i <= 3; i++ {
		entry := QueueEntry{
			Filename:   "frame.jpg",
			Filepath:   "/tmp/frame.jpg",
			Timestamp:  "2025-06-01T10:00:00Z",
			Sequence:   i,
			Size:       100,
			ReceivedAt: time.Now().Format(time.RFC3339),
		}
		if err := q.Append(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	entries, skipped, err := q.Drain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped != 0 || len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d (skipped %d)", len(entries), skipped)
	}

	// Drain truncates: a second drain finds nothing.
	entries, _, err = q.Drain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty queue after drain, got %d", len(entries))
	}
}

func TestQueueDrainMissingFile(t *testing.T) {
	q := newTestQueue(t)
	entries, skipped, err := q.Drain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 || skipped != 0 {
		t.Fatalf("expected empty result, got %d entries %d skipped", len(entries), skipped)
	}
}

func TestQueueDrainSkipsBadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "process_queue.txt")
	content := `{"filename": "a.jpg", "filepath": "/tmp/a.jpg", "timestamp": "t", "sequence": 1, "size": 10, "received_at": "2025-06-01T10:00:00Z"}
this line is garbage
{"filename": "b.jpg", "filepath": "/tmp/b.jpg", "timestamp": "t", "sequence": 2, "size": 20, "received_at": "2025-06-01T10:00:01Z"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q, err := NewQueue(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, skipped, err := q.Drain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("expected 1 skipped line, got %d", skipped)
	}
	if len(entries) != 2 || entries[0].Filename != "a.jpg" || entries[1].Filename != "b.jpg" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestQueueSourceHandsOutFramesInOrder(t *testing.T) {
	q := newTestQueue(t)
	for i := 1; i <= 2; i++ {
		entry := QueueEntry{
			Filename:   "frame.jpg",
			Filepath:   "/tmp/frame.jpg",
			Sequence:   float64(i),
			ReceivedAt: "2025-06-01T10:00:00Z",
		}
		if err := q.Append(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	src := NewQueueSource(q, testLogger())
	ctx := context.Background()

	first, err := src.NextFrame(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == nil || first.Sequence != 1 {
		t.Fatalf("expected sequence 1, got %+v", first)
	}

	second, err := src.NextFrame(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second == nil || second.Sequence != 2 {
		t.Fatalf("expected sequence 2, got %+v", second)
	}

	third, err := src.NextFrame(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third != nil {
		t.Fatalf("expected no frame on empty queue, got %+v", third)
	}
}

func TestSequenceNumber(t *testing.T) {
	cases := []struct {
		in   any
		want int64
	}{
		{float64(7), 7},
		{"42", 42},
		{"not-a-number", 0},
		{nil, 0},
	}
	for _, c := range cases {
		if got := sequenceNumber(c.in); got != c.want {
			t.Fatalf("sequenceNumber(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}
