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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/edgevision/obstacle-relay/pkg/core"
)

// QueueEntry is one line of the durable processing queue file.
type QueueEntry struct {
	Filename   string `json:"filename"`
	Filepath   string `json:"filepath"`
	Timestamp  string `json:"timestamp"`
	Sequence   any    `json:"sequence"`
	Size       int    `json:"size"`
	ReceivedAt string `json:"received_at"`
}

// Queue is the append-only queue file shared by the saver (appends) and
// the queue frame source (drains). One mutex covers both so an append
// can never be lost to a concurrent drain-and-truncate.
type Queue struct {
	path string
	mu   sync.Mutex
}

func NewQueue(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return &Queue{path: path}, nil
}

func (q *Queue) Append(entry QueueEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open queue file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append queue entry: %w", err)
	}
	return nil
}

// Drain reads every pending entry and truncates the file. Unparseable
// lines are returned in the skipped count rather than aborting the
// drain.
func (q *Queue) Drain() (entries []QueueEntry, skipped int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("read queue file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, 0, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e QueueEntry
		if err := json.Unmarshal(line, &e); err != nil {
			skipped++
			continue
		}
		entries = append(entries, e)
	}

	if err := os.WriteFile(q.path, nil, 0o644); err != nil {
		return entries, skipped, fmt.Errorf("truncate queue file: %w", err)
	}
	return entries, skipped, nil
}

// QueueSource is the push-ingest frame source: it hands out frames the
// saver queued, one per pipeline cycle.
type QueueSource struct {
	queue  *Queue
	logger *slog.Logger

	mu      sync.Mutex
	pending []QueueEntry
}

func NewQueueSource(queue *Queue, logger *slog.Logger) *QueueSource {
	return &QueueSource{queue: queue, logger: logger}
}

func (s *QueueSource) Name() string { return "ingest-queue" }

func (s *QueueSource) NextFrame(ctx context.Context) (*core.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		entries, skipped, err := s.queue.Drain()
		if err != nil {
			return nil, err
		}
		if skipped > 0 {
			s.logger.Warn("skipped unparseable queue lines", "count", skipped)
		}
		s.pending = entries
	}

	if len(s.pending) == 0 {
		return nil, nil
	}

	e := s.pending[0]
	s.pending = s.pending[1:]

	capturedAt, err := time.Parse(time.RFC3339, e.ReceivedAt)
	if err != nil {
		capturedAt = time.Now()
	}

	return &core.Frame{
		Path:       e.Filepath,
		CapturedAt: capturedAt,
		Sequence:   sequenceNumber(e.Sequence),
	}, nil
}

func sequenceNumber(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
			return parsed
		}
	case json.Number:
		if parsed, err := n.Int64(); err == nil {
			return parsed
		}
	}
	return 0
}
