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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgevision/obstacle-relay/pkg/core"
)

// Saver decodes inbound ingest messages and persists them. The decode
// happens on the receive path; the disk write is offloaded to its own
// goroutine so a slow write never stalls the next message.
type Saver struct {
	imagesDir string
	queue     *Queue
	logger    *slog.Logger
	wg        sync.WaitGroup
	dropped   atomic.Int64
}

type envelope struct {
	ImageB64  *string `json:"image_b64"`
	Seq       any     `json:"seq"`
	Timestamp string  `json:"timestamp"`
}

func NewSaver(imagesDir string, queue *Queue, logger *slog.Logger) (*Saver, error) {
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create images dir: %w", err)
	}
	return &Saver{
		imagesDir: imagesDir,
		queue:     queue,
		logger:    logger,
	}, nil
}

// Run consumes messages until ctx is cancelled.
func (s *Saver) Run(ctx context.Context, ch <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Process(msg); err != nil {
				s.logger.Warn("dropped ingest message", "source", msg.SourceName, "error", err)
			}
		}
	}
}

// Process validates one message and schedules its persistence.
// Malformed payloads are dropped: they never crash the receive loop and
// never produce files or queue entries.
func (s *Saver) Process(msg Message) error {
	var env envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		s.dropped.Add(1)
		return fmt.Errorf("%w: %v", core.ErrIngestMalformed, err)
	}
	if env.ImageB64 == nil {
		s.dropped.Add(1)
		return fmt.Errorf("%w: missing image_b64", core.ErrIngestMalformed)
	}

	imgBytes, err := base64.StdEncoding.DecodeString(*env.ImageB64)
	if err != nil {
		s.dropped.Add(1)
		return fmt.Errorf("%w: bad base64: %v", core.ErrIngestMalformed, err)
	}

	timestamp := env.Timestamp
	if timestamp == "" {
		timestamp = msg.ReceivedAt.Format(time.RFC3339)
	}

	s.wg.Add(1)
	go s.save(imgBytes, env.Seq, timestamp)
	return nil
}

func (s *Saver) save(imgBytes []byte, seq any, timestamp string) {
	defer s.wg.Done()

	now := time.Now()
	filename := fmt.Sprintf("frame_%s_%s.jpg", seqText(seq), now.Format("20060102_150405"))
	path := filepath.Join(s.imagesDir, filename)

	if err := os.WriteFile(path, imgBytes, 0o644); err != nil {
		s.logger.Error("frame save failed", "filename", filename, "error", err)
		return
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	entry := QueueEntry{
		Filename:   filename,
		Filepath:   abs,
		Timestamp:  timestamp,
		Sequence:   seq,
		Size:       len(imgBytes),
		ReceivedAt: now.Format(time.RFC3339),
	}
	if err := s.queue.Append(entry); err != nil {
		s.logger.Error("queue append failed", "filename", filename, "error", err)
		return
	}

	s.logger.Info("frame saved", "filename", filename, "size", len(imgBytes))
}

// Wait blocks until all scheduled saves complete. Used on shutdown and
// in tests.
func (s *Saver) Wait() {
	s.wg.Wait()
}

// Dropped reports how many malformed messages were discarded.
func (s *Saver) Dropped() int64 {
	return s.dropped.Load()
}

func seqText(v any) string {
	switch n := v.(type) {
	case nil:
		return "unknown"
	case string:
		if n == "" {
			return "unknown"
		}
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case json.Number:
		return n.String()
	default:
		return fmt.Sprintf("%v", n)
	}
}
