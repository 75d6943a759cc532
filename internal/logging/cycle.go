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

package logging

import (
	"log/slog"
	"time"

	"github.com/edgevision/obstacle-relay/pkg/core"
)

// Cycle outcomes.
const (
	OutcomeNoFrame  = "no_frame"
	OutcomeClear    = "clear"
	OutcomeObstacle = "obstacle"
	OutcomeFailed   = "failed"
)

// CycleLogger emits one structured record per pipeline cycle.
type CycleLogger struct {
	logger *slog.Logger
}

func NewCycleLogger(logger *slog.Logger) *CycleLogger {
	return &CycleLogger{logger: logger}
}

func (c *CycleLogger) Log(source string, frame *core.Frame, outcome string, obstacles, observers int, elapsed time.Duration) {
	attrs := []any{
		"source", source,
		"outcome", outcome,
		"obstacle_count", obstacles,
		"observers", observers,
		"elapsed_ms", elapsed.Milliseconds(),
	}
	if frame != nil {
		attrs = append(attrs,
			"frame", frame.Path,
			"sequence", frame.Sequence,
			"captured_at", frame.CapturedAt,
		)
	}
	c.logger.Info("cycle", attrs...)
}
