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

package core

import (
	"encoding/json"
	"fmt"
	"time"
)

type PipelineState int

const (
	StateIdle PipelineState = iota
	StateCapturing
	StateStopped
)

func (s PipelineState) String() string {
	switch s {
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Frame is one captured or ingested image awaiting detection.
type Frame struct {
	Path       string    `json:"path"`
	CapturedAt time.Time `json:"captured_at"`
	Sequence   int64     `json:"sequence,omitempty"`
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = level
	return nil
}

type ObstacleType string

const (
	ObstaclePerson  ObstacleType = "person"
	ObstacleVehicle ObstacleType = "vehicle"
	ObstacleObject  ObstacleType = "object"
	ObstacleBarrier ObstacleType = "barrier"
)

func ParseObstacleType(s string) (ObstacleType, error) {
	switch ObstacleType(s) {
	case ObstaclePerson, ObstacleVehicle, ObstacleObject, ObstacleBarrier:
		return ObstacleType(s), nil
	}
	return "", fmt.Errorf("unknown obstacle type %q", s)
}

func (o *ObstacleType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	typ, err := ParseObstacleType(s)
	if err != nil {
		return err
	}
	*o = typ
	return nil
}

type Obstacle struct {
	Type        ObstacleType `json:"type"`
	Confidence  float64      `json:"confidence"`
	Description string       `json:"description"`
}

// DetectionResult is the detector's assessment of a single frame.
// Produced once per frame, consumed once by the coordinator.
type DetectionResult struct {
	HasObstacle    bool       `json:"has_obstacle"`
	Obstacles      []Obstacle `json:"obstacles"`
	RiskLevel      RiskLevel  `json:"risk_level"`
	Recommendation string     `json:"recommendation"`
}

type NotificationKind string

const (
	KindObstacleAlert NotificationKind = "obstacle_detected"
	KindStatusUpdate  NotificationKind = "status_update"
)

func ParseNotificationKind(s string) (NotificationKind, error) {
	switch NotificationKind(s) {
	case KindObstacleAlert, KindStatusUpdate:
		return NotificationKind(s), nil
	}
	return "", fmt.Errorf("unknown notification type %q", s)
}

// Notification is the unit pushed to observers. Wire shape is
// {"type": ..., "timestamp": ..., "data": ...}.
type Notification struct {
	Kind      NotificationKind `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      any              `json:"data"`
}

type AlertData struct {
	Obstacles      []Obstacle `json:"obstacles"`
	RiskLevel      RiskLevel  `json:"risk_level"`
	Recommendation string     `json:"recommendation"`
	ImagePath      string     `json:"image_path"`
}

type StatusData struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NewObstacleAlert(result *DetectionResult, imagePath string) Notification {
	obstacles := result.Obstacles
	if obstacles == nil {
		obstacles = []Obstacle{}
	}
	return Notification{
		Kind:      KindObstacleAlert,
		Timestamp: time.Now().UTC(),
		Data: AlertData{
			Obstacles:      obstacles,
			RiskLevel:      result.RiskLevel,
			Recommendation: result.Recommendation,
			ImagePath:      imagePath,
		},
	}
}

func NewStatusUpdate(status, message string) Notification {
	return Notification{
		Kind:      KindStatusUpdate,
		Timestamp: time.Now().UTC(),
		Data: StatusData{
			Status:  status,
			Message: message,
		},
	}
}

// ParseNotification decodes a wire notification, rejecting unknown kinds
// and decoding the payload into the kind's concrete data type.
func ParseNotification(data []byte) (*Notification, error) {
	var raw struct {
		Kind      string          `json:"type"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse notification: %w", err)
	}

	kind, err := ParseNotificationKind(raw.Kind)
	if err != nil {
		return nil, fmt.Errorf("parse notification: %w", err)
	}

	n := &Notification{Kind: kind, Timestamp: raw.Timestamp}
	switch kind {
	case KindObstacleAlert:
		var d AlertData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return nil, fmt.Errorf("parse alert data: %w", err)
		}
		// The custom unmarshalers only run when the key is present, so
		// an absent field decodes as the zero value.
		if d.RiskLevel == "" {
			return nil, fmt.Errorf("parse alert data: missing risk_level")
		}
		for i, o := range d.Obstacles {
			if o.Type == "" {
				return nil, fmt.Errorf("parse alert data: obstacle %d missing type", i)
			}
		}
		n.Data = d
	case KindStatusUpdate:
		var d StatusData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return nil, fmt.Errorf("parse status data: %w", err)
		}
		n.Data = d
	}
	return n, nil
}
