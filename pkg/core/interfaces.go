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

import "context"

// FrameSource produces the next frame for a pipeline cycle. A nil frame
// with a nil error means no frame is currently available.
type FrameSource interface {
	Name() string
	NextFrame(ctx context.Context) (*Frame, error)
}

// Detector maps a frame to a structured obstacle assessment. It fails
// closed: any error yields no result, never partial data.
type Detector interface {
	Name() string
	Analyze(ctx context.Context, frame *Frame) (*DetectionResult, error)
}

// Observer is one live connection wanting push notifications.
type Observer interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

// Broadcaster fans notifications out to all attached observers.
type Broadcaster interface {
	Broadcast(n Notification)
	LastNotification() *Notification
	ActiveCount() int
}
