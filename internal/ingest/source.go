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
	"time"
)

// Message is one raw broker payload awaiting decode and persistence.
type Message struct {
	SourceName string
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Source consumes frames pushed by a remote publisher over a broker.
// Start blocks until ctx is cancelled, handing each inbound message to
// ch; the receive loop itself must never block on downstream work.
type Source interface {
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Start(ctx context.Context, ch chan<- Message) error
	Disconnect(ctx context.Context) error
}
