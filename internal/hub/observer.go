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
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// wsObserver delivers notifications over a websocket connection.
// Writes are serialized: gorilla allows one concurrent writer per conn.
type wsObserver struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSObserver(id string, conn *websocket.Conn) *wsObserver {
	return &wsObserver{
		id:   id,
		conn: conn,
	}
}

func (o *wsObserver) ID() string { return o.id }

func (o *wsObserver) Send(payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	// A stalled peer must fail into the hub's prune path, not hold the
	// hub mutex across a blocked write.
	o.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return o.conn.WriteMessage(websocket.TextMessage, payload)
}

func (o *wsObserver) Close() error {
	return o.conn.Close()
}

// sseObserver delivers notifications as server-sent events. The owning
// handler must stay alive until Done is closed: Close signals it so the
// ResponseWriter is never written after the handler returns.
type sseObserver struct {
	id      string
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
}

func NewSSEObserver(id string, w http.ResponseWriter, flusher http.Flusher) *sseObserver {
	return &sseObserver{
		id:      id,
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
}

func (o *sseObserver) ID() string { return o.id }

func (o *sseObserver) Send(payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("sse observer closed")
	}
	if _, err := fmt.Fprintf(o.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	o.flusher.Flush()
	return nil
}

func (o *sseObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.done)
	}
	return nil
}

// Done is closed when the observer is removed from the hub.
func (o *sseObserver) Done() <-chan struct{} { return o.done }
