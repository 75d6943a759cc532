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
	"fmt"
	"log/slog"
	"time"

	"github.com/Azure/go-amqp"
)

// AMQP10Source consumes camera images from an AMQP 1.0 queue.
type AMQP10Source struct {
	name     string
	url      string
	queue    string
	conn     *amqp.Conn
	session  *amqp.Session
	receiver *amqp.Receiver
	logger   *slog.Logger
}

func NewAMQP10(name, url, queue string, logger *slog.Logger) *AMQP10Source {
	return &AMQP10Source{
		name:   name,
		url:    url,
		queue:  queue,
		logger: logger,
	}
}

func (s *AMQP10Source) Name() string { return s.name }
func (s *AMQP10Source) Type() string { return "amqp10" }

func (s *AMQP10Source) Connect(ctx context.Context) error {
	var err error
	s.conn, err = amqp.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("amqp10 dial: %w", err)
	}

	s.session, err = s.conn.NewSession(ctx, nil)
	if err != nil {
		return fmt.Errorf("amqp10 session: %w", err)
	}

	s.receiver, err = s.session.NewReceiver(ctx, s.queue, &amqp.ReceiverOptions{
		Credit: 1,
	})
	if err != nil {
		return fmt.Errorf("amqp10 receiver: %w", err)
	}

	s.logger.Info("amqp10 source connected", "name", s.name, "queue", s.queue)
	return nil
}

func (s *AMQP10Source) Disconnect(ctx context.Context) error {
	if s.receiver != nil {
		s.receiver.Close(ctx)
	}
	if s.session != nil {
		s.session.Close(ctx)
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *AMQP10Source) Start(ctx context.Context, ch chan<- Message) error {
	for {
		m, err := s.receiver.Receive(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("amqp10 receive: %w", err)
		}

		msg := Message{
			SourceName: s.name,
			Topic:      s.queue,
			Payload:    m.GetData(),
			ReceivedAt: time.Now().UTC(),
		}

		select {
		case ch <- msg:
			if err := s.receiver.AcceptMessage(ctx, m); err != nil && ctx.Err() == nil {
				s.logger.Warn("amqp10 accept failed", "name", s.name, "error", err)
			}
		case <-ctx.Done():
			s.receiver.RejectMessage(ctx, m, nil)
			return nil
		}
	}
}
