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

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitSource consumes camera images from a RabbitMQ queue.
type RabbitSource struct {
	name   string
	url    string
	queue  string
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

func NewRabbit(name, url, queue string, logger *slog.Logger) *RabbitSource {
	return &RabbitSource{
		name:   name,
		url:    url,
		queue:  queue,
		logger: logger,
	}
}

func (s *RabbitSource) Name() string { return s.name }
func (s *RabbitSource) Type() string { return "rabbitmq" }

func (s *RabbitSource) Connect(ctx context.Context) error {
	var err error
	s.conn, err = amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	s.ch, err = s.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}

	if _, err := s.ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare %s: %w", s.queue, err)
	}

	if err := s.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("rabbitmq qos: %w", err)
	}

	s.logger.Info("rabbitmq source connected", "name", s.name, "queue", s.queue)
	return nil
}

func (s *RabbitSource) Disconnect(ctx context.Context) error {
	if s.ch != nil {
		s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *RabbitSource) Start(ctx context.Context, ch chan<- Message) error {
	deliveries, err := s.ch.Consume(
		s.queue,
		fmt.Sprintf("relay-%s", s.name),
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			msg := Message{
				SourceName: s.name,
				Topic:      d.RoutingKey,
				Payload:    d.Body,
				ReceivedAt: time.Now().UTC(),
			}
			select {
			case ch <- msg:
				if err := d.Ack(false); err != nil {
					s.logger.Warn("rabbitmq ack failed", "name", s.name, "error", err)
				}
			case <-ctx.Done():
				d.Nack(false, true)
				return nil
			}
		}
	}
}
