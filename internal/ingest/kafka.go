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
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSource consumes camera images from a Kafka topic.
type KafkaSource struct {
	name    string
	brokers []string
	topic   string
	groupID string
	reader  *kafka.Reader
	logger  *slog.Logger
}

func NewKafka(name string, brokers []string, topic, groupID string, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{
		name:    name,
		brokers: brokers,
		topic:   topic,
		groupID: groupID,
		logger:  logger,
	}
}

func (s *KafkaSource) Name() string { return s.name }
func (s *KafkaSource) Type() string { return "kafka" }

func (s *KafkaSource) Connect(ctx context.Context) error {
	groupID := s.groupID
	if groupID == "" {
		groupID = "relay-" + s.name
	}
	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  s.brokers,
		Topic:    s.topic,
		GroupID:  groupID,
		MaxWait:  500 * time.Millisecond,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	s.logger.Info("kafka source connected",
		"name", s.name,
		"brokers", strings.Join(s.brokers, ","),
		"topic", s.topic,
	)
	return nil
}

func (s *KafkaSource) Disconnect(ctx context.Context) error {
	if s.reader != nil {
		return s.reader.Close()
	}
	return nil
}

func (s *KafkaSource) Start(ctx context.Context, ch chan<- Message) error {
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("kafka fetch error", "name", s.name, "error", err)
			return err
		}

		msg := Message{
			SourceName: s.name,
			Topic:      m.Topic,
			Payload:    m.Value,
			ReceivedAt: m.Time,
		}

		select {
		case ch <- msg:
			if err := s.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
				s.logger.Warn("kafka commit failed", "name", s.name, "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
