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
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

// MQTT5Source subscribes to a camera image topic over MQTT 5.
type MQTT5Source struct {
	name      string
	brokerURL string
	topic     string
	cm        *autopaho.ConnectionManager
	router    paho.Router
	logger    *slog.Logger
}

func NewMQTT5(name, brokerURL, topic string, logger *slog.Logger) *MQTT5Source {
	return &MQTT5Source{
		name:      name,
		brokerURL: brokerURL,
		topic:     topic,
		router:    paho.NewStandardRouter(),
		logger:    logger,
	}
}

func (s *MQTT5Source) Name() string { return s.name }
func (s *MQTT5Source) Type() string { return "mqtt5" }

func (s *MQTT5Source) Connect(ctx context.Context) error {
	serverURL, err := url.Parse(s.brokerURL)
	if err != nil {
		return fmt.Errorf("mqtt5 invalid URL: %w", err)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			s.logger.Info("mqtt5 connection up", "name", s.name)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "relay-" + s.name + "-" + uuid.New().String()[:8],
			Router:   s.router,
		},
	}

	s.cm, err = autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mqtt5 connection: %w", err)
	}

	if err := s.cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("mqtt5 await connection: %w", err)
	}

	s.logger.Info("mqtt5 source connected", "name", s.name, "broker", s.brokerURL, "topic", s.topic)
	return nil
}

func (s *MQTT5Source) Disconnect(ctx context.Context) error {
	if s.cm != nil {
		return s.cm.Disconnect(ctx)
	}
	return nil
}

func (s *MQTT5Source) Start(ctx context.Context, ch chan<- Message) error {
	s.router.RegisterHandler(s.topic, func(p *paho.Publish) {
		msg := Message{
			SourceName: s.name,
			Topic:      p.Topic,
			Payload:    p.Payload,
			ReceivedAt: time.Now().UTC(),
		}
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	})

	_, err := s.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: s.topic, QoS: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("mqtt5 subscribe: %w", err)
	}

	<-ctx.Done()
	return nil
}
