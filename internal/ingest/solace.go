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

	"solace.dev/go/messaging"
	solaceapi "solace.dev/go/messaging/pkg/solace"
	solaceconfig "solace.dev/go/messaging/pkg/solace/config"
	"solace.dev/go/messaging/pkg/solace/message"
	"solace.dev/go/messaging/pkg/solace/resource"
)

// SolaceSource consumes camera images from a Solace topic.
type SolaceSource struct {
	name     string
	host     string
	vpn      string
	username string
	password string
	topic    string
	service  solaceapi.MessagingService
	logger   *slog.Logger
}

func NewSolace(name, host, vpn, username, password, topic string, logger *slog.Logger) *SolaceSource {
	return &SolaceSource{
		name:     name,
		host:     host,
		vpn:      vpn,
		username: username,
		password: password,
		topic:    topic,
		logger:   logger,
	}
}

func (s *SolaceSource) Name() string { return s.name }
func (s *SolaceSource) Type() string { return "solace" }

func (s *SolaceSource) Connect(ctx context.Context) error {
	var err error
	s.service, err = messaging.NewMessagingServiceBuilder().
		FromConfigurationProvider(solaceconfig.ServicePropertyMap{
			solaceconfig.TransportLayerPropertyHost:                s.host,
			solaceconfig.ServicePropertyVPNName:                    s.vpn,
			solaceconfig.AuthenticationPropertySchemeBasicUserName: s.username,
			solaceconfig.AuthenticationPropertySchemeBasicPassword: s.password,
		}).Build()
	if err != nil {
		return fmt.Errorf("solace build: %w", err)
	}
	if err = s.service.Connect(); err != nil {
		return fmt.Errorf("solace connect: %w", err)
	}
	s.logger.Info("solace source connected", "name", s.name, "host", s.host, "topic", s.topic)
	return nil
}

func (s *SolaceSource) Disconnect(ctx context.Context) error {
	if s.service != nil {
		s.service.Disconnect()
	}
	return nil
}

func (s *SolaceSource) Start(ctx context.Context, ch chan<- Message) error {
	receiver, err := s.service.CreateDirectMessageReceiverBuilder().
		WithSubscriptions(resource.TopicSubscriptionOf(s.topic)).
		Build()
	if err != nil {
		return fmt.Errorf("solace receiver build: %w", err)
	}
	if err = receiver.Start(); err != nil {
		return fmt.Errorf("solace receiver start: %w", err)
	}
	defer receiver.Terminate(5 * time.Second)

	if err := receiver.ReceiveAsync(func(inMsg message.InboundMessage) {
		payload, _ := inMsg.GetPayloadAsBytes()
		msg := Message{
			SourceName: s.name,
			Topic:      s.topic,
			Payload:    payload,
			ReceivedAt: time.Now().UTC(),
		}
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	}); err != nil {
		return fmt.Errorf("solace receive async: %w", err)
	}

	<-ctx.Done()
	return nil
}
