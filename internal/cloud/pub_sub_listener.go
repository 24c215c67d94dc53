// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This file defines the Pub/Sub message listener. Receiving messages is kept
// apart from processing them: each message is handed to a `cor.Command` and
// acknowledged only when the command finishes without errors.
//
// Logic Flow:
//  1. A PubSubListener is created with a client and a subscription ID.
//  2. The command (the upload ingest chain) is attached with SetCommand.
//  3. `Listen` starts a goroutine receiving from the subscription until the
//     context is canceled.
//  4. Storage events other than OBJECT_FINALIZE are acknowledged unprocessed.
//  5. A message whose chain fails is neither acked nor nacked, so it is
//     redelivered after the acknowledgement deadline.
package cloud

import (
	"context"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"github.com/jaycherian/gcp-go-dubbing-pipeline/internal/core/cor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PubSubListener connects a subscription to the command that processes its
// messages. Listeners live as long as the process, not a request.
type PubSubListener struct {
	client       *pubsub.Client
	subscription *pubsub.Subscription
	command      cor.Command
}

// NewPubSubListener returns a listener for subscriptionID. The command may be
// nil and attached later with SetCommand.
func NewPubSubListener(
	pubsubClient *pubsub.Client,
	subscriptionID string,
	command cor.Command,
) (cmd *PubSubListener, err error) {
	sub := pubsubClient.Subscription(subscriptionID)
	cmd = &PubSubListener{
		client:       pubsubClient,
		subscription: sub,
		command:      command,
	}
	return cmd, nil
}

// SetCommand attaches the processing command unless one is already set.
func (m *PubSubListener) SetCommand(command cor.Command) {
	if m.command == nil {
		m.command = command
	}
}

// Listen starts receiving in the background until ctx is canceled.
func (m *PubSubListener) Listen(ctx context.Context) {
	slog.Info("listening", "subscription", m.subscription.ID())

	go func() {
		tracer := otel.Tracer("message-listener")

		err := m.subscription.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
			m.handle(ctx, tracer, msg)
		})
		if err != nil {
			slog.Error("error receiving data", "subscription", m.subscription.ID(), "error", err)
		}
	}()
}

// handle processes one message and decides whether to ack it.
func (m *PubSubListener) handle(ctx context.Context, tracer trace.Tracer, msg *pubsub.Message) {
	spanCtx, span := tracer.Start(ctx, "receive-message")
	defer span.End()
	span.SetAttributes(
		attribute.String("msg.id", msg.ID),
		attribute.String("msg.event_type", msg.Attributes[EventTypeAttribute]))

	if eventType, ok := msg.Attributes[EventTypeAttribute]; ok && eventType != ObjectFinalize {
		slog.DebugContext(spanCtx, "ignoring storage event", "event_type", eventType, "object", msg.Attributes["objectId"])
		msg.Ack()
		return
	}
	if m.command == nil {
		slog.ErrorContext(spanCtx, "no command attached to listener", "subscription", m.subscription.ID())
		return
	}

	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(spanCtx)
	chainCtx.Add(cor.CtxIn, string(msg.Data))

	m.command.Execute(chainCtx)

	if !chainCtx.HasErrors() {
		span.SetStatus(codes.Ok, "success")
		msg.Ack()
		return
	}
	span.SetStatus(codes.Error, "failed")
	for name, e := range chainCtx.GetErrors() {
		slog.ErrorContext(spanCtx, "error executing chain", "command", name, "error", e)
	}
}
