package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	coreevents "github.com/artpar/launchpad/internal/core/events"
)

// ErrNoWorkspace is returned for envelopes without a workspaceId.
var ErrNoWorkspace = errors.New("event has no workspace")

// routing is the part of an envelope the relay reads.
type routing struct {
	Type    coreevents.EventType `json:"type"`
	Payload struct {
		WorkspaceID string `json:"workspaceId"`
	} `json:"payload"`
}

// Relay forwards events from the pub/sub channel to the hub.
type Relay struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	logger  *slog.Logger
}

// NewRelay creates a relay. An empty channel uses the default event channel.
func NewRelay(client redis.UniversalClient, channel string, hub *Hub, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = coreevents.Channel
	}
	return &Relay{
		client:  client,
		channel: channel,
		hub:     hub,
		logger:  logger.With("component", "stream_relay"),
	}
}

// Run subscribes and forwards events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("relaying events", "channel", r.channel)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := r.Dispatch([]byte(msg.Payload)); err != nil {
				r.logger.Warn("dropping event", "error", err)
			}
		}
	}
}

// Publish dispatches payload in-process, standing in for a pub/sub broker
// when no Redis is configured. channel is ignored. Clients only queue the
// event, so a stalled connection never holds up the publisher.
func (r *Relay) Publish(ctx context.Context, _ string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.Dispatch(payload)
	return err
}

// Dispatch routes one serialized envelope to its workspace and returns the
// number of clients that received it.
func (r *Relay) Dispatch(data []byte) (int, error) {
	var env routing
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("decode event: %w", err)
	}
	if env.Payload.WorkspaceID == "" {
		return 0, fmt.Errorf("%w: type %s", ErrNoWorkspace, env.Type)
	}
	return r.hub.Broadcast(env.Payload.WorkspaceID, data), nil
}
