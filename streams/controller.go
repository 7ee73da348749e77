package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamName is the JetStream stream carrying all engine channels.
const StreamName = "AGENTCYCLE"

const subjectPrefix = "cycle."

// Subject returns the NATS subject for a channel.
func Subject(ch Channel) string {
	return subjectPrefix + string(ch)
}

// Config configures the stream controller.
type Config struct {
	// AgentID names this instance; consumers are scoped to it.
	AgentID string
	// PollTimeout bounds each per-channel fetch. Reads never block longer.
	PollTimeout time.Duration
	// PollBatch is the maximum messages fetched per channel per cycle.
	PollBatch int
}

// Controller reads and writes the named engine channels. One channel's outage
// never blocks the others: a failed read is logged and treated as "no
// messages this cycle" for that channel only.
type Controller struct {
	cfg       Config
	js        jetstream.JetStream
	consumers map[Channel]jetstream.Consumer
	logger    *slog.Logger
}

// NewController ensures the stream and per-channel consumers exist.
func NewController(ctx context.Context, js jetstream.JetStream, cfg Config, logger *slog.Logger) (*Controller, error) {
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("agent ID required")
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.PollBatch == 0 {
		cfg.PollBatch = 32
	}
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "agentcycle coordination channels",
		Subjects:    []string{subjectPrefix + ">"},
	}); err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	c := &Controller{
		cfg:       cfg,
		js:        js,
		consumers: make(map[Channel]jetstream.Consumer, len(InboxChannels)),
		logger:    logger,
	}

	for _, ch := range InboxChannels {
		cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
			Durable:       consumerName(cfg.AgentID, ch),
			FilterSubject: Subject(ch),
			AckPolicy:     jetstream.AckExplicitPolicy,
		})
		if err != nil {
			return nil, fmt.Errorf("ensure consumer for %s: %w", ch, err)
		}
		c.consumers[ch] = cons
	}

	return c, nil
}

func consumerName(agentID string, ch Channel) string {
	name := fmt.Sprintf("agent-%s-%s", agentID, ch)
	return strings.ReplaceAll(name, ".", "-")
}

// PollInbox fetches pending messages from every inbox channel with a bounded
// per-channel timeout. Within one channel, messages keep append order; no
// ordering is guaranteed across channels.
func (c *Controller) PollInbox(ctx context.Context) map[Channel][]Message {
	inbox := make(map[Channel][]Message, len(c.consumers))

	for _, ch := range InboxChannels {
		cons, ok := c.consumers[ch]
		if !ok {
			continue
		}

		batch, err := cons.Fetch(c.cfg.PollBatch, jetstream.FetchMaxWait(c.cfg.PollTimeout))
		if err != nil {
			c.logger.Warn("Channel read failed, skipping this cycle",
				"channel", ch,
				"error", err)
			continue
		}

		var msgs []Message
		for raw := range batch.Messages() {
			var msg Message
			if err := json.Unmarshal(raw.Data(), &msg); err != nil {
				// Protocol violation: drop the message, keep the channel.
				c.logger.Warn("Dropping malformed message",
					"channel", ch,
					"error", err)
				_ = raw.Ack()
				continue
			}
			msgs = append(msgs, msg)
			if err := raw.Ack(); err != nil {
				c.logger.Warn("Failed to ack message",
					"channel", ch,
					"message_id", msg.ID,
					"error", err)
			}
		}
		if err := batch.Error(); err != nil {
			c.logger.Warn("Channel fetch ended with error",
				"channel", ch,
				"error", err)
		}
		if len(msgs) > 0 {
			inbox[ch] = msgs
		}

		select {
		case <-ctx.Done():
			return inbox
		default:
		}
	}

	return inbox
}

// Publish writes a message to a channel.
func (c *Controller) Publish(ctx context.Context, ch Channel, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := c.js.Publish(ctx, Subject(ch), data); err != nil {
		return fmt.Errorf("publish to %s: %w", ch, err)
	}
	return nil
}
