package occupancy

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

const (
	// TopicPerson carries the per-frame count and the episode total
	TopicPerson = "person"
	// TopicDuration carries the rounded average episode duration
	TopicDuration = "person/duration"
)

// CountMode selects what the published "count" field means
type CountMode string

const (
	// CountModeLive - live per-frame people count, even while debouncing
	CountModeLive CountMode = "live"
	// CountModePresence - 1 while a confirmed episode is open, 0 otherwise
	CountModePresence CountMode = "presence"
)

// ParseCountMode validates a count mode string
func ParseCountMode(s string) (CountMode, error) {
	switch CountMode(s) {
	case CountModeLive, CountModePresence:
		return CountMode(s), nil
	case "":
		return CountModeLive, nil
	default:
		return "", fmt.Errorf("unknown count mode %q (valid: live|presence)", s)
	}
}

// PersonPayload is the body published on TopicPerson
type PersonPayload struct {
	Count int `json:"count"`
	Total int `json:"total"`
}

// DurationPayload is the body published on TopicDuration
type DurationPayload struct {
	Duration int `json:"duration"`
}

// Metrics is the derived occupancy signal for one frame
type Metrics struct {
	Count    int
	Total    int
	Duration int
}

// Message is one publish call: a topic and its JSON-serializable payload
type Message struct {
	Topic   string
	Payload any
}

// Messages applies the emission policy: the person topic on every frame,
// the duration topic only once a non-zero average exists.
func (m Metrics) Messages() []Message {
	msgs := []Message{
		{Topic: TopicPerson, Payload: PersonPayload{Count: m.Count, Total: m.Total}},
	}
	if m.Duration != 0 {
		msgs = append(msgs, Message{Topic: TopicDuration, Payload: DurationPayload{Duration: m.Duration}})
	}
	return msgs
}

// Publisher delivers telemetry messages. Delivery is at-most-once and unordered.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Publish sends every message of m. Each message is attempted even if an
// earlier one failed; the combined error is only informational.
func Publish(ctx context.Context, pub Publisher, m Metrics) error {
	if pub == nil {
		return nil
	}
	var errs error
	for _, msg := range m.Messages() {
		if err := pub.Publish(ctx, msg.Topic, msg.Payload); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("publish %s: %w", msg.Topic, err))
		}
	}
	return errs
}
