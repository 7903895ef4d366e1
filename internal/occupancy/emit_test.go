package occupancy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	messages []Message
	failOn   string
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload any) error {
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	if topic == p.failOn {
		return errors.New("broker unavailable")
	}
	return nil
}

func TestMessagesSkipsZeroDuration(t *testing.T) {
	msgs := Metrics{Count: 2, Total: 0, Duration: 0}.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, TopicPerson, msgs[0].Topic)
	assert.Equal(t, PersonPayload{Count: 2, Total: 0}, msgs[0].Payload)
}

func TestMessagesIncludesDuration(t *testing.T) {
	msgs := Metrics{Count: 0, Total: 3, Duration: 12}.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, TopicDuration, msgs[1].Topic)
	assert.Equal(t, DurationPayload{Duration: 12}, msgs[1].Payload)
}

func TestPublishAttemptsEveryMessage(t *testing.T) {
	pub := &recordingPublisher{failOn: TopicPerson}
	err := Publish(context.Background(), pub, Metrics{Count: 1, Total: 1, Duration: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish person")
	assert.Len(t, pub.messages, 2)
}

func TestPublishNilPublisher(t *testing.T) {
	assert.NoError(t, Publish(context.Background(), nil, Metrics{Count: 1}))
}

func TestParseCountMode(t *testing.T) {
	mode, err := ParseCountMode("")
	require.NoError(t, err)
	assert.Equal(t, CountModeLive, mode)

	mode, err = ParseCountMode("presence")
	require.NoError(t, err)
	assert.Equal(t, CountModePresence, mode)

	_, err = ParseCountMode("binary")
	assert.Error(t, err)
}
