package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	ch := make(chan struct{})
	close(ch)
	return &doneToken{err: err, done: ch}
}

func (t *doneToken) Wait() bool { return true }

func (t *doneToken) WaitTimeout(time.Duration) bool { return true }

func (t *doneToken) Done() <-chan struct{} { return t.done }

func (t *doneToken) Error() error { return t.err }

type fakeMQTT struct {
	topic   string
	payload []byte
	err     error
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.topic = topic
	f.payload = payload.([]byte)
	return newDoneToken(f.err)
}

func TestMQTTPublisherTopicAndPayload(t *testing.T) {
	client := &fakeMQTT{}
	p := &MQTTPublisher{client: client, qos: 1}

	err := p.Publish(context.Background(), Notification{
		ID:         "n1",
		Inbox:      "supervisor_h2",
		Title:      "New transfer request",
		Message:    "Patient: P001",
		TransferID: "t1",
	})
	require.NoError(t, err)

	assert.Equal(t, "hospital-transfers/notifications/supervisor_h2", client.topic)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(client.payload, &wire))
	assert.Equal(t, "n1", wire["id"])
	assert.Equal(t, "t1", wire["transferId"])
}

func TestMQTTPublisherSurfacesBrokerError(t *testing.T) {
	p := &MQTTPublisher{client: &fakeMQTT{err: errors.New("not connected")}}
	err := p.Publish(context.Background(), Notification{Inbox: "resposta_u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resposta_u1")
}
