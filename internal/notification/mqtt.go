package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hackgods/hospital-transfers/internal/config"
)

const topicPrefix = "hospital-transfers/notifications/"

// publishClient is the part of mqtt.Client the publisher needs.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher mirrors every stored notification onto
// hospital-transfers/notifications/<inbox> for device and pager gateways.
type MQTTPublisher struct {
	client publishClient
	conn   mqtt.Client
	qos    byte
}

func NewMQTTPublisher(cfg config.Config) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}

	return &MQTTPublisher{client: client, conn: client, qos: 1}, nil
}

type wireNotification struct {
	ID         string    `json:"id"`
	Inbox      string    `json:"inbox"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	TransferID string    `json:"transferId,omitempty"`
	RoomID     string    `json:"roomId,omitempty"`
}

func (p *MQTTPublisher) Publish(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(wireNotification{
		ID:         n.ID,
		Inbox:      n.Inbox,
		Title:      n.Title,
		Message:    n.Message,
		Timestamp:  n.Timestamp,
		TransferID: n.TransferID,
		RoomID:     n.RoomID,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	topic := topicPrefix + n.Inbox
	token := p.client.Publish(topic, p.qos, false, payload)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
}

func (p *MQTTPublisher) Close() {
	if p.conn != nil {
		p.conn.Disconnect(250)
	}
}
