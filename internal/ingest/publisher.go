package ingest

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"sunwatch/internal/logging"
	"sunwatch/internal/measurement"
)

// Publisher publishes device commands to the broker and can watch the
// sensor topic for command responses.
type Publisher struct {
	cfg  Config
	log  *logging.Logger
	conn net.Conn

	client *paho.Client

	// OnMessage, when set before Connect, receives every decodable device
	// message seen on the subscribed topic.
	OnMessage func(msg *measurement.DeviceMessage)
}

// NewPublisher creates a publisher for the given broker.
func NewPublisher(cfg Config, log *logging.Logger) *Publisher {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if log == nil {
		log = logging.Default()
	}
	return &Publisher{cfg: cfg, log: log.With("component", "commander")}
}

// Connect dials the broker. When a response topic is configured it is
// subscribed as well.
func (p *Publisher) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(p.cfg.Host, fmt.Sprintf("%d", p.cfg.Port))
	conn, err := (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", addr, err)
	}
	p.conn = conn

	client := paho.NewClient(paho.ClientConfig{
		Conn: conn,
		OnClientError: func(err error) {
			p.log.Error("client error", "error", err)
		},
	})

	if p.OnMessage != nil {
		client.AddOnPublishReceived(func(pr paho.PublishReceived) (bool, error) {
			msg, err := measurement.DecodeDeviceMessage(pr.Packet.Payload)
			if err != nil {
				return true, nil
			}
			p.OnMessage(msg)
			return true, nil
		})
	}

	connack, err := client.Connect(ctx, &paho.Connect{
		ClientID:   p.cfg.ClientID,
		CleanStart: true,
		KeepAlive:  uint16(p.cfg.KeepAlive.Seconds()),
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("connect to broker: %w", err)
	}
	if connack.ReasonCode != 0 {
		conn.Close()
		return fmt.Errorf("broker refused connection, reason code %d", connack.ReasonCode)
	}

	if p.OnMessage != nil && p.cfg.Topic != "" {
		if _, err := client.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{
				{Topic: p.cfg.Topic, QoS: 1},
			},
		}); err != nil {
			client.Disconnect(&paho.Disconnect{ReasonCode: 0})
			return fmt.Errorf("subscribe to %s: %w", p.cfg.Topic, err)
		}
	}

	p.client = client
	p.log.Info("connected to broker", "addr", addr)
	return nil
}

// SendCommand encodes and publishes a command to the given topic.
func (p *Publisher) SendCommand(ctx context.Context, topic string, cmd measurement.DeviceCommand) error {
	if p.client == nil {
		return fmt.Errorf("not connected")
	}

	payload, err := cmd.Encode()
	if err != nil {
		return err
	}

	if _, err := p.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("publish command %q: %w", cmd.Cmd, err)
	}

	p.log.Info("command sent", "topic", topic, "cmd", cmd.Cmd)
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	if p.client != nil {
		return p.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
