// Package ingest receives live sensor readings from the MQTT broker and
// hands them to the detection pipeline.
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

// Config holds the broker connection settings.
type Config struct {
	// Host and Port locate the broker.
	Host string
	Port int

	// ClientID identifies this client to the broker.
	ClientID string

	// Topic is the sensor topic to subscribe to.
	Topic string

	// KeepAlive is the MQTT keep-alive interval.
	KeepAlive time.Duration

	// ReconnectDelay is the pause between reconnect attempts.
	ReconnectDelay time.Duration
}

// Handler receives decoded device traffic. Measurements carry the receiver's
// arrival timestamp; devices do not keep clocks.
type Handler interface {
	// HandleMeasurement is called for each successful sensor reading.
	HandleMeasurement(ctx context.Context, device string, m measurement.Measurement)

	// HandleEvent is called for every non-measurement device message, such
	// as calibration progress or errors.
	HandleEvent(ctx context.Context, msg *measurement.DeviceMessage)
}

// Subscriber maintains the broker connection and dispatches messages.
type Subscriber struct {
	cfg       Config
	handler   Handler
	validator *measurement.Validator
	log       *logging.Logger
	now       func() time.Time

	// OnInvalidPayload, when set, is called for payloads that fail schema
	// validation or decoding.
	OnInvalidPayload func(err error)
}

// NewSubscriber creates a subscriber. The handler must not be nil.
func NewSubscriber(cfg Config, handler Handler, log *logging.Logger) (*Subscriber, error) {
	if handler == nil {
		return nil, fmt.Errorf("ingest: handler must not be nil")
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if log == nil {
		log = logging.Default()
	}

	validator, err := measurement.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	return &Subscriber{
		cfg:       cfg,
		handler:   handler,
		validator: validator,
		log:       log.With("component", "ingest"),
		now:       time.Now,
	}, nil
}

// Run connects to the broker and processes messages until the context is
// cancelled. Connection failures trigger a reconnect after the configured
// delay.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		err := s.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.log.Error("broker connection lost", "error", err, "retry_in", s.cfg.ReconnectDelay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Subscriber) connectAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	conn, err := (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", addr, err)
	}

	// Buffered so the callbacks never block the paho client.
	fatal := make(chan error, 2)

	client := paho.NewClient(paho.ClientConfig{
		Conn: conn,
		OnClientError: func(err error) {
			select {
			case fatal <- err:
			default:
			}
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			select {
			case fatal <- fmt.Errorf("server disconnect, reason code %d", d.ReasonCode):
			default:
			}
		},
	})

	client.AddOnPublishReceived(func(pr paho.PublishReceived) (bool, error) {
		s.handlePayload(ctx, pr.Packet.Payload)
		return true, nil
	})

	connack, err := client.Connect(ctx, &paho.Connect{
		ClientID:   s.cfg.ClientID,
		CleanStart: true,
		KeepAlive:  uint16(s.cfg.KeepAlive.Seconds()),
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("connect to broker: %w", err)
	}
	if connack.ReasonCode != 0 {
		conn.Close()
		return fmt.Errorf("broker refused connection, reason code %d", connack.ReasonCode)
	}
	s.log.Info("connected to broker", "addr", addr, "client_id", s.cfg.ClientID)

	if _, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: s.cfg.Topic, QoS: 1},
		},
	}); err != nil {
		client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return fmt.Errorf("subscribe to %s: %w", s.cfg.Topic, err)
	}
	s.log.Info("subscribed", "topic", s.cfg.Topic)

	select {
	case <-ctx.Done():
		client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil
	case err := <-fatal:
		return err
	}
}

// handlePayload validates, decodes, and dispatches one raw message.
func (s *Subscriber) handlePayload(ctx context.Context, payload []byte) {
	if err := s.validator.Validate(payload); err != nil {
		s.log.Warn("rejected payload", "error", err)
		if s.OnInvalidPayload != nil {
			s.OnInvalidPayload(err)
		}
		return
	}

	msg, err := measurement.DecodeDeviceMessage(payload)
	if err != nil {
		s.log.Warn("undecodable payload", "error", err)
		if s.OnInvalidPayload != nil {
			s.OnInvalidPayload(err)
		}
		return
	}

	if m, ok := msg.AsMeasurement(s.now().UTC()); ok {
		s.log.Debug("measurement received",
			"device", msg.Device,
			"co2", m.CO2,
			"temperature", m.Temperature,
			"humidity", m.Humidity,
		)
		s.handler.HandleMeasurement(ctx, msg.Device, m)
		return
	}

	s.log.Debug("device event", "device", msg.Device, "status", msg.Status)
	s.handler.HandleEvent(ctx, msg)
}
