package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"

	"sunwatch/internal/measurement"
)

const (
	sensorTopic  = "sensors/esp32/sensor"
	commandTopic = "sensors/esp32/command"
)

// startBroker spins up an in-process MQTT broker on a free port.
func startBroker(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(&auth.AllowHook{}, nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { broker.Close() })

	return port
}

// rawClient connects a bare MQTT client for driving the test.
func rawClient(ctx context.Context, t *testing.T, port int, id string, onPublish func(paho.PublishReceived)) *paho.Client {
	t.Helper()

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)

	client := paho.NewClient(paho.ClientConfig{Conn: conn, ClientID: id})
	if onPublish != nil {
		client.AddOnPublishReceived(func(pr paho.PublishReceived) (bool, error) {
			onPublish(pr)
			return true, nil
		})
	}

	connack, err := client.Connect(ctx, &paho.Connect{ClientID: id, CleanStart: true, KeepAlive: 30})
	require.NoError(t, err)
	require.EqualValues(t, 0, connack.ReasonCode)

	t.Cleanup(func() { client.Disconnect(&paho.Disconnect{ReasonCode: 0}) })
	return client
}

type chanHandler struct {
	measurements chan measurement.Measurement
	events       chan *measurement.DeviceMessage
}

func newChanHandler() *chanHandler {
	return &chanHandler{
		measurements: make(chan measurement.Measurement, 8),
		events:       make(chan *measurement.DeviceMessage, 8),
	}
}

func (h *chanHandler) HandleMeasurement(ctx context.Context, device string, m measurement.Measurement) {
	h.measurements <- m
}

func (h *chanHandler) HandleEvent(ctx context.Context, msg *measurement.DeviceMessage) {
	h.events <- msg
}

func TestSubscriberReceivesLiveData(t *testing.T) {
	port := startBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := newChanHandler()
	sub, err := NewSubscriber(Config{
		Host:           "127.0.0.1",
		Port:           port,
		ClientID:       "sunwatch-test",
		Topic:          sensorTopic,
		ReconnectDelay: 100 * time.Millisecond,
	}, h, nil)
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go sub.Run(runCtx)

	// Give the subscription a moment to land before publishing.
	time.Sleep(300 * time.Millisecond)

	device := rawClient(ctx, t, port, "esp32-sim", nil)
	_, err = device.Publish(ctx, &paho.Publish{
		Topic:   sensorTopic,
		QoS:     1,
		Payload: []byte(`{"device":"esp32-lab","status":"success","co2":650,"temperature":22.5,"humidity":45.2}`),
	})
	require.NoError(t, err)

	select {
	case m := <-h.measurements:
		require.Equal(t, 650, m.CO2)
		require.Equal(t, 22.5, m.Temperature)
		require.Equal(t, 45.2, m.Humidity)
		require.False(t, m.Time.IsZero())
	case <-ctx.Done():
		t.Fatal("timed out waiting for measurement")
	}

	_, err = device.Publish(ctx, &paho.Publish{
		Topic:   sensorTopic,
		QoS:     1,
		Payload: []byte(`{"device":"esp32-lab","status":"alive","uptime_seconds":120}`),
	})
	require.NoError(t, err)

	select {
	case ev := <-h.events:
		require.Equal(t, measurement.StatusAlive, ev.Status)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestPublisherSendsCommand(t *testing.T) {
	port := startBroker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan []byte, 1)
	device := rawClient(ctx, t, port, "esp32-sim", func(pr paho.PublishReceived) {
		received <- pr.Packet.Payload
	})
	_, err := device.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: commandTopic, QoS: 1}},
	})
	require.NoError(t, err)

	pub := NewPublisher(Config{
		Host:     "127.0.0.1",
		Port:     port,
		ClientID: "sunwatchctl-test",
	}, nil)
	require.NoError(t, pub.Connect(ctx))
	defer pub.Close()

	require.NoError(t, pub.SendCommand(ctx, commandTopic, measurement.StartFRCCommand(0)))

	select {
	case payload := <-received:
		var cmd map[string]any
		require.NoError(t, json.Unmarshal(payload, &cmd))
		require.Equal(t, "start_frc", cmd["cmd"])
		require.EqualValues(t, measurement.DefaultFRCTargetPPM, cmd["target_ppm"])
	case <-ctx.Done():
		t.Fatal("timed out waiting for command")
	}
}
