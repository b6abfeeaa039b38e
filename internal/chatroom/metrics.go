package chatroom

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics are the room instruments exported through the meter provider
type Metrics struct {
	rooms             metric.Int64UpDownCounter
	connections       metric.Int64UpDownCounter
	messages          metric.Int64Counter
	broadcastFailures metric.Int64Counter
	reaped            metric.Int64Counter
}

// NewMetrics registers the room instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.rooms, err = meter.Int64UpDownCounter("chat_rooms_active",
		metric.WithDescription("Rooms with a running event loop")); err != nil {
		return nil, err
	}
	if m.connections, err = meter.Int64UpDownCounter("chat_connections_active",
		metric.WithDescription("Registered websocket connections")); err != nil {
		return nil, err
	}
	if m.messages, err = meter.Int64Counter("chat_messages_received",
		metric.WithDescription("Inbound websocket messages by type")); err != nil {
		return nil, err
	}
	if m.broadcastFailures, err = meter.Int64Counter("chat_broadcast_failures",
		metric.WithDescription("Connections pruned after a failed send")); err != nil {
		return nil, err
	}
	if m.reaped, err = meter.Int64Counter("chat_rooms_reaped",
		metric.WithDescription("Rooms closed by the idle reaper")); err != nil {
		return nil, err
	}

	return m, nil
}

// NopMetrics returns instruments that record nothing
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("chatroom"))
	return m
}

func (m *Metrics) roomOpened() { m.rooms.Add(context.Background(), 1) }
func (m *Metrics) roomClosed() { m.rooms.Add(context.Background(), -1) }
func (m *Metrics) roomReaped() { m.reaped.Add(context.Background(), 1) }
func (m *Metrics) connAdded() { m.connections.Add(context.Background(), 1) }
func (m *Metrics) connRemoved(n int) {
	if n > 0 {
		m.connections.Add(context.Background(), -int64(n))
	}
}

func (m *Metrics) messageReceived(kind string) {
	m.messages.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *Metrics) sendFailed(n int) {
	if n > 0 {
		m.broadcastFailures.Add(context.Background(), int64(n))
	}
}
