package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// Snapshot write outcomes recorded by RecordSnapshotWrite
const (
	SnapshotStored   = "stored"
	SnapshotStale    = "stale"
	SnapshotTooLarge = "too_large"
	SnapshotError    = "error"
)

// RelayMetrics holds the instruments for the room relay
type RelayMetrics struct {
	connections    metric.Int64UpDownCounter
	rooms          metric.Int64UpDownCounter
	eventsRelayed  metric.Int64Counter
	fanoutSize     metric.Int64Histogram
	droppedSlow    metric.Int64Counter
	snapshotWrites metric.Int64Counter
	authFailures   metric.Int64Counter
	notInRoomDrops metric.Int64Counter
	messageSize    metric.Int64Histogram
}

// NewRelayMetrics creates the relay instruments on meter
func NewRelayMetrics(meter metric.Meter) (*RelayMetrics, error) {
	m := &RelayMetrics{}
	var err error

	m.connections, err = meter.Int64UpDownCounter(
		"sketchroom_connections_active",
		metric.WithDescription("Number of authenticated WebSocket connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection counter: %w", err)
	}

	m.rooms, err = meter.Int64UpDownCounter(
		"sketchroom_rooms_active",
		metric.WithDescription("Number of rooms with at least one member"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create room counter: %w", err)
	}

	m.eventsRelayed, err = meter.Int64Counter(
		"sketchroom_events_relayed",
		metric.WithDescription("Drawing events accepted for fan-out, by op"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event counter: %w", err)
	}

	m.fanoutSize, err = meter.Int64Histogram(
		"sketchroom_fanout_recipients",
		metric.WithDescription("Recipients per relayed event"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fan-out histogram: %w", err)
	}

	m.droppedSlow, err = meter.Int64Counter(
		"sketchroom_recipients_dropped",
		metric.WithDescription("Recipients disconnected because their send queue overflowed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dropped recipient counter: %w", err)
	}

	m.snapshotWrites, err = meter.Int64Counter(
		"sketchroom_snapshot_writes",
		metric.WithDescription("Snapshot pushes, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot write counter: %w", err)
	}

	m.authFailures, err = meter.Int64Counter(
		"sketchroom_auth_failures",
		metric.WithDescription("Rejected connection attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth failure counter: %w", err)
	}

	m.notInRoomDrops, err = meter.Int64Counter(
		"sketchroom_not_in_room_drops",
		metric.WithDescription("Events dropped because the sender was not in the addressed room"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create not-in-room counter: %w", err)
	}

	m.messageSize, err = meter.Int64Histogram(
		"sketchroom_inbound_message_size",
		metric.WithDescription("Size of inbound WebSocket frames"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(64, 256, 1024, 4096, 65536, 1<<20, 8<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message size histogram: %w", err)
	}

	return m, nil
}

// NewNoopRelayMetrics returns instruments that record nothing
func NewNoopRelayMetrics() *RelayMetrics {
	m, err := NewRelayMetrics(metricnoop.NewMeterProvider().Meter("noop"))
	if err != nil {
		// the noop meter never fails
		panic(err)
	}
	return m
}

// ConnectionOpened records an authenticated connection
func (m *RelayMetrics) ConnectionOpened(ctx context.Context) {
	m.connections.Add(ctx, 1)
}

// ConnectionClosed records a connection going away
func (m *RelayMetrics) ConnectionClosed(ctx context.Context) {
	m.connections.Add(ctx, -1)
}

// RoomCreated records a room gaining its first member
func (m *RelayMetrics) RoomCreated(ctx context.Context) {
	m.rooms.Add(ctx, 1)
}

// RoomRemoved records an empty room being collected
func (m *RelayMetrics) RoomRemoved(ctx context.Context) {
	m.rooms.Add(ctx, -1)
}

// RecordRelay records one event fanned out to recipients members
func (m *RelayMetrics) RecordRelay(ctx context.Context, op string, recipients int) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	m.eventsRelayed.Add(ctx, 1, attrs)
	m.fanoutSize.Record(ctx, int64(recipients), attrs)
}

// RecordSlowRecipient records a recipient dropped for not keeping up
func (m *RelayMetrics) RecordSlowRecipient(ctx context.Context) {
	m.droppedSlow.Add(ctx, 1)
}

// RecordSnapshotWrite records a snapshot push outcome
func (m *RelayMetrics) RecordSnapshotWrite(ctx context.Context, outcome string) {
	m.snapshotWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAuthFailure records a rejected handshake
func (m *RelayMetrics) RecordAuthFailure(ctx context.Context) {
	m.authFailures.Add(ctx, 1)
}

// RecordNotInRoom records an event dropped for a missing membership
func (m *RelayMetrics) RecordNotInRoom(ctx context.Context, op string) {
	m.notInRoomDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordInboundMessage records the size of an inbound frame
func (m *RelayMetrics) RecordInboundMessage(ctx context.Context, size int) {
	m.messageSize.Record(ctx, int64(size))
}
