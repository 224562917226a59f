package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/quikchat/quikchat-server"
)

// Metrics holds all the OpenTelemetry metric instruments for the
// matchmaking service.
type Metrics struct {
	// Session metrics
	SessionsActive    metric.Int64UpDownCounter
	SessionsTotal     metric.Int64Counter
	DisconnectsTotal  metric.Int64Counter

	// Queue metrics
	QueueDepth        metric.Int64UpDownCounter
	PairsMatchedTotal metric.Int64Counter
	PairsEndedTotal   metric.Int64Counter

	// Invite metrics
	InvitesCreatedTotal  metric.Int64Counter
	InvitesAcceptedTotal metric.Int64Counter
	InvitesRejectedTotal metric.Int64Counter
	InvitesExpiredTotal  metric.Int64Counter

	// Room metrics
	RoomsActive metric.Int64UpDownCounter

	// Relay metrics
	RelayForwardedTotal metric.Int64Counter
	RelayDroppedTotal   metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SessionsActive, _ = meter.Int64UpDownCounter(
		"quikchat.sessions.active",
		metric.WithDescription("Number of connected sessions"),
		metric.WithUnit("{session}"),
	)

	m.SessionsTotal, _ = meter.Int64Counter(
		"quikchat.sessions.total",
		metric.WithDescription("Total number of sessions connected since start"),
		metric.WithUnit("{session}"),
	)

	m.DisconnectsTotal, _ = meter.Int64Counter(
		"quikchat.sessions.disconnects.total",
		metric.WithDescription("Total number of session disconnects"),
		metric.WithUnit("{session}"),
	)

	m.QueueDepth, _ = meter.Int64UpDownCounter(
		"quikchat.queue.depth",
		metric.WithDescription("Number of sessions waiting in the public queue"),
		metric.WithUnit("{session}"),
	)

	m.PairsMatchedTotal, _ = meter.Int64Counter(
		"quikchat.pairs.matched.total",
		metric.WithDescription("Total number of public pairings made"),
		metric.WithUnit("{pair}"),
	)

	m.PairsEndedTotal, _ = meter.Int64Counter(
		"quikchat.pairs.ended.total",
		metric.WithDescription("Total number of public pairings ended"),
		metric.WithUnit("{pair}"),
	)

	m.InvitesCreatedTotal, _ = meter.Int64Counter(
		"quikchat.invites.created.total",
		metric.WithDescription("Total number of private invites created"),
		metric.WithUnit("{invite}"),
	)

	m.InvitesAcceptedTotal, _ = meter.Int64Counter(
		"quikchat.invites.accepted.total",
		metric.WithDescription("Total number of private invites accepted"),
		metric.WithUnit("{invite}"),
	)

	m.InvitesRejectedTotal, _ = meter.Int64Counter(
		"quikchat.invites.rejected.total",
		metric.WithDescription("Total number of private invites rejected"),
		metric.WithUnit("{invite}"),
	)

	m.InvitesExpiredTotal, _ = meter.Int64Counter(
		"quikchat.invites.expired.total",
		metric.WithDescription("Total number of private invites expired by TTL"),
		metric.WithUnit("{invite}"),
	)

	m.RoomsActive, _ = meter.Int64UpDownCounter(
		"quikchat.rooms.active",
		metric.WithDescription("Number of active private rooms"),
		metric.WithUnit("{room}"),
	)

	m.RelayForwardedTotal, _ = meter.Int64Counter(
		"quikchat.relay.forwarded.total",
		metric.WithDescription("Total number of payloads relayed to a live destination"),
		metric.WithUnit("{message}"),
	)

	m.RelayDroppedTotal, _ = meter.Int64Counter(
		"quikchat.relay.dropped.total",
		metric.WithDescription("Total number of payloads dropped because the destination was gone"),
		metric.WithUnit("{message}"),
	)

	return m
}
