// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks live sockets in the registry.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lobbyd_active_connections",
		Help: "Number of live websocket connections.",
	})

	// TrackedRooms tracks rooms with at least one subscriber on the bus.
	TrackedRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lobbyd_tracked_rooms",
		Help: "Number of rooms with active event subscriptions.",
	})

	// BroadcastsTotal counts events fanned out, by channel kind.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lobbyd_broadcasts_total",
		Help: "Events fanned out to subscribers.",
	}, []string{"channel"})

	// RateLimitRejections counts inbound events refused by the limiter.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lobbyd_rate_limit_rejections_total",
		Help: "Inbound events rejected by the per-socket rate limiter.",
	}, []string{"action"})

	// GameLaunches counts startGame outcomes.
	GameLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lobbyd_game_launches_total",
		Help: "Game launch attempts by outcome.",
	}, []string{"outcome"})
)
