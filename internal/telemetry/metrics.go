package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SelinCifcii/decision-wheel/internal/domain"
	"github.com/SelinCifcii/decision-wheel/internal/event"
)

// Metrics exposes the room lifecycle counters on /metrics. Counters are
// fed from the event bus; gauges sample the registry and hub on scrape.
type Metrics struct {
	roomsCreated  prometheus.Counter
	joined        prometheus.Counter
	optionsAdded  prometheus.Counter
	selections    prometheus.Counter
	activeRooms   prometheus.GaugeFunc
	activeClients prometheus.GaugeFunc
}

type MetricsConfig struct {
	Registerer prometheus.Registerer
	EventBus   *event.Bus

	// ActiveRooms and ActiveClients are sampled on every scrape.
	ActiveRooms   func() int
	ActiveClients func() int
}

func NewMetrics(c MetricsConfig) *Metrics {
	if c.Registerer == nil {
		c.Registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wheel_rooms_created_total",
			Help: "Rooms created since start.",
		}),
		joined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wheel_participants_joined_total",
			Help: "Successful room joins, creators included.",
		}),
		optionsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wheel_options_added_total",
			Help: "Options appended to room lists.",
		}),
		selections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wheel_selections_total",
			Help: "Selection outcomes published to rooms.",
		}),
	}

	if c.ActiveRooms != nil {
		m.activeRooms = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wheel_active_rooms",
			Help: "Rooms currently held in the registry.",
		}, func() float64 { return float64(c.ActiveRooms()) })
		c.Registerer.MustRegister(m.activeRooms)
	}
	if c.ActiveClients != nil {
		m.activeClients = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wheel_active_connections",
			Help: "Websocket connections currently registered.",
		}, func() float64 { return float64(c.ActiveClients()) })
		c.Registerer.MustRegister(m.activeClients)
	}

	c.Registerer.MustRegister(m.roomsCreated, m.joined, m.optionsAdded, m.selections)

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameRoomCreated, count(m.roomsCreated))
		c.EventBus.Subscribe(domain.EventNameJoined, count(m.joined))
		c.EventBus.Subscribe(domain.EventNameOptionAdded, count(m.optionsAdded))
		c.EventBus.Subscribe(domain.EventNameSelectionMade, count(m.selections))
	}

	return m
}

func count(c prometheus.Counter) event.Handler {
	return func(context.Context, event.Event) error {
		c.Inc()
		return nil
	}
}
