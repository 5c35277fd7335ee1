package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	BidsTotal        *prometheus.CounterVec // result=accepted|rejected
	SettlementsTotal *prometheus.CounterVec // outcome=sold|unsold|insolvent|no_lot
	BroadcastsTotal  prometheus.Counter
	ConnectedClients prometheus.Gauge
	DroppedClients   prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		BidsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auction_bids_total",
				Help: "Total bids processed by result",
			},
			[]string{"result"},
		),
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auction_settlements_total",
				Help: "Total settlement attempts by outcome",
			},
			[]string{"outcome"},
		),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_broadcasts_total",
			Help: "Total messages fanned out to all clients",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auction_connected_clients",
			Help: "Number of currently registered bidders",
		}),
		DroppedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_dropped_clients_total",
			Help: "Clients dropped because their outbox backed up",
		}),
	}

	prometheus.MustRegister(
		m.BidsTotal,
		m.SettlementsTotal,
		m.BroadcastsTotal,
		m.ConnectedClients,
		m.DroppedClients,
	)

	return m
}
