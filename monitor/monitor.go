// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlinePlayers      prometheus.Gauge
	ActiveRooms        prometheus.Gauge
	RoundsPlayed       prometheus.Counter
	RoundDuration      prometheus.Histogram
	PlayersJoined      prometheus.Counter
	PlayersDied        prometheus.Counter
	MessagesReceived   prometheus.Counter
	SubscribersRemoved *prometheus.CounterVec
}

func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of connected clients",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of game sessions in progress",
		}),
		RoundsPlayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_played_total",
			Help:      "Total number of simulated rounds",
		}),
		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Time spent simulating one round",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		PlayersJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "players_joined_total",
			Help:      "Total number of players added to a roster",
		}),
		PlayersDied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "players_died_total",
			Help:      "Total number of players removed by collisions",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of client requests received",
		}),
		SubscribersRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_removed_total",
			Help:      "Observers dropped without unsubscribing, by reason",
		}, []string{"reason"}),
	}

	registerer.MustRegister(
		m.OnlinePlayers,
		m.ActiveRooms,
		m.RoundsPlayed,
		m.RoundDuration,
		m.PlayersJoined,
		m.PlayersDied,
		m.MessagesReceived,
		m.SubscribersRemoved,
	)

	return m
}

// Monitor owns a private prometheus registry so several can coexist in tests.
type Monitor struct {
	metrics      *Metrics
	registry     *prometheus.Registry
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

func NewMonitor(namespace string) *Monitor {
	registry := prometheus.NewRegistry()
	return &Monitor{
		metrics:   NewMetrics(namespace, registry),
		registry:  registry,
		startTime: time.Now(),
	}
}

func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// Handler serves the prometheus exposition format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var publishOnce sync.Once

// VarsHandler serves expvar, publishing uptime and request count once per process.
func (m *Monitor) VarsHandler() http.Handler {
	publishOnce.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))
		expvar.Publish("requests", expvar.Func(func() interface{} {
			m.mutex.Lock()
			defer m.mutex.Unlock()
			return m.requestCount
		}))
	})
	return expvar.Handler()
}

func (m *Monitor) IncOnlinePlayers() {
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	m.metrics.OnlinePlayers.Dec()
}

func (m *Monitor) IncActiveRooms() {
	m.metrics.ActiveRooms.Inc()
}

func (m *Monitor) DecActiveRooms() {
	m.metrics.ActiveRooms.Dec()
}

func (m *Monitor) ObserveRound(duration time.Duration) {
	m.metrics.RoundsPlayed.Inc()
	m.metrics.RoundDuration.Observe(duration.Seconds())
}

func (m *Monitor) IncPlayersJoined() {
	m.metrics.PlayersJoined.Inc()
}

func (m *Monitor) IncPlayersDied() {
	m.metrics.PlayersDied.Inc()
}

func (m *Monitor) IncSubscribersRemoved(reason string) {
	m.metrics.SubscribersRemoved.WithLabelValues(reason).Inc()
}

func (m *Monitor) IncMessagesReceived() {
	m.metrics.MessagesReceived.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}
