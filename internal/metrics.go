package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 大廳的 Prometheus 指標
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	PacketsReceived   *prometheus.CounterVec
	PacketsSent       *prometheus.CounterVec
	ProtocolErrors    prometheus.Counter

	Users prometheus.Gauge
	Rooms prometheus.Gauge
	Games prometheus.Gauge
}

// NewMetrics 在指定的 registry 上註冊大廳指標
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lobby",
			Name:      "connections_active",
			Help:      "目前接受中的 TCP 連線數。",
		}),
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobby",
			Name:      "packets_received_total",
			Help:      "已解碼的用戶端封包數，依代碼分類。",
		}, []string{"code"}),
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobby",
			Name:      "packets_sent_total",
			Help:      "已送出的伺服器封包數，依代碼分類。",
		}, []string{"code"}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lobby",
			Name:      "protocol_errors_total",
			Help:      "導致連線斷開的協議錯誤數。",
		}),
		Users: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lobby",
			Name:      "users",
			Help:      "目前登入的使用者數。",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lobby",
			Name:      "rooms",
			Help:      "目前開啟的房間數。",
		}),
		Games: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lobby",
			Name:      "games",
			Help:      "目前廣告中的遊戲數。",
		}),
	}
}
