package mqtt

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/golang-io/requests"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Stat holds the broker-wide Prometheus collectors. A single package
// instance is registered once per process.
type Stat struct {
	Uptime            prometheus.Counter
	ActiveConnections prometheus.Gauge
	PacketReceived    prometheus.Counter
	ByteReceived      prometheus.Counter
	PacketSent        prometheus.Counter
	ByteSent          prometheus.Counter
	RejectedConnects  prometheus.Counter
	DispatcherDepth   prometheus.Gauge
}

var stat = Stat{
	Uptime:            prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_uptime_seconds", Help: "The uptime in seconds"}),
	ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_active_client_count", Help: "The active number of MQTT clients"}),
	PacketReceived:    prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_received_packets", Help: "The total number of received MQTT packets"}),
	ByteReceived:      prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_received_bytes", Help: "The total number of received MQTT bytes"}),
	PacketSent:        prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_send_packets", Help: "The total number of send MQTT packets"}),
	ByteSent:          prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_send_bytes", Help: "The total number of send MQTT bytes"}),
	RejectedConnects:  prometheus.NewCounter(prometheus.CounterOpts{Name: "mqtt_rejected_connects", Help: "The total number of rejected Connect attempts"}),
	DispatcherDepth:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqtt_dispatcher_queue_depth", Help: "The approximate depth of the task dispatcher queue"}),
}

func (s *Stat) Register() {
	prometheus.MustRegister(s.Uptime)
	prometheus.MustRegister(s.ActiveConnections)
	prometheus.MustRegister(s.PacketReceived)
	prometheus.MustRegister(s.ByteReceived)
	prometheus.MustRegister(s.PacketSent)
	prometheus.MustRegister(s.ByteSent)
	prometheus.MustRegister(s.RejectedConnects)
	prometheus.MustRegister(s.DispatcherDepth)
}

func (s *Stat) RefreshUptime() {
	go func() {
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for range tick.C {
			s.Uptime.Inc()
		}
	}()
}

// Httpd serves the admin mux (metrics, pprof, liveness) on address
// until the process exits or ListenAndServe fails. dumpSubscriptions,
// if non-nil, is wired to a /subscriptions introspection route.
func Httpd(address string, log *zap.Logger, dumpSubscriptions func(io.Writer)) error {
	stat.Register()
	stat.RefreshUptime()

	mux := requests.NewServeMux(requests.URL(address), requests.Logf(func(ctx context.Context, st *requests.Stat) {
		log.Debug("admin http request", zap.String("summary", st.Print()))
	}))
	mux.Route("/metrics", promhttp.Handler())
	mux.Route("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	if dumpSubscriptions != nil {
		mux.Route("/subscriptions", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			dumpSubscriptions(w)
		}))
	}
	mux.Pprof()

	srv := requests.NewServer(context.Background(), mux, requests.OnStart(func(s *http.Server) {
		log.Info("admin http listening", zap.String("address", s.Addr))
	}))
	return srv.ListenAndServe()
}
