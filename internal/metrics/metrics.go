package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectGauge is the current number of active SOCKS5 sessions.
	ConnectGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "socks5_sessions_active",
		Help: "Current number of active SOCKS5 sessions",
	})

	// ConnectCounter is the total number of accepted SOCKS5 sessions.
	ConnectCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "socks5_sessions_total",
		Help: "Total number of accepted SOCKS5 sessions",
	})

	// HandshakeFailures counts sessions that ended before relaying.
	HandshakeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socks5_handshake_failures_total",
		Help: "Sessions that ended before relaying, by reason",
	}, []string{"reason"})

	// UpstreamConnects counts upstream connect attempts by reply status.
	UpstreamConnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socks5_upstream_connects_total",
		Help: "Upstream connect attempts, by reply status",
	}, []string{"status"})

	UpstreamConnectSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "socks5_upstream_connect_seconds",
		Help:    "Time spent resolving and connecting to upstreams",
		Buckets: prometheus.DefBuckets,
	})

	// RelayBytes counts relayed payload bytes.
	RelayBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socks5_relay_bytes_total",
		Help: "Relayed payload bytes, by direction",
	}, []string{"direction"})
)

func init() {
	// Register the metrics.
	prometheus.MustRegister(
		ConnectGauge,
		ConnectCounter,
		HandshakeFailures,
		UpstreamConnects,
		UpstreamConnectSeconds,
		RelayBytes,
	)
}

// SessionStarted counts an accepted session and returns the func marking it
// finished.
func SessionStarted() func() {
	ConnectGauge.Inc()
	ConnectCounter.Inc()
	return ConnectGauge.Dec
}

// ObserveUpstream records one upstream connect attempt.
func ObserveUpstream(status string, elapsed time.Duration) {
	UpstreamConnects.WithLabelValues(status).Inc()
	UpstreamConnectSeconds.Observe(elapsed.Seconds())
}

// ObserveRelay records the bytes a finished session relayed.
func ObserveRelay(upstream, downstream int64) {
	RelayBytes.WithLabelValues("upstream").Add(float64(upstream))
	RelayBytes.WithLabelValues("downstream").Add(float64(downstream))
}

func StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 优雅关闭
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}
