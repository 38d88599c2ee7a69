// Package metrics exposes the gateway's Prometheus counters and the
// /metrics and /ready HTTP endpoints, adapted from go-ampio-server's metrics
// package onto the AT-command domain: retries, timeouts, URC drops, and
// command latency instead of CAN frame counts.
package metrics

import (
	"net/http"
	"sync"

	"i4.energy/across/atrt/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atrt_commands_total",
		Help: "Total AT commands sent, labeled by final outcome kind.",
	}, []string{"kind"})

	CommandRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atrt_command_retries_total",
		Help: "Total command attempts that were retried after a retriable failure.",
	})

	CommandAborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atrt_command_aborts_total",
		Help: "Total abort sequences transmitted after a command timeout.",
	})

	CommandBusyRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atrt_command_busy_rejected_total",
		Help: "Total Send calls rejected because another command was in flight.",
	})

	CommandLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atrt_command_latency_seconds",
		Help:    "Time from the start of a Send/SendPayload call to its final outcome, across all attempts.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	URCsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atrt_urcs_received_total",
		Help: "Total unsolicited result codes delivered outside any in-flight command.",
	})

	URCsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atrt_urcs_dropped_total",
		Help: "Total URC frames discarded by the channel's overflow policy.",
	})

	TransportErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atrt_transport_errors_total",
		Help: "Total transport read failures observed by the ingest loop.",
	})

	SMSSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atrt_sms_sent_total",
		Help: "Total SMS messages accepted by the modem (+CMGS confirmed).",
	})

	SMSFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atrt_sms_failed_total",
		Help: "Total SMS send attempts that failed.",
	})

	IngestRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atrt_ingest_recoveries_total",
		Help: "Total internal ingest-loop recoveries, labeled by reason (stray final code, buffer overflow).",
	}, []string{"reason"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Command outcome label values (stable, bounded cardinality).
const (
	KindOK      = "ok"
	KindTimeout = "timeout"
	KindError   = "error"
	KindBusy    = "busy"
	KindIO      = "io"
)

// IngestRecoveries reason label values (stable, bounded cardinality).
const (
	ReasonStrayFinalCode = "stray_final_code"
	ReasonBufferOverflow = "buffer_overflow"
)

// StartHTTP serves Prometheus metrics and readiness on addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// SetReadinessFunc registers the function /ready and IsReady consult.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	readinessFn = fn
	readinessMu.Unlock()
}

// IsReady invokes the registered readiness function, defaulting to ready
// when none has been set yet.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
