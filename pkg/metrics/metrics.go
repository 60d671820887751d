package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Metrics holds Prometheus metrics for a service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight *prometheus.GaugeVec
	DBConnPoolStats  *prometheus.GaugeVec

	DistributionInvestments *prometheus.CounterVec
	DistributionAmount      *prometheus.CounterVec
	DistributionDuration    *prometheus.HistogramVec
}

// NewMetrics creates a new metrics instance registered on reg
func NewMetrics(serviceName string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "newroi",
				Subsystem: serviceName,
				Name:      "requests_total",
				Help:      "Total number of requests",
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "newroi",
				Subsystem: serviceName,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "newroi",
				Subsystem: serviceName,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
			[]string{"method"},
		),
		DBConnPoolStats: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "newroi",
				Subsystem: serviceName,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"stat"},
		),
		DistributionInvestments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "newroi",
				Subsystem: serviceName,
				Name:      "distribution_investments_total",
				Help:      "Investments handled by the distribution engine by outcome",
			},
			[]string{"outcome"}, // credited, skipped, missed, failed
		),
		DistributionAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "newroi",
				Subsystem: serviceName,
				Name:      "distribution_amount_total",
				Help:      "Amounts written by the distribution engine by kind",
			},
			[]string{"kind"}, // roi, commission, missed
		),
		DistributionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "newroi",
				Subsystem: serviceName,
				Name:      "distribution_run_duration_seconds",
				Help:      "Duration of distribution runs",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"trigger"},
		),
	}
}

// UnaryServerInterceptor returns a new unary server interceptor for metrics
func UnaryServerInterceptor(metrics *Metrics) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if metrics == nil {
			return handler(ctx, req)
		}
		method := info.FullMethod

		metrics.RequestsInFlight.WithLabelValues(method).Inc()
		defer metrics.RequestsInFlight.WithLabelValues(method).Dec()

		start := time.Now()
		defer func() {
			metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}()

		resp, err := handler(ctx, req)

		statusCode := "ok"
		if err != nil {
			st, _ := status.FromError(err)
			statusCode = st.Code().String()
		}
		metrics.RequestCounter.WithLabelValues(method, statusCode).Inc()

		return resp, err
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records request metrics labelled by the matched route pattern
func HTTPMiddleware(metrics *Metrics, next http.Handler) http.Handler {
	if metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(sw, r)

		// Pattern is set by ServeMux after routing; it keeps label cardinality bounded.
		method := r.Pattern
		if method == "" {
			method = "unmatched"
		}
		metrics.RequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		metrics.RequestCounter.WithLabelValues(method, strconv.Itoa(sw.status)).Inc()
	})
}

// RecordDBPoolStats records database connection pool statistics
func (m *Metrics) RecordDBPoolStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnPoolStats.WithLabelValues("open").Set(float64(stats.OpenConnections))
	m.DBConnPoolStats.WithLabelValues("in_use").Set(float64(stats.InUse))
	m.DBConnPoolStats.WithLabelValues("idle").Set(float64(stats.Idle))
	m.DBConnPoolStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
	m.DBConnPoolStats.WithLabelValues("wait_duration_ms").Set(float64(stats.WaitDuration.Milliseconds()))
}

// ObserveInvestment counts one investment outcome of a distribution run
func (m *Metrics) ObserveInvestment(outcome string) {
	if m == nil {
		return
	}
	m.DistributionInvestments.WithLabelValues(outcome).Inc()
}

// AddDistributedAmount adds an amount of the given kind
func (m *Metrics) AddDistributedAmount(kind string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.DistributionAmount.WithLabelValues(kind).Add(amount)
}

// ObserveRunDuration records how long a distribution run took
func (m *Metrics) ObserveRunDuration(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.DistributionDuration.WithLabelValues(trigger).Observe(d.Seconds())
}
