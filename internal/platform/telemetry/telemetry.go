// Package telemetry exposes server metrics through the Prometheus client.
// Each Provider owns its own registry so tests can run in isolation.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Config holds telemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "vetbridge-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// Provider manages all metric state for the server.
type Provider struct {
	cfg      Config
	registry *prometheus.Registry

	requestDuration    *prometheus.HistogramVec
	activeRequests     prometheus.Gauge
	operationCount     *prometheus.CounterVec
	dbPoolActive       prometheus.Gauge
	terminalsConnected prometheus.Gauge
}

// NewProvider creates a Provider with a fresh registry and all collectors
// registered.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{
		"service":     cfg.ServiceName,
		"environment": cfg.Environment,
	}

	return &Provider{
		cfg:      cfg,
		registry: reg,
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_server_request_duration_seconds",
			Help:        "Duration of HTTP requests in seconds.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0},
		}, []string{"method", "path", "status"}),
		activeRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "http_server_active_requests",
			Help:        "Number of active HTTP requests.",
			ConstLabels: constLabels,
		}),
		operationCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "bridge_operation_count",
			Help:        "Total bridge operations by domain and operation.",
			ConstLabels: constLabels,
		}, []string{"domain", "operation"}),
		dbPoolActive: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "db_pool_active_connections",
			Help:        "Number of active database pool connections.",
			ConstLabels: constLabels,
		}),
		terminalsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "pos_terminals_connected",
			Help:        "Number of connected POS terminals.",
			ConstLabels: constLabels,
		}),
	}
}

// OperationCounter increments the bridge_operation_count metric for a
// domain operation (checkout, refund, book, check_in, ...).
func (tp *Provider) OperationCounter(domain, operation string) {
	tp.operationCount.WithLabelValues(domain, operation).Inc()
}

// SetDBPoolActive sets the db_pool_active_connections gauge.
func (tp *Provider) SetDBPoolActive(n int64) {
	tp.dbPoolActive.Set(float64(n))
}

// SetTerminalsConnected sets the pos_terminals_connected gauge.
func (tp *Provider) SetTerminalsConnected(n int64) {
	tp.terminalsConnected.Set(float64(n))
}

// Gather returns the current metric families. Exposed for tests.
func (tp *Provider) Gather() ([]*dto.MetricFamily, error) {
	return tp.registry.Gather()
}

// MetricsMiddleware returns an Echo middleware that records HTTP server
// metrics. The routed path is used as the label so parameterised routes do
// not explode cardinality.
func (tp *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tp.activeRequests.Inc()
			start := time.Now()

			err := next(c)

			tp.activeRequests.Dec()
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			tp.requestDuration.WithLabelValues(
				c.Request().Method, path, strconv.Itoa(status),
			).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler returns an Echo handler serving this provider's
// registry in Prometheus exposition format.
func (tp *Provider) PrometheusHandler() echo.HandlerFunc {
	h := promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{})
	return echo.WrapHandler(h)
}
