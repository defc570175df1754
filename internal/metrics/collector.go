package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes migration metrics
type Collector struct {
	registry *prometheus.Registry

	migrationsTotal *prometheus.CounterVec
	artifactBytes   prometheus.Counter
	inflight        prometheus.Gauge
	stageDuration   *prometheus.HistogramVec

	mu     sync.Mutex
	server *http.Server
}

// New creates a new metrics collector. Each collector owns its registry so
// several can coexist in one process.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		migrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cpmigrate_migrations_total",
				Help: "Total number of migration attempts by outcome",
			},
			[]string{"outcome"},
		),
		artifactBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cpmigrate_artifact_bytes_total",
				Help: "Total bytes of backup artifacts downloaded",
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cpmigrate_inflight_migrations",
				Help: "Number of migrations currently running",
			},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cpmigrate_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}

	// Register metrics
	c.registry.MustRegister(c.migrationsTotal)
	c.registry.MustRegister(c.artifactBytes)
	c.registry.MustRegister(c.inflight)
	c.registry.MustRegister(c.stageDuration)

	return c
}

// MigrationStarted marks a migration as in flight.
func (c *Collector) MigrationStarted() {
	c.inflight.Inc()
}

// MigrationFinished records the outcome of a finished migration.
func (c *Collector) MigrationFinished(outcome string) {
	c.inflight.Dec()
	c.migrationsTotal.WithLabelValues(outcome).Inc()
}

// AddArtifactBytes adds to the total artifact bytes downloaded.
func (c *Collector) AddArtifactBytes(bytes int64) {
	c.artifactBytes.Add(float64(bytes))
}

// ObserveStage records how long a pipeline stage took.
func (c *Collector) ObserveStage(stage string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// StartServer starts the metrics HTTP server. It blocks until the listener
// fails or Stop is called.
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.mu.Lock()
	c.server = &http.Server{Addr: addr, Handler: mux}
	srv := c.server
	c.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts down the metrics HTTP server if it was started.
func (c *Collector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server == nil {
		return nil
	}
	err := c.server.Close()
	c.server = nil
	return err
}
