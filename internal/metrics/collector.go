package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/s3gallery/s3gallery/pkg/errors"
)

// Collector records pipeline stage and page publishing metrics
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	// Prometheus metrics
	stageCounter   *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stageSize      *prometheus.HistogramVec
	pageCounter    *prometheus.CounterVec
	pageDuration   prometheus.Histogram
	errorCounter   *prometheus.CounterVec
	activeAssets   prometheus.Gauge
	lastRunSuccess prometheus.Gauge

	// Internal tracking
	stages    map[string]*StageMetrics
	nodes     *NodeTracker
	lastReset time.Time
	sources   map[string]func() interface{}

	// HTTP server for metrics endpoint
	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// StageMetrics tracks one pipeline stage or publishing step
type StageMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9464,
		Path:      "/metrics",
		Namespace: "s3gallery",
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	collector := &Collector{
		config:    config,
		logger:    slog.Default().With("component", "metrics"),
		stages:    make(map[string]*StageMetrics),
		nodes:     NewNodeTracker(),
		lastReset: time.Now(),
		sources:   make(map[string]func() interface{}),
	}
	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Registry returns the Prometheus registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start serves the metrics endpoint until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/stages", c.debugStagesHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Stop(shutdownCtx)
	}()

	c.logger.Info("Metrics endpoint listening", "port", c.config.Port, "path", c.config.Path)
	return nil
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordStage records one pipeline stage execution.
func (c *Collector) RecordStage(stage string, duration time.Duration, size int64, err error) {
	c.record(stage, duration, size, err)
	if !c.config.Enabled {
		return
	}

	c.stageCounter.With(prometheus.Labels{
		"stage":  stage,
		"status": status(err),
	}).Inc()
	c.stageDuration.With(prometheus.Labels{"stage": stage}).Observe(duration.Seconds())
	if size > 0 {
		c.stageSize.With(prometheus.Labels{"stage": stage}).Observe(float64(size))
	}
	if err != nil {
		c.errorCounter.With(prometheus.Labels{
			"stage": stage,
			"code":  string(errors.CodeOf(err)),
		}).Inc()
	}
}

// RecordPage records one index page publish.
func (c *Collector) RecordPage(path, kind string, duration time.Duration, size int64, err error) {
	c.record("publish", duration, size, err)
	c.nodes.RecordPublish(path, kind, duration, size, err)
	if !c.config.Enabled {
		return
	}

	c.pageCounter.With(prometheus.Labels{
		"kind":   kind,
		"status": status(err),
	}).Inc()
	c.pageDuration.Observe(duration.Seconds())
	if err != nil {
		c.errorCounter.With(prometheus.Labels{
			"stage": "publish",
			"code":  string(errors.CodeOf(err)),
		}).Inc()
	}
}

// RecordImages adds the processed and failed asset counts of a leaf.
func (c *Collector) RecordImages(path string, processed, failed int) {
	c.nodes.RecordImages(path, processed, failed)
}

// AssetStarted and AssetFinished track in-flight pipelines.
func (c *Collector) AssetStarted() {
	if c.config.Enabled {
		c.activeAssets.Inc()
	}
}

func (c *Collector) AssetFinished() {
	if c.config.Enabled {
		c.activeAssets.Dec()
	}
}

// RecordRun marks the outcome of a whole run.
func (c *Collector) RecordRun(success bool) {
	if !c.config.Enabled {
		return
	}
	if success {
		c.lastRunSuccess.Set(1)
	} else {
		c.lastRunSuccess.Set(0)
	}
}

// Nodes returns the per-node tracker.
func (c *Collector) Nodes() *NodeTracker {
	return c.nodes
}

// GetMetrics returns a snapshot of the internal stage tracking
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stages := make(map[string]*StageMetrics, len(c.stages))
	for k, v := range c.stages {
		cp := *v
		stages[k] = &cp
	}

	return map[string]interface{}{
		"stages":     stages,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset),
	}
}

// AddDebugSource adds a section named name to /debug/stages. fn is called
// on every request and must be safe for concurrent use.
func (c *Collector) AddDebugSource(name string, fn func() interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[name] = fn
}

// DebugSnapshot returns what /debug/stages serves.
func (c *Collector) DebugSnapshot() map[string]interface{} {
	snapshot := c.GetMetrics()
	snapshot["uptime"] = snapshot["uptime"].(time.Duration).String()
	snapshot["nodes"] = c.nodes.GetSummary()
	snapshot["slowest_nodes"] = c.nodes.Slowest(10)

	c.mu.RLock()
	fns := make(map[string]func() interface{}, len(c.sources))
	for name, fn := range c.sources {
		fns[name] = fn
	}
	c.mu.RUnlock()

	sources := make(map[string]interface{}, len(fns))
	for name, fn := range fns {
		sources[name] = fn()
	}
	snapshot["sources"] = sources
	return snapshot
}

// ResetMetrics clears the stage and node tracking, typically at the start
// of a run. Prometheus series and debug sources are kept.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stages = make(map[string]*StageMetrics)
	c.nodes.Reset()
	c.lastReset = time.Now()
}

func (c *Collector) record(name string, duration time.Duration, size int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.stages[name]
	if !ok {
		m = &StageMetrics{}
		c.stages[name] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.TotalSize += size
	if err != nil {
		m.Errors++
	}
	m.LastOperation = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.AvgSize = float64(m.TotalSize) / float64(m.Count)
}

func (c *Collector) initMetrics() {
	ns, sub := c.config.Namespace, c.config.Subsystem

	c.stageCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "stage_operations_total",
			Help:      "Pipeline stage executions by outcome",
		},
		[]string{"stage", "status"},
	)

	c.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"stage"},
	)

	c.stageSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "stage_size_bytes",
			Help:      "Bytes handled by pipeline stages",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 16), // 1KB to ~64MB
		},
		[]string{"stage"},
	)

	c.pageCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "pages_published_total",
			Help:      "Index pages published by node kind and outcome",
		},
		[]string{"kind", "status"},
	)

	c.pageDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "page_publish_duration_seconds",
			Help:      "Duration of rendering and writing one index page",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "errors_total",
			Help:      "Failures by stage and error code",
		},
		[]string{"stage", "code"},
	)

	c.activeAssets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "active_assets",
			Help:      "Image pipelines currently running",
		},
	)

	c.lastRunSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "last_run_success",
			Help:      "1 if the last run finished without failures",
		},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.stageCounter,
		c.stageDuration,
		c.stageSize,
		c.pageCounter,
		c.pageDuration,
		c.errorCounter,
		c.activeAssets,
		c.lastRunSuccess,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"s3gallery-metrics"}`))
}

func (c *Collector) debugStagesHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := c.DebugSnapshot()

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snapshot)
}
