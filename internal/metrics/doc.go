/*
Package metrics provides Prometheus metrics for gallery runs.

# Overview

The Collector records every pipeline stage (fetch, transform, upload,
caption) and every index page publish. It keeps Prometheus series for
scraping and a small internal snapshot used by the run summary and the
debug endpoint.

	┌─────────────┐
	│  Collector  │
	└──────┬──────┘
	       │
	   ┌───┴──────────────────────────┐
	   │                              │
	┌──▼───────────┐       ┌──────────▼─────┐
	│  Prometheus  │       │ HTTP Endpoints │
	│   Registry   │       │ /metrics       │
	│              │       │ /health        │
	│ - Counters   │       │ /debug/stages  │
	│ - Histograms │       └────────────────┘
	│ - Gauges     │
	└──────────────┘

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9464,
		Path:      "/metrics",
		Namespace: "s3gallery",
	})
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

The collector satisfies the pipeline's Recorder interface, so it is passed
straight to pipeline.WithRecorder. The gallery builder reports pages via
RecordPage and per-leaf image counts via RecordImages.

/debug/stages serves the stage snapshot, a node summary, the slowest pages
and any sections added with AddDebugSource:

	collector.AddDebugSource("source_breakers", func() interface{} {
		return guarded.Stats()
	})

# Exported series

	s3gallery_stage_operations_total{stage,status}
	s3gallery_stage_duration_seconds{stage}
	s3gallery_stage_size_bytes{stage}
	s3gallery_pages_published_total{kind,status}
	s3gallery_page_publish_duration_seconds
	s3gallery_errors_total{stage,code}
	s3gallery_active_assets
	s3gallery_last_run_success

A disabled collector still keeps the internal snapshot but registers
nothing and serves nothing.
*/
package metrics
