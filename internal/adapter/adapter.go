package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/s3gallery/s3gallery/internal/circuit"
	"github.com/s3gallery/s3gallery/internal/config"
	"github.com/s3gallery/s3gallery/internal/gallery"
	"github.com/s3gallery/s3gallery/internal/imaging"
	"github.com/s3gallery/s3gallery/internal/metrics"
	"github.com/s3gallery/s3gallery/internal/pipeline"
	"github.com/s3gallery/s3gallery/internal/render"
	"github.com/s3gallery/s3gallery/internal/storage/s3"
	"github.com/s3gallery/s3gallery/pkg/errors"
	"github.com/s3gallery/s3gallery/pkg/retry"
	"github.com/s3gallery/s3gallery/pkg/types"
	"github.com/s3gallery/s3gallery/pkg/utils"
)

const cssContentType = "text/css; charset=utf-8"

// Adapter runs one gallery build from configuration
type Adapter struct {
	config      *config.Configuration
	source      types.ObjectStore
	destination types.ObjectStore

	metrics *metrics.Collector
	logger  *slog.Logger
}

// RunResult summarizes a run
type RunResult struct {
	RunID     string
	Root      *gallery.Node
	Succeeded []string
	Failures  []gallery.Failure
	Images    int
	Pages     int
	// Albums counts the leaves linked from the published root.
	Albums   int
	Duration time.Duration
}

// OK reports whether the run finished without any failure.
func (r *RunResult) OK() bool {
	return len(r.Failures) == 0
}

// Option configures an Adapter
type Option func(*Adapter)

// WithMetrics reports stage and page metrics to c.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Adapter) { a.metrics = c }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// New creates an adapter reading originals from source and publishing to
// destination
func New(ctx context.Context, cfg *config.Configuration, source, destination types.ObjectStore, opts ...Option) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid configuration", err)
	}
	if source == nil || destination == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "source and destination stores are required")
	}

	a := &Adapter{
		config:      cfg,
		source:      source,
		destination: destination,
		logger:      slog.Default().With("component", "adapter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if cfg.Pipeline.CircuitBreaker.Enabled {
		a.guardStores()
	}
	if a.metrics != nil {
		a.addDebugSources()
	}
	return a, nil
}

// requestStatser is implemented by the S3 and MinIO backends.
type requestStatser interface {
	RequestStats() s3.RequestStats
}

// addDebugSources exposes breaker states and backend request counters on
// the metrics debug endpoint.
func (a *Adapter) addDebugSources() {
	stores := []struct {
		name  string
		store types.ObjectStore
	}{{"source", a.source}, {"destination", a.destination}}
	if a.source == a.destination {
		stores = stores[:1]
	}
	for _, s := range stores {
		store := s.store
		if guarded, ok := store.(*circuit.Store); ok {
			a.metrics.AddDebugSource(s.name+"_breakers", func() interface{} { return guarded.Stats() })
			store = guarded.Unwrap()
		}
		if backend, ok := store.(requestStatser); ok {
			a.metrics.AddDebugSource(s.name+"_requests", func() interface{} { return backend.RequestStats() })
		}
	}
}

// guardStores wraps both stores in circuit breakers. A store used as both
// source and destination shares one set of breakers.
func (a *Adapter) guardStores() {
	cb := circuit.Config{
		ConsecutiveFailures: uint32(a.config.Pipeline.CircuitBreaker.ConsecutiveFailures),
		Timeout:             a.config.Pipeline.CircuitBreaker.OpenTimeout,
		OnStateChange: func(name string, from, to circuit.State) {
			a.logger.Warn("Store circuit breaker changed state", "breaker", name, "from", from, "to", to)
		},
	}
	shared := a.source == a.destination
	a.source = circuit.NewStore("source", a.source, cb)
	if shared {
		a.destination = a.source
		return
	}
	a.destination = circuit.NewStore("destination", a.destination, cb)
}

// Run discovers the tree, builds and publishes it, then publishes the
// stylesheet. The error is non-nil only when the run could not start; the
// failures of a run that did start are in the result.
func (a *Adapter) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := a.logger.With("run_id", runID)

	if a.config.Pipeline.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Pipeline.RunTimeout)
		defer cancel()
	}

	if err := a.healthCheck(ctx); err != nil {
		return nil, err
	}

	spec, err := a.rootSpec(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("Starting gallery build",
		"source", a.config.Source.Bucket,
		"destination", a.config.Destination.Bucket,
		"roots", len(spec.Children),
		"policy", a.config.Pipeline.FailurePolicy)

	builder, err := a.newBuilder(log)
	if err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.ResetMetrics()
	}

	root, buildErr := builder.Build(ctx, spec)
	if buildErr != nil {
		log.Error("Root page was not published", "error", buildErr)
	}

	// published regardless of the tree outcome
	cssErr := a.publishStylesheet(ctx, a.retryer(log))

	report := builder.Report()
	result := &RunResult{
		RunID:     runID,
		Root:      root,
		Succeeded: report.Published(),
		Failures:  report.Failures(),
		Images:    report.Images(),
		Duration:  time.Since(start),
	}
	result.Pages = len(result.Succeeded)
	if root != nil {
		root.Walk(func(n *gallery.Node) {
			if n.Kind == gallery.KindLeaf {
				result.Albums++
			}
		})
	}
	if cssErr != nil {
		result.Failures = append(result.Failures, gallery.Failure{
			Path: "",
			Kind: gallery.FailurePublish,
			Key:  utils.StylesheetName,
			Err:  cssErr,
		})
	}

	if a.metrics != nil {
		a.metrics.RecordRun(result.OK())
		if slowest := a.metrics.Nodes().Slowest(1); len(slowest) > 0 {
			log.Debug("Slowest page", "path", slowest[0].Path, "latency", slowest[0].PublishLatency)
		}
	}
	for _, f := range result.Failures {
		log.Warn("Run failure", "path", f.Path, "kind", f.Kind, "key", f.Key, "error", f.Err)
	}
	log.Info("Gallery build finished",
		"pages", result.Pages,
		"albums", result.Albums,
		"images", result.Images,
		"failures", len(result.Failures),
		"duration", result.Duration)
	return result, nil
}

func (a *Adapter) newBuilder(log *slog.Logger) (*gallery.Builder, error) {
	cfg := a.config
	r, err := render.New(render.Options{SiteTitle: cfg.Gallery.Title})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, "load page template", err)
	}

	retryer := a.retryer(log)

	transformer := imaging.NewTransformer(imaging.Options{
		MaxWidth:     cfg.Thumbnail.MaxWidth,
		MaxHeight:    cfg.Thumbnail.MaxHeight,
		Quality:      cfg.Thumbnail.Quality,
		Format:       cfg.Thumbnail.Format,
		AllowUpscale: cfg.Thumbnail.AllowUpscale,
		AutoOrient:   cfg.Thumbnail.AutoOrient,
	})
	pipeOpts := []pipeline.Option{
		pipeline.WithRetryer(retryer),
		pipeline.WithLogger(log.With("component", "pipeline")),
	}
	buildOpts := []gallery.Option{
		gallery.WithRetryer(retryer),
		gallery.WithLogger(log.With("component", "gallery")),
	}
	if a.metrics != nil {
		pipeOpts = append(pipeOpts, pipeline.WithRecorder(a.metrics))
		buildOpts = append(buildOpts, gallery.WithRecorder(a.metrics))
	}

	processor := pipeline.NewProcessor(a.source, a.destination, transformer,
		pipeline.Captions{ExifFallback: cfg.Caption.ExifFallback}, pipeOpts...)

	return gallery.NewBuilder(a.source, a.destination, processor, r, gallery.Config{
		ImagePrefix:             cfg.Gallery.ImagePrefix,
		ImageExtensions:         cfg.Gallery.ImageExtensions,
		SidecarName:             cfg.Gallery.SidecarName,
		MaxKeys:                 cfg.Gallery.MaxKeys,
		MaxConcurrency:          int64(cfg.Pipeline.MaxConcurrency),
		MaxDirectoryConcurrency: cfg.Pipeline.MaxDirectoryConcurrency,
		FailurePolicy:           cfg.Pipeline.FailurePolicy,
	}, buildOpts...), nil
}

func (a *Adapter) retryer(log *slog.Logger) *retry.Retryer {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = a.config.Pipeline.Retry.MaxAttempts
	rc.InitialDelay = a.config.Pipeline.Retry.BaseDelay
	rc.MaxDelay = a.config.Pipeline.Retry.MaxDelay
	return retry.New(rc).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		log.Debug("Retrying store call", "attempt", attempt, "delay", delay, "error", err)
	})
}

func (a *Adapter) healthCheck(ctx context.Context) error {
	for name, store := range map[string]types.ObjectStore{"source": a.source, "destination": a.destination} {
		hc, ok := store.(types.HealthChecker)
		if !ok {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			return errors.Wrap(errors.CodeOf(err), name+" store is not reachable", err).
				WithComponent("adapter")
		}
	}
	return nil
}

// rootSpec returns the declared tree when configured, otherwise the
// discovered one. The root is always a directory named after the gallery.
func (a *Adapter) rootSpec(ctx context.Context) (gallery.NodeSpec, error) {
	title := a.config.Gallery.Title
	if len(a.config.Gallery.Tree) > 0 {
		return gallery.NewDirectorySpec("", title, SpecFromTree(a.config.Gallery.Tree, "")...), nil
	}
	return a.Discover(ctx)
}

// Discover lists the source namespace and derives the tree. Top-level
// prefixes become roots; with discovery_depth above 1, prefixes that have
// sub-prefixes become directories down to that depth. The derivative
// prefix is never a root.
func (a *Adapter) Discover(ctx context.Context) (gallery.NodeSpec, error) {
	children, err := a.discover(ctx, "", 1)
	if err != nil {
		return gallery.NodeSpec{}, err
	}
	return gallery.NewDirectorySpec("", a.config.Gallery.Title, children...), nil
}

func (a *Adapter) discover(ctx context.Context, parent string, depth int) ([]gallery.NodeSpec, error) {
	res, err := a.list(ctx, parent)
	if err != nil {
		return nil, err
	}

	var specs []gallery.NodeSpec
	for _, p := range res.CommonPrefixes {
		if parent == "" && p == utils.ThumbPrefix {
			continue
		}
		nodePath := strings.TrimSuffix(p, utils.KeySeparator)
		name := utils.BaseName(nodePath)

		if depth < a.config.Gallery.DiscoveryDepth {
			sub, err := a.discover(ctx, nodePath, depth+1)
			if err != nil {
				return nil, err
			}
			if len(sub) > 0 {
				specs = append(specs, gallery.NewDirectorySpec(nodePath, name, sub...))
				continue
			}
		}
		specs = append(specs, gallery.NewLeafSpec(nodePath, name))
	}

	if parent != "" && len(specs) > 0 {
		if n := a.countImages(res.Objects); n > 0 {
			a.logger.Warn("Images next to sub-prefixes are not published",
				"prefix", utils.DirPrefix(parent),
				"images", n)
		}
	}
	return specs, nil
}

func (a *Adapter) countImages(objects []types.ObjectInfo) int {
	n := 0
	for _, obj := range objects {
		if utils.IsImageKey(obj.Key, a.config.Gallery.ImagePrefix, a.config.Gallery.ImageExtensions) {
			n++
		}
	}
	return n
}

func (a *Adapter) list(ctx context.Context, parent string) (*types.ListResult, error) {
	opts := types.ListOptions{
		Prefix:    utils.DirPrefix(parent),
		Delimiter: utils.KeySeparator,
		MaxKeys:   a.config.Gallery.MaxKeys,
	}

	var res *types.ListResult
	err := a.retryer(a.logger).Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = a.source.List(ctx, opts)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeListFailed, "discover "+opts.Prefix, err).
			WithComponent("adapter").
			WithOperation("discover")
	}
	return res, nil
}

// SpecFromTree converts declared tree entries under parent into node specs.
func SpecFromTree(entries []config.TreeEntry, parent string) []gallery.NodeSpec {
	specs := make([]gallery.NodeSpec, 0, len(entries))
	for _, e := range entries {
		nodePath := utils.JoinKey(parent, e.Name)
		if e.Kind == config.KindDirectory {
			specs = append(specs, gallery.NewDirectorySpec(nodePath, e.Name, SpecFromTree(e.Children, nodePath)...))
			continue
		}
		specs = append(specs, gallery.NewLeafSpec(nodePath, e.Name))
	}
	return specs
}

// Stylesheet returns the configured local stylesheet, or the built-in one
// when no path is set.
func (a *Adapter) Stylesheet() ([]byte, error) {
	p := a.config.Gallery.StylesheetPath
	if p == "" {
		return render.DefaultStylesheet(), nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePublishFailed, "read stylesheet", err).
			WithContext("file", p)
	}
	return data, nil
}

func (a *Adapter) publishStylesheet(ctx context.Context, r *retry.Retryer) error {
	css, err := a.Stylesheet()
	if err != nil {
		return err
	}
	err = r.Do(ctx, func(ctx context.Context) error {
		return a.destination.Put(ctx, utils.StylesheetName, css, cssContentType)
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodePublishFailed, "publish "+utils.StylesheetName, err).
			WithComponent("adapter")
	}
	return nil
}

// ParseStorageURI splits a store URI such as s3://bucket, minio://bucket
// or memory://name into backend and bucket.
func ParseStorageURI(uri string) (backend, bucket string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse URI: %w", err)
	}

	switch parsed.Scheme {
	case config.BackendS3, config.BackendMinio, config.BackendMemory:
		if parsed.Host == "" {
			return "", "", fmt.Errorf("%s URI must include bucket name", parsed.Scheme)
		}
		if p := strings.Trim(parsed.Path, "/"); p != "" {
			return "", "", fmt.Errorf("URI must name a bucket only, got path %q", p)
		}
		return parsed.Scheme, parsed.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported storage scheme: %q (s3, minio or memory)", parsed.Scheme)
	}
}
