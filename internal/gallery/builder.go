package gallery

import (
	"context"
	stderr "errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/s3gallery/s3gallery/internal/pipeline"
	"github.com/s3gallery/s3gallery/pkg/errors"
	"github.com/s3gallery/s3gallery/pkg/retry"
	"github.com/s3gallery/s3gallery/pkg/types"
	"github.com/s3gallery/s3gallery/pkg/utils"
)

// Failure policies.
const (
	PolicyContinue    = "continue"
	PolicyAbortBranch = "abort_branch"
)

const htmlContentType = "text/html; charset=utf-8"

// PageRenderer turns a built node into its index page.
type PageRenderer interface {
	Render(node *Node, ancestry []Crumb) (string, error)
}

// AssetProcessor runs one image through the pipeline.
type AssetProcessor interface {
	Process(ctx context.Context, asset pipeline.SourceAsset) pipeline.Outcome
}

// Recorder receives page and asset counts. The metrics collector
// implements it.
type Recorder interface {
	RecordPage(path, kind string, duration time.Duration, size int64, err error)
	RecordImages(path string, processed, failed int)
	AssetStarted()
	AssetFinished()
}

type nopRecorder struct{}

func (nopRecorder) RecordPage(string, string, time.Duration, int64, error) {}
func (nopRecorder) RecordImages(string, int, int)                          {}
func (nopRecorder) AssetStarted()                                          {}
func (nopRecorder) AssetFinished()                                         {}

// Config controls discovery of images inside a leaf and fan-out.
type Config struct {
	ImagePrefix     string
	ImageExtensions []string
	SidecarName     string
	MaxKeys         int

	// MaxConcurrency bounds image pipelines across the whole tree.
	MaxConcurrency int64
	// MaxDirectoryConcurrency bounds children built at once per directory.
	MaxDirectoryConcurrency int

	FailurePolicy string
}

// Builder builds and publishes a gallery tree. A Builder is meant for one
// run; its Report accumulates across Build calls.
type Builder struct {
	source      types.ObjectStore
	destination types.ObjectStore
	processor   AssetProcessor
	renderer    PageRenderer
	cfg         Config

	assets   *semaphore.Weighted
	retryer  *retry.Retryer
	recorder Recorder
	logger   *slog.Logger
	report   *Report
}

// Option configures a Builder.
type Option func(*Builder)

// WithRetryer retries list, sidecar and publish calls with r.
func WithRetryer(r *retry.Retryer) Option {
	return func(b *Builder) { b.retryer = r }
}

// WithRecorder reports pages and asset counts to r.
func WithRecorder(r Recorder) Option {
	return func(b *Builder) { b.recorder = r }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder lists and reads from source and publishes pages to
// destination.
func NewBuilder(source, destination types.ObjectStore, processor AssetProcessor, renderer PageRenderer, cfg Config, opts ...Option) *Builder {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.MaxDirectoryConcurrency <= 0 {
		cfg.MaxDirectoryConcurrency = 4
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = PolicyContinue
	}

	b := &Builder{
		source:      source,
		destination: destination,
		processor:   processor,
		renderer:    renderer,
		cfg:         cfg,
		assets:      semaphore.NewWeighted(cfg.MaxConcurrency),
		retryer:     retry.New(retry.Config{MaxAttempts: 1}),
		recorder:    nopRecorder{},
		logger:      slog.Default().With("component", "gallery"),
		report:      &Report{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Report returns the failures and published pages gathered so far.
func (b *Builder) Report() *Report {
	return b.report
}

// Build builds spec and everything under it. The returned error is
// non-nil only when spec itself could not be published; failures below it
// are in the Report.
func (b *Builder) Build(ctx context.Context, spec NodeSpec) (*Node, error) {
	return b.build(ctx, spec, nil)
}

func (b *Builder) build(ctx context.Context, spec NodeSpec, ancestry []Crumb) (*Node, error) {
	if err := ctx.Err(); err != nil {
		err = errors.Wrap(errors.ErrCodeOperationCanceled, "build "+spec.Path, err)
		b.fail(Failure{Path: spec.Path, Kind: FailureCanceled, Err: err})
		return nil, err
	}

	node := &Node{Kind: spec.Kind(), Path: spec.Path, Name: spec.Name}

	md, err := b.loadSidecar(ctx, spec.Path)
	if err != nil {
		b.logger.Warn("Ignoring sidecar", "path", spec.Path, "error", err)
		b.fail(Failure{Path: spec.Path, Kind: FailureMetadata, Key: utils.JoinKey(spec.Path, b.cfg.SidecarName), Err: err})
	}
	node.Metadata = md

	switch spec.Kind() {
	case KindLeaf:
		err = b.buildLeaf(ctx, node)
	case KindDirectory:
		err = b.buildDirectory(ctx, node, spec.Children, ancestry)
	default:
		err = errors.NewError(errors.ErrCodeInternalError, fmt.Sprintf("unknown node kind %v", spec.Kind()))
	}
	if err != nil {
		return nil, err
	}

	if err := b.publish(ctx, node, ancestry); err != nil {
		return nil, err
	}
	return node, nil
}

func (b *Builder) buildLeaf(ctx context.Context, node *Node) error {
	log := b.logger.With("path", node.Path)

	keys, err := b.listImages(ctx, node.Path)
	if err != nil {
		b.fail(Failure{Path: node.Path, Kind: FailureList, Err: err})
		return err
	}
	log.Debug("Listed leaf", "images", len(keys))

	outcomes, err := b.processAll(ctx, keys)

	var failed int
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		if out.Failed() {
			if !isCanceled(out.Err) {
				failed++
				b.fail(Failure{Path: node.Path, Kind: FailureKind(out.Err.Stage), Key: out.Err.Key, Err: out.Err.Err})
			}
			continue
		}
		node.Images = append(node.Images, out.Image)
	}
	b.recorder.RecordImages(node.Path, len(node.Images), failed)

	if err == nil && ctx.Err() != nil {
		err = errors.Wrap(errors.ErrCodeOperationCanceled, "build "+node.Path, ctx.Err())
		b.fail(Failure{Path: node.Path, Kind: FailureCanceled, Err: err})
		return err
	}
	if err != nil {
		err = errors.Wrap(errors.ErrCodeOperationCanceled, "branch aborted", err).
			WithComponent("gallery").
			WithContext("path", node.Path)
		log.Warn("Leaf aborted", "error", err)
		b.fail(Failure{Path: node.Path, Kind: FailureAborted, Err: err})
		return err
	}

	node.Thumbnail = resolveOverride(node.Path, node.Metadata.Thumbnail)
	if node.Thumbnail == "" && len(node.Images) > 0 {
		node.Thumbnail = node.Images[0].DestinationKey
	}
	return nil
}

// processAll runs every key through the pipeline and returns outcomes in
// key order. Under abort_branch the first fatal outcome cancels the rest
// and is returned as the error.
func (b *Builder) processAll(ctx context.Context, keys []string) ([]*pipeline.Outcome, error) {
	outcomes := make([]*pipeline.Outcome, len(keys))
	abort := b.cfg.FailurePolicy == PolicyAbortBranch

	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if err := b.assets.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer b.assets.Release(1)

			b.recorder.AssetStarted()
			out := b.processor.Process(gctx, pipeline.SourceAsset{Key: key})
			b.recorder.AssetFinished()
			outcomes[i] = &out

			if abort && out.Failed() && !isCanceled(out.Err) {
				return out.Err
			}
			return nil
		})
	}
	return outcomes, g.Wait()
}

func (b *Builder) buildDirectory(ctx context.Context, node *Node, specs []NodeSpec, ancestry []Crumb) error {
	childAncestry := make([]Crumb, len(ancestry), len(ancestry)+1)
	copy(childAncestry, ancestry)
	childAncestry = append(childAncestry, Crumb{Path: node.Path, Title: node.Title()})

	children := make([]*Node, len(specs))

	var g errgroup.Group
	g.SetLimit(b.cfg.MaxDirectoryConcurrency)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			// failures are already in the report; the child is omitted
			child, err := b.build(ctx, spec, childAncestry)
			if err == nil {
				children[i] = child
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range children {
		if c != nil {
			node.Children = append(node.Children, c)
		}
	}

	node.Thumbnail = resolveOverride(node.Path, node.Metadata.Thumbnail)
	if node.Thumbnail == "" {
		for _, c := range node.Children {
			if c.Thumbnail != "" {
				node.Thumbnail = c.Thumbnail
				break
			}
		}
	}

	if err := ctx.Err(); err != nil {
		err = errors.Wrap(errors.ErrCodeOperationCanceled, "build "+node.Path, err)
		b.fail(Failure{Path: node.Path, Kind: FailureCanceled, Err: err})
		return err
	}
	return nil
}

// listImages returns the image keys directly under nodePath in listing
// order.
func (b *Builder) listImages(ctx context.Context, nodePath string) ([]string, error) {
	opts := types.ListOptions{
		Prefix:    utils.DirPrefix(nodePath),
		Delimiter: utils.KeySeparator,
		MaxKeys:   b.cfg.MaxKeys,
	}

	var res *types.ListResult
	err := b.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = b.source.List(ctx, opts)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeListFailed, "list "+opts.Prefix, err).
			WithComponent("gallery").
			WithContext("path", nodePath)
	}

	var keys []string
	for _, key := range res.Keys() {
		if utils.IsImageKey(key, b.cfg.ImagePrefix, b.cfg.ImageExtensions) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (b *Builder) publish(ctx context.Context, node *Node, ancestry []Crumb) error {
	start := time.Now()
	key := node.IndexKey()
	log := b.logger.With("path", node.Path, "key", key)

	html, err := b.renderer.Render(node, ancestry)
	if err != nil {
		err = errors.Wrap(errors.ErrCodeRenderFailed, "render "+key, err).
			WithComponent("gallery").
			WithContext("path", node.Path)
		b.recorder.RecordPage(node.Path, node.Kind.String(), time.Since(start), 0, err)
		b.fail(Failure{Path: node.Path, Kind: FailureRender, Key: key, Err: err})
		return err
	}

	err = b.retryer.Do(ctx, func(ctx context.Context) error {
		return b.destination.Put(ctx, key, []byte(html), htmlContentType)
	})
	b.recorder.RecordPage(node.Path, node.Kind.String(), time.Since(start), int64(len(html)), err)
	if err != nil {
		err = errors.Wrap(errors.ErrCodePublishFailed, "publish "+key, err).
			WithComponent("gallery").
			WithContext("path", node.Path)
		log.Error("Publish failed", "error", err)
		b.fail(Failure{Path: node.Path, Kind: FailurePublish, Key: key, Err: err})
		return err
	}

	b.report.addPublished(node.Path, len(node.Images))
	log.Info("Published page",
		"kind", node.Kind.String(),
		"images", len(node.Images),
		"children", len(node.Children))
	return nil
}

func (b *Builder) fail(f Failure) {
	b.report.addFailure(f)
}

func isCanceled(err error) bool {
	return stderr.Is(err, context.Canceled) ||
		stderr.Is(err, context.DeadlineExceeded) ||
		errors.HasCode(err, errors.ErrCodeOperationCanceled)
}
