// Package pipeline runs one source image through the gallery's staged
// processing: fetch, transform, upload and caption.
//
// The first three stages are fatal for the asset: a failure stops the
// composition and is reported in Outcome.Err. The caption stage never
// fails the asset; a missing or unreadable caption becomes "" and the
// reason is kept in Outcome.CaptionErr.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/s3gallery/s3gallery/internal/imaging"
	"github.com/s3gallery/s3gallery/pkg/errors"
	"github.com/s3gallery/s3gallery/pkg/retry"
	"github.com/s3gallery/s3gallery/pkg/types"
	"github.com/s3gallery/s3gallery/pkg/utils"
)

// Stage names one step of the asset pipeline.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StageUpload    Stage = "upload"
	StageCaption   Stage = "caption"
)

const octetStream = "application/octet-stream"

// SourceAsset is an image key taken from a listing.
type SourceAsset struct {
	Key string
}

// ProcessedImage describes a published derivative.
type ProcessedImage struct {
	SourceKey      string `json:"source_key"`
	DestinationKey string `json:"destination_key"`
	Caption        string `json:"caption"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

// StageError is a fatal failure of one asset at one stage.
type StageError struct {
	Stage Stage
	Key   string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Key, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Outcome is the result of processing one asset.
type Outcome struct {
	Image      ProcessedImage
	Err        *StageError
	CaptionErr error
}

// Failed reports whether a fatal stage failed.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Transformer produces a derivative from encoded image bytes.
type Transformer interface {
	Thumbnail(data []byte) (*imaging.Derivative, error)
}

// CaptionParser extracts a caption from encoded image bytes.
type CaptionParser interface {
	Caption(data []byte) (string, error)
}

// Recorder receives per-stage timings. The metrics collector implements it.
type Recorder interface {
	RecordStage(stage string, duration time.Duration, size int64, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordStage(string, time.Duration, int64, error) {}

// Processor runs assets through the pipeline. It is safe for concurrent use.
type Processor struct {
	source      types.ObjectStore
	destination types.ObjectStore
	transformer Transformer
	captions    CaptionParser
	retryer     *retry.Retryer
	recorder    Recorder
	logger      *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithRetryer retries store calls with r.
func WithRetryer(r *retry.Retryer) Option {
	return func(p *Processor) { p.retryer = r }
}

// WithRecorder reports stage timings to r.
func WithRecorder(r Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// NewProcessor reads originals from source and writes derivatives to
// destination.
func NewProcessor(source, destination types.ObjectStore, transformer Transformer, captions CaptionParser, opts ...Option) *Processor {
	p := &Processor{
		source:      source,
		destination: destination,
		transformer: transformer,
		captions:    captions,
		retryer:     retry.New(retry.Config{MaxAttempts: 1}),
		recorder:    nopRecorder{},
		logger:      slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs asset through every stage.
func (p *Processor) Process(ctx context.Context, asset SourceAsset) Outcome {
	log := p.logger.With("key", asset.Key)
	out := Outcome{Image: ProcessedImage{
		SourceKey:      asset.Key,
		DestinationKey: utils.ThumbKey(asset.Key),
	}}

	obj, err := p.fetch(ctx, asset.Key)
	if err != nil {
		out.Err = p.fail(log, StageFetch, asset.Key, err)
		return out
	}

	derivative, err := p.transform(obj)
	if err != nil {
		out.Err = p.fail(log, StageTransform, asset.Key, err)
		return out
	}
	out.Image.Width = derivative.Size.Width
	out.Image.Height = derivative.Size.Height

	// the original content type still describes a derivative in the same format
	contentType := obj.ContentType
	if derivative.Format != derivative.SourceFormat {
		contentType = derivative.ContentType()
	}
	if err := p.upload(ctx, out.Image.DestinationKey, derivative.Data, contentType); err != nil {
		out.Err = p.fail(log, StageUpload, asset.Key, err)
		return out
	}

	out.Image.Caption, out.CaptionErr = p.caption(obj.Data)
	switch {
	case out.CaptionErr == nil:
	case IsAbsent(out.CaptionErr):
		log.Debug("No caption", "error", out.CaptionErr)
	default:
		log.Warn("Unreadable caption metadata", "error", out.CaptionErr)
	}

	log.Debug("Processed image",
		"destination", out.Image.DestinationKey,
		"size", derivative.Size.String(),
		"bytes", utils.FormatBytes(int64(len(derivative.Data))))
	return out
}

func (p *Processor) fetch(ctx context.Context, key string) (*types.Object, error) {
	start := time.Now()
	var obj *types.Object
	err := p.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		obj, err = p.source.Get(ctx, key)
		return err
	})
	if err != nil {
		p.recorder.RecordStage(string(StageFetch), time.Since(start), 0, err)
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, "fetch "+key, err).
			WithComponent("pipeline").
			WithOperation(string(StageFetch)).
			WithContext("key", key)
	}

	if obj.ContentType == "" || obj.ContentType == octetStream {
		obj.ContentType = mimetype.Detect(obj.Data).String()
	}
	p.recorder.RecordStage(string(StageFetch), time.Since(start), int64(len(obj.Data)), nil)
	return obj, nil
}

func (p *Processor) transform(obj *types.Object) (*imaging.Derivative, error) {
	start := time.Now()
	d, err := p.transformer.Thumbnail(obj.Data)
	if err != nil {
		p.recorder.RecordStage(string(StageTransform), time.Since(start), 0, err)
		return nil, errors.Wrap(errors.ErrCodeTransformFailed, "transform "+obj.Key, err).
			WithComponent("pipeline").
			WithOperation(string(StageTransform)).
			WithContext("key", obj.Key).
			WithContext("content_type", obj.ContentType)
	}
	p.recorder.RecordStage(string(StageTransform), time.Since(start), int64(len(d.Data)), nil)
	return d, nil
}

func (p *Processor) upload(ctx context.Context, key string, data []byte, contentType string) error {
	start := time.Now()
	err := p.retryer.Do(ctx, func(ctx context.Context) error {
		return p.destination.Put(ctx, key, data, contentType)
	})
	p.recorder.RecordStage(string(StageUpload), time.Since(start), int64(len(data)), err)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUploadFailed, "upload "+key, err).
			WithComponent("pipeline").
			WithOperation(string(StageUpload)).
			WithContext("key", key)
	}
	return nil
}

func (p *Processor) caption(data []byte) (string, error) {
	if p.captions == nil {
		return "", nil
	}
	start := time.Now()
	caption, err := p.captions.Caption(data)
	p.recorder.RecordStage(string(StageCaption), time.Since(start), int64(len(caption)), err)
	if err != nil {
		return "", err
	}
	return caption, nil
}

func (p *Processor) fail(log *slog.Logger, stage Stage, key string, err error) *StageError {
	log.Warn("Image processing failed", "stage", stage, "error", err)
	return &StageError{Stage: stage, Key: key, Err: err}
}
