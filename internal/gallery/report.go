package gallery

import (
	"fmt"
	"sort"
	"sync"

	"github.com/s3gallery/s3gallery/internal/pipeline"
)

// FailureKind says which step of the build failed.
type FailureKind string

const (
	FailureFetch     FailureKind = FailureKind(pipeline.StageFetch)
	FailureTransform FailureKind = FailureKind(pipeline.StageTransform)
	FailureUpload    FailureKind = FailureKind(pipeline.StageUpload)
	FailureMetadata  FailureKind = "metadata"
	FailureList      FailureKind = "list"
	FailureRender    FailureKind = "render"
	FailurePublish   FailureKind = "publish"
	FailureAborted   FailureKind = "aborted"
	FailureCanceled  FailureKind = "canceled"
)

// Failure is one reported problem, attributed to the node path it
// happened under. Key is the offending object, if any.
type Failure struct {
	Path string
	Kind FailureKind
	Key  string
	Err  error
}

func (f Failure) String() string {
	if f.Key != "" {
		return fmt.Sprintf("%s [%s] %s: %v", f.Path, f.Kind, f.Key, f.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", f.Path, f.Kind, f.Err)
}

// Fatal reports whether the failure lost content. Metadata failures fall
// back to defaults and are not fatal.
func (f Failure) Fatal() bool {
	return f.Kind != FailureMetadata
}

// Report aggregates failures and published pages across concurrent
// builders.
type Report struct {
	mu        sync.Mutex
	failures  []Failure
	published []string
	images    int
}

func (r *Report) addFailure(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
}

func (r *Report) addPublished(path string, images int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, path)
	r.images += images
}

// Failures returns all failures ordered by path, then key.
func (r *Report) Failures() []Failure {
	r.mu.Lock()
	out := append([]Failure(nil), r.failures...)
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Published returns the paths of published nodes in sorted order.
func (r *Report) Published() []string {
	r.mu.Lock()
	out := append([]string(nil), r.published...)
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Images returns the number of images on published leaf pages.
func (r *Report) Images() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images
}
