package gallery_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	imglib "github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3gallery/s3gallery/internal/gallery"
	"github.com/s3gallery/s3gallery/internal/imaging"
	"github.com/s3gallery/s3gallery/internal/pipeline"
	"github.com/s3gallery/s3gallery/internal/render"
	"github.com/s3gallery/s3gallery/internal/storage/memory"
	"github.com/s3gallery/s3gallery/pkg/errors"
)

func jpeg(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imglib.Encode(&buf, img, imglib.JPEG))
	return buf.Bytes()
}

func withCaption(jpg []byte, caption string) []byte {
	packet := `<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` +
		`<rdf:Description xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:description><rdf:Alt>` +
		`<rdf:li xml:lang="x-default">` + caption + `</rdf:li></rdf:Alt></dc:description></rdf:Description></rdf:RDF></x:xmpmeta>`
	return withAPP1(jpg, packet)
}

func withAPP1(jpg []byte, packet string) []byte {
	header := []byte("http://ns.adobe.com/xap/1.0/\x00")
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(2+len(header)+len(packet)))
	seg = append(seg, header...)
	seg = append(seg, packet...)
	out := append([]byte{}, jpg[:2]...)
	out = append(out, seg...)
	return append(out, jpg[2:]...)
}

func config(policy string) gallery.Config {
	return gallery.Config{
		ImagePrefix:             "IMG",
		ImageExtensions:         []string{".jpg", ".jpeg", ".png"},
		SidecarName:             gallery.DefaultSidecarName,
		MaxConcurrency:          4,
		MaxDirectoryConcurrency: 2,
		FailurePolicy:           policy,
	}
}

func newBuilder(t *testing.T, store *memory.Store, cfg gallery.Config) *gallery.Builder {
	t.Helper()
	tr := imaging.NewTransformer(imaging.Options{MaxWidth: 150, MaxHeight: 150, Quality: 80})
	proc := pipeline.NewProcessor(store, store, tr, pipeline.Captions{})
	r, err := render.New(render.Options{SiteTitle: "Photos"})
	require.NoError(t, err)
	return gallery.NewBuilder(store, store, proc, r, cfg)
}

func exampleStore(t *testing.T) *memory.Store {
	store := memory.New()
	store.Seed("2013/05/IMG_1.jpg", withCaption(jpeg(t, 300, 200), "Harbour"), "image/jpeg")
	store.Seed("2013/05/IMG_2.jpg", jpeg(t, 200, 300), "image/jpeg")
	store.Seed("2013/05/DSC_9.jpg", jpeg(t, 20, 20), "image/jpeg")
	store.Seed("2013/05/notes.txt", []byte("hello"), "text/plain")
	store.Seed("2013/05/raw/IMG_7.jpg", jpeg(t, 20, 20), "image/jpeg")
	store.Seed("2014/02/IMG_3.JPG", withCaption(jpeg(t, 90, 60), "Snow"), "image/jpeg")
	return store
}

func exampleSpec() gallery.NodeSpec {
	return gallery.NewDirectorySpec("", "Photos",
		gallery.NewLeafSpec("2013/05", "2013/05"),
		gallery.NewLeafSpec("2014/02", "2014/02"),
	)
}

func page(t *testing.T, store *memory.Store, key string) string {
	t.Helper()
	data, contentType, ok := store.Object(key)
	require.True(t, ok, "page %s not published", key)
	assert.Equal(t, "text/html; charset=utf-8", contentType)
	return string(data)
}

func TestBuild_DirectoryExample(t *testing.T) {
	store := exampleStore(t)
	b := newBuilder(t, store, config(gallery.PolicyContinue))

	root, err := b.Build(context.Background(), exampleSpec())
	require.NoError(t, err)

	require.Len(t, root.Children, 2)
	may, feb := root.Children[0], root.Children[1]

	assert.Equal(t, []pipeline.ProcessedImage{
		{SourceKey: "2013/05/IMG_1.jpg", DestinationKey: "thumb/2013/05/IMG_1.jpg", Caption: "Harbour", Width: 150, Height: 100},
		{SourceKey: "2013/05/IMG_2.jpg", DestinationKey: "thumb/2013/05/IMG_2.jpg", Caption: "", Width: 100, Height: 150},
	}, may.Images)
	assert.Equal(t, "thumb/2013/05/IMG_1.jpg", may.Thumbnail)

	require.Len(t, feb.Images, 1)
	assert.Equal(t, "Snow", feb.Images[0].Caption)
	assert.Equal(t, "thumb/2014/02/IMG_3.JPG", feb.Thumbnail)

	assert.Equal(t, "thumb/2013/05/IMG_1.jpg", root.Thumbnail)

	for _, key := range []string{"thumb/2013/05/IMG_1.jpg", "thumb/2013/05/IMG_2.jpg", "thumb/2014/02/IMG_3.JPG"} {
		_, _, ok := store.Object(key)
		assert.True(t, ok, "missing derivative %s", key)
	}
	_, _, ok := store.Object("thumb/2013/05/DSC_9.jpg")
	assert.False(t, ok, "keys without the image prefix are not gallery images")
	_, _, ok = store.Object("thumb/2013/05/raw/IMG_7.jpg")
	assert.False(t, ok, "leaves only take direct children")

	rootPage := page(t, store, "index.html")
	assert.Contains(t, rootPage, `href="./2013/05/index.html"`)
	assert.Contains(t, rootPage, `href="./2014/02/index.html"`)
	assert.Contains(t, rootPage, `src="./thumb/2013/05/IMG_1.jpg"`)
	assert.Less(t, strings.Index(rootPage, "2013/05/index.html"), strings.Index(rootPage, "2014/02/index.html"))

	mayPage := page(t, store, "2013/05/index.html")
	assert.Contains(t, mayPage, `<img src="../../thumb/2013/05/IMG_1.jpg" alt="Harbour"`)
	assert.Contains(t, mayPage, `<a href="../../index.html">Photos</a>`)

	report := b.Report()
	assert.Empty(t, report.Failures())
	assert.Equal(t, []string{"", "2013/05", "2014/02"}, report.Published())
	assert.Equal(t, 3, report.Images())
}

func TestBuild_ContinuePolicyOmitsFailedAsset(t *testing.T) {
	store := exampleStore(t)
	store.Seed("2013/05/IMG_0.jpg", []byte("corrupt"), "image/jpeg")
	b := newBuilder(t, store, config(gallery.PolicyContinue))

	root, err := b.Build(context.Background(), exampleSpec())
	require.NoError(t, err)

	may := root.Children[0]
	require.Len(t, may.Images, 2)
	assert.Equal(t, "2013/05/IMG_1.jpg", may.Images[0].SourceKey)
	assert.Equal(t, "thumb/2013/05/IMG_1.jpg", may.Thumbnail)

	failures := b.Report().Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "2013/05", failures[0].Path)
	assert.Equal(t, gallery.FailureTransform, failures[0].Kind)
	assert.Equal(t, "2013/05/IMG_0.jpg", failures[0].Key)
	assert.True(t, errors.HasCode(failures[0].Err, errors.ErrCodeTransformFailed))
	assert.True(t, failures[0].Fatal())
}

func TestBuild_AbortBranchPolicy(t *testing.T) {
	store := exampleStore(t)
	store.Seed("2013/05/IMG_0.jpg", []byte("corrupt"), "image/jpeg")
	b := newBuilder(t, store, config(gallery.PolicyAbortBranch))

	root, err := b.Build(context.Background(), exampleSpec())
	require.NoError(t, err)

	require.Len(t, root.Children, 1, "the aborted leaf is omitted")
	assert.Equal(t, "2014/02", root.Children[0].Path)
	assert.Equal(t, "thumb/2014/02/IMG_3.JPG", root.Thumbnail)

	_, _, ok := store.Object("2013/05/index.html")
	assert.False(t, ok, "aborted leaf must not be published")
	assert.NotContains(t, page(t, store, "index.html"), "2013/05/index.html")

	var kinds []gallery.FailureKind
	for _, f := range b.Report().Failures() {
		assert.Equal(t, "2013/05", f.Path)
		kinds = append(kinds, f.Kind)
	}
	assert.Contains(t, kinds, gallery.FailureTransform)
	assert.Contains(t, kinds, gallery.FailureAborted)
}

func TestBuild_CaptionFailureKeepsSiblings(t *testing.T) {
	store := memory.New()
	store.Seed("a/IMG_1.jpg", withAPP1(jpeg(t, 30, 30), "<x:xmpmeta><broken"), "image/jpeg")
	store.Seed("a/IMG_2.jpg", withCaption(jpeg(t, 30, 30), "Second"), "image/jpeg")
	b := newBuilder(t, store, config(gallery.PolicyAbortBranch))

	node, err := b.Build(context.Background(), gallery.NewLeafSpec("a", "a"))
	require.NoError(t, err)

	require.Len(t, node.Images, 2)
	assert.Equal(t, "", node.Images[0].Caption)
	assert.Equal(t, "Second", node.Images[1].Caption)
	assert.Empty(t, b.Report().Failures())
}

func TestBuild_ThumbnailInheritance(t *testing.T) {
	store := memory.New()
	store.Seed("b/IMG_5.jpg", jpeg(t, 20, 20), "image/jpeg")
	store.Seed("c/IMG_6.jpg", jpeg(t, 20, 20), "image/jpeg")

	spec := gallery.NewDirectorySpec("", "root",
		gallery.NewDirectorySpec("x", "x",
			gallery.NewLeafSpec("empty", "empty"),
			gallery.NewLeafSpec("b", "b"),
		),
		gallery.NewLeafSpec("c", "c"),
	)
	b := newBuilder(t, store, config(gallery.PolicyContinue))

	root, err := b.Build(context.Background(), spec)
	require.NoError(t, err)

	x := root.Children[0]
	assert.Equal(t, "", x.Children[0].Thumbnail, "empty leaf has no thumbnail")
	assert.Equal(t, "thumb/b/IMG_5.jpg", x.Thumbnail, "falls through to the first child with one")
	assert.Equal(t, "thumb/b/IMG_5.jpg", root.Thumbnail)

	// the empty leaf still gets a page
	assert.Contains(t, page(t, store, "empty/index.html"), `<div id="gallery">`)
	assert.Contains(t, page(t, store, "x/index.html"), `<a href="../index.html">root</a>`)
}

func TestBuild_Sidecars(t *testing.T) {
	store := exampleStore(t)
	store.Seed("2013/05/album.yaml", []byte("title: May in the harbour\ndescription: Boats\nthumbnail: IMG_2.jpg\n"), "application/yaml")
	store.Seed("album.yaml", []byte("thumbnail: /2014/02/IMG_3.JPG\n"), "application/yaml")
	store.Seed("2014/02/album.yaml", []byte("title: [unclosed\n"), "application/yaml")
	b := newBuilder(t, store, config(gallery.PolicyContinue))

	root, err := b.Build(context.Background(), exampleSpec())
	require.NoError(t, err)

	may, feb := root.Children[0], root.Children[1]
	assert.Equal(t, "May in the harbour", may.Title())
	assert.Equal(t, "thumb/2013/05/IMG_2.jpg", may.Thumbnail)
	assert.Equal(t, "thumb/2014/02/IMG_3.JPG", root.Thumbnail)
	assert.Equal(t, "2014/02", feb.Title(), "malformed sidecar falls back to defaults")

	mayPage := page(t, store, "2013/05/index.html")
	assert.Contains(t, mayPage, "<h1>May in the harbour</h1>")
	assert.Contains(t, mayPage, `<p class="description">Boats</p>`)
	assert.Contains(t, page(t, store, "index.html"), "<span>May in the harbour</span>")

	failures := b.Report().Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, gallery.FailureMetadata, failures[0].Kind)
	assert.Equal(t, "2014/02/album.yaml", failures[0].Key)
	assert.True(t, errors.HasCode(failures[0].Err, errors.ErrCodeMetadataInvalid))
	assert.False(t, failures[0].Fatal())
	assert.Contains(t, b.Report().Published(), "2014/02")
}

func TestBuild_PublishFailureAbortsSubtreeOnly(t *testing.T) {
	store := exampleStore(t)
	store.FailPut("2013/05/index.html", errors.NewError(errors.ErrCodeAccessDenied, "denied"))
	b := newBuilder(t, store, config(gallery.PolicyContinue))

	root, err := b.Build(context.Background(), exampleSpec())
	require.NoError(t, err)

	require.Len(t, root.Children, 1)
	assert.Equal(t, "2014/02", root.Children[0].Path)

	failures := b.Report().Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, gallery.FailurePublish, failures[0].Kind)
	assert.True(t, errors.HasCode(failures[0].Err, errors.ErrCodePublishFailed))
	assert.Equal(t, []string{"", "2014/02"}, b.Report().Published())
}

func TestBuild_RootPublishFailure(t *testing.T) {
	store := exampleStore(t)
	store.FailPut("index.html", errors.NewError(errors.ErrCodeAccessDenied, "denied"))
	b := newBuilder(t, store, config(gallery.PolicyContinue))

	root, err := b.Build(context.Background(), exampleSpec())
	assert.Nil(t, root)
	assert.True(t, errors.HasCode(err, errors.ErrCodePublishFailed))
}

func TestBuild_ListFailure(t *testing.T) {
	store := exampleStore(t)
	store.FailList("2014/02/", errors.NewError(errors.ErrCodeStorageList, "boom"))
	b := newBuilder(t, store, config(gallery.PolicyContinue))

	root, err := b.Build(context.Background(), exampleSpec())
	require.NoError(t, err)
	require.Len(t, root.Children, 1)

	failures := b.Report().Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, gallery.FailureList, failures[0].Kind)
	assert.Equal(t, "2014/02", failures[0].Path)
}

func TestBuild_CanceledContext(t *testing.T) {
	store := exampleStore(t)
	b := newBuilder(t, store, config(gallery.PolicyContinue))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	root, err := b.Build(ctx, exampleSpec())
	assert.Nil(t, root)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOperationCanceled))
	assert.Equal(t, 0, store.Puts())
}

// slowProcessor sleeps a random time per asset and tracks peak concurrency.
type slowProcessor struct {
	active atomic.Int64
	peak   atomic.Int64
	mu     sync.Mutex
	rng    *rand.Rand
}

func (p *slowProcessor) Process(ctx context.Context, asset pipeline.SourceAsset) pipeline.Outcome {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}

	p.mu.Lock()
	d := time.Duration(p.rng.Intn(5)) * time.Millisecond
	p.mu.Unlock()
	time.Sleep(d)

	return pipeline.Outcome{Image: pipeline.ProcessedImage{SourceKey: asset.Key, DestinationKey: "thumb/" + asset.Key}}
}

type stubRenderer struct{}

func (stubRenderer) Render(node *gallery.Node, _ []gallery.Crumb) (string, error) {
	return node.Path, nil
}

func TestBuild_BoundedConcurrencyAndOrder(t *testing.T) {
	store := memory.New()
	var specs []gallery.NodeSpec
	for l := 0; l < 3; l++ {
		leaf := fmt.Sprintf("leaf%d", l)
		for i := 0; i < 12; i++ {
			store.Seed(fmt.Sprintf("%s/IMG_%02d.jpg", leaf, i), []byte("x"), "image/jpeg")
		}
		specs = append(specs, gallery.NewLeafSpec(leaf, leaf))
	}

	proc := &slowProcessor{rng: rand.New(rand.NewSource(1))}
	cfg := config(gallery.PolicyContinue)
	cfg.MaxConcurrency = 3
	cfg.MaxDirectoryConcurrency = 3
	b := gallery.NewBuilder(store, store, proc, stubRenderer{}, cfg)

	root, err := b.Build(context.Background(), gallery.NewDirectorySpec("", "root", specs...))
	require.NoError(t, err)

	assert.LessOrEqual(t, proc.peak.Load(), int64(3))
	require.Len(t, root.Children, 3)
	for l, leaf := range root.Children {
		assert.Equal(t, fmt.Sprintf("leaf%d", l), leaf.Path)
		require.Len(t, leaf.Images, 12)
		for i, img := range leaf.Images {
			assert.Equal(t, fmt.Sprintf("leaf%d/IMG_%02d.jpg", l, i), img.SourceKey)
		}
	}
}

func TestNodeSpec_KindIsFixed(t *testing.T) {
	leaf := gallery.NewLeafSpec("a", "a")
	dir := gallery.NewDirectorySpec("b", "b")

	assert.Equal(t, gallery.KindLeaf, leaf.Kind())
	assert.Equal(t, gallery.KindDirectory, dir.Kind(), "a directory without children is still a directory")
	assert.Equal(t, "leaf", leaf.Kind().String())
	assert.Equal(t, "directory", dir.Kind().String())
}

func TestParseSidecar(t *testing.T) {
	md, err := gallery.ParseSidecar([]byte("title: ' Spring '\ndescription: Blossoms\nthumbnail: IMG_4.jpg\nextra: ignored\n"))
	require.NoError(t, err)
	assert.Equal(t, gallery.Metadata{Title: "Spring", Description: "Blossoms", Thumbnail: "IMG_4.jpg"}, md)

	_, err = gallery.ParseSidecar([]byte("title: [unclosed\n"))
	assert.Error(t, err)
}
