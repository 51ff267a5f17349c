package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3gallery/s3gallery/internal/gallery"
	"github.com/s3gallery/s3gallery/internal/pipeline"
)

func leafNode() *gallery.Node {
	return &gallery.Node{
		Kind: gallery.KindLeaf,
		Path: "2013/05",
		Name: "05",
		Images: []pipeline.ProcessedImage{
			{SourceKey: "2013/05/IMG_1.jpg", DestinationKey: "thumb/2013/05/IMG_1.jpg", Caption: "Harbour", Width: 150, Height: 100},
			{SourceKey: "2013/05/IMG_2.jpg", DestinationKey: "thumb/2013/05/IMG_2.jpg", Caption: "", Width: 100, Height: 150},
		},
		Thumbnail: "thumb/2013/05/IMG_1.jpg",
	}
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New(Options{SiteTitle: "Photos"})
	require.NoError(t, err)
	return r
}

func TestRender_Leaf(t *testing.T) {
	r := newRenderer(t)
	ancestry := []gallery.Crumb{{Path: "", Title: "Photos"}, {Path: "2013", Title: "2013"}}

	html, err := r.Render(leafNode(), ancestry)
	require.NoError(t, err)

	assert.Contains(t, html, `<title>05 | Photos</title>`)
	assert.Contains(t, html, `<link rel="stylesheet" href="../../gallery.css">`)
	assert.Contains(t, html, `<a href="../../index.html">Photos</a> / <a href="../../2013/index.html">2013</a> / <span class="current">05</span>`)
	assert.Contains(t, html, `<figure><a href="../../2013/05/IMG_1.jpg" class="thumbnail">`)
	assert.Contains(t, html, `<img src="../../thumb/2013/05/IMG_1.jpg" alt="Harbour" width="150" height="100" class="thumbnail">`)
	assert.Contains(t, html, `<figcaption>Harbour</figcaption>`)
	assert.Contains(t, html, `<figcaption></figcaption>`)
	assert.Contains(t, html, `<footer>Generated by s3gallery</footer>`)

	first := strings.Index(html, "IMG_1.jpg")
	second := strings.Index(html, "IMG_2.jpg")
	assert.True(t, first >= 0 && first < second, "images must keep their order")
}

func TestRender_Idempotent(t *testing.T) {
	r := newRenderer(t)
	ancestry := []gallery.Crumb{{Path: "", Title: "Photos"}}

	a, err := r.Render(leafNode(), ancestry)
	require.NoError(t, err)
	b, err := r.Render(leafNode(), ancestry)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := New(Options{SiteTitle: "Photos"})
	require.NoError(t, err)
	c, err := other.Render(leafNode(), ancestry)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestRender_Directory(t *testing.T) {
	r := newRenderer(t)
	root := &gallery.Node{
		Kind: gallery.KindDirectory,
		Path: "",
		Name: "Photos",
		Children: []*gallery.Node{
			{Kind: gallery.KindLeaf, Path: "2013/05", Name: "05", Thumbnail: "thumb/2013/05/IMG_1.jpg"},
			{Kind: gallery.KindLeaf, Path: "2014/02", Metadata: gallery.Metadata{Title: "Winter"}},
		},
		Metadata: gallery.Metadata{Description: "Everything"},
	}

	html, err := r.Render(root, nil)
	require.NoError(t, err)

	assert.Contains(t, html, `<title>Photos</title>`)
	assert.Contains(t, html, `href="./gallery.css"`)
	assert.Contains(t, html, `<h1>Photos</h1>`)
	assert.Contains(t, html, `<p class="description">Everything</p>`)
	assert.Contains(t, html, `<li><a href="./2013/05/index.html"><img src="./thumb/2013/05/IMG_1.jpg" alt="05" class="thumbnail"><span>05</span></a></li>`)
	assert.Contains(t, html, `<li><a href="./2014/02/index.html"><span>Winter</span></a></li>`)
	assert.NotContains(t, html, `id="gallery"`)

	assert.Less(t, strings.Index(html, "2013/05"), strings.Index(html, "2014/02"))
}

func TestRender_EmptyLeaf(t *testing.T) {
	r := newRenderer(t)
	html, err := r.Render(&gallery.Node{Kind: gallery.KindLeaf, Path: "2015", Name: "2015"}, nil)
	require.NoError(t, err)
	assert.Contains(t, html, `<div id="gallery">`)
	assert.NotContains(t, html, "<figure>")
}

func TestRender_EscapesText(t *testing.T) {
	r := newRenderer(t)
	node := leafNode()
	node.Images[0].Caption = `<script>alert("x")</script> & co`
	node.Metadata.Title = "Tom & Jerry"

	html, err := r.Render(node, nil)
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "<h1>Tom &amp; Jerry</h1>")
}

func TestRender_EscapesKeysInLinks(t *testing.T) {
	r := newRenderer(t)

	root := &gallery.Node{
		Kind: gallery.KindDirectory,
		Name: "Photos",
		Children: []*gallery.Node{
			{Kind: gallery.KindLeaf, Path: "trip:2013", Name: "trip:2013", Thumbnail: "thumb/trip:2013/IMG_1.jpg"},
			{Kind: gallery.KindLeaf, Path: "best #1", Name: "best #1"},
		},
	}
	html, err := r.Render(root, nil)
	require.NoError(t, err)
	assert.NotContains(t, html, "ZgotmplZ")
	assert.Contains(t, html, `<a href="./trip:2013/index.html"><img src="./thumb/trip:2013/IMG_1.jpg"`)
	assert.Contains(t, html, `<a href="./best%20%231/index.html">`)

	leaf := &gallery.Node{
		Kind: gallery.KindLeaf,
		Path: "best #1",
		Name: "best #1",
		Images: []pipeline.ProcessedImage{
			{SourceKey: "best #1/IMG 1?.jpg", DestinationKey: "thumb/best #1/IMG 1?.jpg", Width: 10, Height: 10},
		},
	}
	html, err = r.Render(leaf, []gallery.Crumb{{Path: "", Title: "Photos"}})
	require.NoError(t, err)
	assert.Contains(t, html, `<a href="../best%20%231/IMG%201%3F.jpg" class="thumbnail">`)
	assert.Contains(t, html, `<img src="../thumb/best%20%231/IMG%201%3F.jpg"`)
	assert.Contains(t, html, `<a href="../index.html">Photos</a>`)
}

func TestRender_NilNode(t *testing.T) {
	_, err := newRenderer(t).Render(nil, nil)
	assert.Error(t, err)
}

func TestDefaultStylesheet(t *testing.T) {
	css := DefaultStylesheet()
	assert.Contains(t, string(css), "img.thumbnail")
}
