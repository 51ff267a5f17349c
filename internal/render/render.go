// Package render turns built gallery nodes into static HTML index pages.
//
// Rendering is pure: the same node and ancestry always produce the same
// bytes. Every link is relative to the page, so a published gallery works
// under any base URL.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"

	"github.com/s3gallery/s3gallery/internal/gallery"
	"github.com/s3gallery/s3gallery/pkg/utils"
)

// DefaultFooter is printed at the bottom of every page.
const DefaultFooter = "Generated by s3gallery"

//go:embed templates/page.html static/gallery.css
var assets embed.FS

// DefaultStylesheet returns the built-in gallery.css.
func DefaultStylesheet() []byte {
	data, err := fs.ReadFile(assets, "static/gallery.css")
	if err != nil {
		panic(err)
	}
	return data
}

// Options configures a Renderer.
type Options struct {
	// SiteTitle is appended to every page title.
	SiteTitle string
	Footer    string
}

// Renderer renders index pages. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
	opts Options
}

var _ gallery.PageRenderer = (*Renderer)(nil)

// New parses the page template.
func New(opts Options) (*Renderer, error) {
	tmpl, err := template.ParseFS(assets, "templates/page.html")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	if opts.Footer == "" {
		opts.Footer = DefaultFooter
	}
	return &Renderer{tmpl: tmpl, opts: opts}, nil
}

type crumbView struct {
	Href  string
	Title string
}

type imageView struct {
	Href    string
	Src     string
	Caption string
	Width   int
	Height  int
}

type childView struct {
	Href  string
	Thumb string
	Title string
}

type pageView struct {
	PageTitle   string
	Stylesheet  string
	Crumbs      []crumbView
	Heading     string
	Description string
	Leaf        bool
	Images      []imageView
	Children    []childView
	Footer      string
}

// Render produces the index page of node. ancestry lists the ancestors
// from the root down to the parent.
func (r *Renderer) Render(node *gallery.Node, ancestry []gallery.Crumb) (string, error) {
	if node == nil {
		return "", fmt.Errorf("render: nil node")
	}

	href := func(key string) string { return utils.KeyHref(node.Path, key) }
	view := pageView{
		PageTitle:   r.pageTitle(node),
		Stylesheet:  href(utils.StylesheetName),
		Heading:     node.Title(),
		Description: node.Metadata.Description,
		Leaf:        node.Kind == gallery.KindLeaf,
		Footer:      r.opts.Footer,
	}

	for _, c := range ancestry {
		view.Crumbs = append(view.Crumbs, crumbView{
			Href:  href(utils.IndexKey(c.Path)),
			Title: c.Title,
		})
	}

	for _, img := range node.Images {
		view.Images = append(view.Images, imageView{
			Href:    href(img.SourceKey),
			Src:     href(img.DestinationKey),
			Caption: img.Caption,
			Width:   img.Width,
			Height:  img.Height,
		})
	}

	for _, c := range node.Children {
		cv := childView{
			Href:  href(c.IndexKey()),
			Title: c.Title(),
		}
		if c.Thumbnail != "" {
			cv.Thumb = href(c.Thumbnail)
		}
		view.Children = append(view.Children, cv)
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "page.html", view); err != nil {
		return "", fmt.Errorf("render %s: %w", node.Path, err)
	}
	return buf.String(), nil
}

func (r *Renderer) pageTitle(node *gallery.Node) string {
	title := node.Title()
	switch {
	case r.opts.SiteTitle == "" || title == r.opts.SiteTitle:
		return title
	case title == "":
		return r.opts.SiteTitle
	default:
		return title + " | " + r.opts.SiteTitle
	}
}
