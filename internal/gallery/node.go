// Package gallery builds the gallery tree: every leaf's images go through
// the asset pipeline, every node gets an index page, and directories
// inherit thumbnails from their children.
package gallery

import (
	"fmt"

	"github.com/s3gallery/s3gallery/internal/pipeline"
	"github.com/s3gallery/s3gallery/pkg/utils"
)

// Kind tells leaves from directories.
type Kind int

const (
	// KindLeaf holds images directly.
	KindLeaf Kind = iota
	// KindDirectory holds child nodes.
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindDirectory:
		return "directory"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// NodeSpec describes a node to build. The kind is fixed by the constructor.
type NodeSpec struct {
	kind     Kind
	Path     string
	Name     string
	Children []NodeSpec
}

// NewLeafSpec describes a node whose images live directly under path.
func NewLeafSpec(path, name string) NodeSpec {
	return NodeSpec{kind: KindLeaf, Path: path, Name: name}
}

// NewDirectorySpec describes a node listing children, in order.
func NewDirectorySpec(path, name string, children ...NodeSpec) NodeSpec {
	return NodeSpec{kind: KindDirectory, Path: path, Name: name, Children: children}
}

// Kind returns the kind fixed at construction.
func (s NodeSpec) Kind() Kind {
	return s.kind
}

// Metadata is the optional per-node sidecar.
type Metadata struct {
	Title       string `yaml:"title" json:"title,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
	Thumbnail   string `yaml:"thumbnail" json:"thumbnail,omitempty"`
}

// Node is a built and published gallery node. Leaves carry Images,
// directories carry Children; failed children are omitted.
type Node struct {
	Kind      Kind
	Path      string
	Name      string
	Images    []pipeline.ProcessedImage
	Children  []*Node
	Metadata  Metadata
	Thumbnail string
}

// Title is the sidecar title, else the name, else the last path segment.
func (n *Node) Title() string {
	switch {
	case n.Metadata.Title != "":
		return n.Metadata.Title
	case n.Name != "":
		return n.Name
	default:
		return utils.BaseName(n.Path)
	}
}

// IndexKey is the key of the node's published page.
func (n *Node) IndexKey() string {
	return utils.IndexKey(n.Path)
}

// Crumb is one ancestor in a page's breadcrumb trail.
type Crumb struct {
	Path  string
	Title string
}

// Walk calls fn for n and its descendants, parents first.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}
