// Package xmp reads captions out of Adobe XMP packets.
//
// The caption is the Dublin Core description, stored as a language
// alternative:
//
//	<rdf:Description>
//	  <dc:description>
//	    <rdf:Alt>
//	      <rdf:li xml:lang="x-default">Harbour at dusk</rdf:li>
//	    </rdf:Alt>
//	  </dc:description>
//	</rdf:Description>
//
// The x-default entry wins; otherwise the first entry is used.
package xmp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	nsDC  = "http://purl.org/dc/elements/1.1/"
	nsRDF = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsXML = "http://www.w3.org/XML/1998/namespace"

	defaultLang = "x-default"
)

var (
	// ErrNoCaption is returned for a well-formed packet without a
	// non-empty dc:description.
	ErrNoCaption = errors.New("xmp: no caption")

	// ErrMalformed wraps XML syntax errors in the packet.
	ErrMalformed = errors.New("xmp: malformed packet")
)

// Metadata holds the fields the gallery reads from a packet.
type Metadata struct {
	Caption string
	Title   string
}

// Parse extracts dc:description and dc:title from an XMP packet. A packet
// without a caption yields the metadata found so far and ErrNoCaption.
func Parse(block []byte) (Metadata, error) {
	var md Metadata
	if len(bytes.TrimSpace(block)) == 0 {
		return md, ErrNoCaption
	}

	p := &parser{dec: xml.NewDecoder(bytes.NewReader(block))}
	p.dec.Strict = false
	if err := p.run(); err != nil {
		return md, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	md.Caption = p.description.pick()
	md.Title = p.title.pick()
	if md.Caption == "" {
		return md, ErrNoCaption
	}
	return md, nil
}

// langAlt collects the entries of one rdf:Alt property.
type langAlt struct {
	first    string
	fallback string
	found    bool
}

func (a *langAlt) add(lang, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if lang == defaultLang {
		a.first = text
		a.found = true
		return
	}
	if a.fallback == "" {
		a.fallback = text
	}
}

func (a *langAlt) pick() string {
	if a.found {
		return a.first
	}
	return a.fallback
}

type parser struct {
	dec *xml.Decoder

	description langAlt
	title       langAlt

	// property currently open: description or title
	current *langAlt
	depth   int

	inItem bool
	lang   string
	text   strings.Builder
}

func (p *parser) run() error {
	for {
		tok, err := p.dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			p.start(t)
		case xml.EndElement:
			p.end(t)
		case xml.CharData:
			if p.current != nil {
				p.text.Write(t)
			}
		}
	}
}

func (p *parser) start(t xml.StartElement) {
	if p.current != nil {
		p.depth++
		if isName(t.Name, nsRDF, "rdf", "li") {
			p.inItem = true
			p.lang = attr(t, nsXML, "xml", "lang")
			p.text.Reset()
		}
		return
	}

	switch {
	case isName(t.Name, nsDC, "dc", "description"):
		p.open(&p.description)
	case isName(t.Name, nsDC, "dc", "title"):
		p.open(&p.title)
	case isName(t.Name, nsRDF, "rdf", "Description"):
		// simple attribute form: <rdf:Description dc:description="...">
		if v := attr(t, nsDC, "dc", "description"); v != "" {
			p.description.add(defaultLang, v)
		}
		if v := attr(t, nsDC, "dc", "title"); v != "" {
			p.title.add(defaultLang, v)
		}
	}
}

func (p *parser) open(target *langAlt) {
	p.current = target
	p.depth = 0
	p.inItem = false
	p.text.Reset()
}

func (p *parser) end(t xml.EndElement) {
	if p.current == nil {
		return
	}
	if p.depth == 0 {
		// closing the property itself; plain text content counts as a
		// default-language value
		if !p.inItem {
			p.current.add(defaultLang, p.text.String())
		}
		p.current = nil
		return
	}
	p.depth--
	if p.inItem && isName(t.Name, nsRDF, "rdf", "li") {
		p.current.add(p.lang, p.text.String())
		p.text.Reset()
		p.lang = ""
	}
}

// isName matches a resolved namespace or, for packets that omit the
// declaration, the bare prefix.
func isName(n xml.Name, space, prefix, local string) bool {
	return n.Local == local && (n.Space == space || n.Space == prefix)
}

func attr(t xml.StartElement, space, prefix, local string) string {
	for _, a := range t.Attr {
		if isName(a.Name, space, prefix, local) {
			return a.Value
		}
	}
	return ""
}
