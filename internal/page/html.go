package page

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLDocument is a Document over a parsed HTML snapshot.
type HTMLDocument struct {
	doc  *goquery.Document
	opts Options
}

// ParseHTML parses r as a listing page.
func ParseHTML(r io.Reader, opts Options) (*HTMLDocument, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &HTMLDocument{doc: doc, opts: opts}, nil
}

// Items implements Document.
func (d *HTMLDocument) Items() []Element {
	var items []Element
	d.doc.Find(d.opts.ItemSelector).Each(func(_ int, s *goquery.Selection) {
		items = append(items, &htmlElement{sel: s, counterSelector: d.opts.CounterSelector})
	})
	return items
}

// Find returns the first item whose id is id. It reads the tree, so it must
// not run concurrently with a controller that owns this document.
func (d *HTMLDocument) Find(id string) (Element, bool) {
	return FindItem(d, id, d.opts)
}

// HTML renders the document with all counter updates applied.
func (d *HTMLDocument) HTML() (string, error) {
	return goquery.OuterHtml(d.doc.Selection)
}

type htmlElement struct {
	sel             *goquery.Selection
	counterSelector string
}

func (e *htmlElement) ClassNames() []string {
	return strings.Fields(e.sel.AttrOr("class", ""))
}

func (e *htmlElement) Data(key string) string {
	return e.sel.AttrOr("data-"+key, "")
}

func (e *htmlElement) Counter() Counter {
	c := e.sel.Find(e.counterSelector).First()
	if c.Length() == 0 {
		return nil
	}
	return htmlCounter{sel: c}
}

type htmlCounter struct {
	sel *goquery.Selection
}

func (c htmlCounter) Text() string {
	return strings.TrimSpace(c.sel.Text())
}

func (c htmlCounter) SetHTML(html string) {
	c.sel.SetHtml(html)
}
