// Package page binds item elements on the listing page to item ids.
//
// The package works against a small Document/Element abstraction so the
// same binding logic drives a live browser DOM (syscall/js) and parsed HTML
// snapshots (goquery).
package page

import (
	"strconv"
	"strings"
)

// Counter is the element showing the whisper count.
type Counter interface {
	Text() string
	SetHTML(html string)
}

// Element is one item node on the page.
type Element interface {
	ClassNames() []string
	// Data returns the value of the data-<key> attribute, or "".
	Data(key string) string
	// Counter returns the nested counter element, or nil.
	Counter() Counter
}

// Document lists the item elements currently on the page.
type Document interface {
	Items() []Element
}

// Options describe the page markup.
type Options struct {
	ItemSelector    string
	CounterSelector string
	IDMarker        string
	LabelAttr       string
}

// DefaultOptions matches the trade site markup.
func DefaultOptions() Options {
	return Options{
		ItemSelector:    ".item",
		CounterSelector: "ul.proplist .whisper-btn",
		IDMarker:        "item-live",
		LabelAttr:       "ign",
	}
}

// ExtractID finds the class token containing marker and returns the part
// after its last '-'. It returns "" when no token matches.
func ExtractID(classNames []string, marker string) string {
	for _, token := range classNames {
		if !strings.Contains(token, marker) {
			continue
		}
		if i := strings.LastIndex(token, "-"); i >= 0 {
			return token[i+1:]
		}
		return token
	}
	return ""
}

// FindItem returns the first item in doc whose id is id.
func FindItem(doc Document, id string, opts Options) (Element, bool) {
	if id == "" {
		return nil, false
	}
	for _, el := range doc.Items() {
		if ExtractID(el.ClassNames(), opts.IDMarker) == id {
			return el, true
		}
	}
	return nil, false
}

// Binding ties one element to its item id and counter.
type Binding struct {
	el      Element
	id      string
	label   string
	base    string
	counter Counter
}

// Bind reads the id, label and counter base text from el.
func Bind(el Element, opts Options) *Binding {
	b := &Binding{
		el:      el,
		id:      ExtractID(el.ClassNames(), opts.IDMarker),
		label:   el.Data(opts.LabelAttr),
		counter: el.Counter(),
	}
	if b.counter != nil {
		b.base = b.counter.Text()
	}
	return b
}

// ID returns the item id, or "" when the element is not trackable.
func (b *Binding) ID() string { return b.id }

// Label returns the seller name shown for the item.
func (b *Binding) Label() string { return b.label }

// Element returns the bound element.
func (b *Binding) Element() Element { return b.el }

// Trackable reports whether the element carried an id.
func (b *Binding) Trackable() bool { return b.id != "" }

// Update renders "<base>&nbsp;(<count>)" into the counter. The base text
// is captured at bind time so repeated updates do not accumulate.
func (b *Binding) Update(count int) {
	if b.counter == nil {
		return
	}
	b.counter.SetHTML(CounterHTML(b.base, count))
}

// CounterHTML formats the counter markup.
func CounterHTML(base string, count int) string {
	return base + "&nbsp;(" + strconv.Itoa(count) + ")"
}
