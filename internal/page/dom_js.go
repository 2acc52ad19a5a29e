//go:build js && wasm

package page

import (
	"strings"
	"syscall/js"
)

// DOMDocument is a Document over the live browser DOM.
type DOMDocument struct {
	document js.Value
	opts     Options
}

// NewDOMDocument wraps the global document. Go on js/wasm runs goroutines on
// the single JS thread, so the controller loop may touch the DOM directly.
func NewDOMDocument(opts Options) *DOMDocument {
	return &DOMDocument{document: js.Global().Get("document"), opts: opts}
}

// Items implements Document.
func (d *DOMDocument) Items() []Element {
	nodes := d.document.Call("querySelectorAll", d.opts.ItemSelector)
	n := nodes.Get("length").Int()
	items := make([]Element, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, &DOMElement{node: nodes.Call("item", i), counterSelector: d.opts.CounterSelector})
	}
	return items
}

// OnItemClick calls fn with the item element under every click inside an
// item. fn runs on its own goroutine: a js callback must return before the
// Go side can block on channels. The returned function removes the listener.
func (d *DOMDocument) OnItemClick(fn func(Element)) func() {
	handler := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			return nil
		}
		target := args[0].Get("target")
		if target.IsNull() || target.IsUndefined() || target.Get("closest").IsUndefined() {
			return nil
		}
		item := target.Call("closest", d.opts.ItemSelector)
		if item.IsNull() {
			return nil
		}
		el := &DOMElement{node: item, counterSelector: d.opts.CounterSelector}
		go fn(el)
		return nil
	})
	d.document.Call("addEventListener", "click", handler)
	return func() {
		d.document.Call("removeEventListener", "click", handler)
		handler.Release()
	}
}

// DOMElement is an item node in the live DOM.
type DOMElement struct {
	node            js.Value
	counterSelector string
}

func (e *DOMElement) ClassNames() []string {
	return strings.Fields(e.node.Get("className").String())
}

func (e *DOMElement) Data(key string) string {
	v := e.node.Call("getAttribute", "data-"+key)
	if v.IsNull() {
		return ""
	}
	return v.String()
}

func (e *DOMElement) Counter() Counter {
	c := e.node.Call("querySelector", e.counterSelector)
	if c.IsNull() {
		return nil
	}
	return domCounter{node: c}
}

type domCounter struct {
	node js.Value
}

func (c domCounter) Text() string {
	return strings.TrimSpace(c.node.Get("textContent").String())
}

func (c domCounter) SetHTML(html string) {
	c.node.Set("innerHTML", html)
}
