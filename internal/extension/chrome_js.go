//go:build js && wasm

package extension

import (
	"context"
	"errors"
	"fmt"
	"syscall/js"
)

// ErrUnavailable indicates the extension API is missing from this context.
var ErrUnavailable = errors.New("chrome extension api unavailable")

// ErrLastError wraps chrome.runtime.lastError reported to a callback.
var ErrLastError = errors.New("chrome api call failed")

func chrome() js.Value {
	return js.Global().Get("chrome")
}

func api(path ...string) (js.Value, error) {
	v := chrome()
	for _, p := range path {
		if v.IsUndefined() || v.IsNull() {
			return js.Value{}, fmt.Errorf("%w: chrome.%s", ErrUnavailable, p)
		}
		v = v.Get(p)
	}
	if v.IsUndefined() || v.IsNull() {
		return js.Value{}, ErrUnavailable
	}
	return v, nil
}

// await starts a callback-style chrome call and blocks until the callback
// fires or ctx is done. lastError is only readable inside the callback.
func await(ctx context.Context, call func(cb js.Func)) ([]js.Value, error) {
	type result struct {
		args []js.Value
		err  error
	}
	ch := make(chan result, 1)
	var cb js.Func
	cb = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		var err error
		if le := chrome().Get("runtime").Get("lastError"); !le.IsUndefined() && !le.IsNull() {
			err = fmt.Errorf("%w: %s", ErrLastError, le.Get("message").String())
		}
		ch <- result{args: args, err: err}
		return nil
	})
	call(cb)

	select {
	case r := <-ch:
		cb.Release()
		return r.args, r.err
	case <-ctx.Done():
		// The callback may still fire; release once it has.
		go func() {
			<-ch
			cb.Release()
		}()
		return nil, ctx.Err()
	}
}
