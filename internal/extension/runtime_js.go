//go:build js && wasm

package extension

import (
	"context"
	"fmt"
	"syscall/js"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ptw/internal/bridge"
	"github.com/fyrsmithlabs/ptw/internal/logging"
)

// NewRuntimeClient returns a bridge client that sends encoded messages to
// the background page with chrome.runtime.sendMessage.
func NewRuntimeClient() *bridge.FuncClient {
	return bridge.NewFuncClient(func(ctx context.Context, data []byte) ([]byte, error) {
		runtime, err := api("runtime")
		if err != nil {
			return nil, err
		}
		args, err := await(ctx, func(cb js.Func) {
			runtime.Call("sendMessage", string(data), cb)
		})
		if err != nil {
			return nil, err
		}
		if len(args) == 0 || args[0].Type() != js.TypeString {
			return nil, fmt.Errorf("%w: no reply from background page", bridge.ErrMalformed)
		}
		return []byte(args[0].String()), nil
	})
}

// ListenRuntime answers runtime messages from mux until the returned
// function is called. Messages that are not strings belong to someone else
// and are left alone.
func ListenRuntime(ctx context.Context, mux *bridge.Mux, logger *logging.Logger) (func(), error) {
	onMessage, err := api("runtime", "onMessage")
	if err != nil {
		return nil, err
	}
	logger = logger.Component("extension")

	listener := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) < 3 || args[0].Type() != js.TypeString {
			return false
		}
		data := []byte(args[0].String())
		sendResponse := args[2]
		go func() {
			out, err := mux.Answer(ctx, data)
			if err != nil {
				logger.Error(ctx, "failed to answer runtime message", zap.Error(err))
				return
			}
			sendResponse.Invoke(string(out))
		}()
		// Keep the response channel open for the async reply.
		return true
	})
	onMessage.Call("addListener", listener)

	return func() {
		onMessage.Call("removeListener", listener)
		listener.Release()
	}, nil
}

// OnInstalled runs fn on its own goroutine whenever the extension is
// installed or updated.
func OnInstalled(fn func()) (func(), error) {
	onInstalled, err := api("runtime", "onInstalled")
	if err != nil {
		return nil, err
	}
	listener := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		go fn()
		return nil
	})
	onInstalled.Call("addListener", listener)
	return func() {
		onInstalled.Call("removeListener", listener)
		listener.Release()
	}, nil
}
