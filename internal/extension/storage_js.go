//go:build js && wasm

package extension

import (
	"context"
	"syscall/js"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ptw/internal/logging"
	"github.com/fyrsmithlabs/ptw/internal/settings"
)

// SyncSettings keeps the expiry timeout in chrome.storage.sync.
type SyncSettings struct {
	defaultTimeout int
	logger         *logging.Logger
}

// NewSyncSettings returns synced settings falling back to defaultTimeout
// minutes when nothing valid is stored.
func NewSyncSettings(defaultTimeout int, logger *logging.Logger) *SyncSettings {
	if defaultTimeout < 1 {
		defaultTimeout = settings.DefaultTimeout
	}
	return &SyncSettings{defaultTimeout: defaultTimeout, logger: logger.Component("settings")}
}

// Timeout returns the stored timeout in minutes.
func (s *SyncSettings) Timeout(ctx context.Context) (int, error) {
	area, err := api("storage", "sync")
	if err != nil {
		return 0, err
	}
	args, err := await(ctx, func(cb js.Func) {
		area.Call("get", settings.KeyTimeout, cb)
	})
	if err != nil {
		return 0, err
	}
	if len(args) == 0 || args[0].IsUndefined() || args[0].IsNull() {
		return s.defaultTimeout, nil
	}
	v := args[0].Get(settings.KeyTimeout)
	if v.IsUndefined() {
		return s.defaultTimeout, nil
	}
	minutes, ok := StoredTimeout(jsValue(v))
	if !ok {
		s.logger.Warn(ctx, "ignoring invalid stored timeout",
			zap.String("value", v.String()), zap.Int("default", s.defaultTimeout))
		return s.defaultTimeout, nil
	}
	return minutes, nil
}

// SetTimeout stores minutes, which must be at least 1.
func (s *SyncSettings) SetTimeout(ctx context.Context, minutes int) error {
	if minutes < 1 {
		return settings.ErrInvalidTimeout
	}
	area, err := api("storage", "sync")
	if err != nil {
		return err
	}
	_, err = await(ctx, func(cb js.Func) {
		area.Call("set", map[string]interface{}{settings.KeyTimeout: minutes}, cb)
	})
	return err
}

// Install writes the default timeout. It runs on install and update.
func (s *SyncSettings) Install(ctx context.Context) error {
	return s.SetTimeout(ctx, s.defaultTimeout)
}

// Watch emits a Change whenever the synced timeout changes. The channel is
// closed when ctx is done. Changes are dropped while the receiver is busy.
func (s *SyncSettings) Watch(ctx context.Context) (<-chan settings.Change, error) {
	onChanged, err := api("storage", "onChanged")
	if err != nil {
		return nil, err
	}

	changes := make(chan settings.Change, 4)
	listener := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) < 2 || args[1].String() != "sync" {
			return nil
		}
		entry := args[0].Get(settings.KeyTimeout)
		if entry.IsUndefined() {
			return nil
		}
		next, ok := StoredTimeout(jsValue(entry.Get("newValue")))
		if !ok {
			return nil
		}
		old, ok := StoredTimeout(jsValue(entry.Get("oldValue")))
		if !ok {
			old = s.defaultTimeout
		}
		select {
		case changes <- settings.Change{Key: settings.KeyTimeout, Old: old, New: next}:
		default:
			s.logger.Warn(ctx, "dropping timeout change", zap.Int("timeout", next))
		}
		return nil
	})
	onChanged.Call("addListener", listener)

	go func() {
		<-ctx.Done()
		onChanged.Call("removeListener", listener)
		listener.Release()
		close(changes)
	}()
	return changes, nil
}

// jsValue converts the primitive types storage can hold.
func jsValue(v js.Value) interface{} {
	switch v.Type() {
	case js.TypeNumber:
		return v.Float()
	case js.TypeString:
		return v.String()
	case js.TypeBoolean:
		return v.Bool()
	default:
		return nil
	}
}
