//go:build js && wasm

package extension

import (
	"context"
	"syscall/js"

	"github.com/fyrsmithlabs/ptw/internal/cookies"
)

// CookieJar is a cookies.Jar over chrome.cookies. The browser handles
// expiry, so expired cookies never come back from Get.
type CookieJar struct{}

var _ cookies.Jar = CookieJar{}

// NewCookieJar returns a jar backed by the browser cookie store.
func NewCookieJar() CookieJar {
	return CookieJar{}
}

// Get implements cookies.Jar.
func (CookieJar) Get(ctx context.Context, rawURL, name string) (string, bool, error) {
	if name == "" {
		return "", false, cookies.ErrInvalidName
	}
	origin, err := cookies.Origin(rawURL)
	if err != nil {
		return "", false, err
	}
	store, err := api("cookies")
	if err != nil {
		return "", false, err
	}
	details := map[string]interface{}{"url": origin, "name": name}
	args, err := await(ctx, func(cb js.Func) {
		store.Call("get", details, cb)
	})
	if err != nil {
		return "", false, err
	}
	if len(args) == 0 || args[0].IsNull() || args[0].IsUndefined() {
		return "", false, nil
	}
	return args[0].Get("value").String(), true, nil
}

// Set implements cookies.Jar.
func (CookieJar) Set(ctx context.Context, c cookies.Cookie) error {
	if c.Name == "" {
		return cookies.ErrInvalidName
	}
	origin, err := cookies.Origin(c.URL)
	if err != nil {
		return err
	}
	store, err := api("cookies")
	if err != nil {
		return err
	}
	details := map[string]interface{}{"url": origin, "name": c.Name, "value": c.Value}
	if c.ExpirationDate > 0 {
		details["expirationDate"] = c.ExpirationDate
	}
	_, err = await(ctx, func(cb js.Func) {
		store.Call("set", details, cb)
	})
	return err
}

// Close implements cookies.Jar.
func (CookieJar) Close() error { return nil }
