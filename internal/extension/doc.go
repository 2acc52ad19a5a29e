// Package extension adapts ptw to a Chromium extension when compiled for
// js/wasm.
//
// The content script reaches the background page with runtime messaging
// (NewRuntimeClient), which carries encoded bridge messages as strings. The
// background page answers them from a bridge.Mux (ListenRuntime) and keeps
// the blob in the browser's cookie store (CookieJar). The expiry timeout
// lives in synced extension storage (SyncSettings).
//
// Only the value conversion helpers build outside js/wasm.
package extension
