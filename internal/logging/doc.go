// Package logging provides structured logging for ptw.
//
// # Overview
//
// Logging wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Automatic context field injection (page origin, item id, request id)
//   - Level-aware sampling (errors never sampled)
//   - Redaction helpers for stored blob and cookie values
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx := logging.WithOrigin(ctx, "https://poe.trade")
//	ctx = logging.WithItemID(ctx, "X123")
//	logger.Info(ctx, "whisper recorded", zap.Int("count", 2))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-10-19T10:15:30Z",
//	  "level": "info",
//	  "msg": "whisper recorded",
//	  "page.origin": "https://poe.trade",
//	  "item.id": "X123",
//	  "count": 2
//	}
//
// Components built around a plain *zap.Logger receive Underlying().
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
package logging
