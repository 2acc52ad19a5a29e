package tracker

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/ptw/internal/metrics"
	"github.com/fyrsmithlabs/ptw/internal/registry"
	"go.uber.org/zap"
)

// requestSave runs on the debounce timer and hands the save to the loop.
func (c *Controller) requestSave() {
	select {
	case c.saveReq <- struct{}{}:
	default:
	}
}

// startSave copies the active records and writes them in the background.
// Overlapping saves are not serialized; each overwrites the whole blob.
func (c *Controller) startSave(ctx context.Context) {
	snapshot := c.registry.UniqueItems()

	c.saves.Add(1)
	go func() {
		defer c.saves.Done()

		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.saveTimeout)
		defer cancel()

		if err := c.saveNow(saveCtx, snapshot); err != nil {
			c.logger.Error(ctx, "background save failed", zap.Error(err))
		}
	}()
}

func (c *Controller) saveNow(ctx context.Context, snapshot registry.State) error {
	start := time.Now()
	err := c.store.Save(ctx, snapshot)
	c.metrics.SaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.SavesTotal.WithLabelValues(metrics.ResultError).Inc()
		return err
	}
	c.metrics.SavesTotal.WithLabelValues(metrics.ResultOK).Inc()
	c.logger.Trace(ctx, "snapshot saved", zap.Int("items", len(snapshot)))
	return nil
}

// finalSave runs on the way out of Run. A debounced save that is still
// pending, or was requested but not yet started, is written synchronously.
func (c *Controller) finalSave(ctx context.Context) {
	pending := c.saver.Stop()
	select {
	case <-c.saveReq:
		pending = true
	default:
	}
	if !pending {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.saveTimeout)
	defer cancel()
	if err := c.saveNow(saveCtx, c.registry.UniqueItems()); err != nil {
		c.logger.Error(ctx, "final save failed", zap.Error(err))
	}
}

// Flush writes any pending debounced save now. Saves already running in
// the background are not awaited; Run waits for them on exit.
func (c *Controller) Flush(ctx context.Context) error {
	var (
		pending  bool
		snapshot registry.State
	)
	err := c.do(ctx, func() {
		pending = c.saver.Cancel()
		select {
		case <-c.saveReq:
			pending = true
		default:
		}
		if pending {
			snapshot = c.registry.UniqueItems()
		}
	})
	if err != nil {
		return err
	}

	if !pending {
		return nil
	}
	if err := c.saveNow(ctx, snapshot); err != nil {
		c.logger.Warn(ctx, "flush failed", zap.Error(err))
		return err
	}
	return nil
}
