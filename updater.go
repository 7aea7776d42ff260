package apq

import (
	"context"
	"net/http"
	"time"

	cacheinvalidate "github.com/always-cache/apq/pkg/cache-invalidate"
)

// InvalidateTags removes all stored responses carrying any of the tags.
// It returns the number of removed responses.
func (a *APQ) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	ctx, span := a.tracer.Start(ctx, "apq.cache.invalidate")
	defer span.End()

	n, err := a.cache.InvalidateTags(ctx, tags...)
	if err != nil {
		span.RecordError(err)
		return n, err
	}
	a.metrics.invalidatedEntries(n)
	a.log.Debug().Strs("tags", tags).Int("entries", n).Msg("Invalidated cache tags")
	return n, nil
}

// applyInvalidations invalidates the tags listed in the Cache-Invalidate
// fields of a response. Delayed invalidations run in the background.
func (a *APQ) applyInvalidations(ctx context.Context, header http.Header) {
	for _, inv := range cacheinvalidate.GetInvalidations(header) {
		inv := inv
		a.log.Trace().Strs("tags", inv.Tags).Dur("delay", inv.Delay).Msg("Invalidating cache based on header")
		invalidate := func(ctx context.Context) {
			if _, err := a.InvalidateTags(ctx, inv.Tags...); err != nil {
				a.log.Error().Err(err).Strs("tags", inv.Tags).Msg("Could not invalidate tags")
			}
		}
		if inv.Delay > 0 {
			go func() {
				time.Sleep(inv.Delay)
				invalidate(context.Background())
			}()
		} else {
			invalidate(ctx)
		}
	}
}
