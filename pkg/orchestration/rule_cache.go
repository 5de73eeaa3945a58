package orchestration

import "context"

// cacheRule short-circuits execution of runs carrying a cache key. A
// proposed Running that finds a fresh cached result is rewritten
// straight to Completed with the stored result reference; a genuine
// Completed commit stores its result for later hits.
//
// The rule is ordered ahead of the concurrency rule so a cache hit
// never holds an execution slot.
type cacheRule struct {
	cache CacheStore
}

// CacheRule returns the result-cache rule backed by the given store.
func CacheRule(cache CacheStore) Rule { return &cacheRule{cache: cache} }

func (r *cacheRule) Name() string { return "cache" }

func (r *cacheRule) Evaluate(ctx context.Context, a *Attempt) (Decision, error) {
	if a.Run.CacheKey == "" {
		return Allow(), nil
	}
	scope := a.Ctx.CacheScope
	if scope == "" {
		scope = "global"
	}

	switch a.Proposed.Type {
	case StateRunning:
		entry, err := r.cache.Get(ctx, a.Run.CacheKey, scope)
		if err != nil {
			return Decision{}, NewTransientError("cache lookup failed", err).WithRun(a.Run.ID)
		}
		if entry == nil || entry.Expired(a.Now) {
			return Allow(), nil
		}
		// The work never executes on a hit, so the execution count
		// recorded for the Running proposal is cancelled.
		a.CancelRunCount()
		done := Completed(a.Now, entry.ResultRef)
		done.FromCache = true
		return Rewrite(ReasonCacheHit, done), nil

	case StateCompleted:
		if a.Proposed.FromCache {
			// A replayed result is never re-stored.
			return Allow(), nil
		}
		key, ref, ttl := a.Run.CacheKey, a.Proposed.ResultRef, a.Run.CacheTTL
		a.OnCommit(func(ctx context.Context) {
			// Best effort: a failed store only costs a future cache
			// miss, never the committed transition.
			_ = r.cache.Put(ctx, key, scope, ref, ttl)
		})
		return Allow(), nil

	default:
		return Allow(), nil
	}
}
