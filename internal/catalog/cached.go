package catalog

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/rs/zerolog/log"
	"github.com/soundline/catalog-bridge/internal/cache"
)

// Cached supplies a fetcher that caches successful responses of the wrapped
// fetcher, keyed by endpoint and query. The cache is non-locking: concurrent
// misses for the same entity may each reach the catalog API, and the last
// response written wins. Failures are never cached.
func Cached(c cache.Cache[json.RawMessage]) func(Fetcher) Fetcher {
	return func(f Fetcher) Fetcher {
		return func(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
			key := endpoint
			if len(params) > 0 {
				key += "?" + params.Encode()
			}

			cached, found, err := c.Get(ctx, key)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("catalog cache read failed, fetching")
			} else if found {
				log.Debug().Str("key", key).Msg("hit: catalog response served from cache")
				return cached, nil
			}

			body, err := f(ctx, endpoint, params)
			if err != nil {
				return nil, err
			}

			if err := c.Set(ctx, key, body); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
			}

			return body, nil
		}
	}
}
