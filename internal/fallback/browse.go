package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/soundline/catalog-bridge/internal/catalog"
)

// Upstream is the subset of the catalog broker used by browse calls.
type Upstream interface {
	FeaturedPlaylists(ctx context.Context, page catalog.PageRequest) (json.RawMessage, error)
	NewReleases(ctx context.Context, page catalog.PageRequest) (json.RawMessage, error)
	Categories(ctx context.Context, page catalog.PageRequest) (json.RawMessage, error)
	Recommendations(ctx context.Context, params url.Values) (json.RawMessage, error)
	SearchType(ctx context.Context, kind string, query string, page catalog.PageRequest) (json.RawMessage, error)
}

const (
	strategyPrimary   = "primary"
	strategySecondary = "search"
	strategyStatic    = "static"
)

// Browser answers browse calls, degrading from the dedicated browse endpoint
// to a search with a fixed query and then to static data. The response shape
// is the same whichever strategy answers.
type Browser struct {
	upstream Upstream
	static   *Catalog
	live     bool
	now      func() time.Time
}

type Option func(*Browser)

// WithClock sets the time source used to build date dependent queries.
func WithClock(now func() time.Time) Option {
	return func(b *Browser) {
		b.now = now
	}
}

// New creates a Browser. When live is false, no call is made to the catalog
// API and browse calls are answered from the static catalog.
func New(upstream Upstream, static *Catalog, live bool, opts ...Option) *Browser {
	initMetrics()

	b := &Browser{
		upstream: upstream,
		static:   static,
		live:     live,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// FeaturedCollections lists featured playlists.
func (b *Browser) FeaturedCollections(ctx context.Context, page catalog.PageRequest) (Result, error) {
	return b.browse(ctx, "featured-collections", "playlists", "Popular Playlists", page,
		b.upstream.FeaturedPlaylists,
		"top hits", "playlist",
		b.static.Playlists(),
	)
}

// NewItems lists new album releases. The search substitute filters on the
// current year.
func (b *Browser) NewItems(ctx context.Context, page catalog.PageRequest) (Result, error) {
	year := strconv.Itoa(b.now().Year())

	return b.browse(ctx, "new-items", "albums", "New Releases", page,
		b.upstream.NewReleases,
		"year:"+year, "album",
		b.static.Albums(),
	)
}

// Categories lists browse categories. Search has no category type, so there
// is no search substitute.
func (b *Browser) Categories(ctx context.Context, page catalog.PageRequest) (Result, error) {
	return b.browse(ctx, "categories", "categories", "Categories", page,
		b.upstream.Categories,
		"", "",
		b.static.Categories(),
	)
}

func (b *Browser) browse(
	ctx context.Context,
	operation string,
	kind string,
	message string,
	page catalog.PageRequest,
	primary func(context.Context, catalog.PageRequest) (json.RawMessage, error),
	searchQuery string,
	searchType string,
	static []json.RawMessage,
) (Result, error) {
	var chain Chain[Result]

	if b.live {
		chain = append(chain, Strategy[Result]{
			Name: strategyPrimary,
			Fetch: func(ctx context.Context) (Result, error) {
				body, err := primary(ctx, page)
				if err != nil {
					return Result{}, err
				}

				upstreamMessage, p, err := envelopeOf(body, kind, page)
				if err != nil {
					return Result{}, err
				}
				if upstreamMessage == "" {
					upstreamMessage = message
				}

				return Result{Message: upstreamMessage, Kind: kind, Page: p}, nil
			},
		})

		if searchType != "" {
			chain = append(chain, Strategy[Result]{
				Name: strategySecondary,
				Fetch: func(ctx context.Context) (Result, error) {
					paging, err := b.upstream.SearchType(ctx, searchType, searchQuery, page)
					if err != nil {
						return Result{}, err
					}

					p, err := normalize(paging, page)
					if err != nil {
						return Result{}, err
					}

					return Result{Message: message, Kind: kind, Page: p}, nil
				},
			})
		}
	}

	chain = append(chain, Strategy[Result]{
		Name: strategyStatic,
		Fetch: func(context.Context) (Result, error) {
			return Result{Message: message, Kind: kind, Page: paginate(static, page)}, nil
		},
	})

	return chain.Run(ctx, operation)
}

// Recommendations returns track recommendations for the seed parameters,
// falling back to popular pop tracks. There is no static substitute, so the
// call fails when both the recommendations and search endpoints do.
func (b *Browser) Recommendations(ctx context.Context, params url.Values, limit int) (json.RawMessage, error) {
	chain := Chain[json.RawMessage]{
		{
			Name: strategyPrimary,
			Fetch: func(ctx context.Context) (json.RawMessage, error) {
				return b.upstream.Recommendations(ctx, params)
			},
		},
		{
			Name: strategySecondary,
			Fetch: func(ctx context.Context) (json.RawMessage, error) {
				req := catalog.PageRequest{Limit: limit}

				paging, err := b.upstream.SearchType(ctx, "track", "genre:pop", req)
				if err != nil {
					return nil, err
				}

				p, err := normalize(paging, req)
				if err != nil {
					return nil, err
				}

				body, err := json.Marshal(map[string]any{"tracks": p.Items})
				if err != nil {
					return nil, fmt.Errorf("recommendations could not be encoded: %w", err)
				}
				return body, nil
			},
		},
	}

	return chain.Run(ctx, "recommendations")
}
