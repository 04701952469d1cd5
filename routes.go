package main

import (
	"net/http"

	"github.com/justinas/alice"
	"github.com/soundline/catalog-bridge/internal/admin"
	"github.com/soundline/catalog-bridge/internal/catalog"
	"github.com/soundline/catalog-bridge/internal/fallback"
)

type router interface {
	Handle(pattern string, handler http.Handler)
}

// catalogRoutes registers the read-only catalog façade.
func catalogRoutes(mux router, chain alice.Chain, broker *catalog.Broker, browser *fallback.Browser) {
	handle := func(pattern, operation, failure string, fetch fetchFunc) {
		mux.Handle("GET "+pattern, chain.Then(handleCatalog(operation, failure, fetch)))
	}

	// browse routes always answer, degrading to search results and then static
	// data
	handle("/catalog/featured-collections", "featured-collections", "Failed to fetch featured playlists",
		func(r *http.Request) (any, error) {
			page, err := parsePage(r.URL.Query(), defaultLimit)
			if err != nil {
				return nil, err
			}
			return browser.FeaturedCollections(r.Context(), page)
		})

	handle("/catalog/new-items", "new-items", "Failed to fetch new releases",
		func(r *http.Request) (any, error) {
			page, err := parsePage(r.URL.Query(), defaultLimit)
			if err != nil {
				return nil, err
			}
			return browser.NewItems(r.Context(), page)
		})

	handle("/catalog/categories", "categories", "Failed to fetch categories",
		func(r *http.Request) (any, error) {
			page, err := parsePage(r.URL.Query(), maxLimit)
			if err != nil {
				return nil, err
			}
			return browser.Categories(r.Context(), page)
		})

	handle("/catalog/categories/{id}/collections", "category-collections", "Failed to fetch category playlists",
		func(r *http.Request) (any, error) {
			page, err := parsePage(r.URL.Query(), defaultLimit)
			if err != nil {
				return nil, err
			}
			return broker.CategoryPlaylists(r.Context(), r.PathValue("id"), page)
		})

	handle("/catalog/recommendations", "recommendations", "Failed to fetch recommendations",
		func(r *http.Request) (any, error) {
			query := r.URL.Query()
			limit, err := parseLimit(query, defaultLimit)
			if err != nil {
				return nil, err
			}
			return browser.Recommendations(r.Context(), recommendationParams(query, limit), limit)
		})

	// search
	handle("/catalog/search", "search", "Failed to search",
		func(r *http.Request) (any, error) {
			query := r.URL.Query()
			q, err := requireQuery(query)
			if err != nil {
				return nil, err
			}
			types, err := parseSearchTypes(query)
			if err != nil {
				return nil, err
			}
			page, err := parsePage(query, defaultLimit)
			if err != nil {
				return nil, err
			}
			return broker.Search(r.Context(), q, types, page)
		})

	for segment, kind := range searchKinds {
		handle("/catalog/search/"+segment, "search-"+segment, "Failed to search "+segment,
			func(r *http.Request) (any, error) {
				query := r.URL.Query()
				q, err := requireQuery(query)
				if err != nil {
					return nil, err
				}
				page, err := parsePage(query, defaultLimit)
				if err != nil {
					return nil, err
				}
				return broker.SearchType(r.Context(), kind, q, page)
			})
	}

	// entities
	handle("/catalog/items/{id}", "item", "Failed to fetch album",
		func(r *http.Request) (any, error) {
			return broker.Album(r.Context(), r.PathValue("id"))
		})

	handle("/catalog/people/{id}", "person", "Failed to fetch artist",
		func(r *http.Request) (any, error) {
			return broker.Artist(r.Context(), r.PathValue("id"))
		})

	handle("/catalog/people/{id}/items", "person-items", "Failed to fetch artist albums",
		func(r *http.Request) (any, error) {
			page, err := parsePage(r.URL.Query(), defaultLimit)
			if err != nil {
				return nil, err
			}
			return broker.ArtistAlbums(r.Context(), r.PathValue("id"), page)
		})

	handle("/catalog/people/{id}/top-tracks", "person-top-tracks", "Failed to fetch artist top tracks",
		func(r *http.Request) (any, error) {
			return broker.ArtistTopTracks(r.Context(), r.PathValue("id"), r.URL.Query().Get("market"))
		})

	handle("/catalog/people/{id}/related", "person-related", "Failed to fetch related artists",
		func(r *http.Request) (any, error) {
			return broker.RelatedArtists(r.Context(), r.PathValue("id"))
		})

	handle("/catalog/top-people", "top-people", "Failed to fetch top artists",
		func(r *http.Request) (any, error) {
			page, err := parsePage(r.URL.Query(), defaultLimit)
			if err != nil {
				return nil, err
			}
			return broker.TopArtists(r.Context(), page)
		})

	handle("/catalog/collections/{id}", "collection", "Failed to fetch playlist",
		func(r *http.Request) (any, error) {
			return broker.Playlist(r.Context(), r.PathValue("id"))
		})

	handle("/catalog/collections/{id}/tracks", "collection-tracks", "Failed to fetch playlist tracks",
		func(r *http.Request) (any, error) {
			page, err := parsePage(r.URL.Query(), defaultLimit)
			if err != nil {
				return nil, err
			}
			return broker.PlaylistTracks(r.Context(), r.PathValue("id"), page)
		})

	// genres
	handle("/catalog/genres", "genres", "Failed to fetch available genres",
		func(r *http.Request) (any, error) {
			return broker.Genres(r.Context())
		})

	handle("/catalog/genres/{genre}/popular", "genre-popular", "Failed to fetch popular content by genre",
		func(r *http.Request) (any, error) {
			limit, err := parseLimit(r.URL.Query(), defaultLimit)
			if err != nil {
				return nil, err
			}
			return broker.PopularByGenre(r.Context(), r.PathValue("genre"), limit)
		})
}

// adminRoutes registers the operational endpoints.
func adminRoutes(mux router, chain alice.Chain, surface *admin.Surface) {
	mux.Handle("GET /admin/health", chain.Then(handleHealth(surface)))
	mux.Handle("GET /admin/token-status", chain.Then(handleTokenStatus(surface)))
	mux.Handle("POST /admin/refresh-token", chain.Then(handleRefreshToken(surface)))
	mux.Handle("GET /admin/stats", chain.Then(handleStats(surface)))
}
