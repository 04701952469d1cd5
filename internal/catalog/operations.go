package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

const (
	EndpointFeaturedPlaylists = "/browse/featured-playlists"
	EndpointNewReleases       = "/browse/new-releases"
	EndpointCategories        = "/browse/categories"
	EndpointSearch            = "/search"
	EndpointRecommendations   = "/recommendations"
	EndpointGenreSeeds        = "/recommendations/available-genre-seeds"
)

// SearchTypes are the item types accepted by the search endpoint.
var SearchTypes = []string{"album", "artist", "playlist", "track"}

func ValidSearchType(kind string) bool {
	return slices.Contains(SearchTypes, kind)
}

// PageRequest selects a window of a paged collection.
type PageRequest struct {
	Limit  int
	Offset int
}

func (p PageRequest) values() url.Values {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(p.Limit))
	v.Set("offset", strconv.Itoa(p.Offset))
	return v
}

func (b *Broker) Album(ctx context.Context, id string) (json.RawMessage, error) {
	return b.entities(ctx, "/albums/"+url.PathEscape(id), nil)
}

func (b *Broker) Artist(ctx context.Context, id string) (json.RawMessage, error) {
	return b.entities(ctx, "/artists/"+url.PathEscape(id), nil)
}

func (b *Broker) Playlist(ctx context.Context, id string) (json.RawMessage, error) {
	return b.entities(ctx, "/playlists/"+url.PathEscape(id), nil)
}

// ArtistAlbums lists albums and singles by the artist.
func (b *Broker) ArtistAlbums(ctx context.Context, id string, page PageRequest) (json.RawMessage, error) {
	params := page.values()
	params.Set("include_groups", "album,single")
	return b.Raw(ctx, "/artists/"+url.PathEscape(id)+"/albums", params)
}

// ArtistTopTracks lists the artist's top tracks in the market, "US" when
// empty.
func (b *Broker) ArtistTopTracks(ctx context.Context, id string, market string) (json.RawMessage, error) {
	if market == "" {
		market = "US"
	}
	return b.Raw(ctx, "/artists/"+url.PathEscape(id)+"/top-tracks", url.Values{"market": {market}})
}

func (b *Broker) RelatedArtists(ctx context.Context, id string) (json.RawMessage, error) {
	return b.Raw(ctx, "/artists/"+url.PathEscape(id)+"/related-artists", nil)
}

func (b *Broker) PlaylistTracks(ctx context.Context, id string, page PageRequest) (json.RawMessage, error) {
	return b.Raw(ctx, "/playlists/"+url.PathEscape(id)+"/tracks", page.values())
}

func (b *Broker) CategoryPlaylists(ctx context.Context, id string, page PageRequest) (json.RawMessage, error) {
	return b.Raw(ctx, EndpointCategories+"/"+url.PathEscape(id)+"/playlists", page.values())
}

// Search queries the catalog for the given item types.
func (b *Broker) Search(ctx context.Context, query string, types []string, page PageRequest) (json.RawMessage, error) {
	params := page.values()
	params.Set("q", query)
	params.Set("type", strings.Join(types, ","))
	return b.Raw(ctx, EndpointSearch, params)
}

// SearchType searches a single item type and returns only its paging object.
func (b *Broker) SearchType(ctx context.Context, kind string, query string, page PageRequest) (json.RawMessage, error) {
	body, err := b.Search(ctx, query, []string{kind}, page)
	if err != nil {
		return nil, err
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("search response could not be decoded: %w", err)
	}

	paging, ok := result[kind+"s"]
	if !ok || string(paging) == "null" {
		empty := struct {
			Items  []any `json:"items"`
			Total  int   `json:"total"`
			Limit  int   `json:"limit"`
			Offset int   `json:"offset"`
		}{Items: []any{}, Limit: page.Limit, Offset: page.Offset}
		return json.Marshal(empty)
	}

	return paging, nil
}

// Genres lists the genre seeds available for recommendations.
func (b *Broker) Genres(ctx context.Context) (json.RawMessage, error) {
	return b.Raw(ctx, EndpointGenreSeeds, nil)
}

// PopularByGenre searches albums, artists and tracks tagged with the genre.
func (b *Broker) PopularByGenre(ctx context.Context, genre string, limit int) (json.RawMessage, error) {
	return b.Search(ctx, "genre:"+genre, []string{"album", "artist", "track"}, PageRequest{Limit: limit})
}

// TopArtists approximates a chart of popular artists with a genre search, as
// chart endpoints need user authorization.
func (b *Broker) TopArtists(ctx context.Context, page PageRequest) (json.RawMessage, error) {
	return b.Search(ctx, "genre:pop", []string{"artist"}, page)
}

func (b *Broker) FeaturedPlaylists(ctx context.Context, page PageRequest) (json.RawMessage, error) {
	return b.Raw(ctx, EndpointFeaturedPlaylists, page.values())
}

func (b *Broker) NewReleases(ctx context.Context, page PageRequest) (json.RawMessage, error) {
	return b.Raw(ctx, EndpointNewReleases, page.values())
}

func (b *Broker) Categories(ctx context.Context, page PageRequest) (json.RawMessage, error) {
	return b.Raw(ctx, EndpointCategories, page.values())
}

// Recommendations passes the seed and tuning parameters through unchanged.
func (b *Broker) Recommendations(ctx context.Context, params url.Values) (json.RawMessage, error) {
	return b.Raw(ctx, EndpointRecommendations, params)
}
