package fallback_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/soundline/catalog-bridge/internal/audit"
	"github.com/soundline/catalog-bridge/internal/catalog"
	"github.com/soundline/catalog-bridge/internal/fallback"
	"github.com/soundline/catalog-bridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchCall struct {
	kind  string
	query string
	page  catalog.PageRequest
}

// fakeUpstream answers each operation with a canned body or error.
type fakeUpstream struct {
	responses map[string]any
	searches  []searchCall
	calls     []string
}

var errUpstream = &catalog.UpstreamError{Endpoint: "/browse", StatusCode: http.StatusForbidden}

func (f *fakeUpstream) respond(operation string) (json.RawMessage, error) {
	f.calls = append(f.calls, operation)

	switch r := f.responses[operation].(type) {
	case error:
		return nil, r
	case nil:
		return nil, errUpstream
	default:
		return json.Marshal(r)
	}
}

func (f *fakeUpstream) FeaturedPlaylists(ctx context.Context, page catalog.PageRequest) (json.RawMessage, error) {
	return f.respond("featured")
}

func (f *fakeUpstream) NewReleases(ctx context.Context, page catalog.PageRequest) (json.RawMessage, error) {
	return f.respond("new-releases")
}

func (f *fakeUpstream) Categories(ctx context.Context, page catalog.PageRequest) (json.RawMessage, error) {
	return f.respond("categories")
}

func (f *fakeUpstream) Recommendations(ctx context.Context, params url.Values) (json.RawMessage, error) {
	return f.respond("recommendations")
}

func (f *fakeUpstream) SearchType(ctx context.Context, kind string, query string, page catalog.PageRequest) (json.RawMessage, error) {
	f.searches = append(f.searches, searchCall{kind: kind, query: query, page: page})
	return f.respond("search")
}

func item(id string) map[string]any {
	return map[string]any{"id": id, "name": "Item " + id}
}

func newBrowser(t *testing.T, upstream *fakeUpstream, live bool) *fallback.Browser {
	t.Helper()
	testhelpers.SetupLogger(t)

	static, err := fallback.LoadCatalog()
	require.NoError(t, err)

	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	return fallback.New(upstream, static, live, fallback.WithClock(clock))
}

// decode marshals the result and returns it as a generic JSON document.
func decode(t *testing.T, result fallback.Result) map[string]any {
	t.Helper()

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func ids(t *testing.T, page fallback.Page) []string {
	t.Helper()

	out := make([]string, 0, len(page.Items))
	for _, raw := range page.Items {
		var v struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &v))
		out = append(out, v.ID)
	}
	return out
}

func TestFeaturedCollections_Primary(t *testing.T) {
	upstream := &fakeUpstream{responses: map[string]any{
		"featured": map[string]any{
			"message":   "Editor's picks",
			"playlists": testhelpers.Paging([]any{item("p1"), item("p2")}, 40, 2, 0),
		},
	}}
	browser := newBrowser(t, upstream, true)

	result, err := browser.FeaturedCollections(context.Background(), catalog.PageRequest{Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, "Editor's picks", result.Message)
	assert.Equal(t, "playlists", result.Kind)
	assert.Equal(t, []string{"p1", "p2"}, ids(t, result.Page))
	assert.Equal(t, 40, result.Page.Total)
	assert.Equal(t, []string{"featured"}, upstream.calls)
}

func TestFeaturedCollections_SearchSubstitute(t *testing.T) {
	upstream := &fakeUpstream{responses: map[string]any{
		"search": testhelpers.Paging([]any{item("s1"), nil, item("s2")}, 900, 5, 10),
	}}
	browser := newBrowser(t, upstream, true)

	result, err := browser.FeaturedCollections(context.Background(), catalog.PageRequest{Limit: 5, Offset: 10})
	require.NoError(t, err)

	assert.Equal(t, "Popular Playlists", result.Message)
	assert.Equal(t, []string{"s1", "s2"}, ids(t, result.Page), "null items are dropped")
	assert.Equal(t, 900, result.Page.Total)
	assert.Equal(t, 5, result.Page.Limit)
	assert.Equal(t, 10, result.Page.Offset)

	require.Len(t, upstream.searches, 1)
	assert.Equal(t, searchCall{kind: "playlist", query: "top hits", page: catalog.PageRequest{Limit: 5, Offset: 10}}, upstream.searches[0])
	assert.Equal(t, []string{"featured", "search"}, upstream.calls)
}

func TestFeaturedCollections_StaticPagination(t *testing.T) {
	upstream := &fakeUpstream{}
	browser := newBrowser(t, upstream, true)

	result, err := browser.FeaturedCollections(context.Background(), catalog.PageRequest{Limit: 2, Offset: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"fallback-rock-classics", "fallback-hip-hop-central"}, ids(t, result.Page))
	assert.Equal(t, 6, result.Page.Total)
	assert.Equal(t, 2, result.Page.Limit)
	assert.Equal(t, 1, result.Page.Offset)
	assert.Equal(t, []string{"featured", "search"}, upstream.calls)
}

func TestFeaturedCollections_OffsetBeyondStaticSet(t *testing.T) {
	browser := newBrowser(t, &fakeUpstream{}, true)

	result, err := browser.FeaturedCollections(context.Background(), catalog.PageRequest{Limit: 20, Offset: 40})
	require.NoError(t, err)

	doc := decode(t, result)
	playlists := doc["playlists"].(map[string]any)
	assert.Equal(t, []any{}, playlists["items"])
	assert.Equal(t, float64(6), playlists["total"])
}

func TestNewItems_SearchesCurrentYear(t *testing.T) {
	upstream := &fakeUpstream{responses: map[string]any{
		"search": testhelpers.Paging([]any{item("a1")}, 1, 20, 0),
	}}
	browser := newBrowser(t, upstream, true)

	result, err := browser.NewItems(context.Background(), catalog.PageRequest{Limit: 20})
	require.NoError(t, err)

	assert.Equal(t, "albums", result.Kind)
	assert.Equal(t, "New Releases", result.Message)
	require.Len(t, upstream.searches, 1)
	assert.Equal(t, "year:2026", upstream.searches[0].query)
	assert.Equal(t, "album", upstream.searches[0].kind)
}

func TestNewItems_Static(t *testing.T) {
	browser := newBrowser(t, &fakeUpstream{}, true)

	result, err := browser.NewItems(context.Background(), catalog.PageRequest{Limit: 50})
	require.NoError(t, err)

	assert.Len(t, result.Page.Items, 6)
	assert.Equal(t, 6, result.Page.Total)
}

func TestCategories_HasNoSearchSubstitute(t *testing.T) {
	upstream := &fakeUpstream{}
	browser := newBrowser(t, upstream, true)

	result, err := browser.Categories(context.Background(), catalog.PageRequest{Limit: 50})
	require.NoError(t, err)

	assert.Equal(t, []string{"pop", "rock", "hip-hop", "electronic", "indie", "classical"}, ids(t, result.Page))
	assert.Empty(t, upstream.searches)
	assert.Equal(t, []string{"categories"}, upstream.calls)
}

func TestBrowse_WithoutCredentialsServesStatic(t *testing.T) {
	upstream := &fakeUpstream{}
	browser := newBrowser(t, upstream, false)

	page := catalog.PageRequest{Limit: 3}

	featured, err := browser.FeaturedCollections(context.Background(), page)
	require.NoError(t, err)
	assert.Len(t, featured.Page.Items, 3)

	albums, err := browser.NewItems(context.Background(), page)
	require.NoError(t, err)
	assert.Len(t, albums.Page.Items, 3)

	categories, err := browser.Categories(context.Background(), page)
	require.NoError(t, err)
	assert.Len(t, categories.Page.Items, 3)

	assert.Empty(t, upstream.calls)
}

func TestBrowse_ShapeIsIdenticalAcrossStrategies(t *testing.T) {
	page := catalog.PageRequest{Limit: 2, Offset: 0}

	primary := &fakeUpstream{responses: map[string]any{
		"featured": map[string]any{"playlists": testhelpers.Paging([]any{item("p1")}, 1, 2, 0)},
	}}
	secondary := &fakeUpstream{responses: map[string]any{
		"search": testhelpers.Paging([]any{item("s1")}, 1, 2, 0),
	}}
	static := &fakeUpstream{}

	var shapes [][]string
	for _, upstream := range []*fakeUpstream{primary, secondary, static} {
		result, err := newBrowser(t, upstream, true).FeaturedCollections(context.Background(), page)
		require.NoError(t, err)

		doc := decode(t, result)
		var shape []string
		for key := range doc {
			shape = append(shape, key)
		}
		for key := range doc["playlists"].(map[string]any) {
			shape = append(shape, "playlists."+key)
		}
		shapes = append(shapes, shape)
	}

	expected := []string{"message", "playlists", "playlists.items", "playlists.total", "playlists.limit", "playlists.offset"}
	for _, shape := range shapes {
		assert.ElementsMatch(t, expected, shape)
	}
}

func TestBrowse_MalformedPrimaryFallsThrough(t *testing.T) {
	upstream := &fakeUpstream{responses: map[string]any{
		"featured": map[string]any{"unexpected": true},
		"search":   testhelpers.Paging([]any{item("s1")}, 1, 20, 0),
	}}
	browser := newBrowser(t, upstream, true)

	result, err := browser.FeaturedCollections(context.Background(), catalog.PageRequest{Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids(t, result.Page))
}

func TestRecommendations(t *testing.T) {
	t.Run("primary passes through", func(t *testing.T) {
		upstream := &fakeUpstream{responses: map[string]any{
			"recommendations": map[string]any{"tracks": []any{item("t1")}, "seeds": []any{}},
		}}

		body, err := newBrowser(t, upstream, true).Recommendations(context.Background(), url.Values{"seed_genres": {"jazz"}}, 10)
		require.NoError(t, err)
		assert.JSONEq(t, `{"tracks":[{"id":"t1","name":"Item t1"}],"seeds":[]}`, string(body))
		assert.Empty(t, upstream.searches)
	})

	t.Run("search substitute", func(t *testing.T) {
		upstream := &fakeUpstream{responses: map[string]any{
			"search": testhelpers.Paging([]any{item("t2"), nil}, 1, 10, 0),
		}}

		body, err := newBrowser(t, upstream, true).Recommendations(context.Background(), url.Values{}, 10)
		require.NoError(t, err)
		assert.JSONEq(t, `{"tracks":[{"id":"t2","name":"Item t2"}]}`, string(body))

		require.Len(t, upstream.searches, 1)
		assert.Equal(t, searchCall{kind: "track", query: "genre:pop", page: catalog.PageRequest{Limit: 10}}, upstream.searches[0])
	})

	t.Run("total failure propagates", func(t *testing.T) {
		boom := errors.New("connection refused")
		upstream := &fakeUpstream{responses: map[string]any{
			"recommendations": boom,
			"search":          fmt.Errorf("search: %w", boom),
		}}

		_, err := newBrowser(t, upstream, true).Recommendations(context.Background(), url.Values{}, 10)
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	})
}

func TestBrowse_RecordsServingStrategy(t *testing.T) {
	upstream := &fakeUpstream{responses: map[string]any{
		"search": testhelpers.Paging([]any{item("s1")}, 1, 20, 0),
	}}
	browser := newBrowser(t, upstream, true)

	ctx, entry := audit.Context(context.Background())

	_, err := browser.FeaturedCollections(ctx, catalog.PageRequest{Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, "search", entry.Strategy)

	_, err = browser.Categories(ctx, catalog.PageRequest{Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, "static", entry.Strategy)
}
