package fallback

import (
	"encoding/json"
	"fmt"

	"github.com/soundline/catalog-bridge/internal/catalog"
)

// Page is the paging object returned for every browse call, whichever
// strategy produced it.
type Page struct {
	Items  []json.RawMessage `json:"items"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// Result is a browse response: a message and a page stored under the
// collection kind, e.g. {"message": "...", "playlists": {...}}.
type Result struct {
	Message string
	Kind    string
	Page    Page
}

func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"message": r.Message,
		r.Kind:    r.Page,
	})
}

// envelopeOf extracts the page stored under kind in a browse response, along
// with the response message when there is one.
func envelopeOf(body json.RawMessage, kind string, req catalog.PageRequest) (string, Page, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", Page{}, fmt.Errorf("browse response could not be decoded: %w", err)
	}

	paging, ok := envelope[kind]
	if !ok || string(paging) == "null" {
		return "", Page{}, fmt.Errorf("browse response has no %s", kind)
	}

	var message string
	if raw, ok := envelope["message"]; ok {
		// a non-string message is ignored
		_ = json.Unmarshal(raw, &message)
	}

	page, err := normalize(paging, req)
	return message, page, err
}

// normalize reduces an upstream paging object to items, total, limit and
// offset. Null items, which search results can contain, are dropped.
func normalize(paging json.RawMessage, req catalog.PageRequest) (Page, error) {
	var upstream struct {
		Items  []json.RawMessage `json:"items"`
		Total  *int              `json:"total"`
		Limit  *int              `json:"limit"`
		Offset *int              `json:"offset"`
	}
	if err := json.Unmarshal(paging, &upstream); err != nil {
		return Page{}, fmt.Errorf("paging object could not be decoded: %w", err)
	}

	page := Page{
		Items:  make([]json.RawMessage, 0, len(upstream.Items)),
		Limit:  req.Limit,
		Offset: req.Offset,
	}

	for _, item := range upstream.Items {
		if len(item) == 0 || string(item) == "null" {
			continue
		}
		page.Items = append(page.Items, item)
	}

	page.Total = len(page.Items)
	if upstream.Total != nil {
		page.Total = *upstream.Total
	}
	if upstream.Limit != nil {
		page.Limit = *upstream.Limit
	}
	if upstream.Offset != nil {
		page.Offset = *upstream.Offset
	}

	return page, nil
}

// paginate windows a static list. An offset beyond the list yields no items;
// total is always the full list size.
func paginate(items []json.RawMessage, req catalog.PageRequest) Page {
	start := min(max(req.Offset, 0), len(items))
	end := min(start+max(req.Limit, 0), len(items))

	window := make([]json.RawMessage, end-start)
	copy(window, items[start:end])

	return Page{
		Items:  window,
		Total:  len(items),
		Limit:  req.Limit,
		Offset: req.Offset,
	}
}
