package fallback

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Catalog is the static substitute data served when the catalog API cannot
// answer a browse call. It is immutable once loaded.
type Catalog struct {
	playlists  []json.RawMessage
	albums     []json.RawMessage
	categories []json.RawMessage
}

type catalogFile struct {
	Playlists  []map[string]any `yaml:"playlists"`
	Albums     []map[string]any `yaml:"albums"`
	Categories []map[string]any `yaml:"categories"`
}

// LoadCatalog decodes the catalog embedded in the binary.
func LoadCatalog() (*Catalog, error) {
	return ParseCatalog(embeddedCatalog)
}

// ParseCatalog decodes a YAML catalog document. Every entry must carry an id
// and a name.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("fallback catalog could not be parsed: %w", err)
	}

	c := &Catalog{}

	var err error
	if c.playlists, err = encodeEntries("playlists", file.Playlists); err != nil {
		return nil, err
	}
	if c.albums, err = encodeEntries("albums", file.Albums); err != nil {
		return nil, err
	}
	if c.categories, err = encodeEntries("categories", file.Categories); err != nil {
		return nil, err
	}

	return c, nil
}

func encodeEntries(section string, entries []map[string]any) ([]json.RawMessage, error) {
	encoded := make([]json.RawMessage, 0, len(entries))

	for i, entry := range entries {
		for _, field := range []string{"id", "name"} {
			if s, _ := entry[field].(string); s == "" {
				return nil, fmt.Errorf("fallback catalog %s[%d]: %s is required", section, i, field)
			}
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("fallback catalog %s[%d] could not be encoded: %w", section, i, err)
		}
		encoded = append(encoded, data)
	}

	return encoded, nil
}

func (c *Catalog) Playlists() []json.RawMessage {
	return c.playlists
}

func (c *Catalog) Albums() []json.RawMessage {
	return c.albums
}

func (c *Catalog) Categories() []json.RawMessage {
	return c.categories
}
