package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"
)

//go:embed toys.yaml
var builtinToys []byte

var (
	// ErrNotFound is returned when a toy id is not in the catalog.
	ErrNotFound = errors.New("catalog: toy not found")
	// ErrInvalid wraps every problem found while parsing a catalog file.
	ErrInvalid = errors.New("catalog: invalid catalog")
)

// Toy is a rentable item with its token price.
type Toy struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	TokenCost       int64  `json:"token_cost"`
	AgeRange        string `json:"age_range,omitempty"`
	Category        string `json:"category,omitempty"`
	Description     string `json:"description,omitempty"`
	DescriptionHTML string `json:"description_html,omitempty"`
}

type catalogFile struct {
	Toys []toyEntry `yaml:"toys"`
}

type toyEntry struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	TokenCost   *int64 `yaml:"token_cost"`
	AgeRange    string `yaml:"age_range"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
}

// Catalog is an immutable, id-indexed toy list. It is safe for concurrent use.
type Catalog struct {
	toys []Toy
	byID map[int64]int
}

// Load reads the catalog at path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Parse(builtinToys)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(builtinToys)
	if err != nil {
		panic(err)
	}
	return c
}

// Parse decodes a YAML catalog and renders each description to sanitized HTML.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if len(file.Toys) == 0 {
		return nil, fmt.Errorf("%w: no toys", ErrInvalid)
	}

	md := goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))
	policy := descriptionPolicy()

	c := &Catalog{
		toys: make([]Toy, 0, len(file.Toys)),
		byID: make(map[int64]int, len(file.Toys)),
	}
	for i, entry := range file.Toys {
		name := strings.TrimSpace(entry.Name)
		switch {
		case entry.ID <= 0:
			return nil, fmt.Errorf("%w: entry %d: id must be positive", ErrInvalid, i)
		case name == "":
			return nil, fmt.Errorf("%w: toy %d: name is required", ErrInvalid, entry.ID)
		case entry.TokenCost == nil:
			return nil, fmt.Errorf("%w: toy %d: token_cost is required", ErrInvalid, entry.ID)
		case *entry.TokenCost < 0:
			return nil, fmt.Errorf("%w: toy %d: token_cost must not be negative", ErrInvalid, entry.ID)
		}
		if _, dup := c.byID[entry.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate toy id %d", ErrInvalid, entry.ID)
		}

		description := strings.TrimSpace(entry.Description)
		var rendered string
		if description != "" {
			var buf bytes.Buffer
			if err := md.Convert([]byte(description), &buf); err != nil {
				return nil, fmt.Errorf("catalog: render toy %d description: %w", entry.ID, err)
			}
			rendered = strings.TrimSpace(policy.Sanitize(buf.String()))
		}

		c.toys = append(c.toys, Toy{
			ID:              entry.ID,
			Name:            name,
			TokenCost:       *entry.TokenCost,
			AgeRange:        strings.TrimSpace(entry.AgeRange),
			Category:        strings.ToLower(strings.TrimSpace(entry.Category)),
			Description:     description,
			DescriptionHTML: rendered,
		})
		c.byID[entry.ID] = i
	}

	sort.SliceStable(c.toys, func(i, j int) bool { return c.toys[i].ID < c.toys[j].ID })
	for i, toy := range c.toys {
		c.byID[toy.ID] = i
	}
	return c, nil
}

func descriptionPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	return policy
}

// List returns toys ordered by id. A non-empty category filters case-insensitively.
func (c *Catalog) List(category string) []Toy {
	category = strings.ToLower(strings.TrimSpace(category))
	out := make([]Toy, 0, len(c.toys))
	for _, toy := range c.toys {
		if category != "" && toy.Category != category {
			continue
		}
		out = append(out, toy)
	}
	return out
}

// Get returns the toy with the given id.
func (c *Catalog) Get(id int64) (Toy, error) {
	idx, ok := c.byID[id]
	if !ok {
		return Toy{}, ErrNotFound
	}
	return c.toys[idx], nil
}

// LookupToy prices a toy for the bucket.
func (c *Catalog) LookupToy(id int64) (string, int64, bool) {
	toy, err := c.Get(id)
	if err != nil {
		return "", 0, false
	}
	return toy.Name, toy.TokenCost, true
}

// Len reports the number of toys.
func (c *Catalog) Len() int {
	return len(c.toys)
}
