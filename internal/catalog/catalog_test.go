package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	require.Equal(t, 6, c.Len())

	toys := c.List("")
	for i := 1; i < len(toys); i++ {
		require.Less(t, toys[i-1].ID, toys[i].ID)
	}

	name, cost, ok := c.LookupToy(2)
	require.True(t, ok)
	require.Equal(t, "Magnetic Tiles", name)
	require.EqualValues(t, 50, cost)

	_, _, ok = c.LookupToy(999)
	require.False(t, ok)
}

func TestGetNotFound(t *testing.T) {
	_, err := Default().Get(42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersByCategory(t *testing.T) {
	toys := Default().List(" Construction ")
	require.Len(t, toys, 2)
	for _, toy := range toys {
		require.Equal(t, "construction", toy.Category)
	}
}

func TestParseRendersSanitizedMarkdown(t *testing.T) {
	c, err := Parse([]byte(`
toys:
  - id: 7
    name: Kite
    token_cost: 10
    description: |
      Flies **high**. <script>alert(1)</script>
      [Manual](https://example.com/kite)
`))
	require.NoError(t, err)

	toy, err := c.Get(7)
	require.NoError(t, err)
	require.Contains(t, toy.DescriptionHTML, "<strong>high</strong>")
	require.Contains(t, toy.DescriptionHTML, `rel="nofollow"`)
	require.NotContains(t, toy.DescriptionHTML, "<script>")
	require.True(t, strings.HasPrefix(toy.Description, "Flies"))
}

func TestParseValidation(t *testing.T) {
	cases := map[string]string{
		"empty":          "toys: []",
		"missing id":     "toys:\n  - name: A\n    token_cost: 1\n",
		"missing name":   "toys:\n  - id: 1\n    token_cost: 1\n",
		"missing cost":   "toys:\n  - id: 1\n    name: A\n",
		"negative cost":  "toys:\n  - id: 1\n    name: A\n    token_cost: -5\n",
		"duplicate id":   "toys:\n  - id: 1\n    name: A\n    token_cost: 1\n  - id: 1\n    name: B\n    token_cost: 2\n",
		"malformed yaml": "toys: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalid), "expected ErrInvalid, got %v", err)
		})
	}
}

func TestParseAllowsFreeToys(t *testing.T) {
	c, err := Parse([]byte("toys:\n  - id: 3\n    name: Sticker\n    token_cost: 0\n"))
	require.NoError(t, err)
	_, cost, ok := c.LookupToy(3)
	require.True(t, ok)
	require.Zero(t, cost)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toys.yaml")
	require.NoError(t, os.WriteFile(path, []byte("toys:\n  - id: 9\n    name: Yo-yo\n    token_cost: 5\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	c, err = Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Len(), c.Len())
}
