package catalog

import (
	"testing"

	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	food, ok := c.Lookup("food_order")
	require.True(t, ok)
	assert.Equal(t, "service_orders", food.Collection)
	assert.Equal(t, domain.CategoryService, food.Category)
	assert.Equal(t, "food_delivery", food.ServiceType)
	assert.Equal(t, "food_delivery.read", food.StaffPermission)

	assert.Equal(t, "booking", c.Fallback().Key)

	gym, ok := c.ByServiceType("gym")
	require.True(t, ok)
	assert.Equal(t, "gym_session", gym.Key)
}

func TestPrefixRoundTrip(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	raws := []string{"abc123", "T_98765", "B-nested", "x"}
	for _, d := range c.Types() {
		for _, raw := range raws {
			ref, err := c.Generate(d.Key, raw)
			require.NoError(t, err)

			res := c.Resolve(ref)
			assert.True(t, res.Matched)
			assert.Equal(t, d.Key, res.Type.Key, ref)
			assert.Equal(t, raw, res.RawRef, ref)
		}
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	res := c.Resolve("Z-unknown")
	assert.False(t, res.Matched)
	assert.Equal(t, "booking", res.Type.Key)
	assert.Equal(t, "Z-unknown", res.RawRef)

	// a bare prefix carries no raw reference
	res = c.Resolve("F-")
	assert.False(t, res.Matched)
}

func TestResolvePrefersLongestPrefix(t *testing.T) {
	c, err := Parse([]byte(`
default: short
types:
  - {key: short, prefix: "F-", collection: a}
  - {key: long, prefix: "FX-", collection: b}
`))
	require.NoError(t, err)

	res := c.Resolve("FX-123")
	assert.Equal(t, "long", res.Type.Key)
	assert.Equal(t, "123", res.RawRef)

	res = c.Resolve("F-X-123")
	assert.Equal(t, "short", res.Type.Key)
	assert.Equal(t, "X-123", res.RawRef)
}

func TestParseRejectsDuplicatePrefix(t *testing.T) {
	_, err := Parse([]byte(`
types:
  - {key: a, prefix: "A-", collection: x}
  - {key: b, prefix: "A-", collection: y}
`))
	assert.ErrorContains(t, err, "prefix")
}

func TestGenerateUnknownType(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	_, err = c.Generate("yacht_charter", "abc")
	assert.Error(t, err)
	_, err = c.Generate("booking", "")
	assert.Error(t, err)
}

func TestCandidates(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	cands := c.Candidates("raw1")
	require.Len(t, cands, len(c.Types()))
	assert.Equal(t, "B-raw1", cands[0].Reference)
}
