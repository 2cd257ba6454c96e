package change

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePatternErrors(t *testing.T) {
	for _, raw := range []string{"", "/", "a//b", "a/{}", "a/{x}/b/{x}"} {
		_, err := ParsePattern(raw)
		require.Error(t, err, raw)
	}
}

func TestPatternMatch(t *testing.T) {
	p := MustPattern("/places/{placeId}/products/{productId}/")
	require.Equal(t, "places/{placeId}/products/{productId}", p.String())
	require.Equal(t, []string{"placeId", "productId"}, p.Params())

	keys, ok := p.Match("places/seoul-1/products/milk")
	require.True(t, ok)
	require.Equal(t, "seoul-1", keys.Get("placeId"))
	require.Equal(t, "milk", keys.Get("productId"))
	require.Equal(t, "placeId=seoul-1,productId=milk", keys.String())

	for _, path := range []string{
		"places/seoul-1/products",
		"places/seoul-1/products/milk/extra",
		"places/seoul-1/items/milk",
		"places//products/milk",
	} {
		_, ok := p.Match(path)
		require.False(t, ok, path)
	}
}

func TestPatternExpand(t *testing.T) {
	src := MustPattern("countries/{country}/products/{productId}")
	dst := MustPattern("ranking_countries/{country}/products/{productId}")

	keys, ok := src.Match("countries/US/products/p9")
	require.True(t, ok)
	path, err := dst.Expand(keys)
	require.NoError(t, err)
	require.Equal(t, "ranking_countries/US/products/p9", path)

	_, err = MustPattern("ranking_places/{placeId}").Expand(keys)
	require.Error(t, err)
}
