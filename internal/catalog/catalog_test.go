package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectPriorityResource_PicksSmallestIndex(t *testing.T) {
	resources := []Resource{
		{Format: "WFS", URL: "wfs-url"},
		{Format: "GPKG", URL: "gpkg-url"},
	}
	best, ok := SelectPriorityResource(resources, []string{"GPKG", "GeoJSON", "WFS"})
	assert.True(t, ok)
	assert.Equal(t, "gpkg-url", best.URL)
}

func TestSelectPriorityResource_NoneMatchPicksFirst(t *testing.T) {
	resources := []Resource{
		{Format: "KML", URL: "kml-url"},
		{Format: "SHP", URL: "shp-url"},
	}
	best, ok := SelectPriorityResource(resources, []string{"GPKG", "GeoJSON"})
	assert.True(t, ok)
	assert.Equal(t, "kml-url", best.URL)
}

// TestSelectPriorityResource_Stable covers spec.md §8.2: adding a
// lower-priority candidate must not change the winner.
func TestSelectPriorityResource_Stable(t *testing.T) {
	priority := []string{"GPKG", "GeoJSON", "WFS"}
	resources := []Resource{
		{Format: "GPKG", URL: "gpkg-url"},
		{Format: "WFS", URL: "wfs-url"},
	}
	before, _ := SelectPriorityResource(resources, priority)

	withExtra := append(append([]Resource{}, resources...), Resource{Format: "GeoJSON", URL: "geojson-url"})
	after, _ := SelectPriorityResource(withExtra, priority)

	assert.Equal(t, before, after)
}

func TestSelectPriorityResource_Empty(t *testing.T) {
	_, ok := SelectPriorityResource(nil, []string{"GPKG"})
	assert.False(t, ok)
}
