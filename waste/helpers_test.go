package waste

import (
	"math/rand"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// fixedNow is a Wednesday.
var fixedNow = time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func seededRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func testHoods() NeighborhoodConfig {
	return DefaultConfig().Neighborhoods
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Cache.Dir = t.TempDir()
	cfg.Source.URL = "http://127.0.0.1:0/unused"
	cfg.Source.MaxRetries = 1
	cfg.Generator.Seed = 42
	return cfg
}

// registryFeature builds a feature as the Amsterdam registry publishes it.
func registryFeature(id string, lon, lat float64, props map[string]interface{}) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{lon, lat})
	if id != "" {
		f.ID = id
	}
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func featureCollection(features ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f)
	}
	return fc
}

// sampleRegistryJSON is a small registry response with Dutch property names.
const sampleRegistryJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "GLA-0001",
     "geometry": {"type": "Point", "coordinates": [4.8897, 52.3740]},
     "properties": {"fractie_omschrijving": "Glas", "stadsdeel_naam": "Centrum"}},
    {"type": "Feature", "id": "RES-0002",
     "geometry": {"type": "Point", "coordinates": [4.9200, 52.3600]},
     "properties": {"fractie_omschrijving": "Rest", "stadsdeel_naam": "Oost", "container_type": "Ondergrondse container"}},
    {"type": "Feature", "id": "PAP-0003",
     "geometry": {"type": "Point", "coordinates": [4.8500, 52.3550]},
     "properties": {"fractie_omschrijving": "Papier", "stadsdeel_naam": "Zuid"}}
  ]
}`

func container(id, hood string, cat Category, fill int) ContainerRecord {
	return ContainerRecord{
		ID:           id,
		Neighborhood: hood,
		Lat:          52.37,
		Lon:          4.90,
		Category:     cat,
		Kind:         KindUnderground,
		FillLevel:    fill,
		Status:       StatusOpen,
		LastEmptied:  LastEmptiedFor(fill, fixedNow),
		CapacityKg:   DefaultCapacityKg,
	}
}
