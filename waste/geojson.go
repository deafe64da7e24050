package waste

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ParseFeatureCollection decodes a GeoJSON document that must be a FeatureCollection.
func ParseFeatureCollection(data []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing GeoJSON: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("parsing GeoJSON: type %q is not a FeatureCollection", fc.Type)
	}
	return fc, nil
}

// propString returns the first non-empty property among keys, stringified.
// Numbers are formatted without exponent so registry ids survive.
func propString(props geojson.Properties, keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := props[key]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(stringify(v))
		if s != "" {
			return s, true
		}
	}
	return "", false
}

// propNumber returns the first property among keys that holds a number or a numeric string.
func propNumber(props geojson.Properties, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch v := props[key].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// featureID returns the feature-level id, falling back to id-like properties.
func featureID(f *geojson.Feature) (string, bool) {
	if f.ID != nil {
		if s := strings.TrimSpace(stringify(f.ID)); s != "" {
			return s, true
		}
	}
	return propString(f.Properties, "id", "idnummer", "serienummer")
}

// featurePoint returns a representative (lon, lat) point for the feature.
// Points are used as-is; other geometries use the center of their bound.
func featurePoint(f *geojson.Feature) (orb.Point, bool) {
	if f.Geometry == nil {
		return orb.Point{}, false
	}
	if p, ok := f.Geometry.(orb.Point); ok {
		return p, true
	}
	b := f.Geometry.Bound()
	if b == (orb.Bound{}) {
		return orb.Point{}, false
	}
	return b.Center(), true
}

// FeatureCollection exports the routes as LineString features for map layers.
func (rs RouteSet) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range rs.Routes {
		line := make(orb.LineString, 0, len(r.Stops))
		ids := make([]string, 0, len(r.Stops))
		for _, s := range r.Stops {
			line = append(line, orb.Point{s.Lon, s.Lat})
			ids = append(ids, s.ContainerID)
		}

		f := geojson.NewFeature(line)
		f.ID = r.ID
		f.Properties["category"] = string(r.Category)
		f.Properties["color"] = r.Color
		f.Properties["stops"] = len(r.Stops)
		f.Properties["containerIds"] = ids
		f.Properties["lengthMeters"] = r.LengthMeters
		fc.Append(f)
	}
	return fc
}

// ContainersFeatureCollection exports records as Point features.
func ContainersFeatureCollection(records []ContainerRecord) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range records {
		f := geojson.NewFeature(orb.Point{r.Lon, r.Lat})
		f.ID = r.ID
		f.Properties["neighborhood"] = r.Neighborhood
		f.Properties["category"] = string(r.Category)
		f.Properties["kind"] = string(r.Kind)
		f.Properties["fill_level"] = r.FillLevel
		f.Properties["status"] = string(r.Status)
		fc.Append(f)
	}
	return fc
}
