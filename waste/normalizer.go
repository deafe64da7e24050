package waste

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DefaultCapacityKg is assigned to registry containers, which carry no capacity.
const DefaultCapacityKg = 500.0

// Candidate property keys per logical attribute, in priority order.
var (
	categoryKeys     = []string{"fractie_omschrijving", "afvalfractie", "waste_type", "fractie", "category"}
	neighborhoodKeys = []string{"eigenaar_naam", "stadsdeel_naam", "stadsdeel", "gbd_buurt_naam", "buurt_naam", "neighborhood"}
	kindKeys         = []string{"container_type", "type", "soort", "kind"}
	fillKeys         = []string{"fill_level", "vulgraad"}
)

// categoryVocabulary maps lowercased source labels to canonical categories.
var categoryVocabulary = map[string]Category{
	"rest":          CategoryGeneralWaste,
	"restafval":     CategoryGeneralWaste,
	"general waste": CategoryGeneralWaste,
	"glas":          CategoryGlass,
	"glass":         CategoryGlass,
	"papier":        CategoryPaper,
	"karton":        CategoryPaper,
	"papier/karton": CategoryPaper,
	"paper":         CategoryPaper,
	"paper/carton":  CategoryPaper,
	"gft":           CategoryOrganic,
	"gfe":           CategoryOrganic,
	"gft/gfe":       CategoryOrganic,
	"groente":       CategoryOrganic,
	"organic":       CategoryOrganic,
	"plastic":       CategoryPlastic,
	"pmd":           CategoryPlastic,
	"textiel":       CategoryRecycling,
	"recycling":     CategoryRecycling,
}

// kindVocabulary maps lowercased substrings of the source container type to kinds.
// Checked in order; the first match wins.
var kindVocabulary = []struct {
	match string
	kind  ContainerKind
}{
	{"smart", KindSmartBin},
	{"slim", KindSmartBin},
	{"pers", KindSmartBin},
	{"ondergronds", KindUnderground},
	{"underground", KindUnderground},
	{"bovengronds", KindOpenBin},
	{"open", KindOpenBin},
}

// NormalizeResult holds the canonical records and the number of rejected features.
type NormalizeResult struct {
	Records []ContainerRecord
	Dropped int
}

// Normalizer maps raw registry features to canonical container records,
// synthesizing fill level, status and last-emptied date where the source has none.
type Normalizer struct {
	hoods NeighborhoodConfig
	rng   *rand.Rand
	now   func() time.Time
}

// NewNormalizer creates a normalizer. rng drives the fill model; now supplies "today".
func NewNormalizer(hoods NeighborhoodConfig, rng *rand.Rand, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{hoods: hoods, rng: rng, now: now}
}

// Normalize converts a feature collection. Features that fail validation are
// dropped and counted; an empty or nil collection yields an empty result.
func (n *Normalizer) Normalize(fc *geojson.FeatureCollection) NormalizeResult {
	result := NormalizeResult{Records: []ContainerRecord{}}
	if fc == nil || len(fc.Features) == 0 {
		return result
	}

	model := NewFillModel(n.hoods, n.rng)
	today := n.now()
	seen := make(map[string]int)
	perHood := make(map[string]int)
	bound := n.hoods.Bound()

	for i, f := range fc.Features {
		if f == nil {
			result.Dropped++
			continue
		}
		p, ok := featurePoint(f)
		if !ok {
			log.Debugf("feature %d has no usable geometry, dropping", i)
			result.Dropped++
			continue
		}
		p = orientPoint(p, bound)

		hood := n.resolveNeighborhood(f.Properties)
		category := resolveCategory(f.Properties)
		kind := resolveKind(f.Properties)

		var fill int
		if v, ok := propNumber(f.Properties, fillKeys...); ok {
			fill = int(v + 0.5)
		} else {
			fill = model.Fill(hood, category)
		}

		perHood[hood]++
		id, ok := featureID(f)
		if !ok {
			id = fmt.Sprintf("%s-%03d", slugify(hood), perHood[hood])
		}
		id = uniqueID(seen, id)

		rec := ContainerRecord{
			ID:           id,
			Neighborhood: hood,
			Lat:          p.Lat(),
			Lon:          p.Lon(),
			Category:     category,
			Kind:         kind,
			FillLevel:    fill,
			Status:       model.Status(kind, fill),
			LastEmptied:  LastEmptiedFor(fill, today),
			CapacityKg:   DefaultCapacityKg,
		}
		if err := ValidateRecord(rec, n.hoods); err != nil {
			log.WithError(err).Debug("dropping invalid record")
			result.Dropped++
			continue
		}
		result.Records = append(result.Records, rec)
	}

	if result.Dropped > 0 {
		log.Warnf("normalize: dropped %d of %d features", result.Dropped, len(fc.Features))
	}
	return result
}

func (n *Normalizer) resolveNeighborhood(props geojson.Properties) string {
	v, ok := propString(props, neighborhoodKeys...)
	if !ok {
		return NeighborhoodCity
	}
	for _, known := range n.hoods.Known {
		if strings.EqualFold(known, v) {
			return known
		}
	}
	return NeighborhoodOther
}

func resolveCategory(props geojson.Properties) Category {
	v, ok := propString(props, categoryKeys...)
	if !ok {
		return CategoryUnknown
	}
	if c, ok := categoryVocabulary[strings.ToLower(v)]; ok {
		return c
	}
	return CategoryUnknown
}

func resolveKind(props geojson.Properties) ContainerKind {
	v, ok := propString(props, kindKeys...)
	if !ok {
		return KindUnderground
	}
	lower := strings.ToLower(v)
	for _, kv := range kindVocabulary {
		if strings.Contains(lower, kv.match) {
			return kv.kind
		}
	}
	return KindUnderground
}

// orientPoint returns p in (lon, lat) order. A point that only lands inside
// the city bound once its axes are swapped was published as (lat, lon).
func orientPoint(p orb.Point, bound orb.Bound) orb.Point {
	swapped := orb.Point{p[1], p[0]}
	if !bound.Contains(p) && bound.Contains(swapped) {
		return swapped
	}
	return p
}

// uniqueID suffixes repeated ids with -2, -3, ...
func uniqueID(seen map[string]int, id string) string {
	seen[id]++
	if seen[id] == 1 {
		return id
	}
	for {
		candidate := fmt.Sprintf("%s-%d", id, seen[id])
		if _, taken := seen[candidate]; !taken {
			seen[candidate] = 1
			return candidate
		}
		seen[id]++
	}
}
