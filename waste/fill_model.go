package waste

import (
	"math"
	"math/rand"
	"time"
)

// FillTier groups neighborhoods by how full their containers tend to be
type FillTier string

const (
	TierRecentlyEmptied FillTier = "recently emptied"
	TierModerate        FillTier = "moderate"
	TierNeedsAttention  FillTier = "needs attention"
)

// base fill ranges per tier, inclusive
var tierRanges = map[FillTier][2]int{
	TierRecentlyEmptied: {10, 35},
	TierModerate:        {35, 60},
	TierNeedsAttention:  {60, 85},
}

const (
	fillOffset       = 15
	minModelFill     = 5
	maxModelFill     = 95
	criticalFill     = 80
	closedChance     = 0.3
	emptyIntervalDay = 14
)

// categoryFillAdjust shifts the fill of categories that fill faster or slower than average.
var categoryFillAdjust = map[Category]int{
	CategoryOrganic: 10,
	CategoryGlass:   -10,
}

// FillModel derives fill level and access status for containers without telemetry.
// Shared by the normalizer and the synthetic generator. One base is drawn per
// neighborhood for the lifetime of the model; create a new model per run.
type FillModel struct {
	hoods NeighborhoodConfig
	rng   *rand.Rand
	bases map[string]int
}

// NewFillModel creates a fill model drawing from rng. Not safe for concurrent use.
func NewFillModel(hoods NeighborhoodConfig, rng *rand.Rand) *FillModel {
	return &FillModel{
		hoods: hoods,
		rng:   rng,
		bases: make(map[string]int),
	}
}

// Base returns the neighborhood base fill, drawing it on first use.
func (m *FillModel) Base(neighborhood string) int {
	if b, ok := m.bases[neighborhood]; ok {
		return b
	}
	r := tierRanges[m.hoods.Tier(neighborhood)]
	b := randRange(m.rng, r[0], r[1])
	m.bases[neighborhood] = b
	return b
}

// Fill returns a fill level in [5,95] for one container.
func (m *FillModel) Fill(neighborhood string, category Category) int {
	fill := m.Base(neighborhood) + randRange(m.rng, -fillOffset, fillOffset) + categoryFillAdjust[category]
	return clampInt(fill, minModelFill, maxModelFill)
}

// Status returns N/A for kinds without an access point; otherwise critical
// containers are sometimes locked.
func (m *FillModel) Status(kind ContainerKind, fill int) Status {
	if !kind.HasAccessState() {
		return StatusNotApplicable
	}
	if fill >= criticalFill && m.rng.Float64() < closedChance {
		return StatusClosed
	}
	return StatusOpen
}

// LastEmptiedFor estimates the last collection day from the fill level:
// a full container was emptied about two weeks ago.
func LastEmptiedFor(fill int, now time.Time) time.Time {
	days := int(math.Round(float64(fill) / 100 * emptyIntervalDay))
	return truncateDay(now).AddDate(0, 0, -days)
}

// randRange returns a uniform int in [lo, hi].
func randRange(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}

// randFloat returns a uniform float in [lo, hi).
func randFloat(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// newRand returns a deterministic source for a non-zero seed, otherwise a clock-seeded one.
func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
