package waste

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultMetricsTTL is how long memoized metric results stay valid.
	DefaultMetricsTTL = time.Hour

	warningFill       = 60
	trendSynthDays    = 14
	trendFillFactor   = 0.2
	trendFloorKg      = 100.0
	trendWeekendBoost = 1.3
	trendJitter       = 0.15
)

// NeighborhoodEfficiency is the collection efficiency of one neighborhood.
type NeighborhoodEfficiency struct {
	Neighborhood       string  `json:"neighborhood"`
	ContainerCount     int     `json:"containerCount"`
	AvgFillLevel       float64 `json:"avgFillLevel"`
	EfficiencyScore    float64 `json:"efficiencyScore"`
	ContainersPerTruck int     `json:"containersPerTruck"`
}

// TierCounts splits containers into Critical (>=80), Warning (60-79) and OK (<60).
type TierCounts struct {
	Critical    int     `json:"critical"`
	Warning     int     `json:"warning"`
	OK          int     `json:"ok"`
	Total       int     `json:"total"`
	CriticalPct float64 `json:"criticalPct"`
	WarningPct  float64 `json:"warningPct"`
	OKPct       float64 `json:"okPct"`
}

// TrendPoint is the collected amount of one category on one day.
type TrendPoint struct {
	Date     time.Time `json:"date"`
	Category Category  `json:"category"`
	AmountKg float64   `json:"amountKg"`
}

// CategoryTotal is the collected amount of one category.
type CategoryTotal struct {
	Category Category `json:"category"`
	AmountKg float64  `json:"amountKg"`
	Share    float64  `json:"share"`
}

// Overview holds the headline figures of the dashboard.
type Overview struct {
	TotalContainers  int     `json:"totalContainers"`
	SmartBins        int     `json:"smartBins"`
	SmartOpen        int     `json:"smartOpen"`
	SmartClosed      int     `json:"smartClosed"`
	ActiveComplaints int     `json:"activeComplaints"`
	NewComplaints    int     `json:"newComplaints"`
	TotalWasteKg     float64 `json:"totalWasteKg"`
	LastWeekKg       float64 `json:"lastWeekKg"`
	PreviousWeekKg   float64 `json:"previousWeekKg"`
	WeekOverWeekPct  float64 `json:"weekOverWeekPct"`
}

// MetricsEngine computes aggregates over canonical collections. Results of
// the heavier operations are memoized by input hash.
type MetricsEngine struct {
	memo  *memo
	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
}

// NewMetricsEngine creates an engine. rng drives trend synthesis jitter.
func NewMetricsEngine(ttl time.Duration, rng *rand.Rand, now func() time.Time) *MetricsEngine {
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		rng = newRand(0)
	}
	return &MetricsEngine{
		memo: newMemo(ttl, now),
		rng:  rng,
		now:  now,
	}
}

// CollectionEfficiency scores each neighborhood as 100 - 0.8*meanFill. Only
// the topN neighborhoods by container count are returned, best score first.
// topN <= 0 returns every neighborhood.
func (e *MetricsEngine) CollectionEfficiency(containers []ContainerRecord, topN int) ([]NeighborhoodEfficiency, error) {
	const op = "collection efficiency"
	if err := validateMetricInput(op, containers); err != nil {
		return nil, err
	}
	if len(containers) == 0 {
		return []NeighborhoodEfficiency{}, nil
	}

	v, err := e.memo.do(memoKey(op, containers, topN), func() (interface{}, error) {
		return collectionEfficiency(containers, topN), nil
	})
	if err != nil {
		return nil, err
	}
	rows := v.([]NeighborhoodEfficiency)
	return append([]NeighborhoodEfficiency(nil), rows...), nil
}

func collectionEfficiency(containers []ContainerRecord, topN int) []NeighborhoodEfficiency {
	counts := make(map[string]int)
	sums := make(map[string]int)
	for _, c := range containers {
		counts[c.Neighborhood]++
		sums[c.Neighborhood] += c.FillLevel
	}

	rows := make([]NeighborhoodEfficiency, 0, len(counts))
	for hood, n := range counts {
		mean := float64(sums[hood]) / float64(n)
		rows = append(rows, NeighborhoodEfficiency{
			Neighborhood:       hood,
			ContainerCount:     n,
			AvgFillLevel:       round2(mean),
			EfficiencyScore:    efficiencyScore(mean),
			ContainersPerTruck: clampInt(n/3, 5, 15),
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ContainerCount != rows[j].ContainerCount {
			return rows[i].ContainerCount > rows[j].ContainerCount
		}
		return rows[i].Neighborhood < rows[j].Neighborhood
	})
	if topN > 0 && len(rows) > topN {
		rows = rows[:topN]
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].EfficiencyScore != rows[j].EfficiencyScore {
			return rows[i].EfficiencyScore > rows[j].EfficiencyScore
		}
		return rows[i].Neighborhood < rows[j].Neighborhood
	})
	return rows
}

// efficiencyScore is 100 - 0.8*meanFill rounded to 2 decimals.
func efficiencyScore(meanFill float64) float64 {
	score := decimal.NewFromInt(100).Sub(decimal.RequireFromString("0.8").Mul(decimal.NewFromFloat(meanFill)))
	f, _ := score.Round(2).Float64()
	return f
}

// FullnessTiers counts containers per fullness tier. Counts always sum to len(containers).
func (e *MetricsEngine) FullnessTiers(containers []ContainerRecord) (TierCounts, error) {
	const op = "fullness tiers"
	if err := validateMetricInput(op, containers); err != nil {
		return TierCounts{}, err
	}
	if len(containers) == 0 {
		return TierCounts{}, nil
	}

	v, err := e.memo.do(memoKey(op, containers), func() (interface{}, error) {
		return fullnessTiers(containers), nil
	})
	if err != nil {
		return TierCounts{}, err
	}
	return v.(TierCounts), nil
}

func fullnessTiers(containers []ContainerRecord) TierCounts {
	var t TierCounts
	for _, c := range containers {
		switch {
		case c.FillLevel >= criticalFill:
			t.Critical++
		case c.FillLevel >= warningFill:
			t.Warning++
		default:
			t.OK++
		}
	}
	t.Total = len(containers)
	t.CriticalPct = percent(t.Critical, t.Total)
	t.WarningPct = percent(t.Warning, t.Total)
	t.OKPct = percent(t.OK, t.Total)
	return t
}

// TrendSeries returns daily amounts per category. With events, they are
// summed per (day, category) over the windowDays days ending at the newest
// event (windowDays <= 0 keeps all). Without events a 14-day series is
// synthesized from container capacity and fill.
func (e *MetricsEngine) TrendSeries(events []CollectionEvent, containers []ContainerRecord, windowDays int) ([]TrendPoint, error) {
	const op = "trend series"
	if len(events) > 0 {
		v, err := e.memo.do(memoKey(op+" events", events, windowDays), func() (interface{}, error) {
			return aggregateTrend(events, windowDays), nil
		})
		if err != nil {
			return nil, err
		}
		return append([]TrendPoint(nil), v.([]TrendPoint)...), nil
	}

	if err := validateMetricInput(op, containers); err != nil {
		return nil, err
	}
	if len(containers) == 0 {
		return []TrendPoint{}, nil
	}
	today := truncateDay(e.now())
	v, err := e.memo.do(memoKey(op+" synthetic", containers, today), func() (interface{}, error) {
		return e.synthesizeTrend(containers, today), nil
	})
	if err != nil {
		return nil, err
	}
	return append([]TrendPoint(nil), v.([]TrendPoint)...), nil
}

func aggregateTrend(events []CollectionEvent, windowDays int) []TrendPoint {
	newest := truncateDay(events[0].Date)
	for _, ev := range events[1:] {
		if d := truncateDay(ev.Date); d.After(newest) {
			newest = d
		}
	}
	// the window reaches windowDays back from the newest day, both ends inclusive
	var cutoff time.Time
	if windowDays > 0 {
		cutoff = newest.AddDate(0, 0, -windowDays)
	}

	type key struct {
		day      time.Time
		category Category
	}
	sums := make(map[key]float64)
	for _, ev := range events {
		d := truncateDay(ev.Date)
		if windowDays > 0 && d.Before(cutoff) {
			continue
		}
		sums[key{d, ev.Category}] += ev.AmountKg
	}

	out := make([]TrendPoint, 0, len(sums))
	for k, amount := range sums {
		out = append(out, TrendPoint{Date: k.day, Category: k.category, AmountKg: round2(amount)})
	}
	sortTrend(out)
	return out
}

func (e *MetricsEngine) synthesizeTrend(containers []ContainerRecord, today time.Time) []TrendPoint {
	type acc struct {
		capacity float64
		fillSum  int
		n        int
	}
	groups := make(map[Category]*acc)
	for _, c := range containers {
		a, ok := groups[c.Category]
		if !ok {
			a = &acc{}
			groups[c.Category] = a
		}
		a.capacity += c.CapacityKg
		a.fillSum += c.FillLevel
		a.n++
	}

	e.rngMu.Lock()
	defer e.rngMu.Unlock()

	out := make([]TrendPoint, 0, trendSynthDays*len(groups))
	for d := trendSynthDays - 1; d >= 0; d-- {
		day := today.AddDate(0, 0, -d)
		for _, cat := range categoryOrder(groups) {
			a := groups[cat]
			amount := trendBase(a.capacity, float64(a.fillSum)/float64(a.n))
			if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
				amount *= trendWeekendBoost
			}
			amount *= 1 + randFloat(e.rng, -trendJitter, trendJitter)
			out = append(out, TrendPoint{Date: day, Category: cat, AmountKg: round2(amount)})
		}
	}
	return out
}

// trendBase estimates a day's collection for a category, floored at 100 kg.
func trendBase(totalCapacity, meanFill float64) float64 {
	amount := totalCapacity * (meanFill / 100) * trendFillFactor
	if amount < trendFloorKg {
		return trendFloorKg
	}
	return amount
}

// Overview computes the headline figures. It is cheap and not memoized.
func (e *MetricsEngine) Overview(containers []ContainerRecord, events []CollectionEvent, complaints []ComplaintRecord) Overview {
	var o Overview
	o.TotalContainers = len(containers)
	for _, c := range containers {
		if c.Kind != KindSmartBin {
			continue
		}
		o.SmartBins++
		switch c.Status {
		case StatusOpen:
			o.SmartOpen++
		case StatusClosed:
			o.SmartClosed++
		}
	}

	for _, c := range complaints {
		if c.Status != ComplaintResolved {
			o.ActiveComplaints++
		}
		if c.Status == ComplaintNew {
			o.NewComplaints++
		}
	}

	if len(events) == 0 {
		return o
	}
	newest := truncateDay(events[0].Date)
	for _, ev := range events {
		o.TotalWasteKg += ev.AmountKg
		if d := truncateDay(ev.Date); d.After(newest) {
			newest = d
		}
	}
	lastStart := newest.AddDate(0, 0, -6)
	prevStart := newest.AddDate(0, 0, -13)
	for _, ev := range events {
		d := truncateDay(ev.Date)
		switch {
		case !d.Before(lastStart):
			o.LastWeekKg += ev.AmountKg
		case !d.Before(prevStart):
			o.PreviousWeekKg += ev.AmountKg
		}
	}
	if o.PreviousWeekKg > 0 {
		o.WeekOverWeekPct = round2((o.LastWeekKg - o.PreviousWeekKg) / o.PreviousWeekKg * 100)
	}
	o.TotalWasteKg = round2(o.TotalWasteKg)
	o.LastWeekKg = round2(o.LastWeekKg)
	o.PreviousWeekKg = round2(o.PreviousWeekKg)
	return o
}

// WasteByCategory sums collected amounts per category, largest first.
func (e *MetricsEngine) WasteByCategory(events []CollectionEvent) []CategoryTotal {
	sums := make(map[Category]float64)
	var total float64
	for _, ev := range events {
		sums[ev.Category] += ev.AmountKg
		total += ev.AmountKg
	}

	out := make([]CategoryTotal, 0, len(sums))
	for c, amount := range sums {
		share := 0.0
		if total > 0 {
			share = round2(amount / total * 100)
		}
		out = append(out, CategoryTotal{Category: c, AmountKg: round2(amount), Share: share})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AmountKg != out[j].AmountKg {
			return out[i].AmountKg > out[j].AmountKg
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// HighFillContainers returns containers filled strictly above threshold,
// fullest first. limit <= 0 returns all of them.
func (e *MetricsEngine) HighFillContainers(containers []ContainerRecord, threshold, limit int) []ContainerRecord {
	out := []ContainerRecord{}
	for _, c := range containers {
		if c.FillLevel > threshold {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FillLevel != out[j].FillLevel {
			return out[i].FillLevel > out[j].FillLevel
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// categoryOrder returns the categories present in groups in display order,
// Unknown after the known ones and anything else after that, sorted by name.
func categoryOrder[T any](groups map[Category]T) []Category {
	out := make([]Category, 0, len(groups))
	for _, c := range append(append([]Category(nil), Categories...), CategoryUnknown) {
		if _, ok := groups[c]; ok {
			out = append(out, c)
		}
	}
	if len(out) == len(groups) {
		return out
	}
	var extra []Category
	for c := range groups {
		if c != CategoryUnknown && !IsCategory(c) {
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

func sortTrend(points []TrendPoint) {
	rank := make(map[Category]int, len(Categories))
	for i, c := range Categories {
		rank[c] = i
	}
	rankOf := func(c Category) int {
		if r, ok := rank[c]; ok {
			return r
		}
		return len(Categories)
	}
	sort.Slice(points, func(i, j int) bool {
		if !points[i].Date.Equal(points[j].Date) {
			return points[i].Date.Before(points[j].Date)
		}
		ri, rj := rankOf(points[i].Category), rankOf(points[j].Category)
		if ri != rj {
			return ri < rj
		}
		return points[i].Category < points[j].Category
	})
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(n) / float64(total) * 100)
}

func round2(f float64) float64 {
	r, _ := decimal.NewFromFloat(f).Round(2).Float64()
	return r
}
