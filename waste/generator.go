package waste

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	neighborhoodSpread = 0.05
	containerJitter    = 0.02
	smartBinCapacityKg = 100.0
	minDailyAmountKg   = 500
	maxDailyAmountKg   = 5000
	weekdayBoostKg     = 50
	categoryBoostKg    = 100
	linkedChance       = 0.7
	complaintWindow    = 30
)

// boosted weekday and category of the synthetic collection history
const (
	boostWeekday  = time.Tuesday
	boostCategory = CategoryGeneralWaste
)

var complaintDescriptions = map[IssueType]string{
	IssueContainerFull:     "Container is full and cannot be used",
	IssueWasteNext:         "Bags left next to the container",
	IssueContainerBroken:   "Lid or opening is damaged",
	IssueSmartBinNotOpen:   "Pass is not accepted, bin stays locked",
	IssueBadSmell:          "Strong smell around the container",
	IssueIncorrectDisposal: "Wrong waste type thrown in this container",
	IssueNotCollected:      "Container was not emptied on the scheduled day",
	IssueCollectionNoise:   "Collection truck very loud early in the morning",
}

// Generator produces a fully synthetic dataset shaped like real operations.
type Generator struct {
	cfg   GeneratorConfig
	hoods NeighborhoodConfig
	rng   *rand.Rand
	now   func() time.Time
}

// NewGenerator creates a generator. Pass a seeded rng for reproducible output.
func NewGenerator(cfg GeneratorConfig, hoods NeighborhoodConfig, rng *rand.Rand, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{cfg: cfg, hoods: hoods, rng: rng, now: now}
}

// Generate builds containers, collection history, complaints and summaries.
func (g *Generator) Generate() Dataset {
	now := g.now()
	model := NewFillModel(g.hoods, g.rng)

	containers := g.containers(model, now)
	events := g.events(now)
	complaints := g.complaints(containers, now)

	rates := make(map[string]float64, len(g.hoods.Known))
	for _, hood := range g.hoods.Known {
		rates[hood] = randFloat(g.rng, 0.2, 0.8)
	}

	return Dataset{
		Containers: containers,
		Events:     events,
		Complaints: complaints,
		Summaries:  SummarizeNeighborhoods(containers, complaints, g.hoods.Known, rates),
	}
}

func (g *Generator) containers(model *FillModel, now time.Time) []ContainerRecord {
	center := g.hoods.Center
	out := []ContainerRecord{}

	for _, hood := range g.hoods.Known {
		hoodLat := center.Lat + randFloat(g.rng, -neighborhoodSpread, neighborhoodSpread)
		hoodLon := center.Lon + randFloat(g.rng, -neighborhoodSpread, neighborhoodSpread)
		count := randRange(g.rng, g.cfg.MinContainers, g.cfg.MaxContainers)
		slug := slugify(hood)

		for i := 1; i <= count; i++ {
			category := Categories[g.rng.Intn(len(Categories))]
			kind := KindUnderground
			capacity := DefaultCapacityKg
			if g.rng.Intn(2) == 1 {
				kind = KindSmartBin
				capacity = smartBinCapacityKg
			}
			fill := model.Fill(hood, category)

			out = append(out, ContainerRecord{
				ID:           fmt.Sprintf("%s-%03d", slug, i),
				Neighborhood: hood,
				Lat:          hoodLat + randFloat(g.rng, -containerJitter, containerJitter),
				Lon:          hoodLon + randFloat(g.rng, -containerJitter, containerJitter),
				Category:     category,
				Kind:         kind,
				FillLevel:    fill,
				Status:       model.Status(kind, fill),
				LastEmptied:  LastEmptiedFor(fill, now),
				CapacityKg:   capacity,
			})
		}
	}
	return out
}

func (g *Generator) events(now time.Time) []CollectionEvent {
	today := truncateDay(now)
	out := make([]CollectionEvent, 0, g.cfg.HistoryDays*len(Categories))

	for d := g.cfg.HistoryDays - 1; d >= 0; d-- {
		date := today.AddDate(0, 0, -d)
		for _, c := range Categories {
			amount := randRange(g.rng, minDailyAmountKg, maxDailyAmountKg)
			if date.Weekday() == boostWeekday {
				amount += weekdayBoostKg
			}
			if c == boostCategory {
				amount += categoryBoostKg
			}
			out = append(out, CollectionEvent{Date: date, Category: c, AmountKg: float64(amount)})
		}
	}
	return out
}

func (g *Generator) complaints(containers []ContainerRecord, now time.Time) []ComplaintRecord {
	byHood := make(map[string][]string)
	for _, c := range containers {
		byHood[c.Neighborhood] = append(byHood[c.Neighborhood], c.ID)
	}

	out := make([]ComplaintRecord, 0, g.cfg.ComplaintCount)
	for i := 0; i < g.cfg.ComplaintCount; i++ {
		age, status := complaintTiming(randRange(g.rng, 0, complaintWindow), randRange(g.rng, 0, 24))
		ts := now.Add(-age)
		hood := g.hoods.Known[g.rng.Intn(len(g.hoods.Known))]
		issue := IssueTypes[g.rng.Intn(len(IssueTypes))]

		rec := ComplaintRecord{
			ID:           g.newID(),
			Timestamp:    ts,
			Neighborhood: hood,
			IssueType:    issue,
			Description:  complaintDescriptions[issue],
			Status:       status,
		}
		if g.rng.Float64() < linkedChance {
			if ids := byHood[hood]; len(ids) > 0 {
				rec.ContainerID = ids[g.rng.Intn(len(ids))]
			}
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// newID draws a v4 uuid from the generator's source so seeded runs repeat.
func (g *Generator) newID() string {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// complaintTiming turns a drawn (days, hours) offset into the complaint's age.
// Status follows the whole days only; the hours just spread timestamps.
func complaintTiming(daysAgo, hoursAgo int) (time.Duration, ComplaintStatus) {
	age := time.Duration(daysAgo)*24*time.Hour + time.Duration(hoursAgo)*time.Hour
	return age, ComplaintStatusForDays(daysAgo)
}

// ComplaintStatusForDays derives complaint status from its age in whole days.
func ComplaintStatusForDays(days int) ComplaintStatus {
	switch {
	case days < 2:
		return ComplaintNew
	case days < 7:
		return ComplaintPending
	default:
		return ComplaintResolved
	}
}

// ComplaintStatusForAge derives complaint status from its age, counting
// whole elapsed days.
func ComplaintStatusForAge(age time.Duration) ComplaintStatus {
	return ComplaintStatusForDays(int(age / (24 * time.Hour)))
}
