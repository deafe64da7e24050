package waste

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// DefaultRouteBudget is the default maximum number of routes per request.
const DefaultRouteBudget = 10

const (
	minRouteMembers    = 3
	containersPerRoute = 15
	minRouteSample     = 5
	maxRouteSample     = 15
)

// RouteBuilder builds greedy nearest-neighbour collection rounds per category.
// Rounds are for visualization; they are not optimized.
type RouteBuilder struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewRouteBuilder creates a builder drawing samples and start points from rng.
func NewRouteBuilder(rng *rand.Rand) *RouteBuilder {
	if rng == nil {
		rng = newRand(0)
	}
	return &RouteBuilder{rng: rng, now: time.Now}
}

// BuildRoutes returns at most maxRoutes routes. Categories with fewer than
// three containers get none; larger categories get one route per 15
// containers (at least one) and are served first.
func (b *RouteBuilder) BuildRoutes(containers []ContainerRecord, maxRoutes int) RouteSet {
	set := RouteSet{Routes: []Route{}, GeneratedAt: b.now()}
	if maxRoutes <= 0 || len(containers) == 0 {
		return set
	}

	groups := make(map[Category][]ContainerRecord)
	for _, c := range containers {
		groups[c.Category] = append(groups[c.Category], c)
	}
	cats := categoryOrder(groups)
	sort.SliceStable(cats, func(i, j int) bool {
		return len(groups[cats[i]]) > len(groups[cats[j]])
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := maxRoutes
	for _, cat := range cats {
		members := groups[cat]
		if len(members) < minRouteMembers {
			continue
		}
		if remaining == 0 {
			break
		}
		n := len(members) / containersPerRoute
		if n < 1 {
			n = 1
		}
		if n > remaining {
			n = remaining
		}
		for i := 0; i < n; i++ {
			set.Routes = append(set.Routes, b.buildRoute(cat, i+1, members))
		}
		remaining -= n
	}
	return set
}

func (b *RouteBuilder) buildRoute(cat Category, seq int, members []ContainerRecord) Route {
	k := randRange(b.rng, minRouteSample, maxRouteSample)
	if k > len(members) {
		k = len(members)
	}
	sample := make([]ContainerRecord, 0, k)
	for _, idx := range b.rng.Perm(len(members))[:k] {
		sample = append(sample, members[idx])
	}

	ordered := nearestNeighbourOrder(sample, b.pickStart(sample))

	route := Route{
		ID:       fmt.Sprintf("%s-%d", slugify(string(cat)), seq),
		Category: cat,
		Color:    CategoryColor(cat),
		Stops:    make([]RouteStop, len(ordered)),
	}
	for i, c := range ordered {
		route.Stops[i] = RouteStop{
			Sequence:    i + 1,
			ContainerID: c.ID,
			Lat:         c.Lat,
			Lon:         c.Lon,
			FillLevel:   c.FillLevel,
		}
		if i > 0 {
			prev := ordered[i-1]
			route.LengthMeters += geo.Distance(orb.Point{prev.Lon, prev.Lat}, orb.Point{c.Lon, c.Lat})
		}
	}
	route.LengthMeters = round2(route.LengthMeters)
	return route
}

// pickStart chooses a start index with probability proportional to fill+1.
func (b *RouteBuilder) pickStart(sample []ContainerRecord) int {
	total := 0
	for _, c := range sample {
		total += c.FillLevel + 1
	}
	r := b.rng.Intn(total)
	for i, c := range sample {
		r -= c.FillLevel + 1
		if r < 0 {
			return i
		}
	}
	return len(sample) - 1
}

// nearestNeighbourOrder visits every member once, always moving to the
// closest unvisited one by planar distance on (lon, lat).
func nearestNeighbourOrder(members []ContainerRecord, start int) []ContainerRecord {
	visited := make([]bool, len(members))
	out := make([]ContainerRecord, 0, len(members))
	cur := start
	for {
		visited[cur] = true
		out = append(out, members[cur])
		if len(out) == len(members) {
			return out
		}
		here := orb.Point{members[cur].Lon, members[cur].Lat}
		next, best := -1, 0.0
		for i, m := range members {
			if visited[i] {
				continue
			}
			d := planar.Distance(here, orb.Point{m.Lon, m.Lat})
			if next == -1 || d < best {
				next, best = i, d
			}
		}
		cur = next
	}
}
