package waste

import "sort"

// SummarizeNeighborhoods groups containers and complaints per neighborhood.
// Rows follow order first, then any remaining neighborhoods alphabetically.
// rates supplies the recycling-rate placeholder; missing entries are 0.
func SummarizeNeighborhoods(containers []ContainerRecord, complaints []ComplaintRecord, order []string, rates map[string]float64) []NeighborhoodSummary {
	type acc struct {
		total, smart, complaints, fillSum int
	}
	groups := make(map[string]*acc)
	get := func(name string) *acc {
		a, ok := groups[name]
		if !ok {
			a = &acc{}
			groups[name] = a
		}
		return a
	}

	for _, c := range containers {
		a := get(c.Neighborhood)
		a.total++
		a.fillSum += c.FillLevel
		if c.Kind == KindSmartBin {
			a.smart++
		}
	}
	for _, c := range complaints {
		get(c.Neighborhood).complaints++
	}

	names := make([]string, 0, len(groups))
	listed := make(map[string]bool, len(order))
	for _, name := range order {
		listed[name] = true
		if _, ok := groups[name]; ok {
			names = append(names, name)
		}
	}
	var rest []string
	for name := range groups {
		if !listed[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)

	out := make([]NeighborhoodSummary, 0, len(names))
	for _, name := range names {
		a := groups[name]
		var avg float64
		if a.total > 0 {
			avg = round2(float64(a.fillSum) / float64(a.total))
		}
		out = append(out, NeighborhoodSummary{
			Neighborhood:    name,
			TotalContainers: a.total,
			SmartBins:       a.smart,
			AvgFillLevel:    avg,
			ComplaintCount:  a.complaints,
			RecyclingRate:   round2(rates[name]),
		})
	}
	return out
}
