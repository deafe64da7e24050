package waste

import (
	"sort"
	"strings"
)

// Filter values that select everything
const (
	FilterAll        = "All"
	AllCategories    = "All Categories"
	AllNeighborhoods = "All Neighborhoods"
)

// SortKey orders container tables
type SortKey string

const (
	SortFillDesc     SortKey = "fill"
	SortNeighborhood SortKey = "neighborhood"
	SortCategory     SortKey = "category"
	SortLastEmptied  SortKey = "lastEmptied"
)

func isAll(v string) bool {
	switch strings.TrimSpace(v) {
	case "", FilterAll, AllCategories, AllNeighborhoods:
		return true
	}
	return false
}

// FilterContainers returns the records matching category and neighborhood.
// Empty and "All ..." values do not filter. The result is always a new slice.
func FilterContainers(records []ContainerRecord, category, neighborhood string) []ContainerRecord {
	out := make([]ContainerRecord, 0, len(records))
	for _, r := range records {
		if !isAll(category) && string(r.Category) != category {
			continue
		}
		if !isAll(neighborhood) && r.Neighborhood != neighborhood {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FilterComplaints keeps complaints whose status is in statuses (all when
// empty) and that belong to neighborhood.
func FilterComplaints(records []ComplaintRecord, statuses []ComplaintStatus, neighborhood string) []ComplaintRecord {
	want := make(map[ComplaintStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	out := make([]ComplaintRecord, 0, len(records))
	for _, r := range records {
		if len(want) > 0 && !want[r.Status] {
			continue
		}
		if !isAll(neighborhood) && r.Neighborhood != neighborhood {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SearchContainers keeps records whose id or neighborhood contains term, case-insensitively.
func SearchContainers(records []ContainerRecord, term string) []ContainerRecord {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return copyContainers(records)
	}
	out := make([]ContainerRecord, 0)
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.ID), term) || strings.Contains(strings.ToLower(r.Neighborhood), term) {
			out = append(out, r)
		}
	}
	return out
}

// ParseSortKey maps a query value to a SortKey
func ParseSortKey(s string) (SortKey, bool) {
	switch SortKey(s) {
	case SortFillDesc, SortNeighborhood, SortCategory, SortLastEmptied:
		return SortKey(s), true
	}
	return "", false
}

// SortContainers returns a sorted copy. Fill sorts fullest first and last
// emptied sorts oldest first; ties fall back to id. Unknown keys keep input order.
func SortContainers(records []ContainerRecord, key SortKey) []ContainerRecord {
	out := copyContainers(records)

	var less func(a, b ContainerRecord) bool
	switch key {
	case SortFillDesc:
		less = func(a, b ContainerRecord) bool { return a.FillLevel > b.FillLevel }
	case SortNeighborhood:
		less = func(a, b ContainerRecord) bool { return a.Neighborhood < b.Neighborhood }
	case SortCategory:
		less = func(a, b ContainerRecord) bool { return a.Category < b.Category }
	case SortLastEmptied:
		less = func(a, b ContainerRecord) bool { return a.LastEmptied.Before(b.LastEmptied) }
	default:
		return out
	}

	sort.SliceStable(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Neighborhoods returns the distinct neighborhoods of records, sorted
func Neighborhoods(records []ContainerRecord) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, r := range records {
		if !seen[r.Neighborhood] {
			seen[r.Neighborhood] = true
			out = append(out, r.Neighborhood)
		}
	}
	sort.Strings(out)
	return out
}
