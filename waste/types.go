package waste

import (
	"strings"
	"time"
)

// Category is the canonical waste fraction of a container
type Category string

const (
	CategoryRecycling    Category = "Recycling"
	CategoryGeneralWaste Category = "General Waste"
	CategoryPaper        Category = "Paper/Carton"
	CategoryGlass        Category = "Glass"
	CategoryOrganic      Category = "Organic"
	CategoryPlastic      Category = "Plastic"
	CategoryUnknown      Category = "Unknown"
)

// Categories lists the known waste categories in display order (Unknown excluded).
var Categories = []Category{
	CategoryRecycling,
	CategoryGeneralWaste,
	CategoryPaper,
	CategoryGlass,
	CategoryOrganic,
	CategoryPlastic,
}

// IsCategory reports whether c is a known category or the Unknown fallback.
func IsCategory(c Category) bool {
	if c == CategoryUnknown {
		return true
	}
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// ContainerKind describes the physical receptacle
type ContainerKind string

const (
	KindUnderground ContainerKind = "Underground Container"
	KindSmartBin    ContainerKind = "Smart Bin"
	KindOpenBin     ContainerKind = "Open Bin"
	KindUnknownBin  ContainerKind = "Unknown"
)

// HasAccessState reports whether the kind has a lockable access point, i.e.
// whether Open/Closed is meaningful for it.
func (k ContainerKind) HasAccessState() bool {
	return k == KindUnderground || k == KindSmartBin
}

// IsContainerKind reports whether k is one of the defined kinds.
func IsContainerKind(k ContainerKind) bool {
	switch k {
	case KindUnderground, KindSmartBin, KindOpenBin, KindUnknownBin:
		return true
	}
	return false
}

// Status is the access state of a container
type Status string

const (
	StatusOpen          Status = "Open"
	StatusClosed        Status = "Closed"
	StatusNotApplicable Status = "N/A"
)

// ComplaintStatus is the handling state of a resident complaint
type ComplaintStatus string

const (
	ComplaintNew      ComplaintStatus = "New"
	ComplaintPending  ComplaintStatus = "Pending"
	ComplaintResolved ComplaintStatus = "Resolved"
)

// IssueType is the kind of problem a resident reports
type IssueType string

const (
	IssueContainerFull     IssueType = "Container full"
	IssueWasteNext         IssueType = "Waste next to container"
	IssueContainerBroken   IssueType = "Container broken"
	IssueSmartBinNotOpen   IssueType = "Smart bin not opening"
	IssueBadSmell          IssueType = "Bad smell"
	IssueIncorrectDisposal IssueType = "Incorrect waste disposal"
	IssueNotCollected      IssueType = "Waste not collected"
	IssueCollectionNoise   IssueType = "Noise during collection"
)

// IssueTypes lists every issue type accepted by complaint intake.
var IssueTypes = []IssueType{
	IssueContainerFull,
	IssueWasteNext,
	IssueContainerBroken,
	IssueSmartBinNotOpen,
	IssueBadSmell,
	IssueIncorrectDisposal,
	IssueNotCollected,
	IssueCollectionNoise,
}

// Neighborhood sentinels used when a record cannot be placed in a known neighborhood.
const (
	NeighborhoodCity    = "Amsterdam"
	NeighborhoodUnknown = "Unknown"
	NeighborhoodOther   = "Other area"
)

// ContainerRecord is the canonical representation of one physical bin.
// Coordinates are always stored as (Lat, Lon).
type ContainerRecord struct {
	ID           string        `json:"id" validate:"required"`
	Neighborhood string        `json:"neighborhood" validate:"required"`
	Lat          float64       `json:"lat" validate:"latitude"`
	Lon          float64       `json:"lon" validate:"longitude"`
	Category     Category      `json:"category" validate:"required,category"`
	Kind         ContainerKind `json:"kind" validate:"required,containerkind"`
	FillLevel    int           `json:"fillLevel" validate:"min=0,max=100"`
	Status       Status        `json:"status" validate:"oneof=Open Closed N/A"`
	LastEmptied  time.Time     `json:"lastEmptied"`
	CapacityKg   float64       `json:"capacityKg" validate:"gte=0"`
}

// CollectionEvent is the tonnage collected for one category on one day
type CollectionEvent struct {
	Date     time.Time `json:"date"`
	Category Category  `json:"category"`
	AmountKg float64   `json:"amountKg"`
}

// ComplaintRecord is a resident-reported issue. ContainerID is a weak
// reference by id; empty means the complaint is not linked to a container.
type ComplaintRecord struct {
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	Neighborhood string          `json:"neighborhood"`
	IssueType    IssueType       `json:"issueType"`
	Description  string          `json:"description"`
	Status       ComplaintStatus `json:"status"`
	ContainerID  string          `json:"containerId,omitempty"`
}

// NeighborhoodSummary is a derived per-neighborhood view; never persisted.
type NeighborhoodSummary struct {
	Neighborhood    string  `json:"neighborhood"`
	TotalContainers int     `json:"totalContainers"`
	SmartBins       int     `json:"smartBins"`
	AvgFillLevel    float64 `json:"avgFillLevel"`
	ComplaintCount  int     `json:"complaintCount"`
	RecyclingRate   float64 `json:"recyclingRate"` // placeholder, not a measured quantity
}

// RouteStop is one visit in a collection round
type RouteStop struct {
	Sequence    int     `json:"sequence"`
	ContainerID string  `json:"containerId"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	FillLevel   int     `json:"fillLevel"`
}

// Route is an ordered visiting sequence over containers of a single category
type Route struct {
	ID           string      `json:"id"`
	Category     Category    `json:"category"`
	Color        string      `json:"color"`
	Stops        []RouteStop `json:"stops"`
	LengthMeters float64     `json:"lengthMeters"`
}

// RouteSet is regenerated on every request; it is never cached.
type RouteSet struct {
	Routes      []Route   `json:"routes"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// DataSource identifies where the current container collection came from
type DataSource string

const (
	SourceLive      DataSource = "live"
	SourceCache     DataSource = "cache"
	SourceSynthetic DataSource = "synthetic"
	SourceNone      DataSource = "none"
)

// DataStatus describes the freshness of the container collection served to consumers.
// Stale is set when cached data was served because a refresh failed.
type DataStatus struct {
	Source    DataSource `json:"source"`
	Stale     bool       `json:"stale"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Dropped   int        `json:"dropped"`
	Error     string     `json:"error,omitempty"`
}

// ContainerSnapshot is a read-only copy of the canonical collection plus its status.
type ContainerSnapshot struct {
	Records []ContainerRecord `json:"records"`
	Status  DataStatus        `json:"status"`
}

// Dataset is a complete synthetic dataset
type Dataset struct {
	Containers []ContainerRecord
	Events     []CollectionEvent
	Complaints []ComplaintRecord
	Summaries  []NeighborhoodSummary
}

// categoryColors is the map palette per category (hex).
var categoryColors = map[Category]string{
	CategoryRecycling:    "#2E8B57",
	CategoryGeneralWaste: "#808080",
	CategoryPaper:        "#4682B4",
	CategoryGlass:        "#008080",
	CategoryOrganic:      "#8B4513",
	CategoryPlastic:      "#FFA500",
}

// CategoryColor returns the hex color used to draw a category
func CategoryColor(c Category) string {
	if hex, ok := categoryColors[c]; ok {
		return hex
	}
	return "#C8C8C8"
}

// slugify turns a neighborhood name into an id prefix ("Nieuw-West" -> "nieuw-west").
func slugify(name string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func copyContainers(in []ContainerRecord) []ContainerRecord {
	out := make([]ContainerRecord, len(in))
	copy(out, in)
	return out
}

func copyComplaints(in []ComplaintRecord) []ComplaintRecord {
	out := make([]ComplaintRecord, len(in))
	copy(out, in)
	return out
}

func copyEvents(in []CollectionEvent) []CollectionEvent {
	out := make([]CollectionEvent, len(in))
	copy(out, in)
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
