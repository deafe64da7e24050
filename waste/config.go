package waste

import (
	"time"

	"github.com/paulmach/orb"
)

// DefaultSourceURL is the Amsterdam open-data endpoint for household waste containers.
const DefaultSourceURL = "https://api.data.amsterdam.nl/v1/huishoudelijkafval/container/?_format=geojson&_pageSize=10000"

// Run modes
const (
	ModeLive      = "live"
	ModeSynthetic = "synthetic"
)

// Config represents the full configuration file
type Config struct {
	Mode                string             `yaml:"mode" json:"mode"`
	FallbackToSynthetic bool               `yaml:"fallbackToSynthetic" json:"fallbackToSynthetic"`
	Source              SourceConfig       `yaml:"source" json:"source"`
	Cache               CacheConfig        `yaml:"cache" json:"cache"`
	Neighborhoods       NeighborhoodConfig `yaml:"neighborhoods" json:"neighborhoods"`
	Generator           GeneratorConfig    `yaml:"generator" json:"generator"`
	Metrics             MetricsConfig      `yaml:"metrics" json:"metrics"`
	Routes              RoutesConfig       `yaml:"routes" json:"routes"`
	MQTT                MQTTConfig         `yaml:"mqtt" json:"mqtt"`
	HTTP                HTTPConfig         `yaml:"http" json:"http"`
}

// SourceConfig holds the remote GeoJSON endpoint settings
type SourceConfig struct {
	URL        string        `yaml:"url" json:"url"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"maxRetries" json:"maxRetries"`
}

// CacheConfig holds the local cache layout
type CacheConfig struct {
	Dir       string `yaml:"dir" json:"dir"`
	RawFile   string `yaml:"rawFile" json:"rawFile"`
	TableFile string `yaml:"tableFile" json:"tableFile"`
}

// GeoPoint is a (lat, lon) pair in config files
type GeoPoint struct {
	Lat float64 `yaml:"lat" json:"lat"`
	Lon float64 `yaml:"lon" json:"lon"`
}

// NeighborhoodConfig lists the known neighborhoods and their fill tiers.
// Neighborhoods in neither tier list are "moderate".
type NeighborhoodConfig struct {
	Known           []string `yaml:"known" json:"known"`
	RecentlyEmptied []string `yaml:"recentlyEmptied" json:"recentlyEmptied"`
	NeedsAttention  []string `yaml:"needsAttention" json:"needsAttention"`
	Center          GeoPoint `yaml:"center" json:"center"`
	// SouthWest/NorthEast bound the city; used to detect reversed coordinates.
	SouthWest GeoPoint `yaml:"southWest" json:"southWest"`
	NorthEast GeoPoint `yaml:"northEast" json:"northEast"`
}

// GeneratorConfig shapes the synthetic dataset
type GeneratorConfig struct {
	Seed           int64 `yaml:"seed" json:"seed"` // 0 seeds from the clock
	MinContainers  int   `yaml:"minContainers" json:"minContainers"`
	MaxContainers  int   `yaml:"maxContainers" json:"maxContainers"`
	ComplaintCount int   `yaml:"complaintCount" json:"complaintCount"`
	HistoryDays    int   `yaml:"historyDays" json:"historyDays"`
}

// MetricsConfig holds memoization and presentation defaults
type MetricsConfig struct {
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
	TopN      int           `yaml:"topN" json:"topN"`
	TrendDays int           `yaml:"trendDays" json:"trendDays"`
}

// RoutesConfig holds route builder defaults
type RoutesConfig struct {
	MaxRoutes int `yaml:"maxRoutes" json:"maxRoutes"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
}

// HTTPConfig holds the query API listener settings
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// DefaultNeighborhoods is the Amsterdam neighborhood set.
var DefaultNeighborhoods = []string{
	"Centrum",
	"Noord",
	"West",
	"Nieuw-West",
	"Zuid",
	"Oost",
	"Zuidoost",
	"Westpoort",
	"Weesp",
	"IJburg",
	"De Pijp",
	"Jordaan",
	"Oud-West",
	"Bos en Lommer",
	"Oud-Zuid",
}

// DefaultConfig returns a configuration that works without a config file.
func DefaultConfig() *Config {
	return &Config{
		Mode:                ModeLive,
		FallbackToSynthetic: true,
		Source: SourceConfig{
			URL:        DefaultSourceURL,
			Timeout:    DefaultFetchTimeout,
			MaxRetries: DefaultMaxRetries,
		},
		Cache: CacheConfig{
			Dir:       "data",
			RawFile:   "containers_raw.geojson",
			TableFile: "containers.json",
		},
		Neighborhoods: NeighborhoodConfig{
			Known:           append([]string(nil), DefaultNeighborhoods...),
			RecentlyEmptied: []string{"Zuid", "Oud-Zuid", "IJburg", "Weesp"},
			NeedsAttention:  []string{"Centrum", "De Pijp", "Jordaan", "Oud-West"},
			Center:          GeoPoint{Lat: 52.3676, Lon: 4.9041},
			SouthWest:       GeoPoint{Lat: 52.27, Lon: 4.72},
			NorthEast:       GeoPoint{Lat: 52.44, Lon: 5.10},
		},
		Generator: GeneratorConfig{
			MinContainers:  5,
			MaxContainers:  20,
			ComplaintCount: 50,
			HistoryDays:    30,
		},
		Metrics: MetricsConfig{
			TTL:       DefaultMetricsTTL,
			TopN:      10,
			TrendDays: 10,
		},
		Routes: RoutesConfig{MaxRoutes: DefaultRouteBudget},
		MQTT: MQTTConfig{
			PublishPrefix: "binwatch",
			ClientID:      "binwatch",
		},
		HTTP: HTTPConfig{Port: 8080},
	}
}

// IsKnown reports whether name is one of the configured neighborhoods
func (nc NeighborhoodConfig) IsKnown(name string) bool {
	return contains(nc.Known, name)
}

// IsAllowed reports whether name is a known neighborhood or a sentinel
func (nc NeighborhoodConfig) IsAllowed(name string) bool {
	switch name {
	case NeighborhoodCity, NeighborhoodUnknown, NeighborhoodOther:
		return true
	}
	return nc.IsKnown(name)
}

// Tier returns the fill tier a neighborhood belongs to
func (nc NeighborhoodConfig) Tier(name string) FillTier {
	switch {
	case contains(nc.NeedsAttention, name):
		return TierNeedsAttention
	case contains(nc.RecentlyEmptied, name):
		return TierRecentlyEmptied
	default:
		return TierModerate
	}
}

// Bound returns the city bounding box in orb (lon, lat) order.
func (nc NeighborhoodConfig) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{nc.SouthWest.Lon, nc.SouthWest.Lat},
		Max: orb.Point{nc.NorthEast.Lon, nc.NorthEast.Lat},
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
