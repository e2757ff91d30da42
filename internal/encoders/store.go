// Package encoders loads and serves the encoder tables fitted at training
// time. The tables are immutable after load and shared read-only by all
// concurrent requests; training/serving parity depends on them never being
// mutated in place.
package encoders

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MetadataFile is the artifact bundle member holding the fitted state
const MetadataFile = "metadata.json"

// UnknownToken is the reserved token empty or missing strings normalize to
const UnknownToken = "unknown"

// UnseenCategoryCode is the label code assigned to out-of-vocabulary values
const UnseenCategoryCode = -1

// MinFrequency is the occurrence count assigned to categories absent from a
// fitted frequency table. It matches what the fitting pipeline assigned to
// singletons, so unseen values score like the rarest seen ones.
const MinFrequency = 1

// metadata mirrors the artifact bundle's metadata.json
type metadata struct {
	ModelName   string             `json:"model_name"`
	Version     string             `json:"version"`
	FeatureCols []string           `json:"feature_cols"`
	Metrics     map[string]float64 `json:"metrics"`

	CountryCounts map[string]float64 `json:"country_value_counts"`
	RegionCounts  map[string]float64 `json:"country_region_value_counts"`
	DeviceCounts  map[string]float64 `json:"device_family_value_counts"`
	CountryMean   map[string]float64 `json:"country_mean_revenue"`

	SourceClasses   []string `json:"source_classes"`
	PlatformClasses []string `json:"platform_classes"`
}

// Tables holds the fitted encoder state. Produced offline, loaded once at
// process start, never mutated afterwards.
type Tables struct {
	modelName   string
	version     string
	featureCols []string
	metrics     map[string]float64

	countryCounts map[string]float64
	regionCounts  map[string]float64
	deviceCounts  map[string]float64

	countryMean       map[string]float64
	globalMeanRevenue float64

	sourceCodes   map[string]int
	platformCodes map[string]int
}

// Load reads and validates the fitted encoder tables from an artifact bundle
// directory. A missing or empty required table is fatal; the process must not
// start without a complete encoder state.
func Load(bundleDir string) (*Tables, error) {
	path := filepath.Join(bundleDir, MetadataFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoder metadata: %w", err)
	}

	var md metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to decode encoder metadata: %w", err)
	}

	return fromMetadata(&md)
}

func fromMetadata(md *metadata) (*Tables, error) {
	required := map[string]int{
		"feature_cols":                len(md.FeatureCols),
		"country_value_counts":        len(md.CountryCounts),
		"country_region_value_counts": len(md.RegionCounts),
		"device_family_value_counts":  len(md.DeviceCounts),
		"country_mean_revenue":        len(md.CountryMean),
		"source_classes":              len(md.SourceClasses),
		"platform_classes":            len(md.PlatformClasses),
	}
	var missing []string
	for name, n := range required {
		if n == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("encoder metadata is missing required tables: %s", strings.Join(missing, ", "))
	}

	t := &Tables{
		modelName:     md.ModelName,
		version:       md.Version,
		featureCols:   append([]string(nil), md.FeatureCols...),
		metrics:       copyMap(md.Metrics),
		countryCounts: normalizeKeys(md.CountryCounts),
		regionCounts:  normalizeKeys(md.RegionCounts),
		deviceCounts:  normalizeKeys(md.DeviceCounts),
		countryMean:   normalizeKeys(md.CountryMean),
		sourceCodes:   classCodes(md.SourceClasses),
		platformCodes: classCodes(md.PlatformClasses),
	}

	// The fallback for countries outside the fitted table is the mean of
	// the fitted per-country means, computed once here so every request
	// sees the identical value.
	var sum float64
	for _, v := range t.countryMean {
		sum += v
	}
	t.globalMeanRevenue = sum / float64(len(t.countryMean))

	return t, nil
}

// NormalizeToken trims and case-folds a raw categorical value the same way
// the fitting pipeline did. Empty input maps to the reserved unknown token.
func NormalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return UnknownToken
	}
	return s
}

// ModelName reports the fitted model's name
func (t *Tables) ModelName() string { return t.modelName }

// Version reports the artifact bundle version
func (t *Tables) Version() string { return t.version }

// FeatureCols returns the ordered feature schema the model was trained on
func (t *Tables) FeatureCols() []string {
	return append([]string(nil), t.featureCols...)
}

// Metrics returns the fitted training metrics (test_mae, test_rmse, test_r2)
func (t *Tables) Metrics() map[string]float64 {
	return copyMap(t.metrics)
}

// CountryFrequency looks up the fitted occurrence count for a country
func (t *Tables) CountryFrequency(token string) float64 {
	return frequency(t.countryCounts, token)
}

// RegionFrequency looks up the fitted occurrence count for a country region
func (t *Tables) RegionFrequency(token string) float64 {
	return frequency(t.regionCounts, token)
}

// DeviceFrequency looks up the fitted occurrence count for a device family
func (t *Tables) DeviceFrequency(token string) float64 {
	return frequency(t.deviceCounts, token)
}

// CountryMeanRevenue looks up the fitted target encoding for a country.
// Unseen countries resolve to the fitted global mean, never to an error.
func (t *Tables) CountryMeanRevenue(token string) float64 {
	if v, ok := t.countryMean[token]; ok {
		return v
	}
	return t.globalMeanRevenue
}

// GlobalMeanRevenue returns the fallback target-encoding value
func (t *Tables) GlobalMeanRevenue() float64 { return t.globalMeanRevenue }

// SourceCode maps a source token to its fitted label code
func (t *Tables) SourceCode(token string) int {
	return labelCode(t.sourceCodes, token)
}

// PlatformCode maps a platform token to its fitted label code
func (t *Tables) PlatformCode(token string) int {
	return labelCode(t.platformCodes, token)
}

// TracksEvent3Presence reports whether the fitted schema expects a separate
// presence indicator for the optional third event counter.
func (t *Tables) TracksEvent3Presence() bool {
	for _, col := range t.featureCols {
		if col == "event_3_present" {
			return true
		}
	}
	return false
}

func frequency(table map[string]float64, token string) float64 {
	if v, ok := table[token]; ok {
		return v
	}
	return MinFrequency
}

func labelCode(codes map[string]int, token string) int {
	if code, ok := codes[token]; ok {
		return code
	}
	return UnseenCategoryCode
}

// normalizeKeys rebuilds a fitted table with trimmed, case-folded keys so
// that serving-time lookups after NormalizeToken hit the same entries the
// fitting pipeline produced.
func normalizeKeys(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[NormalizeToken(k)] = v
	}
	return out
}

func classCodes(classes []string) map[string]int {
	codes := make(map[string]int, len(classes))
	for i, class := range classes {
		codes[NormalizeToken(class)] = i
	}
	return codes
}

func copyMap(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
