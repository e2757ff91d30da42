// Package features turns a raw user record into the fixed-order numeric
// vector the fitted model expects. The transform is pure given immutable
// encoder state; running it offline and online over the same record and
// tables must produce bit-identical vectors.
package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/playmetrics/revpredict/internal/encoders"
	"github.com/playmetrics/revpredict/internal/errors"
	"github.com/playmetrics/revpredict/internal/types"
)

// Vector is an ordered numeric feature vector. Its length and positional
// schema are fixed by the loaded encoder tables for the process lifetime.
type Vector []float64

// Transform converts a raw record into a feature vector using the fitted
// encoder tables. Missing required fields are a hard validation error;
// every other anomaly (unseen category, malformed version string, absent
// optional counter) degrades to a documented default.
func Transform(rec types.RawUserRecord, enc *encoders.Tables) (Vector, error) {
	if err := validateRequired(rec); err != nil {
		return nil, err
	}

	d := derive(rec, enc)

	cols := enc.FeatureCols()
	vec := make(Vector, len(cols))
	for i, col := range cols {
		v, ok := d.feature(col)
		if !ok {
			// ValidateSchema rejects unknown feature names at load, so
			// hitting this at request time means the store was bypassed.
			return nil, errors.NewSchemaMismatchError(
				fmt.Sprintf("feature %q is not computable", col), nil)
		}
		vec[i] = v
	}

	return vec, nil
}

// ValidateSchema confirms every feature name in the fitted schema is one the
// transform knows how to compute. A mismatch is fatal at startup, never a
// per-request error.
func ValidateSchema(enc *encoders.Tables) error {
	var rec types.RawUserRecord
	derived := derive(rec, enc)

	var unknown []string
	for _, col := range enc.FeatureCols() {
		if _, ok := derived.feature(col); !ok {
			unknown = append(unknown, col)
		}
	}
	if len(unknown) > 0 {
		return errors.NewSchemaMismatchError(
			fmt.Sprintf("encoder schema names unknown features: %s", strings.Join(unknown, ", ")), nil)
	}
	return nil
}

func validateRequired(rec types.RawUserRecord) error {
	var missing []string
	if strings.TrimSpace(rec.Country) == "" {
		missing = append(missing, "country")
	}
	if strings.TrimSpace(rec.Platform) == "" {
		missing = append(missing, "platform")
	}
	if rec.Event1 == nil {
		missing = append(missing, "event_1")
	}
	if rec.Event2 == nil {
		missing = append(missing, "event_2")
	}
	if len(missing) > 0 {
		return errors.NewValidationError("missing required fields", missing...)
	}

	var negative []string
	if *rec.Event1 < 0 {
		negative = append(negative, "event_1")
	}
	if *rec.Event2 < 0 {
		negative = append(negative, "event_2")
	}
	if rec.Event3 != nil && *rec.Event3 < 0 {
		negative = append(negative, "event_3")
	}
	if len(negative) > 0 {
		return errors.NewValidationError("event counts must be non-negative", negative...)
	}

	return nil
}

// derived holds every intermediate value the feature schema can reference
type derived struct {
	event1, event2, event3 float64
	event3Present          float64
	totalEvents            float64

	countryFreq, regionFreq, deviceFreq float64
	countryMeanRevenue                  float64
	sourceCode, platformCode            float64
	osMajor, osMinor                    float64
}

func derive(rec types.RawUserRecord, enc *encoders.Tables) derived {
	var d derived

	if rec.Event1 != nil {
		d.event1 = *rec.Event1
	}
	if rec.Event2 != nil {
		d.event2 = *rec.Event2
	}
	// Absent event_3 contributes zero to every derived sum; the presence
	// indicator is the only feature that tells the two cases apart, and it
	// is emitted only when the fitted schema declares it.
	if rec.Event3 != nil {
		d.event3 = *rec.Event3
		d.event3Present = 1
	}
	d.totalEvents = d.event1 + d.event2 + d.event3

	country := encoders.NormalizeToken(rec.Country)
	region := encoders.NormalizeToken(rec.CountryRegion)
	device := encoders.NormalizeToken(rec.DeviceFamily)
	source := encoders.NormalizeToken(rec.Source)
	platform := encoders.NormalizeToken(rec.Platform)

	d.countryFreq = enc.CountryFrequency(country)
	d.regionFreq = enc.RegionFrequency(region)
	d.deviceFreq = enc.DeviceFrequency(device)
	d.countryMeanRevenue = enc.CountryMeanRevenue(country)
	d.sourceCode = float64(enc.SourceCode(source))
	d.platformCode = float64(enc.PlatformCode(platform))

	d.osMajor, d.osMinor = ParseOSVersion(rec.OSVersion)

	return d
}

// feature computes a single named feature. The bool reports whether the
// name is part of the transform's vocabulary.
func (d *derived) feature(name string) (float64, bool) {
	switch name {
	case "event_1":
		return d.event1, true
	case "event_2":
		return d.event2, true
	case "event_3":
		return d.event3, true
	case "event_3_present":
		return d.event3Present, true
	case "total_events":
		return d.totalEvents, true
	case "event_1_ratio":
		return ratio(d.event1, d.totalEvents), true
	case "event_2_ratio":
		return ratio(d.event2, d.totalEvents), true
	case "event_3_ratio":
		return ratio(d.event3, d.totalEvents), true
	case "event_1_log":
		return log1p(d.event1), true
	case "event_2_log":
		return log1p(d.event2), true
	case "event_3_log":
		return log1p(d.event3), true
	case "total_events_log":
		return log1p(d.totalEvents), true
	case "country_freq":
		return d.countryFreq, true
	case "country_region_freq":
		return d.regionFreq, true
	case "device_family_freq":
		return d.deviceFreq, true
	case "country_mean_revenue":
		return d.countryMeanRevenue, true
	case "source_encoded":
		return d.sourceCode, true
	case "platform_encoded":
		return d.platformCode, true
	case "os_major":
		return d.osMajor, true
	case "os_minor":
		return d.osMinor, true
	default:
		return 0, false
	}
}

// log1p keeps log-scaled counter features defined at zero
func log1p(x float64) float64 {
	return math.Log1p(x)
}

// ratio guards the per-event share against an empty session
func ratio(part, total float64) float64 {
	if total == 0 {
		return 0
	}
	return part / total
}

// ParseOSVersion splits a dotted version string into numeric major/minor
// components. Malformed or non-numeric segments default to 0 rather than
// failing the whole transform.
func ParseOSVersion(v string) (major, minor float64) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, 0
	}

	parts := strings.SplitN(v, ".", 3)
	major = numericPrefix(parts[0])
	if len(parts) > 1 {
		minor = numericPrefix(parts[1])
	}
	return major, minor
}

// numericPrefix parses the leading digits of a version segment, so "14",
// "14beta" and "14-1" all read as 14 while "beta" reads as 0.
func numericPrefix(s string) float64 {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return n
}
