// Package validate holds the stateless, per-field sanity checks
// applied to every candidate measurement, plus mobile-hotspot OUI
// detection.
package validate

import (
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/route-beacon/wifi-transformer/internal/scandata"
)

var bssidPattern = regexp.MustCompile(`^[0-9a-f]{2}(:[0-9a-f]{2}){5}$`)

const (
	allZerosBSSID  = "00:00:00:00:00:00"
	broadcastBSSID = "ff:ff:ff:ff:ff:ff"
)

// Counters tracks pass/fail totals for each predicate, atomically.
// A zero-value Counters is ready to use.
type Counters struct {
	LocationPass, LocationFail   int64
	RSSIPass, RSSIFail           int64
	BSSIDPass, BSSIDFail         int64
	TimestampPass, TimestampFail int64
}

// Limits carries the configured bounds a Validator checks against.
type Limits struct {
	MinRSSI             int
	MaxRSSI             int
	MaxLocationAccuracy float64
}

// HotspotAction is the configured response to a detected mobile
// hotspot OUI.
type HotspotAction string

const (
	ActionExclude HotspotAction = "EXCLUDE"
	ActionFlag    HotspotAction = "FLAG"
)

// HotspotConfig configures mobile-hotspot OUI detection.
type HotspotConfig struct {
	Enabled   bool
	Blacklist map[string]struct{}
	Action    HotspotAction
}

// HotspotResult is the outcome of DetectMobileHotspot.
type HotspotResult struct {
	Checked  bool
	Detected bool
	OUI      string
	Action   HotspotAction
}

// Validator bundles the configured limits, hotspot config, and shared
// counters used across one pipeline instance.
type Validator struct {
	Limits  Limits
	Hotspot HotspotConfig
	Counts  Counters
}

// New builds a Validator from the configured limits and hotspot
// blacklist (already normalized to uppercase "XX:XX:XX" form by the
// caller).
func New(limits Limits, hotspot HotspotConfig) *Validator {
	return &Validator{Limits: limits, Hotspot: hotspot}
}

// ValidateLocation reports whether loc is present, has in-range
// coordinates, and (if set) an accuracy within the configured max.
func (v *Validator) ValidateLocation(loc *scandata.LocationData) bool {
	ok := loc != nil && loc.HasValidCoordinates() && (loc.Accuracy == nil || *loc.Accuracy <= v.Limits.MaxLocationAccuracy)
	if ok {
		atomic.AddInt64(&v.Counts.LocationPass, 1)
	} else {
		atomic.AddInt64(&v.Counts.LocationFail, 1)
	}
	return ok
}

// ValidateRSSI reports whether rssi falls within [MinRSSI, MaxRSSI].
func (v *Validator) ValidateRSSI(rssi *int) bool {
	ok := rssi != nil && *rssi >= v.Limits.MinRSSI && *rssi <= v.Limits.MaxRSSI
	if ok {
		atomic.AddInt64(&v.Counts.RSSIPass, 1)
	} else {
		atomic.AddInt64(&v.Counts.RSSIFail, 1)
	}
	return ok
}

// NormalizeBSSID lowercases s and replaces "-" with ":", without
// validating its shape.
func NormalizeBSSID(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", ":"))
}

// ValidateBSSID normalizes s and reports whether the result matches
// the MAC-address shape and is neither all-zeros nor broadcast. The
// normalized value is always returned so callers can use it even on
// failure for logging.
func (v *Validator) ValidateBSSID(s string) (normalized string, ok bool) {
	normalized = NormalizeBSSID(s)
	ok = bssidPattern.MatchString(normalized) && normalized != allZerosBSSID && normalized != broadcastBSSID
	if ok {
		atomic.AddInt64(&v.Counts.BSSIDPass, 1)
	} else {
		atomic.AddInt64(&v.Counts.BSSIDFail, 1)
	}
	return normalized, ok
}

// ValidateTimestamp reports whether ms (epoch milliseconds) is
// present, not in the future, and no older than 365 days relative to
// now.
func (v *Validator) ValidateTimestamp(ms *int64, now time.Time) bool {
	ok := false
	if ms != nil {
		t := time.UnixMilli(*ms)
		ok = !t.After(now) && !t.Before(now.Add(-365*24*time.Hour))
	}
	if ok {
		atomic.AddInt64(&v.Counts.TimestampPass, 1)
	} else {
		atomic.AddInt64(&v.Counts.TimestampFail, 1)
	}
	return ok
}

// DetectMobileHotspot extracts the OUI (first three octets, uppercase
// "XX:XX:XX") from a normalized bssid and checks it against the
// configured blacklist. Returns Checked=false when detection is
// disabled.
func (v *Validator) DetectMobileHotspot(normalizedBSSID string) HotspotResult {
	if !v.Hotspot.Enabled {
		return HotspotResult{Checked: false}
	}
	parts := strings.SplitN(normalizedBSSID, ":", 4)
	if len(parts) < 4 {
		return HotspotResult{Checked: true}
	}
	oui := strings.ToUpper(strings.Join(parts[:3], ":"))
	if _, found := v.Hotspot.Blacklist[oui]; !found {
		return HotspotResult{Checked: true}
	}
	return HotspotResult{Checked: true, Detected: true, OUI: oui, Action: v.Hotspot.Action}
}
