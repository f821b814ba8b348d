// Package transform flattens a parsed ScanData document into the
// sequence of normalized Measurement records the rest of the pipeline
// publishes.
package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/route-beacon/wifi-transformer/internal/measurement"
	"github.com/route-beacon/wifi-transformer/internal/metrics"
	"github.com/route-beacon/wifi-transformer/internal/scandata"
	"github.com/route-beacon/wifi-transformer/internal/validate"
	"go.uber.org/zap"
)

// Weights carries the configured quality-weight constants.
type Weights struct {
	Connected    float64
	Scan         float64
	LowLinkSpeed float64
}

// Transformer turns one ScanData document into zero or more
// Measurements. It is stateless aside from its injected Validator and
// is safe to share across workers.
type Transformer struct {
	validator *validate.Validator
	weights   Weights
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a Transformer. nowFn defaults to time.Now when nil; tests
// pass a frozen clock for determinism.
func New(validator *validate.Validator, weights Weights, logger *zap.Logger, nowFn func() time.Time) *Transformer {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Transformer{validator: validator, weights: weights, logger: logger, now: nowFn}
}

// Transform flattens sd into Measurements, stamping every record with
// batchID (the calling worker's processing-batch id). Per-record
// panics are recovered and logged; they do not abort sibling records.
func (t *Transformer) Transform(sd *scandata.ScanData, batchID string) []measurement.Measurement {
	ingestionTime := t.now()
	deviceID := computeDeviceID(sd.Manufacturer, sd.Model, sd.Device, sd.OSVersion)

	out := make([]measurement.Measurement, 0, len(sd.ConnectedEvents)+len(sd.ScanResults))

	for i := range sd.ConnectedEvents {
		ev := &sd.ConnectedEvents[i]
		m, ok := t.safeConnected(sd, ev, deviceID, batchID, ingestionTime)
		if ok {
			out = append(out, m)
		}
	}

	for i := range sd.ScanResults {
		sr := &sd.ScanResults[i]
		for j := range sr.Results {
			entry := &sr.Results[j]
			m, ok := t.safeScan(sd, sr, entry, deviceID, batchID, ingestionTime)
			if ok {
				out = append(out, m)
			}
		}
	}

	return out
}

func (t *Transformer) safeConnected(sd *scandata.ScanData, ev *scandata.ConnectedEvent, deviceID, batchID string, ingestionTime time.Time) (m measurement.Measurement, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic transforming connected event", zap.Any("recover", r), zap.String("event_id", ev.EventID))
			ok = false
		}
	}()
	return t.connectedMeasurement(sd, ev, deviceID, batchID, ingestionTime)
}

func (t *Transformer) safeScan(sd *scandata.ScanData, sr *scandata.ScanResult, entry *scandata.ScanEntry, deviceID, batchID string, ingestionTime time.Time) (m measurement.Measurement, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic transforming scan entry", zap.Any("recover", r), zap.String("bssid", entry.BSSID))
			ok = false
		}
	}()
	return t.scanMeasurement(sd, sr, entry, deviceID, batchID, ingestionTime)
}

func (t *Transformer) connectedMeasurement(sd *scandata.ScanData, ev *scandata.ConnectedEvent, deviceID, batchID string, ingestionTime time.Time) (measurement.Measurement, bool) {
	if ev.WifiInfo == nil {
		return measurement.Measurement{}, false
	}
	info := ev.WifiInfo

	normalized, bssidOK := t.validator.ValidateBSSID(info.BSSID)
	rssi := info.RSSI
	if !bssidOK || !t.validator.ValidateRSSI(&rssi) || !t.validator.ValidateLocation(ev.Location) {
		metrics.RecordsDroppedTotal.WithLabelValues("validation").Inc()
		return measurement.Measurement{}, false
	}
	if !t.validator.ValidateTimestamp(&ev.Timestamp, ingestionTime) {
		metrics.RecordsDroppedTotal.WithLabelValues("timestamp").Inc()
		return measurement.Measurement{}, false
	}

	hotspot := t.validator.DetectMobileHotspot(normalized)
	if hotspot.Detected {
		metrics.HotspotDetectionsTotal.WithLabelValues(string(hotspot.Action)).Inc()
		if hotspot.Action == validate.ActionExclude {
			metrics.RecordsDroppedTotal.WithLabelValues("hotspot").Inc()
			return measurement.Measurement{}, false
		}
	}

	weight := t.weights.Connected
	if info.LinkSpeed != nil && *info.LinkSpeed < 50 && info.RSSI > -70 {
		weight = t.weights.LowLinkSpeed
	}

	loc := ev.Location
	m := measurement.Measurement{
		BSSID:                normalized,
		MeasurementTimestamp: ev.Timestamp,
		EventID:              ev.EventID,
		DeviceID:             deviceID,
		DeviceModel:          sd.Model,
		DeviceManufacturer:   sd.Manufacturer,
		OSVersion:            sd.OSVersion,
		AppVersion:           sd.AppNameVersion,
		Latitude:             loc.Latitude,
		Longitude:            loc.Longitude,
		Altitude:             loc.Altitude,
		LocationAccuracy:     loc.Accuracy,
		LocationTimestamp:    loc.Time,
		LocationProvider:     loc.Provider,
		LocationSource:       loc.Source,
		Speed:                loc.Speed,
		Bearing:              loc.Bearing,
		SSID:                 cleanSSID(info.SSID),
		RSSI:                 info.RSSI,
		Frequency:            info.Frequency,
		ScanTimestamp:        ev.Timestamp,
		ConnectionStatus:     measurement.StatusConnected,
		QualityWeight:        weight,
		LinkSpeed:            info.LinkSpeed,
		ChannelWidth:         info.ChannelWidth,
		CenterFreq0:          info.CenterFreq0,
		CenterFreq1:          info.CenterFreq1,
		Capabilities:         info.Capabilities,
		Is80211mcResponder:   info.Is80211mcResponder,
		IsPasspointNetwork:   info.IsPasspointNetwork,
		OperatorFriendlyName: info.OperatorFriendlyName,
		VenueName:            info.VenueName,
		IsCaptive:            ev.IsCaptive,
		NumScanResults:       info.NumOfScanResults,
		IngestionTimestamp:   ingestionTime,
		DataVersion:          sd.DataVersion,
		ProcessingBatchID:    batchID,
	}
	m.QualityScore = qualityScore(loc.Accuracy, &info.RSSI)
	return m, true
}

func (t *Transformer) scanMeasurement(sd *scandata.ScanData, sr *scandata.ScanResult, entry *scandata.ScanEntry, deviceID, batchID string, ingestionTime time.Time) (measurement.Measurement, bool) {
	normalized, bssidOK := t.validator.ValidateBSSID(entry.BSSID)
	rssi := entry.RSSI
	if !bssidOK || !t.validator.ValidateRSSI(&rssi) || !t.validator.ValidateLocation(sr.Location) {
		metrics.RecordsDroppedTotal.WithLabelValues("validation").Inc()
		return measurement.Measurement{}, false
	}
	if !t.validator.ValidateTimestamp(&entry.ScanTime, ingestionTime) {
		metrics.RecordsDroppedTotal.WithLabelValues("timestamp").Inc()
		return measurement.Measurement{}, false
	}

	hotspot := t.validator.DetectMobileHotspot(normalized)
	if hotspot.Detected {
		metrics.HotspotDetectionsTotal.WithLabelValues(string(hotspot.Action)).Inc()
		if hotspot.Action == validate.ActionExclude {
			metrics.RecordsDroppedTotal.WithLabelValues("hotspot").Inc()
			return measurement.Measurement{}, false
		}
	}

	loc := sr.Location
	m := measurement.Measurement{
		BSSID:                normalized,
		MeasurementTimestamp: entry.ScanTime,
		EventID:              computeScanEventID(entry.ScanTime, normalized),
		DeviceID:             deviceID,
		DeviceModel:          sd.Model,
		DeviceManufacturer:   sd.Manufacturer,
		OSVersion:            sd.OSVersion,
		AppVersion:           sd.AppNameVersion,
		Latitude:             loc.Latitude,
		Longitude:            loc.Longitude,
		Altitude:             loc.Altitude,
		LocationAccuracy:     loc.Accuracy,
		LocationTimestamp:    loc.Time,
		LocationProvider:     loc.Provider,
		LocationSource:       loc.Source,
		Speed:                loc.Speed,
		Bearing:              loc.Bearing,
		SSID:                 cleanSSID(entry.SSID),
		RSSI:                 entry.RSSI,
		Frequency:            entry.Frequency,
		ScanTimestamp:        entry.ScanTime,
		ConnectionStatus:     measurement.StatusScan,
		QualityWeight:        t.weights.Scan,
		IngestionTimestamp:   ingestionTime,
		DataVersion:          sd.DataVersion,
		ProcessingBatchID:    batchID,
	}
	m.QualityScore = qualityScore(loc.Accuracy, &entry.RSSI)
	return m, true
}

// computeDeviceID hashes the device-identity components, treating any
// missing component as an empty string. Deterministic: the same
// metadata always yields the same device_id.
func computeDeviceID(manufacturer, model, device, osVersion string) string {
	joined := strings.Join([]string{manufacturer, model, device, osVersion}, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// computeScanEventID hashes "{timestamp}:{bssid}" for a scan entry.
// Intentionally not de-duplicated: the same BSSID appearing twice in
// one scan collides.
func computeScanEventID(timestamp int64, normalizedBSSID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", timestamp, normalizedBSSID)))
	return hex.EncodeToString(sum[:])
}

// cleanSSID strips NUL bytes and surrounding whitespace; an empty
// result maps to nil.
func cleanSSID(ssid string) *string {
	cleaned := strings.TrimSpace(strings.ReplaceAll(ssid, "\x00", ""))
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

// qualityScore computes clamp01(0.5 + 0.3*max(0,1-accuracy/100) +
// 0.2*max(0,(rssi+100)/100)), omitting a term when its input is
// missing.
func qualityScore(accuracy *float64, rssi *int) float64 {
	score := 0.5
	if accuracy != nil {
		term := 1 - *accuracy/100
		if term > 0 {
			score += 0.3 * term
		}
	}
	if rssi != nil {
		term := (float64(*rssi) + 100) / 100
		if term > 0 {
			score += 0.2 * term
		}
	}
	if score < 0.5 {
		return 0.5
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}
