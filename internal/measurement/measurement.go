// Package measurement defines the flat, normalized per-BSSID output
// record that the transformer pipeline emits.
package measurement

import "time"

// ConnectionStatus identifies whether a Measurement originated from a
// ConnectedEvent or a ScanResult entry.
type ConnectionStatus string

const (
	StatusConnected ConnectionStatus = "CONNECTED"
	StatusScan      ConnectionStatus = "SCAN"
)

// Measurement is one flattened, validated access-point observation.
// Connected-only fields are left nil on SCAN rows.
type Measurement struct {
	BSSID                string `json:"bssid"`
	MeasurementTimestamp int64  `json:"measurement_timestamp"`
	EventID              string `json:"event_id"`

	DeviceID           string `json:"device_id"`
	DeviceModel        string `json:"device_model"`
	DeviceManufacturer string `json:"device_manufacturer"`
	OSVersion          string `json:"os_version"`
	AppVersion         string `json:"app_version"`

	Latitude          float64  `json:"latitude"`
	Longitude         float64  `json:"longitude"`
	Altitude          *float64 `json:"altitude"`
	LocationAccuracy  *float64 `json:"location_accuracy"`
	LocationTimestamp *int64   `json:"location_timestamp"`
	LocationProvider  *string  `json:"location_provider"`
	LocationSource    *string  `json:"location_source"`
	Speed             *float64 `json:"speed"`
	Bearing           *float64 `json:"bearing"`

	SSID          *string `json:"ssid"`
	RSSI          int     `json:"rssi"`
	Frequency     *int    `json:"frequency"`
	ScanTimestamp int64   `json:"scan_timestamp"`

	ConnectionStatus ConnectionStatus `json:"connection_status"`
	QualityWeight    float64          `json:"quality_weight"`

	LinkSpeed            *int    `json:"link_speed"`
	ChannelWidth         *int    `json:"channel_width"`
	CenterFreq0          *int    `json:"center_freq0"`
	CenterFreq1          *int    `json:"center_freq1"`
	Capabilities         *string `json:"capabilities"`
	Is80211mcResponder   *bool   `json:"is_80211mc_responder"`
	IsPasspointNetwork   *bool   `json:"is_passpoint_network"`
	OperatorFriendlyName *string `json:"operator_friendly_name"`
	VenueName            *string `json:"venue_name"`
	IsCaptive            *bool   `json:"is_captive"`
	NumScanResults       *int    `json:"num_scan_results"`

	IngestionTimestamp time.Time `json:"ingestion_timestamp"`
	DataVersion        string    `json:"data_version"`
	ProcessingBatchID  string    `json:"processing_batch_id"`
	QualityScore       float64   `json:"quality_score"`
}
