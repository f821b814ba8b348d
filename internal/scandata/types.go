// Package scandata defines the typed, decoded form of a WiFi-scan
// payload and parses it from JSON.
package scandata

// ScanData is the parsed form of one object's decoded JSON body.
// Collections are never nil after Parse; missing collections decode
// to an empty slice.
type ScanData struct {
	Manufacturer   string `json:"manufacturer"`
	Model          string `json:"model"`
	Device         string `json:"device"`
	OSName         string `json:"osName"`
	OSVersion      string `json:"osVersion"`
	SDKInt         string `json:"sdkInt"`
	AppNameVersion string `json:"appNameVersion"`
	DataVersion    string `json:"dataVersion"`

	ConnectedEvents []ConnectedEvent `json:"wifiConnectedEvents"`
	ScanResults     []ScanResult     `json:"scanResults"`
}

// ConnectedEvent describes an active association to a single access
// point at a point in time.
type ConnectedEvent struct {
	Timestamp int64         `json:"timestamp"`
	EventID   string        `json:"eventId"`
	EventType string        `json:"eventType"`
	IsCaptive *bool         `json:"isCaptive"`
	WifiInfo  *WifiInfo     `json:"wifiConnectedInfo"`
	Location  *LocationData `json:"location"`
}

// WifiInfo is the access-point detail carried by a ConnectedEvent.
type WifiInfo struct {
	BSSID                 string  `json:"bssid"`
	SSID                  string  `json:"ssid"`
	RSSI                  int     `json:"rssi"`
	LinkSpeed             *int    `json:"linkSpeed"`
	Frequency             *int    `json:"frequency"`
	ChannelWidth          *int    `json:"channelWidth"`
	CenterFreq0           *int    `json:"centerFreq0"`
	CenterFreq1           *int    `json:"centerFreq1"`
	Capabilities          *string `json:"capabilities"`
	Is80211mcResponder    *bool   `json:"is80211mcResponder"`
	IsPasspointNetwork    *bool   `json:"isPasspointNetwork"`
	OperatorFriendlyName  *string `json:"operatorFriendlyName"`
	VenueName             *string `json:"venueName"`
	NumOfScanResults      *int    `json:"numOfScanResults"`
}

// ScanResult is a snapshot of multiple visible access points taken at
// one location and time.
type ScanResult struct {
	Timestamp int64          `json:"timestamp"`
	Location  *LocationData  `json:"location"`
	Results   []ScanEntry    `json:"results"`
}

// ScanEntry is a single visible access point within a ScanResult.
type ScanEntry struct {
	BSSID     string `json:"bssid"`
	SSID      string `json:"ssid"`
	RSSI      int    `json:"rssi"`
	ScanTime  int64  `json:"scantime"`
	Frequency *int   `json:"frequency"`
}

// LocationData is a GPS fix accompanying an event or scan result.
type LocationData struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude"`
	Accuracy  *float64 `json:"accuracy"`
	Time      *int64   `json:"time"`
	Provider  *string  `json:"provider"`
	Source    *string  `json:"source"`
	Speed     *float64 `json:"speed"`
	Bearing   *float64 `json:"bearing"`
}

// HasValidCoordinates reports whether latitude/longitude fall within
// the valid WGS84 ranges.
func (l *LocationData) HasValidCoordinates() bool {
	if l == nil {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}
