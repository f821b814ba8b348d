package scandata

import "testing"

func TestParse_MinimalDocument(t *testing.T) {
	sd, err := Parse(`{"manufacturer":"Acme","model":"X1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sd.Manufacturer != "Acme" {
		t.Errorf("expected manufacturer 'Acme', got %q", sd.Manufacturer)
	}
	if sd.ConnectedEvents == nil {
		t.Error("expected ConnectedEvents to default to empty, not nil")
	}
	if sd.ScanResults == nil {
		t.Error("expected ScanResults to default to empty, not nil")
	}
}

func TestParse_IgnoresUnknownFields(t *testing.T) {
	sd, err := Parse(`{"manufacturer":"Acme","totallyUnknownField":123}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sd.Manufacturer != "Acme" {
		t.Errorf("expected manufacturer 'Acme', got %q", sd.Manufacturer)
	}
}

func TestParse_ConnectedEventWithWifiInfo(t *testing.T) {
	doc := `{
		"wifiConnectedEvents": [
			{
				"timestamp": 1700000000000,
				"eventId": "ev1",
				"wifiConnectedInfo": {
					"bssid": "AA:BB:CC:DD:EE:FF",
					"ssid": "home",
					"rssi": -55,
					"linkSpeed": 100
				}
			}
		]
	}`
	sd, err := Parse(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sd.ConnectedEvents) != 1 {
		t.Fatalf("expected 1 connected event, got %d", len(sd.ConnectedEvents))
	}
	ev := sd.ConnectedEvents[0]
	if ev.WifiInfo == nil {
		t.Fatal("expected non-nil wifi info")
	}
	if ev.WifiInfo.BSSID != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("unexpected bssid: %q", ev.WifiInfo.BSSID)
	}
	if ev.WifiInfo.LinkSpeed == nil || *ev.WifiInfo.LinkSpeed != 100 {
		t.Errorf("expected link speed 100, got %v", ev.WifiInfo.LinkSpeed)
	}
}

func TestParse_ScanResultEntriesDefaultToEmpty(t *testing.T) {
	doc := `{"scanResults":[{"timestamp":1,"location":null}]}`
	sd, err := Parse(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sd.ScanResults) != 1 {
		t.Fatalf("expected 1 scan result, got %d", len(sd.ScanResults))
	}
	if sd.ScanResults[0].Results == nil {
		t.Error("expected scan result entries to default to empty, not nil")
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := Parse(`{not valid json`)
	if err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
	var perr *ParseError
	if _, ok := err.(*ParseError); !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	_ = perr
}

func TestLocationData_HasValidCoordinates(t *testing.T) {
	cases := []struct {
		name string
		loc  *LocationData
		want bool
	}{
		{"nil location", nil, false},
		{"valid equator", &LocationData{Latitude: 0, Longitude: 0}, true},
		{"valid boundary", &LocationData{Latitude: 90, Longitude: 180}, true},
		{"invalid latitude", &LocationData{Latitude: 91, Longitude: 0}, false},
		{"invalid longitude", &LocationData{Latitude: 0, Longitude: -181}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.loc.HasValidCoordinates(); got != c.want {
				t.Errorf("HasValidCoordinates() = %v, want %v", got, c.want)
			}
		})
	}
}
