package ingest

import "testing"

func TestParseNotifications_RecordsEnvelope(t *testing.T) {
	body := `{
		"Records": [{
			"eventName": "ObjectCreated:Put",
			"s3": {
				"bucket": {"name": "scans-bucket"},
				"object": {"key": "raw/2026/01/01/scan-1.json.gz.b64", "size": 1024, "eTag": "abc123"}
			}
		}]
	}`

	notifications, ok := ParseNotifications([]byte(body))
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifications))
	}
	n := notifications[0]
	if n.Bucket != "scans-bucket" || n.Key != "raw/2026/01/01/scan-1.json.gz.b64" || n.Size != 1024 || n.ETag != "abc123" {
		t.Errorf("unexpected notification: %+v", n)
	}
}

func TestParseNotifications_DetailEnvelope(t *testing.T) {
	body := `{
		"detail": {
			"bucket": {"name": "scans-bucket"},
			"object": {"key": "raw/scan-2.json.gz.b64", "size": 512, "etag": "def456"}
		}
	}`

	notifications, ok := ParseNotifications([]byte(body))
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifications))
	}
	if notifications[0].Key != "raw/scan-2.json.gz.b64" {
		t.Errorf("unexpected key: %s", notifications[0].Key)
	}
}

func TestParseNotifications_MultipleRecords(t *testing.T) {
	body := `{
		"Records": [
			{"s3": {"bucket": {"name": "b"}, "object": {"key": "k1"}}},
			{"s3": {"bucket": {"name": "b"}, "object": {"key": "k2"}}}
		]
	}`

	notifications, ok := ParseNotifications([]byte(body))
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(notifications) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifications))
	}
}

func TestParseNotifications_UnrecognizedShape(t *testing.T) {
	_, ok := ParseNotifications([]byte(`{"foo": "bar"}`))
	if ok {
		t.Error("expected ok=false for unrecognized envelope")
	}
}

func TestParseNotifications_InvalidJSON(t *testing.T) {
	_, ok := ParseNotifications([]byte(`not json at all`))
	if ok {
		t.Error("expected ok=false for invalid JSON")
	}
}

func TestParseNotifications_EmptyRecordsSkipsIncomplete(t *testing.T) {
	body := `{"Records": [{"s3": {"bucket": {"name": ""}, "object": {"key": ""}}}]}`
	_, ok := ParseNotifications([]byte(body))
	if ok {
		t.Error("expected ok=false when all records lack bucket/key")
	}
}
