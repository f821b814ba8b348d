package scandata

import (
	"encoding/json"
	"fmt"
)

// ParseError is a non-retriable error: the JSON body could not be
// decoded into a ScanData value.
type ParseError struct {
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("scandata: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("scandata: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Parse decodes a JSON scan-data document. Unknown top-level fields
// are ignored (the default behavior of encoding/json.Unmarshal into a
// struct). Missing ConnectedEvents/ScanResults collections default to
// empty, never nil, so callers can range over them unconditionally.
func Parse(jsonStr string) (*ScanData, error) {
	var sd ScanData
	if err := json.Unmarshal([]byte(jsonStr), &sd); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Cause: err}
	}
	if sd.ConnectedEvents == nil {
		sd.ConnectedEvents = []ConnectedEvent{}
	}
	if sd.ScanResults == nil {
		sd.ScanResults = []ScanResult{}
	}
	for i := range sd.ScanResults {
		if sd.ScanResults[i].Results == nil {
			sd.ScanResults[i].Results = []ScanEntry{}
		}
	}
	return &sd, nil
}
