// Package decode turns a raw notification payload into the UTF-8 JSON
// text it carries: trim, base64-decode, and GZIP-inflate.
package decode

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"encoding/base64"

	"github.com/klauspost/compress/gzip"
)

// Reason identifies why a payload could not be decoded. All Reasons
// are non-retriable: the bytes themselves are malformed and a retry
// would not help.
type Reason string

const (
	ReasonEmptyInput Reason = "empty_input"
	ReasonBadBase64  Reason = "bad_base64"
	ReasonBadGzip    Reason = "bad_gzip"
	ReasonBadUTF8    Reason = "bad_utf8"
)

// Error reports a decode failure. It is always non-retriable.
type Error struct {
	Reason Reason
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("decode: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// Decode converts raw notification bytes into the UTF-8 JSON document
// they encode: trailing-whitespace trim, standard-alphabet base64
// decode (required padding), GZIP inflate, then UTF-8 validation.
func Decode(raw []byte) (string, error) {
	trimmed := strings.TrimRight(string(raw), " \t\r\n")
	if trimmed == "" {
		return "", &Error{Reason: ReasonEmptyInput}
	}

	compressed, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return "", &Error{Reason: ReasonBadBase64, Cause: err}
	}

	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", &Error{Reason: ReasonBadGzip, Cause: err}
	}
	defer gr.Close()

	body, err := io.ReadAll(gr)
	if err != nil {
		return "", &Error{Reason: ReasonBadGzip, Cause: err}
	}

	if !utf8.Valid(body) {
		return "", &Error{Reason: ReasonBadUTF8}
	}

	return string(body), nil
}
