// Package caption defines the captioning wire contract and an HTTP client for it.
//
//	POST /api/caption
//	Content-Type: application/json
//
//	{"image_data": "<base64 JPEG, no data-URI prefix>", "prompt": "<text>"}
//
// A 2xx response carries an optional "caption"; any other status may carry
// an "error" string.
package caption

import (
	"encoding/base64"
	"strings"
)

// Path is the captioning route.
const Path = "/api/caption"

// Request is the body sent for each frame.
type Request struct {
	ImageData string `json:"image_data"`
	Prompt    string `json:"prompt"`
}

// Response is the body returned by the service.
type Response struct {
	Caption string `json:"caption,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EncodeImage encodes raw image bytes for Request.ImageData.
func EncodeImage(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeImage decodes Request.ImageData, tolerating a data-URI prefix.
func DecodeImage(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(StripDataURI(s))
}

// StripDataURI removes a "data:<mime>;base64," prefix if present.
func StripDataURI(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return ""
}
