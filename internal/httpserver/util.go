package httpserver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/kiku-jw/kikuai-gateway/pkg/responders"
)

// decodeJSON decodes a JSON request body into the destination struct.
// The reader will be closed after decoding.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// writeJSON encodes payload as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	responders.JSON(w, status, payload)
}
