package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/username/tradeingest/src/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GenerateETag creates a SHA256 hash of the JSON representation of the data.
func GenerateETag(data interface{}) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data for ETag generation: %w", err)
	}
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:]), nil
}

func SendJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L.Error("Error encoding JSON response", "statusCode", statusCode, "error", err)
	}
}

func SendJSONError(w http.ResponseWriter, message string, statusCode int) {
	logger.L.Warn("Sending JSON error to client", "message", message, "statusCode", statusCode)
	SendJSON(w, statusCode, map[string]string{"error": message})
}

// SendJSONWithETag writes payload with an ETag, or 304 when the client's
// If-None-Match already carries it.
func SendJSONWithETag(w http.ResponseWriter, r *http.Request, payload interface{}) {
	w.Header().Set("Cache-Control", "no-cache, private")

	etag, err := GenerateETag(payload)
	if err != nil {
		logger.L.Warn("Proceeding without ETag check due to ETag generation error", "path", r.URL.Path, "error", err)
		SendJSON(w, http.StatusOK, payload)
		return
	}

	quoted := fmt.Sprintf("%q", etag)
	w.Header().Set("ETag", quoted)
	for _, candidate := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		if strings.TrimSpace(candidate) == quoted {
			logger.L.Debug("ETag match", "path", r.URL.Path, "etag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	SendJSON(w, http.StatusOK, payload)
}
