package validation

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/username/tradeingest/src/logger"
)

// AllowedClientContentTypes lists the MIME types a client may declare for a
// trade export upload.
var AllowedClientContentTypes = map[string]bool{
	"text/csv":                 true,
	"application/csv":          true,
	"application/vnd.ms-excel": true, // what older Excel declares for .csv
	"text/plain":               true,
	"application/octet-stream": true, // generic fallback; the CSV reader still has to accept it
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": false, // .xlsx is not read
}

// allowedDetectedTypes are the sniffed types a text export can produce.
var allowedDetectedTypes = map[string]bool{
	"text/plain":               true,
	"text/csv":                 true,
	"application/csv":          true,
	"application/octet-stream": true,
}

func ValidateClientContentType(contentType string) error {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if allowed, exists := AllowedClientContentTypes[mediaType]; !exists || !allowed {
		logger.L.Warn("Disallowed client-declared Content-Type", "contentType", contentType)
		return fmt.Errorf("client-declared file type '%s' is not allowed for trade import", contentType)
	}
	return nil
}

// ValidateFileContentByMagicBytes sniffs the first 512 bytes of file and
// rewinds it. It returns the detected type.
func ValidateFileContentByMagicBytes(file io.ReadSeeker) (string, error) {
	if file == nil {
		return "", fmt.Errorf("file is nil")
	}

	buffer := make([]byte, 512) // DetectContentType looks at most at 512 bytes
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read file for content type checking: %w", err)
	}
	// Rewind so the CSV reader sees the whole file.
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to reset file read pointer: %w", err)
	}

	// Drop parameters such as "; charset=utf-8" before the lookup.
	detected := strings.ToLower(strings.Split(http.DetectContentType(buffer[:n]), ";")[0])
	if !allowedDetectedTypes[detected] {
		logger.L.Warn("Disallowed detected file content type (magic bytes)", "detectedContentType", detected)
		return detected, fmt.Errorf("detected file content type '%s' is not consistent with a CSV file", detected)
	}

	logger.L.Debug("File content type (magic bytes) validated", "detectedContentType", detected)
	return detected, nil
}
