package security

import (
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const maxNoteLength = 500

var htmlPolicy = bluemonday.StrictPolicy()

// SanitizeString removes potentially dangerous characters
func SanitizeString(input string) string {
	// Trim whitespace
	input = strings.TrimSpace(input)

	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Limit length
	if len(input) > 1000 {
		input = input[:1000]
	}

	return input
}

// SanitizeHTML removes all HTML tags
func SanitizeHTML(input string) string {
	return htmlPolicy.Sanitize(input)
}

// SanitizeNote cleans free text an admin attaches to a transaction. The note
// is shown back to the user, so markup is stripped.
func SanitizeNote(input string) string {
	note := SanitizeHTML(SanitizeString(input))
	runes := []rune(note)
	if len(runes) > maxNoteLength {
		note = string(runes[:maxNoteLength])
	}
	return strings.TrimSpace(note)
}

// ValidateFileType checks if file extension is allowed
func ValidateFileType(filename string, allowedTypes []string) bool {
	filename = strings.ToLower(filename)
	for _, ext := range allowedTypes {
		if strings.HasSuffix(filename, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// ValidateFileSize checks if file size is within limit
func ValidateFileSize(size int64, maxSize int64) bool {
	return size > 0 && size <= maxSize
}

// DetectImageType sniffs the content and returns its MIME type when it is a
// JPEG, PNG or WebP image.
func DetectImageType(data []byte) (string, bool) {
	contentType := http.DetectContentType(data)
	switch contentType {
	case "image/jpeg", "image/png", "image/webp":
		return contentType, true
	}
	return contentType, false
}
