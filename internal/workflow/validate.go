package workflow

import (
	"fmt"
	"mime"
	"strings"

	"resume-scanner/internal/shared/util"
)

var allowedMimeTypes = map[string]bool{
	MimePDF:  true,
	MimeDOCX: true,
	MimeDOC:  true,
}

// ResolveMimeType normalizes the declared content type. Browsers often send
// an empty type or application/octet-stream; the extension decides then.
func ResolveMimeType(declared, fileName string) string {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(declared))
	}
	if mediaType != "" && mediaType != "application/octet-stream" {
		return mediaType
	}
	switch util.Extension(fileName) {
	case ".pdf":
		return MimePDF
	case ".docx":
		return MimeDOCX
	case ".doc":
		return MimeDOC
	}
	return mediaType
}

// ValidateUpload enforces the accepted types and size ceiling. The file name
// only feeds type resolution; stores sanitize it when building keys.
func ValidateUpload(fileName, mimeType string, sizeBytes int64) error {
	if !allowedMimeTypes[mimeType] {
		display := mimeType
		if display == "" {
			display = "unknown"
		}
		return &ValidationError{Field: "mimeType", Reason: fmt.Sprintf("unsupported file type %s; upload a PDF, DOCX or DOC file", display)}
	}
	if sizeBytes < 0 {
		return &ValidationError{Field: "sizeBytes", Reason: "file size is unknown"}
	}
	if sizeBytes == 0 {
		return &ValidationError{Field: "sizeBytes", Reason: "file is empty"}
	}
	if sizeBytes > MaxUploadBytes {
		return &ValidationError{Field: "sizeBytes", Reason: fmt.Sprintf("file exceeds the %d byte limit", MaxUploadBytes)}
	}
	return nil
}
