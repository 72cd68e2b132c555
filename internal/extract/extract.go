// Package extract finds candidate events in Statement of Facts documents.
//
// Detectors only report what the document says: event names and the raw
// date/time tokens printed next to them. Normalization and reconciliation
// happen downstream.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/portops/sof-server/internal/models"
)

// Document is an uploaded SoF.
type Document struct {
	Filename string
	MIMEType string
	Data     []byte
	// Mode is models.ModeText or models.ModePhoto.
	Mode string
}

// Detector turns a document into raw candidates and ship details.
type Detector interface {
	Detect(ctx context.Context, doc Document) (*models.Extraction, error)
}

var mimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
}

// MIMEType returns the content type for an accepted upload extension.
func MIMEType(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	mime, ok := mimeTypes[ext]
	if !ok {
		return "", fmt.Errorf("unsupported file type %q (want .pdf, .docx or .txt)", ext)
	}
	return mime, nil
}

// ValidMode reports whether mode is a known processing mode.
func ValidMode(mode string) bool {
	return mode == models.ModeText || mode == models.ModePhoto
}

func isText(mime string) bool {
	return strings.HasPrefix(mime, "text/")
}
