package domain

import (
	"path/filepath"
	"strings"
	"time"
)

type ArtifactFormat string

const (
	FormatXLSX    ArtifactFormat = "xlsx"
	FormatPDF     ArtifactFormat = "pdf"
	FormatXML     ArtifactFormat = "xml"
	FormatCSV     ArtifactFormat = "csv"
	FormatText    ArtifactFormat = "text"
	FormatUnknown ArtifactFormat = "unknown"
)

// Artifact is a stored reference to an uploaded source file.
type Artifact struct {
	Key         string         `json:"key"`
	Filename    string         `json:"filename"`
	MediaType   string         `json:"media_type,omitempty"`
	Format      ArtifactFormat `json:"format"`
	ContentHash string         `json:"content_hash"`
	Size        int64          `json:"size"`
	UploadedAt  time.Time      `json:"uploaded_at"`
}

// DetectFormat derives the parser format from the file extension, falling back to the media type.
func DetectFormat(filename, mediaType string) ArtifactFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".pdf":
		return FormatPDF
	case ".xml", ".gge", ".arps":
		return FormatXML
	case ".csv":
		return FormatCSV
	case ".txt", ".md":
		return FormatText
	}

	mt := strings.ToLower(strings.TrimSpace(mediaType))
	switch {
	case strings.Contains(mt, "spreadsheetml"):
		return FormatXLSX
	case mt == "application/pdf":
		return FormatPDF
	case strings.HasSuffix(mt, "/xml"):
		return FormatXML
	case mt == "text/csv":
		return FormatCSV
	case strings.HasPrefix(mt, "text/"):
		return FormatText
	default:
		return FormatUnknown
	}
}
