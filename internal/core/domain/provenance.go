package domain

import (
	"fmt"
	"time"
)

// ProvenanceRecord attributes one item to its source file location.
type ProvenanceRecord struct {
	ItemID      string    `json:"item_id"`
	Stage       string    `json:"stage"`
	SourcePath  string    `json:"source_path"`
	SheetOrPage string    `json:"sheet_or_page,omitempty"`
	Offset      int64     `json:"offset"`
	OffsetKind  string    `json:"offset_kind,omitempty"`
	ContentHash string    `json:"content_hash"`
	ExtractedAt time.Time `json:"extracted_at"`
	Confidence  float64   `json:"confidence"`
	Version     int       `json:"version"`
}

// VersionedKey is the provenance_index key a superseded record is archived under.
func VersionedKey(itemID string, version int) string {
	return fmt.Sprintf("%s@v%d", itemID, version)
}
