// Package provenance attributes every extracted item to the file location it came from.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
)

// ContentHash is the sha256 of the canonical JSON encoding of the item without its source reference.
func ContentHash(item domain.Item) (string, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encode item %s: %w", item.ID, err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Attach builds the provenance record of one item. The version is assigned by Apply.
func Attach(stage string, item domain.Item, source *domain.SourceRef, now time.Time) (domain.ProvenanceRecord, error) {
	if reason := checkSource(source); reason != "" {
		return domain.ProvenanceRecord{}, &domain.MissingProvenanceError{Stage: stage, ItemIDs: []string{item.ID}, Reason: reason}
	}
	hash, err := ContentHash(item)
	if err != nil {
		return domain.ProvenanceRecord{}, err
	}
	return domain.ProvenanceRecord{
		ItemID:      item.ID,
		Stage:       stage,
		SourcePath:  source.Path,
		SheetOrPage: source.SheetOrPage,
		Offset:      source.Offset,
		OffsetKind:  source.OffsetKind,
		ContentHash: hash,
		ExtractedAt: now.UTC(),
		Confidence:  source.Confidence,
	}, nil
}

func checkSource(source *domain.SourceRef) string {
	switch {
	case source == nil:
		return "no source attribution"
	case strings.TrimSpace(source.Path) == "":
		return "source path is empty"
	case source.Offset < 0:
		return "negative source offset"
	case math.IsNaN(source.Confidence) || source.Confidence < 0 || source.Confidence > 1:
		return fmt.Sprintf("confidence %v outside [0,1]", source.Confidence)
	}
	return ""
}

// Track attaches provenance to every item of a stage output. Items without a valid source are
// collected into a single *domain.MissingProvenanceError so the whole output can be rejected.
// Aggregates must reference constituents present in items or already in the index.
func Track(stage string, items []domain.Item, aggregates []domain.Aggregate, index map[string]domain.ProvenanceRecord, now time.Time) ([]domain.ProvenanceRecord, error) {
	records := make([]domain.ProvenanceRecord, 0, len(items))
	var missing []string
	var reasons []string
	known := make(map[string]struct{}, len(items))

	for _, item := range items {
		known[item.ID] = struct{}{}
		rec, err := Attach(stage, item, item.Source, now)
		if err != nil {
			var mp *domain.MissingProvenanceError
			if errors.As(err, &mp) {
				missing = append(missing, item.ID)
				reasons = appendUnique(reasons, mp.Reason)
				continue
			}
			return nil, err
		}
		records = append(records, rec)
	}
	if len(missing) > 0 {
		return nil, &domain.MissingProvenanceError{Stage: stage, ItemIDs: missing, Reason: strings.Join(reasons, "; ")}
	}

	var dangling []string
	for _, agg := range aggregates {
		for _, id := range agg.Constituents {
			if _, ok := known[id]; ok {
				continue
			}
			if _, ok := index[id]; ok {
				continue
			}
			dangling = append(dangling, agg.ID+"->"+id)
		}
	}
	if len(dangling) > 0 {
		return nil, &domain.MissingProvenanceError{Stage: stage, ItemIDs: dangling, Reason: "aggregate constituent not resolvable"}
	}
	return records, nil
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// Apply writes rec into index. An unchanged content hash only refreshes extracted_at. A changed hash
// archives the previous record under its versioned key and bumps the version.
func Apply(index map[string]domain.ProvenanceRecord, rec domain.ProvenanceRecord) domain.ProvenanceRecord {
	prev, ok := index[rec.ItemID]
	switch {
	case !ok:
		rec.Version = 1
	case prev.ContentHash == rec.ContentHash:
		prev.ExtractedAt = rec.ExtractedAt
		rec = prev
	default:
		if prev.Version < 1 {
			prev.Version = 1
		}
		index[domain.VersionedKey(prev.ItemID, prev.Version)] = prev
		rec.Version = prev.Version + 1
	}
	index[rec.ItemID] = rec
	return rec
}

// Resolve returns the current provenance record of an item.
func Resolve(p *domain.Project, itemID string) (domain.ProvenanceRecord, error) {
	if p == nil {
		return domain.ProvenanceRecord{}, domain.ErrProjectNotFound
	}
	rec, ok := p.ProvenanceIndex[itemID]
	if !ok {
		return domain.ProvenanceRecord{}, domain.WrapError(domain.ErrMissingProvenance, "resolve", fmt.Errorf("item %q", itemID))
	}
	return rec, nil
}

// Versions lists the archived and current records of an item, oldest first.
func Versions(p *domain.Project, itemID string) []domain.ProvenanceRecord {
	if p == nil {
		return nil
	}
	var out []domain.ProvenanceRecord
	prefix := itemID + "@v"
	for key, rec := range p.ProvenanceIndex {
		if key == itemID || strings.HasPrefix(key, prefix) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// Unattributed returns the ids of stored items that have no provenance record. A complete project
// returns nothing.
func Unattributed(p *domain.Project) []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, key := range p.StageKeys() {
		result := p.StageResults[key]
		if result == nil {
			continue
		}
		for _, item := range result.Items {
			if _, ok := p.ProvenanceIndex[item.ID]; !ok {
				out = append(out, item.ID)
			}
		}
	}
	return out
}
