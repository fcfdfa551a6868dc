// Package parser holds the helpers shared by the per-format artifact parsers.
package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
)

// Item kinds produced by parsers.
const (
	KindEstimateRow = "estimate_row"
	KindTextBlock   = "text_block"
)

// Estimate row columns.
const (
	ColumnCode        = "code"
	ColumnDescription = "description"
	ColumnUnit        = "unit"
	ColumnQuantity    = "quantity"
	ColumnUnitPrice   = "unit_price"
	ColumnAmount      = "amount"
)

var columnSynonyms = map[string][]string{
	ColumnCode:        {"code", "шифр", "код", "обоснование", "no", "№", "item"},
	ColumnDescription: {"description", "name", "наименование", "title"},
	ColumnUnit:        {"unit", "ед.", "ед ", "единица", "изм"},
	ColumnQuantity:    {"quantity", "qty", "кол-во", "количество", "объем", "объём"},
	ColumnUnitPrice:   {"unit price", "unit_price", "price", "цена", "стоимость единицы"},
	ColumnAmount:      {"amount", "total", "сумма", "всего", "стоимость"},
}

// columnOrder resolves ambiguous headers: "стоимость единицы" must match unit_price before amount.
var columnOrder = []string{ColumnUnitPrice, ColumnQuantity, ColumnUnit, ColumnDescription, ColumnCode, ColumnAmount}

// Header maps column names to cell indexes.
type Header map[string]int

// DetectHeader reports whether cells look like an estimate header. A header needs at least a
// description column and one of quantity or amount.
func DetectHeader(cells []string) (Header, bool) {
	h := Header{}
	for idx, cell := range cells {
		norm := strings.ToLower(strings.TrimSpace(cell))
		if norm == "" {
			continue
		}
		for _, col := range columnOrder {
			if _, taken := h[col]; taken {
				continue
			}
			if matches(norm, columnSynonyms[col]) {
				h[col] = idx
				break
			}
		}
	}
	_, hasDesc := h[ColumnDescription]
	_, hasQty := h[ColumnQuantity]
	_, hasAmount := h[ColumnAmount]
	return h, hasDesc && (hasQty || hasAmount)
}

// matches compares short synonyms as prefixes and longer ones as substrings.
func matches(cell string, synonyms []string) bool {
	for _, s := range synonyms {
		if utf8.RuneCountInString(s) <= 3 {
			if strings.HasPrefix(cell, s) {
				return true
			}
			continue
		}
		if strings.Contains(cell, s) {
			return true
		}
	}
	return false
}

// Row turns one data row into an estimate_row item. It returns false for rows with no description.
func (h Header) Row(id string, cells []string, source domain.SourceRef) (domain.Item, bool) {
	cell := func(col string) string {
		idx, ok := h[col]
		if !ok || idx >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[idx])
	}
	desc := cell(ColumnDescription)
	if desc == "" {
		return domain.Item{}, false
	}
	fields := map[string]domain.Value{ColumnDescription: domain.Text(desc)}
	for _, col := range []string{ColumnCode, ColumnUnit, ColumnQuantity, ColumnUnitPrice, ColumnAmount} {
		if v := cell(col); v != "" {
			fields[col] = domain.Text(v)
		} else {
			fields[col] = domain.Null()
		}
	}
	src := source
	return domain.Item{ID: id, Kind: KindEstimateRow, Fields: fields, Source: &src}, true
}

// TextBlock builds a text_block item.
func TextBlock(id, text string, source domain.SourceRef) domain.Item {
	src := source
	return domain.Item{
		ID:     id,
		Kind:   KindTextBlock,
		Fields: map[string]domain.Value{"text": domain.Text(text)},
		Source: &src,
	}
}

// ItemID derives a stable item id from the artifact content hash and a locator.
func ItemID(artifact domain.Artifact, parts ...any) string {
	hash := artifact.ContentHash
	if len(hash) > 12 {
		hash = hash[:12]
	}
	var b strings.Builder
	b.WriteString(hash)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(strings.ReplaceAll(fmt.Sprint(p), " ", "_"))
	}
	return b.String()
}

// SourcePath is the provenance path of an artifact.
func SourcePath(artifact domain.Artifact) string {
	if artifact.Key != "" {
		return artifact.Key
	}
	return artifact.Filename
}

// Failure wraps a parser error as an unavailable provider error, or invalid response when the
// content cannot be decoded.
func Failure(op string, invalid bool, err error) error {
	kind := domain.ProviderUnavailable
	if invalid {
		kind = domain.ProviderInvalidResponse
	}
	return domain.NewProviderError(kind, op, err)
}

// Issue reports a recoverable problem at a locator.
func Issue(locator string, format string, args ...any) ports.ParseIssue {
	return ports.ParseIssue{Locator: locator, Message: fmt.Sprintf(format, args...)}
}
