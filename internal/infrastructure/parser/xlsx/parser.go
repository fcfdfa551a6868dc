package xlsx

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser"
)

// headerScanRows bounds how far down a sheet the header row is searched.
const headerScanRows = 30

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse reads every sheet of a workbook. Each sheet needs its own header row; sheets without one
// are reported as issues.
func (p *Parser) Parse(ctx context.Context, in ports.ParseInput) (ports.ParseResult, error) {
	book, err := excelize.OpenReader(bytes.NewReader(in.Data))
	if err != nil {
		return ports.ParseResult{}, parser.Failure("open workbook", true, fmt.Errorf("%s: %w", in.Artifact.Filename, err))
	}
	defer book.Close()

	var result ports.ParseResult
	for _, sheet := range book.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return ports.ParseResult{}, err
		}
		rows, err := book.GetRows(sheet)
		if err != nil {
			result.Issues = append(result.Issues, parser.Issue(sheet, "read rows: %v", err))
			continue
		}
		items, issue := sheetItems(in.Artifact, sheet, rows)
		if issue != nil {
			result.Issues = append(result.Issues, *issue)
		}
		result.Items = append(result.Items, items...)
	}
	return result, nil
}

func sheetItems(artifact domain.Artifact, sheet string, rows [][]string) ([]domain.Item, *ports.ParseIssue) {
	headerAt := -1
	var header parser.Header
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		if h, ok := parser.DetectHeader(rows[i]); ok {
			header, headerAt = h, i
			break
		}
	}
	if headerAt < 0 {
		if len(rows) == 0 {
			return nil, nil
		}
		issue := parser.Issue(sheet, "no estimate header in first %d rows", headerScanRows)
		return nil, &issue
	}

	var items []domain.Item
	for i := headerAt + 1; i < len(rows); i++ {
		rowNum := i + 1
		src := domain.SourceRef{
			Path:        parser.SourcePath(artifact),
			SheetOrPage: sheet,
			Offset:      int64(rowNum),
			OffsetKind:  "row",
			Confidence:  1,
		}
		if item, ok := header.Row(parser.ItemID(artifact, sheet, rowNum), rows[i], src); ok {
			items = append(items, item)
		}
	}
	return items, nil
}
