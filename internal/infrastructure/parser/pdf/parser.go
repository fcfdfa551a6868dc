package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/chunking"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser"
)

// textConfidence is lower than for tabular formats: extracted PDF text loses layout.
const textConfidence = 0.8

type Parser struct {
	splitter *chunking.Splitter
}

func NewParser(splitter *chunking.Splitter) *Parser {
	if splitter == nil {
		splitter = chunking.NewSplitter(0, 0)
	}
	return &Parser{splitter: splitter}
}

// Parse extracts page-tagged text blocks from a PDF document.
func (p *Parser) Parse(ctx context.Context, in ports.ParseInput) (ports.ParseResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(in.Data), int64(len(in.Data)))
	if err != nil {
		return ports.ParseResult{}, parser.Failure("open pdf", true, fmt.Errorf("%s: %w", in.Artifact.Filename, err))
	}

	var result ports.ParseResult
	for n := 1; n <= reader.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return ports.ParseResult{}, err
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			result.Issues = append(result.Issues, parser.Issue("page "+strconv.Itoa(n), "extract text: %v", err))
			continue
		}
		result.Items = append(result.Items, p.pageItems(in.Artifact, n, text)...)
	}
	if len(result.Items) == 0 && reader.NumPage() > 0 {
		result.Issues = append(result.Issues, parser.Issue("document", "no extractable text, the file may be scanned"))
	}
	return result, nil
}

func (p *Parser) pageItems(artifact domain.Artifact, page int, text string) []domain.Item {
	blocks := p.splitter.Split(text)
	items := make([]domain.Item, 0, len(blocks))
	for _, block := range blocks {
		src := domain.SourceRef{
			Path:        parser.SourcePath(artifact),
			SheetOrPage: "page " + strconv.Itoa(page),
			Offset:      int64(block.Offset),
			OffsetKind:  "char",
			Confidence:  textConfidence,
		}
		items = append(items, parser.TextBlock(parser.ItemID(artifact, "p"+strconv.Itoa(page), block.Offset), block.Text, src))
	}
	return items
}
