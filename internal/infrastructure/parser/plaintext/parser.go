// Package plaintext parses CSV estimates and plain text specifications.
package plaintext

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/chunking"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser"
)

const headerScanLines = 30

// CSVParser reads delimited estimates. The delimiter is sniffed from the leading lines.
type CSVParser struct{}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(ctx context.Context, in ports.ParseInput) (ports.ParseResult, error) {
	data, err := utf8Text(in)
	if err != nil {
		return ports.ParseResult{}, err
	}
	reader := csv.NewReader(strings.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var (
		result ports.ParseResult
		header parser.Header
		found  bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return ports.ParseResult{}, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.Issues = append(result.Issues, parser.Issue("line "+strconv.Itoa(parseErr.Line), "%v", parseErr.Err))
				continue
			}
			return ports.ParseResult{}, parser.Failure("read csv", true, err)
		}
		line, _ := reader.FieldPos(0)
		if !found {
			if h, ok := parser.DetectHeader(record); ok {
				header, found = h, true
			} else if line > headerScanLines {
				break
			}
			continue
		}
		src := domain.SourceRef{
			Path:       parser.SourcePath(in.Artifact),
			Offset:     int64(line),
			OffsetKind: "line",
			Confidence: 1,
		}
		if item, ok := header.Row(parser.ItemID(in.Artifact, "l", line), record, src); ok {
			result.Items = append(result.Items, item)
		}
	}
	if !found {
		result.Issues = append(result.Issues, parser.Issue("document", "no estimate header in first %d lines", headerScanLines))
	}
	return result, nil
}

// sniffDelimiter picks the most frequent candidate over the first lines.
func sniffDelimiter(data string) rune {
	lines := strings.SplitN(data, "\n", 6)
	if len(lines) > 5 {
		lines = lines[:5]
	}
	sample := strings.Join(lines, "\n")
	best, bestCount := ',', 0
	for _, r := range []rune{';', '\t', ',', '|'} {
		if n := strings.Count(sample, string(r)); n > bestCount {
			best, bestCount = r, n
		}
	}
	return best
}

// TextParser splits a plain text specification into offset-tagged blocks.
type TextParser struct {
	splitter *chunking.Splitter
}

func NewTextParser(splitter *chunking.Splitter) *TextParser {
	if splitter == nil {
		splitter = chunking.NewSplitter(0, 0)
	}
	return &TextParser{splitter: splitter}
}

func (p *TextParser) Parse(_ context.Context, in ports.ParseInput) (ports.ParseResult, error) {
	text, err := utf8Text(in)
	if err != nil {
		return ports.ParseResult{}, err
	}
	var result ports.ParseResult
	for _, block := range p.splitter.Split(text) {
		src := domain.SourceRef{
			Path:       parser.SourcePath(in.Artifact),
			Offset:     int64(block.Offset),
			OffsetKind: "char",
			Confidence: 1,
		}
		result.Items = append(result.Items, parser.TextBlock(parser.ItemID(in.Artifact, "c", block.Offset), block.Text, src))
	}
	return result, nil
}

func utf8Text(in ports.ParseInput) (string, error) {
	data := bytes.TrimPrefix(in.Data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", parser.Failure("decode text", true, fmt.Errorf("%s is not valid UTF-8", in.Artifact.Filename))
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}
