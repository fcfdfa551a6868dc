// Package xmlest reads XML cost estimates. Position elements are recognised by their child
// elements or attributes, so both element-style and attribute-style exports are accepted.
package xmlest

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser"
)

// fieldConfidence reflects that columns are matched by element name heuristics.
const fieldConfidence = 0.9

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

type frame struct {
	name     string
	offset   int64
	keys     []string
	values   []string
	text     strings.Builder
	children int
}

func (f *frame) set(key, value string) {
	for _, k := range f.keys {
		if k == key {
			return
		}
	}
	f.keys = append(f.keys, key)
	f.values = append(f.values, strings.TrimSpace(value))
}

func (p *Parser) Parse(ctx context.Context, in ports.ParseInput) (ports.ParseResult, error) {
	dec := xml.NewDecoder(bytes.NewReader(in.Data))
	var (
		result ports.ParseResult
		stack  []*frame
	)

	for {
		if err := ctx.Err(); err != nil {
			return ports.ParseResult{}, err
		}
		offset := dec.InputOffset()
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ports.ParseResult{}, parser.Failure("decode xml", true, fmt.Errorf("%s at byte %d: %w", in.Artifact.Filename, offset, err))
		}

		switch t := tok.(type) {
		case xml.StartElement:
			f := &frame{name: t.Name.Local, offset: offset}
			for _, attr := range t.Attr {
				f.set(attr.Name.Local, attr.Value)
			}
			if len(stack) > 0 {
				stack[len(stack)-1].children++
			}
			stack = append(stack, f)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if item, ok := p.position(in.Artifact, stack, f); ok {
				result.Items = append(result.Items, item)
				continue
			}
			if f.children == 0 && len(stack) > 0 {
				stack[len(stack)-1].set(f.name, f.text.String())
			}
		}
	}
	if len(result.Items) == 0 {
		result.Issues = append(result.Issues, parser.Issue("document", "no estimate positions recognised"))
	}
	return result, nil
}

func (p *Parser) position(artifact domain.Artifact, parents []*frame, f *frame) (domain.Item, bool) {
	if len(f.keys) == 0 {
		return domain.Item{}, false
	}
	header, ok := parser.DetectHeader(f.keys)
	if !ok {
		return domain.Item{}, false
	}
	src := domain.SourceRef{
		Path:        parser.SourcePath(artifact),
		SheetOrPage: elementPath(parents, f),
		Offset:      f.offset,
		OffsetKind:  "byte",
		Confidence:  fieldConfidence,
	}
	return header.Row(parser.ItemID(artifact, "b", f.offset), f.values, src)
}

func elementPath(parents []*frame, f *frame) string {
	names := make([]string, 0, len(parents)+1)
	for _, p := range parents {
		names = append(names, p.name)
	}
	names = append(names, f.name)
	return strings.Join(names, "/")
}
