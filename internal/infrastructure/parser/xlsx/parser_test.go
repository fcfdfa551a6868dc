package xlsx

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser"
)

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]any{
		{"Локальная смета №1"},
		{},
		{"№", "Наименование работ", "Ед. изм.", "Кол-во", "Цена", "Сумма"},
		{1, "Бетон B25", "м3", 12.5, 4500, 56250},
		{},
		{2, "Арматура A500C", "т", 1.2, 61000, ""},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	if _, err := f.NewSheet("Notes"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	if err := f.SetCellValue("Notes", "A1", "free text"); err != nil {
		t.Fatalf("set cell: %v", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestParseWorkbook(t *testing.T) {
	artifact := domain.Artifact{Key: "p/abc_smeta.xlsx", Filename: "smeta.xlsx", ContentHash: "abcdef0123456789"}
	res, err := NewParser().Parse(context.Background(), ports.ParseInput{Artifact: artifact, Data: workbook(t)})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(res.Items), res.Items)
	}
	first := res.Items[0]
	if first.Fields[parser.ColumnDescription].Text != "Бетон B25" || first.Fields[parser.ColumnQuantity].Text != "12.5" {
		t.Fatalf("unexpected first row %+v", first.Fields)
	}
	if first.Source.SheetOrPage != "Sheet1" || first.Source.Offset != 4 || first.Source.Path != "p/abc_smeta.xlsx" {
		t.Fatalf("unexpected source %+v", first.Source)
	}
	if first.ID != "abcdef012345:Sheet1:4" {
		t.Fatalf("unexpected id %q", first.ID)
	}
	if !res.Items[1].Fields[parser.ColumnAmount].IsNull() {
		t.Fatal("expected empty amount cell to be null")
	}
	if len(res.Issues) != 1 || res.Issues[0].Locator != "Notes" {
		t.Fatalf("expected header issue for Notes sheet, got %+v", res.Issues)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := NewParser().Parse(context.Background(), ports.ParseInput{
		Artifact: domain.Artifact{Filename: "broken.xlsx"},
		Data:     []byte("not a zip"),
	})
	if kind, ok := domain.ProviderKind(err); !ok || kind != domain.ProviderInvalidResponse {
		t.Fatalf("expected invalid response provider error, got %v", err)
	}
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatal("expected ErrProvider kind")
	}
}
