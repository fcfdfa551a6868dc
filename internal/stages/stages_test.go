package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/core/registry"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser/plaintext"
)

type memoryStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memoryStorage) Save(_ context.Context, key string, data io.Reader) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[key] = b
	return nil
}

func (m *memoryStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type reasonerFake struct {
	mu    sync.Mutex
	calls []ports.ReasoningRequest
	fn    func(req ports.ReasoningRequest) (json.RawMessage, error)
}

func (r *reasonerFake) Reason(_ context.Context, req ports.ReasoningRequest) (json.RawMessage, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.mu.Unlock()
	return r.fn(req)
}

func (r *reasonerFake) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testArtifact(name string, format domain.ArtifactFormat, hash string) domain.Artifact {
	return domain.Artifact{
		Key:         "p1/" + name,
		Filename:    name,
		Format:      format,
		ContentHash: strings.Repeat(hash, 16),
	}
}

func TestDefaultManifestLoadsWithBuiltinCatalog(t *testing.T) {
	m, err := DefaultManifest()
	if err != nil {
		t.Fatalf("DefaultManifest() error = %v", err)
	}
	reg, err := registry.Load(m, Catalog(Deps{}))
	if err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}

	var tiers []string
	for _, tier := range reg.Tiers() {
		names := make([]string, 0, len(tier))
		for _, mod := range tier {
			names = append(names, mod.Descriptor.Name)
		}
		tiers = append(tiers, strings.Join(names, "+"))
	}
	if got := strings.Join(tiers, " | "); got != "parse | positions+specs | plan" {
		t.Fatalf("unexpected tiers %q", got)
	}
	aggs := reg.AggregatesFor(KeyPositions)
	if len(aggs) != 1 || aggs[0].Name != "total_amount" || aggs[0].Policy != domain.NullPropagate {
		t.Fatalf("unexpected aggregates %+v", aggs)
	}
	if !bytes.Equal(DefaultManifestYAML(), defaultManifest) {
		t.Fatalf("DefaultManifestYAML() must return the embedded source")
	}
}

func TestParseStageRecordsIssuesAndContinues(t *testing.T) {
	storage := &memoryStorage{}
	csvArt := testArtifact("estimate.csv", domain.FormatCSV, "a")
	xmlArt := testArtifact("estimate.xml", domain.FormatXML, "b")
	_ = storage.Save(context.Background(), csvArt.Key, strings.NewReader("description;qty;unit\nConcrete;10;m3\n"))
	_ = storage.Save(context.Background(), xmlArt.Key, strings.NewReader("<estimate/>"))

	stage := &ParseStage{
		storage: storage,
		parsers: map[domain.ArtifactFormat]ports.Parser{domain.FormatCSV: plaintext.NewCSVParser()},
		logger:  quietLogger(),
	}
	out, err := stage.Run(context.Background(), domain.StageInput{ProjectID: "p1", Artifacts: []domain.Artifact{csvArt, xmlArt}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var rows, issues int
	for _, item := range out.Items {
		switch item.Kind {
		case parser.KindEstimateRow:
			rows++
		case KindParseIssue:
			issues++
			if item.Fields["artifact"].Text != "estimate.xml" || item.Source == nil || item.Source.Path != xmlArt.Key {
				t.Fatalf("unexpected issue item %+v", item)
			}
		}
	}
	if rows != 1 || issues != 1 {
		t.Fatalf("expected 1 row and 1 issue, got %d rows %d issues", rows, issues)
	}
}

func TestParseStageFailsWhenEveryArtifactFails(t *testing.T) {
	stage := &ParseStage{
		storage: &memoryStorage{},
		parsers: map[domain.ArtifactFormat]ports.Parser{domain.FormatCSV: plaintext.NewCSVParser()},
		logger:  quietLogger(),
	}
	_, err := stage.Run(context.Background(), domain.StageInput{
		Artifacts: []domain.Artifact{testArtifact("missing.csv", domain.FormatCSV, "c")},
	})
	if kind, _ := domain.ProviderKind(err); kind != domain.ProviderUnavailable {
		t.Fatalf("expected unavailable provider error, got %v", err)
	}
}

func TestParseNumber(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"1234", 1234, true},
		{"1 234,56", 1234.56, true},
		{"1 234,56 руб.", 1234.56, true},
		{"1,234.56", 1234.56, true},
		{"12,5", 12.5, true},
		{"1.234.567", 1234567, true},
		{"-3.5", -3.5, true},
		{"", 0, false},
		{"n/a", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseNumber(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parseNumber(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func estimateRow(id string, fields map[string]string) domain.Item {
	item := domain.Item{ID: id, Kind: parser.KindEstimateRow, Fields: map[string]domain.Value{}}
	for _, col := range []string{parser.ColumnCode, parser.ColumnDescription, parser.ColumnUnit, parser.ColumnQuantity, parser.ColumnUnitPrice, parser.ColumnAmount} {
		if v, ok := fields[col]; ok {
			item.Fields[col] = domain.Text(v)
		} else {
			item.Fields[col] = domain.Null()
		}
	}
	return item
}

func TestPositionsStageNormalizesRows(t *testing.T) {
	in := domain.StageInput{
		Results: map[string]*domain.StageResult{
			KeyParse: {Items: []domain.Item{
				estimateRow("r1", map[string]string{"description": "Concrete B25", "unit": "м3", "quantity": "10", "unit_price": "5 000,00"}),
				estimateRow("r2", map[string]string{"description": "Fence", "quantity": "3", "amount": "900"}),
			}},
		},
		Provenance: map[string]domain.ProvenanceRecord{
			"r1": {ItemID: "r1", SourcePath: "p1/estimate.xlsx", SheetOrPage: "Sheet1", Offset: 4, OffsetKind: "row", Confidence: 1},
		},
	}
	out, err := (&PositionsStage{currency: "RUB"}).Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.Items) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(out.Items))
	}

	concrete := out.Items[0]
	if concrete.ID != "pos:r1" || concrete.Kind != KindPosition {
		t.Fatalf("unexpected position %+v", concrete)
	}
	if q := concrete.Fields["quantity"]; q.Type != domain.ValueQuantity || *q.Number != 10 || q.Unit != "m3" {
		t.Fatalf("unexpected quantity %+v", q)
	}
	if a := concrete.Fields["amount"]; a.Type != domain.ValueMoney || *a.Number != 50000 || a.Unit != "RUB" {
		t.Fatalf("expected computed amount, got %+v", a)
	}
	if concrete.Source == nil || concrete.Source.SheetOrPage != "Sheet1" || concrete.Source.Offset != 4 {
		t.Fatalf("expected source copied from provenance, got %+v", concrete.Source)
	}

	fence := out.Items[1]
	if !fence.Fields["quantity"].IsNull() {
		t.Fatalf("quantity without unit must be null, got %+v", fence.Fields["quantity"])
	}
	if fence.Source != nil {
		t.Fatalf("row without provenance must keep a nil source")
	}
}

func TestPositionsStageTreatsNullParseAsNoData(t *testing.T) {
	out, err := (&PositionsStage{currency: "RUB"}).Run(context.Background(), domain.StageInput{
		Results: map[string]*domain.StageResult{KeyParse: nil},
	})
	if err != nil || len(out.Items) != 0 {
		t.Fatalf("expected empty output, got %+v, %v", out, err)
	}
}

func textBlocks(ids ...string) domain.StageInput {
	in := domain.StageInput{
		Results:    map[string]*domain.StageResult{KeyParse: {}},
		Provenance: map[string]domain.ProvenanceRecord{},
	}
	for i, id := range ids {
		in.Results[KeyParse].Items = append(in.Results[KeyParse].Items, domain.Item{
			ID: id, Kind: parser.KindTextBlock, Fields: map[string]domain.Value{"text": domain.Text("block " + id)},
		})
		in.Provenance[id] = domain.ProvenanceRecord{ItemID: id, SourcePath: "p1/spec.pdf", SheetOrPage: "page 1", Offset: int64(i * 100), Confidence: 0.8}
	}
	return in
}

func TestSpecsStageBuildsRequirements(t *testing.T) {
	reasoner := &reasonerFake{fn: func(req ports.ReasoningRequest) (json.RawMessage, error) {
		if req.Operation != opExtractRequirements {
			t.Errorf("unexpected operation %q", req.Operation)
		}
		return json.RawMessage(`{"requirements":[
			{"block_id":"b1","text":"Concrete class B25","standard":"SP 70.13330","parameter":"strength","value":25,"unit":"MPa","confidence":0.9},
			{"block_id":"b1","text":"Cure for 7 days","standard":null,"parameter":null,"value":null,"unit":null}
		]}`), nil
	}}
	stage := &SpecsStage{reasoner: reasoner, batchBytes: defaultBatchBytes}
	out, err := stage.Run(context.Background(), textBlocks("b1", "b2"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.Items) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(out.Items))
	}
	first := out.Items[0]
	if first.ID != "req:b1:0" || first.Fields["value"].Unit != "mpa" || first.Fields["standard"].Text != "SP 70.13330" {
		t.Fatalf("unexpected requirement %+v", first)
	}
	if first.Source == nil || first.Source.Confidence != 0.8 || first.Source.SheetOrPage != "page 1" {
		t.Fatalf("confidence must not exceed the block, got %+v", first.Source)
	}
	if second := out.Items[1]; second.Source.Confidence != requirementConfidence || !second.Fields["value"].IsNull() {
		t.Fatalf("unexpected second requirement %+v", second)
	}
}

func TestSpecsStageBatchesLargeInput(t *testing.T) {
	reasoner := &reasonerFake{fn: func(ports.ReasoningRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"requirements":[]}`), nil
	}}
	stage := &SpecsStage{reasoner: reasoner, batchBytes: 10}
	if _, err := stage.Run(context.Background(), textBlocks("b1", "b2", "b3")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if reasoner.callCount() != 3 {
		t.Fatalf("expected one call per block, got %d", reasoner.callCount())
	}
}

func TestSpecsStageRejectsUnknownBlock(t *testing.T) {
	reasoner := &reasonerFake{fn: func(ports.ReasoningRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"requirements":[{"block_id":"invented","text":"x"}]}`), nil
	}}
	_, err := (&SpecsStage{reasoner: reasoner}).Run(context.Background(), textBlocks("b1"))
	if kind, _ := domain.ProviderKind(err); kind != domain.ProviderInvalidResponse {
		t.Fatalf("expected invalid response, got %v", err)
	}
}

func TestSpecsStageWithoutReasonerIsUnavailable(t *testing.T) {
	_, err := (&SpecsStage{}).Run(context.Background(), textBlocks("b1"))
	if kind, _ := domain.ProviderKind(err); kind != domain.ProviderUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestPlanStageToleratesNullInputs(t *testing.T) {
	reasoner := &reasonerFake{fn: func(ports.ReasoningRequest) (json.RawMessage, error) {
		t.Fatalf("reasoner must not be called without inputs")
		return nil, nil
	}}
	out, err := (&PlanStage{reasoner: reasoner}).Run(context.Background(), domain.StageInput{
		Results: map[string]*domain.StageResult{KeyPositions: nil, KeySpecs: nil},
	})
	if err != nil || len(out.Items) != 0 {
		t.Fatalf("expected empty plan, got %+v, %v", out, err)
	}
}

func planInputWithPosition() domain.StageInput {
	return domain.StageInput{
		Results: map[string]*domain.StageResult{
			KeyPositions: {Items: []domain.Item{{
				ID:   "pos:r1",
				Kind: KindPosition,
				Fields: map[string]domain.Value{
					"description": domain.Text("Concrete B25"),
					"quantity":    domain.Quantity(10, "m3"),
					"amount":      domain.Money(50000, "RUB"),
				},
			}}},
			KeySpecs: nil,
		},
		Provenance: map[string]domain.ProvenanceRecord{
			"pos:r1": {ItemID: "pos:r1", SourcePath: "p1/estimate.csv", Offset: 2, OffsetKind: "line", Confidence: 1},
		},
	}
}

func TestPlanStageBuildsTasks(t *testing.T) {
	reasoner := &reasonerFake{fn: func(req ports.ReasoningRequest) (json.RawMessage, error) {
		ctx, _ := json.Marshal(req.Context)
		if !strings.Contains(string(ctx), `"pos:r1"`) {
			t.Errorf("context misses positions: %s", ctx)
		}
		return json.RawMessage(`{"tasks":[{"title":"Pour concrete","sequence":1,"basis":["pos:r1"],"duration_days":3}]}`), nil
	}}
	out, err := (&PlanStage{reasoner: reasoner}).Run(context.Background(), planInputWithPosition())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.Items) != 1 {
		t.Fatalf("expected 1 task, got %d", len(out.Items))
	}
	task := out.Items[0]
	if task.ID != taskID("Pour concrete") || task.Fields["duration"].Unit != "day" || task.Fields["basis"].Text != "pos:r1" {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.Source == nil || task.Source.Path != "p1/estimate.csv" || task.Source.Confidence != taskConfidence {
		t.Fatalf("unexpected task source %+v", task.Source)
	}
}

func TestPlanStageRejectsUnknownBasis(t *testing.T) {
	reasoner := &reasonerFake{fn: func(ports.ReasoningRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"tasks":[{"title":"Dig","sequence":1,"basis":["pos:ghost"]}]}`), nil
	}}
	_, err := (&PlanStage{reasoner: reasoner}).Run(context.Background(), planInputWithPosition())
	if kind, _ := domain.ProviderKind(err); kind != domain.ProviderInvalidResponse {
		t.Fatalf("expected invalid response, got %v", err)
	}
}

func TestPlanStageMapsMalformedAnswerToInvalidResponse(t *testing.T) {
	reasoner := &reasonerFake{fn: func(ports.ReasoningRequest) (json.RawMessage, error) {
		return json.RawMessage(`{"tasks":"soon"}`), nil
	}}
	_, err := (&PlanStage{reasoner: reasoner}).Run(context.Background(), planInputWithPosition())
	if kind, _ := domain.ProviderKind(err); kind != domain.ProviderInvalidResponse {
		t.Fatalf("expected invalid response, got %v", err)
	}
}
