package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
)

type ingestStorageFake struct {
	saved map[string]string
	err   error
}

func (f *ingestStorageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.saved == nil {
		f.saved = map[string]string{}
	}
	f.saved[key] = string(raw)
	return nil
}

func (f *ingestStorageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := f.saved[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type ingestQueueFake struct {
	batches []domain.UploadBatch
	err     error
}

func (f *ingestQueueFake) PublishUploadBatch(_ context.Context, batch domain.UploadBatch) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *ingestQueueFake) SubscribeUploadBatches(context.Context, func(context.Context, domain.UploadBatch) error) error {
	return errors.New("not implemented")
}

func upload(name, media, body string) ports.UploadFile {
	return ports.UploadFile{Filename: name, MediaType: media, Body: bytes.NewBufferString(body)}
}

func TestIngestUploadSuccess(t *testing.T) {
	storage := &ingestStorageFake{}
	queue := &ingestQueueFake{}
	uc := NewIngestArtifactsUseCase(storage, queue, 0)

	batch, err := uc.Upload(context.Background(), "house-7", []ports.UploadFile{
		upload("smeta 1.csv", "text/csv", "a;b"),
		upload("spec.txt", "", "concrete B25"),
		upload("copy.csv", "text/csv", "a;b"),
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(batch.Artifacts) != 2 {
		t.Fatalf("expected duplicate content stored once, got %d artifacts", len(batch.Artifacts))
	}
	first := batch.Artifacts[0]
	if first.Format != domain.FormatCSV || first.Size != 3 || len(first.ContentHash) != 64 {
		t.Fatalf("unexpected artifact %+v", first)
	}
	if !strings.HasPrefix(first.Key, "house-7/") || !strings.HasSuffix(first.Key, "_smeta_1.csv") {
		t.Fatalf("expected sanitized content addressed key, got %s", first.Key)
	}
	if storage.saved[first.Key] != "a;b" {
		t.Fatalf("expected saved body, got %q", storage.saved[first.Key])
	}
	if batch.Artifacts[1].Format != domain.FormatText {
		t.Fatalf("expected text format, got %s", batch.Artifacts[1].Format)
	}
	if len(queue.batches) != 1 || queue.batches[0].ProjectID != "house-7" {
		t.Fatalf("expected one published batch, got %+v", queue.batches)
	}
}

func TestIngestGeneratesProjectID(t *testing.T) {
	uc := NewIngestArtifactsUseCase(&ingestStorageFake{}, &ingestQueueFake{}, 0)

	batch, err := uc.Upload(context.Background(), " ", []ports.UploadFile{upload("a.txt", "", "x")})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if batch.ProjectID == "" {
		t.Fatal("expected generated project id")
	}
}

func TestIngestRejectsInvalidFiles(t *testing.T) {
	cases := []struct {
		name  string
		files []ports.UploadFile
	}{
		{name: "empty batch"},
		{name: "unknown format", files: []ports.UploadFile{upload("photo.jpg", "image/jpeg", "x")}},
		{name: "empty body", files: []ports.UploadFile{upload("a.txt", "", "")}},
		{name: "too large", files: []ports.UploadFile{upload("a.txt", "", strings.Repeat("x", 11))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := NewIngestArtifactsUseCase(&ingestStorageFake{}, &ingestQueueFake{}, 10)
			_, err := uc.Upload(context.Background(), "p", tc.files)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestIngestUploadQueueError(t *testing.T) {
	queue := &ingestQueueFake{err: errors.New("queue down")}
	uc := NewIngestArtifactsUseCase(&ingestStorageFake{}, queue, 0)

	_, err := uc.Upload(context.Background(), "p", []ports.UploadFile{upload("report.txt", "text/plain", "hello")})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "publish upload batch") {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestIngestWithoutQueueOnlyStores(t *testing.T) {
	storage := &ingestStorageFake{}
	uc := NewIngestArtifactsUseCase(storage, nil, 0)

	batch, err := uc.Upload(context.Background(), "house-7", []ports.UploadFile{upload("spec.txt", "", "concrete B25")})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(storage.saved) != 1 || len(batch.Artifacts) != 1 {
		t.Fatalf("expected one stored artifact, got %d saved, %d in batch", len(storage.saved), len(batch.Artifacts))
	}
}

func TestIngestRejectsUnsafeProjectID(t *testing.T) {
	uc := NewIngestArtifactsUseCase(&ingestStorageFake{}, &ingestQueueFake{}, 0)
	for _, id := range []string{"../etc", "a/b", ".hidden"} {
		_, err := uc.Upload(context.Background(), id, []ports.UploadFile{upload("spec.txt", "", "x")})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("project %q: expected ErrInvalidInput, got %v", id, err)
		}
	}
}
