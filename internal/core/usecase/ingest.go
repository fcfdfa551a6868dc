package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
)

const defaultMaxArtifactBytes = 64 << 20

type IngestArtifactsUseCase struct {
	storage  ports.ObjectStorage
	queue    ports.MessageQueue
	maxBytes int64
	now      func() time.Time
}

func NewIngestArtifactsUseCase(storage ports.ObjectStorage, queue ports.MessageQueue, maxBytes int64) *IngestArtifactsUseCase {
	if maxBytes <= 0 {
		maxBytes = defaultMaxArtifactBytes
	}
	return &IngestArtifactsUseCase{
		storage:  storage,
		queue:    queue,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// Upload stores every file under a content-addressed key and hands the batch to the worker.
// Files with the same content inside one batch are stored once. An empty project id gets a new one.
func (uc *IngestArtifactsUseCase) Upload(ctx context.Context, projectID string, files []ports.UploadFile) (*domain.UploadBatch, error) {
	if len(files) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload artifacts", errors.New("no files in batch"))
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		projectID = uuid.NewString()
	}
	if err := domain.ValidateProjectID(projectID); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload artifacts", err)
	}

	batch := &domain.UploadBatch{ProjectID: projectID, Artifacts: make([]domain.Artifact, 0, len(files))}
	seen := make(map[string]struct{}, len(files))
	now := uc.now().UTC()

	for _, file := range files {
		artifact, data, err := uc.describe(file, now)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[artifact.ContentHash]; dup {
			continue
		}
		seen[artifact.ContentHash] = struct{}{}

		artifact.Key = fmt.Sprintf("%s/%s_%s", projectID, artifact.ContentHash[:16], sanitizeFilename(file.Filename))
		if err := uc.storage.Save(ctx, artifact.Key, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("save to object storage: %w", err)
		}
		batch.Artifacts = append(batch.Artifacts, artifact)
	}

	// Without a queue the caller runs the pipeline itself.
	if uc.queue == nil {
		return batch, nil
	}
	if err := uc.queue.PublishUploadBatch(ctx, *batch); err != nil {
		return nil, fmt.Errorf("publish upload batch: %w", err)
	}
	return batch, nil
}

func (uc *IngestArtifactsUseCase) describe(file ports.UploadFile, now time.Time) (domain.Artifact, []byte, error) {
	if file.Body == nil {
		return domain.Artifact{}, nil, domain.WrapError(domain.ErrInvalidInput, "read artifact", fmt.Errorf("%s has no body", file.Filename))
	}
	format := domain.DetectFormat(file.Filename, file.MediaType)
	if format == domain.FormatUnknown {
		return domain.Artifact{}, nil, domain.WrapError(domain.ErrInvalidInput, "detect format", fmt.Errorf("unsupported file %q", file.Filename))
	}
	data, err := io.ReadAll(io.LimitReader(file.Body, uc.maxBytes+1))
	if err != nil {
		return domain.Artifact{}, nil, fmt.Errorf("read artifact %s: %w", file.Filename, err)
	}
	if int64(len(data)) > uc.maxBytes {
		return domain.Artifact{}, nil, domain.WrapError(domain.ErrInvalidInput, "read artifact", fmt.Errorf("%s exceeds %d bytes", file.Filename, uc.maxBytes))
	}
	if len(data) == 0 {
		return domain.Artifact{}, nil, domain.WrapError(domain.ErrInvalidInput, "read artifact", fmt.Errorf("%s is empty", file.Filename))
	}
	sum := sha256.Sum256(data)
	return domain.Artifact{
		Filename:    filepath.Base(file.Filename),
		MediaType:   file.MediaType,
		Format:      format,
		ContentHash: hex.EncodeToString(sum[:]),
		Size:        int64(len(data)),
		UploadedAt:  now,
	}, data, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "artifact.bin"
	}
	return base
}
