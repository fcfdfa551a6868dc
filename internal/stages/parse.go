package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser"
)

const parseConcurrency = 4

// ParseStage reads every artifact of the batch from object storage and runs the parser for its
// format. Recoverable problems become parse_issue items attributed to the artifact.
type ParseStage struct {
	storage ports.ObjectStorage
	parsers map[domain.ArtifactFormat]ports.Parser
	logger  *slog.Logger
}

type artifactResult struct {
	result ports.ParseResult
	err    error
}

func (s *ParseStage) Run(ctx context.Context, in domain.StageInput) (domain.StageOutput, error) {
	if len(in.Artifacts) == 0 {
		return domain.StageOutput{}, nil
	}
	if s.storage == nil {
		return domain.StageOutput{}, domain.NewProviderError(domain.ProviderUnavailable, "parse", errors.New("object storage is not configured"))
	}

	results := make([]artifactResult, len(in.Artifacts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parseConcurrency)
	for i, artifact := range in.Artifacts {
		g.Go(func() error {
			res, err := s.parseArtifact(gctx, artifact)
			results[i] = artifactResult{result: res, err: err}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.StageOutput{}, err
	}

	var (
		out      domain.StageOutput
		firstErr error
		failed   int
	)
	for i, artifact := range in.Artifacts {
		res := results[i]
		if res.err != nil {
			failed++
			if firstErr == nil {
				firstErr = res.err
			}
			s.logger.Warn("artifact_parse_failed",
				"project_id", in.ProjectID,
				"artifact", artifact.Key,
				"format", artifact.Format,
				"error", res.err,
			)
			out.Items = append(out.Items, issueItem(artifact, 0, "", res.err.Error()))
			continue
		}
		out.Items = append(out.Items, res.result.Items...)
		for n, issue := range res.result.Issues {
			out.Items = append(out.Items, issueItem(artifact, n, issue.Locator, issue.Message))
		}
		s.logger.Info("artifact_parsed",
			"project_id", in.ProjectID,
			"artifact", artifact.Key,
			"format", artifact.Format,
			"items", len(res.result.Items),
			"issues", len(res.result.Issues),
		)
	}
	if failed == len(in.Artifacts) {
		return domain.StageOutput{}, firstErr
	}
	return out, nil
}

func (s *ParseStage) parseArtifact(ctx context.Context, artifact domain.Artifact) (ports.ParseResult, error) {
	p, ok := s.parsers[artifact.Format]
	if !ok {
		return ports.ParseResult{}, domain.NewProviderError(domain.ProviderInvalidResponse, "parse "+artifact.Key,
			fmt.Errorf("no parser for format %q", artifact.Format))
	}
	rc, err := s.storage.Open(ctx, artifact.Key)
	if err != nil {
		return ports.ParseResult{}, domain.NewProviderError(domain.ProviderUnavailable, "open "+artifact.Key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return ports.ParseResult{}, domain.NewProviderError(domain.ProviderUnavailable, "read "+artifact.Key, err)
	}
	return p.Parse(ctx, ports.ParseInput{Artifact: artifact, Data: data})
}

func issueItem(artifact domain.Artifact, n int, locator, message string) domain.Item {
	loc := domain.Null()
	if locator != "" {
		loc = domain.Text(locator)
	}
	return domain.Item{
		ID:   parser.ItemID(artifact, "issue", n),
		Kind: KindParseIssue,
		Fields: map[string]domain.Value{
			"artifact": domain.Text(artifact.Filename),
			"locator":  loc,
			"message":  domain.Text(message),
		},
		Source: &domain.SourceRef{
			Path:        parser.SourcePath(artifact),
			SheetOrPage: locator,
			Confidence:  1,
		},
	}
}
