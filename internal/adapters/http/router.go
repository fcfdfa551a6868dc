package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/kirillkom/construction-pipeline/internal/config"
	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/observability/metrics"
)

const multipartMemory = 32 << 20

type Router struct {
	cfg      config.Config
	ingest   ports.ArtifactIngestor
	runner   ports.PipelineRunner
	projects ports.ProjectReader
	modules  ports.InteractiveModules
	metrics  *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	ingest ports.ArtifactIngestor,
	runner ports.PipelineRunner,
	projects ports.ProjectReader,
	modules ports.InteractiveModules,
) *Router {
	return &Router{
		cfg:      cfg,
		ingest:   ingest,
		runner:   runner,
		projects: projects,
		modules:  modules,
	}
}

// WithMetrics instruments /v1 routes and exposes /metrics.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/projects/{project_id}/artifacts", rt.uploadArtifacts)
	api.HandleFunc("POST /v1/projects/{project_id}/runs", rt.rerunProject)
	api.HandleFunc("GET /v1/projects/{project_id}", rt.getProject)
	api.HandleFunc("GET /v1/projects/{project_id}/runs", rt.listRuns)
	api.HandleFunc("GET /v1/projects/{project_id}/provenance/{item_id}", rt.getProvenance)
	api.HandleFunc("GET /v1/projects/{project_id}/provenance/{item_id}/versions", rt.listProvenanceVersions)
	api.HandleFunc("GET /v1/projects/{project_id}/views/{module}", rt.renderView)

	var v1 http.Handler = api
	if rt.metrics != nil {
		v1 = rt.metrics.Middleware("api", v1)
	}
	v1 = backpressureMiddleware(v1, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	v1 = rateLimitMiddleware(v1, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", v1)

	return requestIDMiddleware(accessLogMiddleware(mux))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadArtifacts(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form is required"})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}

	files := make([]ports.UploadFile, 0, len(headers))
	var total int64
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot read uploaded file " + header.Filename})
			return
		}
		defer closeFile(file)
		files = append(files, ports.UploadFile{
			Filename:  header.Filename,
			MediaType: header.Header.Get("Content-Type"),
			Body:      file,
		})
		total += header.Size
	}

	batch, err := rt.ingest.Upload(r.Context(), r.PathValue("project_id"), files)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordUpload(total)
	}
	writeJSON(w, http.StatusAccepted, batch)
}

type runResponse struct {
	ProjectID string               `json:"project_id"`
	Status    domain.ProjectStatus `json:"status"`
	Run       *domain.RunRecord    `json:"run"`
}

// rerunProject runs every registered stage against all artifacts the project already has.
func (rt *Router) rerunProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	// A rerun never creates a project.
	if _, err := rt.projects.History(r.Context(), projectID); err != nil {
		writeError(w, r, err)
		return
	}

	project, run, err := rt.runner.Run(r.Context(), domain.RunRequest{
		ProjectID: projectID,
		Trigger:   domain.TriggerRerun,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{ProjectID: project.ID, Status: project.Status, Run: run})
}

func (rt *Router) getProject(w http.ResponseWriter, r *http.Request) {
	var scope []string
	for _, key := range strings.Split(r.URL.Query().Get("scope"), ",") {
		if key = strings.TrimSpace(key); key != "" {
			scope = append(scope, key)
		}
	}

	view, err := rt.projects.View(r.Context(), r.PathValue("project_id"), scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) listRuns(w http.ResponseWriter, r *http.Request) {
	history, err := rt.projects.History(r.Context(), r.PathValue("project_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if history == nil {
		history = []domain.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": history})
}

func (rt *Router) getProvenance(w http.ResponseWriter, r *http.Request) {
	record, err := rt.projects.Provenance(r.Context(), r.PathValue("project_id"), r.PathValue("item_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) listProvenanceVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := rt.projects.ProvenanceVersions(r.Context(), r.PathValue("project_id"), r.PathValue("item_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (rt *Router) renderView(w http.ResponseWriter, r *http.Request) {
	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	view, err := rt.modules.Render(r.Context(), r.PathValue("project_id"), r.PathValue("module"), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func closeFile(f multipart.File) {
	_ = f.Close()
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	message := err.Error()
	var corruption *domain.CacheCorruptionError
	if errors.As(err, &corruption) {
		message = domain.ErrCacheCorruption.Error()
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
