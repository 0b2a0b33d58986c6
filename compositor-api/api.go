package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blueprint-labs/blueprint/internal/dispatch"
	"github.com/blueprint-labs/blueprint/internal/domain"
	"github.com/blueprint-labs/blueprint/internal/platform/auditlog"
	"github.com/blueprint-labs/blueprint/internal/platform/httpserver"
	"github.com/blueprint-labs/blueprint/internal/repo"
	"github.com/blueprint-labs/blueprint/internal/storage/objectstore"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	anonymousActor   = "anonymous"
)

type submitter interface {
	Submit(runID string, tmpl domain.Template) error
	Pending() int
}

type assetStore interface {
	PutAsset(ctx context.Context, loc domain.Locator, fileName, contentType string, data []byte) (domain.AssetInfo, error)
	DeleteAsset(ctx context.Context, loc domain.Locator) error
	ListOutputs(ctx context.Context, runID string, ttl time.Duration) ([]objectstore.Output, error)
}

type compositorAPI struct {
	logger           *slog.Logger
	runs             repo.RunRepository
	packs            repo.PackRepository
	assets           assetStore
	dispatcher       submitter
	audit            func(ctx context.Context, event auditlog.Event) error
	maxTemplateBytes int64
	maxAssetBytes    int64
	presignTTL       time.Duration
	now              func() time.Time
}

func (api *compositorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/templates/runs", api.handleSubmitRun)
	mux.HandleFunc("GET /v1/runs", api.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/outputs", api.handleListOutputs)

	mux.HandleFunc("POST /v1/packs", api.handleCreatePack)
	mux.HandleFunc("GET /v1/packs", api.handleListPacks)
	mux.HandleFunc("GET /v1/packs/{pack_id}", api.handleGetPack)
	mux.HandleFunc("PUT /v1/packs/{pack_id}/assets/{path...}", api.handlePutPackAsset)
	mux.HandleFunc("DELETE /v1/packs/{pack_id}/assets/{path...}", api.handleDeletePackAsset)
	mux.HandleFunc("PUT /v1/assets/{path...}", api.handlePutLooseAsset)
	mux.HandleFunc("DELETE /v1/assets/{path...}", api.handleDeleteLooseAsset)
}

type runResponse struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toRunResponse(run domain.Run) runResponse {
	return runResponse{
		RunID:     run.ID,
		Status:    string(run.Status),
		Progress:  run.Progress,
		Author:    run.Author,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
}

func (api *compositorAPI) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, api.maxTemplateBytes+1))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}
	if int64(len(body)) > api.maxTemplateBytes {
		api.writeError(w, r, http.StatusRequestEntityTooLarge, "template_too_large")
		return
	}

	tmpl, err := domain.DecodeTemplate(body)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			api.writeError(w, r, http.StatusBadRequest, "invalid_template", verr.Issues...)
			return
		}
		api.writeError(w, r, http.StatusBadRequest, "invalid_template", err.Error())
		return
	}

	now := api.now().UTC()
	run := domain.Run{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Status:    domain.RunPending,
		Author:    actorFrom(r),
	}
	if err := api.runs.CreateRun(r.Context(), run); err != nil {
		api.logger.Error("create run failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.recordSubmission(r, run, tmpl)

	if err := api.dispatcher.Submit(run.ID, tmpl); err != nil {
		status, code := http.StatusInternalServerError, "internal_error"
		if errors.Is(err, dispatch.ErrQueueFull) {
			status, code = http.StatusServiceUnavailable, "queue_full"
		} else if errors.Is(err, dispatch.ErrQueueClosed) {
			status, code = http.StatusServiceUnavailable, "shutting_down"
		}
		api.logger.Warn("submit run failed", "run_id", run.ID, "error", err)
		if uerr := api.runs.UpdateRunStatus(context.WithoutCancel(r.Context()), run.ID, domain.RunFailed, 0); uerr != nil {
			api.logger.Error("mark rejected run failed", "run_id", run.ID, "error", uerr)
		}
		api.writeError(w, r, status, code)
		return
	}

	api.logger.Info("run submitted", "run_id", run.ID, "aliases", len(tmpl.Aliases), "layers", len(tmpl.Layers), "pending", api.dispatcher.Pending())
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	api.writeJSON(w, http.StatusAccepted, toRunResponse(run))
}

func (api *compositorAPI) recordSubmission(r *http.Request, run domain.Run, tmpl domain.Template) {
	if api.audit == nil {
		return
	}
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	event := auditlog.Event{
		OccurredAt: run.CreatedAt,
		RunID:      run.ID,
		Action:     auditlog.ActionSubmitted,
		Actor:      run.Author,
		RequestID:  requestID,
		IP:         requestIP(r.RemoteAddr),
		UserAgent:  r.UserAgent(),
		Payload: map[string]any{
			"aliases":     tmpl.AliasNames(),
			"layers":      len(tmpl.Layers),
			"canvas_size": tmpl.CanvasSize,
		},
	}
	auditCtx, cancel := context.WithTimeout(r.Context(), 750*time.Millisecond)
	defer cancel()
	if err := api.audit(auditCtx, event); err != nil {
		api.logger.Warn("audit submission failed", "run_id", run.ID, "error", err)
	}
}

func (api *compositorAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}
	run, err := api.runs.GetRun(r.Context(), runID)
	if err != nil {
		api.writeRepoError(w, r, "run_not_found", err)
		return
	}
	api.writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (api *compositorAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
		return
	}
	filter := repo.RunFilter{
		Author: strings.TrimSpace(r.URL.Query().Get("author")),
		Limit:  limit,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := domain.ParseRunStatus(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
		filter.Status = status
	}

	runs, err := api.runs.ListRuns(r.Context(), filter)
	if err != nil {
		api.logger.Error("list runs failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

type outputResponse struct {
	Name string `json:"name"`
	Size int64  `json:"size_bytes"`
	URL  string `json:"url"`
}

func (api *compositorAPI) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	run, err := api.runs.GetRun(r.Context(), runID)
	if err != nil {
		api.writeRepoError(w, r, "run_not_found", err)
		return
	}
	outputs, err := api.assets.ListOutputs(r.Context(), run.ID, api.presignTTL)
	if err != nil {
		api.logger.Error("list outputs failed", "run_id", run.ID, "error", err)
		api.writeError(w, r, http.StatusBadGateway, "object_store_error")
		return
	}
	out := make([]outputResponse, 0, len(outputs))
	for _, o := range outputs {
		out = append(out, outputResponse{Name: o.Name, Size: o.Size, URL: o.URL})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  run.ID,
		"status":  string(run.Status),
		"outputs": out,
	})
}

type packPayload struct {
	PackID      string   `json:"pack_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func toPackPayload(p domain.AssetPack) packPayload {
	return packPayload{PackID: p.ID, Name: p.Name, Description: p.Description, Tags: p.Tags}
}

func (api *compositorAPI) handleCreatePack(w http.ResponseWriter, r *http.Request) {
	var req packPayload
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	pack := domain.AssetPack{
		ID:          req.PackID,
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Tags:        req.Tags,
	}
	if pack.Name == "" {
		pack.Name = pack.ID
	}
	if err := pack.Validate(); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_pack", err.Error())
		return
	}
	if err := api.packs.CreatePack(r.Context(), pack); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			api.writeError(w, r, http.StatusConflict, "pack_exists")
			return
		}
		api.logger.Error("create pack failed", "pack_id", pack.ID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.logger.Info("pack created", "pack_id", pack.ID, "actor", actorFrom(r))
	w.Header().Set("Location", "/v1/packs/"+pack.ID)
	api.writeJSON(w, http.StatusCreated, toPackPayload(pack))
}

func (api *compositorAPI) handleListPacks(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
		return
	}
	packs, err := api.packs.ListPacks(r.Context(), repo.PackFilter{
		Tag:   strings.TrimSpace(r.URL.Query().Get("tag")),
		Limit: limit,
	})
	if err != nil {
		api.logger.Error("list packs failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]packPayload, 0, len(packs))
	for _, p := range packs {
		out = append(out, toPackPayload(p))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"packs": out})
}

func (api *compositorAPI) handleGetPack(w http.ResponseWriter, r *http.Request) {
	pack, err := api.packs.GetPack(r.Context(), strings.TrimSpace(r.PathValue("pack_id")))
	if err != nil {
		api.writeRepoError(w, r, "pack_not_found", err)
		return
	}
	api.writeJSON(w, http.StatusOK, toPackPayload(pack))
}

func (api *compositorAPI) handlePutPackAsset(w http.ResponseWriter, r *http.Request) {
	packID := strings.TrimSpace(r.PathValue("pack_id"))
	exists, err := api.packs.PackExists(r.Context(), packID)
	if err != nil {
		api.logger.Error("pack lookup failed", "pack_id", packID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if !exists {
		api.writeError(w, r, http.StatusNotFound, "pack_not_found")
		return
	}
	api.putAsset(w, r, domain.Locator{Pack: packID, Path: r.PathValue("path")})
}

func (api *compositorAPI) handlePutLooseAsset(w http.ResponseWriter, r *http.Request) {
	api.putAsset(w, r, domain.Locator{Path: r.PathValue("path")})
}

type assetResponse struct {
	Ref         string `json:"ref"`
	PackID      string `json:"pack_id,omitempty"`
	Path        string `json:"path"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size_bytes"`
}

func (api *compositorAPI) putAsset(w http.ResponseWriter, r *http.Request, loc domain.Locator) {
	if strings.TrimSpace(loc.Path) == "" {
		api.writeError(w, r, http.StatusBadRequest, "path_required")
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, api.maxAssetBytes+1))
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}
	if int64(len(data)) > api.maxAssetBytes {
		api.writeError(w, r, http.StatusRequestEntityTooLarge, "asset_too_large")
		return
	}
	if len(data) == 0 {
		api.writeError(w, r, http.StatusBadRequest, "empty_asset")
		return
	}

	contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	info, err := api.assets.PutAsset(r.Context(), loc, r.Header.Get("X-File-Name"), contentType, data)
	if err != nil {
		if errors.Is(err, objectstore.ErrInvalidKey) {
			api.writeError(w, r, http.StatusBadRequest, "invalid_path")
			return
		}
		api.logger.Error("put asset failed", "asset", loc.String(), "error", err)
		api.writeError(w, r, http.StatusBadGateway, "object_store_error")
		return
	}
	api.logger.Info("asset stored", "asset", loc.String(), "size_bytes", info.Size, "actor", actorFrom(r))
	api.writeJSON(w, http.StatusCreated, assetResponse{
		Ref:         info.Locator.String(),
		PackID:      info.Locator.Pack,
		Path:        info.Locator.Path,
		FileName:    info.FileName,
		ContentType: info.ContentType,
		Size:        info.Size,
	})
}

func (api *compositorAPI) handleDeletePackAsset(w http.ResponseWriter, r *http.Request) {
	api.deleteAsset(w, r, domain.Locator{Pack: strings.TrimSpace(r.PathValue("pack_id")), Path: r.PathValue("path")})
}

func (api *compositorAPI) handleDeleteLooseAsset(w http.ResponseWriter, r *http.Request) {
	api.deleteAsset(w, r, domain.Locator{Path: r.PathValue("path")})
}

// deleteAsset does not touch runs that already rendered the asset; their
// outputs stay in the outputs bucket.
func (api *compositorAPI) deleteAsset(w http.ResponseWriter, r *http.Request, loc domain.Locator) {
	err := api.assets.DeleteAsset(r.Context(), loc)
	switch {
	case err == nil:
	case errors.Is(err, objectstore.ErrInvalidKey):
		api.writeError(w, r, http.StatusBadRequest, "invalid_path")
		return
	case errors.Is(err, objectstore.ErrObjectNotFound):
		api.writeError(w, r, http.StatusNotFound, "asset_not_found")
		return
	default:
		api.logger.Error("delete asset failed", "asset", loc.String(), "error", err)
		api.writeError(w, r, http.StatusBadGateway, "object_store_error")
		return
	}
	api.logger.Info("asset deleted", "asset", loc.String(), "actor", actorFrom(r))
	w.WriteHeader(http.StatusNoContent)
}

func (api *compositorAPI) writeRepoError(w http.ResponseWriter, r *http.Request, notFoundCode string, err error) {
	if errors.Is(err, repo.ErrNotFound) {
		api.writeError(w, r, http.StatusNotFound, notFoundCode)
		return
	}
	api.logger.Error("repository error", "error", err)
	api.writeError(w, r, http.StatusInternalServerError, "internal_error")
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, maxListLimit), nil
}

func actorFrom(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
		return actor
	}
	return anonymousActor
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *compositorAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func (api *compositorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string, details ...string) {
	httpserver.WriteError(w, r, status, code, details...)
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
