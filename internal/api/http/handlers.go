package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Jackela/Novel-Engine-sub019/internal/api/middleware"
	"github.com/Jackela/Novel-Engine-sub019/internal/domain/workspace"
	"github.com/Jackela/Novel-Engine-sub019/internal/infrastructure/logging"
	"github.com/Jackela/Novel-Engine-sub019/internal/infrastructure/monitoring"
	"github.com/Jackela/Novel-Engine-sub019/internal/shared/id"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	manager         *workspace.Manager
	characters      *workspace.CharacterStore
	runs            *workspace.RunStore
	metrics         *monitoring.Metrics
	logger          *logging.Logger
	maxArchiveBytes int64
}

// NewHandlers creates a new handler set.
func NewHandlers(
	manager *workspace.Manager,
	characters *workspace.CharacterStore,
	runs *workspace.RunStore,
	metrics *monitoring.Metrics,
	logger *logging.Logger,
	maxArchiveBytes int64,
) *Handlers {
	return &Handlers{
		manager:         manager,
		characters:      characters,
		runs:            runs,
		metrics:         metrics,
		logger:          logger,
		maxArchiveBytes: maxArchiveBytes,
	}
}

// Health handles health checks.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "guest-workspace-store",
		"ttl":     h.manager.TTL().String(),
	})
}

// GetWorkspace returns the resolved workspace's manifest.
func (h *Handlers) GetWorkspace(c *gin.Context) {
	wsID, ok := middleware.WorkspaceID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no resolved workspace"})
		return
	}
	manifest, err := h.manager.LoadManifest(wsID.String())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, manifest)
}

// DeleteWorkspace removes the resolved workspace entirely. The next request
// under the same token provisions a fresh workspace.
func (h *Handlers) DeleteWorkspace(c *gin.Context) {
	wsID, ok := middleware.WorkspaceID(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no resolved workspace"})
		return
	}
	if err := h.manager.Delete(wsID.String()); err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.WorkspacesDeleted.Inc()
	c.JSON(http.StatusOK, gin.H{"deleted": true, "workspace_id": wsID})
}

// characterRequest is the write payload for a character. The id comes from
// the URL; free-form attributes are preserved verbatim.
type characterRequest struct {
	Name        string         `json:"name" binding:"required"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes"`
}

// ListCharacters lists the workspace's characters in id order.
func (h *Handlers) ListCharacters(c *gin.Context) {
	wsID, _ := middleware.WorkspaceID(c)
	characters, err := h.characters.List(c.Request.Context(), wsID.String())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.EntityOps.WithLabelValues("characters", "list").Inc()
	c.JSON(http.StatusOK, gin.H{"characters": characters, "count": len(characters)})
}

// GetCharacter returns one character.
func (h *Handlers) GetCharacter(c *gin.Context) {
	wsID, _ := middleware.WorkspaceID(c)
	character, err := h.characters.Get(c.Request.Context(), wsID.String(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.EntityOps.WithLabelValues("characters", "get").Inc()
	c.JSON(http.StatusOK, character)
}

// PutCharacter creates or replaces a character under the id in the URL.
func (h *Handlers) PutCharacter(c *gin.Context) {
	wsID, _ := middleware.WorkspaceID(c)

	var req characterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	character := &workspace.Character{
		ID:          id.CharacterID(c.Param("id")),
		Name:        req.Name,
		Description: req.Description,
		Attributes:  req.Attributes,
	}
	if err := h.characters.Put(c.Request.Context(), wsID.String(), character); err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.EntityOps.WithLabelValues("characters", "put").Inc()
	c.JSON(http.StatusOK, character)
}

// DeleteCharacter removes a character.
func (h *Handlers) DeleteCharacter(c *gin.Context) {
	wsID, _ := middleware.WorkspaceID(c)
	if err := h.characters.Delete(c.Request.Context(), wsID.String(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.EntityOps.WithLabelValues("characters", "delete").Inc()
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": c.Param("id")})
}

// runRequest is the creation payload for a run.
type runRequest struct {
	CharacterIDs []id.CharacterID `json:"character_ids" binding:"required"`
}

// statusRequest is the payload for a run status transition.
type statusRequest struct {
	Status workspace.RunStatus `json:"status" binding:"required"`
	Output map[string]any      `json:"output"`
}

// ListRuns lists the workspace's runs in id order.
func (h *Handlers) ListRuns(c *gin.Context) {
	wsID, _ := middleware.WorkspaceID(c)
	runs, err := h.runs.List(c.Request.Context(), wsID.String())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.EntityOps.WithLabelValues("runs", "list").Inc()
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetRun returns one run.
func (h *Handlers) GetRun(c *gin.Context) {
	wsID, _ := middleware.WorkspaceID(c)
	run, err := h.runs.Get(c.Request.Context(), wsID.String(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.EntityOps.WithLabelValues("runs", "get").Inc()
	c.JSON(http.StatusOK, run)
}

// CreateRun creates a pending run with a server-generated id.
func (h *Handlers) CreateRun(c *gin.Context) {
	wsID, _ := middleware.WorkspaceID(c)

	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run := &workspace.Run{
		ID:           id.NewRunID(),
		CharacterIDs: req.CharacterIDs,
		Status:       workspace.StatusPending,
	}
	if err := h.runs.Put(c.Request.Context(), wsID.String(), run); err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.EntityOps.WithLabelValues("runs", "create").Inc()
	c.JSON(http.StatusCreated, run)
}

// UpdateRunStatus applies a monotonic status transition, optionally attaching
// output produced by the run. The read-modify-write here is not serialized
// across requests: concurrent posts for the same run race on the final
// rename, and each writer's transition is checked against the state it read,
// not the state it replaces.
func (h *Handlers) UpdateRunStatus(c *gin.Context) {
	wsID, _ := middleware.WorkspaceID(c)

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.runs.Get(c.Request.Context(), wsID.String(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	run.Status = req.Status
	if req.Output != nil {
		run.Output = req.Output
	}
	if err := h.runs.Put(c.Request.Context(), wsID.String(), run); err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.EntityOps.WithLabelValues("runs", "status").Inc()
	c.JSON(http.StatusOK, run)
}

// ExportWorkspace streams the workspace as a gzipped tar archive.
func (h *Handlers) ExportWorkspace(c *gin.Context) {
	wsID, _ := middleware.WorkspaceID(c)
	archive, err := h.manager.Export(c.Request.Context(), wsID.String())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.Exports.Inc()
	c.Header("Content-Disposition", `attachment; filename="workspace-`+wsID.String()+`.tar.gz"`)
	c.Data(http.StatusOK, "application/gzip", archive)
}

// ImportWorkspace restores an uploaded archive into a brand-new workspace
// and binds the caller's session to it by issuing a fresh token.
func (h *Handlers) ImportWorkspace(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxArchiveBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read archive"})
		return
	}
	if int64(len(body)) > h.maxArchiveBytes {
		h.metrics.Imports.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "archive exceeds size limit"})
		return
	}

	manifest, err := h.manager.Import(c.Request.Context(), body)
	if err != nil {
		h.metrics.Imports.WithLabelValues("rejected").Inc()
		h.fail(c, err)
		return
	}

	token, err := h.manager.BindSession(c.Request.Context(), manifest.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.Imports.WithLabelValues("ok").Inc()

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, 30*24*60*60, "/", "", false, true)
	c.Header(middleware.SessionHeader, token)
	c.JSON(http.StatusCreated, gin.H{"workspace_id": manifest.ID, "imported": true})
}

// Reap triggers a TTL sweep. Sweeps are single-flight; a concurrent trigger
// reports skipped=true.
func (h *Handlers) Reap(c *gin.Context) {
	result, err := h.manager.Reap(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if !result.Skipped {
		h.metrics.ReapSweeps.Inc()
		h.metrics.WorkspacesReaped.Add(float64(result.Reaped))
		h.metrics.ReapFailures.Add(float64(result.Failed))
	}
	c.JSON(http.StatusOK, result)
}

// fail maps store errors onto HTTP statuses.
func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, workspace.ErrPathTraversal),
		errors.Is(err, workspace.ErrMalformedArchive),
		errors.Is(err, workspace.ErrInvalidEntity):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, workspace.ErrInvalidTransition),
		errors.Is(err, workspace.ErrSchemaVersion):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("store operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
