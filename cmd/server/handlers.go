package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/babblebear/internal/adapters"
	"github.com/ZanzyTHEbar/babblebear/internal/babble"
	"github.com/ZanzyTHEbar/babblebear/internal/dashboard"
	apperrors "github.com/ZanzyTHEbar/babblebear/internal/errors"
	"github.com/ZanzyTHEbar/babblebear/internal/resilience"
)

type handlers struct {
	deps *routerDeps
}

func (h *handlers) health(c *gin.Context) {
	services := h.deps.health.All()

	response := gin.H{
		"status":           "ok",
		"timestamp":        time.Now().Format(time.RFC3339),
		"version":          version,
		"services":         services,
		"circuit_breakers": h.deps.breakers.Stats(),
		"token":            h.deps.tokenInfo,
	}

	var warnings []string
	if h.deps.tokenInfo.Expired {
		warnings = append(warnings, "backend API token has expired")
	} else if h.deps.tokenInfo.ExpiringSoon {
		warnings = append(warnings, "backend API token expires in "+h.deps.tokenInfo.TimeRemaining)
	}
	if len(warnings) > 0 {
		response["warnings"] = warnings
	}

	if backend, ok := services[adapters.ServiceName]; ok && backend.Level == resilience.LevelCritical {
		response["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (h *handlers) metricsSnapshot(c *gin.Context) {
	response := gin.H{
		"metrics":   h.deps.metrics.GetStats(),
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if h.deps.memory != nil {
		if latest, ok := h.deps.memory.Latest(); ok {
			response["memory"] = latest
		}
	}

	stores := make(gin.H, len(h.deps.stores))
	for name, stats := range h.deps.stores {
		stores[name] = stats()
	}
	response["stores"] = stores

	c.JSON(http.StatusOK, response)
}

func (h *handlers) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.cache.Stats())
}

func (h *handlers) dashboard(c *gin.Context) {
	summary, err := h.deps.service.Summary(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handlers) listChildren(c *gin.Context) {
	children, err := h.deps.service.Children(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"children": children, "count": len(children)})
}

// bindChild decodes, cleans and validates a child profile body. It writes
// the error response itself and reports whether the handler may go on.
func (h *handlers) bindChild(c *gin.Context) (babble.ChildInput, bool) {
	var in babble.ChildInput
	if err := c.ShouldBindJSON(&in); err != nil {
		apperrors.Respond(c, apperrors.NewValidationError("invalid request body", err.Error()))
		return in, false
	}

	in.Normalize()
	problems := h.deps.security.CleanChildInput(&in)
	for field, msg := range in.Validate(time.Now()) {
		if problems == nil {
			problems = make(map[string]string)
		}
		if _, seen := problems[field]; !seen {
			problems[field] = msg
		}
	}
	if len(problems) > 0 {
		apperrors.Respond(c, apperrors.NewValidationErrorWithMap(problems))
		return in, false
	}
	return in, true
}

func (h *handlers) createChild(c *gin.Context) {
	in, ok := h.bindChild(c)
	if !ok {
		return
	}

	child, err := h.deps.service.CreateChild(c.Request.Context(), in)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, child)
}

func (h *handlers) updateChild(c *gin.Context) {
	in, ok := h.bindChild(c)
	if !ok {
		return
	}

	child, err := h.deps.service.UpdateChild(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, child)
}

func (h *handlers) childScore(c *gin.Context) {
	result, err := h.deps.service.ChildScore(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) childRecordings(c *gin.Context) {
	history, err := h.deps.service.ChildRecordings(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *handlers) listAssessments(c *gin.Context) {
	assessments, err := h.deps.service.Assessments(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": assessments, "count": len(assessments)})
}

func (h *handlers) generateAssessment(c *gin.Context) {
	assessment, err := h.deps.service.GenerateAssessment(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, assessment)
}

// multipartMemory is how much of an upload is held in memory before
// spilling to a temp file.
const multipartMemory = 8 << 20

func (h *handlers) uploadRecording(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			appErr := apperrors.NewValidationError("recording exceeds the upload limit", tooLarge.Limit)
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			apperrors.Respond(c, appErr)
			return
		}
		apperrors.Respond(c, apperrors.NewValidationError("multipart form expected", err.Error()))
		return
	}
	defer c.Request.MultipartForm.RemoveAll()

	problems := make(map[string]string)

	childID := strings.TrimSpace(c.PostForm("child_id"))
	if childID == "" {
		problems["child_id"] = "child_id is required"
	}

	var duration float64
	if raw := strings.TrimSpace(c.PostForm("duration_seconds")); raw != "" {
		d, err := strconv.ParseFloat(raw, 64)
		if err != nil || d < 0 {
			problems["duration_seconds"] = "duration_seconds must be a non-negative number"
		}
		duration = d
	}

	autoAssessment := false
	if raw := strings.TrimSpace(c.PostForm("auto_assessment")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			problems["auto_assessment"] = "auto_assessment must be true or false"
		}
		autoAssessment = v
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		problems["file"] = "file is required"
	}

	if len(problems) > 0 {
		apperrors.Respond(c, apperrors.NewValidationErrorWithMap(problems))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		apperrors.Respond(c, apperrors.NewInternalError("opening uploaded file", err))
		return
	}
	defer file.Close()

	result, err := h.deps.service.RecordSession(c.Request.Context(), dashboard.SessionInput{
		ChildID:         childID,
		Audio:           file,
		Filename:        fileHeader.Filename,
		ContentType:     fileHeader.Header.Get("Content-Type"),
		DurationSeconds: duration,
		AutoAssessment:  autoAssessment,
	})
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}
