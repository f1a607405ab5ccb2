package workflow

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"resume-scanner/internal/extract"
	"resume-scanner/internal/llm"
	"resume-scanner/internal/shared/server/middleware"
	"resume-scanner/internal/shared/server/respond"
)

const (
	// multipart overhead on top of the document itself
	maxUploadRequestBytes = MaxUploadBytes + 1<<20

	reportFileName = "resume-feedback.txt"
	resumeFileName = "improved-resume.txt"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches session routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/session", h.get)
	rg.DELETE("/session", h.reset)
	rg.POST("/session/document", h.upload)
	rg.POST("/session/analyze", h.analyze)
	rg.POST("/session/generate", h.generate)
	rg.POST("/session/back", h.back)
	rg.GET("/session/report", h.report)
	rg.GET("/session/resume", h.resume)
}

func (h *Handler) get(c *gin.Context) {
	view, err := h.Svc.Get(requestContext(c), middleware.SessionIDFromContext(c))
	if err != nil {
		writeError(c, "", err)
		return
	}
	respond.OK(c, view)
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadRequestBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, "", &ValidationError{Field: "file", Reason: "file exceeds 5MB limit"})
			return
		}
		writeError(c, "", &ValidationError{Field: "file", Reason: "file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		writeError(c, "", &ValidationError{Field: "file", Reason: "unable to read file"})
		return
	}
	defer file.Close()

	view, err := h.Svc.Upload(requestContext(c), middleware.SessionIDFromContext(c), UploadInput{
		FileName:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Body:        file,
	})
	if err != nil {
		writeError(c, "", err)
		return
	}
	if view.Document != nil {
		c.Set(middleware.DocumentIDKey, view.Document.ID)
	}
	c.Set(middleware.StatusTransitionKey, "->uploaded")
	respond.JSON(c, http.StatusCreated, view)
}

func (h *Handler) analyze(c *gin.Context) {
	view, err := h.Svc.Analyze(requestContext(c), middleware.SessionIDFromContext(c))
	if err != nil {
		writeError(c, ErrorCodeAnalysisFailed, err)
		return
	}
	annotate(c, view)
	c.Set(middleware.StatusTransitionKey, "scanning->fed_back")
	respond.OK(c, view)
}

func (h *Handler) generate(c *gin.Context) {
	view, err := h.Svc.Generate(requestContext(c), middleware.SessionIDFromContext(c))
	if err != nil {
		writeError(c, ErrorCodeGenerationFailed, err)
		return
	}
	annotate(c, view)
	c.Set(middleware.StatusTransitionKey, "generating->generated")
	respond.OK(c, view)
}

func (h *Handler) back(c *gin.Context) {
	view, err := h.Svc.ReturnToFeedback(requestContext(c), middleware.SessionIDFromContext(c))
	if err != nil {
		writeError(c, "", err)
		return
	}
	c.Set(middleware.StatusTransitionKey, "generated->fed_back")
	respond.OK(c, view)
}

func (h *Handler) reset(c *gin.Context) {
	view, err := h.Svc.Reset(requestContext(c), middleware.SessionIDFromContext(c))
	if err != nil {
		writeError(c, "", err)
		return
	}
	c.Set(middleware.StatusTransitionKey, "->idle")
	respond.OK(c, view)
}

func (h *Handler) report(c *gin.Context) {
	text, err := h.Svc.FeedbackReport(requestContext(c), middleware.SessionIDFromContext(c))
	if err != nil {
		writeError(c, "", err)
		return
	}
	respond.Attachment(c, reportFileName, text)
}

func (h *Handler) resume(c *gin.Context) {
	text, err := h.Svc.ResumeText(requestContext(c), middleware.SessionIDFromContext(c))
	if err != nil {
		writeError(c, "", err)
		return
	}
	respond.Attachment(c, resumeFileName, text)
}

func requestContext(c *gin.Context) context.Context {
	return WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
}

func annotate(c *gin.Context, view View) {
	if view.Document != nil {
		c.Set(middleware.DocumentIDKey, view.Document.ID)
	}
}

// writeError maps service errors onto the response envelope. transportCode
// names the failed remote stage for *llm.TransportError.
func writeError(c *gin.Context, transportCode string, err error) {
	var verr *ValidationError
	var xerr *extract.ExtractionError
	var terr *llm.TransportError

	switch {
	case errors.As(err, &verr):
		respond.Error(c, http.StatusBadRequest, ErrorCodeInvalidFile, verr.Error(), gin.H{"field": verr.Field})
	case errors.As(err, &xerr):
		respond.Error(c, http.StatusUnprocessableEntity, ErrorCodeExtraction, xerr.Error(), nil)
	case errors.As(err, &terr):
		if transportCode == "" {
			transportCode = ErrorCodeAnalysisFailed
		}
		message := "analysis request failed"
		if transportCode == ErrorCodeGenerationFailed {
			message = "generation request failed"
		}
		respond.Error(c, http.StatusBadGateway, transportCode, message, gin.H{
			"status":    terr.StatusCode,
			"retryable": terr.Retryable,
			"timeout":   terr.Timeout,
		})
	case errors.Is(err, ErrBusy):
		respond.Error(c, http.StatusConflict, ErrorCodeInProgress, err.Error(), nil)
	case errors.Is(err, ErrSuperseded):
		respond.Error(c, http.StatusConflict, ErrorCodeSuperseded, err.Error(), nil)
	case errors.Is(err, ErrNoDocument), errors.Is(err, ErrNoFeedback), errors.Is(err, ErrNoResume), errors.Is(err, ErrInvalidState):
		respond.Error(c, http.StatusConflict, ErrorCodeInvalidState, err.Error(), nil)
	case errors.Is(err, ErrConflict):
		respond.Error(c, http.StatusConflict, ErrorCodeInProgress, "session is being updated, try again", nil)
	case errors.Is(err, llm.ErrNotImplemented):
		respond.Error(c, http.StatusServiceUnavailable, ErrorCodeLLMUnavailable, "text generation is not configured", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "Unexpected server error", nil)
	}
}
