package workflow

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"resume-scanner/internal/llm"
	"resume-scanner/internal/shared/server/middleware"
)

const handlerSession = "7c9e6679-7425-40de-944b-e07fc1f90ae7"

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newTestRouter(t *testing.T, h *harness) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Session())
	NewHandler(h.svc).RegisterRoutes(r.Group("/api/v1"))
	h.session = handlerSession
	return r
}

func doRequest(r http.Handler, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(middleware.SessionHeader, handlerSession)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func multipartFile(t *testing.T, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error body %q: %v", resp.Body.String(), err)
	}
	return env
}

func TestHandlerUploadAnalyzeGenerateFlow(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(t, h)

	body, ct := multipartFile(t, "jane.docx", buildDocx(t, "Jane Doe", "Software Engineer"))
	resp := doRequest(r, http.MethodPost, "/api/v1/session/document", body, ct)
	if resp.Code != http.StatusCreated {
		t.Fatalf("upload expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get(middleware.SessionHeader); got != handlerSession {
		t.Fatalf("expected session echoed, got %q", got)
	}
	var view View
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Phase != PhaseUploaded || view.Document.MimeType != MimeDOCX || view.SessionID != handlerSession {
		t.Fatalf("unexpected upload view %+v", view)
	}

	h.client.respond(validFeedbackJSON, nil)
	resp = doRequest(r, http.MethodPost, "/api/v1/session/analyze", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("analyze expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var analyzed map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &analyzed)
	if analyzed["phase"] != "fed_back" || analyzed["feedbackSource"] != "model" {
		t.Fatalf("unexpected analyze body %v", analyzed)
	}

	resp = doRequest(r, http.MethodGet, "/api/v1/session/report", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("report expected 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Content-Disposition"); got != `attachment; filename="resume-feedback.txt"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	if !strings.Contains(resp.Body.String(), "SUMMARY\n=======") {
		t.Fatalf("unexpected report body %q", resp.Body.String())
	}

	resp = doRequest(r, http.MethodGet, "/api/v1/session/resume", nil, "")
	if resp.Code != http.StatusConflict || decodeError(t, resp).Error.Code != ErrorCodeInvalidState {
		t.Fatalf("resume before generate expected 409 invalid_state, got %d %s", resp.Code, resp.Body.String())
	}

	h.client.respond("Jane Doe\nSoftware Engineer\n", nil)
	resp = doRequest(r, http.MethodPost, "/api/v1/session/generate", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("generate expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doRequest(r, http.MethodGet, "/api/v1/session/resume", nil, "")
	if resp.Code != http.StatusOK || resp.Body.String() != "Jane Doe\nSoftware Engineer\n" {
		t.Fatalf("unexpected resume download %d %q", resp.Code, resp.Body.String())
	}
	if got := resp.Header().Get("Content-Disposition"); got != `attachment; filename="improved-resume.txt"` {
		t.Fatalf("unexpected disposition %q", got)
	}

	resp = doRequest(r, http.MethodPost, "/api/v1/session/back", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("back expected 200, got %d", resp.Code)
	}

	resp = doRequest(r, http.MethodDelete, "/api/v1/session", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("reset expected 200, got %d", resp.Code)
	}
	resp = doRequest(r, http.MethodGet, "/api/v1/session", nil, "")
	_ = json.Unmarshal(resp.Body.Bytes(), &view)
	if view.Phase != PhaseIdle {
		t.Fatalf("expected idle after reset, got %s", view.Phase)
	}
}

func TestHandlerUploadValidation(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(t, h)

	body, ct := multipartFile(t, "notes.txt", []byte("plain text"))
	resp := doRequest(r, http.MethodPost, "/api/v1/session/document", body, ct)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	env := decodeError(t, resp)
	if env.Error.Code != ErrorCodeInvalidFile || !strings.HasPrefix(env.Error.Message, "invalid file") {
		t.Fatalf("unexpected error %+v", env.Error)
	}

	resp = doRequest(r, http.MethodPost, "/api/v1/session/document", bytes.NewBufferString("x"), "text/plain")
	if resp.Code != http.StatusBadRequest || decodeError(t, resp).Error.Code != ErrorCodeInvalidFile {
		t.Fatalf("missing file expected 400 invalid_file, got %d", resp.Code)
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(t, h)

	resp := doRequest(r, http.MethodPost, "/api/v1/session/analyze", nil, "")
	if resp.Code != http.StatusConflict || decodeError(t, resp).Error.Code != ErrorCodeInvalidState {
		t.Fatalf("analyze without document expected 409 invalid_state, got %d", resp.Code)
	}

	body, ct := multipartFile(t, "cv.docx", buildDocx(t, "Jane Doe"))
	doRequest(r, http.MethodPost, "/api/v1/session/document", body, ct)

	h.client.respond("", llm.StatusError(http.StatusTooManyRequests, "slow down"))
	resp = doRequest(r, http.MethodPost, "/api/v1/session/analyze", nil, "")
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
	env := decodeError(t, resp)
	if env.Error.Code != ErrorCodeAnalysisFailed {
		t.Fatalf("expected analysis_failed, got %q", env.Error.Code)
	}
	if env.Error.Details["status"] != float64(429) || env.Error.Details["retryable"] != true {
		t.Fatalf("unexpected details %v", env.Error.Details)
	}

	resp = doRequest(r, http.MethodPost, "/api/v1/session/generate", nil, "")
	if resp.Code != http.StatusConflict || decodeError(t, resp).Error.Code != ErrorCodeInvalidState {
		t.Fatalf("generate without feedback expected 409 invalid_state, got %d", resp.Code)
	}

	h.client.respond(validFeedbackJSON, nil)
	doRequest(r, http.MethodPost, "/api/v1/session/analyze", nil, "")
	h.client.respond("", llm.StatusError(http.StatusInternalServerError, "boom"))
	resp = doRequest(r, http.MethodPost, "/api/v1/session/generate", nil, "")
	if resp.Code != http.StatusBadGateway || decodeError(t, resp).Error.Code != ErrorCodeGenerationFailed {
		t.Fatalf("expected 502 generation_failed, got %d %s", resp.Code, resp.Body.String())
	}
}

func TestHandlerExtractionFailure(t *testing.T) {
	h := newHarness(t)
	r := newTestRouter(t, h)

	body, ct := multipartFile(t, "cv.doc", []byte("not an ole file"))
	doRequest(r, http.MethodPost, "/api/v1/session/document", body, ct)

	resp := doRequest(r, http.MethodPost, "/api/v1/session/analyze", nil, "")
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.Code)
	}
	env := decodeError(t, resp)
	if env.Error.Code != ErrorCodeExtraction || !strings.HasPrefix(env.Error.Message, "could not read file") {
		t.Fatalf("unexpected error %+v", env.Error)
	}
}

func TestHandlerBusyAndUnavailable(t *testing.T) {
	h := newHarness(t, withClient(llm.PlaceholderClient{}))
	r := newTestRouter(t, h)

	body, ct := multipartFile(t, "cv.docx", buildDocx(t, "Jane Doe"))
	doRequest(r, http.MethodPost, "/api/v1/session/document", body, ct)

	resp := doRequest(r, http.MethodPost, "/api/v1/session/analyze", nil, "")
	if resp.Code != http.StatusServiceUnavailable || decodeError(t, resp).Error.Code != ErrorCodeLLMUnavailable {
		t.Fatalf("expected 503 llm_unavailable, got %d", resp.Code)
	}
}

func TestWriteErrorBusy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	resp := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(resp)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/session/analyze", nil)

	writeError(c, ErrorCodeAnalysisFailed, ErrBusy)
	if resp.Code != http.StatusConflict || decodeError(t, resp).Error.Code != ErrorCodeInProgress {
		t.Fatalf("expected 409 in_progress, got %d %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(resp)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/session/analyze", nil)
	writeError(c, ErrorCodeAnalysisFailed, ErrSuperseded)
	if resp.Code != http.StatusConflict || decodeError(t, resp).Error.Code != ErrorCodeSuperseded {
		t.Fatalf("expected 409 superseded, got %d", resp.Code)
	}
}
