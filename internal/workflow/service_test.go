package workflow

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"resume-scanner/internal/extract"
	"resume-scanner/internal/feedback"
	"resume-scanner/internal/llm"
	"resume-scanner/internal/shared/storage/object"
)

func TestUploadRejectsInvalidFilesWithoutMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		fileName    string
		contentType string
		data        []byte
	}{
		{"too large", "cv.pdf", MimePDF, bytes.Repeat([]byte("a"), int(MaxUploadBytes)+1)},
		{"text file", "cv.txt", "text/plain", []byte("hello")},
		{"empty", "cv.pdf", MimePDF, nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Upload(ctx, h.session, UploadInput{
				FileName:    tt.fileName,
				ContentType: tt.contentType,
				Size:        int64(len(tt.data)),
				Body:        bytes.NewReader(tt.data),
			})
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	// a declared size can lie; the bytes actually read are checked too
	_, err := h.svc.Upload(ctx, h.session, UploadInput{
		FileName:    "cv.pdf",
		ContentType: MimePDF,
		Size:        10,
		Body:        bytes.NewReader(bytes.Repeat([]byte("a"), int(MaxUploadBytes)+10)),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for oversized body, got %v", err)
	}

	view, err := h.svc.Get(ctx, h.session)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Phase != PhaseIdle || view.Document != nil || view.Version != 0 {
		t.Fatalf("expected untouched idle session, got %+v", view)
	}
}

func TestUploadReplacesDocumentAndDerivedState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.upload(t, "first.docx", MimeDOCX, buildDocx(t, "First Resume"))
	first := h.state(t).Document
	h.client.respond(validFeedbackJSON, nil)
	if _, err := h.svc.Analyze(ctx, h.session); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	view := h.upload(t, "second.pdf", "application/octet-stream", []byte("%PDF-1.4 placeholder"))
	if view.Phase != PhaseUploaded || view.Feedback != nil || view.GeneratedResume != nil {
		t.Fatalf("expected fresh uploaded session, got %+v", view)
	}
	if view.Document.Name != "second.pdf" || view.Document.MimeType != MimePDF {
		t.Fatalf("unexpected document %+v", view.Document)
	}

	for _, key := range []string{first.StorageKey, extract.ExtractedKey(first.StorageKey)} {
		if _, err := h.store.Open(ctx, key); !errors.Is(err, object.ErrNotFound) {
			t.Fatalf("expected %s to be deleted, got %v", key, err)
		}
	}
}

func TestAnalyzeRequiresDocument(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Analyze(context.Background(), h.session); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("expected ErrNoDocument, got %v", err)
	}
	if h.client.callCount() != 0 {
		t.Fatalf("expected no upstream call")
	}
}

func TestAnalyzeCommitsModelFeedback(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "cv.docx", MimeDOCX, buildDocx(t, "Jane Doe", "Go developer"))
	h.client.respond("Here is my review:\n"+validFeedbackJSON+"\nGood luck!", nil)

	view, err := h.svc.Analyze(context.Background(), h.session)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if view.Phase != PhaseFedBack || view.FeedbackSource != feedback.SourceModel {
		t.Fatalf("unexpected view %+v", view)
	}
	if got := view.Feedback.Summary.Issues; len(got) != 1 || got[0] != "Too generic" {
		t.Fatalf("unexpected summary issues %v", got)
	}
	if view.Feedback.Education.Issues == nil {
		t.Fatalf("expected empty arrays, not nil")
	}

	req := h.client.lastCall()
	if req.Kind != llm.KindFeedback || !strings.Contains(req.Prompt, "Jane Doe\nGo developer") {
		t.Fatalf("unexpected request %+v", req)
	}
	want := llm.DefaultFeedbackParams()
	if req.Params.Model != want.Model || req.Params.MaxTokens != want.MaxTokens || req.Params.Temperature != want.Temperature {
		t.Fatalf("unexpected params %+v", req.Params)
	}
}

func TestAnalyzeFallsBackOnMalformedOutput(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "cv.docx", MimeDOCX, buildDocx(t, "Jane Doe"))
	h.client.respond("I cannot produce JSON today.", nil)

	view, err := h.svc.Analyze(context.Background(), h.session)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if view.FeedbackSource != feedback.SourceFallback {
		t.Fatalf("expected fallback source, got %q", view.FeedbackSource)
	}
	want := feedback.FallbackRecord()
	if view.Feedback.Experience.Replacements[3] != want.Experience.Replacements[3] {
		t.Fatalf("expected fallback record, got %+v", view.Feedback)
	}
}

func TestConcurrentAnalyzeSendsOneRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "cv.docx", MimeDOCX, buildDocx(t, "Jane Doe"))
	h.client.respond(validFeedbackJSON, nil)
	gate := h.client.hold()

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = h.svc.Analyze(ctx, h.session)
	}()
	h.waitStarted(t)

	if _, err := h.svc.Analyze(ctx, h.session); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := h.svc.Generate(ctx, h.session); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for generate during scan, got %v", err)
	}
	view, _ := h.svc.Get(ctx, h.session)
	if view.Phase != PhaseScanning || !view.Scanning {
		t.Fatalf("expected scanning view, got %+v", view)
	}

	close(gate)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first analyze: %v", firstErr)
	}
	if got := h.client.callCount(); got != 1 {
		t.Fatalf("expected exactly one upstream request, got %d", got)
	}
}

func TestAnalyzeTransportFailureThenRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "cv.docx", MimeDOCX, buildDocx(t, "Jane Doe"))
	h.client.respond("", llm.StatusError(429, `{"message":"rate limited"}`))

	_, err := h.svc.Analyze(ctx, h.session)
	var terr *llm.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if terr.StatusCode != 429 || !terr.Retryable {
		t.Fatalf("unexpected transport error %+v", terr)
	}
	view, _ := h.svc.Get(ctx, h.session)
	if view.Phase != PhaseUploaded || view.Feedback != nil || view.Scanning {
		t.Fatalf("expected released uploaded session, got %+v", view)
	}

	h.client.respond(validFeedbackJSON, nil)
	view, err = h.svc.Analyze(ctx, h.session)
	if err != nil {
		t.Fatalf("retry analyze: %v", err)
	}
	if view.Phase != PhaseFedBack {
		t.Fatalf("expected fed_back after retry, got %s", view.Phase)
	}
}

func TestAnalyzeTimeoutIsTransportError(t *testing.T) {
	h := newHarness(t, withCallTimeout(50*time.Millisecond))
	h.upload(t, "cv.docx", MimeDOCX, buildDocx(t, "Jane Doe"))
	h.client.hold()

	_, err := h.svc.Analyze(context.Background(), h.session)
	var terr *llm.TransportError
	if !errors.As(err, &terr) || !terr.Timeout {
		t.Fatalf("expected timeout TransportError, got %v", err)
	}
	if st := h.state(t); st.Scanning {
		t.Fatalf("expected scan released after timeout")
	}
}

func TestAnalyzeExtractionFailure(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "cv.doc", MimeDOC, []byte("definitely not a word file"))

	_, err := h.svc.Analyze(context.Background(), h.session)
	var xerr *extract.ExtractionError
	if !errors.As(err, &xerr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if h.client.callCount() != 0 {
		t.Fatalf("expected no upstream call on extraction failure")
	}
	if st := h.state(t); st.Scanning || st.Feedback != nil {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestAnalyzeWithoutClientConfigured(t *testing.T) {
	h := newHarness(t, withClient(llm.PlaceholderClient{}))
	h.upload(t, "cv.docx", MimeDOCX, buildDocx(t, "Jane Doe"))

	if _, err := h.svc.Analyze(context.Background(), h.session); !errors.Is(err, llm.ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	if st := h.state(t); st.Scanning {
		t.Fatalf("expected scan released")
	}
}

func TestStaleAnalyzeResultDiscardedAfterReupload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "old.docx", MimeDOCX, buildDocx(t, "Old Resume"))
	h.client.respond(validFeedbackJSON, nil)
	gate := h.client.hold()

	errCh := make(chan error, 1)
	go func() {
		_, err := h.svc.Analyze(ctx, h.session)
		errCh <- err
	}()
	h.waitStarted(t)

	h.upload(t, "new.docx", MimeDOCX, buildDocx(t, "New Resume"))
	close(gate)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	st := h.state(t)
	if st.Document.Name != "new.docx" || st.Feedback != nil || st.Scanning {
		t.Fatalf("stale result leaked into session: %+v", st)
	}
}

func TestResetDuringAnalyzeDiscardsResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "cv.docx", MimeDOCX, buildDocx(t, "Jane Doe"))
	h.client.respond(validFeedbackJSON, nil)
	gate := h.client.hold()

	errCh := make(chan error, 1)
	go func() {
		_, err := h.svc.Analyze(ctx, h.session)
		errCh <- err
	}()
	h.waitStarted(t)

	if _, err := h.svc.Reset(ctx, h.session); err != nil {
		t.Fatalf("reset: %v", err)
	}
	close(gate)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	view, err := h.svc.Get(ctx, h.session)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Phase != PhaseIdle || view.Feedback != nil {
		t.Fatalf("result leaked into reset session: %+v", view)
	}
}

func TestUploadAcceptsDottedFileNames(t *testing.T) {
	for _, name := range []string{"J.Doe..Resume.docx", "cv...docx"} {
		name := name
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			view := h.upload(t, name, MimeDOCX, buildDocx(t, "Jane Doe"))
			if view.Phase != PhaseUploaded || view.Document.Name != name {
				t.Fatalf("unexpected view %+v", view)
			}
		})
	}
}

func TestEndToEndGenerate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	data := buildPaddedDocx(t, 2<<20, "Jane Doe", "Software Engineer")
	if len(data) < 2<<20 || int64(len(data)) > MaxUploadBytes {
		t.Fatalf("unexpected fixture size %d", len(data))
	}
	view := h.upload(t, "jane.docx", MimeDOCX, data)
	if view.Document.SizeBytes != int64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), view.Document.SizeBytes)
	}

	h.client.respond(validFeedbackJSON, nil)
	if _, err := h.svc.Analyze(ctx, h.session); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	improved := "Jane Doe\nSoftware Engineer with 6 years building Go services.\n"
	h.client.respond(improved, nil)
	view, err := h.svc.Generate(ctx, h.session)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if view.Phase != PhaseGenerated || view.GeneratedResume == nil || *view.GeneratedResume != improved {
		t.Fatalf("unexpected view %+v", view)
	}

	req := h.client.lastCall()
	if req.Kind != llm.KindResume || req.Params.MaxTokens != 2500 || req.Params.Temperature != 0.5 {
		t.Fatalf("unexpected regeneration request %+v", req.Params)
	}
	for _, want := range []string{"Jane Doe\nSoftware Engineer", "Lead with impact", "Cut p99 latency by 40%", "Education suggestions: (none)"} {
		if !strings.Contains(req.Prompt, want) {
			t.Fatalf("expected %q in prompt", want)
		}
	}

	text, err := h.svc.ResumeText(ctx, h.session)
	if err != nil || text != improved {
		t.Fatalf("unexpected resume text %q, %v", text, err)
	}
	report, err := h.svc.FeedbackReport(ctx, h.session)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.HasPrefix(report, "RESUME FEEDBACK REPORT\n=========================") {
		t.Fatalf("unexpected report header %q", report)
	}

	view, err = h.svc.ReturnToFeedback(ctx, h.session)
	if err != nil {
		t.Fatalf("back: %v", err)
	}
	if view.Phase != PhaseFedBack || view.GeneratedResume != nil || view.Feedback == nil {
		t.Fatalf("unexpected view after back %+v", view)
	}
}

func TestGenerateFailureKeepsFeedback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "cv.docx", MimeDOCX, buildDocx(t, "Jane Doe"))
	h.client.respond(validFeedbackJSON, nil)
	if _, err := h.svc.Analyze(ctx, h.session); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	h.client.respond("", llm.StatusError(503, "unavailable"))
	_, err := h.svc.Generate(ctx, h.session)
	var terr *llm.TransportError
	if !errors.As(err, &terr) || terr.StatusCode != 503 {
		t.Fatalf("expected 503 TransportError, got %v", err)
	}
	view, _ := h.svc.Get(ctx, h.session)
	if view.Phase != PhaseFedBack || view.Feedback == nil {
		t.Fatalf("expected fed_back with feedback kept, got %+v", view)
	}
}

func TestGenerateRequiresFeedback(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "cv.docx", MimeDOCX, buildDocx(t, "Jane Doe"))
	if _, err := h.svc.Generate(context.Background(), h.session); !errors.Is(err, ErrNoFeedback) {
		t.Fatalf("expected ErrNoFeedback, got %v", err)
	}
}

func TestDownloadsRequireArtifacts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.FeedbackReport(ctx, h.session); !errors.Is(err, ErrNoFeedback) {
		t.Fatalf("expected ErrNoFeedback, got %v", err)
	}
	if _, err := h.svc.ResumeText(ctx, h.session); !errors.Is(err, ErrNoResume) {
		t.Fatalf("expected ErrNoResume, got %v", err)
	}
}

func TestResetClearsSessionAndBlobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.upload(t, "cv.docx", MimeDOCX, buildDocx(t, "Jane Doe"))
	doc := h.state(t).Document

	view, err := h.svc.Reset(ctx, h.session)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if view.Phase != PhaseIdle || view.Document != nil || view.Version != 0 {
		t.Fatalf("expected idle view, got %+v", view)
	}
	if _, err := h.repo.Get(ctx, h.session); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session record deleted, got %v", err)
	}
	if _, err := h.store.Open(ctx, doc.StorageKey); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected blob deleted, got %v", err)
	}
	if _, err := h.svc.Reset(ctx, h.session); err != nil {
		t.Fatalf("reset of idle session: %v", err)
	}
}

type conflictingRepo struct {
	Repo
	conflicts int
}

func (r *conflictingRepo) Save(ctx context.Context, sessionID string, st State, expectedVersion int64) (State, error) {
	if r.conflicts > 0 {
		r.conflicts--
		return State{}, ErrConflict
	}
	return r.Repo.Save(ctx, sessionID, st, expectedVersion)
}

func TestMutateRetriesOnConflict(t *testing.T) {
	repo := &conflictingRepo{Repo: NewMemoryRepo(time.Hour), conflicts: 2}
	h := newHarness(t, withRepo(repo))
	view := h.upload(t, "cv.docx", MimeDOCX, buildDocx(t, "Jane Doe"))
	if view.Version != 1 {
		t.Fatalf("expected version 1, got %d", view.Version)
	}

	repo.conflicts = maxCommitAttempts
	_, err := h.svc.Reset(context.Background(), h.session)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after exhausting attempts, got %v", err)
	}
}
