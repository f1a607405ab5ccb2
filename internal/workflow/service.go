package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"resume-scanner/internal/extract"
	"resume-scanner/internal/feedback"
	"resume-scanner/internal/llm"
	"resume-scanner/internal/shared/metrics"
	"resume-scanner/internal/shared/storage/object"
	"resume-scanner/internal/shared/telemetry"
	"resume-scanner/internal/shared/util"
)

const (
	maxCommitAttempts = 5
	commitTimeout     = 5 * time.Second
)

// Options configures a Service. Zero values select defaults.
type Options struct {
	FeedbackParams llm.Params
	ResumeParams   llm.Params
	// CallTimeout bounds extraction plus the remote call of one operation.
	CallTimeout time.Duration
	// Lease is how long an in-flight flag blocks re-entry. Defaults to 2x CallTimeout.
	Lease time.Duration
	Now   func() time.Time
	NewID func() string
}

// Service runs the workflow: it applies the pure transitions, performs their
// side effects and commits results through the Repo.
type Service struct {
	repo   Repo
	store  object.ObjectStore
	client llm.Client

	feedbackParams llm.Params
	resumeParams   llm.Params
	callTimeout    time.Duration
	lease          time.Duration
	now            func() time.Time
	newID          func() string
}

// NewService wires a Service.
func NewService(repo Repo, store object.ObjectStore, client llm.Client, opts Options) *Service {
	s := &Service{
		repo:           repo,
		store:          store,
		client:         client,
		feedbackParams: opts.FeedbackParams,
		resumeParams:   opts.ResumeParams,
		callTimeout:    opts.CallTimeout,
		lease:          opts.Lease,
		now:            opts.Now,
		newID:          opts.NewID,
	}
	if s.feedbackParams.Model == "" {
		s.feedbackParams = llm.DefaultFeedbackParams()
	}
	if s.resumeParams.Model == "" {
		s.resumeParams = llm.DefaultResumeParams()
	}
	if s.callTimeout <= 0 {
		s.callTimeout = 60 * time.Second
	}
	if s.lease <= 0 {
		s.lease = 2 * s.callTimeout
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// UploadInput is a document as received from the client.
type UploadInput struct {
	FileName    string
	ContentType string
	// Size is the declared size; negative when unknown.
	Size int64
	Body io.Reader
}

// Get returns the current session view. Unknown sessions are idle.
func (s *Service) Get(ctx context.Context, sessionID string) (View, error) {
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	return newView(sessionID, st, s.now(), s.lease), nil
}

// Upload validates and stores a document, then hard-resets the session onto it.
// Invalid uploads leave the session untouched.
func (s *Service) Upload(ctx context.Context, sessionID string, in UploadInput) (View, error) {
	mimeType := ResolveMimeType(in.ContentType, in.FileName)
	if err := ValidateUpload(in.FileName, mimeType, max(in.Size, 1)); err != nil {
		metrics.IncUpload("rejected")
		return View{}, err
	}
	if in.Body == nil {
		metrics.IncUpload("rejected")
		return View{}, &ValidationError{Field: "file", Reason: "file is missing"}
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, MaxUploadBytes+1))
	if err != nil {
		return View{}, fmt.Errorf("upload: read: %w", err)
	}
	if err := ValidateUpload(in.FileName, mimeType, int64(len(data))); err != nil {
		metrics.IncUpload("rejected")
		return View{}, err
	}

	storeName := in.FileName
	if _, err := util.SanitizeFileName(storeName); err != nil {
		storeName = "document" + util.Extension(in.FileName)
	}
	key, size, _, err := s.store.Save(ctx, sessionID, storeName, bytes.NewReader(data))
	if err != nil {
		return View{}, fmt.Errorf("upload: store: %w", err)
	}
	doc := Document{
		ID:         s.newID(),
		Name:       in.FileName,
		MimeType:   mimeType,
		SizeBytes:  size,
		StorageKey: key,
		UploadedAt: s.now(),
	}

	prev, saved, err := s.mutate(ctx, sessionID, func(st State) (State, error) {
		return Upload(st, doc), nil
	})
	if err != nil {
		s.deleteBlobs(ctx, key)
		return View{}, fmt.Errorf("upload: commit: %w", err)
	}
	if prev.Document != nil {
		s.deleteBlobs(ctx, prev.Document.StorageKey)
	}

	metrics.IncUpload("accepted")
	telemetry.Info("workflow.transition", map[string]any{
		"request_id":  requestIDFromContext(ctx),
		"session_id":  sessionID,
		"document_id": doc.ID,
		"transition":  "upload",
		"mime_type":   mimeType,
		"size_bytes":  size,
	})
	return newView(sessionID, saved, s.now(), s.lease), nil
}

// Analyze extracts the document text, asks the model for a critique and
// commits the interpreted feedback. A second call while one is in flight
// fails with ErrBusy.
func (s *Service) Analyze(ctx context.Context, sessionID string) (View, error) {
	scanID := s.newID()
	var effect AnalyzeEffect
	_, _, err := s.mutate(ctx, sessionID, func(st State) (State, error) {
		next, eff, err := BeginAnalyze(st, scanID, s.now(), s.lease)
		effect = eff
		return next, err
	})
	if err != nil {
		return View{}, err
	}

	startedAt := time.Now()
	metrics.IncAnalysisStarted()
	fields := map[string]any{
		"request_id":  requestIDFromContext(ctx),
		"session_id":  sessionID,
		"document_id": effect.Document.ID,
		"analysis_id": scanID,
	}
	telemetry.Info("analysis.status", withField(fields, "status_transition", "uploaded->scanning"))

	rec, outcome, err := s.runAnalysis(ctx, effect)
	if err != nil {
		return View{}, s.failAnalysis(ctx, sessionID, scanID, err, startedAt, fields)
	}

	_, saved, err := s.mutate(ctx, sessionID, func(st State) (State, error) {
		return CompleteAnalyze(st, scanID, rec, outcome)
	})
	if errors.Is(err, ErrSuperseded) {
		metrics.IncStaleResult(llm.KindFeedback)
		telemetry.Warn("analysis.superseded", fields)
		return View{}, err
	}
	if err != nil {
		return View{}, s.failAnalysis(ctx, sessionID, scanID, fmt.Errorf("analyze: commit: %w", err), startedAt, fields)
	}

	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDuration(time.Since(startedAt))
	done := withField(fields, "status_transition", "scanning->fed_back")
	done["feedback_source"] = string(outcome.Source)
	done["duration_ms"] = time.Since(startedAt).Milliseconds()
	telemetry.Info("analysis.status", done)
	return newView(sessionID, saved, s.now(), s.lease), nil
}

func (s *Service) runAnalysis(ctx context.Context, effect AnalyzeEffect) (feedback.Record, feedback.Outcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	doc := effect.Document
	text, err := extract.LoadOrExtract(callCtx, s.store, doc.StorageKey, doc.MimeType, doc.Name)
	if err != nil {
		return feedback.Record{}, feedback.Outcome{}, fmt.Errorf("analyze: extract: %w", classifyStageError(err))
	}
	req, err := llm.BuildFeedbackRequest(text, s.feedbackParams)
	if err != nil {
		return feedback.Record{}, feedback.Outcome{}, fmt.Errorf("analyze: build request: %w", &extract.ExtractionError{MimeType: doc.MimeType, Err: err})
	}

	raw, err := s.client.Generate(callCtx, req)
	if err != nil {
		metrics.IncLLMRequest(llm.KindFeedback, "error")
		return feedback.Record{}, feedback.Outcome{}, fmt.Errorf("analyze: generate: %w", classifyStageError(err))
	}
	metrics.IncLLMRequest(llm.KindFeedback, "ok")

	rec, outcome := feedback.Interpret(raw)
	if outcome.Source == feedback.SourceFallback {
		metrics.IncFeedbackFallback(outcome.Reason)
		telemetry.Warn("feedback.fallback_used", map[string]any{
			"request_id":  requestIDFromContext(ctx),
			"document_id": doc.ID,
			"analysis_id": effect.ScanID,
			"reason":      outcome.Reason,
			"prompt_hash": llm.PromptHash(req.Prompt),
			"raw_chars":   len(raw),
		})
	}
	return rec, outcome, nil
}

// failAnalysis releases the scan and returns the error to surface. When the
// session moved on meanwhile the failure is reported as ErrSuperseded.
func (s *Service) failAnalysis(ctx context.Context, sessionID, scanID string, cause error, startedAt time.Time, fields map[string]any) error {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	_, _, err := s.mutate(commitCtx, sessionID, func(st State) (State, error) {
		return FailAnalyze(st, scanID)
	})
	if errors.Is(err, ErrSuperseded) {
		metrics.IncStaleResult(llm.KindFeedback)
		telemetry.Warn("analysis.superseded", withField(fields, "error", cause.Error()))
		return ErrSuperseded
	}
	if err != nil {
		telemetry.Error("analysis.release_failed", withField(fields, "error", err.Error()))
	}

	metrics.IncAnalysisFailed()
	metrics.ObserveAnalysisDuration(time.Since(startedAt))
	failed := withField(fields, "status_transition", "scanning->uploaded")
	failed["error"] = cause.Error()
	failed["duration_ms"] = time.Since(startedAt).Milliseconds()
	telemetry.Info("analysis.status", failed)
	return cause
}

// Generate rewrites the resume using the committed feedback.
func (s *Service) Generate(ctx context.Context, sessionID string) (View, error) {
	generateID := s.newID()
	var effect GenerateEffect
	_, _, err := s.mutate(ctx, sessionID, func(st State) (State, error) {
		next, eff, err := BeginGenerate(st, generateID, s.now(), s.lease)
		effect = eff
		return next, err
	})
	if err != nil {
		return View{}, err
	}

	startedAt := time.Now()
	metrics.IncGenerationStarted()
	fields := map[string]any{
		"request_id":    requestIDFromContext(ctx),
		"session_id":    sessionID,
		"document_id":   effect.Document.ID,
		"analysis_id":   effect.AnalysisID,
		"generation_id": generateID,
	}
	telemetry.Info("generation.status", withField(fields, "status_transition", "fed_back->generating"))

	text, err := s.runGeneration(ctx, effect)
	if err != nil {
		return View{}, s.failGeneration(ctx, sessionID, generateID, err, startedAt, fields)
	}

	_, saved, err := s.mutate(ctx, sessionID, func(st State) (State, error) {
		return CompleteGenerate(st, generateID, effect.AnalysisID, text)
	})
	if errors.Is(err, ErrSuperseded) {
		metrics.IncStaleResult(llm.KindResume)
		telemetry.Warn("generation.superseded", fields)
		return View{}, err
	}
	if err != nil {
		return View{}, s.failGeneration(ctx, sessionID, generateID, fmt.Errorf("generate: commit: %w", err), startedAt, fields)
	}

	metrics.IncGenerationCompleted()
	metrics.ObserveGenerationDuration(time.Since(startedAt))
	done := withField(fields, "status_transition", "generating->generated")
	done["duration_ms"] = time.Since(startedAt).Milliseconds()
	done["chars"] = len(text)
	telemetry.Info("generation.status", done)
	return newView(sessionID, saved, s.now(), s.lease), nil
}

func (s *Service) runGeneration(ctx context.Context, effect GenerateEffect) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	doc := effect.Document
	text, err := extract.LoadOrExtract(callCtx, s.store, doc.StorageKey, doc.MimeType, doc.Name)
	if err != nil {
		return "", fmt.Errorf("generate: extract: %w", classifyStageError(err))
	}
	req, err := llm.BuildRegenerationRequest(effect.Feedback, text, s.resumeParams)
	if err != nil {
		return "", fmt.Errorf("generate: build request: %w", &extract.ExtractionError{MimeType: doc.MimeType, Err: err})
	}
	out, err := s.client.Generate(callCtx, req)
	if err != nil {
		metrics.IncLLMRequest(llm.KindResume, "error")
		return "", fmt.Errorf("generate: generate: %w", classifyStageError(err))
	}
	metrics.IncLLMRequest(llm.KindResume, "ok")
	return out, nil
}

func (s *Service) failGeneration(ctx context.Context, sessionID, generateID string, cause error, startedAt time.Time, fields map[string]any) error {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	_, _, err := s.mutate(commitCtx, sessionID, func(st State) (State, error) {
		return FailGenerate(st, generateID)
	})
	if errors.Is(err, ErrSuperseded) {
		metrics.IncStaleResult(llm.KindResume)
		telemetry.Warn("generation.superseded", withField(fields, "error", cause.Error()))
		return ErrSuperseded
	}
	if err != nil {
		telemetry.Error("generation.release_failed", withField(fields, "error", err.Error()))
	}

	metrics.IncGenerationFailed()
	metrics.ObserveGenerationDuration(time.Since(startedAt))
	failed := withField(fields, "status_transition", "generating->fed_back")
	failed["error"] = cause.Error()
	failed["duration_ms"] = time.Since(startedAt).Milliseconds()
	telemetry.Info("generation.status", failed)
	return cause
}

// Reset deletes the session record and its stored blobs. An in-flight
// operation finds the session gone and its result is discarded.
func (s *Service) Reset(ctx context.Context, sessionID string) (View, error) {
	prev, err := s.remove(ctx, sessionID)
	if err != nil {
		return View{}, fmt.Errorf("reset: %w", err)
	}
	if prev.Document != nil {
		s.deleteBlobs(ctx, prev.Document.StorageKey)
	}
	telemetry.Info("workflow.transition", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"session_id": sessionID,
		"transition": "reset",
	})
	return newView(sessionID, Reset(prev), s.now(), s.lease), nil
}

// ReturnToFeedback discards the generated resume so it can be generated again.
func (s *Service) ReturnToFeedback(ctx context.Context, sessionID string) (View, error) {
	_, saved, err := s.mutate(ctx, sessionID, func(st State) (State, error) {
		return ReturnToFeedback(st, s.now(), s.lease)
	})
	if err != nil {
		return View{}, err
	}
	return newView(sessionID, saved, s.now(), s.lease), nil
}

// FeedbackReport renders the downloadable report for the committed feedback.
func (s *Service) FeedbackReport(ctx context.Context, sessionID string) (string, error) {
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if st.Feedback == nil {
		return "", ErrNoFeedback
	}
	return feedback.Report(*st.Feedback), nil
}

// ResumeText returns the generated resume.
func (s *Service) ResumeText(ctx context.Context, sessionID string) (string, error) {
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if st.GeneratedResume == nil {
		return "", ErrNoResume
	}
	return *st.GeneratedResume, nil
}

func (s *Service) load(ctx context.Context, sessionID string) (State, error) {
	st, err := s.repo.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return State{}, nil
	}
	return st, err
}

// mutate applies fn to the stored state and commits it, re-reading and
// re-applying on version conflicts. It returns the state fn saw and the saved state.
func (s *Service) mutate(ctx context.Context, sessionID string, fn func(State) (State, error)) (State, State, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		current, err := s.load(ctx, sessionID)
		if err != nil {
			return State{}, State{}, err
		}
		next, err := fn(current)
		if err != nil {
			return current, State{}, err
		}
		saved, err := s.repo.Save(ctx, sessionID, next, current.Version)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return current, State{}, err
		}
		return current, saved, nil
	}
	return State{}, State{}, ErrConflict
}

// remove deletes the stored session under the same conflict rules as mutate
// and returns the state that was deleted.
func (s *Service) remove(ctx context.Context, sessionID string) (State, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		current, err := s.load(ctx, sessionID)
		if err != nil {
			return State{}, err
		}
		err = s.repo.Delete(ctx, sessionID, current.Version)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return State{}, err
		}
		return current, nil
	}
	return State{}, ErrConflict
}

func (s *Service) deleteBlobs(ctx context.Context, storageKey string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	for _, key := range []string{storageKey, extract.ExtractedKey(storageKey)} {
		if err := s.store.Delete(cleanupCtx, key); err != nil {
			telemetry.Warn("storage.delete_failed", map[string]any{
				"request_id":  requestIDFromContext(ctx),
				"storage_key": key,
				"error":       err.Error(),
			})
		}
	}
}

// classifyStageError maps stage failures onto the surfaced taxonomy: a
// missing blob cannot be read, a deadline is a transport timeout.
func classifyStageError(err error) error {
	var terr *llm.TransportError
	if errors.As(err, &terr) {
		return err
	}
	var xerr *extract.ExtractionError
	if errors.As(err, &xerr) {
		return err
	}
	if errors.Is(err, object.ErrNotFound) {
		return &extract.ExtractionError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NetworkError(err)
	}
	return err
}

func withField(fields map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}
