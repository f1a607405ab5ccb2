package workflow

import (
	"time"

	"resume-scanner/internal/feedback"
)

const MaxUploadBytes int64 = 5_242_880

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC  = "application/msword"
)

// Document is an accepted upload. The bytes live in the object store under StorageKey.
type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"sizeBytes"`
	StorageKey string    `json:"storageKey"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// State is the per-session workflow aggregate. It is only changed through
// the transition functions in state.go.
type State struct {
	Document        *Document        `json:"document,omitempty"`
	Feedback        *feedback.Record `json:"feedback,omitempty"`
	FeedbackSource  feedback.Source  `json:"feedbackSource,omitempty"`
	AnalysisID      string           `json:"analysisId,omitempty"`
	GeneratedResume *string          `json:"generatedResume,omitempty"`

	Scanning        bool       `json:"scanning"`
	ScanID          string     `json:"scanId,omitempty"`
	ScanningSince   *time.Time `json:"scanningSince,omitempty"`
	Generating      bool       `json:"generating"`
	GenerateID      string     `json:"generateId,omitempty"`
	GeneratingSince *time.Time `json:"generatingSince,omitempty"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Phase is the externally visible workflow step.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseUploaded   Phase = "uploaded"
	PhaseScanning   Phase = "scanning"
	PhaseFedBack    Phase = "fed_back"
	PhaseGenerating Phase = "generating"
	PhaseGenerated  Phase = "generated"
)

// Phase derives the step from the state; flags older than lease are ignored.
// A zero lease never expires a flag.
func (s State) Phase(now time.Time, lease time.Duration) Phase {
	switch {
	case s.scanningAt(now, lease):
		return PhaseScanning
	case s.generatingAt(now, lease):
		return PhaseGenerating
	case s.Document != nil && s.Feedback != nil && s.GeneratedResume != nil:
		return PhaseGenerated
	case s.Document != nil && s.Feedback != nil:
		return PhaseFedBack
	case s.Document != nil:
		return PhaseUploaded
	default:
		return PhaseIdle
	}
}

func (s State) scanningAt(now time.Time, lease time.Duration) bool {
	return s.Scanning && withinLease(s.ScanningSince, now, lease)
}

func (s State) generatingAt(now time.Time, lease time.Duration) bool {
	return s.Generating && withinLease(s.GeneratingSince, now, lease)
}

func withinLease(since *time.Time, now time.Time, lease time.Duration) bool {
	if lease <= 0 || since == nil {
		return true
	}
	return now.Sub(*since) < lease
}

// AnalyzeEffect is the work BeginAnalyze asks the caller to perform.
type AnalyzeEffect struct {
	ScanID   string
	Document Document
}

// GenerateEffect carries the committed feedback the rewrite must use.
type GenerateEffect struct {
	GenerateID string
	AnalysisID string
	Document   Document
	Feedback   feedback.Record
}
