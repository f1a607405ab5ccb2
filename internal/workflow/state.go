package workflow

import (
	"time"

	"resume-scanner/internal/feedback"
)

// Upload replaces whatever the session held with doc. Derived artifacts and
// in-flight flags are dropped so late results from earlier work are discarded.
func Upload(s State, doc Document) State {
	return State{
		Document:  &doc,
		Version:   s.Version,
		UpdatedAt: s.UpdatedAt,
	}
}

// BeginAnalyze marks the session as scanning under scanID.
func BeginAnalyze(s State, scanID string, now time.Time, lease time.Duration) (State, AnalyzeEffect, error) {
	if s.Document == nil {
		return s, AnalyzeEffect{}, ErrNoDocument
	}
	if s.scanningAt(now, lease) || s.generatingAt(now, lease) {
		return s, AnalyzeEffect{}, ErrBusy
	}
	next := s
	next.Feedback = nil
	next.FeedbackSource = ""
	next.AnalysisID = ""
	next.GeneratedResume = nil
	next.Generating = false
	next.GenerateID = ""
	next.GeneratingSince = nil
	next.Scanning = true
	next.ScanID = scanID
	next.ScanningSince = timePtr(now)
	return next, AnalyzeEffect{ScanID: scanID, Document: *s.Document}, nil
}

// CompleteAnalyze commits feedback produced by the scan identified by scanID.
func CompleteAnalyze(s State, scanID string, rec feedback.Record, outcome feedback.Outcome) (State, error) {
	if !s.Scanning || s.ScanID != scanID || s.Document == nil {
		return s, ErrSuperseded
	}
	committed := rec.Normalized()
	next := s
	next.Feedback = &committed
	next.FeedbackSource = outcome.Source
	next.AnalysisID = scanID
	next.clearScan()
	return next, nil
}

// FailAnalyze releases the scan flag; feedback stays empty.
func FailAnalyze(s State, scanID string) (State, error) {
	if !s.Scanning || s.ScanID != scanID {
		return s, ErrSuperseded
	}
	next := s
	next.clearScan()
	return next, nil
}

// BeginGenerate marks the session as generating from the committed feedback.
func BeginGenerate(s State, generateID string, now time.Time, lease time.Duration) (State, GenerateEffect, error) {
	if s.Document == nil {
		return s, GenerateEffect{}, ErrNoDocument
	}
	if s.scanningAt(now, lease) || s.generatingAt(now, lease) {
		return s, GenerateEffect{}, ErrBusy
	}
	if s.Feedback == nil {
		return s, GenerateEffect{}, ErrNoFeedback
	}
	next := s
	next.GeneratedResume = nil
	next.Scanning = false
	next.ScanID = ""
	next.ScanningSince = nil
	next.Generating = true
	next.GenerateID = generateID
	next.GeneratingSince = timePtr(now)
	return next, GenerateEffect{
		GenerateID: generateID,
		AnalysisID: s.AnalysisID,
		Document:   *s.Document,
		Feedback:   cloneRecord(*s.Feedback),
	}, nil
}

// CompleteGenerate stores text verbatim if the feedback it was built from is still current.
func CompleteGenerate(s State, generateID, analysisID, text string) (State, error) {
	if !s.Generating || s.GenerateID != generateID || s.AnalysisID != analysisID || s.Feedback == nil {
		return s, ErrSuperseded
	}
	next := s
	next.GeneratedResume = &text
	next.clearGenerate()
	return next, nil
}

// FailGenerate releases the generating flag; the session returns to fed_back.
func FailGenerate(s State, generateID string) (State, error) {
	if !s.Generating || s.GenerateID != generateID {
		return s, ErrSuperseded
	}
	next := s
	next.clearGenerate()
	return next, nil
}

// Reset clears everything, version included: a reset session is deleted
// rather than stored. Allowed from any state.
func Reset(State) State {
	return State{}
}

// ReturnToFeedback drops the generated resume and keeps the feedback.
func ReturnToFeedback(s State, now time.Time, lease time.Duration) (State, error) {
	if s.Phase(now, lease) != PhaseGenerated {
		return s, ErrInvalidState
	}
	next := s
	next.GeneratedResume = nil
	return next, nil
}

func (s *State) clearScan() {
	s.Scanning = false
	s.ScanID = ""
	s.ScanningSince = nil
}

func (s *State) clearGenerate() {
	s.Generating = false
	s.GenerateID = ""
	s.GeneratingSince = nil
}

func cloneRecord(r feedback.Record) feedback.Record {
	cp := func(in []string) []string { return append([]string{}, in...) }
	section := func(s feedback.Section) feedback.Section {
		return feedback.Section{Issues: cp(s.Issues), Suggestions: cp(s.Suggestions), Replacements: cp(s.Replacements)}
	}
	return feedback.Record{
		Summary:    section(r.Summary),
		Experience: section(r.Experience),
		Education:  section(r.Education),
		Skills:     section(r.Skills),
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
