package workflow

import (
	"time"

	"resume-scanner/internal/feedback"
)

// DocumentView is the client-facing description of the uploaded document.
type DocumentView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"sizeBytes"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// View is the session as returned to clients.
type View struct {
	SessionID       string           `json:"sessionId"`
	Phase           Phase            `json:"phase"`
	Document        *DocumentView    `json:"document"`
	Feedback        *feedback.Record `json:"feedback"`
	FeedbackSource  feedback.Source  `json:"feedbackSource,omitempty"`
	GeneratedResume *string          `json:"generatedResume"`
	Scanning        bool             `json:"scanning"`
	Generating      bool             `json:"generating"`
	Version         int64            `json:"version"`
	UpdatedAt       *time.Time       `json:"updatedAt,omitempty"`
}

func newView(sessionID string, s State, now time.Time, lease time.Duration) View {
	v := View{
		SessionID:       sessionID,
		Phase:           s.Phase(now, lease),
		Feedback:        s.Feedback,
		FeedbackSource:  s.FeedbackSource,
		GeneratedResume: s.GeneratedResume,
		Scanning:        s.scanningAt(now, lease),
		Generating:      s.generatingAt(now, lease),
		Version:         s.Version,
	}
	if s.Document != nil {
		v.Document = &DocumentView{
			ID:         s.Document.ID,
			Name:       s.Document.Name,
			MimeType:   s.Document.MimeType,
			SizeBytes:  s.Document.SizeBytes,
			UploadedAt: s.Document.UploadedAt,
		}
	}
	if !s.UpdatedAt.IsZero() {
		updated := s.UpdatedAt
		v.UpdatedAt = &updated
	}
	return v
}
