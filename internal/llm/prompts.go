package llm

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"strings"

	"resume-scanner/internal/feedback"
)

var (
	//go:embed prompts/feedback_v1.txt
	feedbackPromptV1 string
	//go:embed prompts/regenerate_v1.txt
	regeneratePromptV1 string
)

// ErrEmptyResume is returned when there is no resume text to send.
var ErrEmptyResume = errors.New("resume text is empty")

// BuildFeedbackRequest renders the critique prompt for resumeText.
func BuildFeedbackRequest(resumeText string, params Params) (Request, error) {
	if strings.TrimSpace(resumeText) == "" {
		return Request{}, ErrEmptyResume
	}
	prompt := strings.NewReplacer("{{RESUME_TEXT}}", resumeText).Replace(feedbackPromptV1)
	return Request{Kind: KindFeedback, Prompt: prompt, Params: params}, nil
}

// BuildRegenerationRequest renders the rewrite prompt. Per section, suggestions
// and replacement phrases are joined with ", ".
func BuildRegenerationRequest(rec feedback.Record, resumeText string, params Params) (Request, error) {
	if strings.TrimSpace(resumeText) == "" {
		return Request{}, ErrEmptyResume
	}
	pairs := []string{"{{RESUME_TEXT}}", resumeText}
	for _, s := range rec.Sections() {
		key := strings.ToUpper(s.Key)
		pairs = append(pairs,
			"{{"+key+"_SUGGESTIONS}}", phraseList(s.Suggestions),
			"{{"+key+"_REPLACEMENTS}}", phraseList(s.Replacements),
		)
	}
	prompt := strings.NewReplacer(pairs...).Replace(regeneratePromptV1)
	return Request{Kind: KindResume, Prompt: prompt, Params: params}, nil
}

// PromptHash fingerprints a rendered prompt for logs.
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func phraseList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
