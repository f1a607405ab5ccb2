package feedback

import "strings"

const (
	reportTitle      = "RESUME FEEDBACK REPORT"
	emptySectionNote = "This section looks great!"
)

// Report renders the downloadable plain-text feedback report.
func Report(rec Record) string {
	sections := rec.Sections()
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		parts = append(parts, renderSection(s))
	}

	var b strings.Builder
	b.WriteString(reportTitle)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 25))
	b.WriteString("\n")
	b.WriteString(strings.Join(parts, "\n"))
	return b.String()
}

func renderSection(s NamedSection) string {
	title := strings.ToUpper(s.Title)

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", len(title)))
	b.WriteString("\n")

	if s.Empty() {
		b.WriteString("\n")
		b.WriteString(emptySectionNote)
		b.WriteString("\n")
		return b.String()
	}

	writeList(&b, "ISSUES:", s.Issues, false)
	writeList(&b, "SUGGESTIONS:", s.Suggestions, false)
	writeList(&b, "SUGGESTED PHRASES:", s.Replacements, true)
	return b.String()
}

func writeList(b *strings.Builder, header string, items []string, quote bool) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(header)
	b.WriteString("\n")
	for _, item := range items {
		b.WriteString("• ")
		if quote {
			b.WriteString(`"` + item + `"`)
		} else {
			b.WriteString(item)
		}
		b.WriteString("\n")
	}
}
