package feedback

// Section holds the critique for one part of a resume. Display order is
// issues, then suggestions, then replacements.
type Section struct {
	Issues       []string `json:"issues"`
	Suggestions  []string `json:"suggestions"`
	Replacements []string `json:"replacements"`
}

// Empty reports whether the section has nothing to say.
func (s Section) Empty() bool {
	return len(s.Issues) == 0 && len(s.Suggestions) == 0 && len(s.Replacements) == 0
}

func (s Section) normalized() Section {
	return Section{
		Issues:       nonNil(s.Issues),
		Suggestions:  nonNil(s.Suggestions),
		Replacements: nonNil(s.Replacements),
	}
}

// Record is the four-section critique. All four sections are always present.
type Record struct {
	Summary    Section `json:"summary"`
	Experience Section `json:"experience"`
	Education  Section `json:"education"`
	Skills     Section `json:"skills"`
}

// NamedSection pairs a section with its key and display title.
type NamedSection struct {
	Key   string
	Title string
	Section
}

// Sections returns the sections in display order.
func (r Record) Sections() []NamedSection {
	return []NamedSection{
		{Key: "summary", Title: "Summary", Section: r.Summary},
		{Key: "experience", Title: "Experience", Section: r.Experience},
		{Key: "education", Title: "Education", Section: r.Education},
		{Key: "skills", Title: "Skills", Section: r.Skills},
	}
}

// Normalized returns a copy with every missing array replaced by an empty one.
func (r Record) Normalized() Record {
	return Record{
		Summary:    r.Summary.normalized(),
		Experience: r.Experience.normalized(),
		Education:  r.Education.normalized(),
		Skills:     r.Skills.normalized(),
	}
}

// Source tells whether a record came from the model or the built-in default.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Outcome describes how Interpret produced its record.
type Outcome struct {
	Source Source
	// Reason is set when Source is SourceFallback.
	Reason string
}

// Fallback reasons.
const (
	ReasonNoJSONObject  = "no_json_object"
	ReasonInvalidJSON   = "invalid_json"
	ReasonSchemaInvalid = "schema_mismatch"
)

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
