package feedback

// FallbackRecord returns the default critique used when model output cannot be decoded.
// Each call returns a fresh copy.
func FallbackRecord() Record {
	return Record{
		Summary: Section{
			Issues:      []string{"Summary is too generic", "Missing quantified achievements"},
			Suggestions: []string{"Add specific metrics and results", "Include your unique value proposition"},
			Replacements: []string{
				"Results-driven professional with 5+ years experience",
				"Increased team productivity by 30% through process optimization",
			},
		},
		Experience: Section{
			Issues:       []string{"Lack of action verbs", "Missing impact statements"},
			Suggestions:  []string{"Start bullet points with strong action verbs", "Quantify your achievements with numbers"},
			Replacements: []string{"Led", "Managed", "Implemented", "Achieved 25% cost reduction"},
		},
		Education: Section{
			Issues:       []string{},
			Suggestions:  []string{"Consider adding relevant coursework", "Include GPA if above 3.5"},
			Replacements: []string{"Relevant Coursework: Data Analysis, Project Management"},
		},
		Skills: Section{
			Issues:       []string{"Too many soft skills listed"},
			Suggestions:  []string{"Focus on technical skills relevant to target role", "Group skills by category"},
			Replacements: []string{"Technical Skills: Python, SQL, React", "Soft Skills: Leadership, Communication"},
		},
	}
}
