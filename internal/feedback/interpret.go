package feedback

import (
	"encoding/json"
	"io"
	"strings"
)

// Interpret turns raw model output into a Record. It never fails: when the
// output holds no decodable record the fallback is returned and the Outcome
// says why.
func Interpret(raw string) (Record, Outcome) {
	candidate, ok := braceRegion(raw)
	if !ok {
		return FallbackRecord(), Outcome{Source: SourceFallback, Reason: ReasonNoJSONObject}
	}

	var generic any
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return FallbackRecord(), Outcome{Source: SourceFallback, Reason: ReasonInvalidJSON}
	}
	if _, err := dec.Token(); err != io.EOF {
		return FallbackRecord(), Outcome{Source: SourceFallback, Reason: ReasonInvalidJSON}
	}
	if err := recordSchema.Validate(generic); err != nil {
		return FallbackRecord(), Outcome{Source: SourceFallback, Reason: ReasonSchemaInvalid}
	}

	var rec Record
	if err := json.Unmarshal([]byte(candidate), &rec); err != nil {
		return FallbackRecord(), Outcome{Source: SourceFallback, Reason: ReasonInvalidJSON}
	}
	return rec.Normalized(), Outcome{Source: SourceModel}
}

// braceRegion returns raw[first '{' : last '}'] inclusive.
func braceRegion(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}
