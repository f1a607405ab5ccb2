package extract

import (
	"bytes"
	"errors"
	"strings"
	"unicode"
	"unicode/utf16"
)

var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

const minRunLength = 4

// extractDOC recovers readable text runs from a legacy Word binary.
// Word 97+ stores body text either as 8-bit runs or UTF-16LE runs inside the
// OLE container; both are scanned and the longer recovery wins.
func extractDOC(data []byte) (string, error) {
	if !bytes.HasPrefix(data, oleSignature) {
		return "", errors.New("not an OLE compound document")
	}
	body := data[len(oleSignature):]

	narrow := collectRuns(asciiRunes(body))
	wide := collectRuns(utf16Runes(body))
	if len(wide) > len(narrow) {
		return wide, nil
	}
	return narrow, nil
}

func asciiRunes(data []byte) []rune {
	out := make([]rune, len(data))
	for i, b := range data {
		out[i] = rune(b)
	}
	return out
}

func utf16Runes(data []byte) []rune {
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		units = append(units, uint16(data[i])|uint16(data[i+1])<<8)
	}
	return utf16.Decode(units)
}

func collectRuns(rs []rune) string {
	var (
		out strings.Builder
		run []rune
	)
	flush := func() {
		if countLetters(run) >= minRunLength {
			if out.Len() > 0 {
				out.WriteString("\n")
			}
			out.WriteString(strings.TrimSpace(string(run)))
		}
		run = run[:0]
	}
	for _, r := range rs {
		if r == '\r' || r == '\n' {
			flush()
			continue
		}
		if r == '\t' || (r < unicode.MaxLatin1 && unicode.IsPrint(r)) {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()
	return out.String()
}

func countLetters(rs []rune) int {
	n := 0
	for _, r := range rs {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
