package privacy

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Placeholder builds the typed token for the index-th match of ruleType
func Placeholder(ruleType string, index int) string {
	return "[" + ruleType + "_" + strconv.Itoa(index) + "]"
}

// Redact turns accepted, non-overlapping candidates into a DetectionResult.
// Placeholders are numbered per type in ascending start order. Text is
// spliced on byte boundaries so bytes outside the spans are kept as is.
func Redact(text string, accepted []Candidate) DetectionResult {
	bounds := runeBounds(text)
	runeCount := len(bounds) - 1

	ordered := make([]Candidate, 0, len(accepted))
	for _, c := range accepted {
		if c.Start < 0 || c.End <= c.Start || c.End > runeCount {
			continue
		}
		ordered = append(ordered, c)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})

	var b strings.Builder
	b.Grow(len(text))

	stats := make(map[string]int)
	detections := make([]Detection, 0, len(ordered))
	cursor, lastEnd := 0, 0
	for _, c := range ordered {
		if c.Start < lastEnd {
			continue
		}
		lastEnd = c.End

		stats[c.RuleType]++
		d := Detection{
			Type:        c.RuleType,
			Original:    text[bounds[c.Start]:bounds[c.End]],
			Placeholder: Placeholder(c.RuleType, stats[c.RuleType]),
			Start:       c.Start,
			End:         c.End,
			Severity:    c.Severity,
			Confidence:  c.Confidence,
		}
		detections = append(detections, d)

		b.WriteString(text[cursor:bounds[c.Start]])
		b.WriteString(d.Placeholder)
		cursor = bounds[c.End]
	}
	b.WriteString(text[cursor:])

	return DetectionResult{
		RedactedText: b.String(),
		Detections:   detections,
		Stats:        stats,
	}
}

// RedactAll applies every redaction of a result
func RedactAll(result DetectionResult) string {
	return result.RedactedText
}

// RedactOne replaces a single detection in text with its placeholder,
// leaving every other span untouched. If the detection's offsets no longer
// line up with text (earlier edits shifted them) the first occurrence of
// the original value is replaced instead; if it is gone, text is returned
// unchanged.
func RedactOne(text string, d Detection) string {
	if d.Original == "" {
		return text
	}

	bounds := runeBounds(text)
	if d.Start >= 0 && d.Start < d.End && d.End < len(bounds) {
		from, to := bounds[d.Start], bounds[d.End]
		if text[from:to] == d.Original {
			return text[:from] + d.Placeholder + text[to:]
		}
	}

	return strings.Replace(text, d.Original, d.Placeholder, 1)
}

// Restore substitutes each placeholder in the redacted text back with its
// original value, reconstructing the scanned text. Placeholders are found
// by position, so placeholder-shaped text that was already in the input is
// left alone. Detections must be in ascending start order, as Redact
// returns them.
func Restore(result DetectionResult) string {
	text := result.RedactedText
	bounds := runeBounds(text)
	runeCount := len(bounds) - 1

	var b strings.Builder
	b.Grow(len(text))

	cursor, shift := 0, 0
	for _, d := range result.Detections {
		width := utf8.RuneCountInString(d.Placeholder)
		start := d.Start + shift
		shift += width - (d.End - d.Start)

		end := start + width
		if start < 0 || end > runeCount || bounds[start] < cursor {
			continue
		}
		from, to := bounds[start], bounds[end]
		if text[from:to] != d.Placeholder {
			continue
		}
		b.WriteString(text[cursor:from])
		b.WriteString(d.Original)
		cursor = to
	}
	b.WriteString(text[cursor:])

	return b.String()
}

// runeBounds returns the byte offset of every codepoint in s followed by
// len(s). An invalid byte counts as one codepoint, matching []rune(s).
func runeBounds(s string) []int {
	bounds := make([]int, 0, len(s)+1)
	for i := range s {
		bounds = append(bounds, i)
	}
	return append(bounds, len(s))
}

// runeOffset converts a byte offset within s into a codepoint offset
func runeOffset(s string, byteOffset int) int {
	return utf8.RuneCountInString(s[:byteOffset])
}
