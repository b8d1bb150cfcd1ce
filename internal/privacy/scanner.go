package privacy

import "unicode/utf8"

// Scan runs every rule over text and returns the validated candidates.
// Rules are processed in the given order and each rule's matches are
// emitted left to right. Overlaps are left for Resolve.
func Scan(text string, rules []PatternRule) []Candidate {
	if text == "" {
		return nil
	}

	offsets := newOffsetMap(text)
	var candidates []Candidate

	for _, rule := range rules {
		if rule.Pattern == nil {
			continue
		}

		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			raw := text[start:end]
			if raw == "" {
				continue
			}
			if rule.Validator != nil && !runValidator(rule.Validator, raw) {
				if !rule.Shrink {
					continue
				}
				cut, ok := shrinkMatch(raw, rule.Validator)
				if !ok {
					continue
				}
				end = start + cut
				raw = raw[:cut]
			}

			candidates = append(candidates, Candidate{
				RuleType:   rule.Type,
				Priority:   rule.Priority,
				Start:      offsets.runeIndex(start),
				End:        offsets.runeIndex(end),
				RawText:    raw,
				Severity:   rule.Severity,
				Confidence: 1.0,
			})
		}
	}

	return candidates
}

// shrinkMatch returns the length of the longest prefix of raw that ends on
// a digit just before a separator and passes v
func shrinkMatch(raw string, v Validator) (int, bool) {
	for i := len(raw) - 1; i > 0; i-- {
		if raw[i] != ' ' && raw[i] != '-' {
			continue
		}
		if raw[i-1] < '0' || raw[i-1] > '9' {
			continue
		}
		if runValidator(v, raw[:i]) {
			return i, true
		}
	}
	return 0, false
}

// runValidator treats a panicking validator as a rejection
func runValidator(v Validator, raw string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return v(raw)
}

// offsetMap converts byte offsets from the regexp engine into codepoint
// offsets. ASCII input maps one to one and allocates nothing.
type offsetMap struct {
	runes []int
}

func newOffsetMap(text string) offsetMap {
	ascii := true
	for i := 0; i < len(text); i++ {
		if text[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return offsetMap{}
	}

	runes := make([]int, len(text)+1)
	n := 0
	for i := range text {
		runes[i] = n
		n++
	}
	// continuation bytes never start a match; only boundaries are read
	runes[len(text)] = n
	return offsetMap{runes: runes}
}

func (m offsetMap) runeIndex(byteOffset int) int {
	if m.runes == nil {
		return byteOffset
	}
	return m.runes[byteOffset]
}
