// Package normref finds references to Brazilian legal norms in free text and
// canonicalizes their numbers for uniqueness and lookups.
package normref

import (
	"regexp"
	"strconv"
	"strings"

	"NormScanner/internal/domain"
	"NormScanner/internal/ports"
)

// refPattern recognizes a norm kind, an optional numbering marker
// (nº / n° / no. / n. / :), and a number token like 4.257, 21.866 or 25/21.
var refPattern = regexp.MustCompile(
	`(?i)\b(lei\s+complementar|decreto(?:-lei)?|lei|portaria|instru[cç][aã]o\s+normativa|resolu[cç][aã]o|emenda\s+constitucional|ato\s+normativo)\s*(?:(?:n[º°o]?\.?|:)\s*)?(\d+(?:[./-]\d+)*)`)

var kindByKeyword = map[string]domain.NormKind{
	"lei complementar":     domain.NormLaw,
	"lei":                  domain.NormLaw,
	"decreto":              domain.NormDecree,
	"decreto-lei":          domain.NormDecree,
	"portaria":             domain.NormOrder,
	"instrucao normativa":  domain.NormInstruction,
	"resolucao":            domain.NormResolution,
	"emenda constitucional": domain.NormOther,
	"ato normativo":        domain.NormOther,
}

// Extractor implements ports.NormExtractor.
type Extractor struct{}

var _ ports.NormExtractor = (*Extractor)(nil)

// New returns the default extractor.
func New() *Extractor { return &Extractor{} }

// Extract returns the ordered, deduplicated norm references found in text.
// Ordering follows first appearance; duplicates share the canonical tuple.
func (e *Extractor) Extract(text string) []domain.NormRef {
	matches := refPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	var refs []domain.NormRef
	seen := map[string]struct{}{}
	for _, m := range matches {
		kind := kindFromKeyword(m[1])
		rawNumber := m[2]
		number, year := SplitYear(rawNumber)
		canonical := Canonicalize(number)
		if canonical == "" {
			continue
		}

		key := string(kind) + "|" + canonical + "|" + strconv.Itoa(year)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		refs = append(refs, domain.NormRef{
			Kind:      kind,
			Number:    canonical,
			RawNumber: rawNumber,
			Year:      year,
		})
	}
	return refs
}

// SplitYear peels a trailing /YY or /YYYY year segment off a raw number.
// A four-digit tail is always a year; a two-digit tail counts as a year only
// when the head already carries separators (so "4.257/89" yields year 89 but
// "25/21" stays a whole ordinance number).
func SplitYear(raw string) (number string, year int) {
	idx := strings.LastIndex(raw, "/")
	if idx <= 0 || idx == len(raw)-1 {
		return raw, 0
	}
	head, tail := raw[:idx], raw[idx+1:]
	for _, r := range tail {
		if r < '0' || r > '9' {
			return raw, 0
		}
	}
	switch len(tail) {
	case 4:
		year, _ = strconv.Atoi(tail)
		return head, year
	case 2:
		if strings.ContainsAny(head, "./-") {
			year, _ = strconv.Atoi(tail)
			return head, year
		}
	}
	return raw, 0
}

// Canonicalize strips everything but digits and ./- separators, drops leading
// zeros per digit group, and rejoins preserving the separators found.
// Canonicalize is idempotent.
func Canonicalize(raw string) string {
	var filtered strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == '/' || r == '-' {
			filtered.WriteRune(r)
		}
	}

	var out strings.Builder
	var group strings.Builder
	flush := func() {
		out.WriteString(trimLeadingZeros(group.String()))
		group.Reset()
	}
	for _, r := range filtered.String() {
		if r == '.' || r == '/' || r == '-' {
			flush()
			out.WriteRune(r)
			continue
		}
		group.WriteRune(r)
	}
	flush()
	return out.String()
}

// YearsEqual treats two-digit and four-digit forms of the same year as equal
// at query time (/21 matches /2021).
func YearsEqual(a, b int) bool {
	if a == b {
		return true
	}
	if a == 0 || b == 0 {
		return false
	}
	return expandYear(a) == expandYear(b)
}

func expandYear(y int) int {
	if y >= 100 {
		return y
	}
	// Gazette norms older than the 1970s do not show up in two-digit form.
	if y < 70 {
		return 2000 + y
	}
	return 1900 + y
}

func trimLeadingZeros(group string) string {
	trimmed := strings.TrimLeft(group, "0")
	if trimmed == "" && group != "" {
		return "0"
	}
	return trimmed
}

func kindFromKeyword(keyword string) domain.NormKind {
	normalized := strings.ToLower(strings.Join(strings.Fields(keyword), " "))
	normalized = strings.NewReplacer("ç", "c", "ã", "a").Replace(normalized)
	if kind, ok := kindByKeyword[normalized]; ok {
		return kind
	}
	return domain.NormOther
}
