// Package relevance decides whether a captured document matters, judged
// against the monitored-term vocabulary.
package relevance

import (
	"log/slog"
	"regexp"
	"strings"

	"NormScanner/internal/domain"
	"NormScanner/internal/normref"
	"NormScanner/internal/ports"
)

// Filter evaluates documents against a snapshot of active terms. The
// snapshot is taken when the filter is built; term edits made mid-run do not
// affect that run.
type Filter struct {
	terms  []compiledTerm
	logger *slog.Logger
}

type compiledTerm struct {
	term     domain.MonitoredTerm
	needles  []string       // lowercased variants for EXACT_TEXT
	pattern  *regexp.Regexp // compiled for REGEX
	normKey  string         // canonical tuple key for NORM_REF
	normYear int
}

var _ ports.RelevanceFilter = (*Filter)(nil)

// New compiles the active terms into a filter. Terms whose regex fails to
// compile are skipped with a warning rather than poisoning the run.
func New(terms []domain.MonitoredTerm, logger *slog.Logger) *Filter {
	f := &Filter{logger: logger}
	for _, t := range terms {
		if !t.Active {
			continue
		}
		ct := compiledTerm{term: t}
		switch t.MatchKind {
		case domain.MatchExactText:
			ct.needles = append(ct.needles, strings.ToLower(t.Term))
			for _, v := range t.Variants {
				if v != "" {
					ct.needles = append(ct.needles, strings.ToLower(v))
				}
			}
		case domain.MatchRegex:
			pattern, err := regexp.Compile("(?i)" + t.Term)
			if err != nil {
				if logger != nil {
					logger.Warn("skipping invalid regex term", "term", t.Term, "error", err)
				}
				continue
			}
			ct.pattern = pattern
		case domain.MatchNormRef:
			number, year := normref.SplitYear(t.Term)
			ct.normKey = normref.Canonicalize(number)
			ct.normYear = year
		default:
			continue
		}
		f.terms = append(f.terms, ct)
	}
	return f
}

// Evaluate returns whether any term matches and which terms matched. The
// refs argument is the extractor's output for the same text and feeds
// NORM_REF terms.
func (f *Filter) Evaluate(text string, refs []domain.NormRef) (bool, []string) {
	if len(f.terms) == 0 {
		return false, nil
	}
	lower := strings.ToLower(text)

	var matched []string
	for _, ct := range f.terms {
		if f.matches(ct, lower, refs) {
			matched = append(matched, ct.term.Term)
		}
	}
	return len(matched) > 0, matched
}

func (f *Filter) matches(ct compiledTerm, lowerText string, refs []domain.NormRef) bool {
	switch ct.term.MatchKind {
	case domain.MatchExactText:
		for _, needle := range ct.needles {
			if strings.Contains(lowerText, needle) {
				return true
			}
		}
	case domain.MatchRegex:
		if ct.pattern != nil && ct.pattern.MatchString(lowerText) {
			return true
		}
	case domain.MatchNormRef:
		for _, ref := range refs {
			if ref.Number == ct.normKey && normref.YearsEqual(ref.Year, ct.normYear) {
				return true
			}
		}
	}
	return false
}
