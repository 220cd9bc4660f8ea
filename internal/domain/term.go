package domain

// TermMatchKind selects how a monitored term matches a document.
type TermMatchKind string

const (
	MatchExactText TermMatchKind = "EXACT_TEXT"
	MatchNormRef   TermMatchKind = "NORM_REF"
	MatchRegex     TermMatchKind = "REGEX"
)

// MonitoredTerm is one entry of the relevance vocabulary.
type MonitoredTerm struct {
	ID        int64
	Term      string
	MatchKind TermMatchKind
	Variants  []string
	Priority  int
	Active    bool
}
