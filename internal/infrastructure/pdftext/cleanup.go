package pdftext

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	hyphenBreakRe   = regexp.MustCompile(`(\p{L})-\s*\n\s*(\p{L})`)
	spaceRunRe      = regexp.MustCompile(`[ \t]+`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
	lineBreakRe     = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	paragraphMarker = "\x00PARA\x00"
)

// mojibake repairs the usual Latin-1/UTF-8 double-encoding artifacts seen in
// gazette PDFs. Ordered: longer sequences first so prefixes never clobber
// their extensions.
var mojibake = []struct{ broken, fixed string }{
	{"â€œ", "\""}, // left double quote
	{"â€”", "-"},  // em dash
	{"â€“", "-"},  // en dash
	{"â€™", "'"},  // right single quote
	{"â€˜", "'"},  // left single quote
	{"â€", "\""},       // right double quote (truncated)
	{"Ã£", "ã"},   // a-tilde
	{"Ã¡", "á"},   // a-acute
	{"Ã¢", "â"},   // a-circumflex
	{"Ã©", "é"},   // e-acute
	{"Ãª", "ê"},   // e-circumflex
	{"Ã­", "í"},   // i-acute
	{"Ã³", "ó"},   // o-acute
	{"Ã´", "ô"},   // o-circumflex
	{"Ãµ", "õ"},   // o-tilde
	{"Ãº", "ú"},   // u-acute
	{"Ã§", "ç"},   // c-cedilla
	{"Ã‰", "É"},   // E-acute
	{"Ã‡", "Ç"},   // C-cedilla
	{"Â°", "°"},   // degree
	{"Âº", "º"},   // ordinal
	{"Â§", "§"},   // section sign
}

// Clean applies the deterministic post-processing chain: strip control
// characters, join hyphenated line breaks, collapse whitespace runs while
// preserving paragraph boundaries, repair mojibake, and expand domain
// abbreviations.
func Clean(text string, normalize map[string]string) string {
	if text == "" {
		return ""
	}

	text = stripControl(text)
	text = hyphenBreakRe.ReplaceAllString(text, "$1$2")

	// Double newlines are paragraph boundaries; protect them before
	// collapsing the single breaks that PDF extraction sprinkles around.
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = strings.ReplaceAll(text, "\n\n", paragraphMarker)
	text = lineBreakRe.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, paragraphMarker, "\n\n")
	text = spaceRunRe.ReplaceAllString(text, " ")

	for _, m := range mojibake {
		text = strings.ReplaceAll(text, m.broken, m.fixed)
	}

	text = expandAbbreviations(text, normalize)

	return strings.TrimSpace(text)
}

func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}

func expandAbbreviations(text string, normalize map[string]string) string {
	if len(normalize) == 0 {
		return text
	}
	keys := make([]string, 0, len(normalize))
	for abbrev := range normalize {
		keys = append(keys, abbrev)
	}
	sort.Strings(keys)

	lower := strings.ToLower(text)
	for _, abbrev := range keys {
		full := normalize[abbrev]
		needle := strings.ToLower(abbrev)
		// Resume after each replacement so an expansion containing its own
		// abbreviation cannot loop.
		from := 0
		for {
			idx := strings.Index(lower[from:], needle)
			if idx < 0 {
				break
			}
			idx += from
			text = text[:idx] + full + text[idx+len(needle):]
			lower = lower[:idx] + strings.ToLower(full) + lower[idx+len(needle):]
			from = idx + len(full)
		}
	}
	return text
}
