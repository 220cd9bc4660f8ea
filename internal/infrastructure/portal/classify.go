package portal

import (
	"strings"

	"NormScanner/internal/domain"
)

var revocationTokens = []string{"revogado", "revogada", "cancelado", "cancelada", "extinto", "extinta"}

// classifyText applies the portal's vocabulary to one snippet or body:
// a revocation token anywhere wins over "vigente"; "alterado" alone still
// counts as in force.
func classifyText(text string) domain.ProbeStatus {
	lower := strings.ToLower(text)

	for _, token := range revocationTokens {
		if strings.Contains(lower, token) {
			return domain.ProbeRevoked
		}
	}
	if strings.Contains(lower, "vigente") {
		return domain.ProbeInForce
	}
	if strings.Contains(lower, "alterado") || strings.Contains(lower, "alterada") {
		return domain.ProbeInForce
	}
	return domain.ProbeUnknown
}

// classifySituation maps the portal's explicit situation field, as shown by
// the rendered search results, onto a probe status.
func classifySituation(situation string) domain.ProbeStatus {
	s := strings.ToLower(strings.TrimSpace(situation))
	switch {
	case s == "":
		return domain.ProbeUnknown
	case strings.Contains(s, "revogad"), strings.Contains(s, "cancelad"), strings.Contains(s, "extint"):
		return domain.ProbeRevoked
	case strings.Contains(s, "vigente"), strings.Contains(s, "alterad"):
		return domain.ProbeInForce
	default:
		return domain.ProbeUnknown
	}
}

// definitive reports whether a strategy's answer stops the fallthrough chain.
func definitive(s domain.ProbeStatus) bool {
	return s == domain.ProbeInForce || s == domain.ProbeRevoked
}
