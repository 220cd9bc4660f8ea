package domain

import "time"

// NormKind classifies a legal instrument.
type NormKind string

const (
	NormLaw         NormKind = "LAW"
	NormDecree      NormKind = "DECREE"
	NormOrder       NormKind = "ORDER"
	NormResolution  NormKind = "RESOLUTION"
	NormInstruction NormKind = "INSTRUCTION"
	NormOther       NormKind = "OTHER"
)

// NormStatus is the vigencia verdict for a norm.
type NormStatus string

const (
	StatusInForce   NormStatus = "IN_FORCE"
	StatusRevoked   NormStatus = "REVOKED"
	StatusAmended   NormStatus = "AMENDED"
	StatusIrregular NormStatus = "IRREGULAR"
	StatusPending   NormStatus = "PENDING"
	StatusUnknown   NormStatus = "UNKNOWN"
)

// SourceOfTruth records which backing service produced a norm's status.
type SourceOfTruth string

const (
	TruthPortal SourceOfTruth = "PORTAL"
	TruthAux    SourceOfTruth = "AUX"
)

// NormRef is a norm identity extracted from text. Number is canonical;
// RawNumber preserves the form found in the source. Year 0 means absent.
type NormRef struct {
	Kind      NormKind
	Number    string
	RawNumber string
	Year      int
}

// Norm is a persisted legal-norm identity. (Kind, Number, Year) is unique.
type Norm struct {
	ID            int64
	Kind          NormKind
	Number        string
	Year          int
	Status        NormStatus
	SourceOfTruth SourceOfTruth
	VerifiedAt    *time.Time
	Details       map[string]string
	FirstSeenAt   time.Time
	SummaryText   string
}

// ProbeStatus is the outcome of a single vigencia probe.
type ProbeStatus string

const (
	ProbeInForce   ProbeStatus = "IN_FORCE"
	ProbeRevoked   ProbeStatus = "REVOKED"
	ProbeUnknown   ProbeStatus = "UNKNOWN"
	ProbeIrregular ProbeStatus = "IRREGULAR"
	ProbeError     ProbeStatus = "ERROR"
)

// ProbeResult carries the classification plus the strategy that produced it
// and any structured fields scraped from the portal.
type ProbeResult struct {
	Status   ProbeStatus
	Strategy string
	Details  map[string]string
	ProbedAt time.Time
}

// NormStatusFromProbe maps a probe outcome onto the persisted status.
// Probe errors leave the norm UNKNOWN so the staleness query retries it later.
func NormStatusFromProbe(s ProbeStatus) NormStatus {
	switch s {
	case ProbeInForce:
		return StatusInForce
	case ProbeRevoked:
		return StatusRevoked
	case ProbeIrregular:
		return StatusIrregular
	default:
		return StatusUnknown
	}
}
