package domain

import "time"

// Stage enumerates the pipeline phases driven by the orchestrator.
type Stage string

const (
	StageCollect      Stage = "COLLECT"
	StageFilter       Stage = "FILTER"
	StageExtractText  Stage = "EXTRACT_TEXT"
	StageExtractNorms Stage = "EXTRACT_NORMS"
	StageVerify       Stage = "VERIFY"
	StageEnrich       Stage = "ENRICH"
)

// StageStatus is the aggregate outcome of one stage invocation.
type StageStatus string

const (
	StageOK      StageStatus = "OK"
	StagePartial StageStatus = "PARTIAL"
	StageError   StageStatus = "ERROR"
)

// ExecutionLog records one pipeline stage invocation; the persisted log and
// its counters are the source of truth for what a run did.
type ExecutionLog struct {
	ID        string
	Stage     Stage
	Status    StageStatus
	StartedAt time.Time
	EndedAt   time.Time
	Counters  map[string]int
	ErrorText string
	Trace     string
	Detail    map[string]string
}

// StageOutcome aggregates per-item results inside a stage.
type StageOutcome struct {
	OKCount    int
	ErrorCount int
	SkipCount  int
}

// Status derives the stage verdict: OK when nothing failed, ERROR when
// nothing succeeded and something failed, PARTIAL otherwise.
func (o StageOutcome) Status() StageStatus {
	switch {
	case o.ErrorCount == 0:
		return StageOK
	case o.OKCount == 0:
		return StageError
	default:
		return StagePartial
	}
}

// RunReport is the return shape of a pipeline entry point.
type RunReport struct {
	Stages   map[Stage]StageStatus
	Counters map[string]int
	LogIDs   []string
}

// Overall folds the stage map into a single exit status.
func (r RunReport) Overall() StageStatus {
	var hasOK, hasErr, hasPartial bool
	for _, st := range r.Stages {
		switch st {
		case StageError:
			hasErr = true
		case StagePartial:
			hasPartial = true
		default:
			hasOK = true
		}
	}
	switch {
	case hasPartial || (hasOK && hasErr):
		return StagePartial
	case hasErr:
		return StageError
	default:
		return StageOK
	}
}
