package domain

import "testing"

func TestStageOutcomeStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		outcome StageOutcome
		want    StageStatus
	}{
		{StageOutcome{}, StageOK},
		{StageOutcome{OKCount: 5}, StageOK},
		{StageOutcome{OKCount: 3, ErrorCount: 2}, StagePartial},
		{StageOutcome{ErrorCount: 4}, StageError},
		{StageOutcome{SkipCount: 7}, StageOK},
	}
	for _, c := range cases {
		if got := c.outcome.Status(); got != c.want {
			t.Fatalf("%+v: expected %s, got %s", c.outcome, c.want, got)
		}
	}
}

func TestNormStatusFromProbe(t *testing.T) {
	t.Parallel()

	cases := map[ProbeStatus]NormStatus{
		ProbeInForce:   StatusInForce,
		ProbeRevoked:   StatusRevoked,
		ProbeIrregular: StatusIrregular,
		ProbeUnknown:   StatusUnknown,
		ProbeError:     StatusUnknown, // errors never leave a norm PENDING
	}
	for probe, want := range cases {
		if got := NormStatusFromProbe(probe); got != want {
			t.Fatalf("%s: expected %s, got %s", probe, want, got)
		}
	}
}
