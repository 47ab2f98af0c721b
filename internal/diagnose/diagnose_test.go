package diagnose

import "testing"

func TestToState10DClassifiesChangeType(t *testing.T) {
	s := ToState10D(ScalarState{Stress: 0.8, Uncertainty: 0.1, Energy: 0.5, Integrity: 0.5, Continuity: 0.5})
	if s.Change != ChangeTransform {
		t.Fatalf("expected TRANSFORM, got %s", s.Change)
	}

	s = ToState10D(ScalarState{Stress: 0.1, Uncertainty: 0.7, Energy: 0.5, Integrity: 0.5, Continuity: 0.5})
	if s.Change != ChangeRoot {
		t.Fatalf("expected ROOT, got %s", s.Change)
	}

	s = ToState10D(ScalarState{Stress: 0.1, Uncertainty: 0.1, Energy: 0.5, Integrity: 0.5, Continuity: 0.5})
	if s.Change != ChangeSymptom {
		t.Fatalf("expected SYMPTOM, got %s", s.Change)
	}
}

func TestToState10DCyclePhase(t *testing.T) {
	cases := []struct {
		continuity float64
		want       CyclePhase
	}{
		{0.9, PhaseAscending},
		{0.6, PhasePeak},
		{0.4, PhaseDescending},
		{0.1, PhaseTrough},
	}
	for _, c := range cases {
		s := ToState10D(ScalarState{Continuity: c.continuity})
		if s.CyclePhase != c.want {
			t.Fatalf("continuity %v: expected %s, got %s", c.continuity, c.want, s.CyclePhase)
		}
	}
}

func TestToState10DHaltConditionOnExtremeUncertainty(t *testing.T) {
	s := ToState10D(ScalarState{Uncertainty: 0.96})
	if len(s.D10HaltConditions) != 1 || s.D10HaltConditions[0] != "no_new_actionability" {
		t.Fatalf("expected halt condition, got %v", s.D10HaltConditions)
	}

	s = ToState10D(ScalarState{Uncertainty: 0.5})
	if len(s.D10HaltConditions) != 0 {
		t.Fatalf("expected no halt condition, got %v", s.D10HaltConditions)
	}
}

func TestReferenceDiagnoseHaltsWhenHaltConditionsPresent(t *testing.T) {
	s := ToState10D(ScalarState{Uncertainty: 0.99})
	d := Reference{}.Diagnose("anything", s)
	if !d.Halt {
		t.Fatalf("expected halt diagnosis")
	}
}

func TestReferenceDiagnoseAdvisesOnStressAndDepletion(t *testing.T) {
	s := ToState10D(ScalarState{Stress: 0.9, Energy: 0.1, Uncertainty: 0.1, Continuity: 0.5, Integrity: 0.5})
	d := Reference{}.Diagnose("event content", s)
	if d.Halt {
		t.Fatalf("did not expect halt")
	}
	if len(d.ActionableAdvice) < 2 {
		t.Fatalf("expected multiple advice items, got %v", d.ActionableAdvice)
	}
}

func TestReferenceDiagnoseEmptyContent(t *testing.T) {
	s := ToState10D(ScalarState{Energy: 0.5, Continuity: 0.5})
	d := Reference{}.Diagnose("   ", s)
	if d.Diagnosis != "empty observation" {
		t.Fatalf("expected empty observation diagnosis, got %q", d.Diagnosis)
	}
}
