// Package diagnose defines the pluggable pure-function collaborator the
// brain/worker cycles call to turn (event content, runtime state) into a
// diagnosis. Spec.md keeps this collaborator's internals out of scope; this
// package only fixes the interface shape and ships a deterministic
// reference implementation, grounded on the State10D projection in
// original_source/az_v2/state.py and az_v2/diagnose.py (import shape only —
// the projection logic itself is carried from runtime.py's _state_to_10d,
// which is in scope as part of the Brain Cycle).
package diagnose

import "strings"

type ChangeType string

const (
	ChangeRoot      ChangeType = "ROOT"
	ChangeSymptom   ChangeType = "SYMPTOM"
	ChangeTransform ChangeType = "TRANSFORM"
)

type CyclePhase string

const (
	PhaseAscending  CyclePhase = "ASCENDING"
	PhasePeak       CyclePhase = "PEAK"
	PhaseDescending CyclePhase = "DESCENDING"
	PhaseTrough     CyclePhase = "TROUGH"
)

type WuxingChannel string

const (
	Wood  WuxingChannel = "WOOD"
	Fire  WuxingChannel = "FIRE"
	Earth WuxingChannel = "EARTH"
	Metal WuxingChannel = "METAL"
	Water WuxingChannel = "WATER"
)

// State10D is the scalar runtime state projected into the ten-dimensional
// shape the diagnosis collaborator reasons over.
type State10D struct {
	Change                 ChangeType                `json:"change"`
	CyclePhase             CyclePhase                `json:"cycle_phase"`
	Kappa                  map[WuxingChannel]float64 `json:"kappa"`
	D1Quantity             float64                   `json:"d1_quantity"`
	D4ApproachingThreshold bool                      `json:"d4_approaching_threshold"`
	D5RecoveryRate         float64                   `json:"d5_recovery_rate"`
	D5LongTermCost         float64                   `json:"d5_long_term_cost"`
	D5DepletionRisk        float64                   `json:"d5_depletion_risk"`
	D7ExitCost             float64                   `json:"d7_exit_cost"`
	D10HaltConditions      []string                  `json:"d10_halt_conditions"`
}

// ScalarState is the subset of RuntimeState the projection needs.
type ScalarState struct {
	Energy      float64
	Stress      float64
	Uncertainty float64
	Integrity   float64
	Continuity  float64
}

// ToState10D projects the runtime's scalar state into State10D, exactly as
// _state_to_10d.
func ToState10D(s ScalarState) State10D {
	change := ChangeSymptom
	switch {
	case s.Stress >= 0.7:
		change = ChangeTransform
	case s.Uncertainty >= 0.6:
		change = ChangeRoot
	}

	phase := PhaseTrough
	switch {
	case s.Continuity >= 0.75:
		phase = PhaseAscending
	case s.Continuity >= 0.55:
		phase = PhasePeak
	case s.Continuity >= 0.35:
		phase = PhaseDescending
	}

	kappa := map[WuxingChannel]float64{
		Wood:  1.0,
		Fire:  1 + 0.2*s.Stress,
		Earth: 1.0,
		Metal: 1 + 0.2*s.Uncertainty,
		Water: 1 - 0.2*s.Continuity,
	}

	var halts []string
	if s.Uncertainty >= 0.95 {
		halts = []string{"no_new_actionability"}
	}

	return State10D{
		Change:                 change,
		CyclePhase:             phase,
		Kappa:                  kappa,
		D1Quantity:             s.Energy,
		D4ApproachingThreshold: s.Stress >= 0.85,
		D5RecoveryRate:         s.Energy * (1 - s.Stress),
		D5LongTermCost:         s.Stress * (1 - s.Continuity),
		D5DepletionRisk:        1 - s.Energy,
		D7ExitCost:             s.Integrity * s.Continuity,
		D10HaltConditions:      halts,
	}
}

// Diagnosis is the result of Diagnose.
type Diagnosis struct {
	Diagnosis        string   `json:"diagnosis"`
	ActionableAdvice []string `json:"actionable_advice"`
	Halt             bool     `json:"halt"`
}

// Diagnoser is the pluggable interface the brain/worker cycles depend on.
type Diagnoser interface {
	Diagnose(content string, state State10D) Diagnosis
}

// Reference is the deterministic reference implementation: it has no
// external dependencies and never calls out to a model, so tests can run
// it without network access.
type Reference struct{}

func (Reference) Diagnose(content string, state State10D) Diagnosis {
	if len(state.D10HaltConditions) > 0 {
		return Diagnosis{Diagnosis: "halt: " + strings.Join(state.D10HaltConditions, ","), Halt: true}
	}

	var advice []string
	diag := "stable"
	switch state.Change {
	case ChangeTransform:
		diag = "elevated stress, transformation in progress"
		advice = append(advice, "reduce load and stabilize before the next escalation")
	case ChangeRoot:
		diag = "high uncertainty, root cause unresolved"
		advice = append(advice, "gather more evidence before acting")
	default:
		diag = "symptom-level signal, no structural change detected"
	}

	if state.D4ApproachingThreshold {
		advice = append(advice, "approaching stress threshold, consider deferring non-critical work")
	}
	if state.D5DepletionRisk > 0.7 {
		advice = append(advice, "energy depletion risk, throttle dispatch volume")
	}
	if strings.TrimSpace(content) == "" {
		diag = "empty observation"
	}

	return Diagnosis{Diagnosis: diag, ActionableAdvice: advice}
}

var _ Diagnoser = Reference{}
