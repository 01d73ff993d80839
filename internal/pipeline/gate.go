// Package pipeline holds the stage gate rules that decide whether a source may
// move between workflow stages.
package pipeline

import (
	"errors"
	"fmt"

	"strata/api/internal/store"
)

const (
	StageDiscovered    = 1
	StageAcquired      = 2
	StageGeoreferenced = 3
	StageMapReady      = 4

	MinStage = StageDiscovered
	MaxStage = StageMapReady
)

var (
	ErrInvalidStage = errors.New("stage must be between 1 and 4")
	ErrStageSkip    = errors.New("stage may only change by one step")
)

var stageNames = map[int]string{
	StageDiscovered:    "Discovered",
	StageAcquired:      "Acquired",
	StageGeoreferenced: "Georeferenced",
	StageMapReady:      "Map-Ready",
}

func StageName(stage int) string {
	if name, ok := stageNames[stage]; ok {
		return name
	}
	return fmt.Sprintf("Stage %d", stage)
}

func ValidStage(stage int) bool {
	return stage >= MinStage && stage <= MaxStage
}

// Rule is one gate requirement. Check returns a violation message, or "" when satisfied.
type Rule struct {
	Stage int
	Check func(store.Source) string
}

// Rules is the fixed gate table, ordered by stage.
var Rules = []Rule{
	{Stage: StageAcquired, Check: requireString(func(s store.Source) *string { return s.SourceURL }, "Stage 2 requires source url")},
	{Stage: StageGeoreferenced, Check: requireString(func(s store.Source) *string { return s.IIIFURL }, "Stage 3 requires iiif url")},
	{Stage: StageGeoreferenced, Check: requireString(func(s store.Source) *string { return s.GeoreferenceURL }, "Stage 3 requires georeference url")},
	{Stage: StageMapReady, Check: requireGeoreferencedTile},
}

// isSet treats nil and "" as unset. Whitespace counts as a value.
func isSet(v *string) bool {
	return v != nil && *v != ""
}

func requireString(field func(store.Source) *string, message string) func(store.Source) string {
	return func(s store.Source) string {
		if isSet(field(s)) {
			return ""
		}
		return message
	}
}

func requireGeoreferencedTile(s store.Source) string {
	for _, tile := range s.Tiles {
		if tile.Georeferenced {
			return ""
		}
	}
	return "Stage 4 requires at least one georeferenced tile"
}

// Evaluate returns every unmet requirement for stages 2 through target.
// An empty result means the source may sit at target.
func Evaluate(source store.Source, target int) ([]string, error) {
	if !ValidStage(target) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidStage, target)
	}
	violations := []string{}
	for _, rule := range Rules {
		if rule.Stage > target {
			continue
		}
		if msg := rule.Check(source); msg != "" {
			violations = append(violations, msg)
		}
	}
	return violations, nil
}

type Transition int

const (
	TransitionNone Transition = iota
	TransitionAdvance
	TransitionRevert
)

func (t Transition) String() string {
	switch t {
	case TransitionAdvance:
		return "advance"
	case TransitionRevert:
		return "revert"
	default:
		return "none"
	}
}

// CheckTransition classifies a move from source.Stage to target. Reverts skip
// the gate entirely; advances return the cumulative violations for target.
func CheckTransition(source store.Source, target int) (Transition, []string, error) {
	if !ValidStage(target) {
		return TransitionNone, nil, fmt.Errorf("%w: target %d", ErrInvalidStage, target)
	}
	if !ValidStage(source.Stage) {
		return TransitionNone, nil, fmt.Errorf("%w: current %d", ErrInvalidStage, source.Stage)
	}

	switch target - source.Stage {
	case 0:
		return TransitionNone, []string{}, nil
	case -1:
		return TransitionRevert, []string{}, nil
	case 1:
		violations, err := Evaluate(source, target)
		if err != nil {
			return TransitionAdvance, nil, err
		}
		return TransitionAdvance, violations, nil
	}
	return TransitionNone, nil, fmt.Errorf("%w: %d to %d", ErrStageSkip, source.Stage, target)
}

// NextStageHints lists what is missing before the source can advance. Nil at the last stage.
func NextStageHints(source store.Source) []string {
	if source.Stage >= MaxStage {
		return nil
	}
	next := source.Stage + 1
	if next < StageAcquired {
		next = StageAcquired
	}
	violations, err := Evaluate(source, next)
	if err != nil {
		return nil
	}
	return violations
}
