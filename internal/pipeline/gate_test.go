package pipeline

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"strata/api/internal/store"
)

func str(v string) *string { return &v }

func TestEvaluateConcreteScenario(t *testing.T) {
	src := store.Source{Stage: 1, Tiles: []store.Tile{}}

	got, err := Evaluate(src, 2)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"Stage 2 requires source url"}) {
		t.Fatalf("unexpected violations %q", got)
	}

	src.SourceURL = str("http://example.org/map")
	got, err = Evaluate(src, 2)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no violations, got %q", got)
	}

	got, err = Evaluate(src, 3)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	want := []string{"Stage 3 requires iiif url", "Stage 3 requires georeference url"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEvaluateIsCumulative(t *testing.T) {
	src := store.Source{Stage: 1}
	got, err := Evaluate(src, 4)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	want := []string{
		"Stage 2 requires source url",
		"Stage 3 requires iiif url",
		"Stage 3 requires georeference url",
		"Stage 4 requires at least one georeferenced tile",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEvaluateEmptiness(t *testing.T) {
	tests := []struct {
		name  string
		value *string
		ok    bool
	}{
		{name: "nil", value: nil, ok: false},
		{name: "empty", value: str(""), ok: false},
		{name: "whitespace", value: str("  "), ok: true},
		{name: "value", value: str("https://a.example"), ok: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(store.Source{SourceURL: tc.value}, 2)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if (len(got) == 0) != tc.ok {
				t.Fatalf("ok=%v but violations %q", tc.ok, got)
			}
		})
	}
}

func TestEvaluateStageFourNeedsGeoreferencedTile(t *testing.T) {
	src := store.Source{
		SourceURL:       str("a"),
		IIIFURL:         str("b"),
		GeoreferenceURL: str("c"),
		Tiles:           []store.Tile{{URL: "x", Georeferenced: false}},
	}
	got, _ := Evaluate(src, 4)
	if !reflect.DeepEqual(got, []string{"Stage 4 requires at least one georeferenced tile"}) {
		t.Fatalf("unexpected violations %q", got)
	}
	src.Tiles = append(src.Tiles, store.Tile{URL: "y", Georeferenced: true})
	got, _ = Evaluate(src, 4)
	if len(got) != 0 {
		t.Fatalf("expected legal, got %q", got)
	}
}

func TestEvaluateRejectsInvalidStage(t *testing.T) {
	for _, target := range []int{-1, 0, 5, 100} {
		if _, err := Evaluate(store.Source{}, target); !errors.Is(err, ErrInvalidStage) {
			t.Fatalf("target %d: expected ErrInvalidStage, got %v", target, err)
		}
	}
	got, err := Evaluate(store.Source{}, 1)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("stage 1 should always be legal, got %q %v", got, err)
	}
}

func randomSource(r *rand.Rand) store.Source {
	pick := func() *string {
		switch r.Intn(4) {
		case 0:
			return nil
		case 1:
			return str("")
		case 2:
			return str(" ")
		}
		return str("https://example.org/x")
	}
	tiles := make([]store.Tile, r.Intn(4))
	for i := range tiles {
		tiles[i] = store.Tile{URL: "t", Georeferenced: r.Intn(2) == 0}
	}
	return store.Source{
		Stage:           1 + r.Intn(4),
		SourceURL:       pick(),
		IIIFURL:         pick(),
		GeoreferenceURL: pick(),
		Tiles:           tiles,
	}
}

func TestEvaluateMonotonicity(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		src := randomSource(r)
		for n := MinStage; n <= MaxStage; n++ {
			high, err := Evaluate(src, n)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if len(high) != 0 {
				continue
			}
			for m := MinStage; m < n; m++ {
				low, _ := Evaluate(src, m)
				if len(low) != 0 {
					t.Fatalf("legal at %d but not at %d for %+v: %q", n, m, src, low)
				}
			}
		}
	}
}

func TestCheckTransition(t *testing.T) {
	bare := store.Source{Stage: 2}
	ready := store.Source{Stage: 2, SourceURL: str("a"), IIIFURL: str("b"), GeoreferenceURL: str("c")}

	tests := []struct {
		name       string
		source     store.Source
		target     int
		transition Transition
		violations int
		err        error
	}{
		{name: "same stage", source: bare, target: 2, transition: TransitionNone},
		{name: "revert ignores gates", source: bare, target: 1, transition: TransitionRevert},
		{name: "advance blocked", source: bare, target: 3, transition: TransitionAdvance, violations: 3},
		{name: "advance allowed", source: ready, target: 3, transition: TransitionAdvance},
		{name: "skip forward", source: ready, target: 4, err: ErrStageSkip},
		{name: "skip backward", source: store.Source{Stage: 4}, target: 2, err: ErrStageSkip},
		{name: "invalid target", source: bare, target: 5, err: ErrInvalidStage},
		{name: "invalid current", source: store.Source{Stage: 0}, target: 1, err: ErrInvalidStage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transition, violations, err := CheckTransition(tc.source, tc.target)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if transition != tc.transition {
				t.Fatalf("transition = %s, want %s", transition, tc.transition)
			}
			if len(violations) != tc.violations {
				t.Fatalf("violations = %q, want %d", violations, tc.violations)
			}
		})
	}
}

func TestRevertAlwaysLegal(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		src := randomSource(r)
		if src.Stage == MinStage {
			continue
		}
		transition, violations, err := CheckTransition(src, src.Stage-1)
		if err != nil || transition != TransitionRevert || len(violations) != 0 {
			t.Fatalf("revert blocked for %+v: %s %q %v", src, transition, violations, err)
		}
	}
}

func TestNextStageHints(t *testing.T) {
	if hints := NextStageHints(store.Source{Stage: 4}); hints != nil {
		t.Fatalf("expected nil at final stage, got %q", hints)
	}
	hints := NextStageHints(store.Source{Stage: 1})
	if !reflect.DeepEqual(hints, []string{"Stage 2 requires source url"}) {
		t.Fatalf("unexpected hints %q", hints)
	}
	hints = NextStageHints(store.Source{Stage: 3, SourceURL: str("a"), IIIFURL: str("b"), GeoreferenceURL: str("c")})
	if !reflect.DeepEqual(hints, []string{"Stage 4 requires at least one georeferenced tile"}) {
		t.Fatalf("unexpected hints %q", hints)
	}
}

func TestStageName(t *testing.T) {
	if StageName(3) != "Georeferenced" || StageName(4) != "Map-Ready" || StageName(9) != "Stage 9" {
		t.Fatal("unexpected stage names")
	}
}
