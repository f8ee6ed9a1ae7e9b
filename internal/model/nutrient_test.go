package model_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

func TestNutrientCatalogHasSixteenUniqueEntries(t *testing.T) {
	t.Parallel()
	seenID := map[string]bool{}
	seenCol := map[string]bool{}
	kinds := map[model.NutrientKind]int{}
	for _, n := range model.Nutrients() {
		info := n.Info()
		if info.ID == "" || info.Column == "" || info.Unit == "" {
			t.Fatalf("nutrient %d has incomplete info: %+v", int(n), info)
		}
		if seenID[info.ID] || seenCol[info.Column] {
			t.Fatalf("duplicate nutrient id/column %q/%q", info.ID, info.Column)
		}
		seenID[info.ID] = true
		seenCol[info.Column] = true
		kinds[info.Kind]++
	}
	if len(seenID) != 16 {
		t.Fatalf("expected 16 nutrients, got %d", len(seenID))
	}
	if kinds[model.KindEnergy]+kinds[model.KindMacro] != 5 || kinds[model.KindMineral] != 6 || kinds[model.KindVitamin] != 5 {
		t.Fatalf("unexpected kind split: %v", kinds)
	}
}

func TestNutrientVectorJSONUsesNutrientIDs(t *testing.T) {
	t.Parallel()
	var v model.NutrientVector
	v.Set(model.Calories, 375)
	v.Set(model.VitaminB12, 1.2)
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal vector: %v", err)
	}
	if !strings.Contains(string(b), `"vitamin_b12":1.2`) || !strings.Contains(string(b), `"calories":375`) {
		t.Fatalf("unexpected vector json: %s", b)
	}

	var decoded model.NutrientVector
	if err := json.Unmarshal([]byte(`{"protein": 7.5, "iron": 2}`), &decoded); err != nil {
		t.Fatalf("unmarshal vector: %v", err)
	}
	if decoded.Get(model.Protein) != 7.5 || decoded.Get(model.Iron) != 2 || decoded.Get(model.Calories) != 0 {
		t.Fatalf("unexpected decoded vector: %v", decoded.Map())
	}
}

func TestNutrientVectorJSONRejectsUnknownAndNegative(t *testing.T) {
	t.Parallel()
	var v model.NutrientVector
	if err := json.Unmarshal([]byte(`{"sugar": 3}`), &v); err == nil {
		t.Fatalf("expected unknown nutrient error")
	}
	if err := json.Unmarshal([]byte(`{"protein": -1}`), &v); err == nil {
		t.Fatalf("expected negative value error")
	}
}

func TestTrendMapKeysMarshalAsNutrientIDs(t *testing.T) {
	t.Parallel()
	in := map[model.Nutrient]model.Trend{model.Iron: model.TrendImproving}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal trends: %v", err)
	}
	if string(b) != `{"iron":"improving"}` {
		t.Fatalf("unexpected trends json: %s", b)
	}
	out := map[model.Nutrient]model.Trend{}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal trends: %v", err)
	}
	if out[model.Iron] != model.TrendImproving {
		t.Fatalf("unexpected decoded trends: %v", out)
	}
}
