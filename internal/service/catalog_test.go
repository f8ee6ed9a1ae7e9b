package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/service"
)

func TestAddFoodUpsertsByNormalizedName(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)

	item, err := service.AddFood(sqldb, service.AddFoodInput{
		Name:     "Brown Rice",
		Category: "grain",
		Per100g:  vec(map[model.Nutrient]float64{model.Calories: 123, model.Fiber: 1.6}),
	})
	if err != nil {
		t.Fatalf("add food: %v", err)
	}
	if item.TypicalPortionG != 250 || item.PriceTier != "medium" || item.Source != service.SourceManual {
		t.Fatalf("expected category defaults, got %+v", item)
	}

	if _, err := service.AddFood(sqldb, service.AddFoodInput{
		Name:      "  brown rice ",
		Category:  "grain",
		PriceTier: "low",
		Per100g:   vec(map[model.Nutrient]float64{model.Calories: 112}),
	}); err != nil {
		t.Fatalf("re-add food: %v", err)
	}
	got, err := service.GetFood(sqldb, "BROWN RICE")
	if err != nil {
		t.Fatalf("get food: %v", err)
	}
	if got.PriceTier != "low" || got.Per100g.Get(model.Calories) != 112 {
		t.Fatalf("expected upserted values, got %+v", got)
	}
	all, err := service.ListFoods(sqldb, service.ListFoodsFilter{})
	if err != nil {
		t.Fatalf("list foods: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single catalog row, got %d", len(all))
	}
}

func TestAddFoodValidation(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	cases := []service.AddFoodInput{
		{Name: ""},
		{Name: "x", PriceTier: "luxury"},
		{Name: "x", MinReasonableG: 200, MaxReasonableG: 100},
		{Name: "x", TypicalPortionG: -5},
		{Name: "x", Per100g: vec(map[model.Nutrient]float64{model.Sodium: -1})},
	}
	for i, in := range cases {
		if _, err := service.AddFood(sqldb, in); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestListAndDeleteFoods(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	for _, in := range []service.AddFoodInput{
		{Name: "Spinach", Category: "vegetable"},
		{Name: "Kale", Category: "vegetable"},
		{Name: "Almonds", Category: "nut_seed"},
	} {
		if _, err := service.AddFood(sqldb, in); err != nil {
			t.Fatalf("add %s: %v", in.Name, err)
		}
	}
	veg, err := service.ListFoods(sqldb, service.ListFoodsFilter{Category: "Vegetable"})
	if err != nil {
		t.Fatalf("list foods: %v", err)
	}
	if len(veg) != 2 || veg[0].Name != "Kale" || veg[1].Name != "Spinach" {
		t.Fatalf("expected kale and spinach by name, got %+v", veg)
	}
	matched, err := service.ListFoods(sqldb, service.ListFoodsFilter{Query: "mond"})
	if err != nil {
		t.Fatalf("search foods: %v", err)
	}
	if len(matched) != 1 || matched[0].Name != "Almonds" {
		t.Fatalf("expected almonds, got %+v", matched)
	}

	if err := service.DeleteFood(sqldb, "kale"); err != nil {
		t.Fatalf("delete food: %v", err)
	}
	if _, err := service.GetFood(sqldb, "kale"); !errors.Is(err, service.ErrFoodNotFound) {
		t.Fatalf("expected ErrFoodNotFound, got %v", err)
	}
	if err := service.DeleteFood(sqldb, "kale"); !errors.Is(err, service.ErrFoodNotFound) {
		t.Fatalf("expected ErrFoodNotFound on second delete, got %v", err)
	}
}

func TestCatalogCandidatesOrderByPortionAmount(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)
	for _, in := range []service.AddFoodInput{
		{Name: "Pumpkin Seeds", Category: "nut_seed", TypicalPortionG: 30, Per100g: vec(map[model.Nutrient]float64{model.Iron: 8.8})},
		{Name: "Lentil Stew", Category: "main_dish", TypicalPortionG: 300, Per100g: vec(map[model.Nutrient]float64{model.Iron: 3.3})},
		{Name: "Apple", Category: "fruit", Per100g: vec(map[model.Nutrient]float64{model.VitaminC: 4.6})},
	} {
		if _, err := service.AddFood(sqldb, in); err != nil {
			t.Fatalf("add %s: %v", in.Name, err)
		}
	}
	src := service.CatalogCandidates{DB: sqldb}
	got, err := src.Candidates(context.Background(), model.Iron, 10)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Lentil Stew" || got[1].Name != "Pumpkin Seeds" {
		t.Fatalf("expected iron foods by portion amount, got %+v", got)
	}
	if got[0].Per100g.Get(model.Iron) != 3.3 || got[0].TypicalPortionG != 300 {
		t.Fatalf("candidate lost catalog data: %+v", got[0])
	}
}
