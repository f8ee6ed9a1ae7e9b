package service_test

import (
	"testing"

	"github.com/Avidan87/KAI-sub000/internal/service"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)

	capG, err := service.MealCapGrams(sqldb)
	if err != nil || capG != service.DefaultMealCapGrams {
		t.Fatalf("expected default meal cap, got %.1f (%v)", capG, err)
	}
	user, err := service.DefaultUser(sqldb)
	if err != nil || user != "me" {
		t.Fatalf("expected default user me, got %q (%v)", user, err)
	}
	providers, err := service.LookupProviders(sqldb)
	if err != nil || len(providers) != 3 || providers[0] != service.ProviderCatalog {
		t.Fatalf("unexpected default providers %v (%v)", providers, err)
	}
}

func TestSetConfigValidatesKnownKeys(t *testing.T) {
	t.Parallel()
	sqldb := newTestDB(t)

	if err := service.SetConfig(sqldb, "MEAL_CAP_G", "800"); err != nil {
		t.Fatalf("set meal cap: %v", err)
	}
	capG, err := service.MealCapGrams(sqldb)
	if err != nil || capG != 800 {
		t.Fatalf("expected meal cap 800, got %.1f (%v)", capG, err)
	}
	if err := service.SetConfig(sqldb, service.ConfigMealCapGrams, "-1"); err == nil {
		t.Fatalf("expected non-positive cap to be rejected")
	}
	if err := service.SetConfig(sqldb, service.ConfigLookupProviders, "catalog,edamam"); err == nil {
		t.Fatalf("expected unknown provider to be rejected")
	}
	if err := service.SetConfig(sqldb, service.ConfigLookupProviders, " OpenFoodFacts , catalog,catalog"); err != nil {
		t.Fatalf("set providers: %v", err)
	}
	providers, err := service.LookupProviders(sqldb)
	if err != nil || len(providers) != 2 || providers[0] != service.ProviderOpenFoodFacts {
		t.Fatalf("expected openfoodfacts then catalog, got %v (%v)", providers, err)
	}

	all, err := service.ListConfig(sqldb)
	if err != nil {
		t.Fatalf("list config: %v", err)
	}
	if all[service.ConfigMealCapGrams] != "800" {
		t.Fatalf("expected listed meal cap, got %v", all)
	}
}
