package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/provider/openfoodfacts"
	"github.com/Avidan87/KAI-sub000/internal/provider/usda"
)

// FoodFacts is what a lookup knows about a food: per-100g nutrients plus portion metadata.
type FoodFacts struct {
	Name            string               `json:"name"`
	Category        string               `json:"category"`
	PriceTier       string               `json:"price_tier,omitempty"`
	TypicalPortionG float64              `json:"typical_portion_g,omitempty"`
	MinReasonableG  float64              `json:"min_reasonable_g,omitempty"`
	MaxReasonableG  float64              `json:"max_reasonable_g,omitempty"`
	Per100g         model.NutrientVector `json:"per_100g"`
	Source          string               `json:"source"`
}

// PortionRange is the food's own plausibility range. Callers check Valid before trusting it.
func (f FoodFacts) PortionRange() PortionRange {
	return PortionRange{MinG: f.MinReasonableG, MaxG: f.MaxReasonableG, TypicalG: f.TypicalPortionG}
}

// NutrientLookup resolves a food name. A miss is (FoodFacts{}, false, nil).
type NutrientLookup interface {
	LookupFood(ctx context.Context, name string) (FoodFacts, bool, error)
}

type CatalogLookup struct {
	DB *sql.DB
}

func (c CatalogLookup) LookupFood(ctx context.Context, name string) (FoodFacts, bool, error) {
	if err := ctx.Err(); err != nil {
		return FoodFacts{}, false, err
	}
	item, err := getFood(c.DB, name)
	if errors.Is(err, ErrFoodNotFound) {
		return FoodFacts{}, false, nil
	}
	if err != nil {
		return FoodFacts{}, false, err
	}
	return FoodFacts{
		Name:            item.Name,
		Category:        item.Category,
		PriceTier:       item.PriceTier,
		TypicalPortionG: item.TypicalPortionG,
		MinReasonableG:  item.MinReasonableG,
		MaxReasonableG:  item.MaxReasonableG,
		Per100g:         item.Per100g,
		Source:          item.Source,
	}, true, nil
}

type USDALookup struct {
	Client *usda.Client
}

func (u USDALookup) LookupFood(ctx context.Context, name string) (FoodFacts, bool, error) {
	items, _, err := u.Client.SearchFoods(ctx, name, 5)
	if err != nil {
		if errors.Is(err, usda.ErrNotFound) {
			return FoodFacts{}, false, nil
		}
		return FoodFacts{}, false, err
	}
	for _, it := range items {
		per100g := vectorFromIDs(it.Nutrients)
		if per100g.IsZero() {
			continue
		}
		return FoodFacts{
			Name:     name,
			Category: guessCategory(it.Category + " " + it.Description),
			Per100g:  per100g,
			Source:   SourceUSDA,
		}, true, nil
	}
	return FoodFacts{}, false, nil
}

type OpenFoodFactsLookup struct {
	Client *openfoodfacts.Client
}

func (o OpenFoodFactsLookup) LookupFood(ctx context.Context, name string) (FoodFacts, bool, error) {
	items, _, err := o.Client.SearchFoods(ctx, name, 5)
	if err != nil {
		if errors.Is(err, openfoodfacts.ErrNotFound) {
			return FoodFacts{}, false, nil
		}
		return FoodFacts{}, false, err
	}
	for _, it := range items {
		per100g := vectorFromIDs(it.Nutrients)
		if per100g.IsZero() {
			continue
		}
		return FoodFacts{
			Name:     name,
			Category: guessCategory(strings.Join(it.Categories, " ") + " " + it.Description),
			Per100g:  per100g,
			Source:   SourceOpenFoodFacts,
		}, true, nil
	}
	return FoodFacts{}, false, nil
}

func vectorFromIDs(m map[string]float64) model.NutrientVector {
	var v model.NutrientVector
	for id, value := range m {
		n, err := ParseNutrientID(id)
		if err != nil || value < 0 {
			continue
		}
		v.Set(n, value)
	}
	return v
}

// ParseNutrientID accepts ids case-insensitively, with hyphens or spaces in place of underscores.
func ParseNutrientID(id string) (model.Nutrient, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.ReplaceAll(strings.ReplaceAll(id, "-", "_"), " ", "_")
	return model.ParseNutrient(id)
}

// categoryKeywords maps provider category text onto portion categories. Order matters: first hit wins.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"soup", []string{"soup", "broth"}},
	{"beverage", []string{"beverage", "drink", "juice", "tea", "coffee"}},
	{"dairy", []string{"dairy", "dairies", "milk", "yogurt", "cheese"}},
	{"legume", []string{"legume", "bean", "lentil", "chickpea"}},
	{"nut_seed", []string{"nut", "seed", "almond", "peanut"}},
	{"grain", []string{"cereal", "grain", "rice", "pasta", "oat"}},
	{"bread", []string{"bread", "baked", "tortilla"}},
	{"fruit", []string{"fruit", "apple", "banana", "orange"}},
	{"vegetable", []string{"vegetable", "spinach", "greens", "kale"}},
	{"protein", []string{"poultry", "beef", "pork", "fish", "finfish", "shellfish", "egg", "meat", "chicken"}},
	{"dessert", []string{"sweets", "dessert", "cake", "cookie"}},
	{"snack", []string{"snack", "chips", "bar"}},
	{"sauce", []string{"sauce", "condiment", "dressing"}},
}

func guessCategory(text string) string {
	text = strings.ToLower(text)
	for _, c := range categoryKeywords {
		for _, w := range c.words {
			if strings.Contains(text, w) {
				return c.category
			}
		}
	}
	return defaultPortionCategory
}

type namedLookup struct {
	name   string
	lookup NutrientLookup
}

// ChainLookup tries each lookup in order and stores remote hits in the local catalog.
type ChainLookup struct {
	db      *sql.DB
	lookups []namedLookup
	log     *zap.Logger
}

type LookupOptions struct {
	USDAAPIKey       string
	USDABaseURL      string
	OpenFoodFactsURL string
	HTTPClient       *http.Client
	Log              *zap.Logger
}

// NewChainLookup builds the chain from provider names. USDA is skipped without an API key.
func NewChainLookup(db *sql.DB, providers []string, opts LookupOptions) (*ChainLookup, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	c := &ChainLookup{db: db, log: log.Named("lookup")}
	for _, p := range providers {
		switch p {
		case ProviderCatalog:
			c.lookups = append(c.lookups, namedLookup{p, CatalogLookup{DB: db}})
		case ProviderUSDA:
			if strings.TrimSpace(opts.USDAAPIKey) == "" {
				c.log.Debug("usda lookup disabled", zap.String("reason", "missing api key"))
				continue
			}
			c.lookups = append(c.lookups, namedLookup{p, USDALookup{Client: &usda.Client{
				APIKey:     opts.USDAAPIKey,
				BaseURL:    opts.USDABaseURL,
				HTTPClient: opts.HTTPClient,
			}}})
		case ProviderOpenFoodFacts:
			c.lookups = append(c.lookups, namedLookup{p, OpenFoodFactsLookup{Client: &openfoodfacts.Client{
				BaseURL:    opts.OpenFoodFactsURL,
				HTTPClient: opts.HTTPClient,
			}}})
		default:
			return nil, fmt.Errorf("unknown lookup provider %q", p)
		}
	}
	return c, nil
}

// ProviderNames returns the providers actually in the chain, in order.
func (c *ChainLookup) ProviderNames() []string {
	out := make([]string, 0, len(c.lookups))
	for _, l := range c.lookups {
		out = append(out, l.name)
	}
	return out
}

func (c *ChainLookup) LookupFood(ctx context.Context, name string) (FoodFacts, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return FoodFacts{}, false, invalidf("food name is required")
	}
	var lastErr error
	for _, l := range c.lookups {
		facts, ok, err := l.lookup.LookupFood(ctx, name)
		if err != nil {
			c.log.Warn("nutrient lookup failed", zap.String("provider", l.name), zap.String("food", name), zap.Error(err))
			lastErr = err
			continue
		}
		if !ok {
			continue
		}
		if l.name != ProviderCatalog && c.db != nil {
			c.cache(name, facts)
		}
		return facts, true, nil
	}
	return FoodFacts{}, false, lastErr
}

// cache stores a remote hit under the queried name so the next lookup stays local.
func (c *ChainLookup) cache(name string, f FoodFacts) {
	_, err := AddFood(c.db, AddFoodInput{
		Name:     name,
		Category: f.Category,
		Per100g:  f.Per100g,
		Source:   f.Source,
	})
	if err != nil {
		c.log.Warn("cache looked-up food", zap.String("food", name), zap.String("match", f.Name), zap.Error(err))
	}
}
