package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

const (
	SourceManual        = "manual"
	SourceUSDA          = "usda"
	SourceOpenFoodFacts = "openfoodfacts"
)

type AddFoodInput struct {
	Name            string
	Category        string
	PriceTier       string
	TypicalPortionG float64
	MinReasonableG  float64
	MaxReasonableG  float64
	Per100g         model.NutrientVector
	Source          string
}

type ListFoodsFilter struct {
	Category string
	Query    string
	Limit    int
}

// AddFood inserts or replaces a catalog entry keyed by its normalized name.
func AddFood(db *sql.DB, in AddFoodInput) (model.FoodCatalogItem, error) {
	return addFood(db, in)
}

func addFood(q dbtx, in AddFoodInput) (model.FoodCatalogItem, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.FoodCatalogItem{}, invalidf("food name is required")
	}
	category := normalizeCategory(in.Category)
	tier := strings.ToLower(strings.TrimSpace(in.PriceTier))
	if tier == "" {
		tier = "medium"
	}
	switch tier {
	case "low", "medium", "high":
	default:
		return model.FoodCatalogItem{}, invalidf("invalid price tier %q (use low, medium, high)", in.PriceTier)
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"typical portion", in.TypicalPortionG},
		{"min reasonable", in.MinReasonableG},
		{"max reasonable", in.MaxReasonableG},
	} {
		if err := validateNonNegativeFloat(f.name, f.value); err != nil {
			return model.FoodCatalogItem{}, err
		}
	}
	if in.MaxReasonableG > 0 && in.MinReasonableG > in.MaxReasonableG {
		return model.FoodCatalogItem{}, invalidf("min reasonable grams must not exceed max reasonable grams")
	}
	for _, n := range model.Nutrients() {
		if err := validateNonNegativeFloat(n.String(), in.Per100g.Get(n)); err != nil {
			return model.FoodCatalogItem{}, err
		}
	}
	if in.TypicalPortionG == 0 {
		in.TypicalPortionG = categoryPortionRanges[category].TypicalG
		if in.TypicalPortionG == 0 {
			in.TypicalPortionG = categoryPortionRanges[defaultPortionCategory].TypicalG
		}
	}
	source := strings.ToLower(strings.TrimSpace(in.Source))
	if source == "" {
		source = SourceManual
	}
	nutrients, err := EncodeNutrientsJSON(in.Per100g)
	if err != nil {
		return model.FoodCatalogItem{}, err
	}
	_, err = q.Exec(`
INSERT INTO foods(name_norm, name, category, price_tier, typical_portion_g, min_reasonable_g, max_reasonable_g, nutrients_json, source, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(name_norm) DO UPDATE SET
  name=excluded.name,
  category=excluded.category,
  price_tier=excluded.price_tier,
  typical_portion_g=excluded.typical_portion_g,
  min_reasonable_g=excluded.min_reasonable_g,
  max_reasonable_g=excluded.max_reasonable_g,
  nutrients_json=excluded.nutrients_json,
  source=excluded.source,
  updated_at=excluded.updated_at
`, normalizeName(name), name, category, tier, in.TypicalPortionG, in.MinReasonableG, in.MaxReasonableG, nutrients, source)
	if err != nil {
		return model.FoodCatalogItem{}, fmt.Errorf("save food %q: %w", name, err)
	}
	return getFood(q, name)
}

func GetFood(db *sql.DB, name string) (model.FoodCatalogItem, error) {
	return getFood(db, name)
}

func getFood(q dbtx, name string) (model.FoodCatalogItem, error) {
	row := q.QueryRow(`SELECT `+foodColumns+` FROM foods WHERE name_norm = ?`, normalizeName(name))
	item, err := scanFood(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FoodCatalogItem{}, fmt.Errorf("%w: %q", ErrFoodNotFound, strings.TrimSpace(name))
	}
	if err != nil {
		return model.FoodCatalogItem{}, err
	}
	return item, nil
}

func ListFoods(db *sql.DB, f ListFoodsFilter) ([]model.FoodCatalogItem, error) {
	query := `SELECT ` + foodColumns + ` FROM foods WHERE 1=1`
	args := make([]any, 0)
	if c := strings.TrimSpace(f.Category); c != "" {
		query += ` AND category = ?`
		args = append(args, normalizeCategory(c))
	}
	if s := normalizeName(f.Query); s != "" {
		query += ` AND name_norm LIKE ?`
		args = append(args, "%"+s+"%")
	}
	query += ` ORDER BY name_norm ASC`
	if f.Limit <= 0 {
		f.Limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, f.Limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list foods: %w", err)
	}
	defer rows.Close()
	out := make([]model.FoodCatalogItem, 0)
	for rows.Next() {
		item, err := scanFood(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foods: %w", err)
	}
	return out, nil
}

func DeleteFood(db *sql.DB, name string) error {
	res, err := db.Exec(`DELETE FROM foods WHERE name_norm = ?`, normalizeName(name))
	if err != nil {
		return fmt.Errorf("delete food %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrFoodNotFound, strings.TrimSpace(name))
	}
	return nil
}

const foodColumns = `name, category, price_tier, typical_portion_g, min_reasonable_g, max_reasonable_g, nutrients_json, source, updated_at`

func scanFood(scan func(dest ...any) error) (model.FoodCatalogItem, error) {
	var item model.FoodCatalogItem
	var nutrients string
	var updated time.Time
	if err := scan(&item.Name, &item.Category, &item.PriceTier, &item.TypicalPortionG, &item.MinReasonableG, &item.MaxReasonableG, &nutrients, &item.Source, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return item, err
		}
		return item, fmt.Errorf("scan food: %w", err)
	}
	per100g, err := ParseNutrientsJSON(nutrients)
	if err != nil {
		return item, fmt.Errorf("food %q: %w", item.Name, err)
	}
	item.Per100g = per100g
	item.UpdatedAt = updated
	return item, nil
}

// CatalogCandidates serves recommendation candidates from the local foods table.
type CatalogCandidates struct {
	DB *sql.DB
}

func (c CatalogCandidates) Candidates(ctx context.Context, nutrient model.Nutrient, limit int) ([]Candidate, error) {
	if c.DB == nil {
		return nil, fmt.Errorf("catalog candidates: no database")
	}
	if !nutrient.Valid() {
		return nil, fmt.Errorf("catalog candidates: invalid nutrient %d", int(nutrient))
	}
	if limit <= 0 {
		limit = candidateLimit
	}
	path := "$." + nutrient.String()
	rows, err := c.DB.QueryContext(ctx, `
SELECT `+foodColumns+`
FROM foods
WHERE CAST(json_extract(nutrients_json, ?) AS REAL) > 0
ORDER BY CAST(json_extract(nutrients_json, ?) AS REAL) * typical_portion_g DESC, name_norm ASC
LIMIT ?
`, path, path, limit)
	if err != nil {
		return nil, fmt.Errorf("query candidates for %s: %w", nutrient, err)
	}
	defer rows.Close()
	out := make([]Candidate, 0)
	for rows.Next() {
		item, err := scanFood(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{
			Name:            item.Name,
			Category:        item.Category,
			PriceTier:       item.PriceTier,
			TypicalPortionG: item.TypicalPortionG,
			Per100g:         item.Per100g,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}
