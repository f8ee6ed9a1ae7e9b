package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

// Scale converts a per-100g vector into the contribution of grams of that food.
func Scale(per100g model.NutrientVector, grams float64) model.NutrientVector {
	if grams <= 0 || math.IsNaN(grams) {
		return model.NutrientVector{}
	}
	return per100g.Scale(grams / 100)
}

// Sum adds contributions in the order given. Reordering them can change the result only by float rounding.
func Sum(contributions ...model.NutrientVector) model.NutrientVector {
	var total model.NutrientVector
	for _, c := range contributions {
		total = total.Add(c)
	}
	return total
}

func EncodeNutrientsJSON(v model.NutrientVector) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal nutrients: %w", err)
	}
	return string(b), nil
}

func ParseNutrientsJSON(value string) (model.NutrientVector, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return model.NutrientVector{}, nil
	}
	var v model.NutrientVector
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		return model.NutrientVector{}, fmt.Errorf("nutrients must be a valid JSON object: %w", err)
	}
	return v, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func round2(v float64) float64 { return roundTo(v, 2) }

func roundVector(v model.NutrientVector, places int) model.NutrientVector {
	for i := range v {
		v[i] = roundTo(v[i], places)
	}
	return v
}
