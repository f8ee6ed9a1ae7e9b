package model

import (
	"encoding/json"
	"fmt"
)

type Nutrient int

const (
	Calories Nutrient = iota
	Protein
	Carbs
	Fat
	Fiber
	Calcium
	Iron
	Magnesium
	Potassium
	Sodium
	Zinc
	VitaminA
	VitaminC
	VitaminD
	VitaminB12
	Folate

	NutrientCount = int(Folate) + 1
)

type NutrientKind string

const (
	KindEnergy  NutrientKind = "energy"
	KindMacro   NutrientKind = "macro"
	KindMineral NutrientKind = "mineral"
	KindVitamin NutrientKind = "vitamin"
)

type NutrientInfo struct {
	ID     string
	Label  string
	Unit   string
	Kind   NutrientKind
	Column string
}

var nutrientInfo = [NutrientCount]NutrientInfo{
	Calories:   {ID: "calories", Label: "Calories", Unit: "kcal", Kind: KindEnergy, Column: "calories"},
	Protein:    {ID: "protein", Label: "Protein", Unit: "g", Kind: KindMacro, Column: "protein_g"},
	Carbs:      {ID: "carbs", Label: "Carbohydrates", Unit: "g", Kind: KindMacro, Column: "carbs_g"},
	Fat:        {ID: "fat", Label: "Fat", Unit: "g", Kind: KindMacro, Column: "fat_g"},
	Fiber:      {ID: "fiber", Label: "Fiber", Unit: "g", Kind: KindMacro, Column: "fiber_g"},
	Calcium:    {ID: "calcium", Label: "Calcium", Unit: "mg", Kind: KindMineral, Column: "calcium_mg"},
	Iron:       {ID: "iron", Label: "Iron", Unit: "mg", Kind: KindMineral, Column: "iron_mg"},
	Magnesium:  {ID: "magnesium", Label: "Magnesium", Unit: "mg", Kind: KindMineral, Column: "magnesium_mg"},
	Potassium:  {ID: "potassium", Label: "Potassium", Unit: "mg", Kind: KindMineral, Column: "potassium_mg"},
	Sodium:     {ID: "sodium", Label: "Sodium", Unit: "mg", Kind: KindMineral, Column: "sodium_mg"},
	Zinc:       {ID: "zinc", Label: "Zinc", Unit: "mg", Kind: KindMineral, Column: "zinc_mg"},
	VitaminA:   {ID: "vitamin_a", Label: "Vitamin A", Unit: "mcg", Kind: KindVitamin, Column: "vitamin_a_mcg"},
	VitaminC:   {ID: "vitamin_c", Label: "Vitamin C", Unit: "mg", Kind: KindVitamin, Column: "vitamin_c_mg"},
	VitaminD:   {ID: "vitamin_d", Label: "Vitamin D", Unit: "mcg", Kind: KindVitamin, Column: "vitamin_d_mcg"},
	VitaminB12: {ID: "vitamin_b12", Label: "Vitamin B12", Unit: "mcg", Kind: KindVitamin, Column: "vitamin_b12_mcg"},
	Folate:     {ID: "folate", Label: "Folate", Unit: "mcg", Kind: KindVitamin, Column: "folate_mcg"},
}

// Nutrients lists every tracked nutrient in canonical order.
func Nutrients() []Nutrient {
	out := make([]Nutrient, NutrientCount)
	for i := range out {
		out[i] = Nutrient(i)
	}
	return out
}

func (n Nutrient) Info() NutrientInfo {
	if !n.Valid() {
		return NutrientInfo{ID: fmt.Sprintf("nutrient_%d", int(n))}
	}
	return nutrientInfo[n]
}

func (n Nutrient) Valid() bool {
	return n >= 0 && int(n) < NutrientCount
}

func (n Nutrient) String() string {
	return n.Info().ID
}

func (n Nutrient) MarshalText() ([]byte, error) {
	if !n.Valid() {
		return nil, fmt.Errorf("invalid nutrient %d", int(n))
	}
	return []byte(n.String()), nil
}

func (n *Nutrient) UnmarshalText(b []byte) error {
	parsed, err := ParseNutrient(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

func ParseNutrient(id string) (Nutrient, error) {
	for i, info := range nutrientInfo {
		if info.ID == id {
			return Nutrient(i), nil
		}
	}
	return 0, fmt.Errorf("unknown nutrient %q", id)
}

// NutrientVector holds one amount per tracked nutrient, in the unit from Nutrient.Info.
type NutrientVector [NutrientCount]float64

func (v NutrientVector) Get(n Nutrient) float64 {
	return v[n]
}

func (v *NutrientVector) Set(n Nutrient, value float64) {
	v[n] = value
}

func (v NutrientVector) Add(o NutrientVector) NutrientVector {
	for i := range v {
		v[i] += o[i]
	}
	return v
}

func (v NutrientVector) Sub(o NutrientVector) NutrientVector {
	for i := range v {
		v[i] -= o[i]
	}
	return v
}

func (v NutrientVector) Scale(factor float64) NutrientVector {
	for i := range v {
		v[i] *= factor
	}
	return v
}

func (v NutrientVector) IsZero() bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func (v NutrientVector) Map() map[string]float64 {
	out := make(map[string]float64, NutrientCount)
	for i, x := range v {
		out[nutrientInfo[i].ID] = x
	}
	return out
}

func (v NutrientVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Map())
}

func (v *NutrientVector) UnmarshalJSON(b []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("nutrient vector must be a JSON object: %w", err)
	}
	var out NutrientVector
	for key, value := range raw {
		n, err := ParseNutrient(key)
		if err != nil {
			return err
		}
		if value < 0 {
			return fmt.Errorf("nutrient %q must be >= 0", key)
		}
		out[n] = value
	}
	*v = out
	return nil
}
