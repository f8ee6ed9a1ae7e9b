package service

import "strings"

type unitKind string

const (
	unitKindMass   unitKind = "mass"
	unitKindVolume unitKind = "volume"
	unitKindLength unitKind = "length"
)

type unitDef struct {
	kind       unitKind
	toBaseUnit float64
}

var unitTable = map[string]unitDef{
	// mass (base = g)
	"mg":  {kind: unitKindMass, toBaseUnit: 0.001},
	"g":   {kind: unitKindMass, toBaseUnit: 1},
	"kg":  {kind: unitKindMass, toBaseUnit: 1000},
	"oz":  {kind: unitKindMass, toBaseUnit: 28.349523125},
	"lb":  {kind: unitKindMass, toBaseUnit: 453.59237},
	"lbs": {kind: unitKindMass, toBaseUnit: 453.59237},

	// volume (base = ml)
	"ml":    {kind: unitKindVolume, toBaseUnit: 1},
	"l":     {kind: unitKindVolume, toBaseUnit: 1000},
	"tbsp":  {kind: unitKindVolume, toBaseUnit: 14.78676478125},
	"cup":   {kind: unitKindVolume, toBaseUnit: 236.5882365},
	"fl-oz": {kind: unitKindVolume, toBaseUnit: 29.5735295625},

	// length (base = cm)
	"cm": {kind: unitKindLength, toBaseUnit: 1},
	"m":  {kind: unitKindLength, toBaseUnit: 100},
	"in": {kind: unitKindLength, toBaseUnit: 2.54},
	"ft": {kind: unitKindLength, toBaseUnit: 30.48},
}

// ConvertToGrams converts a food amount to grams. Volume units need a density in g/ml.
func ConvertToGrams(value float64, unit string, densityGML float64) (float64, error) {
	if value < 0 {
		return 0, invalidf("amount must be >= 0")
	}
	if strings.TrimSpace(unit) == "" {
		unit = "g"
	}
	def, ok := resolveUnit(unit)
	if !ok {
		return 0, invalidf("unsupported unit %q", unit)
	}
	switch def.kind {
	case unitKindMass:
		return value * def.toBaseUnit, nil
	case unitKindVolume:
		if densityGML <= 0 {
			return 0, invalidf("density in g/ml must be > 0 for volume unit %q", unit)
		}
		return value * def.toBaseUnit * densityGML, nil
	default:
		return 0, invalidf("unit %q is not a food amount unit", unit)
	}
}

func ToKg(weight float64, unit string) (float64, error) {
	if weight <= 0 {
		return 0, invalidf("weight must be > 0")
	}
	if strings.TrimSpace(unit) == "" {
		unit = "kg"
	}
	def, ok := resolveUnit(unit)
	if !ok || def.kind != unitKindMass {
		return 0, invalidf("invalid weight unit %q (use kg or lb)", unit)
	}
	return weight * def.toBaseUnit / 1000, nil
}

func WeightFromKg(weightKg float64, unit string) (float64, error) {
	if strings.TrimSpace(unit) == "" {
		unit = "kg"
	}
	def, ok := resolveUnit(unit)
	if !ok || def.kind != unitKindMass {
		return 0, invalidf("invalid weight unit %q (use kg or lb)", unit)
	}
	return weightKg * 1000 / def.toBaseUnit, nil
}

func ToCm(height float64, unit string) (float64, error) {
	if height <= 0 {
		return 0, invalidf("height must be > 0")
	}
	if strings.TrimSpace(unit) == "" {
		unit = "cm"
	}
	def, ok := resolveUnit(unit)
	if !ok || def.kind != unitKindLength {
		return 0, invalidf("invalid height unit %q (use cm or in)", unit)
	}
	return height * def.toBaseUnit, nil
}

func resolveUnit(unit string) (unitDef, bool) {
	u := strings.ToLower(strings.TrimSpace(unit))
	def, ok := unitTable[u]
	return def, ok
}
