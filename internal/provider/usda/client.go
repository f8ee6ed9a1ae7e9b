package usda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.nal.usda.gov"

var ErrNotFound = errors.New("no USDA food found")

// FoodLookup is one FoodData Central match. Nutrients are per 100 g, keyed by
// nutrient id (calories, protein, ..., folate) in kcal, g, mg or mcg.
type FoodLookup struct {
	Description string             `json:"description"`
	DataType    string             `json:"data_type"`
	Category    string             `json:"category"`
	FDCID       int64              `json:"fdc_id"`
	Nutrients   map[string]float64 `json:"nutrients"`
}

type Client struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// nutrientMap maps FDC nutrient names to an id and the unit that id is stored in.
var nutrientMap = map[string]struct {
	id   string
	unit string
}{
	"energy":                         {id: "calories", unit: "kcal"},
	"protein":                        {id: "protein", unit: "g"},
	"carbohydrate, by difference":    {id: "carbs", unit: "g"},
	"total lipid (fat)":              {id: "fat", unit: "g"},
	"fiber, total dietary":           {id: "fiber", unit: "g"},
	"calcium, ca":                    {id: "calcium", unit: "mg"},
	"iron, fe":                       {id: "iron", unit: "mg"},
	"magnesium, mg":                  {id: "magnesium", unit: "mg"},
	"potassium, k":                   {id: "potassium", unit: "mg"},
	"sodium, na":                     {id: "sodium", unit: "mg"},
	"zinc, zn":                       {id: "zinc", unit: "mg"},
	"vitamin a, rae":                 {id: "vitamin_a", unit: "mcg"},
	"vitamin c, total ascorbic acid": {id: "vitamin_c", unit: "mg"},
	"vitamin d (d2 + d3)":            {id: "vitamin_d", unit: "mcg"},
	"vitamin b-12":                   {id: "vitamin_b12", unit: "mcg"},
	"folate, total":                  {id: "folate", unit: "mcg"},
	"folate, dfe":                    {id: "folate", unit: "mcg"},
}

// SearchFoods queries Foundation and SR Legacy foods, whose nutrient values are reported per 100 g.
func (c *Client) SearchFoods(ctx context.Context, query string, limit int) ([]FoodLookup, []byte, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, nil, fmt.Errorf("missing USDA API key")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil, fmt.Errorf("search query is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	if limit <= 0 {
		limit = 5
	}

	reqBody := map[string]any{
		"query":    query,
		"dataType": []string{"Foundation", "SR Legacy"},
		"pageSize": limit,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal USDA search payload: %w", err)
	}

	url := fmt.Sprintf("%s/fdc/v1/foods/search?api_key=%s", baseURL, c.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("create USDA request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute USDA request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read USDA response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, body, fmt.Errorf("USDA request failed with status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, body, fmt.Errorf("decode USDA response: %w", err)
	}
	out := make([]FoodLookup, 0, len(parsed.Foods))
	for _, f := range parsed.Foods {
		if strings.TrimSpace(f.Description) == "" {
			continue
		}
		out = append(out, FoodLookup{
			Description: strings.TrimSpace(f.Description),
			DataType:    strings.TrimSpace(f.DataType),
			Category:    strings.TrimSpace(f.FoodCategory),
			FDCID:       f.FDCID,
			Nutrients:   parseNutrients(f.FoodNutrients),
		})
	}
	if len(out) == 0 {
		return nil, body, fmt.Errorf("%w for query %q", ErrNotFound, query)
	}
	return out, body, nil
}

func parseNutrients(in []usdaNutrient) map[string]float64 {
	out := map[string]float64{}
	for _, n := range in {
		m, ok := nutrientMap[strings.ToLower(strings.TrimSpace(n.NutrientName))]
		if !ok || n.Value < 0 {
			continue
		}
		value, ok := convertUnit(n.Value, n.UnitName, m.unit)
		if !ok {
			continue
		}
		if _, exists := out[m.id]; exists && m.id == "folate" {
			continue
		}
		out[m.id] = value
	}
	return out
}

// convertUnit normalizes FDC unit names. Energy reported in kJ is skipped in favour of the kcal row.
func convertUnit(value float64, from, to string) (float64, bool) {
	from = strings.ToLower(strings.TrimSpace(from))
	switch from {
	case "ug", "µg":
		from = "mcg"
	case "":
		from = to
	}
	if from == to {
		return value, true
	}
	factors := map[string]float64{"g": 1e6, "mg": 1e3, "mcg": 1}
	f, okFrom := factors[from]
	t, okTo := factors[to]
	if !okFrom || !okTo {
		return 0, false
	}
	return value * f / t, true
}

type searchResponse struct {
	Foods []usdaFood `json:"foods"`
}

type usdaFood struct {
	FDCID         int64          `json:"fdcId"`
	Description   string         `json:"description"`
	DataType      string         `json:"dataType"`
	FoodCategory  string         `json:"foodCategory"`
	FoodNutrients []usdaNutrient `json:"foodNutrients"`
}

type usdaNutrient struct {
	NutrientName string  `json:"nutrientName"`
	UnitName     string  `json:"unitName"`
	Value        float64 `json:"value"`
}
