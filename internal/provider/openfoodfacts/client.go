package openfoodfacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://world.openfoodfacts.org"
	userAgent      = "kai/1.0 (+https://github.com/Avidan87/KAI-sub000)"
)

var ErrNotFound = errors.New("no openfoodfacts product found")

// FoodLookup is one search hit. Nutrients are per 100 g keyed by nutrient id.
type FoodLookup struct {
	Description string             `json:"description"`
	Brand       string             `json:"brand,omitempty"`
	Code        string             `json:"code,omitempty"`
	Categories  []string           `json:"categories,omitempty"`
	Nutrients   map[string]float64 `json:"nutrients"`
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// nutriments reports everything in grams except energy; scale converts to the stored unit.
var nutrimentKeys = []struct {
	key   string
	id    string
	scale float64
}{
	{"energy-kcal", "calories", 1},
	{"proteins", "protein", 1},
	{"carbohydrates", "carbs", 1},
	{"fat", "fat", 1},
	{"fiber", "fiber", 1},
	{"calcium", "calcium", 1e3},
	{"iron", "iron", 1e3},
	{"magnesium", "magnesium", 1e3},
	{"potassium", "potassium", 1e3},
	{"sodium", "sodium", 1e3},
	{"zinc", "zinc", 1e3},
	{"vitamin-a", "vitamin_a", 1e6},
	{"vitamin-c", "vitamin_c", 1e3},
	{"vitamin-d", "vitamin_d", 1e6},
	{"vitamin-b12", "vitamin_b12", 1e6},
	{"folates", "folate", 1e6},
}

func (c *Client) SearchFoods(ctx context.Context, query string, limit int) ([]FoodLookup, []byte, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil, fmt.Errorf("search query is required")
	}
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	if limit <= 0 {
		limit = 10
	}
	u := fmt.Sprintf("%s/cgi/search.pl?search_terms=%s&search_simple=1&action=process&json=1&page_size=%d",
		base,
		url.QueryEscape(query),
		limit,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create openfoodfacts search request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute openfoodfacts search request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read openfoodfacts search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, body, fmt.Errorf("openfoodfacts search request failed with status %d", resp.StatusCode)
	}
	var parsed offSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, body, fmt.Errorf("decode openfoodfacts search response: %w", err)
	}
	out := make([]FoodLookup, 0, len(parsed.Products))
	for _, p := range parsed.Products {
		name := strings.TrimSpace(p.ProductName)
		if name == "" {
			continue
		}
		nutrients := parseNutriments(p.Nutriments)
		if len(nutrients) == 0 {
			continue
		}
		out = append(out, FoodLookup{
			Description: name,
			Brand:       strings.TrimSpace(p.Brands),
			Code:        strings.TrimSpace(p.Code),
			Categories:  p.CategoriesTags,
			Nutrients:   nutrients,
		})
	}
	if len(out) == 0 {
		return nil, body, fmt.Errorf("%w for query %q", ErrNotFound, query)
	}
	return out, body, nil
}

// Only _100g values are read; per-serving values depend on a serving size we do not trust.
func parseNutriments(n map[string]any) map[string]float64 {
	out := map[string]float64{}
	for _, k := range nutrimentKeys {
		v, ok := parseFloatAny(n[k.key+"_100g"])
		if !ok || v < 0 {
			continue
		}
		out[k.id] = v * k.scale
	}
	return out
}

func parseFloatAny(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

type offProduct struct {
	Code           string         `json:"code"`
	ProductName    string         `json:"product_name"`
	Brands         string         `json:"brands"`
	CategoriesTags []string       `json:"categories_tags"`
	Nutriments     map[string]any `json:"nutriments"`
}

type offSearchResponse struct {
	Products []offProduct `json:"products"`
}
