package usda

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchFoodsParsesPer100gNutrients(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "demo" {
			t.Errorf("expected api key in query, got %q", r.URL.RawQuery)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		if req["query"] != "spinach" {
			t.Errorf("unexpected query payload: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "foods": [
    {
      "fdcId": 168462,
      "description": "Spinach, raw",
      "dataType": "SR Legacy",
      "foodCategory": "Vegetables and Vegetable Products",
      "foodNutrients": [
        {"nutrientName": "Energy", "unitName": "KJ", "value": 97},
        {"nutrientName": "Energy", "unitName": "KCAL", "value": 23},
        {"nutrientName": "Protein", "unitName": "G", "value": 2.86},
        {"nutrientName": "Iron, Fe", "unitName": "MG", "value": 2.71},
        {"nutrientName": "Vitamin A, RAE", "unitName": "UG", "value": 469},
        {"nutrientName": "Folate, total", "unitName": "UG", "value": 194},
        {"nutrientName": "Folate, DFE", "unitName": "UG", "value": 194},
        {"nutrientName": "Sugars, total", "unitName": "G", "value": 0.42}
      ]
    }
  ]
}`))
	}))
	defer ts.Close()

	c := &Client{APIKey: "demo", BaseURL: ts.URL, HTTPClient: ts.Client()}
	items, _, err := c.SearchFoods(context.Background(), "spinach", 1)
	if err != nil {
		t.Fatalf("search foods: %v", err)
	}
	if len(items) != 1 || items[0].FDCID != 168462 {
		t.Fatalf("unexpected items: %+v", items)
	}
	n := items[0].Nutrients
	if n["calories"] != 23 {
		t.Fatalf("expected kcal energy row, got %v", n["calories"])
	}
	if math.Abs(n["iron"]-2.71) > 1e-9 || n["vitamin_a"] != 469 || n["folate"] != 194 {
		t.Fatalf("unexpected nutrients: %v", n)
	}
	if _, ok := n["sugars"]; ok {
		t.Fatalf("untracked nutrients must be dropped: %v", n)
	}
}

func TestSearchFoodsRequiresAPIKey(t *testing.T) {
	t.Parallel()
	c := &Client{}
	if _, _, err := c.SearchFoods(context.Background(), "rice", 1); err == nil {
		t.Fatalf("expected missing api key error")
	}
}

func TestSearchFoodsSurfacesHTTPStatus(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := &Client{APIKey: "demo", BaseURL: ts.URL, HTTPClient: ts.Client()}
	if _, _, err := c.SearchFoods(context.Background(), "rice", 1); err == nil {
		t.Fatalf("expected status error")
	}
}
