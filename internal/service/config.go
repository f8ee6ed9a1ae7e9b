package service

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

const (
	ConfigMealCapGrams    = "meal_cap_g"
	ConfigDefaultUser     = "default_user"
	ConfigLookupProviders = "lookup_providers"
)

const (
	ProviderCatalog       = "catalog"
	ProviderUSDA          = "usda"
	ProviderOpenFoodFacts = "openfoodfacts"
)

var defaultLookupProviders = []string{ProviderCatalog, ProviderUSDA, ProviderOpenFoodFacts}

func SetConfig(db *sql.DB, key, value string) error {
	key = strings.TrimSpace(strings.ToLower(key))
	if key == "" {
		return invalidf("config key is required")
	}
	value = strings.TrimSpace(value)
	if err := validateConfigValue(key, value); err != nil {
		return err
	}
	_, err := db.Exec(`
INSERT INTO app_config(key, value, updated_at)
VALUES(?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, key, value)
	if err != nil {
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

func validateConfigValue(key, value string) error {
	switch key {
	case ConfigMealCapGrams:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v <= 0 {
			return invalidf("%s must be a positive number of grams", key)
		}
	case ConfigDefaultUser:
		if value == "" {
			return invalidf("%s cannot be empty", key)
		}
	case ConfigLookupProviders:
		if _, err := parseProviders(value); err != nil {
			return err
		}
	}
	return nil
}

func GetConfig(db *sql.DB, key string) (string, bool, error) {
	key = strings.TrimSpace(strings.ToLower(key))
	if key == "" {
		return "", false, invalidf("config key is required")
	}
	var value string
	err := db.QueryRow(`SELECT value FROM app_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get config %q: %w", key, err)
	}
	return value, true, nil
}

func ListConfig(db *sql.DB) (map[string]string, error) {
	rows, err := db.Query(`SELECT key, value FROM app_config ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate config: %w", err)
	}
	return out, nil
}

// MealCapGrams falls back to DefaultMealCapGrams when unset or unparsable.
func MealCapGrams(db *sql.DB) (float64, error) {
	raw, ok, err := GetConfig(db, ConfigMealCapGrams)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultMealCapGrams, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v <= 0 {
		return DefaultMealCapGrams, nil
	}
	return v, nil
}

func DefaultUser(db *sql.DB) (string, error) {
	raw, ok, err := GetConfig(db, ConfigDefaultUser)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return "me", nil
	}
	return strings.TrimSpace(raw), nil
}

func LookupProviders(db *sql.DB) ([]string, error) {
	raw, ok, err := GetConfig(db, ConfigLookupProviders)
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultLookupProviders...), nil
	}
	return parseProviders(raw)
}

func parseProviders(raw string) ([]string, error) {
	out := make([]string, 0, 3)
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" || seen[p] {
			continue
		}
		switch p {
		case ProviderCatalog, ProviderUSDA, ProviderOpenFoodFacts:
		default:
			return nil, invalidf("unknown lookup provider %q (use catalog, usda, openfoodfacts)", p)
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, invalidf("at least one lookup provider is required")
	}
	return out, nil
}
