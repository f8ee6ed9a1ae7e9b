package db

import (
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "initial_schema",
		sql: `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS app_config (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS profiles (
  user_id TEXT PRIMARY KEY,
  gender TEXT NOT NULL DEFAULT '',
  age INTEGER NOT NULL DEFAULT 0 CHECK(age >= 0),
  weight_kg REAL NOT NULL DEFAULT 0 CHECK(weight_kg >= 0),
  height_cm REAL NOT NULL DEFAULT 0 CHECK(height_cm >= 0),
  activity_level TEXT NOT NULL DEFAULT '',
  goal TEXT NOT NULL DEFAULT '',
  target_weight_kg REAL,
  custom_calorie_goal REAL,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
`,
	},
	{
		version: 2,
		name:    "food_catalog",
		sql: `
CREATE TABLE IF NOT EXISTS foods (
  name_norm TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  category TEXT NOT NULL DEFAULT 'default',
  price_tier TEXT NOT NULL DEFAULT 'medium' CHECK(price_tier IN ('low','medium','high')),
  typical_portion_g REAL NOT NULL DEFAULT 0 CHECK(typical_portion_g >= 0),
  min_reasonable_g REAL NOT NULL DEFAULT 0 CHECK(min_reasonable_g >= 0),
  max_reasonable_g REAL NOT NULL DEFAULT 0 CHECK(max_reasonable_g >= 0),
  nutrients_json TEXT NOT NULL,
  source TEXT NOT NULL DEFAULT 'manual',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_foods_category ON foods(category);
`,
	},
	{
		version: 3,
		name:    "meals",
		sql: `
CREATE TABLE IF NOT EXISTS meals (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  log_date TEXT NOT NULL,
  logged_at DATETIME NOT NULL,
  idempotency_key TEXT,
  total_json TEXT NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(user_id, idempotency_key)
);

CREATE INDEX IF NOT EXISTS idx_meals_user_date ON meals(user_id, log_date);

CREATE TABLE IF NOT EXISTS meal_items (
  meal_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  food_name TEXT NOT NULL,
  food_name_norm TEXT NOT NULL,
  category TEXT NOT NULL,
  confidence REAL NOT NULL DEFAULT 0,
  raw_grams REAL NOT NULL,
  grams REAL NOT NULL CHECK(grams >= 0),
  was_clamped INTEGER NOT NULL DEFAULT 0,
  reason TEXT NOT NULL,
  meal_scaled INTEGER NOT NULL DEFAULT 0,
  unresolved INTEGER NOT NULL DEFAULT 0,
  source TEXT NOT NULL DEFAULT '',
  contribution_json TEXT NOT NULL,
  PRIMARY KEY(meal_id, position),
  FOREIGN KEY(meal_id) REFERENCES meals(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_meal_items_food ON meal_items(food_name_norm);
`,
	},
	{
		version: 4,
		name:    "daily_ledger",
		sql: `
CREATE TABLE IF NOT EXISTS daily_ledger (
  user_id TEXT NOT NULL,
  log_date TEXT NOT NULL,
  meal_count INTEGER NOT NULL DEFAULT 0 CHECK(meal_count >= 0),
  calories REAL NOT NULL DEFAULT 0,
  protein_g REAL NOT NULL DEFAULT 0,
  carbs_g REAL NOT NULL DEFAULT 0,
  fat_g REAL NOT NULL DEFAULT 0,
  fiber_g REAL NOT NULL DEFAULT 0,
  calcium_mg REAL NOT NULL DEFAULT 0,
  iron_mg REAL NOT NULL DEFAULT 0,
  magnesium_mg REAL NOT NULL DEFAULT 0,
  potassium_mg REAL NOT NULL DEFAULT 0,
  sodium_mg REAL NOT NULL DEFAULT 0,
  zinc_mg REAL NOT NULL DEFAULT 0,
  vitamin_a_mcg REAL NOT NULL DEFAULT 0,
  vitamin_c_mg REAL NOT NULL DEFAULT 0,
  vitamin_d_mcg REAL NOT NULL DEFAULT 0,
  vitamin_b12_mcg REAL NOT NULL DEFAULT 0,
  folate_mcg REAL NOT NULL DEFAULT 0,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(user_id, log_date)
);
`,
	},
	{
		version: 5,
		name:    "user_stats_and_food_frequency",
		sql: `
CREATE TABLE IF NOT EXISTS user_stats (
  user_id TEXT PRIMARY KEY,
  total_meals INTEGER NOT NULL DEFAULT 0 CHECK(total_meals >= 0),
  account_created_at DATETIME NOT NULL,
  learning_phase_complete INTEGER NOT NULL DEFAULT 0,
  graduated_at DATETIME,
  current_streak INTEGER NOT NULL DEFAULT 0,
  longest_streak INTEGER NOT NULL DEFAULT 0,
  last_logged_date TEXT NOT NULL DEFAULT '',
  week1_json TEXT NOT NULL DEFAULT '{}',
  week2_json TEXT NOT NULL DEFAULT '{}',
  week1_days INTEGER NOT NULL DEFAULT 0,
  week2_days INTEGER NOT NULL DEFAULT 0,
  trends_json TEXT NOT NULL DEFAULT '{}',
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS food_frequency (
  user_id TEXT NOT NULL,
  food_name_norm TEXT NOT NULL,
  food_name TEXT NOT NULL,
  count_7d INTEGER NOT NULL DEFAULT 0,
  count_total INTEGER NOT NULL DEFAULT 0,
  last_eaten TEXT NOT NULL,
  avg_nutrients_json TEXT NOT NULL DEFAULT '{}',
  PRIMARY KEY(user_id, food_name_norm)
);
`,
	},
	{
		version: 6,
		name:    "portion_clamp_events",
		sql: `
CREATE TABLE IF NOT EXISTS portion_clamp_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id TEXT NOT NULL,
  meal_id TEXT NOT NULL,
  food_name TEXT NOT NULL,
  category TEXT NOT NULL,
  raw_grams REAL NOT NULL,
  applied_grams REAL NOT NULL,
  reason TEXT NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(meal_id) REFERENCES meals(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_portion_clamp_events_category ON portion_clamp_events(category);
`,
	},
}

var defaultConfig = map[string]string{
	"meal_cap_g":       "650",
	"default_user":     "me",
	"lookup_providers": "catalog,usda,openfoodfacts",
}

func ApplyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow(`SELECT 1 FROM schema_migrations WHERE version = ?`, m.version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration version %d: %w", m.version, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration version %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version, name) VALUES(?, ?)`, m.version, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration version %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration version %d: %w", m.version, err)
		}
	}

	for key, value := range defaultConfig {
		if _, err := db.Exec(`INSERT OR IGNORE INTO app_config(key, value) VALUES(?, ?)`, key, value); err != nil {
			return fmt.Errorf("seed default config %s: %w", key, err)
		}
	}

	return nil
}
