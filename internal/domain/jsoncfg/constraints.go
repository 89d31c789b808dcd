package jsoncfg

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// MealConstraints is the typed view of the opaque constraint map attached to a
// generation request. Adapters receive it already normalized.
type MealConstraints struct {
	Version        string   `json:"version"`
	MealType       string   `json:"meal_type"`
	Cuisine        string   `json:"cuisine"`
	DietaryTags    []string `json:"dietary_tags"`
	Exclusions     []string `json:"exclusions"`
	CaloriesMin    int      `json:"calories_min"`
	CaloriesMax    int      `json:"calories_max"`
	Servings       int      `json:"servings"`
	MaxPrepMinutes int      `json:"max_prep_minutes"`
	Locale         string   `json:"locale"`
	Notes          string   `json:"notes"`
}

var allowedMealTypes = map[string]struct{}{
	"breakfast": {},
	"lunch":     {},
	"dinner":    {},
	"snack":     {},
	"dessert":   {},
}

var allowedDietaryTags = map[string]struct{}{
	"vegan":        {},
	"vegetarian":   {},
	"pescatarian":  {},
	"gluten_free":  {},
	"dairy_free":   {},
	"nut_free":     {},
	"keto":         {},
	"paleo":        {},
	"low_carb":     {},
	"high_protein": {},
}

const (
	// DefaultConstraintsVersion represents the schema version persisted for constraints.
	DefaultConstraintsVersion = "2024-01"
	// DefaultMealType is used when the request omits the meal type.
	DefaultMealType = "dinner"
	// DefaultServings applies when no serving count is provided.
	DefaultServings = 2
	// MaxServings caps how many portions a single recipe may target.
	MaxServings = 12
	// MaxCalories bounds the per-serving calorie range.
	MaxCalories = 5000
	// DefaultLocale is applied when no locale preference is provided.
	DefaultLocale = "en"
)

// ParseConstraints converts the opaque request map into MealConstraints.
func ParseConstraints(raw map[string]any) (MealConstraints, error) {
	var c MealConstraints
	if len(raw) == 0 {
		return c, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return c, fmt.Errorf("encode constraints: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode constraints: %w", err)
	}
	return c, nil
}

// Normalize applies server defaults and canonical casing.
func (c *MealConstraints) Normalize(preferredLocale string) {
	if c == nil {
		return
	}
	if c.Version == "" {
		c.Version = DefaultConstraintsVersion
	}
	c.MealType = strings.ToLower(strings.TrimSpace(c.MealType))
	if c.MealType == "" {
		c.MealType = DefaultMealType
	}
	c.Cuisine = strings.TrimSpace(c.Cuisine)
	if c.Servings <= 0 {
		c.Servings = DefaultServings
	}
	if c.Locale == "" {
		if preferredLocale != "" {
			c.Locale = preferredLocale
		} else {
			c.Locale = DefaultLocale
		}
	}
	c.DietaryTags = normalizeList(c.DietaryTags)
	c.Exclusions = normalizeList(c.Exclusions)
}

// Validate ensures the constraints are satisfiable before any quota is reserved.
func (c MealConstraints) Validate() error {
	if _, ok := allowedMealTypes[c.MealType]; !ok {
		return fmt.Errorf("meal_type must be one of breakfast, lunch, dinner, snack, dessert")
	}
	for _, tag := range c.DietaryTags {
		if _, ok := allowedDietaryTags[tag]; !ok {
			return fmt.Errorf("unsupported dietary tag %q", tag)
		}
	}
	if c.Servings < 1 || c.Servings > MaxServings {
		return fmt.Errorf("servings must be between 1 and %d", MaxServings)
	}
	if c.CaloriesMin < 0 || c.CaloriesMax < 0 {
		return fmt.Errorf("calorie bounds must not be negative")
	}
	if c.CaloriesMax > MaxCalories {
		return fmt.Errorf("calories_max must not exceed %d", MaxCalories)
	}
	if c.CaloriesMax > 0 && c.CaloriesMin > c.CaloriesMax {
		return fmt.Errorf("calories_min must not exceed calories_max")
	}
	if c.MaxPrepMinutes < 0 {
		return fmt.Errorf("max_prep_minutes must not be negative")
	}
	return nil
}

// HasTag reports whether a dietary tag was requested.
func (c MealConstraints) HasTag(tag string) bool {
	for _, t := range c.DietaryTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Map returns the constraints as the opaque map stored on a job.
func (c MealConstraints) Map() map[string]any {
	var out map[string]any
	_ = json.Unmarshal(MustMarshal(c), &out)
	return out
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		v = strings.ReplaceAll(v, "-", "_")
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
