package nutrition

import (
	"fmt"
	"math"
	"strings"

	"mealgen/internal/domain"
	"mealgen/internal/domain/jsoncfg"
)

// macros per 100 g, or per piece for "pcs" and per tablespoon for "tbsp".
type macros struct {
	kcal, protein, carbs, fat float64
}

var table = map[string]macros{
	"chicken":     {165, 31, 0, 3.6},
	"salmon":      {208, 20, 0, 13},
	"tofu":        {144, 17, 3, 9},
	"tempeh":      {192, 20, 8, 11},
	"chickpea":    {164, 9, 27, 2.6},
	"lentil":      {116, 9, 20, 0.4},
	"egg":         {72, 6.3, 0.4, 4.8},
	"beef":        {176, 26, 0, 8},
	"shrimp":      {99, 24, 0.2, 0.3},
	"rice":        {123, 2.7, 26, 1},
	"quinoa":      {120, 4.4, 21, 1.9},
	"noodle":      {109, 1.8, 25, 0.2},
	"cauliflower": {25, 1.9, 5, 0.3},
	"potato":      {86, 1.6, 20, 0.1},
	"pasta":       {149, 6, 30, 1.7},
	"spinach":     {23, 2.9, 3.6, 0.4},
	"broccoli":    {34, 2.8, 7, 0.4},
	"pepper":      {31, 1, 6, 0.3},
	"zucchini":    {33, 2.4, 6, 0.6},
	"beans":       {31, 1.8, 7, 0.2},
	"tomato":      {18, 0.9, 3.9, 0.2},
	"olive oil":   {119, 0, 0, 13.5},
	"sesame oil":  {120, 0, 0, 13.6},
	"yogurt":      {97, 9, 3.9, 5},
	"almond":      {579, 21, 22, 50},
	"lime":        {20, 0.5, 7, 0.1},
}

var fallback = macros{kcal: 80, protein: 3, carbs: 10, fat: 3}

// Estimate derives per-serving macros from the ingredient list and scores how
// well the result fits the requested calorie window.
func Estimate(c domain.ConceptPayload, constraints jsoncfg.MealConstraints) domain.ValidationPayload {
	var total macros
	var notes []string
	for _, ing := range c.Ingredients {
		m, ok := lookup(ing.Name)
		if !ok {
			notes = append(notes, fmt.Sprintf("estimated %s from defaults", ing.Name))
		}
		factor := portion(ing)
		total.kcal += m.kcal * factor
		total.protein += m.protein * factor
		total.carbs += m.carbs * factor
		total.fat += m.fat * factor
	}
	servings := float64(c.Servings)
	if servings <= 0 {
		servings = 1
	}
	out := domain.ValidationPayload{
		Calories: round1(total.kcal / servings),
		Protein:  round1(total.protein / servings),
		Carbs:    round1(total.carbs / servings),
		Fat:      round1(total.fat / servings),
		Notes:    notes,
	}
	out.Score = fitScore(out.Calories, constraints)
	out.Approved = out.Score >= 0.5
	if !out.Approved {
		out.Notes = append(out.Notes, fmt.Sprintf("%.0f kcal per serving outside %d-%d", out.Calories, constraints.CaloriesMin, constraints.CaloriesMax))
	}
	return out
}

// lookup matches the longest table key contained in name, so "rice noodles"
// resolves to noodles rather than rice.
func lookup(name string) (macros, bool) {
	name = strings.ToLower(name)
	best := ""
	for key := range table {
		if !strings.Contains(name, key) {
			continue
		}
		if len(key) > len(best) || (len(key) == len(best) && key < best) {
			best = key
		}
	}
	if best == "" {
		return fallback, false
	}
	return table[best], true
}

func portion(ing domain.Ingredient) float64 {
	q := ing.Quantity
	if q <= 0 {
		q = 1
	}
	switch strings.ToLower(ing.Unit) {
	case "g", "ml":
		return q / 100
	case "kg", "l":
		return q * 10
	default:
		return q
	}
}

// fitScore is 1 inside the calorie window and decays linearly to 0 at twice
// the distance of the window width outside it.
func fitScore(kcal float64, c jsoncfg.MealConstraints) float64 {
	lo, hi := float64(c.CaloriesMin), float64(c.CaloriesMax)
	if hi <= 0 {
		return 1
	}
	if kcal >= lo && kcal <= hi {
		return 1
	}
	width := math.Max(hi-lo, 100)
	var off float64
	if kcal < lo {
		off = lo - kcal
	} else {
		off = kcal - hi
	}
	return round1(math.Max(0, 1-off/(2*width)))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
