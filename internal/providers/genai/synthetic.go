package genai

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand/v2"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mealgen/internal/domain"
	"mealgen/internal/domain/jsoncfg"
)

type pantryItem struct {
	name     string
	quantity float64
	unit     string
	// excluded lists dietary tags the item violates.
	excluded []string
}

var proteins = []pantryItem{
	{name: "chicken thigh", quantity: 300, unit: "g", excluded: []string{"vegan", "vegetarian", "pescatarian"}},
	{name: "salmon fillet", quantity: 250, unit: "g", excluded: []string{"vegan", "vegetarian"}},
	{name: "firm tofu", quantity: 300, unit: "g"},
	{name: "tempeh", quantity: 250, unit: "g"},
	{name: "chickpeas", quantity: 240, unit: "g"},
	{name: "eggs", quantity: 4, unit: "pcs", excluded: []string{"vegan"}},
	{name: "lean beef", quantity: 300, unit: "g", excluded: []string{"vegan", "vegetarian", "pescatarian"}},
	{name: "shrimp", quantity: 250, unit: "g", excluded: []string{"vegan", "vegetarian"}},
}

var bases = []pantryItem{
	{name: "brown rice", quantity: 180, unit: "g", excluded: []string{"keto", "low_carb", "paleo"}},
	{name: "quinoa", quantity: 160, unit: "g", excluded: []string{"keto"}},
	{name: "rice noodles", quantity: 200, unit: "g", excluded: []string{"keto", "low_carb", "paleo"}},
	{name: "cauliflower rice", quantity: 300, unit: "g"},
	{name: "sweet potato", quantity: 350, unit: "g", excluded: []string{"keto"}},
	{name: "whole wheat pasta", quantity: 200, unit: "g", excluded: []string{"gluten_free", "keto", "low_carb", "paleo"}},
}

var vegetables = []pantryItem{
	{name: "spinach", quantity: 100, unit: "g"},
	{name: "broccoli", quantity: 200, unit: "g"},
	{name: "bell pepper", quantity: 2, unit: "pcs"},
	{name: "zucchini", quantity: 1, unit: "pcs"},
	{name: "green beans", quantity: 150, unit: "g"},
	{name: "cherry tomatoes", quantity: 200, unit: "g"},
}

var finishes = []pantryItem{
	{name: "olive oil", quantity: 2, unit: "tbsp"},
	{name: "sesame oil", quantity: 1, unit: "tbsp"},
	{name: "greek yogurt", quantity: 120, unit: "g", excluded: []string{"vegan", "dairy_free", "paleo"}},
	{name: "toasted almonds", quantity: 30, unit: "g", excluded: []string{"nut_free"}},
	{name: "lime", quantity: 1, unit: "pcs"},
}

var styles = map[string][]string{
	"breakfast": {"sunrise skillet", "morning bowl", "hash"},
	"lunch":     {"grain bowl", "salad", "wrap plate"},
	"dinner":    {"traybake", "stir-fry", "stew", "bowl"},
	"snack":     {"bites", "skewers"},
	"dessert":   {"parfait", "bake"},
}

func syntheticConcept(req ConceptRequest) domain.ConceptPayload {
	c := req.Constraints
	rng := seededRand(deterministicSeed(req.TaskID, req.Index, c.MealType, c.Cuisine, strings.Join(c.DietaryTags, ",")))

	protein := pick(rng, proteins, c)
	base := pick(rng, bases, c)
	veg := pick(rng, vegetables, c)
	finish := pick(rng, finishes, c)

	mealType := c.MealType
	if mealType == "" {
		mealType = jsoncfg.DefaultMealType
	}
	variants := styles[mealType]
	if len(variants) == 0 {
		variants = styles["dinner"]
	}
	style := variants[rng.IntN(len(variants))]

	title := fmt.Sprintf("%s %s with %s", protein.name, style, veg.name)
	if c.Cuisine != "" {
		title = c.Cuisine + " " + title
	}
	servings := c.Servings
	if servings <= 0 {
		servings = jsoncfg.DefaultServings
	}

	ingredients := make([]domain.Ingredient, 0, 4)
	for _, it := range []pantryItem{protein, base, veg, finish} {
		ingredients = append(ingredients, domain.Ingredient{
			Name:     it.name,
			Quantity: it.quantity * float64(servings) / 2,
			Unit:     it.unit,
		})
	}

	concept := domain.ConceptPayload{
		Title:       normalizeTitle(title, c.Locale),
		Summary:     fmt.Sprintf("A %s %s built around %s and %s.", mealType, style, protein.name, base.name),
		MealType:    mealType,
		Cuisine:     c.Cuisine,
		Servings:    servings,
		Ingredients: ingredients,
		Steps: []string{
			fmt.Sprintf("Cook the %s according to the package.", base.name),
			fmt.Sprintf("Season and sear the %s until golden.", protein.name),
			fmt.Sprintf("Add the %s and cook until just tender.", veg.name),
			fmt.Sprintf("Plate over the %s and finish with %s.", base.name, finish.name),
		},
	}
	concept.ImagePrompt = buildDishPrompt(concept)
	return concept
}

// pick returns a random item allowed by the constraints. When every item is
// excluded it falls back to the first one rather than failing the draft.
func pick(rng *rand.Rand, items []pantryItem, c jsoncfg.MealConstraints) pantryItem {
	allowed := make([]pantryItem, 0, len(items))
	for _, it := range items {
		if permitted(it, c) {
			allowed = append(allowed, it)
		}
	}
	if len(allowed) == 0 {
		return items[0]
	}
	return allowed[rng.IntN(len(allowed))]
}

func permitted(it pantryItem, c jsoncfg.MealConstraints) bool {
	for _, tag := range it.excluded {
		if c.HasTag(tag) {
			return false
		}
	}
	for _, ex := range c.Exclusions {
		if strings.Contains(it.name, strings.ReplaceAll(ex, "_", " ")) {
			return false
		}
	}
	return true
}

func normalizeTitle(title, locale string) string {
	title = strings.Join(strings.Fields(title), " ")
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	return cases.Title(tag).String(title)
}

func buildConceptPrompt(req ConceptRequest) string {
	c := req.Constraints
	var b strings.Builder
	b.WriteString("Create one original recipe as JSON with the fields title, summary, meal_type, cuisine, servings, ")
	b.WriteString("ingredients (name, quantity, unit), steps and image_prompt.\n")
	fmt.Fprintf(&b, "Meal type: %s\n", c.MealType)
	if c.Cuisine != "" {
		fmt.Fprintf(&b, "Cuisine: %s\n", c.Cuisine)
	}
	fmt.Fprintf(&b, "Servings: %d\n", c.Servings)
	if len(c.DietaryTags) > 0 {
		fmt.Fprintf(&b, "Dietary requirements: %s\n", strings.Join(c.DietaryTags, ", "))
	}
	if len(c.Exclusions) > 0 {
		fmt.Fprintf(&b, "Never use: %s\n", strings.Join(c.Exclusions, ", "))
	}
	if c.CaloriesMax > 0 {
		fmt.Fprintf(&b, "Calories per serving: %d-%d\n", c.CaloriesMin, c.CaloriesMax)
	}
	if c.MaxPrepMinutes > 0 {
		fmt.Fprintf(&b, "Ready in at most %d minutes\n", c.MaxPrepMinutes)
	}
	if c.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", c.Notes)
	}
	fmt.Fprintf(&b, "Write the text in locale %s. This is variation #%d; do not repeat earlier variations.", c.Locale, req.Index+1)
	return b.String()
}

func buildDishPrompt(c domain.ConceptPayload) string {
	return fmt.Sprintf("Overhead food photograph of %s, natural light, styled on a rustic table", strings.ToLower(c.Title))
}

func buildImagePrompt(req ImageRequest) string {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = "Overhead food photograph of a home-cooked meal"
	}
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		prompt += "\nAspect ratio: " + aspect
	}
	return prompt
}

const syntheticSize = 512

// syntheticImage renders a seeded block mosaic. Different seeds give
// structurally different images so their perceptual hashes differ.
func syntheticImage(req ImageRequest) (domain.ImagePayload, error) {
	seed := deterministicSeed(req.TaskID, req.Prompt, req.Variant)
	rng := seededRand(seed)
	tint := colorFromSeed(seed, 0)

	img := image.NewRGBA(image.Rect(0, 0, syntheticSize, syntheticSize))
	const grid = 8
	cell := syntheticSize / grid
	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			lum := uint8(rng.IntN(256))
			fill := color.RGBA{
				R: uint8((int(lum) + int(tint.R)) / 2),
				G: uint8((int(lum) + int(tint.G)) / 2),
				B: uint8((int(lum) + int(tint.B)) / 2),
				A: 255,
			}
			rect := image.Rect(gx*cell, gy*cell, (gx+1)*cell, (gy+1)*cell)
			draw.Draw(img, rect, &image.Uniform{fill}, image.Point{}, draw.Src)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return domain.ImagePayload{}, fmt.Errorf("encode synthetic image: %w", err)
	}
	data := buf.Bytes()
	return domain.ImagePayload{
		Data:   data,
		MIME:   "image/png",
		Width:  syntheticSize,
		Height: syntheticSize,
		Bytes:  len(data),
	}, nil
}

func seededRand(seed string) *rand.Rand {
	s, err := strconv.ParseUint(seed, 16, 64)
	if err != nil {
		s = uint64(len(seed))
	}
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{
		R: parseHexByte(segment[0:2]),
		G: parseHexByte(segment[2:4]),
		B: parseHexByte(segment[4:6]),
		A: 255,
	}
}

func parseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}
