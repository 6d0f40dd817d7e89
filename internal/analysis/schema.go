// internal/analysis/schema.go
package analysis

import "nutrivision/internal/llm"

func str(desc string) *llm.Schema { return &llm.Schema{Type: llm.TypeString, Description: desc} }
func num(desc string) *llm.Schema { return &llm.Schema{Type: llm.TypeNumber, Description: desc} }
func strList(desc string) *llm.Schema {
	return &llm.Schema{Type: llm.TypeArray, Items: str(""), Description: desc}
}

// RequiredFields are the top-level keys every analysis payload must carry.
var RequiredFields = []string{
	"totalCalories", "confidenceLevel", "foodItems", "macros",
	"healthScore", "healthRatingExplanation", "healthierAlternatives",
	"allergens", "dietaryTags", "exerciseEquivalent", "cookingMethodSuggestions",
}

// Schema is the structured-output contract of the analysis call.
var Schema = &llm.Schema{
	Type: llm.TypeObject,
	Properties: map[string]*llm.Schema{
		"totalCalories":   num("Total estimated calories for the entire meal."),
		"confidenceLevel": str("Confidence in the estimation (High, Medium, Low)."),
		"foodItems": {
			Type: llm.TypeArray,
			Items: &llm.Schema{
				Type: llm.TypeObject,
				Properties: map[string]*llm.Schema{
					"name":            str(""),
					"calories":        num(""),
					"portionEstimate": str(""),
					"ingredients":     strList(""),
				},
				Required: []string{"name", "calories", "portionEstimate", "ingredients"},
			},
		},
		"macros": {
			Type: llm.TypeObject,
			Properties: map[string]*llm.Schema{
				"protein": num("Total protein in grams"),
				"carbs":   num("Total carbohydrates in grams"),
				"fats":    num("Total fats in grams"),
				"fiber":   num("Total fiber in grams"),
			},
			Required: []string{"protein", "carbs", "fats", "fiber"},
		},
		"micronutrients":          strList("List of potential vitamins and minerals."),
		"healthScore":             num("Health score from 0 to 100 based on nutritional balance."),
		"healthRatingExplanation": str("Brief explanation of the health score."),
		"healthierAlternatives": {
			Type: llm.TypeArray,
			Items: &llm.Schema{
				Type: llm.TypeObject,
				Properties: map[string]*llm.Schema{
					"name":           str(""),
					"calories":       num(""),
					"explanation":    str(""),
					"calorieSavings": num(""),
				},
				Required: []string{"name", "calories", "explanation", "calorieSavings"},
			},
		},
		"allergens":                strList("Potential allergens like Nuts, Dairy, Gluten, etc."),
		"dietaryTags":              strList("Tags like High Protein, Vegan, Keto, etc."),
		"exerciseEquivalent":       str("Exercise needed to burn these calories (e.g., '30 mins jogging')."),
		"cookingMethodSuggestions": str("Tips on how to cook this healthier next time."),
	},
	Required: RequiredFields,
}
