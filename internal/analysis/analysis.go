// internal/analysis/analysis.go
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"nutrivision/internal/imaging"
	"nutrivision/internal/llm"
	"nutrivision/internal/models"
	"nutrivision/internal/nutrition"
)

// UserMessage is the only text a failed analysis ever shows.
const UserMessage = "Failed to analyze food image. Please try again."

const basePrompt = `You are a world-class Nutritionist and Food Scientist AI.
Analyze the provided food image with high precision.
1. Identify every visible food item and ingredient.
2. Estimate portions realistically.
3. Calculate nutritional values.
4. Assess the healthiness of the meal objectively.
5. Provide actionable advice for improvement.

If the image is NOT food, return a response indicating 0 calories and a health score of 0 with an explanation that no food was detected.`

const personalization = `INSTRUCTIONS FOR PERSONALIZATION:
1. 'healthRatingExplanation': Explicitly mention how this meal fits into their daily remaining calories (if target set) and if it adheres to their Custom Diet Rules.
2. 'dietaryTags': Flag violations of their preferences if any.
3. 'healthierAlternatives': Suggest swaps that align with their specific Custom Diet Rules (e.g. if 'Keto', suggest lower carb options).
4. If they have exceeded their daily target, provide kind but firm advice.`

const userPrompt = "Analyze this meal strictly according to the requested JSON schema, keeping the User Context in mind."

var ErrInvalidPayload = errors.New("invalid analysis payload")

// AnalysisError is returned for every failed analysis. Its message is always
// UserMessage; the underlying cause is available through errors.Unwrap.
type AnalysisError struct {
	Cause error
}

func (e *AnalysisError) Error() string { return UserMessage }

func (e *AnalysisError) Unwrap() error { return e.Cause }

type Client struct {
	model  llm.Model
	logger *log.Logger
	loc    *time.Location
	now    func() time.Time
}

// NewClient builds an analysis client. loc decides which calendar day counts as
// today in the user context; nil means the local zone.
func NewClient(model llm.Model, loc *time.Location, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Client{model: model, logger: logger, loc: loc, now: time.Now}
}

// Analyze sends a compressed JPEG to the model and returns the validated result.
// No partial result is ever returned.
func (c *Client) Analyze(ctx context.Context, image []byte, settings models.UserSettings, history []models.HistoryItem) (*models.AnalysisResult, error) {
	if c.model == nil {
		return nil, c.fail(llm.ErrNotConfigured)
	}
	if len(image) == 0 {
		return nil, c.fail(errors.New("no image data"))
	}

	payload, err := c.model.GenerateJSON(ctx, llm.GenerateRequest{
		System:      SystemInstruction(settings, history, c.now().In(c.loc)),
		Prompt:      userPrompt,
		Image:       image,
		ImageMIME:   imaging.OutputMIME,
		Schema:      Schema,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, c.fail(err)
	}

	result, err := Parse(payload)
	if err != nil {
		return nil, c.fail(err)
	}
	return result, nil
}

func (c *Client) fail(cause error) error {
	c.logger.Printf("Analysis error: %v", cause)
	return &AnalysisError{Cause: cause}
}

// SystemInstruction is the base prompt, followed by the user context and the
// personalization rules when there is any context to give.
func SystemInstruction(settings models.UserSettings, history []models.HistoryItem, now time.Time) string {
	ctxData := nutrition.UserContext(settings, history, now)
	if ctxData == "" {
		return basePrompt
	}
	return basePrompt + "\n\n=== USER CONTEXT & MEMORY ===" + ctxData + "\n\n" + personalization
}

// StripCodeFence removes markdown fences and any text around the outermost JSON
// object.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		s = s[start : end+1]
	}
	return s
}

// Parse validates a raw model payload and decodes it.
func Parse(payload string) (*models.AnalysisResult, error) {
	payload = StripCodeFence(payload)
	if payload == "" {
		return nil, llm.ErrEmptyResponse
	}
	if !gjson.Valid(payload) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}

	doc := gjson.Parse(payload)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: expected an object", ErrInvalidPayload)
	}
	for _, key := range RequiredFields {
		if !doc.Get(key).Exists() {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidPayload, key)
		}
	}
	if v := doc.Get("totalCalories"); v.Type != gjson.Number {
		return nil, fmt.Errorf("%w: totalCalories is not a number", ErrInvalidPayload)
	}
	if v := doc.Get("healthScore"); v.Type != gjson.Number {
		return nil, fmt.Errorf("%w: healthScore is not a number", ErrInvalidPayload)
	}
	for _, key := range []string{"foodItems", "healthierAlternatives", "allergens", "dietaryTags"} {
		if !doc.Get(key).IsArray() {
			return nil, fmt.Errorf("%w: %s is not an array", ErrInvalidPayload, key)
		}
	}
	if !doc.Get("macros").IsObject() {
		return nil, fmt.Errorf("%w: macros is not an object", ErrInvalidPayload)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := Validate(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Validate range-checks a decoded result and fills empty lists so that the
// stored form is stable.
func Validate(r *models.AnalysisResult) error {
	level, ok := models.ParseConfidence(string(r.ConfidenceLevel))
	if !ok {
		return fmt.Errorf("%w: unknown confidence level %q", ErrInvalidPayload, r.ConfidenceLevel)
	}
	r.ConfidenceLevel = level

	if r.TotalCalories < 0 {
		return fmt.Errorf("%w: negative totalCalories", ErrInvalidPayload)
	}
	if r.HealthScore < 0 || r.HealthScore > 100 {
		return fmt.Errorf("%w: healthScore %v out of range", ErrInvalidPayload, r.HealthScore)
	}
	m := r.Macros
	if m.Protein < 0 || m.Carbs < 0 || m.Fats < 0 || m.Fiber < 0 {
		return fmt.Errorf("%w: negative macro", ErrInvalidPayload)
	}
	for _, f := range r.FoodItems {
		if f.Calories < 0 {
			return fmt.Errorf("%w: negative calories for %s", ErrInvalidPayload, f.Name)
		}
	}

	if r.FoodItems == nil {
		r.FoodItems = []models.FoodItem{}
	}
	if r.Micronutrients == nil {
		r.Micronutrients = []string{}
	}
	if r.HealthierAlternatives == nil {
		r.HealthierAlternatives = []models.HealthierAlternative{}
	}
	if r.Allergens == nil {
		r.Allergens = []string{}
	}
	if r.DietaryTags == nil {
		r.DietaryTags = []string{}
	}
	return nil
}
