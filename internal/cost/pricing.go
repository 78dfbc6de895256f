package cost

// Gemini API image pricing (USD per output image)
// Source: https://ai.google.dev/gemini-api/docs/pricing

var geminiPricing = map[string]float64{
	// Gemini image models bill output tokens; one 1024px image is 1290 tokens.
	"gemini-2.5-flash-image-preview": 0.039,
	"gemini-2.5-flash-image":         0.039,
	"gemini-3-pro-image-preview":     0.134,

	// Imagen
	"imagen-4.0-generate-001":      0.04,
	"imagen-4.0-fast-generate-001": 0.02,
}

// GetPrice returns the per-image price of model.
func GetPrice(model string) (float64, bool) {
	price, ok := geminiPricing[model]
	return price, ok
}
