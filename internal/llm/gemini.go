package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lithammer/dedent"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/raine/listing-agent/internal/capture"
	"github.com/raine/listing-agent/internal/listing"
)

const (
	geminiModel     = "gemini-3-flash-preview"
	geminiLiteModel = "gemini-2.5-flash-lite"
)

// Gemini pricing (per million tokens)
const (
	geminiInputPricePerMillion      = 0.50 // $0.50 per 1M input tokens (text/image/video)
	geminiOutputPricePerMillion     = 3.00 // $3.00 per 1M output tokens (including thinking)
	geminiLiteInputPricePerMillion  = 0.075
	geminiLiteOutputPricePerMillion = 0.30
)

var imageAnalysisPrompt = strings.TrimSpace(dedent.Dedent(`
	Describe the item in this photo for someone about to sell it on a
	secondhand marketplace.

	Cover what it is, brand and model if visible, colour and material, and
	any visible wear or damage. Write 3-5 plain sentences in English. Do not
	guess a price.

	Respond ONLY with the description, no markdown or headings.`))

var listingPrompt = strings.TrimSpace(dedent.Dedent(`
	You write secondhand marketplace listings.

	Image analysis of the item:
	%s

	Transcript of a spoken interview with the seller (AI is the interviewer):
	%s

	Write a listing using both. Prefer what the seller said over the image
	analysis when they disagree. The price is a number in GBP reflecting
	the item's condition and typical secondhand value. The category is a
	broad marketplace category such as Electronics, Home, Fashion, Sports,
	Toys, Books or Collectibles.`))

var listingSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":       {Type: genai.TypeString, Description: "Short listing title with brand and model when known"},
		"description": {Type: genai.TypeString, Description: "Listing description, 2-4 sentences"},
		"price":       {Type: genai.TypeNumber, Description: "Suggested price in GBP"},
		"category":    {Type: genai.TypeString, Description: "Broad marketplace category"},
	},
	Required:         []string{"title", "description", "price", "category"},
	PropertyOrdering: []string{"title", "description", "price", "category"},
}

// Usage contains token usage and cost information.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

// GeminiClient analyzes images and writes listings with Google's Gemini
// API. It is an alternative to the listing service backend.
type GeminiClient struct {
	client *genai.Client
}

type GeminiOpts struct {
	APIKey string
	// BaseURL overrides the API endpoint. Empty uses the default.
	BaseURL string
}

// NewGeminiClient creates a new Gemini-based analyzer and synthesizer.
func NewGeminiClient(ctx context.Context, opts GeminiOpts) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      opts.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: opts.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// AnalyzeImage returns a plain-text description of the item in img.
func (g *GeminiClient) AnalyzeImage(ctx context.Context, img *capture.Image) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(imageAnalysisPrompt),
		{InlineData: &genai.Blob{Data: img.Data, MIMEType: img.MIMEType}},
	}

	result, err := g.generate(ctx, "analyze image", geminiModel, parts, nil)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", &listing.ServiceError{Op: "analyze image", Err: errors.New("empty description from Gemini")}
	}

	usage := usageOf(result, geminiInputPricePerMillion, geminiOutputPricePerMillion)
	log.Info().
		Str("model", geminiModel).
		Str("image", img.Name).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Msg("vision llm call")

	return text, nil
}

// SynthesizeListing writes a listing from the interview transcript and the
// image analysis using structured output.
func (g *GeminiClient) SynthesizeListing(ctx context.Context, transcript, analysisText string) (*listing.Listing, error) {
	if strings.TrimSpace(transcript) == "" || strings.TrimSpace(analysisText) == "" {
		return nil, &listing.ServiceError{Op: "price analysis", Err: errors.New("both description and transcript are required")}
	}

	prompt := fmt.Sprintf(listingPrompt, analysisText, transcript)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   listingSchema,
	}

	result, err := g.generate(ctx, "price analysis", geminiLiteModel, []*genai.Part{genai.NewPartFromText(prompt)}, config)
	if err != nil {
		return nil, err
	}

	text := result.Text()
	var l listing.Listing
	if err := json.Unmarshal([]byte(text), &l); err != nil {
		return nil, &listing.ServiceError{
			Op:  "price analysis",
			Err: fmt.Errorf("failed to parse listing json: %w (response: %s)", err, text),
		}
	}

	usage := usageOf(result, geminiLiteInputPricePerMillion, geminiLiteOutputPricePerMillion)
	log.Info().
		Str("model", geminiLiteModel).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Str("title", l.Title).
		Float64("price", l.Price).
		Msg("listing llm call")

	return &l, nil
}

func (g *GeminiClient) generate(ctx context.Context, op, model string, parts []*genai.Part, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, &listing.ServiceError{Op: op, Err: fmt.Errorf("failed to generate content: %w", err)}
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, &listing.ServiceError{Op: op, Err: errors.New("no response from Gemini")}
	}
	return result, nil
}

func usageOf(result *genai.GenerateContentResponse, inputPrice, outputPrice float64) Usage {
	usage := Usage{}
	if result.UsageMetadata != nil {
		usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int64(result.UsageMetadata.TotalTokenCount)
		usage.CostUSD = calculateGeminiCost(usage.InputTokens, usage.OutputTokens, inputPrice, outputPrice)
	}
	return usage
}

func calculateGeminiCost(inputTokens, outputTokens int64, inputPrice, outputPrice float64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * inputPrice
	outputCost := float64(outputTokens) / 1_000_000 * outputPrice
	return inputCost + outputCost
}
