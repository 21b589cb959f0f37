package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rongwang/cryptotrace-server/internal/models"
	"google.golang.org/genai"
)

// GenAIAnalyzer asks a Gemini model for a JSON risk analysis
type GenAIAnalyzer struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGenAIAnalyzer creates an analyzer. baseURL overrides the API endpoint
// and is empty in production.
func NewGenAIAnalyzer(ctx context.Context, apiKey, model, baseURL string, timeout time.Duration) (*GenAIAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIAnalyzer{client: client, model: model, timeout: timeout}, nil
}

func (a *GenAIAnalyzer) Analyze(ctx context.Context, req Request) (*models.TraceAnalysis, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(buildPrompt(req)),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   analysisSchema(),
			Temperature:      genai.Ptr[float32](0),
		})
	if err != nil {
		return nil, fmt.Errorf("%w: GenAI generate failed: %v", ErrUnavailable, err)
	}

	return parseResult(resp.Text())
}

// analysisSchema mirrors models.TraceAnalysis
func analysisSchema() *genai.Schema {
	stringList := &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary": {Type: genai.TypeString},
			"riskLevel": {
				Type: genai.TypeString,
				Enum: []string{
					string(models.RiskLow), string(models.RiskMedium), string(models.RiskHigh), string(models.RiskCritical),
				},
			},
			"recommendations":    stringList,
			"suspiciousPatterns": stringList,
			"confidence": {
				Type:    genai.TypeNumber,
				Minimum: genai.Ptr[float64](0),
				Maximum: genai.Ptr[float64](1),
			},
		},
		Required:         []string{"summary", "riskLevel", "recommendations", "suspiciousPatterns", "confidence"},
		PropertyOrdering: []string{"summary", "riskLevel", "recommendations", "suspiciousPatterns", "confidence"},
	}
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are a blockchain forensics analyst assisting a police investigation.\n")
	b.WriteString("Assess the theft case below and answer with a single JSON object with keys ")
	b.WriteString(`"summary" (string), "riskLevel" (one of LOW, MEDIUM, HIGH, CRITICAL), `)
	b.WriteString(`"recommendations" (array of strings), "suspiciousPatterns" (array of strings), `)
	b.WriteString(`"confidence" (number between 0 and 1).` + "\n\n")
	fmt.Fprintf(&b, "Case number: %s\n", req.CaseNumber)
	fmt.Fprintf(&b, "Crypto type: %s\n", req.CryptoType)
	fmt.Fprintf(&b, "Victim wallet: %s\n", req.WalletAddress)
	if req.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Description)
	}
	if len(req.Transactions) > 0 {
		fmt.Fprintf(&b, "Transactions:\n- %s\n", strings.Join(req.Transactions, "\n- "))
	}
	if len(req.Addresses) > 0 {
		fmt.Fprintf(&b, "Related addresses:\n- %s\n", strings.Join(req.Addresses, "\n- "))
	}
	return b.String()
}

// parseResult decodes and checks the model output
func parseResult(text string) (*models.TraceAnalysis, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var result models.TraceAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &result); err != nil {
		return nil, fmt.Errorf("%w: malformed analysis: %v", ErrUnavailable, err)
	}

	result.RiskLevel = models.RiskLevel(strings.ToUpper(string(result.RiskLevel)))
	if !result.RiskLevel.Valid() {
		return nil, fmt.Errorf("%w: unknown risk level %q", ErrUnavailable, result.RiskLevel)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrUnavailable, result.Confidence)
	}
	if result.Summary == "" {
		return nil, fmt.Errorf("%w: empty summary", ErrUnavailable)
	}
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}
	if result.SuspiciousPatterns == nil {
		result.SuspiciousPatterns = []string{}
	}
	return &result, nil
}
