// Package enrich classifies observed domains through an OpenAI-backed
// analyst prompt with a strict JSON response schema.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/sirupsen/logrus"

	"github.com/pihound/pihound/pkg/model"
)

const systemPrompt = `You are a cybersecurity analyst.
Analyze the following domain from a DNS query log.

Rules:
- Respond ONLY with valid JSON.
- No markdown.
- No commentary.
- Be conservative when flagging risk.`

type Analyzer interface {
	Analyze(ctx context.Context, domain string) (model.Analysis, error)
}

type Config struct {
	Enabled bool
	APIKey  string
	Model   string
}

type analyzer struct {
	cfg    Config
	client *openai.Client
	log    *logrus.Entry
}

// NewAnalyzer builds the enrichment client. With Enabled false it never
// performs a network call and answers every request with a neutral Analysis.
func NewAnalyzer(cfg Config, log *logrus.Entry) Analyzer {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}

	a := &analyzer{
		cfg: cfg,
		log: log,
	}
	if cfg.Enabled {
		a.client = openai.NewClient(cfg.APIKey)
	}
	return a
}

var analysisSchema = &jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"risk_level": {Type: jsonschema.String},
		"category":   {Type: jsonschema.String},
		"owner":      {Type: jsonschema.String},
		"notes":      {Type: jsonschema.String},
	},
	Required:             []string{"risk_level", "category", "owner", "notes"},
	AdditionalProperties: false,
}

func (a *analyzer) Analyze(ctx context.Context, domain string) (model.Analysis, error) {
	if !a.cfg.Enabled {
		return model.Analysis{}, nil
	}

	userPrompt := fmt.Sprintf(`Return structured analysis with:
- risk level (low, medium, high)
- category (what it's likely used for)
- ownership
- summary notes

DNS QUERY:
%s`, domain)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "dns_analysis",
				Schema: analysisSchema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return model.Analysis{}, err
	}
	if len(resp.Choices) == 0 {
		return model.Analysis{}, fmt.Errorf("no choices in response")
	}

	var analysis model.Analysis
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &analysis); err != nil {
		return model.Analysis{}, fmt.Errorf("parsing analysis: %w", err)
	}

	a.log.WithField("domain", domain).Debugf("analysis: %+v", analysis)
	return analysis, nil
}
