package enrich

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are an Identity Governance and Compliance Analyst.

Given a user's role and an attached IAM policy name, explain in ONE concise
sentence why this access is risky (if it is) and what action is recommended.
Do NOT make final decisions. Do NOT invent facts. Use clear, non-technical
language. Return plain text only.`

// OpenAIExplainer implements Explainer against the OpenAI chat API.
type OpenAIExplainer struct {
	client *openai.Client
	model  string
}

func NewOpenAIExplainer(apiKey, model string) (*OpenAIExplainer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not set")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIExplainer{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (o *OpenAIExplainer) Explain(ctx context.Context, req ExplainRequest) (string, error) {
	prompt := fmt.Sprintf(
		"User: %s (%s)\nRole: %s\nAttached policy: %s (%s)",
		req.DisplayName, req.PrincipalARN, req.RoleName, req.PolicyName, req.PolicyARN,
	)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
