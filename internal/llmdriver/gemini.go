package llmdriver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiLLMClient is the slow-tier provider, ported from the teacher's
// internal/conversation/gemini_client.go and extended with FunctionDeclaration
// tool config and a streaming Complete via genai's SendMessageStream.
type GeminiLLMClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiLLMClient constructs a GeminiLLMClient, defaulting modelID the
// same way the teacher's constructor does.
func NewGeminiLLMClient(ctx context.Context, apiKey, modelID string) (*GeminiLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llmdriver: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-1.5-pro"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llmdriver: failed to create gemini client: %w", err)
	}
	return &GeminiLLMClient{client: client, modelID: modelID}, nil
}

func (c *GeminiLLMClient) buildModel(req LLMRequest) *genai.GenerativeModel {
	model := c.client.GenerativeModel(c.modelID)
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if len(req.System) > 0 {
		if systemText := strings.TrimSpace(strings.Join(req.System, "\n\n")); systemText != "" {
			model.SystemInstruction = genai.NewUserContent(genai.Text(systemText))
		}
	}
	if len(req.Tools) > 0 {
		model.Tools = []*genai.Tool{geminiToolFromSpecs(req.Tools)}
	}
	return model
}

func geminiToolFromSpecs(tools []ToolSpec) *genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  jsonSchemaToGenaiSchema(t.Parameters),
		})
	}
	return &genai.Tool{FunctionDeclarations: decls}
}

// jsonSchemaToGenaiSchema converts the JSON-schema-shaped maps internal/tools
// builds (type/properties/items/required) into genai's typed Schema, since
// the Gemini SDK doesn't accept raw JSON schema the way Bedrock's
// document-typed InputSchema does.
func jsonSchemaToGenaiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	schema := &genai.Schema{Type: genaiType(m["type"])}
	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if propMap, ok := raw.(map[string]any); ok {
				schema.Properties[name] = jsonSchemaToGenaiSchema(propMap)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		schema.Items = jsonSchemaToGenaiSchema(items)
	}
	if required, ok := m["required"].([]string); ok {
		schema.Required = required
	}
	return schema
}

func genaiType(raw any) genai.Type {
	switch raw {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeObject
	}
}

func geminiHistoryAndLast(req LLMRequest) ([]*genai.Content, genai.Part, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("llmdriver: gemini requires at least one message")
	}
	var history []*genai.Content
	for _, msg := range req.Messages[:len(req.Messages)-1] {
		content := strings.TrimSpace(msg.Content)
		if content == "" || msg.Role == ChatRoleSystem {
			continue
		}
		role := "user"
		switch msg.Role {
		case ChatRoleAssistant:
			role = "model"
		case ChatRoleTool:
			history = append(history, &genai.Content{Role: "function", Parts: []genai.Part{
				genai.FunctionResponse{Name: msg.ToolCallID, Response: map[string]any{"result": content}},
			}})
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(content)}})
	}
	last := req.Messages[len(req.Messages)-1]
	return history, genai.Text(last.Content), nil
}

func geminiExtractResponse(resp *genai.GenerateContentResponse) (LLMResponse, error) {
	if len(resp.Candidates) == 0 {
		return LLMResponse{}, errors.New("llmdriver: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return LLMResponse{}, errors.New("llmdriver: gemini returned empty content")
	}

	var text strings.Builder
	var toolCalls []ToolCallDelta
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			argsJSON, err := marshalJSONCompact(p.Args)
			if err != nil {
				return LLMResponse{}, fmt.Errorf("llmdriver: gemini function call args: %w", err)
			}
			toolCalls = append(toolCalls, ToolCallDelta{Name: p.Name, ArgumentsJSON: argsJSON})
		}
	}

	result := LLMResponse{
		Text:       strings.TrimSpace(text.String()),
		ToolCalls:  toolCalls,
		StopReason: string(candidate.FinishReason),
	}
	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

// Complete implements LLMClient.
func (c *GeminiLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	model := c.buildModel(req)
	history, lastPart, err := geminiHistoryAndLast(req)
	if err != nil {
		return LLMResponse{}, err
	}
	cs := model.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, lastPart)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("llmdriver: gemini completion failed: %w", err)
	}
	return geminiExtractResponse(resp)
}

// CompleteStream implements LLMClient via genai's SendMessageStream,
// converging on the same StreamChunk shape BedrockLLMClient emits so the
// Response Pipeline never needs to know which tier produced the stream.
func (c *GeminiLLMClient) CompleteStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error) {
	model := c.buildModel(req)
	history, lastPart, err := geminiHistoryAndLast(req)
	if err != nil {
		return nil, err
	}
	cs := model.StartChat()
	cs.History = history

	iter := cs.SendMessageStream(ctx, lastPart)
	chunks := make(chan StreamChunk, 32)

	go func() {
		defer close(chunks)
		var usage TokenUsage
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				chunks <- StreamChunk{Error: err, Done: true}
				return
			}
			if resp.UsageMetadata != nil {
				usage = TokenUsage{
					InputTokens:  resp.UsageMetadata.PromptTokenCount,
					OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
					TotalTokens:  resp.UsageMetadata.TotalTokenCount,
				}
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				switch p := part.(type) {
				case genai.Text:
					chunks <- StreamChunk{Text: string(p)}
				case genai.FunctionCall:
					argsJSON, err := marshalJSONCompact(p.Args)
					if err != nil {
						chunks <- StreamChunk{Error: err, Done: true}
						return
					}
					chunks <- StreamChunk{ToolCallDelta: &ToolCallDelta{Name: p.Name, ArgumentsJSON: argsJSON}}
				}
			}
		}
		chunks <- StreamChunk{Done: true, Usage: usage}
	}()

	return chunks, nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiLLMClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
