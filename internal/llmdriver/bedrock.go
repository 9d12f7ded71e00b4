package llmdriver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// bedrockConverseAPI is the slice of *bedrockruntime.Client BedrockLLMClient
// needs, ported verbatim from the teacher's bedrock_clients.go.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockLLMClient is the fast-tier provider, ported from the teacher's
// internal/conversation/bedrock_clients.go and generalized to
// attach a ToolConfiguration block and extract tool-use content blocks from
// both the synchronous and streaming response shapes.
type BedrockLLMClient struct {
	api bedrockConverseAPI
}

// NewBedrockLLMClient constructs a BedrockLLMClient.
func NewBedrockLLMClient(api bedrockConverseAPI) *BedrockLLMClient {
	if api == nil {
		panic("llmdriver: bedrock converse client cannot be nil")
	}
	return &BedrockLLMClient{api: api}
}

func bedrockSystemAndMessages(req LLMRequest) ([]brtypes.SystemContentBlock, []brtypes.Message, error) {
	systemBlocks := make([]brtypes.SystemContentBlock, 0, len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	messages := make([]brtypes.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case ChatRoleSystem:
			systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: content})
		case ChatRoleUser:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
			})
		case ChatRoleAssistant:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
			})
		case ChatRoleTool:
			messages = append(messages, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberToolResult{
						Value: brtypes.ToolResultBlock{
							ToolUseId: aws.String(msg.ToolCallID),
							Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: content}},
						},
					},
				},
			})
		default:
			return nil, nil, fmt.Errorf("llmdriver: unsupported role %q", msg.Role)
		}
	}
	return systemBlocks, messages, nil
}

func bedrockInferenceConfig(req LLMRequest) *brtypes.InferenceConfiguration {
	inference := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(req.MaxTokens)
	}
	if req.Temperature >= 0 {
		inference.Temperature = aws.Float32(req.Temperature)
	}
	if req.TopP != 0 {
		inference.TopP = aws.Float32(req.TopP)
	}
	if inference.MaxTokens == nil && inference.Temperature == nil && inference.TopP == nil {
		return nil
	}
	return inference
}

func bedrockToolConfig(tools []ToolSpec) *brtypes.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	blocks := make([]brtypes.Tool, 0, len(tools))
	for _, t := range tools {
		blocks = append(blocks, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(t.Parameters),
				},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: blocks}
}

// Complete implements LLMClient.
func (c *BedrockLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	if strings.TrimSpace(req.Model) == "" {
		return LLMResponse{}, errors.New("llmdriver: bedrock model id is required")
	}
	systemBlocks, messages, err := bedrockSystemAndMessages(req)
	if err != nil {
		return LLMResponse{}, err
	}

	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.Model),
		System:          systemBlocks,
		Messages:        messages,
		InferenceConfig: bedrockInferenceConfig(req),
		ToolConfig:      bedrockToolConfig(req.Tools),
	})
	if err != nil {
		return LLMResponse{}, err
	}

	text, toolCalls, err := bedrockExtractOutput(out)
	if err != nil {
		return LLMResponse{}, err
	}

	resp := LLMResponse{Text: strings.TrimSpace(text), ToolCalls: toolCalls}
	if out.StopReason != "" {
		resp.StopReason = string(out.StopReason)
	}
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int32OrZero(out.Usage.InputTokens),
			OutputTokens: int32OrZero(out.Usage.OutputTokens),
			TotalTokens:  int32OrZero(out.Usage.TotalTokens),
		}
	}
	return resp, nil
}

// CompleteStream implements LLMClient, porting the teacher's
// bedrock_clients.go ConverseStream goroutine-pump shape and extending it to
// accumulate tool-use input-JSON deltas into a single ToolCallDelta, emitted
// only once the block closes and is fully assembled.
func (c *BedrockLLMClient) CompleteStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("llmdriver: bedrock model id is required")
	}
	systemBlocks, messages, err := bedrockSystemAndMessages(req)
	if err != nil {
		return nil, err
	}

	out, err := c.api.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(req.Model),
		System:          systemBlocks,
		Messages:        messages,
		InferenceConfig: bedrockInferenceConfig(req),
		ToolConfig:      bedrockToolConfig(req.Tools),
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk, 32)

	go func() {
		defer close(chunks)

		stream := out.GetStream()
		if stream == nil {
			chunks <- StreamChunk{Error: errors.New("llmdriver: bedrock stream is nil"), Done: true}
			return
		}
		defer stream.Close()

		var usage TokenUsage
		var pending *ToolCallDelta
		var pendingArgs strings.Builder

		flushPending := func() *ToolCallDelta {
			if pending == nil {
				return nil
			}
			done := &ToolCallDelta{ID: pending.ID, Name: pending.Name, ArgumentsJSON: pendingArgs.String()}
			pending, pendingArgs = nil, strings.Builder{}
			return done
		}

		for event := range stream.Events() {
			switch v := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockStart:
				if start, ok := v.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
					pending = &ToolCallDelta{ID: aws.ToString(start.Value.ToolUseId), Name: aws.ToString(start.Value.Name)}
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := v.Value.Delta.(type) {
				case *brtypes.ContentBlockDeltaMemberText:
					chunks <- StreamChunk{Text: delta.Value}
				case *brtypes.ContentBlockDeltaMemberToolUse:
					if pending != nil {
						pendingArgs.WriteString(aws.ToString(delta.Value.Input))
					}
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockStop:
				if tc := flushPending(); tc != nil {
					chunks <- StreamChunk{ToolCallDelta: tc}
				}
			case *brtypes.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil {
					usage = TokenUsage{
						InputTokens:  int32OrZero(v.Value.Usage.InputTokens),
						OutputTokens: int32OrZero(v.Value.Usage.OutputTokens),
						TotalTokens:  int32OrZero(v.Value.Usage.TotalTokens),
					}
				}
			case *brtypes.ConverseStreamOutputMemberMessageStop:
				// handled by the Done chunk below
			}
		}

		if err := stream.Err(); err != nil {
			chunks <- StreamChunk{Error: err, Done: true}
			return
		}
		chunks <- StreamChunk{Done: true, Usage: usage}
	}()

	return chunks, nil
}

func bedrockExtractOutput(out *bedrockruntime.ConverseOutput) (string, []ToolCallDelta, error) {
	if out == nil {
		return "", nil, errors.New("llmdriver: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", nil, errors.New("llmdriver: bedrock response did not include a message output")
	}
	if len(msgOut.Value.Content) == 0 {
		return "", nil, errors.New("llmdriver: bedrock response message was empty")
	}

	var text strings.Builder
	var toolCalls []ToolCallDelta
	for _, block := range msgOut.Value.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberText:
			text.WriteString(b.Value)
		case *brtypes.ContentBlockMemberToolUse:
			argsJSON, err := bedrockDocumentToJSON(b.Value.Input)
			if err != nil {
				return "", nil, fmt.Errorf("llmdriver: tool use input decode: %w", err)
			}
			toolCalls = append(toolCalls, ToolCallDelta{
				ID:            aws.ToString(b.Value.ToolUseId),
				Name:          aws.ToString(b.Value.Name),
				ArgumentsJSON: argsJSON,
			})
		}
	}
	if text.Len() == 0 && len(toolCalls) == 0 {
		return "", nil, errors.New("llmdriver: bedrock response contained no text or tool-use content blocks")
	}
	return text.String(), toolCalls, nil
}

func bedrockDocumentToJSON(doc document.Interface) (string, error) {
	if doc == nil {
		return "{}", nil
	}
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return "", err
	}
	return marshalJSONCompact(v)
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
