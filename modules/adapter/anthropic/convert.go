package anthropic

import (
	"encoding/json"
	"log/slog"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/agenticklabs/agentick/internal/adapter"
	"github.com/agenticklabs/agentick/pkg/message"
)

// convertInput transforms a normalized adapter input into Anthropic SDK
// parameters. The pre-extracted system prompt goes into the dedicated
// System field.
func convertInput(in adapter.Input, cfg *Config, logger *slog.Logger) sdkanthropic.MessageNewParams {
	model := cfg.Model
	if in.Options.Model != "" {
		model = in.Options.Model
	}

	params := sdkanthropic.MessageNewParams{
		Model:    sdkanthropic.Model(model),
		Messages: convertMessages(in.Messages, logger),
	}
	if in.System != "" {
		params.System = []sdkanthropic.TextBlockParam{{Text: in.System}}
	}

	params.MaxTokens = int64(cfg.MaxTokens)
	if in.Options.MaxTokens > 0 {
		params.MaxTokens = int64(in.Options.MaxTokens)
	}
	if in.Options.Temperature != nil {
		params.Temperature = sdkanthropic.Float(*in.Options.Temperature)
	}
	if in.Options.TopP != nil {
		params.TopP = sdkanthropic.Float(*in.Options.TopP)
	}
	if len(in.Options.Stop) > 0 {
		params.StopSequences = in.Options.Stop
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
	}

	return params
}

// convertMessages maps timeline messages onto Anthropic message params.
// Consecutive tool messages are grouped into a single user message: the
// API wants all tool results for a turn together.
func convertMessages(msgs []message.Message, logger *slog.Logger) []sdkanthropic.MessageParam {
	var result []sdkanthropic.MessageParam

	for i := 0; i < len(msgs); {
		msg := msgs[i]

		switch msg.Role {
		case message.RoleTool:
			var blocks []sdkanthropic.ContentBlockParamUnion
			for i < len(msgs) && msgs[i].Role == message.RoleTool {
				for _, b := range msgs[i].Content {
					if b.Type != message.BlockToolResult {
						continue
					}
					blocks = append(blocks, sdkanthropic.NewToolResultBlock(
						b.ToolUseID,
						blocksText(b.Content),
						b.IsError,
					))
				}
				i++
			}
			result = append(result, sdkanthropic.MessageParam{
				Role:    sdkanthropic.MessageParamRoleUser,
				Content: blocks,
			})

		case message.RoleAssistant:
			result = append(result, convertAssistantMessage(msg))
			i++

		case message.RoleUser:
			result = append(result, sdkanthropic.MessageParam{
				Role:    sdkanthropic.MessageParamRoleUser,
				Content: convertUserBlocks(msg.Content, logger),
			})
			i++

		case message.RoleSystem:
			// System content belongs in the System parameter. Anything
			// left inline cannot be represented and is dropped.
			if logger != nil {
				logger.Warn("dropping inline system message", "index", i)
			}
			i++

		default:
			i++
		}
	}

	return result
}

// convertUserBlocks maps user content blocks, keeping text and base64
// images. Media the API cannot ingest inline is dropped with a warning.
func convertUserBlocks(blocks []message.ContentBlock, logger *slog.Logger) []sdkanthropic.ContentBlockParamUnion {
	var out []sdkanthropic.ContentBlockParamUnion
	for _, b := range blocks {
		switch b.Type {
		case message.BlockText:
			out = append(out, sdkanthropic.NewTextBlock(b.Text))
		case message.BlockImage:
			if b.Source != nil && b.Source.Type == message.SourceBase64 {
				out = append(out, sdkanthropic.NewImageBlockBase64(b.Source.MediaType, b.Source.Data))
				continue
			}
			if logger != nil {
				logger.Warn("dropping non-base64 image block")
			}
		case message.BlockCode:
			out = append(out, sdkanthropic.NewTextBlock(b.Text))
		default:
			if logger != nil {
				logger.Warn("dropping unsupported user block", "block_type", string(b.Type))
			}
		}
	}
	if len(out) == 0 {
		out = append(out, sdkanthropic.NewTextBlock(""))
	}
	return out
}

// convertAssistantMessage maps an assistant message, including its tool
// invocations, onto mixed content blocks. Reasoning blocks are not
// replayed to the API.
func convertAssistantMessage(msg message.Message) sdkanthropic.MessageParam {
	var blocks []sdkanthropic.ContentBlockParamUnion

	for _, b := range msg.Content {
		switch b.Type {
		case message.BlockText:
			if b.Text != "" {
				blocks = append(blocks, sdkanthropic.NewTextBlock(b.Text))
			}
		case message.BlockToolUse:
			// json.RawMessage marshals as-is, no double encoding.
			input := any(b.Input)
			if len(b.Input) == 0 {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, sdkanthropic.NewToolUseBlock(b.ToolUseID, input, b.Name))
		}
	}

	return sdkanthropic.NewAssistantMessage(blocks...)
}

// convertTools maps tool definitions onto Anthropic SDK tool params.
func convertTools(tools []message.ToolDefinition) []sdkanthropic.ToolUnionParam {
	result := make([]sdkanthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		tool := &sdkanthropic.ToolParam{
			Name: t.Name,
		}
		if t.Description != "" {
			tool.Description = sdkanthropic.String(t.Description)
		}
		if len(t.Input) > 0 {
			tool.InputSchema = convertInputSchema(t.Input)
		}
		result[i] = sdkanthropic.ToolUnionParam{OfTool: tool}
	}
	return result
}

// convertInputSchema converts a raw JSON Schema into the SDK's
// ToolInputSchemaParam. Schema fields beyond "properties" and "required"
// ($defs, oneOf, enum, additionalProperties) survive via ExtraFields.
func convertInputSchema(raw json.RawMessage) sdkanthropic.ToolInputSchemaParam {
	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return sdkanthropic.ToolInputSchemaParam{}
	}

	param := sdkanthropic.ToolInputSchemaParam{}

	if props, ok := full["properties"]; ok {
		param.Properties = props
		delete(full, "properties")
	}
	if req, ok := full["required"]; ok {
		if arr, ok := req.([]any); ok {
			strs := make([]string, 0, len(arr))
			for _, v := range arr {
				if s, ok := v.(string); ok {
					strs = append(strs, s)
				}
			}
			param.Required = strs
		}
		delete(full, "required")
	}
	// "type" is auto-set to "object" by the SDK.
	delete(full, "type")

	if len(full) > 0 {
		param.ExtraFields = full
	}

	return param
}

// convertOutput transforms an Anthropic SDK message into the canonical
// adapter output.
func convertOutput(msg *sdkanthropic.Message) adapter.Output {
	var blocks []message.ContentBlock

	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case sdkanthropic.TextBlock:
			blocks = append(blocks, message.NewTextBlock(v.Text))
		case sdkanthropic.ThinkingBlock:
			blocks = append(blocks, message.NewReasoningBlock(v.Thinking, false))
		case sdkanthropic.RedactedThinkingBlock:
			blocks = append(blocks, message.NewReasoningBlock("", true))
		case sdkanthropic.ToolUseBlock:
			blocks = append(blocks, message.NewToolUseBlock(v.ID, v.Name, append(json.RawMessage(nil), v.Input...)))
		}
	}

	usage := message.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}

	return adapter.Output{
		Message:    message.Message{Role: message.RoleAssistant, Content: blocks},
		Usage:      usage,
		StopReason: convertStopReason(msg.StopReason),
		Model:      string(msg.Model),
	}
}

// convertStopReason maps an Anthropic stop reason to a canonical one.
func convertStopReason(reason sdkanthropic.StopReason) message.StopReason {
	switch reason {
	case sdkanthropic.StopReasonEndTurn, sdkanthropic.StopReasonStopSequence:
		return message.StopEnd
	case sdkanthropic.StopReasonMaxTokens:
		return message.StopMaxTokens
	case sdkanthropic.StopReasonToolUse:
		return message.StopToolUse
	case sdkanthropic.StopReasonRefusal:
		return message.StopContentFilter
	default:
		return message.StopEnd
	}
}

// blocksText concatenates the text of nested result blocks.
func blocksText(blocks []message.ContentBlock) string {
	var out string
	for _, b := range blocks {
		if b.Type != message.BlockText || b.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}
