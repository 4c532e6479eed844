package openai

import (
	"encoding/json"

	sdkopenai "github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/agenticklabs/agentick/internal/adapter"
	"github.com/agenticklabs/agentick/pkg/message"
)

// convertInput transforms a normalized adapter input into Chat
// Completions parameters. The pre-extracted system prompt becomes the
// leading system message.
func convertInput(in adapter.Input, cfg *Config) sdkopenai.ChatCompletionNewParams {
	model := cfg.Model
	if in.Options.Model != "" {
		model = in.Options.Model
	}

	maxTokens := cfg.MaxTokens
	if in.Options.MaxTokens > 0 {
		maxTokens = in.Options.MaxTokens
	}

	params := sdkopenai.ChatCompletionNewParams{
		Model:               shared.ChatModel(model),
		MaxCompletionTokens: sdkopenai.Int(int64(maxTokens)),
		Messages:            convertMessages(in.System, in.Messages),
	}

	if in.Options.Temperature != nil {
		params.Temperature = sdkopenai.Float(*in.Options.Temperature)
	}
	if in.Options.TopP != nil {
		params.TopP = sdkopenai.Float(*in.Options.TopP)
	}
	if len(in.Options.Stop) > 0 {
		params.Stop = sdkopenai.ChatCompletionNewParamsStopUnion{
			OfStringArray: in.Options.Stop,
		}
	}
	if len(in.Tools) > 0 {
		params.Tools = convertTools(in.Tools)
	}

	return params
}

// convertMessages maps timeline messages onto Chat Completions message
// unions. Tool results become one tool message per result block,
// correlated by tool call id.
func convertMessages(system string, msgs []message.Message) []sdkopenai.ChatCompletionMessageParamUnion {
	var result []sdkopenai.ChatCompletionMessageParamUnion

	if system != "" {
		result = append(result, sdkopenai.SystemMessage(system))
	}

	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleSystem:
			if text := msg.TextContent(); text != "" {
				result = append(result, sdkopenai.SystemMessage(text))
			}

		case message.RoleAssistant:
			result = append(result, convertAssistantMessage(msg))

		case message.RoleTool:
			for _, b := range msg.Content {
				if b.Type != message.BlockToolResult {
					continue
				}
				result = append(result, sdkopenai.ToolMessage(blocksText(b.Content), b.ToolUseID))
			}

		case message.RoleUser:
			text := msg.TextContent()
			if text == "" {
				text = "."
			}
			result = append(result, sdkopenai.UserMessage(text))
		}
	}

	if len(result) == 0 {
		result = append(result, sdkopenai.UserMessage("."))
	}

	return result
}

// convertAssistantMessage maps an assistant message and its tool
// invocations. The API rejects empty assistant content, so a placeholder
// dot stands in when only tool calls are present.
func convertAssistantMessage(msg message.Message) sdkopenai.ChatCompletionMessageParamUnion {
	param := sdkopenai.ChatCompletionAssistantMessageParam{}

	text := msg.TextContent()
	if text == "" {
		text = "."
	}
	param.Content = sdkopenai.ChatCompletionAssistantMessageParamContentUnion{
		OfString: sdkopenai.String(text),
	}

	var toolCalls []sdkopenai.ChatCompletionMessageToolCallParam
	for _, b := range msg.ToolUses() {
		args := string(b.Input)
		if args == "" {
			args = "{}"
		}
		toolCalls = append(toolCalls, sdkopenai.ChatCompletionMessageToolCallParam{
			ID: b.ToolUseID,
			Function: sdkopenai.ChatCompletionMessageToolCallFunctionParam{
				Name:      b.Name,
				Arguments: args,
			},
		})
	}
	if len(toolCalls) > 0 {
		param.ToolCalls = toolCalls
	}

	return sdkopenai.ChatCompletionMessageParamUnion{OfAssistant: &param}
}

// convertTools maps tool definitions onto Chat Completions function
// tools. The raw JSON Schema passes through as function parameters.
func convertTools(tools []message.ToolDefinition) []sdkopenai.ChatCompletionToolParam {
	result := make([]sdkopenai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		tool := sdkopenai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:       t.Name,
				Parameters: convertParameters(t.Input),
			},
		}
		if t.Description != "" {
			tool.Function.Description = sdkopenai.String(t.Description)
		}
		result = append(result, tool)
	}
	return result
}

func convertParameters(raw json.RawMessage) shared.FunctionParameters {
	var params map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &params) != nil || len(params) == 0 {
		return shared.FunctionParameters{"type": "object"}
	}
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	return shared.FunctionParameters(params)
}

// convertOutput transforms a Chat Completion into the canonical adapter
// output.
func convertOutput(completion *sdkopenai.ChatCompletion, fallbackModel string) adapter.Output {
	out := adapter.Output{
		Message: message.Message{Role: message.RoleAssistant},
		Model:   fallbackModel,
	}
	if completion == nil {
		return out
	}
	if completion.Model != "" {
		out.Model = completion.Model
	}
	out.Usage = message.Usage{
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:  int(completion.Usage.TotalTokens),
	}
	if len(completion.Choices) == 0 {
		return out
	}

	choice := completion.Choices[0]
	if choice.Message.Content != "" {
		out.Message.Content = append(out.Message.Content, message.NewTextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		out.Message.Content = append(out.Message.Content,
			message.NewToolUseBlock(tc.ID, tc.Function.Name, json.RawMessage(args)))
	}
	out.StopReason = convertFinishReason(string(choice.FinishReason), len(choice.Message.ToolCalls) > 0)
	return out
}

// convertFinishReason maps a Chat Completions finish reason to a
// canonical stop reason.
func convertFinishReason(reason string, hasToolCalls bool) message.StopReason {
	switch reason {
	case "stop":
		if hasToolCalls {
			return message.StopToolUse
		}
		return message.StopEnd
	case "length":
		return message.StopMaxTokens
	case "tool_calls", "function_call":
		return message.StopToolUse
	case "content_filter":
		return message.StopContentFilter
	case "":
		if hasToolCalls {
			return message.StopToolUse
		}
		return message.StopEnd
	default:
		return message.StopOther
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
