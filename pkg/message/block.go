package message

import "encoding/json"

// ContentBlock is a flat union representing one piece of content inside a
// message. The Type field discriminates which fields are meaningful.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// Text carries the payload for text, reasoning, and code blocks.
	Text string `json:"text,omitempty"`

	// Redacted marks a reasoning block whose content must not be revealed.
	Redacted bool `json:"redacted,omitempty"`

	// Language qualifies a code block.
	Language string `json:"language,omitempty"`

	// Data carries the payload of a json block.
	Data json.RawMessage `json:"data,omitempty"`

	// Source locates the bytes of image, document, audio, and video blocks.
	Source *Source `json:"source,omitempty"`

	// ToolUseID correlates tool_use and tool_result blocks.
	ToolUseID string `json:"tool_use_id,omitempty"`

	// Name is the tool name on tool_use and tool_result blocks.
	Name string `json:"name,omitempty"`

	// Input is the tool invocation argument JSON on tool_use blocks.
	Input json.RawMessage `json:"input,omitempty"`

	// Content holds the nested result blocks of a tool_result.
	Content []ContentBlock `json:"content,omitempty"`

	// IsError marks a failed tool_result.
	IsError bool `json:"is_error,omitempty"`
}

// ContentBlockType aliases BlockType for readability at call sites.
type ContentBlockType = BlockType

// NewTextBlock creates a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewReasoningBlock creates a reasoning content block.
func NewReasoningBlock(text string, redacted bool) ContentBlock {
	return ContentBlock{Type: BlockReasoning, Text: text, Redacted: redacted}
}

// NewImageBlock creates an image content block.
func NewImageBlock(src Source) ContentBlock {
	return ContentBlock{Type: BlockImage, Source: &src}
}

// NewDocumentBlock creates a document content block.
func NewDocumentBlock(src Source) ContentBlock {
	return ContentBlock{Type: BlockDocument, Source: &src}
}

// NewCodeBlock creates a code content block.
func NewCodeBlock(language, text string) ContentBlock {
	return ContentBlock{Type: BlockCode, Language: language, Text: text}
}

// NewJSONBlock creates a json content block carrying opaque data.
func NewJSONBlock(data json.RawMessage) ContentBlock {
	cp := make(json.RawMessage, len(data))
	copy(cp, data)
	return ContentBlock{Type: BlockJSON, Data: cp}
}

// NewToolUseBlock creates a tool_use content block.
func NewToolUseBlock(toolUseID, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUseID: toolUseID, Name: name, Input: input}
}

// NewToolResultBlock creates a tool_result content block.
func NewToolResultBlock(toolUseID, name string, content []ContentBlock, isError bool) ContentBlock {
	return ContentBlock{
		Type:      BlockToolResult,
		ToolUseID: toolUseID,
		Name:      name,
		Content:   content,
		IsError:   isError,
	}
}

// textContent concatenates the text of all text blocks, separated by newlines.
func textContent(blocks []ContentBlock) string {
	var result string
	for _, b := range blocks {
		if b.Type == BlockText && b.Text != "" {
			if result != "" {
				result += "\n"
			}
			result += b.Text
		}
	}
	return result
}
