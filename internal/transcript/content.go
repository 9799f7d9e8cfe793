package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ContentKind tags which variant a Content holds.
type ContentKind int

const (
	ContentEmpty ContentKind = iota
	ContentText
	ContentBlocks
)

// maxToolInputRunes bounds the serialized tool input kept in flattened text.
const maxToolInputRunes = 500

// Content is the message content of a record: either a plain string or an
// ordered list of typed blocks. The shape is resolved once during decoding.
type Content struct {
	Kind   ContentKind
	text   string
	blocks []Block
}

// TextContent builds a plain-text Content.
func TextContent(s string) Content {
	return Content{Kind: ContentText, text: s}
}

// BlockContent builds a block-list Content.
func BlockContent(blocks ...Block) Content {
	return Content{Kind: ContentBlocks, blocks: blocks}
}

// Block is one typed element of a block-list Content.
type Block struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Content   *Content        `json:"content,omitempty"`

	raw json.RawMessage
}

func (b *Block) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*b = Block{Type: "text", Text: s}
		return nil
	}

	type plain Block
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*b = Block(p)
	b.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = Content{}
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*c = TextContent(s)
	case '[':
		var blocks []Block
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return err
		}
		*c = BlockContent(blocks...)
	case '{':
		var b Block
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*c = BlockContent(b)
	default:
		return fmt.Errorf("unsupported content shape %q", trimmed[:1])
	}
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ContentText:
		return json.Marshal(c.text)
	case ContentBlocks:
		return json.Marshal(c.blocks)
	default:
		return []byte("null"), nil
	}
}

// Blocks returns the block list, or nil for text and empty content.
func (c Content) Blocks() []Block {
	return c.blocks
}

// Text flattens the content to a single string. Block text is joined in
// order with newlines; non-text blocks are rendered compactly.
func (c Content) Text() string {
	switch c.Kind {
	case ContentText:
		return c.text
	case ContentBlocks:
		parts := make([]string, 0, len(c.blocks))
		for _, b := range c.blocks {
			if s := b.flatten(); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// HasBlock reports whether any top-level block has the given type.
func (c Content) HasBlock(typ string) bool {
	for _, b := range c.blocks {
		if b.Type == typ {
			return true
		}
	}
	return false
}

func (b Block) flatten() string {
	switch b.Type {
	case "text":
		return b.Text
	case "thinking", "redacted_thinking":
		return ""
	case "tool_use":
		return formatToolUse(b.Name, b.Input)
	case "tool_result":
		if b.Content == nil {
			return ""
		}
		return b.Content.Text()
	case "image":
		return "[image]"
	default:
		return compactJSON(b.raw)
	}
}

func formatToolUse(name string, input json.RawMessage) string {
	if name == "" {
		return ""
	}
	s := compactJSON(input)
	if s == "" || s == "{}" || s == "null" {
		return name + "()"
	}
	return name + ": " + truncateRunes(s, maxToolInputRunes)
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
