package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/resumeflow/pkg/decode"
)

// Message roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// PartText is the only part type the agent reads.
const PartText = "text"

// Part is one content block of a message.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is a conversational envelope exchanged with message/send.
type Message struct {
	MessageID string    `json:"message_id,omitempty"`
	Role      string    `json:"role"`
	Author    string    `json:"author,omitempty"`
	Parts     []Part    `json:"parts"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// ValidateMessage ensures a message has at least one part and a known role.
func ValidateMessage(message *Message) error {
	if message == nil {
		return NewInvalidParamsError("message is required")
	}
	if message.Role != "" && message.Role != RoleUser && message.Role != RoleAgent {
		return NewInvalidParamsError("message role must be user or agent")
	}
	if len(message.Parts) == 0 {
		return NewInvalidParamsError("message must include at least one part")
	}
	return nil
}

// ExtractText returns the first non-empty text part.
func ExtractText(message *Message) string {
	if message == nil {
		return ""
	}
	for _, part := range message.Parts {
		if part.Type != "" && part.Type != PartText {
			continue
		}
		if strings.TrimSpace(part.Text) != "" {
			return part.Text
		}
	}
	return ""
}

// InputFromMessage decodes the first text part as skill input. A JSON object
// (bare or embedded in prose or fences) is used as is; anything else is
// passed under raw_text.
func InputFromMessage(message *Message) map[string]any {
	text := ExtractText(message)
	if text == "" {
		return nil
	}
	if obj, ok := decode.Text(text).Object(); ok {
		return obj
	}
	return map[string]any{"raw_text": text}
}

// ResponseMessage builds the agent reply for a skill result.
func ResponseMessage(author string, result map[string]any) Message {
	return Message{
		MessageID: uuid.NewString(),
		Role:      RoleAgent,
		Author:    author,
		Parts:     []Part{{Type: PartText, Text: resultText(result)}},
		Timestamp: time.Now().UTC(),
	}
}

func resultText(result map[string]any) string {
	if text, ok := result["optimized_resume"].(string); ok && text != "" {
		return text
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(data)
}
