package openai

import (
	"fmt"

	"github.com/tidwall/sjson"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// Function describes a function the model may call.
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatRequest is a chat completion request. FunctionCall is "auto", "none"
// or the name of a function the model must call; empty omits the field.
type ChatRequest struct {
	Model        string
	Messages     []Message
	Functions    []Function
	FunctionCall string
	MaxTokens    int
	Temperature  float64
	Stream       bool
}

// Body returns the JSON request body.
func (r ChatRequest) Body() ([]byte, error) {
	body := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}

	set("model", r.Model)
	messages := r.Messages
	if messages == nil {
		messages = []Message{}
	}
	set("messages", messages)
	if len(r.Functions) > 0 {
		set("functions", r.Functions)
	}
	switch r.FunctionCall {
	case "":
	case "auto", "none":
		set("function_call", r.FunctionCall)
	default:
		set("function_call.name", r.FunctionCall)
	}
	if r.MaxTokens > 0 {
		set("max_tokens", r.MaxTokens)
	}
	set("temperature", r.Temperature)
	set("stream", r.Stream)

	if err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}
	return body, nil
}
