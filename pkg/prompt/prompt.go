package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/renatogalera/chatstream/pkg/template"
)

// DefaultSystemPrompt is used if no system prompt is configured.
const DefaultSystemPrompt = `You are a helpful assistant running as {MODEL}. Answer as concisely as possible.
When a function is available that can answer the request, call it instead of guessing.
Current date: {DATE}.`

// BuildSystemPrompt fills the system prompt template. An empty template
// falls back to DefaultSystemPrompt.
func BuildSystemPrompt(promptTemplate, model string, now time.Time) string {
	if strings.TrimSpace(promptTemplate) == "" {
		promptTemplate = DefaultSystemPrompt
	}
	return template.ApplyTemplate(promptTemplate, map[string]string{
		"MODEL": model,
		"DATE":  now.Format("2006-01-02"),
	})
}

// FunctionApology is the assistant message appended when the model calls a
// function that is not registered.
func FunctionApology(name string) string {
	return fmt.Sprintf("I'm sorry, I used the incorrect function name '%s'. Let me try again:\n", name)
}

// FunctionResult is the content of the function message carrying a plugin
// result back to the model.
func FunctionResult(result string) string {
	if result == "" {
		result = "ok"
	}
	return "result: " + result
}
