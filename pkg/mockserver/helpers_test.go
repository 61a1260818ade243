package mockserver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/renatogalera/chatstream/pkg/openai"
	"github.com/renatogalera/chatstream/pkg/plugin"
)

func chatRegistry(t *testing.T) *plugin.Registry {
	t.Helper()
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(openai.Function{
		Name:        "weather",
		Description: "Current weather",
		Parameters:  map[string]any{"type": "object"},
	}, "/weather"))
	return reg
}

func pluginExecutor(url string) *plugin.Executor {
	return plugin.NewExecutor(url, nil)
}
