package plugin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renatogalera/chatstream/pkg/openai"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(openai.Function{Name: "weather", Description: "Current weather"}, "/weather"))
	require.NoError(t, r.Register(openai.Function{Name: " calc "}, "/calc"))
	require.Error(t, r.Register(openai.Function{Name: ""}, "/x"))
	require.Error(t, r.Register(openai.Function{Name: "nowhere"}, " "))

	assert.True(t, r.Has("calc"))
	assert.False(t, r.Has("nowhere"))
	assert.Equal(t, []string{"calc", "weather"}, r.Names())

	ep, ok := r.Endpoint("weather")
	require.True(t, ok)
	assert.Equal(t, "/weather", ep)

	fns := r.Functions()
	require.Len(t, fns, 2)
	assert.Equal(t, "calc", fns[0].Name)
	assert.Equal(t, "Current weather", fns[1].Description)
}

func TestExecutor_Call(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		status    int
		response  string
		wantBody  string
		want      string
		wantError bool
	}{
		{name: "string result", args: `{"city":"Lisbon"}`, status: 200, response: `{"result":"sunny"}`, wantBody: `{"city":"Lisbon"}`, want: "sunny"},
		{name: "object result", args: `{}`, status: 200, response: `{"result":{"temp":21}}`, wantBody: `{}`, want: `{"temp":21}`},
		{name: "missing result", args: "", status: 200, response: `{"status":"done"}`, wantBody: `{}`, want: "ok"},
		{name: "null result", args: `{}`, status: 200, response: `{"result":null}`, wantBody: `{}`, want: "ok"},
		{name: "server error", args: `{}`, status: 500, response: `boom`, wantBody: `{}`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBody, gotPath, gotType string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				gotPath = r.URL.Path
				gotType = r.Header.Get("Content-Type")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.response)
			}))
			defer srv.Close()

			got, err := NewExecutor(srv.URL+"/", nil).Call(context.Background(), "tools/weather", tt.args)
			assert.Equal(t, "/tools/weather", gotPath)
			assert.Equal(t, "application/json", gotType)
			assert.Equal(t, tt.wantBody, gotBody)
			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "boom")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecutor_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewExecutor(url, nil).Call(context.Background(), "/x", "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to call plugin /x")
}
