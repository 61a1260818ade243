package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/renatogalera/chatstream/pkg/mockserver"
)

// NewServeCmd creates the "serve" command.
func NewServeCmd() *cobra.Command {
	var (
		addr      string
		capture   string
		reply     string
		chunkSize int
		delay     time.Duration
		apiKey    string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a mock OpenAI-compatible upstream",
		Long: `Serves POST /v1/chat/completions as a text/event-stream response, one event
per flush. The stream is either a recorded capture (--capture) or a reply
synthesized from --reply. Point chat --base-url at http://<addr>/v1 to use it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []mockserver.Option{
				mockserver.WithReply(reply),
				mockserver.WithChunkSize(chunkSize),
				mockserver.WithDelay(delay),
				mockserver.WithAPIKey(apiKey),
			}
			if capture != "" {
				data, err := os.ReadFile(capture)
				if err != nil {
					return fmt.Errorf("failed to read capture: %w", err)
				}
				opts = append(opts, mockserver.WithCapture(data))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return mockserver.New(opts...).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().StringVar(&capture, "capture", "", "SSE capture file to serve verbatim")
	cmd.Flags().StringVar(&reply, "reply", "Hello! This is a streamed reply from the mock upstream.", "Text to synthesize when no capture is given")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 4, "Runes per synthesized delta")
	cmd.Flags().DurationVar(&delay, "delay", 50*time.Millisecond, "Pause between events")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Require this bearer key")
	return cmd
}
