package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/renatogalera/chatstream/pkg/delta"
	"github.com/renatogalera/chatstream/pkg/httpx"
	"github.com/renatogalera/chatstream/pkg/stream"
)

// NewReplayCmd creates the "replay" command.
func NewReplayCmd() *cobra.Command {
	var (
		golden      string
		maxLineSize int
		quiet       bool
	)
	cmd := &cobra.Command{
		Use:   "replay [capture]",
		Short: "Decode a recorded SSE capture and print the assembled text",
		Long: `Runs a recorded chat completion event stream (a file, or stdin when no
file is given) through the frame decoder, delta parser and stream assembler,
and prints the resulting text. With --golden the text is compared against an
expected file and the command fails with a diff when they differ.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open capture: %w", err)
				}
				defer f.Close()
				in = f
			}
			text, stats, err := replay(cmd.Context(), in, maxLineSize)
			if err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintln(cmd.ErrOrStderr(), statsStyle.Render(stats.String()))
			}
			if golden == "" {
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			}
			want, err := os.ReadFile(golden)
			if err != nil {
				return fmt.Errorf("failed to read golden file: %w", err)
			}
			return compareGolden(cmd.OutOrStdout(), string(want), text)
		},
	}
	cmd.Flags().StringVar(&golden, "golden", "", "Compare the decoded text against this file")
	cmd.Flags().IntVar(&maxLineSize, "max-line-size", httpx.DefaultMaxLineSize, "Maximum SSE line length in bytes")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print stats")
	return cmd
}

// replay decodes an SSE capture the same way a live response is decoded.
func replay(ctx context.Context, r io.Reader, maxLineSize int) (string, *streamStats, error) {
	stats := newStreamStats()
	parser := delta.New(delta.WithHooks(&delta.Hooks{
		OnMalformed: func(payload string, err error) {
			stats.skipped++
			log.Debug().Err(err).Str("payload", payload).Msg("Skipped malformed payload")
		},
	}))
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/event-stream"}},
		Body:       io.NopCloser(r),
	}
	st := stream.New(ctx, resp, parser, &stream.Callbacks{
		OnToken: func(_ context.Context, token string) error {
			stats.add(token)
			return nil
		},
	}, stream.WithFrameOptions(httpx.WithMaxLineSize(maxLineSize)))

	text, err := st.Text()
	if err != nil {
		return text, stats, fmt.Errorf("failed to decode capture: %w", err)
	}
	return text, stats, nil
}

// compareGolden prints a character diff and fails when got differs from want.
// A single trailing newline in the golden file is ignored.
func compareGolden(w io.Writer, want, got string) error {
	if len(want) > 0 && want[len(want)-1] == '\n' && (len(got) == 0 || got[len(got)-1] != '\n') {
		want = want[:len(want)-1]
	}
	if want == got {
		fmt.Fprintln(w, "golden match")
		return nil
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(want, got, false))
	fmt.Fprintln(w, diffHeaderStyle.Render("--- golden\n+++ decoded"))
	fmt.Fprintln(w, dmp.DiffPrettyText(diffs))
	return fmt.Errorf("decoded text differs from golden file (%d edits)", countEdits(diffs))
}

func countEdits(diffs []diffmatchpatch.Diff) int {
	n := 0
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			n++
		}
	}
	return n
}
