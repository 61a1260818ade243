// Package cmd holds the cobra subcommands of the chatstream binary.
package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/renatogalera/chatstream/pkg/config"
)

// Setup returns the configuration loaded by the root command.
type Setup func(cmd *cobra.Command) (*config.Config, error)

var (
	functionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	diffHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("63")).
			Bold(true)
)

// streamStats counts what a stream delivered.
type streamStats struct {
	tokens  int
	bytes   int
	skipped int
	start   time.Time
}

func newStreamStats() *streamStats { return &streamStats{start: time.Now()} }

func (s *streamStats) add(token string) {
	s.tokens++
	s.bytes += len(token)
}

func (s *streamStats) String() string {
	line := fmt.Sprintf("%s tokens, %s in %s",
		humanize.Comma(int64(s.tokens)),
		humanize.Bytes(uint64(s.bytes)),
		time.Since(s.start).Round(time.Millisecond))
	if s.skipped > 0 {
		line += fmt.Sprintf(", %s malformed %s skipped",
			humanize.Comma(int64(s.skipped)), plural(s.skipped, "payload", "payloads"))
	}
	return line
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
