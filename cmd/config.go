package cmd

import (
	"fmt"

	"github.com/memorypilot/watchagent/internal/config"
	agentlog "github.com/memorypilot/watchagent/internal/log"
)

// resolveConfig builds the startup config. Inline JSON from --config wins,
// then a positional JSON argument, then --config-file; with none of them the
// defaults apply. Bad fields never fail startup, an unreadable file does.
func resolveConfig(inline, file string, args []string) (*config.Config, error) {
	if inline == "" && len(args) > 0 {
		inline = args[0]
	}

	var (
		cfg      *config.Config
		problems []error
	)
	switch {
	case inline != "":
		cfg, problems = config.ParseReport(inline)
	case file != "":
		var err error
		cfg, problems, err = config.LoadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	default:
		cfg = config.Default()
	}

	for _, p := range problems {
		agentlog.Warn("config field fell back to default", "error", p)
	}
	return cfg, nil
}
