package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeTracker = "tracker-service"
	ModeToken   = "token"
)

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeTracker, "tracker", "t":
		return ModeTracker, true
	case ModeToken, "key", "k":
		return ModeToken, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `tracker-service --config=./config/config.yaml`
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for i := range args {
		arg := args[i]
		if after, ok := strings.CutPrefix(arg, "--mode="); ok {
			mode = after
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, errors.New("no mode specified: use --mode=<service>")
	}

	m, ok := isKnownMode(mode)
	if !ok {
		return "", out, fmt.Errorf("unknown mode %q", mode)
	}
	return m, out, nil
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // cyan

	fmt.Fprintln(w, `Usage:
  ./fleet-tracker --mode=<service> [flags]

Modes:
  tracker-service      Reconciles vehicle positions and serves them to map viewers
  token                Mints a development JWT for viewers, publishers or admins

Examples:
  ./fleet-tracker --mode=tracker-service --config=./config/config.yaml --max-concurrent=100
  ./fleet-tracker --mode=tracker-service --prefetch=64
  ./fleet-tracker --mode=token --subject=map-1 --role=VIEWER --secret='<secret>'`)

	fmt.Fprint(w, "\033[0m") // reset
}

// AttachUsage wires a concise per-mode usage to a FlagSet.
func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./fleet-tracker --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
