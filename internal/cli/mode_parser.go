package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeRelay     = "relay-service"
	ModeDriverSim = "driver-sim"
	ModeLogTail   = "log-tail"
)

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeRelay, "relay", "r":
		return ModeRelay, true
	case ModeDriverSim, "sim", "s":
		return ModeDriverSim, true
	case ModeLogTail, "tail", "t":
		return ModeLogTail, true
	default:
		return "", false
	}
}

// ParseMode extracts the service mode from args and returns the remaining
// arguments for that mode's own flag set.
func ParseMode(args []string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, errors.New("missing mode argument")
	}

	mode, ok := isKnownMode(strings.TrimSpace(args[0]))
	if !ok {
		return "", nil, fmt.Errorf("unknown mode %q", args[0])
	}
	return mode, args[1:], nil
}

// PrintUsage writes the global usage text.
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: courier-relay <mode> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Modes:")
	fmt.Fprintf(w, "  %-16s run the relay websocket service\n", ModeRelay)
	fmt.Fprintf(w, "  %-16s run a simulated driver client against the relay\n", ModeDriverSim)
	fmt.Fprintf(w, "  %-16s tail the durable-log queues\n", ModeLogTail)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'courier-relay <mode> --help' for mode-specific flags.")
}

// AttachUsage sets a mode-specific usage function on fs.
func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: courier-relay %s [flags]\n\nFlags:\n", mode)
		fs.PrintDefaults()
	}
}
