package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	driversim "courier-relay/cmd/driver_sim"
	logtail "courier-relay/cmd/log_tail"
	relayservice "courier-relay/cmd/relay_service"
	"courier-relay/internal/cli"
)

func main() {
	mode, rest, err := cli.ParseMode(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mode {
	case cli.ModeRelay:
		err = relayservice.Run(ctx, rest)
	case cli.ModeDriverSim:
		err = driversim.Run(ctx, rest)
	case cli.ModeLogTail:
		err = logtail.Run(ctx, rest)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
