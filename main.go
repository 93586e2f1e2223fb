package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	trackerservice "fleet-tracker/cmd/tracker_service"
	"fleet-tracker/internal/cli"
)

func main() {
	// quick path for global help
	if len(os.Args) == 2 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		cli.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	// parse mode and collect the remaining args for that mode
	mode, svcArgs, err := cli.ParseMode(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// context cancelled on SIGINT/SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// run the service specified by the mode flag
	switch mode {

	case cli.ModeTracker:
		fs := flag.NewFlagSet(cli.ModeTracker, flag.ContinueOnError)
		configPath := fs.String("config", "./config/config.yaml", "Path to the YAML config file")
		prefetch := fs.Int("prefetch", 0, "RabbitMQ prefetch count (0 keeps the config value)")
		maxConc := fs.Int("max-concurrent", 100, "Maximum number of concurrent HTTP requests to process")
		cli.AttachUsage(fs, cli.ModeTracker)

		if err := fs.Parse(svcArgs); err != nil {
			if err == flag.ErrHelp {
				os.Exit(0)
			}
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(2)
		}
		if *prefetch < 0 {
			fmt.Fprintln(os.Stderr, "Error: --prefetch must be >= 0")
			fs.Usage()
			os.Exit(2)
		}
		if *maxConc < 1 {
			fmt.Fprintln(os.Stderr, "Error: --max-concurrent must be >= 1")
			fs.Usage()
			os.Exit(2)
		}
		opts := trackerservice.Options{ConfigPath: *configPath, Prefetch: *prefetch, MaxConcurrent: *maxConc}
		if err := trackerservice.Run(ctx, opts); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeToken:
		fs := flag.NewFlagSet(cli.ModeToken, flag.ContinueOnError)
		subject := fs.String("subject", "", "Token subject (viewer, feed or admin name)")
		role := fs.String("role", "VIEWER", "Role: VIEWER | PUBLISHER | ADMIN")
		secret := fs.String("secret", os.Getenv("FLEET_JWT_SECRET"), "JWT HMAC secret (defaults to $FLEET_JWT_SECRET)")
		ttl := fs.Duration("ttl", 2*time.Hour, "Token lifetime")
		cli.AttachUsage(fs, cli.ModeToken)

		if err := fs.Parse(svcArgs); err != nil {
			if err == flag.ErrHelp {
				os.Exit(0)
			}
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(2)
		}
		if *subject == "" || *secret == "" {
			fmt.Fprintln(os.Stderr, "Error: --subject and --secret are required")
			fs.Usage()
			os.Exit(2)
		}
		token, claims, err := cli.GenerateToken(*secret, *subject, *role, *ttl)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		cli.PrintToken(token, claims)

	default:
		// should not happen because ParseMode validates known modes
		fmt.Fprintln(os.Stderr, "Error: unknown mode")
		os.Exit(2)
	}

	// tiny delay to let deferred logs flush on very fast exits
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Millisecond):
	}
}
