// Command cadence runs the email automation engine. Each entry point is a
// subcommand so it can be driven by an external cron; "serve" runs them all
// on an internal schedule next to the HTTP endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/DukeRupert/cadence/internal"
	"github.com/getsentry/sentry-go"
)

const usage = `Usage: cadence <command> [flags]

Entry points:
  process-email-cycle [-force]       send due customer automation steps
  process-prospect-cycle [-force]    send due prospect cadence steps
  check-replies                      poll the reply mailbox and classify replies
  set-seasonal-dates [-year N]       write the seasonal holiday calendar
  expire-ai-drafts                   expire AI drafts past their review deadline

Operator actions:
  approve-draft -id <uuid> [-subject s] [-body b] [-by name]
  reject-draft -id <uuid> [-by name]
  requeue-execution -id <uuid>
  enroll -sequence <uuid> -contact <uuid>
  resume -enrollment <uuid>

Operations:
  migrate                            apply database migrations
  serve                              run the scheduler, worker and HTTP endpoints
`

// errUsage marks bad invocations; main exits 2 for them.
var errUsage = errors.New("usage")

func run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return errUsage
	}
	name, args := args[0], args[1:]
	if name == "help" || name == "-h" || name == "--help" {
		fmt.Fprint(os.Stdout, usage)
		return nil
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		return errUsage
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	exec := cmd(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel).With("command", name)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
			ServerName:  "cadence",
		}); err != nil {
			logger.Warn("Sentry initialization failed", "error", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := exec(ctx, a); err != nil {
		logger.Error("Command failed", "error", err)
		sentry.CaptureException(err)
		return err
	}
	return nil
}

func main() {
	err := run(context.Background(), os.Args[1:])
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		os.Exit(2)
	default:
		log.Fatal(err)
	}
}
