// Command allocctl runs the engine's maintenance operations on demand.
//
//	allocctl [-config file] [-db path] [-date YYYY-MM-DD] <command> [args]
//
// Commands:
//
//	expire-bookings          expire approved bookings whose end date has passed
//	expire-invoices          flag invoices past their payment window
//	bulk-invoices <kind>     bill the current month for every approved booking of a kind
//	relay-outbox             publish pending events
//	token <user-id> <role>   mint a bearer token for the API
//
// Every command maps to one engine operation and is safe to re-run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/warp/allocation-engine/api"
	"github.com/warp/allocation-engine/app"
	"github.com/warp/allocation-engine/config"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logging"
)

var errUsage = errors.New("usage: allocctl [-config file] [-db path] [-date YYYY-MM-DD] <expire-bookings|expire-invoices|bulk-invoices <kind>|relay-outbox|token <user-id> <role>>")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("allocctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	dbPath := fs.String("db", "", `SQLite database path, or "memory"`)
	date := fs.String("date", "", "run as of this date instead of today")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "token" {
		return mintToken(cfg, rest)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	today := a.Engine.Runtime.Today()
	if *date != "" {
		if today, err = generic.ParseDate(*date); err != nil {
			return err
		}
	}

	var n int
	switch cmd {
	case "expire-bookings":
		n, err = a.Engine.Bookings.ExpireSweep(ctx, generic.SystemActor, today)
	case "expire-invoices":
		n, err = a.Engine.Invoices.ExpireUnpaidSweep(ctx, generic.SystemActor, today)
	case "bulk-invoices":
		if len(rest) != 1 {
			return errUsage
		}
		n, err = a.Engine.Invoices.BulkGenerate(ctx, generic.SystemActor, rest[0], today)
	case "relay-outbox":
		// no date
	default:
		return errUsage
	}
	if err != nil {
		return err
	}

	// Publish what the command committed.
	delivered, ferr := a.Relay.Flush(ctx)
	if ferr != nil {
		logger.Warn("outbox flush failed", zap.Error(ferr))
	}
	if cmd == "relay-outbox" {
		n = delivered
	}

	fmt.Printf("%s %s: %d\n", cmd, today, n)
	return nil
}

func mintToken(cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	role := generic.Role(args[1])
	switch role {
	case generic.RoleAdmin, generic.RoleStudent:
	default:
		return fmt.Errorf("role must be admin or student")
	}
	token, err := api.SignToken([]byte(cfg.Auth.JWTSecret), generic.UserID(id), role, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
