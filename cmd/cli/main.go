package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/sheets-wallet/internal/app"
	"github.com/dvloznov/sheets-wallet/internal/config"
	"github.com/dvloznov/sheets-wallet/internal/logger"
	"github.com/rs/zerolog"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app.App, args []string) error
}

var commands = []command{
	{"setup", "Configure the connection and app settings", runSetup},
	{"status", "Show setup and connection state", runStatus},
	{"test", "Test the backend connection", runTest},
	{"list", "List transactions", runList},
	{"add", "Add a transaction", runAdd},
	{"update", "Update a transaction by ID", runUpdate},
	{"delete", "Delete a transaction by ID", runDelete},
	{"summary", "Show the balance summary", runSummary},
	{"dashboard", "Show totals and recent transactions", runDashboard},
	{"analytics", "Show analytics for a period", runAnalytics},
	{"categories", "List categories", runCategories},
	{"add-category", "Add a category", runAddCategory},
	{"clear-cache", "Drop cached transactions and analytics", runClearCache},
	{"reset", "Wipe all local wallet data", runReset},
	{"dump", "Print every stored value as JSON", runDump},
	{"backup", "Upload a snapshot of local data to GCS", runBackup},
	{"restore", "Replace local data with a snapshot from GCS", runRestore},
	{"probe", "Inspect the spreadsheet through the Sheets API", runProbe},
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage()
		return
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	if err := run(cmd, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *command, args []string) error {
	// -config and -v may appear anywhere; everything else belongs to the
	// command's own flag set.
	configPath := os.Getenv("WALLET_CONFIG")
	verbose := false
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-config", "--config":
			if i+1 >= len(args) {
				return fmt.Errorf("-config requires a path")
			}
			configPath = args[i+1]
			i++
		case "-v", "--v":
			verbose = true
		default:
			rest = append(rest, args[i])
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// The CLI prints its own results; keep info logs out of the way.
	level := cfg.LogLevel
	switch {
	case verbose:
		level = "debug"
	case logger.ParseLevel(level) == zerolog.InfoLevel:
		level = "warn"
	}
	log := logger.NewWithFormat(os.Stderr, cfg.LogFormat, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return cmd.run(ctx, a, rest)
}

func printUsage() {
	fmt.Println("Sheets Wallet CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [-config PATH] [-v] [options]")
	fmt.Println("\nCommands:")
	for _, c := range commands {
		fmt.Printf("  %-13s %s\n", c.name, c.usage)
	}
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
