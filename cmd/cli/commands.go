package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dvloznov/sheets-wallet/internal/app"
	"github.com/dvloznov/sheets-wallet/internal/backup"
	"github.com/dvloznov/sheets-wallet/internal/domain"
	"github.com/dvloznov/sheets-wallet/internal/gsheets"
	"github.com/dvloznov/sheets-wallet/internal/sheets"
	"github.com/dvloznov/sheets-wallet/internal/wallet"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
)

func runSetup(ctx context.Context, a *app.App, args []string) error {
	current := a.Initial.AppConfig
	conn := a.Initial.Connection

	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	endpoint := fs.String("url", conn.EndpointURL, "Apps Script web app URL")
	spreadsheetID := fs.String("spreadsheet-id", conn.SpreadsheetID, "Spreadsheet ID")
	appName := fs.String("name", current.AppName, "App name")
	currency := fs.String("currency", current.Currency, "Currency code")
	locale := fs.String("locale", "", "Locale (defaults to the first one offered for the currency)")
	fs.Parse(args)

	if *locale == "" {
		*locale = a.Wallet.AvailableLocales(*currency)[0]
	}

	cfg := domain.AppConfig{AppName: *appName, Currency: strings.ToUpper(*currency), Locale: *locale}
	err := a.Wallet.CompleteSetup(ctx, cfg, domain.ConnectionConfig{
		EndpointURL:   *endpoint,
		SpreadsheetID: *spreadsheetID,
	})
	if errors.Is(err, wallet.ErrInvalidConfig) {
		fmt.Fprintf(os.Stderr, "Locales for %s: %s\n", cfg.Currency, strings.Join(a.Wallet.AvailableLocales(cfg.Currency), ", "))
	}
	if err != nil {
		return err
	}

	fmt.Printf("Setup complete: %s (%s, %s) on spreadsheet %s\n", cfg.AppName, cfg.Currency, cfg.Locale, *spreadsheetID)
	return nil
}

func runStatus(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)

	conn, connected := a.Wallet.Connection()
	synced, err := a.Store.GetLastSyncTime(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Setup complete: %t\n", a.Initial.SetupComplete)
	fmt.Printf("Endpoint:       %s\n", valueOr(conn.EndpointURL, "(not set)"))
	fmt.Printf("Spreadsheet:    %s\n", valueOr(conn.SpreadsheetID, "(not set)"))
	fmt.Printf("Connected:      %t\n", connected)
	fmt.Printf("App:            %s (%s, %s)\n", a.Initial.AppConfig.AppName, a.Initial.AppConfig.Currency, a.Initial.AppConfig.Locale)
	if synced != nil {
		fmt.Printf("Last sync:      %s (stale: %t)\n", synced.Local().Format("2006-01-02 15:04:05"), a.Store.IsDataStale(ctx))
	} else {
		fmt.Println("Last sync:      never")
	}
	fmt.Printf("Database:       %s\n", a.KV.Path())
	return nil
}

func runTest(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	endpoint := fs.String("url", "", "Test and save this URL instead of the stored one")
	spreadsheetID := fs.String("spreadsheet-id", "", "Spreadsheet ID to save with -url")
	fs.Parse(args)

	var (
		ok  bool
		err error
	)
	if *endpoint != "" {
		ok, err = a.Wallet.Connect(ctx, domain.ConnectionConfig{EndpointURL: *endpoint, SpreadsheetID: *spreadsheetID})
	} else {
		ok, err = a.Wallet.TestConnection(ctx)
	}
	if err != nil {
		return err
	}
	if !ok {
		return wallet.ErrConnectionFailed
	}
	fmt.Println("Connection OK")
	return nil
}

func runList(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	force := fs.Bool("force", false, "Bypass the cache")
	limit := fs.Int("limit", 0, "Show only the N most recent transactions")
	typ := fs.String("type", "", "Filter by type (income|expense)")
	category := fs.String("category", "", "Filter by category")
	from := fs.String("from", "", "Filter from date (YYYY-MM-DD)")
	to := fs.String("to", "", "Filter to date (YYYY-MM-DD)")
	asJSON := fs.Bool("json", false, "Print JSON")
	fs.Parse(args)

	var (
		txs   []domain.Transaction
		fresh *wallet.Freshness
	)
	if *typ != "" || *category != "" || *from != "" || *to != "" {
		f := sheets.Filter{Category: *category}
		var err error
		if *typ != "" {
			if f.Type, err = domain.ParseTransactionType(*typ); err != nil {
				return err
			}
		}
		if f.From, err = domain.ParseDate(*from); err != nil {
			return err
		}
		if f.To, err = domain.ParseDate(*to); err != nil {
			return err
		}
		if txs, err = a.Wallet.Filter(ctx, f); err != nil {
			return err
		}
	} else {
		res, err := a.Wallet.Transactions(ctx, *force)
		if err != nil {
			return err
		}
		txs, fresh = res.Transactions, &res.Freshness
	}

	limitN := -1
	if *limit > 0 {
		limitN = *limit
	}
	txs = domain.Latest(txs, limitN)

	if *asJSON {
		return printJSON(txs)
	}
	printTransactions(txs)
	if fresh != nil {
		printFreshness(*fresh)
	}
	return nil
}

func runAdd(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	tx, bind := transactionFlags(fs)
	fs.Parse(args)

	if err := bind(); err != nil {
		return err
	}
	written, err := a.Wallet.AddTransaction(ctx, *tx)
	if err != nil {
		return err
	}
	fmt.Printf("Added transaction %s\n", written.ID)
	return nil
}

func runUpdate(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	id := fs.String("id", "", "Transaction ID")
	tx, bind := transactionFlags(fs)
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	if err := bind(); err != nil {
		return err
	}
	if err := a.Wallet.UpdateTransaction(ctx, *id, *tx); err != nil {
		return err
	}
	fmt.Printf("Updated transaction %s\n", *id)
	return nil
}

func runDelete(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("id", "", "Transaction ID")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	if err := a.Wallet.DeleteTransaction(ctx, *id); err != nil {
		return err
	}
	fmt.Printf("Deleted transaction %s\n", *id)
	return nil
}

// transactionFlags registers the draft fields on fs. bind must be called
// after fs.Parse to convert them into the returned transaction.
func transactionFlags(fs *flag.FlagSet) (*domain.Transaction, func() error) {
	date := fs.String("date", "", "Date (YYYY-MM-DD or DD-MM-YYYY, defaults to today)")
	desc := fs.String("desc", "", "Description")
	amount := fs.String("amount", "", "Amount")
	typ := fs.String("type", "expense", "Type (income|expense)")
	category := fs.String("category", "", "Category")
	remarks := fs.String("remarks", "", "Remarks")

	tx := &domain.Transaction{}
	return tx, func() error {
		var err error
		if tx.Date, err = domain.ParseDate(*date); err != nil {
			return err
		}
		if *amount == "" {
			return fmt.Errorf("-amount is required")
		}
		if tx.Amount, err = decimal.NewFromString(*amount); err != nil {
			return fmt.Errorf("invalid amount %q: %w", *amount, err)
		}
		if tx.Type, err = domain.ParseTransactionType(*typ); err != nil {
			return err
		}
		tx.Description = *desc
		tx.Category = *category
		tx.Remarks = *remarks
		return nil
	}
}

func runSummary(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	force := fs.Bool("force", false, "Bypass the cache")
	asJSON := fs.Bool("json", false, "Print JSON")
	fs.Parse(args)

	res, err := a.Wallet.Summary(ctx, *force)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(res)
	}
	printSummary(a, res.Summary)
	printFreshness(res.Freshness)
	return nil
}

func runDashboard(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("dashboard", flag.ExitOnError)
	force := fs.Bool("force", false, "Bypass the cache")
	fs.Parse(args)

	d, err := a.Wallet.Dashboard(ctx, *force)
	if err != nil {
		return err
	}
	printSummary(a, d.Summary)
	fmt.Println("\nRecent transactions:")
	printTransactions(d.Recent)
	if d.Stale {
		fmt.Printf("\n(showing cached data: %v)\n", d.SyncErr)
	}
	return nil
}

func runAnalytics(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("analytics", flag.ExitOnError)
	periodFlag := fs.String("period", string(domain.DefaultPeriod), "Period (weekly|monthly|yearly)")
	force := fs.Bool("force", false, "Bypass the cache")
	asJSON := fs.Bool("json", false, "Print JSON")
	fs.Parse(args)

	period, err := domain.ParsePeriod(*periodFlag)
	if err != nil {
		return err
	}
	res, err := a.Wallet.Analytics(ctx, period, *force)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(res)
	}

	fmt.Printf("=== Analytics (%s) ===\n", res.Snapshot.Period)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tSHARE")
	for _, c := range res.Snapshot.Analytics.Categories {
		fmt.Fprintf(w, "%s\t%d%%\n", c.Name, c.Percent)
	}
	w.Flush()

	trends := res.Snapshot.Analytics.MonthlyTrends
	if len(trends.Labels) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		header := []string{"SERIES"}
		header = append(header, trends.Labels...)
		fmt.Fprintln(w, strings.Join(header, "\t"))
		for i, series := range trends.Datasets {
			name := fmt.Sprintf("#%d", i+1)
			if i < len(trends.Legend) {
				name = trends.Legend[i]
			}
			row := []string{name}
			for _, v := range series.Data {
				row = append(row, strconv.FormatFloat(v, 'f', 2, 64))
			}
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		w.Flush()
	}
	printFreshness(res.Freshness)
	return nil
}

func runCategories(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("categories", flag.ExitOnError)
	fs.Parse(args)

	cats, err := a.Wallet.Categories(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE")
	for _, c := range cats {
		fmt.Fprintf(w, "%s\t%s\n", c.Name, c.Type)
	}
	return w.Flush()
}

func runAddCategory(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("add-category", flag.ExitOnError)
	name := fs.String("name", "", "Category name")
	typ := fs.String("type", "expense", "Type (income|expense)")
	fs.Parse(args)

	t, err := domain.ParseTransactionType(*typ)
	if err != nil {
		return err
	}
	if err := a.Wallet.AddCategory(ctx, domain.Category{Name: *name, Type: t}); err != nil {
		return err
	}
	fmt.Printf("Added category %s (%s)\n", strings.TrimSpace(*name), t)
	return nil
}

func runClearCache(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("clear-cache", flag.ExitOnError)
	fs.Parse(args)

	if err := a.Wallet.ClearCache(ctx); err != nil {
		return err
	}
	fmt.Println("Cache cleared.")
	return nil
}

func runReset(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Confirm wiping all local data")
	fs.Parse(args)

	if !*yes {
		return fmt.Errorf("this removes the connection, settings and cached data; re-run with -yes")
	}
	if err := a.Wallet.Reset(ctx); err != nil {
		return err
	}
	fmt.Println("Local data wiped.")
	return nil
}

func runDump(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	fs.Parse(args)

	data, err := a.Wallet.Export(ctx)
	if err != nil {
		return err
	}
	return printJSON(data)
}

func runBackup(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	uri := fs.String("uri", a.Config.Backup.URI, "gs://bucket/prefix or gs://bucket/object.json")
	fs.Parse(args)

	if *uri == "" {
		return fmt.Errorf("-uri is required (or set backup.uri / WALLET_BACKUP_URI)")
	}

	mgr, closeFn, err := backupManager(ctx, a)
	if err != nil {
		return err
	}
	defer closeFn()

	loc, err := mgr.Backup(ctx, *uri)
	if err != nil {
		return err
	}
	fmt.Printf("Backup written to %s\n", loc)
	return nil
}

func runRestore(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	uri := fs.String("uri", "", "gs://bucket/object.json")
	fs.Parse(args)

	if *uri == "" {
		return fmt.Errorf("-uri is required")
	}

	mgr, closeFn, err := backupManager(ctx, a)
	if err != nil {
		return err
	}
	defer closeFn()

	snap, err := mgr.Restore(ctx, *uri)
	if err != nil {
		return err
	}
	fmt.Printf("Restored %d keys from a snapshot taken %s\n", len(snap.Data), snap.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

func backupManager(ctx context.Context, a *app.App) (*backup.Manager, func(), error) {
	gcs, err := backup.NewGCSStorage(ctx, googleOptions(a)...)
	if err != nil {
		return nil, nil, err
	}
	return backup.NewManager(a.Wallet, gcs, nil), func() { gcs.Close() }, nil
}

func runProbe(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	spreadsheetID := fs.String("spreadsheet-id", a.Initial.Connection.SpreadsheetID, "Spreadsheet ID")
	asJSON := fs.Bool("json", false, "Print JSON")
	fs.Parse(args)

	prober, err := gsheets.NewProber(ctx, googleOptions(a)...)
	if err != nil {
		return err
	}
	report, err := prober.Probe(ctx, *spreadsheetID)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(report)
	}

	fmt.Printf("Spreadsheet:  %s (%s)\n", report.Title, report.SpreadsheetID)
	fmt.Printf("Tabs:         %s\n", strings.Join(report.Tabs, ", "))
	fmt.Printf("Transactions: %d rows\n", report.TransactionRows)
	if report.OK() {
		fmt.Println("Layout OK")
		return nil
	}
	for _, p := range report.Problems {
		fmt.Printf("  - %s\n", p)
	}
	return fmt.Errorf("spreadsheet layout has %d problem(s)", len(report.Problems))
}

func googleOptions(a *app.App) []option.ClientOption {
	if f := a.Config.Google.CredentialsFile; f != "" {
		return []option.ClientOption{option.WithCredentialsFile(f)}
	}
	return nil
}

func printTransactions(txs []domain.Transaction) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tDESCRIPTION\tAMOUNT\tTYPE\tCATEGORY\tID")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.Date, tx.Description, tx.Amount.StringFixed(2), tx.Type, tx.Category, tx.ID)
	}
	w.Flush()
	fmt.Printf("\n%d transaction(s)\n", len(txs))
}

func printSummary(a *app.App, s domain.BalanceSummary) {
	cur := a.Initial.AppConfig.Currency
	fmt.Println("=== Balance ===")
	fmt.Printf("Balance:   %s %s\n", s.TotalBalance.StringFixed(2), cur)
	fmt.Printf("Income:    %s %s\n", s.TotalIncome.StringFixed(2), cur)
	fmt.Printf("Expenses:  %s %s\n", s.TotalExpenses.StringFixed(2), cur)
	fmt.Printf("Count:     %d\n", s.TransactionCount)
}

func printFreshness(f wallet.Freshness) {
	switch {
	case f.Stale:
		fmt.Printf("\n(cached %s; refresh failed: %v)\n", f.SyncedAt.Local().Format("2006-01-02 15:04"), f.SyncErr)
	case f.FromCache:
		fmt.Printf("\n(cached %s)\n", f.SyncedAt.Local().Format("2006-01-02 15:04"))
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
