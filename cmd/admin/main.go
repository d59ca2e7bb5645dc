package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kevin07696/settlement-service/internal/adapters/bank"
	"github.com/kevin07696/settlement-service/internal/adapters/export"
	"github.com/kevin07696/settlement-service/internal/adapters/notification"
	adapterports "github.com/kevin07696/settlement-service/internal/adapters/ports"
	"github.com/kevin07696/settlement-service/internal/adapters/postgres"
	"github.com/kevin07696/settlement-service/internal/adapters/secrets"
	"github.com/kevin07696/settlement-service/internal/auth"
	"github.com/kevin07696/settlement-service/internal/config"
	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/domain/ports"
	serviceports "github.com/kevin07696/settlement-service/internal/services/ports"
	"github.com/kevin07696/settlement-service/internal/services/settlement"
	httpclient "github.com/kevin07696/settlement-service/pkg/http"
	"github.com/kevin07696/settlement-service/pkg/logging"
	"github.com/kevin07696/settlement-service/pkg/resilience"
)

// AdminCLI runs operator actions against the settlement store
type AdminCLI struct {
	ctx    context.Context
	cfg    *config.Config
	logger *zap.Logger
	repo   ports.SettlementRepository
	ledger *settlement.Ledger
}

type options struct {
	restaurant string
	name       string
	order      string
	subtotal   string
	fee        string
	week       string
	status     string
	catchUp    bool
	subject    string
	ttl        time.Duration
	secretName string
	value      string
	format     string
	out        string
	asJSON     bool
}

func main() {
	var (
		dbURL  = flag.String("db", "", "Database URL (default: built from DB_* environment variables)")
		action = flag.String("action", "", "Action to perform: list, get, accumulate, process-week, export, issue-token, put-secret")
		opts   options
	)
	flag.StringVar(&opts.restaurant, "restaurant", "", "Restaurant ID")
	flag.StringVar(&opts.name, "name", "", "Restaurant name (accumulate)")
	flag.StringVar(&opts.order, "order", "", "Order ID (accumulate)")
	flag.StringVar(&opts.subtotal, "subtotal", "", "Order subtotal, e.g. 100.00 (accumulate)")
	flag.StringVar(&opts.fee, "fee", "", "Platform fee, e.g. 15.00 (accumulate)")
	flag.StringVar(&opts.week, "week", "", "Week ending date YYYY-MM-DD")
	flag.StringVar(&opts.status, "status", "", "Filter by status: PENDING, PROCESSING, PAID, FAILED (list, export)")
	flag.BoolVar(&opts.catchUp, "catch-up", false, "Also pay PENDING entries of earlier weeks (process-week)")
	flag.StringVar(&opts.subject, "subject", "", "Token subject, usually an operator email (issue-token)")
	flag.DurationVar(&opts.ttl, "ttl", 12*time.Hour, "Token lifetime (issue-token)")
	flag.StringVar(&opts.secretName, "secret", "", "Secret name, e.g. bank-api-key (put-secret)")
	flag.StringVar(&opts.value, "value", "", "Secret value (put-secret)")
	flag.StringVar(&opts.format, "format", "xlsx", "Statement format: xlsx or pdf (export)")
	flag.StringVar(&opts.out, "out", "", "Output file (export; default: generated name)")
	flag.BoolVar(&opts.asJSON, "json", false, "Print JSON instead of a table")
	flag.Parse()

	if *action == "" {
		fmt.Println("Usage: admin -action=<action> [options]")
		fmt.Println("Actions:")
		fmt.Println("  list          - List settlements (-restaurant, -week, -status)")
		fmt.Println("  get           - Show one settlement (-restaurant, -week)")
		fmt.Println("  accumulate    - Add an order (-restaurant, -name, -order, -subtotal, -fee, -week)")
		fmt.Println("  process-week  - Pay out a week (-week, -catch-up)")
		fmt.Println("  export        - Write a statement file (-format, -out, filters as list)")
		fmt.Println("  issue-token   - Issue an admin JWT (-subject, -ttl)")
		fmt.Println("  put-secret    - Store a secret in the configured backend (-secret, -value)")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}
	logger, err := logging.NewLogger(cfg.Logger.Environment, "warn")
	if err != nil {
		log.Fatal("Failed to build logger: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := &AdminCLI{ctx: ctx, cfg: cfg, logger: logger}

	switch *action {
	case "issue-token":
		cli.issueToken(opts)
		return
	case "put-secret":
		cli.putSecret(opts)
		return
	}

	pool := cli.connect(*dbURL)
	defer pool.Close()

	switch *action {
	case "list":
		cli.list(opts)
	case "get":
		cli.get(opts)
	case "accumulate":
		cli.accumulate(opts)
	case "process-week":
		cli.processWeek(opts)
	case "export":
		cli.export(opts)
	default:
		fmt.Printf("Unknown action: %s\n", *action)
		os.Exit(1)
	}
}

func (cli *AdminCLI) connect(dbURL string) *pgxpool.Pool {
	if dbURL == "" {
		if !cli.cfg.Database.UsesDatabase() {
			log.Fatal("Set -db or DB_HOST to reach the settlement database")
		}
		dbURL = cli.cfg.Database.URL()
	}

	pool, err := pgxpool.New(cli.ctx, dbURL)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	if err := pool.Ping(cli.ctx); err != nil {
		pool.Close()
		log.Fatal("Failed to reach database: ", err)
	}

	cli.repo = postgres.NewSettlementRepository(postgres.NewDBExecutor(pool))
	cli.ledger = settlement.NewLedger(cli.repo, logging.NewZapLogger(cli.logger), settlement.LedgerConfig{
		Backoff:     resilience.StoreBackoff(),
		Currency:    cli.cfg.Settlement.Currency,
		MaxAttempts: cli.cfg.Settlement.MaxAccumulateTries,
	})
	return pool
}

func (cli *AdminCLI) filter(opts options) serviceports.ListFilter {
	filter := serviceports.ListFilter{RestaurantID: opts.restaurant}
	if opts.week != "" {
		week := mustWeek(opts.week)
		filter.WeekEnding = &week
	}
	if opts.status != "" {
		status := domain.SettlementStatus(opts.status)
		filter.Status = &status
	}
	return filter
}

func (cli *AdminCLI) list(opts options) {
	entries, err := cli.ledger.ListEntries(cli.ctx, cli.filter(opts))
	if err != nil {
		log.Fatal("Failed to list settlements: ", err)
	}
	if opts.asJSON {
		printJSON(entries)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WEEK ENDING\tRESTAURANT\tORDERS\tSUBTOTAL\tFEE\tDUE\tSTATUS\tTRANSACTION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			domain.FormatWeekEnding(e.WeekEnding), e.RestaurantID, e.TotalOrders,
			domain.FormatAmount(e.OrderSubtotal), domain.FormatAmount(e.PlatformFee), domain.FormatAmount(e.AmountDue),
			e.Status, e.TransactionID)
	}
	_ = w.Flush()
	fmt.Printf("\n%d settlement(s)\n", len(entries))
}

func (cli *AdminCLI) get(opts options) {
	if opts.restaurant == "" || opts.week == "" {
		log.Fatal("get requires -restaurant and -week")
	}
	entry, err := cli.ledger.GetEntry(cli.ctx, opts.restaurant, mustWeek(opts.week))
	if err != nil {
		log.Fatal("Failed to load settlement: ", err)
	}
	printJSON(entry)
}

func (cli *AdminCLI) accumulate(opts options) {
	subtotal, err := decimal.NewFromString(opts.subtotal)
	if err != nil {
		log.Fatal("Invalid -subtotal: ", err)
	}
	fee, err := decimal.NewFromString(opts.fee)
	if err != nil {
		log.Fatal("Invalid -fee: ", err)
	}

	week := domain.WeekEndingFor(time.Now(), mustWeekday(cli.cfg.Settlement.WeekEnd), cli.cfg.Settlement.Location())
	if opts.week != "" {
		week = mustWeek(opts.week)
	}

	entry, err := cli.ledger.AccumulateOrder(cli.ctx, serviceports.AccumulateOrderRequest{
		RestaurantID:   opts.restaurant,
		RestaurantName: opts.name,
		OrderID:        opts.order,
		Subtotal:       subtotal,
		PlatformFee:    fee,
		WeekEnding:     week,
	})
	if err != nil {
		log.Fatal("Failed to accumulate order: ", err)
	}
	fmt.Printf("✓ %s week %s: %d order(s), amount due %s %s\n",
		entry.RestaurantID, domain.FormatWeekEnding(entry.WeekEnding), entry.TotalOrders,
		domain.FormatAmount(entry.AmountDue), cli.cfg.Settlement.Currency)
}

func (cli *AdminCLI) processWeek(opts options) {
	if err := cli.cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}
	resolver := secrets.NewResolver(cli.secretManager(), cli.cfg.Secrets.PathPrefix, cli.logger)
	if err := resolver.Resolve(cli.ctx, secrets.Ref{Target: &cli.cfg.Bank.APIKey, Name: "bank-api-key", Required: !cli.cfg.Bank.Simulated}); err != nil {
		log.Fatal("Failed to resolve bank credentials: ", err)
	}

	var gateway ports.BankTransferGateway
	if cli.cfg.Bank.Simulated {
		gateway = bank.NewSimulatedGateway(cli.logger, 0)
	} else {
		timeout := time.Duration(cli.cfg.Bank.Timeout) * time.Second
		bankCfg := bank.DefaultHTTPTransferConfig(cli.cfg.Bank.BaseURL, cli.cfg.Bank.APIKey)
		bankCfg.Timeout = timeout
		bankCfg.MaxRetries = cli.cfg.Bank.MaxRetries
		gateway = bank.NewHTTPTransferAdapter(bankCfg, httpclient.NewHTTPClient(httpclient.BankClientConfig(), timeout), cli.logger)
	}

	var notifier ports.Notifier = notification.NoopNotifier{}
	if cli.cfg.Notification.URL != "" {
		timeout := time.Duration(cli.cfg.Notification.Timeout) * time.Second
		notifier = notification.NewHTTPNotifier(cli.cfg.Notification.URL,
			httpclient.NewHTTPClient(httpclient.NotificationClientConfig(), timeout), cli.logger)
	}

	processorCfg := settlement.DefaultProcessorConfig(cli.cfg.Settlement.Currency, cli.cfg.Settlement.Location())
	processorCfg.WeekEnd = mustWeekday(cli.cfg.Settlement.WeekEnd)
	processorCfg.Workers = cli.cfg.Settlement.Workers
	processorCfg.StatusWriteAttempts = cli.cfg.Settlement.StatusWriteAttempts
	processorCfg.ClaimTTL = time.Duration(cli.cfg.Settlement.ClaimTTLMinutes) * time.Minute
	processorCfg.Timeouts.BankTransfer = time.Duration(cli.cfg.Bank.Timeout) * time.Second
	processor := settlement.NewProcessor(cli.repo, gateway, notifier, logging.NewZapLogger(cli.logger), processorCfg)

	req := serviceports.ProcessWeekRequest{CatchUp: opts.catchUp, Trigger: "cli"}
	if opts.week != "" {
		week := mustWeek(opts.week)
		req.WeekEnding = &week
	}

	result, err := processor.ProcessWeek(cli.ctx, req)
	if err != nil {
		log.Fatal("Settlement run failed: ", err)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := processor.WaitForNotifications(waitCtx); err != nil {
		fmt.Println("Warning: some notifications may not have been delivered")
	}

	if opts.asJSON {
		printJSON(result)
		return
	}
	fmt.Printf("Week ending %s: processed %d, paid %d, failed %d, deferred %d, skipped %d\n",
		domain.FormatWeekEnding(result.WeekEnding), result.Processed, result.Successful,
		result.Failed, result.Deferred, result.Skipped)
	for _, e := range result.Errors {
		fmt.Printf("  ✗ %s (%s) %s: %s\n", e.RestaurantID, e.WeekEnding, e.Outcome, e.Error)
	}
}

func (cli *AdminCLI) export(opts options) {
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		log.Fatal(err)
	}
	entries, err := cli.ledger.ListEntries(cli.ctx, cli.filter(opts))
	if err != nil {
		log.Fatal("Failed to list settlements: ", err)
	}

	statement := &export.Statement{
		GeneratedAt: time.Now(),
		Title:       "Settlement statement",
		Currency:    cli.cfg.Settlement.Currency,
		Entries:     entries,
	}
	data, err := statement.Render(format)
	if err != nil {
		log.Fatal("Failed to render statement: ", err)
	}

	out := opts.out
	if out == "" {
		out = statement.FileName(format)
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		log.Fatal("Failed to write statement: ", err)
	}
	fmt.Printf("✓ Wrote %d settlement(s) to %s\n", len(entries), out)
}

func (cli *AdminCLI) issueToken(opts options) {
	if opts.subject == "" {
		log.Fatal("issue-token requires -subject")
	}
	secret := cli.cfg.Auth.JWTSecret
	resolver := secrets.NewResolver(cli.secretManager(), cli.cfg.Secrets.PathPrefix, cli.logger)
	if err := resolver.Resolve(cli.ctx, secrets.Ref{Target: &secret, Name: "jwt-secret", Required: true}); err != nil {
		log.Fatal("Failed to resolve JWT secret: ", err)
	}

	tokens, err := auth.NewTokenManager(secret, "settlement-service")
	if err != nil {
		log.Fatal(err)
	}
	token, err := tokens.GenerateToken(opts.subject, auth.RoleAdmin, opts.ttl)
	if err != nil {
		log.Fatal("Failed to sign token: ", err)
	}
	fmt.Println(token)
}

func (cli *AdminCLI) putSecret(opts options) {
	if opts.secretName == "" || opts.value == "" {
		log.Fatal("put-secret requires -secret and -value")
	}
	resolver := secrets.NewResolver(nil, cli.cfg.Secrets.PathPrefix, cli.logger)
	path := resolver.Path(opts.secretName)

	version, err := cli.secretManager().PutSecret(cli.ctx, path, opts.value, map[string]string{
		"managed-by": "settlement-admin",
	})
	if err != nil {
		log.Fatal("Failed to store secret: ", err)
	}
	fmt.Printf("✓ Stored %s (version %s) in the %s backend\n", path, version, cli.cfg.Secrets.Backend)
}

func (cli *AdminCLI) secretManager() adapterports.SecretManagerAdapter {
	switch cli.cfg.Secrets.Backend {
	case "local":
		return secrets.NewLocalSecretManager(cli.cfg.Secrets.LocalDir, cli.logger)
	case "vault":
		vaultCfg := secrets.DefaultVaultConfig(cli.cfg.Secrets.VaultAddress)
		vaultCfg.Token = cli.cfg.Secrets.VaultToken
		if cli.cfg.Secrets.VaultRoleID != "" {
			vaultCfg.AuthMethod = "approle"
			vaultCfg.RoleID = cli.cfg.Secrets.VaultRoleID
			vaultCfg.SecretID = cli.cfg.Secrets.VaultSecret
		}
		if cli.cfg.Secrets.VaultMount != "" {
			vaultCfg.MountPath = cli.cfg.Secrets.VaultMount
		}
		sm, err := secrets.NewVaultAdapter(cli.ctx, vaultCfg, cli.logger)
		if err != nil {
			log.Fatal("Failed to connect to Vault: ", err)
		}
		return sm
	case "aws":
		awsCfg := secrets.DefaultAWSSecretsManagerConfig(cli.cfg.Secrets.AWSRegion)
		awsCfg.Endpoint = cli.cfg.Secrets.AWSEndpoint
		sm, err := secrets.NewAWSSecretsManagerAdapter(cli.ctx, awsCfg, cli.logger)
		if err != nil {
			log.Fatal("Failed to initialize AWS Secrets Manager: ", err)
		}
		return sm
	default:
		return secrets.NewEnvSecretManager(cli.logger)
	}
}

func mustWeek(value string) time.Time {
	week, err := domain.ParseWeekEnding(value)
	if err != nil {
		log.Fatal(err)
	}
	return week
}

func mustWeekday(value string) time.Weekday {
	day, err := settlement.ParseWeekday(value)
	if err != nil {
		log.Fatal(err)
	}
	return day
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal(err)
	}
}
