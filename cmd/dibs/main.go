package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/k0kubun/pp/v3"
	_ "github.com/lib/pq"
	"golang.org/x/term"
	"gopkg.in/yaml.v2"

	"github.com/bearcove/dibs"
	"github.com/bearcove/dibs/migrate"
	"github.com/bearcove/dibs/schema"
	"github.com/bearcove/dibs/schemadef"
	"github.com/bearcove/dibs/solve"
	"github.com/bearcove/dibs/util"
)

// version and revision are set via -ldflags
var version = "dev"
var revision = "HEAD"

// runnerConfig holds the settings that --config/--config-inline YAML
// documents may supply, mirroring the teacher's target_tables/
// skip_tables/algorithm/lock config object narrowed to what this
// runner actually needs: per-statement and per-migration timeouts.
type runnerConfig struct {
	StatementTimeoutMS   int `yaml:"statement_timeout_ms"`
	MigrationTimeoutSecs int `yaml:"migration_timeout_seconds"`
}

func mergeRunnerConfigs(configs []runnerConfig) runnerConfig {
	var merged runnerConfig
	for _, c := range configs {
		if c.StatementTimeoutMS != 0 {
			merged.StatementTimeoutMS = c.StatementTimeoutMS
		}
		if c.MigrationTimeoutSecs != 0 {
			merged.MigrationTimeoutSecs = c.MigrationTimeoutSecs
		}
	}
	return merged
}

func parseRunnerConfig(path string) runnerConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read config %q: %s", path, err)
	}
	var c runnerConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		log.Fatalf("Failed to parse config %q: %s", path, err)
	}
	return c
}

func parseRunnerConfigString(body string) runnerConfig {
	var c runnerConfig
	if err := yaml.Unmarshal([]byte(body), &c); err != nil {
		log.Fatalf("Failed to parse inline config: %s", err)
	}
	return c
}

type connConfig struct {
	User         string
	Password     string
	Host         string
	Port         uint
	DbName       string
	SslMode      string
	TargetSchema string
}

type runOptions struct {
	DryRun  bool
	Export  bool
	Migrate bool
	Debug   bool
	Runner  runnerConfig
}

func parseOptions(args []string) (connConfig, runOptions) {
	var configs []runnerConfig

	var opts struct {
		User         string `short:"u" long:"user" description:"Postgres user name" value-name:"user_name" default:"postgres"`
		Password     string `short:"p" long:"password" description:"Postgres user password, overridden by $PGPASSWORD" value-name:"password"`
		Host         string `short:"h" long:"host" description:"Host to connect to the Postgres server" value-name:"host_name" default:"127.0.0.1"`
		Port         uint   `short:"P" long:"port" description:"Port used for the connection" value-name:"port_num" default:"5432"`
		Schema       string `long:"schema" description:"Target schema to reconcile" value-name:"schema_name" default:"public"`
		SslMode      string `long:"ssl-mode" description:"SSL connection mode (disable, require, verify-ca, verify-full)" value-name:"ssl_mode" default:"disable"`
		Prompt       bool   `long:"password-prompt" description:"Force Postgres user password prompt"`
		DryRun       bool   `long:"dry-run" description:"Don't run DDLs but just show them"`
		Export       bool   `long:"export" description:"Dump the live schema as CREATE TABLE statements, instead of reconciling"`
		Migrate      bool   `long:"migrate" description:"Apply pending registered migrations instead of reconciling the declared schema"`
		Debug        bool   `long:"debug" description:"Dump each solved step via pp as the plan is computed"`
		Help         bool   `long:"help" description:"Show this help"`
		Version      bool   `long:"version" description:"Show this version"`

		// Custom handlers for config flags to preserve order.
		Config       func(string) `long:"config" description:"YAML file to specify: statement_timeout_ms, migration_timeout_seconds (can be specified multiple times)"`
		ConfigInline func(string) `long:"config-inline" description:"YAML object to specify: statement_timeout_ms, migration_timeout_seconds (can be specified multiple times)"`
	}

	opts.Config = func(path string) {
		configs = append(configs, parseRunnerConfig(path))
	}
	opts.ConfigInline = func(body string) {
		configs = append(configs, parseRunnerConfigString(body))
	}

	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[OPTIONS] database_name"
	args, err := parser.ParseArgs(args)
	if err != nil {
		log.Fatal(err)
	}

	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}

	if opts.Version {
		fmt.Printf("%s (%s)\n", version, revision)
		os.Exit(0)
	}

	if len(args) == 0 {
		fmt.Print("No database is specified!\n\n")
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	} else if len(args) > 1 {
		fmt.Printf("Multiple databases are given: %v\n\n", args)
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	}

	password, ok := os.LookupEnv("PGPASSWORD")
	if !ok {
		password = opts.Password
	}

	if opts.Prompt {
		fmt.Print("Enter Password: ")
		pass, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println()
		password = string(pass)
	}

	cfg := connConfig{
		User:         opts.User,
		Password:     password,
		Host:         opts.Host,
		Port:         opts.Port,
		DbName:       args[0],
		SslMode:      opts.SslMode,
		TargetSchema: opts.Schema,
	}

	return cfg, runOptions{
		DryRun:  opts.DryRun,
		Export:  opts.Export,
		Migrate: opts.Migrate,
		Debug:   opts.Debug,
		Runner:  mergeRunnerConfigs(configs),
	}
}

// buildDSN mirrors the teacher's postgresBuildDSN: a libpq URL built
// from explicit connection fields plus PGSSLROOTCERT/PGSSLCERT/
// PGSSLKEY environment overrides that database.Config has no field for.
func buildDSN(cfg connConfig) string {
	var options []string
	options = append(options, fmt.Sprintf("sslmode=%s", cfg.SslMode))

	if sslrootcert, ok := os.LookupEnv("PGSSLROOTCERT"); ok {
		options = append(options, fmt.Sprintf("sslrootcert=%s", sslrootcert))
	}
	if sslcert, ok := os.LookupEnv("PGSSLCERT"); ok {
		options = append(options, fmt.Sprintf("sslcert=%s", sslcert))
	}
	if sslkey, ok := os.LookupEnv("PGSSLKEY"); ok {
		options = append(options, fmt.Sprintf("sslkey=%s", sslkey))
	}

	host := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return fmt.Sprintf("postgres://%s:%s@%s/%s?%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password), host, cfg.DbName, strings.Join(options, "&"))
}

func main() {
	util.InitSlog()

	cfg, runOpts := parseOptions(os.Args[1:])

	db, err := sql.Open("postgres", buildDSN(cfg))
	if err != nil {
		log.Fatalf("Failed to open connection: %s", err)
	}
	defer db.Close()

	ctx := context.Background()

	if runOpts.Migrate {
		runMigrate(ctx, db, runOpts)
		return
	}

	if runOpts.Export {
		runExport(ctx, db, cfg.TargetSchema)
		return
	}

	runReconcile(ctx, db, cfg.TargetSchema, runOpts)
}

func runMigrate(ctx context.Context, db *sql.DB, runOpts runOptions) {
	opts := &migrate.Options{
		StatementTimeout: time.Duration(runOpts.Runner.StatementTimeoutMS) * time.Millisecond,
		MigrationTimeout: time.Duration(runOpts.Runner.MigrationTimeoutSecs) * time.Second,
	}
	applied, err := dibs.ApplyPendingMigrations(ctx, db, opts)
	if err != nil {
		log.Fatalf("Error on ApplyPendingMigrations: %s", err)
	}
	if len(applied) == 0 {
		fmt.Println("No pending migrations.")
		return
	}
	for _, v := range applied {
		fmt.Println(v)
	}
}

func runExport(ctx context.Context, db *sql.DB, targetSchema string) {
	live, err := dibs.Introspect(ctx, db, targetSchema)
	if err != nil {
		log.Fatalf("Error on Introspect: %s", err)
	}

	plan := &solve.Plan{}
	for _, name := range live.TableNames() {
		plan.Changes = append(plan.Changes, &solve.CreateTable{Table: live.Table(name)})
	}

	stmts, err := dibs.Render(plan)
	if err != nil {
		log.Fatalf("Error on Render: %s", err)
	}
	for _, stmt := range stmts {
		fmt.Println(stmt)
	}
}

func runReconcile(ctx context.Context, db *sql.DB, targetSchema string, runOpts runOptions) {
	declared := dibs.CollectDeclared(schemadef.Declare)

	var solveOpts *solve.Options
	if runOpts.Debug {
		solveOpts = &solve.Options{
			Trace: func(step int, virt *schema.Schema, applied solve.Change) {
				pp.Printf("step %d: %s\n", step, applied.Describe())
				pp.Println(virt)
			},
		}
	}

	plan, stmts, err := dibs.Reconcile(ctx, db, targetSchema, declared, solveOpts)
	if err != nil {
		log.Fatalf("Error on Reconcile: %s", err)
	}

	for _, w := range plan.Warnings {
		slog.Warn("non-blocking warning", "change", w.Change.Describe(), "message", w.Message)
	}

	if len(stmts) == 0 {
		fmt.Println("-- Nothing to do")
		return
	}

	for _, stmt := range stmts {
		fmt.Println(stmt)
	}

	if runOpts.DryRun {
		return
	}

	if err := dibs.ApplyPlan(ctx, db, plan); err != nil {
		log.Fatalf("Error on ApplyPlan: %s", err)
	}
}

