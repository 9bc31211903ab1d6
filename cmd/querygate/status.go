package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/allaspects/querygate/internal/config"
	"github.com/allaspects/querygate/internal/fallback"
	"github.com/allaspects/querygate/internal/ledger"
	"github.com/allaspects/querygate/internal/orchestrator"
	"github.com/allaspects/querygate/internal/store"
)

// statusReport is the JSON shape printed by the status command. It is
// assembled from the data directory, not from a running process.
type statusReport struct {
	DataDir        string  `json:"data_dir"`
	ConfigFile     string  `json:"config_file,omitempty"`
	DailySpendUSD  float64 `json:"daily_spend_usd"`
	DailyLimitUSD  float64 `json:"daily_limit_usd"`
	DailyPercent   float64 `json:"daily_percent"`
	MonthSpendUSD  float64 `json:"month_spend_usd"`
	MonthLimitUSD  float64 `json:"month_limit_usd"`
	MonthPercent   float64 `json:"month_percent"`
	CachedAnswers  int64   `json:"cached_answers"`
	DeferredQueued int     `json:"deferred_queued"`
}

func cmdStatus() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	dataDir := cfg.Server.DataDir

	report := statusReport{
		DataDir:       dataDir,
		ConfigFile:    config.ConfigFilePath(),
		DailyLimitUSD: cfg.Budget.DailyLimit,
		MonthLimitUSD: cfg.Budget.MonthlyLimit,
	}

	// Spend comes from replaying the durable journal; this works whether or
	// not a gateway instance is currently running.
	journal, err := ledger.OpenJournal(filepath.Join(dataDir, "journal"), 1)
	if err == nil {
		led := ledger.New(ledger.Limits{
			DailyLimit:   cfg.Budget.DailyLimit,
			MonthlyLimit: cfg.Budget.MonthlyLimit,
		}, cfg.Ledger.RetentionDays, nil)
		if _, err := journal.ReplayInto(led); err != nil {
			fmt.Fprintf(os.Stderr, "warning: journal replay incomplete: %v\n", err)
		}
		state := led.Aggregates("")
		report.DailySpendUSD = state.DailySpend
		report.DailyPercent = state.DailyPercent() * 100
		report.MonthSpendUSD = state.MonthlySpend
		report.MonthPercent = state.MonthlyPercent() * 100
		journal.Close()
	}

	if st, err := store.Open(filepath.Join(dataDir, "cache.db")); err == nil {
		if n, err := st.AnswerCount(); err == nil {
			report.CachedAnswers = n
		}
		st.Close()
	}

	deferredPath := cfg.Fallback.DeferredQueueFile
	if !filepath.IsAbs(deferredPath) {
		deferredPath = filepath.Join(dataDir, deferredPath)
	}
	if dq, err := fallback.OpenDeferredQueue(deferredPath); err == nil {
		if n, err := dq.Len(); err == nil {
			report.DeferredQueued = n
		}
	}

	printJSON(report)
}

// printStatus renders the live snapshot inside the REPL.
func printStatus(st *orchestrator.Status) {
	printJSON(st)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error rendering status: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "error generating config: %v\n", err)
		os.Exit(1)
	}
}

func cmdConfigExport(args []string) {
	path := "querygate-export.toml"
	if len(args) > 0 {
		path = args[0]
	}
	config.Load("")
	if err := config.ExportConfig(path); err != nil {
		fmt.Fprintf(os.Stderr, "error exporting config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config exported to %s\n", path)
}

func cmdConfigImport(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: querygate config-import <file>")
		os.Exit(1)
	}
	if err := config.ImportConfig(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "error importing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config imported from %s\n", args[0])
}
