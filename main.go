// dbb — DuckDB Broadcast Briefs: a local archive of podcast transcripts.
//
// Catalogs YouTube channel uploads, pulls transcripts through a chain of
// providers with automatic failover, summarizes them with a local Ollama
// model, and mails a weekly digest.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"log/slog"

	"github.com/joho/godotenv"
	"github.com/kosiuzo/duckdb-broadcast-briefs/internal/briefs"
	"github.com/kosiuzo/duckdb-broadcast-briefs/internal/briefs/providers"
)

const defaultConfigPath = "config.yaml"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// .env first so ${VAR} references in the config resolve.
	_ = godotenv.Load()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "initdb":
		runInitDB(args)
	case "fetch":
		runFetch(args)
	case "transcribe":
		runTranscribe(args)
	case "summarize":
		runSummarize(args)
	case "digest":
		runDigest(args)
	case "purge":
		runPurge(args)
	case "status":
		runStatus(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `dbb — podcast transcript archive and weekly briefs

Usage: dbb <command> [flags]

Commands:
  initdb       create the database schema and data directories
  fetch        catalog new uploads for the configured channels
  transcribe   fetch transcripts for cataloged episodes
  summarize    summarize stored transcripts with a local model
  digest       render the weekly digest (--send to email it)
  purge        delete on-disk transcript copies already in the database
  status       show archive statistics

All commands accept --config (default config.yaml).
`)
}

func fail(msg string, err error) {
	slog.Error(msg, slog.Any("error", err))
	os.Exit(1)
}

// setup loads config, installs logging, and opens the store with its
// schema in place.
func setup(ctx context.Context, configPath string) (*briefs.Config, *briefs.Store) {
	cfg, err := briefs.LoadConfig(configPath)
	if err != nil {
		fail("load config", err)
	}
	briefs.SetupLogging(cfg.Logging)

	store, err := briefs.OpenStore(cfg.Database.Path)
	if err != nil {
		fail("open store", err)
	}
	if err := store.Init(ctx); err != nil {
		fail("init store", err)
	}
	return cfg, store
}

// mainCtx is canceled on SIGINT/SIGTERM so long runs stop between episodes.
func mainCtx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

// buildChain constructs the enabled provider adapters in configured order.
func buildChain(cfg *briefs.Config) *providers.Chain {
	client := newHTTPClient()
	byName := make(map[string]providers.Provider)
	for name, pc := range cfg.Transcripts.Providers {
		if !pc.IsEnabled() {
			continue
		}
		switch name {
		case "supadata":
			byName[name] = providers.NewSupadata(pc.BaseURL, pc.APIKey(), pc.Timeout(), client)
		case "ytio":
			byName[name] = providers.NewTranscriptIO(pc.BaseURL, pc.Timeout(), client)
		case "socialkit":
			byName[name] = providers.NewSocialKit(pc.BaseURL, pc.APIKey(), pc.Timeout(), client)
		case "innertube":
			byName[name] = providers.NewInnertube(pc.Languages, pc.Timeout(), client)
		default:
			slog.Warn("unknown provider in config", slog.String("provider", name))
		}
	}
	return providers.NewChain(cfg.Transcripts.ProviderOrder, cfg.Transcripts.MinChars, byName)
}

func runInitDB(args []string) {
	fs := flag.NewFlagSet("initdb", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	fs.Parse(args)

	ctx, cancel := mainCtx()
	defer cancel()

	cfg, store := setup(ctx, *configPath)
	defer store.Close()

	if err := cfg.EnsureDirs(); err != nil {
		fail("create directories", err)
	}
	fmt.Printf("initialized database %s and data directory %s\n",
		cfg.Database.Path, cfg.Storage.DataDir)
}

func runFetch(args []string) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	fs.Parse(args)

	ctx, cancel := mainCtx()
	defer cancel()

	cfg, store := setup(ctx, *configPath)
	defer store.Close()

	client, err := briefs.NewCatalogClient(cfg.YouTube.APIKey(), newHTTPClient())
	if err != nil {
		fail("youtube client", err)
	}
	sum, err := briefs.FetchCatalog(ctx, store, client, cfg.Channels, cfg.YouTube.MaxPerChannel)
	fmt.Printf("cataloged %d channels: %d videos seen, %d new\n",
		sum.Channels, sum.Seen, sum.Inserted)
	if err != nil {
		fail("fetch catalog", err)
	}
}

func runTranscribe(args []string) {
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	recent := fs.Int("recent", 10, "max episodes to transcribe this run")
	fs.Parse(args)

	ctx, cancel := mainCtx()
	defer cancel()

	cfg, store := setup(ctx, *configPath)
	defer store.Close()

	tr := briefs.NewTranscriber(store, buildChain(cfg), cfg.Storage.TranscriptDir)
	sum, err := tr.Run(ctx, *recent)
	slog.Debug("provider request counters", slog.Any("metrics", providers.GetMetrics()))
	if err != nil {
		fail("transcribe", err)
	}
	fmt.Printf("transcribed %d of %d selected (%d unavailable, %d failed)\n",
		sum.Done, sum.Selected, sum.Skipped, sum.Failed)
}

func runSummarize(args []string) {
	fs := flag.NewFlagSet("summarize", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	recent := fs.Int("recent", 10, "max episodes to summarize this run")
	fs.Parse(args)

	ctx, cancel := mainCtx()
	defer cancel()

	cfg, store := setup(ctx, *configPath)
	defer store.Close()

	ollama := briefs.NewOllamaClient(cfg.Summarize, newHTTPClient())
	s := briefs.NewSummarizer(store, ollama, cfg.Summarize, cfg.Storage.SummaryDir)
	res, err := s.Run(ctx, *recent)
	if err != nil {
		fail("summarize", err)
	}
	fmt.Printf("summarized %d of %d selected (%d failed)\n",
		res.Done, res.Selected, res.Failed)
}

func runDigest(args []string) {
	fs := flag.NewFlagSet("digest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	send := fs.Bool("send", false, "email the digest after rendering")
	fs.Parse(args)

	ctx, cancel := mainCtx()
	defer cancel()

	cfg, store := setup(ctx, *configPath)
	defer store.Close()

	eps, err := store.RecentSummaries(ctx, briefs.DigestWindowDays)
	if err != nil {
		fail("load summaries", err)
	}
	d := briefs.BuildDigest(eps, time.Now().UTC())
	if d.Empty() {
		fmt.Printf("nothing to send: no summaries in the last %d days\n", briefs.DigestWindowDays)
		return
	}

	htmlBody, err := briefs.RenderHTML(d)
	if err != nil {
		fail("render digest", err)
	}
	textBody, err := briefs.RenderText(d)
	if err != nil {
		fail("render digest", err)
	}
	htmlPath, textPath, err := briefs.WriteDigestPreviews(cfg.Storage.DataDir, htmlBody, textBody)
	if err != nil {
		fail("write previews", err)
	}
	fmt.Printf("digest previews written: %s, %s\n", htmlPath, textPath)

	if !*send {
		fmt.Println("dry run: pass --send to email the digest")
		return
	}
	sender := briefs.NewDigestSender(cfg.Email, cfg.SMTP)
	if err := sender.Send(d, cfg.Email.SubjectFormat); err != nil {
		fail("send digest", err)
	}
	fmt.Println("digest sent")
}

func runPurge(args []string) {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	dryRun := fs.Bool("dry-run", false, "report without deleting anything")
	fs.Parse(args)

	ctx, cancel := mainCtx()
	defer cancel()

	_, store := setup(ctx, *configPath)
	defer store.Close()

	res, err := briefs.Purge(ctx, store, *dryRun)
	if err != nil {
		fail("purge", err)
	}
	verb := "purged"
	if *dryRun {
		verb = "would purge"
	}
	fmt.Printf("%s %d of %d checked (%d missing, %d mismatched)\n",
		verb, res.Purged, res.Checked, res.Missing, res.Mismatched)
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	fs.Parse(args)

	ctx, cancel := mainCtx()
	defer cancel()

	_, store := setup(ctx, *configPath)
	defer store.Close()

	st, err := store.Stats(ctx)
	if err != nil {
		fail("stats", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tEPISODES\tTRANSCRIPTS\tSUMMARIES")
	for _, cs := range st.Channels {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", cs.Channel, cs.Episodes, cs.Transcripts, cs.Summaries)
	}
	fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\n", st.Episodes, st.WithTranscript, st.WithSummary)
	w.Flush()
}
