package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jessevdk/go-flags"

	"github.com/EternisAI/inbox-digest/pkg/ai"
	"github.com/EternisAI/inbox-digest/pkg/config"
	"github.com/EternisAI/inbox-digest/pkg/db"
	"github.com/EternisAI/inbox-digest/pkg/digest"
	"github.com/EternisAI/inbox-digest/pkg/extract"
	"github.com/EternisAI/inbox-digest/pkg/mailbox"
	"github.com/EternisAI/inbox-digest/pkg/normalize"
	"github.com/EternisAI/inbox-digest/pkg/pipeline"
	"github.com/EternisAI/inbox-digest/pkg/render"
)

type options struct {
	Config  string `long:"config" description:"Path to the profiles file" default:"config/profiles.json"`
	Profile string `long:"profile" short:"p" description:"Profile to run (defaults to the file's default_profile)"`
	Force   bool   `long:"force" description:"Re-extract messages the ledger has already seen"`
	Stats   bool   `long:"stats" description:"Print ledger statistics and exit"`
	Verbose bool   `long:"verbose" short:"v" description:"Debug logging"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(2)
	}

	level := log.InfoLevel
	if opts.Verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(os.Stdout, log.Options{
		ReportCaller:    opts.Verbose,
		ReportTimestamp: true,
		Level:           level,
		TimeFormat:      time.Kitchen,
	})

	if err := run(logger, opts); err != nil {
		logger.Error("Run failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *log.Logger, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf, err := config.LoadConfig(opts.Config, opts.Profile)
	if err != nil {
		return err
	}
	logger.Info("Loaded profile", "profile", conf.Profile, "label", conf.Label, "db", conf.DBPath)

	store, err := db.NewStore(logger, conf.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.Stats {
		return printStats(ctx, store)
	}

	source, err := mailbox.NewGmailSource(ctx, logger, conf.GmailCredentialsPath, conf.GmailTokenPath)
	if err != nil {
		return err
	}

	completions := ai.NewOpenAIService(logger, conf.CompletionsAPIKey, conf.CompletionsAPIURL)
	retry := ai.RetryConfig{
		Attempts:  conf.RetryAttempts,
		BaseDelay: conf.RetryBaseDelay,
		MaxDelay:  30 * time.Second,
	}

	p := pipeline.NewPipeline(
		logger,
		source,
		source,
		store,
		normalize.NewNormalizer(logger, normalize.Options{
			BodyCharLimit:       conf.BodyCharLimit,
			AttachmentCharLimit: conf.AttachmentCharLimit,
			MinImageWidth:       conf.MinImageWidth,
			MinImageHeight:      conf.MinImageHeight,
			ProcessAttachments:  conf.ProcessAttachments,
		}),
		extract.NewExtractor(logger, completions, extract.Options{
			Model:                conf.CompletionsModel,
			Scope:                conf.Scope,
			FallbackExcerptLimit: conf.FallbackExcerptLimit,
			RequestTimeout:       conf.RequestTimeout,
			Retry:                retry,
		}),
		digest.NewConsolidator(logger, completions, digest.Options{
			Model:          conf.CompletionsModel,
			Scope:          conf.Scope,
			RequestTimeout: conf.RequestTimeout,
			Retry:          retry,
		}),
		render.NewRenderer(logger, conf.OutputDir),
		pipeline.Options{
			Label:         conf.Label,
			Lookback:      time.Duration(conf.LookbackHours) * time.Hour,
			RetentionDays: conf.RetentionDays,
			SendDigest:    conf.SendDigest,
			Recipient:     conf.DigestRecipient,
		},
	)

	summary, err := p.Run(ctx, opts.Force)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func printStats(ctx context.Context, store *db.Store) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return err
	}
	recent, err := store.RecentDigests(ctx, 7)
	if err != nil {
		return err
	}

	type digestLine struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"created_at"`
		DateRange string    `json:"date_range"`
		Messages  int       `json:"messages"`
		Artifact  string    `json:"artifact,omitempty"`
	}
	out := struct {
		*db.Stats
		RecentDigests []digestLine `json:"recent_digests,omitempty"`
	}{Stats: stats}
	for _, row := range recent {
		out.RecentDigests = append(out.RecentDigests, digestLine{
			ID:        row.ID,
			CreatedAt: row.CreatedAt,
			DateRange: row.DateRange,
			Messages:  row.MessageCount,
			Artifact:  row.ArtifactPath,
		})
	}
	return printJSON(out)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
