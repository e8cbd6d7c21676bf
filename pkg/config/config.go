package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config carries everything a single profile run needs. It is built once at
// startup and passed into each component's constructor; nothing reads the
// environment after LoadConfig returns, so two profiles can run side by side
// in one process without cross-talk.
type Config struct {
	Profile string

	// Reasoning service.
	CompletionsAPIURL string
	CompletionsAPIKey string
	CompletionsModel  string

	// Mailbox.
	GmailCredentialsPath string
	GmailTokenPath       string
	Label                string
	LookbackHours        int

	// Normalizer.
	BodyCharLimit       int
	AttachmentCharLimit int
	MinImageWidth       int
	MinImageHeight      int
	ProcessAttachments  bool

	// Extractor.
	Scope                string
	FallbackExcerptLimit int
	RetryAttempts        int
	RetryBaseDelay       time.Duration
	RequestTimeout       time.Duration

	// Ledger.
	DBPath        string
	RetentionDays int

	// Output.
	OutputDir       string
	SendDigest      bool
	DigestRecipient string
}

// profileFile mirrors the on-disk profiles JSON. Every profile owns its own
// database file and output directory; the loader rejects a profile that
// omits either, since shared storage would break profile isolation.
type profileFile struct {
	DefaultProfile string                   `json:"default_profile"`
	Profiles       map[string]profileConfig `json:"profiles"`
}

type profileConfig struct {
	Label               string `json:"label"`
	LookbackHours       int    `json:"lookback_hours"`
	DBPath              string `json:"db_path"`
	OutputDir           string `json:"output_dir"`
	Scope               string `json:"scope"`
	SendDigest          bool   `json:"send_digest"`
	Recipient           string `json:"recipient"`
	BodyCharLimit       int    `json:"body_char_limit"`
	AttachmentCharLimit int    `json:"attachment_char_limit"`
	MinImageWidth       int    `json:"min_image_width"`
	MinImageHeight      int    `json:"min_image_height"`
	ProcessAttachments  *bool  `json:"process_attachments"`
	RetentionDays       int    `json:"retention_days"`
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// LoadConfig reads the profiles file at path, picks the named profile (or
// the file's default when profile is empty) and overlays secrets from the
// environment. Missing credentials or an unknown profile are fatal here,
// before any processing starts.
func LoadConfig(path, profile string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read profiles file %q", path)
	}
	var pf profileFile
	if err := json.Unmarshal(raw, &pf); err != nil {
		return nil, errors.Wrapf(err, "parse profiles file %q", path)
	}

	if profile == "" {
		profile = pf.DefaultProfile
	}
	pc, ok := pf.Profiles[profile]
	if !ok {
		return nil, errors.Errorf("unknown profile %q in %q", profile, path)
	}
	if pc.Label == "" {
		return nil, errors.Errorf("profile %q: label is required", profile)
	}
	if pc.DBPath == "" || pc.OutputDir == "" {
		return nil, errors.Errorf("profile %q: db_path and output_dir are required", profile)
	}

	conf := &Config{
		Profile: profile,

		CompletionsAPIURL: getEnv("COMPLETIONS_API_URL", "https://api.openai.com/v1"),
		CompletionsAPIKey: getEnv("COMPLETIONS_API_KEY", ""),
		CompletionsModel:  getEnv("COMPLETIONS_MODEL", "gpt-4.1-mini"),

		GmailCredentialsPath: getEnv("GMAIL_CREDENTIALS_PATH", filepath.Join("config", "credentials.json")),
		GmailTokenPath:       getEnv("GMAIL_TOKEN_PATH", filepath.Join("config", "token.json")),
		Label:                pc.Label,
		LookbackHours:        pc.LookbackHours,

		BodyCharLimit:       pc.BodyCharLimit,
		AttachmentCharLimit: pc.AttachmentCharLimit,
		MinImageWidth:       pc.MinImageWidth,
		MinImageHeight:      pc.MinImageHeight,
		ProcessAttachments:  true,

		Scope:                pc.Scope,
		FallbackExcerptLimit: getEnvInt("FALLBACK_EXCERPT_LIMIT", 500),
		RetryAttempts:        getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBaseDelay:       time.Second,
		RequestTimeout:       time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 60)) * time.Second,

		DBPath:        pc.DBPath,
		RetentionDays: pc.RetentionDays,

		OutputDir:       pc.OutputDir,
		SendDigest:      pc.SendDigest,
		DigestRecipient: pc.Recipient,
	}

	if pc.ProcessAttachments != nil {
		conf.ProcessAttachments = *pc.ProcessAttachments
	}
	if conf.LookbackHours <= 0 {
		conf.LookbackHours = 48
	}
	if conf.BodyCharLimit <= 0 {
		conf.BodyCharLimit = 8000
	}
	if conf.AttachmentCharLimit <= 0 {
		conf.AttachmentCharLimit = 8000
	}
	if conf.MinImageWidth <= 0 {
		conf.MinImageWidth = 200
	}
	if conf.MinImageHeight <= 0 {
		conf.MinImageHeight = 200
	}
	if conf.RetentionDays <= 0 {
		conf.RetentionDays = 30
	}
	if conf.Scope == "" {
		conf.Scope = profile
	}

	if conf.CompletionsAPIKey == "" {
		return nil, errors.New("COMPLETIONS_API_KEY is not set")
	}
	if conf.SendDigest && conf.DigestRecipient == "" {
		return nil, errors.Errorf("profile %q: send_digest is enabled but recipient is empty", profile)
	}

	return conf, nil
}
