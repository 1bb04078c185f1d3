package briefs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration is a single YAML file. ${VAR} references anywhere in the
// file are resolved from the environment before parsing; a missing variable
// becomes an empty string with a warning so a half-configured environment
// degrades instead of failing the load outright.

const exampleConfigPath = "config.yaml.example"

// Config is the full application configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Storage     StorageConfig     `yaml:"storage"`
	Channels    []ChannelConfig   `yaml:"channels"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Summarize   SummarizeConfig   `yaml:"summarize"`
	Email       EmailConfig       `yaml:"email"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	YouTube     YouTubeConfig     `yaml:"youtube"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type StorageConfig struct {
	DataDir       string `yaml:"data_dir"`
	TranscriptDir string `yaml:"transcript_dir"`
	SummaryDir    string `yaml:"summary_dir"`
}

// ChannelConfig names one podcast channel. Either a channel ID (uploads
// playlist is resolved via the API) or a playlist ID used directly.
type ChannelConfig struct {
	Name       string `yaml:"name"`
	ChannelID  string `yaml:"channel_id"`
	PlaylistID string `yaml:"playlist_id"`
}

type TranscriptsConfig struct {
	ProviderOrder []string                  `yaml:"provider_order"`
	MinChars      int                       `yaml:"min_chars"`
	Providers     map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds per-provider settings. Enabled is a pointer so an
// absent key defaults to true.
type ProviderConfig struct {
	Enabled   *bool    `yaml:"enabled"`
	BaseURL   string   `yaml:"base_url"`
	APIKeyEnv string   `yaml:"api_key_env"`
	TimeoutS  int      `yaml:"timeout_s"`
	Languages []string `yaml:"languages"`
}

// IsEnabled reports whether the provider should be constructed at all.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Timeout returns the per-call timeout for this provider.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutS) * time.Second
}

// APIKey reads the provider's key from the configured environment variable.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

type SummarizeConfig struct {
	Host           string            `yaml:"host"`
	Model          string            `yaml:"model"`
	PromptPath     string            `yaml:"prompt_path"`
	ChannelPrompts map[string]string `yaml:"channel_prompts"`
	TimeoutS       int               `yaml:"timeout_s"`
	Retries        int               `yaml:"retries"`
}

// Timeout returns the per-attempt generation timeout.
func (s SummarizeConfig) Timeout() time.Duration {
	if s.TimeoutS <= 0 {
		return 300 * time.Second
	}
	return time.Duration(s.TimeoutS) * time.Second
}

type EmailConfig struct {
	FromName           string              `yaml:"from_name"`
	Recipients         []string            `yaml:"recipients"`
	SubjectFormat      string              `yaml:"subject_format"`
	ChannelRecipients  map[string][]string `yaml:"channel_recipients"`
	SendSeparateEmails *bool               `yaml:"send_separate_emails"`
}

// SeparateEmails reports whether each channel gets its own digest email.
func (e EmailConfig) SeparateEmails() bool {
	return e.SendSeparateEmails == nil || *e.SendSeparateEmails
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type YouTubeConfig struct {
	APIKeyEnv     string `yaml:"api_key_env"`
	MaxPerChannel int    `yaml:"max_per_channel"`
}

// APIKey reads the Data API key from the configured environment variable.
func (y YouTubeConfig) APIKey() string {
	if y.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(y.APIKeyEnv)
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads, interpolates, and validates the config file. When path
// does not exist but config.yaml.example does, the example is used with a
// warning so a fresh checkout works out of the box.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, exErr := os.Stat(exampleConfigPath); exErr == nil {
			slog.Warn("config: file not found, falling back to example",
				slog.String("path", path), slog.String("example", exampleConfigPath))
			path = exampleConfigPath
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	expandEnvNode(&root)

	var cfg Config
	if err := root.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvNode interpolates ${VAR} references in every scalar of the tree.
func expandEnvNode(n *yaml.Node) {
	if n == nil {
		return
	}
	if n.Kind == yaml.ScalarNode && strings.Contains(n.Value, "${") {
		n.Value = envRefRe.ReplaceAllStringFunc(n.Value, func(m string) string {
			name := m[2 : len(m)-1]
			val, ok := os.LookupEnv(name)
			if !ok {
				slog.Warn("config: environment variable not set", slog.String("var", name))
				return ""
			}
			return val
		})
	}
	for _, child := range n.Content {
		expandEnvNode(child)
	}
}

// defaultProviders returns the built-in settings for each known provider.
func defaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"supadata": {
			BaseURL:   "https://api.supadata.ai/v1/youtube/transcript",
			APIKeyEnv: "SUPADATA_API_KEY",
			TimeoutS:  30,
		},
		"ytio": {
			BaseURL:  "https://www.youtube-transcript.io/api",
			TimeoutS: 30,
		},
		"socialkit": {
			BaseURL:   "https://api.socialkit.dev/youtube-transcript",
			APIKeyEnv: "SOCIALKIT_API_KEY",
			TimeoutS:  30,
		},
		"innertube": {
			Languages: []string{"en"},
			TimeoutS:  30,
		},
	}
}

// normalize fills defaults for everything the file left unset.
func (c *Config) normalize() {
	if c.Database.Path == "" {
		c.Database.Path = "./dbb.db"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.TranscriptDir == "" {
		c.Storage.TranscriptDir = filepath.Join(c.Storage.DataDir, "transcripts")
	}
	if c.Storage.SummaryDir == "" {
		c.Storage.SummaryDir = filepath.Join(c.Storage.DataDir, "summaries")
	}

	if len(c.Transcripts.ProviderOrder) == 0 {
		c.Transcripts.ProviderOrder = []string{"supadata", "ytio", "socialkit", "innertube"}
	}
	if c.Transcripts.MinChars <= 0 {
		c.Transcripts.MinChars = 400
	}
	if c.Transcripts.Providers == nil {
		c.Transcripts.Providers = make(map[string]ProviderConfig)
	}
	// A partially specified provider keeps its defaults for the rest.
	for name, def := range defaultProviders() {
		pc := c.Transcripts.Providers[name]
		if pc.BaseURL == "" {
			pc.BaseURL = def.BaseURL
		}
		if pc.APIKeyEnv == "" {
			pc.APIKeyEnv = def.APIKeyEnv
		}
		if pc.TimeoutS <= 0 {
			pc.TimeoutS = def.TimeoutS
		}
		if len(pc.Languages) == 0 {
			pc.Languages = def.Languages
		}
		c.Transcripts.Providers[name] = pc
	}

	if c.Summarize.Host == "" {
		c.Summarize.Host = "http://localhost:11434"
	}
	if c.Summarize.Model == "" {
		c.Summarize.Model = "llama3.1:8b"
	}
	if c.Summarize.PromptPath == "" {
		c.Summarize.PromptPath = "./prompts/default_prompt.md"
	}
	if c.Summarize.TimeoutS <= 0 {
		c.Summarize.TimeoutS = 300
	}
	if c.Summarize.Retries <= 0 {
		c.Summarize.Retries = 3
	}

	if c.Email.FromName == "" {
		c.Email.FromName = "DBB Weekly"
	}
	if c.Email.SubjectFormat == "" {
		c.Email.SubjectFormat = "Your Weekly Podcast Digest ({start_date} – {end_date})"
	}

	if c.SMTP.Host == "" {
		c.SMTP.Host = "smtp.gmail.com"
	}
	if c.SMTP.Port <= 0 {
		c.SMTP.Port = 587
	}

	if c.YouTube.APIKeyEnv == "" {
		c.YouTube.APIKeyEnv = "YOUTUBE_API_KEY"
	}
	if c.YouTube.MaxPerChannel <= 0 {
		c.YouTube.MaxPerChannel = 50
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	// IDs copied out of browser URLs often carry "&si=..." tracking suffixes.
	for i := range c.Channels {
		c.Channels[i].ChannelID = stripIDSuffix(c.Channels[i].ChannelID)
		c.Channels[i].PlaylistID = stripIDSuffix(c.Channels[i].PlaylistID)
	}
}

func stripIDSuffix(id string) string {
	if i := strings.Index(id, "&"); i >= 0 {
		return id[:i]
	}
	return id
}

func (c *Config) validate() error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channel %d: name is required", i)
		}
		if ch.ChannelID == "" && ch.PlaylistID == "" {
			return fmt.Errorf("channel %q: channel_id or playlist_id is required", ch.Name)
		}
	}
	return nil
}

// EnsureDirs creates the data directories and the database's parent directory.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.Storage.DataDir, c.Storage.TranscriptDir, c.Storage.SummaryDir}
	if dir := filepath.Dir(c.Database.Path); dir != "" && dir != "." {
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// SetupLogging installs the default slog logger according to config.
func SetupLogging(c LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(c.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
