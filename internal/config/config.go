// Package config loads the service configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/codebuildervaibhav/trigger-engine/internal/logging"
)

// Provider names accepted in the provider order lists.
const (
	ProviderGemini   = "gemini"
	ProviderDeepgram = "deepgram"
	ProviderWhisper  = "whisper"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Logging logging.Config `yaml:"logging"`

	Workers struct {
		Count    int           `yaml:"count"`
		LeaseTTL time.Duration `yaml:"lease_ttl"`
	} `yaml:"workers"`

	Jobs struct {
		AllowedHosts   []string      `yaml:"allowed_hosts"`
		StuckThreshold time.Duration `yaml:"stuck_threshold"`
	} `yaml:"jobs"`

	Storage struct {
		MediaDir  string `yaml:"media_dir"`
		OutputDir string `yaml:"output_dir"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	Media struct {
		YtDlpBinary   string        `yaml:"ytdlp_binary"`
		CookiesFile   string        `yaml:"cookies_file"`
		FFmpegBinary  string        `yaml:"ffmpeg_binary"`
		MaxSeconds    int           `yaml:"max_seconds"`
		MinAudioBytes int64         `yaml:"min_audio_bytes"`
		ImagePosts    bool          `yaml:"image_posts"`
		PostTimeout   time.Duration `yaml:"post_timeout"`
		MaxImages     int           `yaml:"max_images"`
	} `yaml:"media"`

	Providers struct {
		Transcription     []string      `yaml:"transcription"`
		Generation        []string      `yaml:"generation"`
		CallTimeout       time.Duration `yaml:"call_timeout"`
		KeyCooldown       time.Duration `yaml:"key_cooldown"`
		QuotaCooldown     time.Duration `yaml:"quota_cooldown"`
		TransientCooldown time.Duration `yaml:"transient_cooldown"`
	} `yaml:"providers"`

	Gemini struct {
		Endpoint           string   `yaml:"endpoint"`
		TranscriptionModel string   `yaml:"transcription_model"`
		GenerationModel    string   `yaml:"generation_model"`
		APIKeys            []string `yaml:"-"`
	} `yaml:"gemini"`

	Deepgram struct {
		Endpoint string   `yaml:"endpoint"`
		Model    string   `yaml:"model"`
		Language string   `yaml:"language"`
		APIKeys  []string `yaml:"-"`
	} `yaml:"deepgram"`

	Whisper struct {
		Command  string `yaml:"command"`
		Model    string `yaml:"model"`
		Language string `yaml:"language"`
	} `yaml:"whisper"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"-"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Email struct {
		Enabled    bool     `yaml:"enabled"`
		Host       string   `yaml:"host"`
		Port       int      `yaml:"port"`
		Username   string   `yaml:"username"`
		Password   string   `yaml:"-"`
		From       string   `yaml:"from"`
		Recipients []string `yaml:"recipients"`
		Admins     []string `yaml:"admins"`
	} `yaml:"email"`

	Recall struct {
		Enabled  bool   `yaml:"enabled"`
		Schedule string `yaml:"schedule"`
		Limit    int    `yaml:"limit"`
	} `yaml:"recall"`

	Cleanup struct {
		Schedule string        `yaml:"schedule"`
		MaxAge   time.Duration `yaml:"max_age"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		Enabled         bool   `yaml:"enabled"`
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	var c Config
	c.Server.Host = "0.0.0.0"
	c.Server.Port = 8080
	c.Logging.Level = "info"

	c.Workers.Count = 2
	c.Workers.LeaseTTL = time.Minute

	c.Jobs.AllowedHosts = []string{"instagram.com"}
	c.Jobs.StuckThreshold = 300 * time.Second

	c.Storage.MediaDir = "./media"
	c.Storage.OutputDir = "./transcripts"
	c.Storage.Database = "./data/trigger-engine.db"

	c.Media.YtDlpBinary = "yt-dlp"
	c.Media.CookiesFile = "cookies.txt"
	c.Media.FFmpegBinary = "ffmpeg"
	c.Media.MaxSeconds = 60
	c.Media.MinAudioBytes = 50000
	c.Media.ImagePosts = true
	c.Media.PostTimeout = 60 * time.Second
	c.Media.MaxImages = 10

	c.Providers.Transcription = []string{ProviderGemini}
	c.Providers.Generation = []string{ProviderGemini}
	c.Providers.CallTimeout = 60 * time.Second
	c.Providers.KeyCooldown = time.Hour
	c.Providers.QuotaCooldown = 10 * time.Minute
	c.Providers.TransientCooldown = 2 * time.Minute

	c.Gemini.TranscriptionModel = "gemini-2.0-flash"
	c.Gemini.GenerationModel = "gemini-2.0-flash"

	c.Deepgram.Model = "nova-2"
	c.Deepgram.Language = "multi"

	c.Whisper.Command = "python"
	c.Whisper.Model = "small"

	c.Redis.Prefix = "trigger-engine"

	c.Email.Host = "smtp.gmail.com"
	c.Email.Port = 587

	c.Recall.Enabled = true
	c.Recall.Schedule = "0 8 * * *"
	c.Recall.Limit = 1

	c.Cleanup.Schedule = "*/30 * * * *"
	c.Cleanup.MaxAge = time.Hour

	c.GoogleDrive.CredentialsFile = "credentials.json"
	c.GoogleDrive.TokenFile = "token.json"
	c.GoogleDrive.FolderName = "Trigger Engine"
	return &c
}

// Load reads path over the defaults, loads .env files if present, applies
// environment overrides and validates the result. A missing file leaves the
// defaults in place.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	c.Gemini.APIKeys = keysFromEnv(lookup, "GEMINI_API_KEYS", "GEMINI_API_KEY")
	c.Deepgram.APIKeys = keysFromEnv(lookup, "DEEPGRAM_API_KEYS", "DEEPGRAM_API_KEY")

	if v, ok := lookup("EMAIL_HOST_PASSWORD"); ok {
		c.Email.Password = v
	}
	if v, ok := lookup("EMAIL_HOST_USER"); ok && v != "" {
		c.Email.Username = v
	}
	if v, ok := lookup("REDIS_ADDRESS"); ok && v != "" {
		c.Redis.Address = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := lookup("GDRIVE_FOLDER_NAME"); ok && v != "" {
		c.GoogleDrive.FolderName = v
	}
}

// keysFromEnv reads a comma separated list from listVar, then the single
// variable base, then base_1..base_N. Duplicates and blanks are dropped.
func keysFromEnv(lookup func(string) (string, bool), listVar, base string) []string {
	var raw []string
	if v, ok := lookup(listVar); ok {
		raw = append(raw, strings.Split(v, ",")...)
	}
	if v, ok := lookup(base); ok {
		raw = append(raw, v)
	}
	for i := 1; ; i++ {
		v, ok := lookup(base + "_" + strconv.Itoa(i))
		if !ok {
			break
		}
		raw = append(raw, v)
	}

	seen := make(map[string]bool)
	var keys []string
	for _, k := range raw {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Workers.Count <= 0 {
		errs = append(errs, errors.New("workers.count must be positive"))
	}
	if c.Workers.LeaseTTL <= 0 {
		errs = append(errs, errors.New("workers.lease_ttl must be positive"))
	}
	if c.Jobs.StuckThreshold <= 0 {
		errs = append(errs, errors.New("jobs.stuck_threshold must be positive"))
	}
	if c.Workers.LeaseTTL > 0 && c.Jobs.StuckThreshold > 0 && c.Workers.LeaseTTL >= c.Jobs.StuckThreshold {
		errs = append(errs, fmt.Errorf("workers.lease_ttl %s must be below jobs.stuck_threshold %s",
			c.Workers.LeaseTTL, c.Jobs.StuckThreshold))
	}
	if len(c.Jobs.AllowedHosts) == 0 {
		errs = append(errs, errors.New("jobs.allowed_hosts is empty"))
	}
	if c.Storage.Database == "" {
		errs = append(errs, errors.New("storage.database is empty"))
	}
	if c.Providers.CallTimeout <= 0 {
		errs = append(errs, errors.New("providers.call_timeout must be positive"))
	}

	errs = append(errs, c.validateOrder("providers.transcription", c.Providers.Transcription,
		ProviderGemini, ProviderDeepgram, ProviderWhisper)...)
	errs = append(errs, c.validateOrder("providers.generation", c.Providers.Generation, ProviderGemini)...)

	if c.Email.Enabled {
		if c.Email.Host == "" || c.Email.Port <= 0 {
			errs = append(errs, errors.New("email.host and email.port are required when email is enabled"))
		}
		if len(c.Email.Recipients) == 0 && len(c.Email.Admins) == 0 {
			errs = append(errs, errors.New("email needs recipients or admins"))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validateOrder(field string, order []string, allowed ...string) []error {
	if len(order) == 0 {
		return []error{fmt.Errorf("%s is empty", field)}
	}
	var errs []error
	seen := make(map[string]bool)
	for _, name := range order {
		if !slices.Contains(allowed, name) {
			errs = append(errs, fmt.Errorf("%s: unknown provider %q", field, name))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("%s: provider %q listed twice", field, name))
		}
		seen[name] = true
		if missing := c.missingKeys(name); missing != "" {
			errs = append(errs, fmt.Errorf("%s: provider %q has no keys (set %s)", field, name, missing))
		}
	}
	return errs
}

func (c *Config) missingKeys(name string) string {
	switch name {
	case ProviderGemini:
		if len(c.Gemini.APIKeys) == 0 {
			return "GEMINI_API_KEYS"
		}
	case ProviderDeepgram:
		if len(c.Deepgram.APIKeys) == 0 {
			return "DEEPGRAM_API_KEY"
		}
	}
	return ""
}

// Address is the host:port the HTTP server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
