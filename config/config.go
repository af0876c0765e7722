package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Config captures all command-line options required to run the redactor.
type Config struct {
	InputPath      string
	SubjectName    string
	SubjectEmail   string
	SubjectAliases []string
	SubjectConfig  string
	OutputDir      string
	StateDir       string
	Placeholder    string
	BatchSize      int
	Concurrency    int
	NoAI           bool
	Model          string
	APIKey         string
	APIBase        string
	Retries        int
	RetryDelay     time.Duration
	APITimeout     time.Duration
	Limit          int
	DryRun         bool
	LogLevel       string
	LogDir         string
	IncludeSubject []string
	IncludeBody    []string
	ExcludeSubject []string
	ExcludeBody    []string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("input", "", "Path to the mailbox export (.mbox archive or .json collection)")
	flags.String("subject-name", "", "Canonical name of the protected data subject")
	flags.String("subject-email", "", "Canonical email of the protected data subject")
	flags.StringArray("subject-alias", nil, "Accepted surface variation of the data subject (repeatable)")
	flags.String("subject-config", "", "YAML file with the data subject identity (alternative to the subject flags)")
	flags.String("output", "out", "Directory for redacted.json and audit.json")
	flags.String("state-dir", defaultStateDir, "Directory for the resumable checkpoint file")
	flags.String("placeholder", "[REDACTED]", "Marker substituted for third-party personal data")
	flags.Int("batch-size", 10, "Messages per processing batch")
	flags.Int("concurrency", 3, "Concurrent batch workers")
	flags.Bool("no-ai", false, "Skip the AI redaction stage (deterministic and heuristic passes only)")
	flags.String("model", "gpt-4o-mini", "Model identifier for the AI redaction stage")
	flags.String("api-key", "", "API key for the AI stage (falls back to OPENAI_API_KEY env var)")
	flags.String("api-base", "https://api.openai.com/v1", "Base URL of the chat-completions API")
	flags.Int("retries", 3, "Retry attempts per AI call after the first failure")
	flags.Duration("retry-delay", 2*time.Second, "Linear backoff unit between AI retries")
	flags.Duration("api-timeout", 60*time.Second, "Timeout per AI call")
	flags.Int("limit", 0, "Process at most N messages (0 = all; useful for test runs)")
	flags.Bool("dry-run", false, "Run the pipeline without writing outputs or checkpoint state")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (empty = stdout only)")
	flags.StringArray("include-subject", nil, "Regex allow-list applied to message subjects (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-subject", nil, "Regex block-list applied to message subjects (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")

	if err := cmd.MarkFlagRequired("input"); err != nil {
		return err
	}

	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	inputPath, err := flags.GetString("input")
	if err != nil {
		return Config{}, err
	}
	subjectName, err := flags.GetString("subject-name")
	if err != nil {
		return Config{}, err
	}
	subjectEmail, err := flags.GetString("subject-email")
	if err != nil {
		return Config{}, err
	}
	subjectAliases, err := flags.GetStringArray("subject-alias")
	if err != nil {
		return Config{}, err
	}
	subjectConfig, err := flags.GetString("subject-config")
	if err != nil {
		return Config{}, err
	}
	outputDir, err := flags.GetString("output")
	if err != nil {
		return Config{}, err
	}
	stateDir, err := flags.GetString("state-dir")
	if err != nil {
		return Config{}, err
	}
	placeholder, err := flags.GetString("placeholder")
	if err != nil {
		return Config{}, err
	}
	batchSize, err := flags.GetInt("batch-size")
	if err != nil {
		return Config{}, err
	}
	concurrency, err := flags.GetInt("concurrency")
	if err != nil {
		return Config{}, err
	}
	noAI, err := flags.GetBool("no-ai")
	if err != nil {
		return Config{}, err
	}
	modelID, err := flags.GetString("model")
	if err != nil {
		return Config{}, err
	}
	apiKey, err := flags.GetString("api-key")
	if err != nil {
		return Config{}, err
	}
	apiBase, err := flags.GetString("api-base")
	if err != nil {
		return Config{}, err
	}
	retries, err := flags.GetInt("retries")
	if err != nil {
		return Config{}, err
	}
	retryDelay, err := flags.GetDuration("retry-delay")
	if err != nil {
		return Config{}, err
	}
	apiTimeout, err := flags.GetDuration("api-timeout")
	if err != nil {
		return Config{}, err
	}
	limit, err := flags.GetInt("limit")
	if err != nil {
		return Config{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}
	includeSubject, err := flags.GetStringArray("include-subject")
	if err != nil {
		return Config{}, err
	}
	includeBody, err := flags.GetStringArray("include-body")
	if err != nil {
		return Config{}, err
	}
	excludeSubject, err := flags.GetStringArray("exclude-subject")
	if err != nil {
		return Config{}, err
	}
	excludeBody, err := flags.GetStringArray("exclude-body")
	if err != nil {
		return Config{}, err
	}

	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	if stateDir == "" {
		stateDir, err = defaultStateDir()
		if err != nil {
			return Config{}, err
		}
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		InputPath:      inputPath,
		SubjectName:    subjectName,
		SubjectEmail:   subjectEmail,
		SubjectAliases: subjectAliases,
		SubjectConfig:  subjectConfig,
		OutputDir:      outputDir,
		StateDir:       filepath.Clean(stateDir),
		Placeholder:    placeholder,
		BatchSize:      batchSize,
		Concurrency:    concurrency,
		NoAI:           noAI,
		Model:          modelID,
		APIKey:         apiKey,
		APIBase:        apiBase,
		Retries:        retries,
		RetryDelay:     retryDelay,
		APITimeout:     apiTimeout,
		Limit:          limit,
		DryRun:         dryRun,
		LogLevel:       logLevel,
		LogDir:         logDir,
		IncludeSubject: includeSubject,
		IncludeBody:    includeBody,
		ExcludeSubject: excludeSubject,
		ExcludeBody:    excludeBody,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.InputPath == "" {
		return fmt.Errorf("--input is required")
	}
	if cfg.SubjectConfig == "" {
		if cfg.SubjectName == "" {
			return fmt.Errorf("--subject-name is required unless --subject-config is given")
		}
		if cfg.SubjectEmail == "" {
			return fmt.Errorf("--subject-email is required unless --subject-config is given")
		}
	}
	if cfg.Placeholder == "" {
		return fmt.Errorf("--placeholder must not be empty")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive")
	}
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("--concurrency must be positive")
	}
	if cfg.Retries < 0 {
		return fmt.Errorf("--retries must not be negative")
	}
	if cfg.Limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	if !cfg.NoAI && cfg.APIKey == "" {
		return fmt.Errorf("API key must be provided via --api-key or OPENAI_API_KEY env var (or pass --no-ai)")
	}

	includeActive := len(cfg.IncludeSubject) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeSubject) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".dsar-redact", "state"), nil
}
