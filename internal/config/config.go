// Package config loads daemon settings from flags with AGENT_KEEPER_* environment fallbacks.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/agent-keeper/internal/platform"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "AGENT_KEEPER_"

// Config holds daemon settings.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	DataDir     string
	AccountsDir string
	StatePath   string
	ProcessName string
	// Launch is the editor executable followed by its arguments.
	Launch []string

	OAuthClientID     string
	OAuthClientSecret string
	CloudCodeURL      string
	UpstreamTimeout   time.Duration
	UpstreamRetries   int

	SettleDelay       time.Duration
	KillWait          time.Duration
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	TokenTTL          time.Duration

	Dev bool
}

// KeyPath is the control token signing key file.
func (c *Config) KeyPath() string { return filepath.Join(c.DataDir, "control.key") }

// Load parses args (without the program name). Flags override the environment,
// which overrides built-in defaults.
func Load(name string, args []string) (*Config, error) {
	dataDir, err := platform.DefaultDataDir()
	if err != nil {
		return nil, err
	}
	statePath, err := platform.DefaultStatePath()
	if err != nil {
		return nil, err
	}

	var c Config
	var launch string
	var launchArgs stringList
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&c.HTTPAddr, "http-addr", envOr("HTTP_ADDR", "127.0.0.1:18888"), "extension channel and JSON API listen address")
	fs.StringVar(&c.GRPCAddr, "grpc-addr", envOr("GRPC_ADDR", "127.0.0.1:18889"), "gRPC control listen address")
	fs.StringVar(&c.DataDir, "data-dir", envOr("DATA_DIR", dataDir), "directory for the control key and accounts")
	fs.StringVar(&c.AccountsDir, "accounts-dir", envOr("ACCOUNTS_DIR", ""), "account backup directory (default <data-dir>/accounts)")
	fs.StringVar(&c.StatePath, "state-db", envOr("STATE_DB", statePath), "editor state database")
	fs.StringVar(&c.ProcessName, "process-name", envOr("PROCESS_NAME", platform.DefaultProcessName()), "editor process image name")
	fs.StringVar(&launch, "launch", envOr("LAUNCH", ""), "editor executable path, used as is (default platform launcher)")
	fs.Var(&launchArgs, "launch-arg", "argument passed to the editor executable (repeatable)")
	fs.StringVar(&c.OAuthClientID, "oauth-client-id", envOr("OAUTH_CLIENT_ID", ""), "OAuth client id for token refresh")
	fs.StringVar(&c.CloudCodeURL, "cloudcode-url", envOr("CLOUDCODE_URL", "https://daily-cloudcode-pa.sandbox.googleapis.com"), "quota API base URL")
	fs.DurationVar(&c.UpstreamTimeout, "upstream-timeout", envDuration("UPSTREAM_TIMEOUT", 30*time.Second), "timeout for one Google API request")
	fs.IntVar(&c.UpstreamRetries, "upstream-retries", envInt("UPSTREAM_RETRIES", 2), "retries for idempotent Google API requests")
	fs.DurationVar(&c.SettleDelay, "settle-delay", envDuration("SETTLE_DELAY", time.Second), "wait after state writes")
	fs.DurationVar(&c.KillWait, "kill-wait", envDuration("KILL_WAIT", time.Second), "wait after stopping the editor")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat", envDuration("HEARTBEAT", 5*time.Second), "extension ping interval")
	fs.DurationVar(&c.ClientTimeout, "client-timeout", envDuration("CLIENT_TIMEOUT", 10*time.Second), "drop extensions silent for this long")
	fs.DurationVar(&c.TokenTTL, "token-ttl", envDuration("TOKEN_TTL", 0), "control token lifetime (0 never expires)")
	fs.BoolVar(&c.Dev, "dev", envBool("DEV", false), "development logging and gRPC reflection")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if c.AccountsDir == "" {
		c.AccountsDir = platform.AccountsDir(c.DataDir)
	}
	// The secret never comes from a flag so it stays out of process listings.
	c.OAuthClientSecret = os.Getenv(EnvPrefix + "OAUTH_CLIENT_SECRET")
	c.Launch, err = launchCommand(launch, launchArgs)
	if err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch {
	case c.HTTPAddr == "" || c.GRPCAddr == "":
		return fmt.Errorf("listen addresses must be set")
	case c.StatePath == "":
		return fmt.Errorf("state database path must be set")
	case len(c.Launch) == 0:
		return fmt.Errorf("launch command must be set")
	case c.SettleDelay < 0 || c.KillWait < 0:
		return fmt.Errorf("delays must not be negative")
	case c.UpstreamRetries < 0:
		return fmt.Errorf("upstream retries must not be negative")
	}
	return nil
}

// launchCommand keeps an explicit path whole, spaces included. Without one the
// platform default is used and extra args are appended to it.
func launchCommand(path string, args []string) ([]string, error) {
	if path == "" {
		return append(platform.DefaultLaunchCommand(), args...), nil
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("launch path must not be blank")
	}
	return append([]string{path}, args...), nil
}

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, " ") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(EnvPrefix + key))
	if err != nil {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(EnvPrefix + key))
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(EnvPrefix + key))
	if err != nil {
		return fallback
	}
	return v
}
