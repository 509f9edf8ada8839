package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/claimsagent/internal/model"
)

const version = "claimsagent v0.1.0"

var (
	cfgFile  string
	verbose  bool
	logLevel string
	fixtures string
	asUser   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "claimsagent",
	Short: "Claims data extraction agent",
	Long: `claimsagent pulls claim records from the claims system, validates them
against the claim schema, and runs risk classification and sentiment
analysis on the clinical data attached to each claim.

Every operation is written to the audit log. Transient failures are retried
with exponential backoff; validation and authentication failures are not.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.claimsagent/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&fixtures, "fixtures", "", "serve claims from a JSON fixture file instead of the claims system")
	flags.StringVar(&asUser, "user", "", "user id recorded in the audit log")

	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(home + "/.claimsagent")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	configureEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// configureEnv maps CLAIMSAGENT_SECTION_KEY variables onto section.key and
// registers every known key so Unmarshal sees env-only values.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("CLAIMSAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	registerDefaults(v, model.DefaultConfig())

	// Conventional names for the secrets.
	_ = v.BindEnv("model.api_key", "CLAIMSAGENT_MODEL_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("claims.token", "CLAIMSAGENT_CLAIMS_TOKEN", "CLAIMS_API_TOKEN")
}

func registerDefaults(v *viper.Viper, cfg *model.Config) {
	defaults := map[string]any{
		"claims.base_url":       cfg.Claims.BaseURL,
		"claims.token_url":      cfg.Claims.TokenURL,
		"claims.scopes":         cfg.Claims.Scopes,
		"claims.client_id":      cfg.Claims.ClientID,
		"claims.client_secret":  cfg.Claims.ClientSecret,
		"claims.token":          cfg.Claims.Token,
		"claims.timeout":        cfg.Claims.Timeout,
		"claims.user_agent":     cfg.Claims.UserAgent,
		"claims.max_body_bytes": cfg.Claims.MaxBodyBytes,
		"claims.http_proxy":     cfg.Claims.HTTPProxy,
		"claims.https_proxy":    cfg.Claims.HTTPSProxy,
		"claims.no_proxy":       cfg.Claims.NoProxy,

		"retry.max_attempts": cfg.Retry.MaxAttempts,
		"retry.base_delay":   cfg.Retry.BaseDelay,
		"retry.max_elapsed":  cfg.Retry.MaxElapsed,

		"model.backend":  cfg.Model.Backend,
		"model.base_url": cfg.Model.BaseURL,
		"model.model":    cfg.Model.Model,
		"model.api_key":  cfg.Model.APIKey,
		"model.timeout":  cfg.Model.Timeout,
		"model.seed":     cfg.Model.Seed,

		"cache.enabled":   cfg.Cache.Enabled,
		"cache.ttl":       cfg.Cache.TTL,
		"cache.dir":       cfg.Cache.Dir,
		"cache.redis_url": cfg.Cache.RedisURL,

		"audit.sink":      cfg.Audit.Sink,
		"audit.redis_url": cfg.Audit.RedisURL,
		"audit.stream":    cfg.Audit.Stream,
		"audit.max_len":   cfg.Audit.MaxLen,

		"server.addr":             cfg.Server.Addr,
		"server.shutdown_timeout": cfg.Server.ShutdownTimeout,

		"logging.level":  cfg.Logging.Level,
		"logging.format": cfg.Logging.Format,

		"concurrency.workers": cfg.Concurrency.Workers,

		"rate_limiting.requests_per_second": cfg.RateLimiting.RequestsPerSecond,
		"rate_limiting.burst_size":          cfg.RateLimiting.BurstSize,
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
}

// loadConfig resolves flags, env, the config file and defaults, in that
// order of precedence.
func loadConfig(v *viper.Viper) (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = model.DefaultConfig().Logging.Level
	}
	if v.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
	if cfg.Concurrency.Workers <= 0 {
		return nil, fmt.Errorf("concurrency.workers must be positive, got %d", cfg.Concurrency.Workers)
	}
	return cfg, nil
}
