package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
	Council    CouncilConfig    `yaml:"council"`
	NATS       NATSConfig       `yaml:"nats"`
	Store      StoreConfig      `yaml:"store"`
	Web        WebConfig        `yaml:"web"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Vault      VaultConfig      `yaml:"vault"`
}

type OpenRouterConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CouncilConfig holds the default council composition. Requests may override
// members and chairman per message; these are the fallbacks.
type CouncilConfig struct {
	Members  []string `yaml:"members"`
	Chairman string   `yaml:"chairman"`
	// Rankers selects which agents rank in stage 2: "all" asks every council
	// member (a failed answerer can still judge its peers), "succeeded" asks
	// only the agents whose own answer made it through stage 1.
	Rankers string `yaml:"rankers"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		OpenRouter: OpenRouterConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Timeout: 180 * time.Second,
		},
		Council: CouncilConfig{
			Members: []string{
				"openai/gpt-5.2",
				"anthropic/claude-sonnet-4.5",
				"google/gemini-3-pro-preview",
				"x-ai/grok-4",
			},
			Chairman: "google/gemini-3-pro-preview",
			Rankers:  "all",
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/conclave.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CONCLAVE_CONFIG")
	if path == "" {
		path = "config/conclave.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.OpenRouter.APIKey = v
	}
	if v := os.Getenv("OPENROUTER_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.OpenRouter.Timeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("CONCLAVE_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("CONCLAVE_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("CONCLAVE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CONCLAVE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CONCLAVE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CONCLAVE_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}

func validate(cfg *Config) error {
	if len(cfg.Council.Members) < 2 {
		return fmt.Errorf("council needs at least 2 members, got %d", len(cfg.Council.Members))
	}
	if cfg.Council.Chairman == "" {
		return fmt.Errorf("council chairman is required")
	}
	switch cfg.Council.Rankers {
	case "", "all", "succeeded":
	default:
		return fmt.Errorf("invalid council.rankers %q (want all or succeeded)", cfg.Council.Rankers)
	}
	return nil
}
