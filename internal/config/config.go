package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Auth struct {
		Issuer       string   `mapstructure:"issuer"`
		ClientID     string   `mapstructure:"client_id"`
		Scopes       []string `mapstructure:"scopes"`
		CallbackPort int      `mapstructure:"callback_port"`
		// LoginTimeout bounds how long a browser login may stay pending.
		LoginTimeout time.Duration `mapstructure:"login_timeout"`
	} `mapstructure:"auth"`
	Registry struct {
		APIBase    string `mapstructure:"api_base"`
		SearchBase string `mapstructure:"search_base"`
		// ProvBase is the provenance API serving lineage exploration.
		ProvBase string        `mapstructure:"prov_base"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"registry"`
	Retry struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		BaseDelay   time.Duration `mapstructure:"base_delay"`
	} `mapstructure:"retry"`
	Audit struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"audit"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("registry_mcp")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine: defaults plus env cover the full surface.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)
	config.Registry.APIBase = strings.TrimRight(config.Registry.APIBase, "/")
	config.Registry.SearchBase = strings.TrimRight(config.Registry.SearchBase, "/")
	if config.Registry.SearchBase == "" {
		config.Registry.SearchBase = config.Registry.APIBase
	}
	config.Registry.ProvBase = strings.TrimRight(config.Registry.ProvBase, "/")
	if config.Registry.ProvBase == "" {
		config.Registry.ProvBase = config.Registry.APIBase
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("auth.scopes", []string{"openid", "profile", "email", "offline_access"})
	viper.SetDefault("auth.callback_port", 0)
	viper.SetDefault("auth.login_timeout", 5*time.Minute)
	viper.SetDefault("registry.timeout", 30*time.Second)
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.base_delay", 500*time.Millisecond)
	viper.SetDefault("audit.path", "registry-mcp-audit.db")
	viper.SetDefault("listen_addr", ":8080")
}

// normalizeIssuer ensures the provided issuer string is in a predictable
// form. It removes any trailing slash and leaves the scheme and path intact,
// so users can paste the full URL from their identity provider's console.
func normalizeIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
