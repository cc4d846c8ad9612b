package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "STEEPLE"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "steeple.db"
	defaultLogLevel     = "info"
	defaultEnvironment  = "production"
	defaultTokenIssuer  = "steeple-auth"
	defaultTokenTTL     = 12 * time.Hour
)

// RockConfig addresses the upstream church-management API.
type RockConfig struct {
	BaseURL   string
	Token     string
	UsePlugin bool
}

// AuthConfig configures session token issuance and validation.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
	TokenTTL      time.Duration
}

// ContentConfig maps upstream channel types onto the API's content item types.
type ContentConfig struct {
	SermonChannelID         int   `mapstructure:"sermon_channel_id"`
	SeriesChannelTypeIDs    []int `mapstructure:"series_channel_type_ids"`
	SermonChannelTypeIDs    []int `mapstructure:"sermon_channel_type_ids"`
	DevotionalChannelTypes  []int `mapstructure:"devotional_channel_type_ids"`
	MediaChannelTypeIDs     []int `mapstructure:"media_channel_type_ids"`
	CampaignChannelIDs      []int `mapstructure:"campaign_channel_ids"`
	FeedChannelIDs          []int `mapstructure:"feed_channel_ids"`
	PersonaDataViewCategory int   `mapstructure:"persona_data_view_category"`
}

// AlgorithmRef names an action algorithm plus its arguments, as configured in
// a feature definition.
type AlgorithmRef struct {
	Type      string         `mapstructure:"type" json:"type"`
	Arguments map[string]any `mapstructure:"arguments" json:"arguments,omitempty"`
}

// FeatureDefinition is one statically configured unit of feed content.
type FeatureDefinition struct {
	Type       string         `mapstructure:"type" json:"type"`
	Algorithms []AlgorithmRef `mapstructure:"algorithms" json:"algorithms,omitempty"`
	Title      string         `mapstructure:"title" json:"title,omitempty"`
	Subtitle   string         `mapstructure:"subtitle" json:"subtitle,omitempty"`
	Body       string         `mapstructure:"body" json:"body,omitempty"`
	URL        string         `mapstructure:"url" json:"url,omitempty"`
	NodeID     string         `mapstructure:"node_id" json:"nodeId,omitempty"`
}

// TabConfig is one top-level app tab with its ordered feature list.
type TabConfig struct {
	Title    string              `mapstructure:"title"`
	Icon     string              `mapstructure:"icon"`
	Features []FeatureDefinition `mapstructure:"features"`
}

// FeedsConfig holds the static feed buckets the assembler resolves against.
type FeedsConfig struct {
	Home     []FeatureDefinition            `mapstructure:"home"`
	Discover []FeatureDefinition            `mapstructure:"discover"`
	Tabs     map[string][]FeatureDefinition `mapstructure:"tabs"`
}

// AppConfig captures runtime configuration for the API server. It is an
// immutable value handed to constructors; nothing reads configuration
// globally after startup.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	Environment  string
	Rock         RockConfig
	Auth         AuthConfig
	Content      ContentConfig
	Feeds        FeedsConfig
	AppTabs      []TabConfig
	ModelNames   map[string]string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("environment", defaultEnvironment)
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.token_ttl_minutes", int(defaultTokenTTL.Minutes()))
	configViper.SetDefault("rock.use_plugin", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		Environment:  configViper.GetString("environment"),
		Rock: RockConfig{
			BaseURL:   configViper.GetString("rock.base_url"),
			Token:     configViper.GetString("rock.token"),
			UsePlugin: configViper.GetBool("rock.use_plugin"),
		},
		Auth: AuthConfig{
			SigningSecret: configViper.GetString("auth.signing_secret"),
			Issuer:        configViper.GetString("auth.issuer"),
			TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		},
		ModelNames: defaultModelNames(),
	}

	if err := configViper.UnmarshalKey("content", &cfg.Content); err != nil {
		return AppConfig{}, fmt.Errorf("config: parsing content mappings: %w", err)
	}
	if err := configViper.UnmarshalKey("feeds", &cfg.Feeds); err != nil {
		return AppConfig{}, fmt.Errorf("config: parsing feed definitions: %w", err)
	}
	if err := configViper.UnmarshalKey("app_tabs", &cfg.AppTabs); err != nil {
		return AppConfig{}, fmt.Errorf("config: parsing app tabs: %w", err)
	}
	for name, overridden := range configViper.GetStringMapString("rock.model_names") {
		cfg.ModelNames[name] = overridden
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Rock.BaseURL) == "" {
		return fmt.Errorf("rock.base_url is required")
	}
	if strings.TrimSpace(c.Rock.Token) == "" {
		return fmt.Errorf("rock.token is required")
	}
	if strings.TrimSpace(c.Auth.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// defaultModelNames covers every node type the API can address upstream. The
// content item variants all resolve to the same upstream model.
func defaultModelNames() map[string]string {
	return map[string]string{
		"ContentItem":              "Rock.Model.ContentChannelItem",
		"UniversalContentItem":     "Rock.Model.ContentChannelItem",
		"DevotionalContentItem":    "Rock.Model.ContentChannelItem",
		"WeekendContentItem":       "Rock.Model.ContentChannelItem",
		"MediaContentItem":         "Rock.Model.ContentChannelItem",
		"ContentSeriesContentItem": "Rock.Model.ContentChannelItem",
		"PrayerRequest":            "Rock.Model.PrayerRequest",
		"Person":                   "Rock.Model.Person",
		"Campus":                   "Rock.Model.Campus",
		"Event":                    "Rock.Model.EventItemOccurrence",
	}
}
