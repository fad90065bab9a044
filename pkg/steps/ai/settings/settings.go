package settings

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIKey      = "sk-TESTKEY"
	DefaultModel       = "google/gemma-3-27b-it"
	DefaultTemperature = 0.5
	DefaultMaxTokens   = 1000
	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultTimeout     = 60 * time.Second

	EnvPrefix = "MOON"
)

// Settings configures the text-generation provider.
type Settings struct {
	APIKey      string        `yaml:"api_key" json:"api_key" mapstructure:"api_key"`
	Model       string        `yaml:"model" json:"model" mapstructure:"model"`
	Temperature float64       `yaml:"temperature" json:"temperature" mapstructure:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens" mapstructure:"max_tokens"`
	Reasoning   bool          `yaml:"reasoning" json:"reasoning" mapstructure:"reasoning"`
	BaseURL     string        `yaml:"base_url" json:"base_url" mapstructure:"base_url"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
}

func NewSettings() *Settings {
	return &Settings{
		APIKey:      DefaultAPIKey,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Reasoning:   false,
		BaseURL:     DefaultBaseURL,
		Timeout:     DefaultTimeout,
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

func (s *Settings) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.APIKey, validation.Required),
		validation.Field(&s.Model, validation.Required),
		validation.Field(&s.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&s.MaxTokens, validation.Required, validation.Min(1)),
		validation.Field(&s.BaseURL, validation.Required, validation.By(isHTTPURL)),
		validation.Field(&s.Timeout, validation.Min(time.Duration(0))),
	)
}

func isHTTPURL(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

// DefaultPath returns the settings file inside the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to find config directory")
	}
	return filepath.Join(dir, "moon", "settings.yaml"), nil
}

// Load reads settings from the YAML file at path, letting MOON_* environment
// variables override individual keys (MOON_API_KEY, MOON_MODEL, ...). A
// missing file is created with the defaults.
func Load(path string) (*Settings, error) {
	defaults := NewSettings()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("Config not found. Writing default")
		if err := defaults.Save(path); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_key", defaults.APIKey)
	v.SetDefault("model", defaults.Model)
	v.SetDefault("temperature", defaults.Temperature)
	v.SetDefault("max_tokens", defaults.MaxTokens)
	v.SetDefault("reasoning", defaults.Reasoning)
	v.SetDefault("base_url", defaults.BaseURL)
	v.SetDefault("timeout", defaults.Timeout)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "could not read settings from %s", path)
	}

	ret := &Settings{}
	if err := v.Unmarshal(ret); err != nil {
		return nil, errors.Wrapf(err, "could not parse settings from %s", path)
	}
	log.Trace().Str("path", path).Str("model", ret.Model).Msg("Loaded settings")

	return ret, nil
}

// Save writes s as YAML to path, creating missing directories.
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "could not create config directory")
	}

	b, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "could not marshal settings")
	}

	if err := os.WriteFile(path, b, 0600); err != nil {
		return errors.Wrapf(err, "could not write settings to %s", path)
	}
	return nil
}
