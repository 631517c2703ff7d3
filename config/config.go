package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mbolis/voiceform/model"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr        string        `yaml:"-"`
	Host        string        `yaml:"host"`
	Port        uint          `yaml:"port"`
	DBUrl       string        `yaml:"dbUrl"`
	TokenSecret string        `yaml:"tokenSecret"`
	TokenTTL    time.Duration `yaml:"tokenTTL"`
	RefreshTTL  time.Duration `yaml:"refreshTTL"`
	Debug       bool          `yaml:"debug"`

	// RedisAddr enables the shared turn lock and snapshot fan-out between instances.
	RedisAddr string `yaml:"redisAddr"`

	OpenAI OpenAI `yaml:"openai"`
	// FollowUps selects the adaptive policy: off, rules or llm.
	FollowUps string `yaml:"followUps"`

	// Webhooks receive every completion, on top of per-form integrations.
	Webhooks      []model.Webhook `yaml:"webhooks"`
	NotifyTimeout time.Duration   `yaml:"notifyTimeout"`

	Admin Admin `yaml:"admin"`
}

type OpenAI struct {
	APIKey     string  `yaml:"apiKey"`
	BaseURL    string  `yaml:"baseUrl"`
	ChatModel  string  `yaml:"chatModel"`
	STTModel   string  `yaml:"sttModel"`
	TTSModel   string  `yaml:"ttsModel"`
	Voice      string  `yaml:"voice"`
	RatePerSec float64 `yaml:"ratePerSec"`
}

// Admin is an owner account created at startup when both fields are set.
type Admin struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Plan     string `yaml:"plan"`
}

const (
	FollowUpsOff   = "off"
	FollowUpsRules = "rules"
	FollowUpsLLM   = "llm"
)

func Default() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          80,
		DBUrl:         "voiceform.sqlite",
		TokenTTL:      2 * time.Minute,
		RefreshTTL:    8760 * time.Hour,
		FollowUps:     FollowUpsRules,
		NotifyTimeout: 2 * time.Minute,
		Admin:         Admin{Plan: "free"},
	}
}

func ParseFlags() (Config, error) {
	return Parse(os.Args[1:])
}

// Parse reads the optional -config YAML file first; flags given on the
// command line override its values.
func Parse(args []string) (cfg Config, err error) {
	cfg = Default()
	if path := configPath(args); path != "" {
		if cfg, err = Load(path); err != nil {
			return
		}
	}

	fs := flag.NewFlagSet("voiceform", flag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "listen host name")
	fs.UintVar(&cfg.Port, "port", cfg.Port, "listen port number")
	fs.StringVar(&cfg.DBUrl, "db-url", cfg.DBUrl, "path to SQLite3 DB file")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "secret key for token encryption and decryption")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "access token TTL")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log at DEBUG level")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for shared session locks and snapshots")
	fs.StringVar(&cfg.OpenAI.APIKey, "openai-key", cfg.OpenAI.APIKey, "API key for speech and follow-up models")
	fs.StringVar(&cfg.OpenAI.BaseURL, "openai-url", cfg.OpenAI.BaseURL, "base URL of an OpenAI compatible API")
	fs.StringVar(&cfg.FollowUps, "follow-ups", cfg.FollowUps, "adaptive follow-up policy: off, rules or llm")
	fs.StringVar(&cfg.Admin.User, "admin-user", cfg.Admin.User, "owner account to create at startup")
	fs.StringVar(&cfg.Admin.Password, "admin-password", cfg.Admin.Password, "password of the startup owner account")
	if err = fs.Parse(args); err != nil {
		return
	}

	cfg.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port)))
	err = cfg.Validate()
	return
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	if cfg.TokenSecret == "" {
		return errors.New("missing parameter -token-secret")
	}
	switch cfg.FollowUps {
	case FollowUpsOff, FollowUpsRules:
	case FollowUpsLLM:
		if cfg.OpenAI.APIKey == "" {
			return errors.New("-follow-ups=llm needs -openai-key")
		}
	default:
		return fmt.Errorf("unknown follow-up policy %q", cfg.FollowUps)
	}
	return nil
}

func configPath(args []string) string {
	for i, arg := range args {
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(name, "config=") {
			return strings.TrimPrefix(name, "config=")
		}
	}
	return ""
}

func (cfg Config) Url() (url string) {
	url = cfg.Addr
	url = regexp.MustCompile(`^0.0.0.0`).ReplaceAllString(url, "localhost")
	url = "http://" + url
	return
}
