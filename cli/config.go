package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the chabi section of config.yaml, merged with secrets.yaml and
// overridden by CHABI_* environment variables.
type Config struct {
	Port            string `json:"port"`
	PageAccessToken string `json:"page_access_token" binding:"required"`
	VerifyToken     string `json:"verify_token" binding:"required"`
	AppSecret       string `json:"app_secret"`
	GraphURL        string `json:"graph_url" binding:"omitempty,url"`

	IsDebug            bool `json:"is_debug"`
	LogSamplingTickMs  int  `json:"log_sampling_tick_ms" binding:"gte=0"`
	LogSamplingAfterMs int  `json:"log_sampling_after_ms" binding:"gte=0"`

	DatabaseDriver string `json:"db_driver" binding:"omitempty,oneof=sqlite sqlite3 postgres pgx"`
	DatabaseURL    string `json:"db_url"`
	DatabasePath   string `json:"db_path"`
	DataKey        string `json:"data_key"`

	RedisAddr      string `json:"redis_addr"`
	RedisPassword  string `json:"redis_password"`
	RedisDB        int    `json:"redis_db" binding:"gte=0"`
	SeenTTLSeconds int    `json:"seen_ttl_seconds" binding:"gte=0"`
	SeenLimit      int    `json:"seen_limit" binding:"gte=0"`

	NLU         NLUConfig         `json:"nlu"`
	Postbacks   map[string]string `json:"postbacks"`
	AccountLink AccountLinkConfig `json:"account_link"`
}

// NLUConfig points at an API.AI compatible agent. An empty URL selects the echo bot.
type NLUConfig struct {
	URL   string `json:"url" binding:"omitempty,url"`
	Token string `json:"token" binding:"required_with=URL"`
	Lang  string `json:"lang"`
}

// AccountLinkConfig enables the login page when JWTKey is set.
type AccountLinkConfig struct {
	JWTKey         string            `json:"jwt_key"`
	CodeTTLSeconds int               `json:"code_ttl_seconds" binding:"gte=0"`
	LoginURL       string            `json:"login_url" binding:"omitempty,url"`
	ImageURL       string            `json:"image_url"`
	PageTitle      string            `json:"page_title"`
	LoginTitle     string            `json:"login_title"`
	LogoutTitle    string            `json:"logout_title"`
	Accounts       map[string]string `json:"accounts"`
	RedirectHosts  []string          `json:"redirect_hosts" binding:"dive,hostname"`
}

func (c Config) AccountLinkEnabled() bool {
	return c.AccountLink.JWTKey != ""
}

// Defaults fills unset values.
func (c *Config) Defaults() {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "chabi.db"
	}
	if c.SeenTTLSeconds == 0 {
		c.SeenTTLSeconds = 24 * 60 * 60
	}
	if c.SeenLimit == 0 {
		c.SeenLimit = 10000
	}
	if c.NLU.Lang == "" {
		c.NLU.Lang = "en"
	}
	if c.AccountLink.CodeTTLSeconds == 0 {
		c.AccountLink.CodeTTLSeconds = 600
	}
	if c.AccountLink.LoginTitle == "" {
		c.AccountLink.LoginTitle = "Log in to continue"
	}
	if c.AccountLink.LogoutTitle == "" {
		c.AccountLink.LogoutTitle = "Log out"
	}
	if c.Postbacks == nil {
		c.Postbacks = map[string]string{}
	}
}

var validatorOnce sync.Once
var validate *validator.Validate

func configValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validate = validator.New()
		validate.SetTagName("binding")
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

func (c Config) Validate() error {
	if err := configValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// loadConfig reads config.yaml and secrets.yaml, loads .env and applies the
// environment on top.
func loadConfig() (Config, error) {
	var cfg Config
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrusLogger.WithError(err).Warn("unable to load .env")
	}

	payload, err := readConfigFiles(os.Getenv("CHABI_CONFIG"), os.Getenv("CHABI_SECRETS"))
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg)
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// readConfigFiles returns the merged chabi section as json. A missing
// config.yaml is not an error: the environment may carry everything.
func readConfigFiles(configOverride, secretsOverride string) ([]byte, error) {
	configMap := map[string]interface{}{}
	configPath := firstExistingPath(configOverride, defaultConfigPath, "./config.yaml", "../config.yaml")
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &configMap); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
		logrusLogger.Printf("Loaded config from %s", configPath)
	}

	secretsMap := map[string]interface{}{}
	secretsPath := firstExistingPath(secretsOverride, defaultSecretsPath, "./secrets.yaml", "../secrets.yaml")
	if secretsPath != "" {
		data, err := readSecrets(secretsPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &secretsMap); err != nil {
			return nil, fmt.Errorf("parse secrets yaml: %w", err)
		}
		logrusLogger.Printf("Loaded secrets from %s", secretsPath)
	}

	merged, ok := mergeConfig(configMap, secretsMap).(map[string]interface{})
	if !ok {
		return nil, errors.New("merged config is not a map")
	}
	section := getMap(merged, "chabi")
	if section == nil {
		section = map[string]interface{}{}
	}
	payload, err := json.Marshal(section)
	if err != nil {
		return nil, fmt.Errorf("encode chabi config: %w", err)
	}
	return payload, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				logrusLogger.Warnf("ignoring %s=%q: not a number", key, v)
			}
		}
	}

	setString("CHABI_PORT", &cfg.Port)
	setString("CHABI_PAGE_ACCESS_TOKEN", &cfg.PageAccessToken)
	setString("CHABI_VERIFY_TOKEN", &cfg.VerifyToken)
	setString("CHABI_APP_SECRET", &cfg.AppSecret)
	setString("CHABI_GRAPH_URL", &cfg.GraphURL)
	if v := os.Getenv("CHABI_DEBUG"); v != "" {
		cfg.IsDebug, _ = strconv.ParseBool(v)
	}
	setString("CHABI_DATABASE_DRIVER", &cfg.DatabaseDriver)
	setString("CHABI_DATABASE_URL", &cfg.DatabaseURL)
	setString("CHABI_DATABASE_PATH", &cfg.DatabasePath)
	setString("CHABI_DATA_KEY", &cfg.DataKey)
	setString("CHABI_REDIS_ADDR", &cfg.RedisAddr)
	setString("CHABI_REDIS_PASSWORD", &cfg.RedisPassword)
	setInt("CHABI_REDIS_DB", &cfg.RedisDB)
	setInt("CHABI_SEEN_TTL_SECONDS", &cfg.SeenTTLSeconds)
	setString("CHABI_NLU_URL", &cfg.NLU.URL)
	setString("CHABI_NLU_TOKEN", &cfg.NLU.Token)
	setString("CHABI_NLU_LANG", &cfg.NLU.Lang)
	setString("CHABI_JWT_KEY", &cfg.AccountLink.JWTKey)
	setString("CHABI_LOGIN_URL", &cfg.AccountLink.LoginURL)
}
