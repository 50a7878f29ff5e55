package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultSources - список XMLTV-источников, используемый, если конфигурация его не задаёт.
var DefaultSources = []string{
	"https://raw.githubusercontent.com/AqFad2811/epg/main/epg.xml",
	"https://azimabid00.github.io/epg/astro_epg.xml",
	"https://azimabid00.github.io/epg/unifi_epg.xml",
	"https://epg.pw/xmltv/epg_ID.xml.gz",
	"https://epg.pw/xmltv/epg_IN.xml.gz",
	"https://i.mjh.nz/SamsungTVPlus/us.xml.gz",
	"https://i.mjh.nz/SamsungTVPlus/gb.xml.gz",
	"https://raw.githubusercontent.com/ydbf/MoveOnJoy/refs/heads/main/epg.xml",
	"https://raw.githubusercontent.com/dbghelp/mewatch-EPG/refs/heads/main/mewatch.xml",
	"https://iptvx.one/EPG",
	"https://epg.pw/api/epg.xml?channel_id=247795",
	"https://epg.pw/api/epg.xml?channel_id=62234",
	"https://epg.pw/api/epg.xml?channel_id=427680",
	"https://epg.pw/xmltv/epg_TH.xml",
	"https://animenosekai.github.io/japanterebi-xmltv/guide.xml",
	"https://www.open-epg.com/files/philippines1.xml.gz",
	"https://epgshare01.online/epgshare01/epg_ripper_SG1.xml.gz",
	"https://epgshare01.online/epgshare01/epg_ripper_UK1.xml.gz",
}

const (
	DefaultTTL           = 3600
	DefaultPort          = 10000
	DefaultFetchTimeout  = 60
	DefaultConcurrency   = 8
	DefaultRetryMax      = 2
	DefaultCacheCapacity = 64
	DefaultMaxBodyMB     = 512

	envPrefix = "EPG"
)

// Config хранит список источников EPG и параметры конвейера.
// Время задаётся в секундах.
type Config struct {
	Sources       []string `json:"sources" mapstructure:"sources"`
	DefaultTTL    int      `json:"default_ttl" mapstructure:"default_ttl"`
	Port          int      `json:"port" mapstructure:"port"`
	FetchTimeout  int      `json:"fetch_timeout" mapstructure:"fetch_timeout"`
	Concurrency   int      `json:"concurrency" mapstructure:"concurrency"`
	RetryMax      int      `json:"retry_max" mapstructure:"retry_max"`
	CacheCapacity int      `json:"cache_capacity" mapstructure:"cache_capacity"`
	MaxBodyMB     int      `json:"max_body_mb" mapstructure:"max_body_mb"`
	DatabaseURL   string   `json:"database_url" mapstructure:"database_url"`
}

// Validate проверяет числовые ограничения и то, что все источники - http(s) URL.
func (cfg *Config) Validate() error {
	if len(cfg.Sources) == 0 {
		return errors.New("no EPG sources configured")
	}
	if cfg.DefaultTTL < 1 {
		return errors.New("default ttl must be ≥ 1 second")
	}
	if cfg.FetchTimeout < 1 {
		return errors.New("fetch timeout must be ≥ 1 second")
	}
	if cfg.Concurrency < 1 {
		return errors.New("concurrency must be ≥ 1")
	}
	if cfg.RetryMax < 0 {
		return errors.New("retry max must be ≥ 0")
	}
	if cfg.CacheCapacity < 1 {
		return errors.New("cache capacity must be ≥ 1")
	}
	if cfg.MaxBodyMB < 1 {
		return errors.New("max body size must be ≥ 1 MB")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	for _, u := range cfg.Sources {
		parsed, err := url.ParseRequestURI(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("invalid EPG URL: %s", u)
		}
	}
	return nil
}

func (cfg *Config) TTL() time.Duration {
	return time.Duration(cfg.DefaultTTL) * time.Second
}

func (cfg *Config) FetchTimeoutDuration() time.Duration {
	return time.Duration(cfg.FetchTimeout) * time.Second
}

// MaxBodyBytes - предел размера документа источника после распаковки.
func (cfg *Config) MaxBodyBytes() int64 {
	return int64(cfg.MaxBodyMB) << 20
}

func (cfg *Config) Address() string {
	return fmt.Sprintf(":%d", cfg.Port)
}

// LoadConfig читает файл path (JSON или YAML по расширению), накладывает
// переменные окружения EPG_* и значения по умолчанию. Пустой path означает
// только окружение и умолчания.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Sources = normalizeSources(cfg.Sources)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sources", DefaultSources)
	v.SetDefault("default_ttl", DefaultTTL)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("fetch_timeout", DefaultFetchTimeout)
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("retry_max", DefaultRetryMax)
	v.SetDefault("cache_capacity", DefaultCacheCapacity)
	v.SetDefault("max_body_mb", DefaultMaxBodyMB)
	v.SetDefault("database_url", "")
}

// normalizeSources убирает пустые строки и пробелы по краям, порядок сохраняется.
func normalizeSources(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
