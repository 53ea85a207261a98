// Package config — загрузка и валидация конфигурации SPECTRA.
// Секреты аккаунтов (API ID/hash, телефон) могут перекрываться из
// .env (github.com/joho/godotenv), структурные параметры системы (аккаунты, расписания,
// организация топиков) — из JSON-документа. Итоговая конфигурация — валидированный
// потокобезопасный синглтон, как в оригинальном userbot: Load() один раз, Env() — чтение.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// AccountConfig описывает один аккаунт пула.
type AccountConfig struct {
	Identifier  string `json:"identifier"`
	APIID       int    `json:"api_id"`
	APIHash     string `json:"api_hash"`
	PhoneNumber string `json:"phone_number"`
	SessionFile string `json:"session_file"`
	PeerDBFile  string `json:"peer_db_file"`
}

// OrganizationConfig — глобальные настройки организации топиков (поканальные
// override'ы живут в хранилище).
type OrganizationConfig struct {
	Mode                          string  `json:"mode"`
	TopicStrategy                 string  `json:"topic_strategy"`
	FallbackStrategy              string  `json:"fallback_strategy"`
	AutoCleanupEmptyTopics        bool    `json:"auto_cleanup_empty_topics"`
	MaxTopicsPerChannel           int     `json:"max_topics_per_channel"`
	TopicCreationCooldownSeconds  int     `json:"topic_creation_cooldown_seconds"`
	EnableContentAnalysis         bool    `json:"enable_content_analysis"`
	ClassificationConfidenceFloor float64 `json:"classification_confidence_threshold"`
	GeneralTopicTitle             string  `json:"general_topic_title"`
}

// ProxyConfig — параметры исходящего прокси для MTProto-подключений.
type ProxyConfig struct {
	Enabled  bool   `json:"enabled"`
	Type     string `json:"type"` // socks5 | socks4 | http
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ForwardingConfig — поведение форвардера по умолчанию.
type ForwardingConfig struct {
	ForwardWithAttribution     bool  `json:"forward_with_attribution"`
	EnableDeduplication        bool  `json:"enable_deduplication"`
	DefaultDestinationID       int64 `json:"default_destination_id"`
	SecondaryUniqueDestination int64 `json:"secondary_unique_destination,omitempty"`
}

// AttributionConfig — шаблон заголовка атрибуции и исключения по назначениям.
type AttributionConfig struct {
	Template        string  `json:"template"`
	TimestampFormat string  `json:"timestamp_format"`
	DisableForDests []int64 `json:"disable_attribution_for_groups"`
}

// GroupingConfig — стратегия группировщика сообщений.
type GroupingConfig struct {
	Strategy          string `json:"strategy"`
	TimeWindowSeconds int    `json:"time_window_seconds"`
}

// SchedulerConfig — персистентность и лимиты планировщика/воркера очереди.
type SchedulerConfig struct {
	StateFile          string `json:"state_file"`
	BandwidthLimitKBps int    `json:"bandwidth_limit_kbps"`
}

// Document — структурная (несекретная) часть конфигурации, загружаемая из JSON.
type Document struct {
	Accounts     []AccountConfig    `json:"accounts"`
	DBPath       string             `json:"db_path"`
	MediaDir     string             `json:"media_dir"`
	LogLevel     string             `json:"log_level"`
	LogFile      string             `json:"log_file"`
	Timezone     string             `json:"timezone"`
	Proxy        ProxyConfig        `json:"proxy"`
	ThrottleRPS  int                `json:"throttle_rps"`
	Forwarding   ForwardingConfig   `json:"forwarding"`
	Attribution  AttributionConfig  `json:"attribution"`
	Grouping     GroupingConfig     `json:"grouping"`
	Organization OrganizationConfig `json:"topic_organization"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	TestDC       bool               `json:"test_dc"`
}

// Config — декодированный Document плюс производное состояние (таймзона, предупреждения).
type Config struct {
	mu       sync.RWMutex
	doc      Document
	loc      *time.Location
	warnings []string
}

var (
	once     sync.Once
	instance *Config
	loadErr  error
)

// Load разбирает необязательный .env (секреты и override'ы) и JSON-документ по
// configPath, валидируя и санитизируя результат. Load вызывается один раз;
// повторные вызовы возвращают ошибку первого.
func Load(envPath, configPath string) error {
	once.Do(func() {
		instance, loadErr = loadConfig(envPath, configPath)
	})
	return loadErr
}

// Loaded сообщает, прошла ли загрузка конфигурации.
func Loaded() bool { return instance != nil }

// Env возвращает загруженный синглтон. Паникует, если Load ещё не прошёл:
// Env() зовётся только после успешного бутстрапа.
func Env() *Config {
	if instance == nil {
		panic("config: Load must succeed before Env() is used")
	}
	return instance
}

func loadConfig(envPath, configPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load .env %s: %w", envPath, err)
		}
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", configPath, err)
	}

	cfg := &Config{doc: doc}
	cfg.applyEnvOverrides()

	if err := cfg.sanitize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides даёт значениям из .env приоритет над JSON для секретов, которым
// не место в файле конфигурации (API-ключи, телефоны). Сопоставление по Identifier
// через SPECTRA_ACCOUNT_<IDENTIFIER>_{API_ID,API_HASH,PHONE}.
func (c *Config) applyEnvOverrides() {
	for i, acc := range c.doc.Accounts {
		prefix := "SPECTRA_ACCOUNT_" + sanitizeEnvKey(acc.Identifier) + "_"
		if v := os.Getenv(prefix + "API_ID"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.doc.Accounts[i].APIID = n
			}
		}
		if v := os.Getenv(prefix + "API_HASH"); v != "" {
			c.doc.Accounts[i].APIHash = v
		}
		if v := os.Getenv(prefix + "PHONE"); v != "" {
			c.doc.Accounts[i].PhoneNumber = v
		}
	}
}

var envKeyPattern = regexp.MustCompile(`[^A-Za-z0-9]+`)

func sanitizeEnvKey(id string) string {
	return strings.ToUpper(envKeyPattern.ReplaceAllString(id, "_"))
}

func (c *Config) appendWarningf(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// sanitize валидирует документ и заполняет дефолты, накапливая нефатальные
// предупреждения. Жёсткие ошибки — только для того, с чем запускаться опасно:
// нет аккаунтов, отрицательные лимиты, неизвестные enum-значения.
func (c *Config) sanitize() error {
	if len(c.doc.Accounts) == 0 {
		return fmt.Errorf("config: at least one account is required")
	}
	for i, acc := range c.doc.Accounts {
		if acc.Identifier == "" {
			return fmt.Errorf("config: accounts[%d] missing identifier", i)
		}
		if acc.APIID == 0 || acc.APIHash == "" {
			return fmt.Errorf("config: account %q missing api_id/api_hash", acc.Identifier)
		}
		if acc.SessionFile == "" {
			c.doc.Accounts[i].SessionFile = fmt.Sprintf("data/%s.session", acc.Identifier)
			c.appendWarningf("account %s: session_file defaulted to %s", acc.Identifier, c.doc.Accounts[i].SessionFile)
		}
		if acc.PeerDBFile == "" {
			c.doc.Accounts[i].PeerDBFile = fmt.Sprintf("data/%s.peers.db", acc.Identifier)
		}
	}

	if c.doc.DBPath == "" {
		c.doc.DBPath = "data/spectra.db"
		c.appendWarningf("db_path defaulted to %s", c.doc.DBPath)
	}
	if c.doc.MediaDir == "" {
		c.doc.MediaDir = "data/media"
	}
	if c.doc.ThrottleRPS <= 0 {
		c.doc.ThrottleRPS = 1
		c.appendWarningf("throttle_rps defaulted to 1")
	}
	if c.doc.Scheduler.BandwidthLimitKBps < 0 {
		return fmt.Errorf("config: scheduler.bandwidth_limit_kbps must be >= 0")
	}
	if c.doc.Grouping.Strategy == "" {
		c.doc.Grouping.Strategy = "none"
	}
	switch c.doc.Grouping.Strategy {
	case "none", "filename", "time":
	default:
		return fmt.Errorf("config: unknown grouping strategy %q", c.doc.Grouping.Strategy)
	}
	if c.doc.Grouping.TimeWindowSeconds <= 0 {
		c.doc.Grouping.TimeWindowSeconds = 300
	}

	if c.doc.Proxy.Enabled {
		switch c.doc.Proxy.Type {
		case "socks5", "socks4", "http":
		default:
			return fmt.Errorf("config: unknown proxy type %q", c.doc.Proxy.Type)
		}
		if c.doc.Proxy.Host == "" || c.doc.Proxy.Port <= 0 {
			return fmt.Errorf("config: proxy enabled but host/port missing")
		}
	}

	c.sanitizeOrganization()

	if c.doc.Scheduler.StateFile == "" {
		c.doc.Scheduler.StateFile = "data/scheduler.json"
	}

	loc, err := c.parseLocation()
	if err != nil {
		return err
	}
	c.loc = loc

	return nil
}

func (c *Config) sanitizeOrganization() {
	o := &c.doc.Organization
	if o.Mode == "" {
		o.Mode = "disabled"
	}
	if o.TopicStrategy == "" {
		o.TopicStrategy = "content_type"
	}
	if o.FallbackStrategy == "" {
		o.FallbackStrategy = "no_topic"
	}
	if o.MaxTopicsPerChannel <= 0 {
		o.MaxTopicsPerChannel = 100
	}
	if o.TopicCreationCooldownSeconds <= 0 {
		o.TopicCreationCooldownSeconds = 30
	}
	if o.ClassificationConfidenceFloor <= 0 {
		o.ClassificationConfidenceFloor = 0.7
	}
	if o.GeneralTopicTitle == "" {
		o.GeneralTopicTitle = "General Discussion"
	}
}

// parseLocation разбирает doc.Timezone: IANA-имена либо смещения вида "+03:00" и "UTC+3".
func (c *Config) parseLocation() (*time.Location, error) {
	tz := strings.TrimSpace(c.doc.Timezone)
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return time.UTC, nil
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc, nil
	}
	if loc, ok := parseUTCOffsetToLocation(tz); ok {
		return loc, nil
	}
	return nil, fmt.Errorf("config: invalid timezone %q", tz)
}

var utcOffsetPattern = regexp.MustCompile(`(?i)^(?:UTC|GMT)?\s*([+-])\s*(\d{1,2})(?::?(\d{2}))?$`)

func parseUTCOffsetToLocation(raw string) (*time.Location, bool) {
	m := utcOffsetPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, false
	}
	sign := 1
	if m[1] == "-" {
		sign = -1
	}
	hours, _ := strconv.Atoi(m[2])
	minutes := 0
	if m[3] != "" {
		minutes, _ = strconv.Atoi(m[3])
	}
	if hours > 14 || minutes > 59 {
		return nil, false
	}
	offset := sign * (hours*3600 + minutes*60)
	return time.FixedZone(fmt.Sprintf("UTC%s%02d:%02d", m[1], hours, minutes), offset), true
}

// Accounts возвращает настроенный пул аккаунтов.
func (c *Config) Accounts() []AccountConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AccountConfig, len(c.doc.Accounts))
	copy(out, c.doc.Accounts)
	return out
}

// DatabasePath — путь к файлу SQLite.
func (c *Config) DatabasePath() string { return c.doc.DBPath }

// ScratchDir — каталог временных скачиваний (хеширование, staging файлов).
func (c *Config) ScratchDir() string { return c.doc.MediaDir }

// LogLevel — имя уровня логирования zap.
func (c *Config) LogLevel() string { return c.doc.LogLevel }

// LogFile — необязательный путь ротируемого лог-файла (пусто — только stdout/stderr).
func (c *Config) LogFile() string { return c.doc.LogFile }

// ThrottleRPS — базовый RPS-бюджет на аккаунт.
func (c *Config) ThrottleRPS() int { return c.doc.ThrottleRPS }

// BandwidthLimitKBps — лимит полосы воркера очереди, 0 — без ограничения.
func (c *Config) BandwidthLimitKBps() int { return c.doc.Scheduler.BandwidthLimitKBps }

// GroupingStrategy — настроенная стратегия группировки (none/filename/time).
func (c *Config) GroupingStrategy() string { return c.doc.Grouping.Strategy }

// GroupingWindow — окно временной группировки.
func (c *Config) GroupingWindow() time.Duration {
	return time.Duration(c.doc.Grouping.TimeWindowSeconds) * time.Second
}

// EnableDeduplication сообщает, активна ли дедупликация.
func (c *Config) EnableDeduplication() bool { return c.doc.Forwarding.EnableDeduplication }

// Forwarding — поведение форвардера по умолчанию.
func (c *Config) Forwarding() ForwardingConfig { return c.doc.Forwarding }

// Attribution — шаблон атрибуции и исключения.
func (c *Config) Attribution() AttributionConfig { return c.doc.Attribution }

// Proxy — параметры исходящего прокси.
func (c *Config) Proxy() ProxyConfig { return c.doc.Proxy }

// Organization — настройки движка организации.
func (c *Config) Organization() OrganizationConfig { return c.doc.Organization }

// SchedulerStateFile — путь снапшота состояния планировщика.
func (c *Config) SchedulerStateFile() string { return c.doc.Scheduler.StateFile }

// TestDC — ходить ли в тестовый кластер датацентров Telegram.
func (c *Config) TestDC() bool { return c.doc.TestDC }

// Location — таймзона приложения для расписаний и меток времени.
func (c *Config) Location() *time.Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Warnings — нефатальные проблемы, накопленные при санитизации конфигурации.
func (c *Config) Warnings() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.warnings))
	copy(out, c.warnings)
	return out
}
