package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

func (c *DBCredential) Dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s",
		c.Address, c.Port, c.User, c.Password, c.Database)
}

// GetRedisAddress returns host:port.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

// Enabled reports whether the credential was configured at all.
func (c *DBCredential) Enabled() bool {
	return c.Address != ""
}

// Configuration struct
type Configuration struct {
	LogLevel         int               `yaml:"log_level"`
	HTTPAddr         string            `yaml:"http_addr"`
	HTTPTimeout      time.Duration     `yaml:"http_timeout"`
	Snap             Snap              `yaml:"snap"`
	Flipper          map[string]string `yaml:"flipper"`
	RedisCredential  DBCredential      `yaml:"redis"`
	Postgres         DBCredential      `yaml:"postgres"`
	KafkaServer      string            `yaml:"kafka-server"`
	KafkaTopic       string            `yaml:"kafka-topic"`
	Aws              Aws               `yaml:"aws"`
	SentryDSN        string            `yaml:"sentry_dsn"`
	LarkAlarmWebhook string            `yaml:"lark_alarm_webhook"`
	DingTalk         DingTalk          `yaml:"dingtalk"`
	ReportSilence    time.Duration     `yaml:"report_silence"`
	MetadataCacheTTL time.Duration     `yaml:"metadata_cache_ttl"`
	APIRatePerSecond int               `yaml:"api_rate_per_second"`
	MaxInFlight      int               `yaml:"max_in_flight"`
}

// Snap describes the wallet snap and the relay used to reach it.
type Snap struct {
	// Origin is the snap id, e.g. npm:@reef-chain/snap or local:http://localhost:8080
	Origin      string `yaml:"origin"`
	Version     string `yaml:"version"`
	BridgeURL   string `yaml:"bridge_url"`
	RequestRate int    `yaml:"request_rate"`
}

// IsLocal reports whether the snap is served from a local dev server.
func (in Snap) IsLocal() bool {
	return len(in.Origin) >= 6 && in.Origin[:6] == "local:"
}

type DingTalk struct {
	Webhook string `yaml:"webhook"`
	Secret  string `yaml:"secret"`
}

type Aws struct {
	Region         string `yaml:"region"`
	KeystoreBucket string `yaml:"keystore_bucket"`
	PasswordParam  string `yaml:"password_param"`
}

func (in Aws) Enabled() bool {
	return in.Region != ""
}

const (
	DefaultSnapOrigin = "npm:@reef-chain/snap"
	DefaultHTTPAddr   = ":8080"
	DefaultKafkaTopic = "snap_bridge_events"

	DefaultHTTPTimeout = 5 * time.Minute
)

func (c *Configuration) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.Snap.Origin == "" {
		c.Snap.Origin = DefaultSnapOrigin
	}
	if c.Snap.Version == "" {
		c.Snap.Version = "*"
	}
	if c.Snap.RequestRate <= 0 {
		c.Snap.RequestRate = 20
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = DefaultKafkaTopic
	}
	if c.ReportSilence <= 0 {
		c.ReportSilence = time.Minute
	}
	if c.MetadataCacheTTL <= 0 {
		c.MetadataCacheTTL = time.Hour
	}
	if c.Flipper == nil {
		c.Flipper = map[string]string{}
	}
}

// Load reads and decodes the yaml file at path.
func Load(path string) (*Configuration, error) {
	logrus.Infof("Loading configuration file from %s", path)
	dat, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s does not exist", path)
		}
		return nil, err
	}
	return Parse(dat)
}

// Parse decodes yaml content and applies defaults.
func Parse(dat []byte) (*Configuration, error) {
	t := Configuration{}
	if err := yaml.Unmarshal(dat, &t); err != nil {
		return nil, fmt.Errorf("fail to decode config: %w", err)
	}
	t.applyDefaults()
	return &t, nil
}

var Global *Configuration

// Read loads the configuration named by -config-path into Global, exiting on failure.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	globalConfig, err := Load(*configFilePath)
	if err != nil {
		logrus.Fatal(err)
	}
	Global = globalConfig
}
