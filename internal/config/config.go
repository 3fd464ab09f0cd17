package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Driver names accepted in [[device]] driver.
const (
	DriverHTTP = "http"
	DriverMQTT = "mqtt"
)

type Config struct {
	MoneroRPC HostPort       `mapstructure:"monero-rpc"`
	Price     Price          `mapstructure:"price"`
	Devices   []Device       `mapstructure:"device"`
	Wallet    WalletConfig   `mapstructure:"wallet"`
	Delivery  DeliveryConfig `mapstructure:"delivery"`
	Journal   JournalConfig  `mapstructure:"journal"`
	MQTT      MQTTConfig     `mapstructure:"mqtt"`
	Influx    InfluxConfig   `mapstructure:"influx"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Server    ServerConfig   `mapstructure:"server"`
}

type HostPort struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type Price struct {
	XMRPerKWh float64 `mapstructure:"xmr-per-kwh"`
}

// Device is one metered switch. Monero is the wallet address whose incoming
// transfers pay for this device.
type Device struct {
	Location string `mapstructure:"location"`
	Host     string `mapstructure:"host"`
	Switch   int    `mapstructure:"switch"`
	Monero   string `mapstructure:"monero"`
	Driver   string `mapstructure:"driver"`
	Topic    string `mapstructure:"topic"`
}

type WalletConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StartHeight  uint64        `mapstructure:"start_height"`
	QueueSize    int           `mapstructure:"queue_size"`
}

type DeliveryConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	QueueSize    int           `mapstructure:"queue_size"`
}

type JournalConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
}

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads the TOML config file at path and applies CIPO_* environment
// overrides on top of it.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("monero-rpc.host", "127.0.0.1")
	v.SetDefault("monero-rpc.port", 18082)
	v.SetDefault("wallet.poll_interval", "1s")
	v.SetDefault("wallet.queue_size", 256)
	v.SetDefault("delivery.poll_interval", "10s")
	v.SetDefault("delivery.queue_size", 64)
	v.SetDefault("journal.queue_size", 1024)
	v.SetDefault("mqtt.client_id", "cipo")
	v.SetDefault("server.port", 0)

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	v.SetEnvPrefix("cipo")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicit env bindings for secrets that should not live in the file
	bindings := map[string]string{
		"mqtt.password":  "CIPO_MQTT_PASSWORD",
		"influx.token":   "CIPO_INFLUX_TOKEN",
		"redis.password": "CIPO_REDIS_PASSWORD",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	for i := range cfg.Devices {
		if cfg.Devices[i].Driver == "" {
			cfg.Devices[i].Driver = DriverHTTP
		}
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.MoneroRPC.Host == "" {
		return fmt.Errorf("required config missing: monero-rpc.host")
	}
	if c.MoneroRPC.Port <= 0 || c.MoneroRPC.Port > 65535 {
		return fmt.Errorf("invalid monero-rpc.port: %d", c.MoneroRPC.Port)
	}
	if c.Price.XMRPerKWh <= 0 {
		return fmt.Errorf("price.xmr-per-kwh must be positive, got %v", c.Price.XMRPerKWh)
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("required config missing: at least one [[device]]")
	}
	if c.Wallet.PollInterval <= 0 || c.Delivery.PollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Wallet.QueueSize < 0 || c.Delivery.QueueSize < 0 || c.Journal.QueueSize < 0 {
		return fmt.Errorf("queue sizes must not be negative")
	}

	seen := make(map[string]string, len(c.Devices))
	for i, d := range c.Devices {
		if d.Location == "" {
			return fmt.Errorf("device[%d]: required config missing: location", i)
		}
		if d.Monero == "" {
			return fmt.Errorf("device %s: required config missing: monero", d.Location)
		}
		if other, dup := seen[d.Monero]; dup {
			return fmt.Errorf("device %s: monero address already used by %s", d.Location, other)
		}
		seen[d.Monero] = d.Location

		switch d.Driver {
		case DriverHTTP:
			if d.Host == "" {
				return fmt.Errorf("device %s: required config missing: host", d.Location)
			}
		case DriverMQTT:
			if d.Topic == "" {
				return fmt.Errorf("device %s: required config missing: topic", d.Location)
			}
			if c.MQTT.Broker == "" {
				return fmt.Errorf("device %s: mqtt driver needs mqtt.broker", d.Location)
			}
		default:
			return fmt.Errorf("device %s: unknown driver %q", d.Location, d.Driver)
		}
	}
	return nil
}
