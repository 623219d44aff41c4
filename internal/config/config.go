package config

import (
	"errors"
	"strings"
	"time"

	"github.com/phuslu/log"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"nuha.dev/udpgps/internal/udpgps"
)

type Config struct {
	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`

	// listener
	Port        string `mapstructure:"port"`
	Bind        string `mapstructure:"bind"`
	ProxyHeader bool   `mapstructure:"proxy_header"`
	ApiAddress  string `mapstructure:"api_address"`
	WsAddress   string `mapstructure:"ws_address"`
	DbUrl       string `mapstructure:"db_url"`
	DbTable     string `mapstructure:"db_table" validate:"required"`
	NatsUrl     string `mapstructure:"nats_url"`
	NatsSubject string `mapstructure:"nats_subject" validate:"required"`
	LogReadings bool   `mapstructure:"log_readings"`

	// sender
	Host      string        `mapstructure:"host"`
	Interval  time.Duration `mapstructure:"interval" validate:"gt=0"`
	Latitude  float64       `mapstructure:"lat" validate:"gte=-90,lte=90"`
	Longitude float64       `mapstructure:"lon" validate:"gte=-180,lte=180"`
	Simulate  bool          `mapstructure:"sim"`
	Probe     time.Duration `mapstructure:"probe" validate:"gte=0"`
}

// New returns a viper instance with every default set and UDPGPS_ env
// overrides enabled.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("port", "")
	v.SetDefault("bind", "")
	v.SetDefault("proxy_header", false)
	v.SetDefault("api_address", "")
	v.SetDefault("ws_address", "")
	v.SetDefault("db_url", "")
	v.SetDefault("db_table", "locations")
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject", "udpgps.location")
	v.SetDefault("log_readings", false)
	v.SetDefault("host", "")
	v.SetDefault("interval", time.Second)
	v.SetDefault("lat", 0.0)
	v.SetDefault("lon", 0.0)
	v.SetDefault("sim", false)
	v.SetDefault("probe", time.Duration(0))
	v.SetEnvPrefix("udpgps")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads path, or udpgps.{yaml,json,toml} from the working directory
// when path is empty. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("udpgps")
		v.AddConfigPath(".")
	}
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if path == "" && errors.As(err, &notFound) {
		return nil
	}
	return err
}

func Load(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, &udpgps.Error{Kind: udpgps.ErrConfig, Msg: "invalid configuration", Err: err}
	}
	if err := udpgps.Validator().Struct(c); err != nil {
		return nil, &udpgps.Error{Kind: udpgps.ErrConfig, Msg: "invalid configuration", Err: err}
	}
	return c, nil
}

// SetupLogging applies LogLevel to both loggers. Call it before building
// components, which copy the default logger.
func (c *Config) SetupLogging() {
	log.DefaultLogger.Level = log.ParseLevel(c.LogLevel)
	if lvl, err := zerolog.ParseLevel(c.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
}
