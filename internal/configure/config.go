package configure

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const EnvPrefix = "PRESENCE"

func checkErr(err error) {
	if err != nil {
		zap.S().Fatalw("config",
			"error", err,
		)
	}
}

func New() *Config {
	initLogging("info")

	config := viper.New()

	// Default config
	b, _ := json.Marshal(defaults())
	tmp := viper.New()
	defaultConfig := bytes.NewReader(b)

	tmp.SetConfigType("json")
	checkErr(tmp.ReadConfig(defaultConfig))
	checkErr(config.MergeConfigMap(tmp.AllSettings()))

	pflag.String("config", "config.yaml", "Config file location")
	pflag.Bool("noheader", false, "Disable the startup header")

	pflag.Parse()
	checkErr(config.BindPFlags(pflag.CommandLine))

	// File
	config.SetConfigFile(config.GetString("config"))
	config.AddConfigPath(".")

	if err := config.ReadInConfig(); err == nil {
		checkErr(config.MergeInConfig())
	}

	// Environment
	config.SetEnvPrefix(EnvPrefix)
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AllowEmptyEnv(true)
	config.AutomaticEnv()

	bindEnvs(config, Config{})

	c := &Config{}
	checkErr(config.Unmarshal(&c))

	initLogging(c.Level)

	return c
}

func defaults() Config {
	c := Config{
		Level:      "info",
		ConfigFile: "config.yaml",
	}

	c.Mongo.URI = "mongodb://localhost:27017"
	c.Mongo.DB = "farmlink"
	c.Mongo.Collection = "users"

	c.Nats.URL = "nats://localhost:4222"
	c.Nats.Name = "presence"
	c.Nats.StatusBucket = "STATUS"
	c.Nats.WillBucket = "STATUS_WILL"
	c.Nats.ConnBucket = "STATUS_CONN"
	c.Nats.ConnTTL = 30 * time.Second
	c.Nats.Heartbeat = 10 * time.Second

	c.Presence.SettleDelay = time.Second
	c.Presence.WatchdogInterval = 10 * time.Second
	c.Presence.FlushDelay = 500 * time.Millisecond
	c.Presence.ConnectTimeout = 5 * time.Second
	c.Presence.WriteTimeout = 5 * time.Second
	c.Presence.CacheTTL = 5 * time.Second

	c.Sweeper.Interval = 15 * time.Second

	c.Http.Addr = "0.0.0.0"
	c.Http.Port = 3000

	c.Health.Bind = "0.0.0.0:9000"
	c.Monitoring.Bind = "0.0.0.0:9100"
	c.PProf.Bind = "127.0.0.1:9200"

	return c
}

func bindEnvs(config *viper.Viper, iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)

	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)

		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			continue
		}

		switch v.Kind() {
		case reflect.Struct:
			bindEnvs(config, v.Interface(), append(parts, tv)...)
		default:
			_ = config.BindEnv(strings.Join(append(parts, tv), "."))
		}
	}
}

type Config struct {
	Level      string `mapstructure:"level" json:"level"`
	ConfigFile string `mapstructure:"config" json:"config"`
	NoHeader   bool   `mapstructure:"noheader" json:"noheader"`

	Mongo struct {
		URI        string `mapstructure:"uri" json:"uri"`
		Username   string `mapstructure:"username" json:"username"`
		Password   string `mapstructure:"password" json:"password"`
		DB         string `mapstructure:"db" json:"db"`
		Direct     bool   `mapstructure:"direct" json:"direct"`
		Collection string `mapstructure:"collection" json:"collection"`
	} `mapstructure:"mongo" json:"mongo"`

	Nats struct {
		URL          string        `mapstructure:"url" json:"url"`
		User         string        `mapstructure:"user" json:"user"`
		Password     string        `mapstructure:"password" json:"password"`
		Name         string        `mapstructure:"name" json:"name"`
		StatusBucket string        `mapstructure:"status_bucket" json:"status_bucket"`
		WillBucket   string        `mapstructure:"will_bucket" json:"will_bucket"`
		ConnBucket   string        `mapstructure:"conn_bucket" json:"conn_bucket"`
		ConnTTL      time.Duration `mapstructure:"conn_ttl" json:"conn_ttl"`
		Heartbeat    time.Duration `mapstructure:"heartbeat" json:"heartbeat"`
	} `mapstructure:"nats" json:"nats"`

	Presence struct {
		// Mock runs the reconciler against in-memory stores.
		Mock             bool          `mapstructure:"mock" json:"mock"`
		SettleDelay      time.Duration `mapstructure:"settle_delay" json:"settle_delay"`
		WatchdogInterval time.Duration `mapstructure:"watchdog_interval" json:"watchdog_interval"`
		FlushDelay       time.Duration `mapstructure:"flush_delay" json:"flush_delay"`
		ConnectTimeout   time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
		WriteTimeout     time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
		CacheTTL         time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	} `mapstructure:"presence" json:"presence"`

	Sweeper struct {
		Enabled  bool          `mapstructure:"enabled" json:"enabled"`
		Interval time.Duration `mapstructure:"interval" json:"interval"`
	} `mapstructure:"sweeper" json:"sweeper"`

	Credentials struct {
		JWTSecret string `mapstructure:"jwt_secret" json:"jwt_secret"`
	} `mapstructure:"credentials" json:"credentials"`

	Http struct {
		Addr string `mapstructure:"addr" json:"addr"`
		Port int    `mapstructure:"port" json:"port"`
	} `mapstructure:"http" json:"http"`

	Health struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
	} `mapstructure:"health" json:"health"`

	PProf struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
	} `mapstructure:"pprof" json:"pprof"`

	Monitoring struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Bind    string `mapstructure:"bind" json:"bind"`
		Labels  Labels `mapstructure:"labels" json:"labels"`
	} `mapstructure:"monitoring" json:"monitoring"`
}

type Labels []struct {
	Key   string `mapstructure:"key" json:"key"`
	Value string `mapstructure:"value" json:"value"`
}

func (l Labels) ToPrometheus() prometheus.Labels {
	mp := prometheus.Labels{}

	for _, v := range l {
		mp[v.Key] = v.Value
	}

	return mp
}
