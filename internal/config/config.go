// Package config loads the settings of the hub, gNB and UE binaries from an
// optional YAML file and NRSIM_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/gnb"
	"github.com/DmitriyRodin/5G-RAN-Simulator/internal/ue"
	"github.com/DmitriyRodin/5G-RAN-Simulator/pkg/simproto"
)

const EnvPrefix = "NRSIM"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Log     Log     `mapstructure:"log"`
	Hub     Hub     `mapstructure:"hub"`
	Gnb     Gnb     `mapstructure:"gnb"`
	Ue      Ue      `mapstructure:"ue"`
	Metrics Metrics `mapstructure:"metrics"`
	Inspect Inspect `mapstructure:"inspect"`

	// QueueDepth bounds the event queue of every actor.
	QueueDepth int `mapstructure:"queue_depth"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`

	// Flow enables the message sequence log.
	Flow bool `mapstructure:"flow"`
}

type Hub struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type Gnb struct {
	ID   uint32 `mapstructure:"id"`
	Port int    `mapstructure:"port"`

	Tac        uint16 `mapstructure:"tac"`
	Mcc        int16  `mapstructure:"mcc"`
	Mnc        int16  `mapstructure:"mnc"`
	MinRxLevel int16  `mapstructure:"min_rx_level"`

	TickInterval      time.Duration `mapstructure:"tick_interval"`
	Sib1Interval      time.Duration `mapstructure:"sib1_interval"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	ContextTTL        time.Duration `mapstructure:"context_ttl"`
	Hysteresis        float64       `mapstructure:"hysteresis"`
	CrntiSeed         uint16        `mapstructure:"crnti_seed"`
}

type Ue struct {
	ID   uint32 `mapstructure:"id"`
	Port int    `mapstructure:"port"`

	TickInterval     time.Duration `mapstructure:"tick_interval"`
	WarmUp           time.Duration `mapstructure:"warm_up"`
	ReportInterval   time.Duration `mapstructure:"report_interval"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	SelectedPlmn     uint32        `mapstructure:"selected_plmn"`
}

type Metrics struct {
	// Addr serves /metrics when set, e.g. ":9100".
	Addr string `mapstructure:"addr"`
}

type Inspect struct {
	// Addr serves the gRPC inspection service when set.
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers every key with its default value. Environment
// overrides only apply to registered keys.
func SetDefaults(v *viper.Viper) {
	g := gnb.DefaultConfig()
	u := ue.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.flow", true)

	v.SetDefault("hub.host", "127.0.0.1")
	v.SetDefault("hub.port", 5000)

	v.SetDefault("gnb.id", 1)
	v.SetDefault("gnb.port", 0)
	v.SetDefault("gnb.tac", g.Cell.Tac)
	v.SetDefault("gnb.mcc", g.Cell.Mcc)
	v.SetDefault("gnb.mnc", g.Cell.Mnc)
	v.SetDefault("gnb.min_rx_level", g.Cell.MinRxLevel)
	v.SetDefault("gnb.tick_interval", g.TickInterval)
	v.SetDefault("gnb.sib1_interval", g.Sib1Interval)
	v.SetDefault("gnb.inactivity_timeout", g.InactivityTimeout)
	v.SetDefault("gnb.context_ttl", g.ContextTTL)
	v.SetDefault("gnb.hysteresis", g.Hysteresis)
	v.SetDefault("gnb.crnti_seed", g.CrntiSeed)

	v.SetDefault("ue.id", 101)
	v.SetDefault("ue.port", 0)
	v.SetDefault("ue.tick_interval", u.TickInterval)
	v.SetDefault("ue.warm_up", u.WarmUp)
	v.SetDefault("ue.report_interval", u.ReportInterval)
	v.SetDefault("ue.handshake_timeout", u.HandshakeTimeout)
	v.SetDefault("ue.selected_plmn", u.SelectedPlmn)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("inspect.addr", "")
	v.SetDefault("queue_depth", 256)
}

// Load reads path (optional) and the environment into a validated Config.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func reservedID(id uint32) bool {
	return simproto.NodeID(id) == simproto.HubID || simproto.NodeID(id) == simproto.BroadcastID
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Hub.Port > 0 && c.Hub.Port < 65536, "hub.port %d out of range", c.Hub.Port)
	check(c.Gnb.Port >= 0 && c.Gnb.Port < 65536, "gnb.port %d out of range", c.Gnb.Port)
	check(c.Ue.Port >= 0 && c.Ue.Port < 65536, "ue.port %d out of range", c.Ue.Port)
	check(!reservedID(c.Gnb.ID), "gnb.id %d is reserved", c.Gnb.ID)
	check(!reservedID(c.Ue.ID), "ue.id %d is reserved", c.Ue.ID)

	check(c.Gnb.TickInterval > 0, "gnb.tick_interval must be positive")
	check(c.Gnb.Sib1Interval > 0, "gnb.sib1_interval must be positive")
	check(c.Gnb.InactivityTimeout > 0, "gnb.inactivity_timeout must be positive")
	check(c.Gnb.ContextTTL >= 0, "gnb.context_ttl must not be negative")
	check(c.Gnb.Hysteresis >= 0, "gnb.hysteresis must not be negative")

	check(c.Ue.TickInterval > 0, "ue.tick_interval must be positive")
	check(c.Ue.WarmUp >= 0, "ue.warm_up must not be negative")
	check(c.Ue.ReportInterval > 0, "ue.report_interval must be positive")
	check(c.Ue.HandshakeTimeout >= 0, "ue.handshake_timeout must not be negative")
	check(c.QueueDepth > 0, "queue_depth must be positive")

	return errors.Join(errs...)
}

// GnbConfig converts the gnb section for gnb.New.
func (c *Config) GnbConfig() gnb.Config {
	return gnb.Config{
		Cell: gnb.CellConfig{
			Tac:        c.Gnb.Tac,
			Mcc:        c.Gnb.Mcc,
			Mnc:        c.Gnb.Mnc,
			MinRxLevel: c.Gnb.MinRxLevel,
		},
		TickInterval:      c.Gnb.TickInterval,
		Sib1Interval:      c.Gnb.Sib1Interval,
		InactivityTimeout: c.Gnb.InactivityTimeout,
		ContextTTL:        c.Gnb.ContextTTL,
		Hysteresis:        c.Gnb.Hysteresis,
		CrntiSeed:         c.Gnb.CrntiSeed,
	}
}

// UeConfig converts the ue section for ue.New.
func (c *Config) UeConfig() ue.Config {
	return ue.Config{
		TickInterval:     c.Ue.TickInterval,
		WarmUp:           c.Ue.WarmUp,
		ReportInterval:   c.Ue.ReportInterval,
		HandshakeTimeout: c.Ue.HandshakeTimeout,
		SelectedPlmn:     c.Ue.SelectedPlmn,
	}
}
