// Package config loads and validates the server/peer configuration surface,
// via YAML files read through github.com/spf13/viper. Validation happens
// eagerly at Load time so a bad config never reaches the core.
package config

import (
	"fmt"
	"net/netip"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Mode is a peer's configured connection mode.
type Mode string

const (
	ModeActive  Mode = "active"
	ModePassive Mode = "passive"
)

// DelayOpen is the peer's configured DelayOpen behavior.
type DelayOpen struct {
	Enabled bool          `mapstructure:"enabled"`
	Seconds time.Duration `mapstructure:"seconds"`
}

// PeerConfig is the required and optional configuration for one peer.
type PeerConfig struct {
	ASN                       uint32        `mapstructure:"asn"`
	BGPID                     netip.Addr    `mapstructure:"bgp_id"`
	Host                      netip.Addr    `mapstructure:"host"`
	Port                      uint16        `mapstructure:"port"`
	Mode                      Mode          `mapstructure:"mode"`
	Automatic                 bool          `mapstructure:"automatic"`
	ConnectRetrySeconds       time.Duration `mapstructure:"connect_retry_seconds"`
	HoldTimeSeconds           time.Duration `mapstructure:"hold_time_seconds"`
	KeepAliveSeconds          time.Duration `mapstructure:"keep_alive_seconds"`
	DelayOpen                 DelayOpen     `mapstructure:"delay_open"`
	ASOriginationSeconds      time.Duration `mapstructure:"as_origination_seconds"`
	RouteAdvertisementSeconds time.Duration `mapstructure:"route_advertisement_seconds"`
	NotificationWithoutOpen   bool          `mapstructure:"notification_without_open"`
}

// ServerConfig is the top-level configuration: local identity, the networks
// to originate, and the configured peers.
type ServerConfig struct {
	ASN      uint32         `mapstructure:"asn"`
	BGPID    netip.Addr     `mapstructure:"bgp_id"`
	Networks []netip.Prefix `mapstructure:"networks"`
	Port     uint16         `mapstructure:"port"`
	Peers    []PeerConfig   `mapstructure:"peers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 179)
	v.SetDefault("peers", []interface{}{})
}

// peerSliceLen returns the length of the decoded "peers" value regardless of
// its concrete type: viper returns the default set by setDefaults verbatim
// ([]interface{}) when a config file omits peers entirely, and a []interface{}
// with map[string]interface{} elements when the file provides them; a
// []map[string]interface{} is also accepted, and any other shape counts as
// zero peers instead of panicking.
func peerSliceLen(v interface{}) int {
	switch s := v.(type) {
	case []interface{}:
		return len(s)
	case []map[string]interface{}:
		return len(s)
	default:
		return 0
	}
}

func peerDefaults(v *viper.Viper, i int) {
	prefix := fmt.Sprintf("peers.%d.", i)
	v.SetDefault(prefix+"asn", 23456)
	v.SetDefault(prefix+"port", 179)
	v.SetDefault(prefix+"mode", string(ModeActive))
	v.SetDefault(prefix+"automatic", true)
	v.SetDefault(prefix+"connect_retry_seconds", 120)
	v.SetDefault(prefix+"hold_time_seconds", 90)
	v.SetDefault(prefix+"keep_alive_seconds", 30)
	v.SetDefault(prefix+"delay_open.enabled", true)
	v.SetDefault(prefix+"delay_open.seconds", 5)
	v.SetDefault(prefix+"as_origination_seconds", 15)
	v.SetDefault(prefix+"route_advertisement_seconds", 30)
	v.SetDefault(prefix+"notification_without_open", true)
}

// decodeSecondsHook returns a mapstructure decode hook that interprets a
// plain numeric YAML value destined for a time.Duration field as a count of
// seconds (connect_retry, hold_time, keep_alive, delay_open,
// as_origination, route_advertisement all express themselves this way)
// rather than mapstructure's default of treating the number as raw
// nanoseconds.
func decodeSecondsHook() viper.DecoderConfigOption {
	hook := func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		hook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
}

// Load reads and validates a ServerConfig from the YAML file at path.
func Load(path string) (*ServerConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	peerCount := peerSliceLen(v.Get("peers"))
	for i := 0; i < peerCount; i++ {
		peerDefaults(v, i)
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg, decodeSecondsHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its invariants: a valid local BGP-ID,
// non-overlapping peer hosts, and mode one of active/passive.
func (cfg *ServerConfig) Validate() error {
	if !cfg.BGPID.IsValid() || !cfg.BGPID.Is4() {
		return fmt.Errorf("config: server bgp_id must be a valid IPv4 address")
	}
	if cfg.ASN == 0 {
		return fmt.Errorf("config: server asn must be > 0")
	}
	seen := make(map[netip.Addr]bool, len(cfg.Peers))
	for i := range cfg.Peers {
		p := &cfg.Peers[i]
		if err := p.validate(); err != nil {
			return fmt.Errorf("config: peer %d: %w", i, err)
		}
		if seen[p.Host] {
			return fmt.Errorf("config: peer %d: duplicate host %s", i, p.Host)
		}
		seen[p.Host] = true
	}
	return nil
}

func (p *PeerConfig) validate() error {
	if !p.Host.IsValid() {
		return fmt.Errorf("host is required")
	}
	if !p.BGPID.IsValid() || !p.BGPID.Is4() {
		return fmt.Errorf("bgp_id must be a valid IPv4 address")
	}
	if p.ASN == 0 {
		return fmt.Errorf("asn must be > 0")
	}
	switch p.Mode {
	case ModeActive, ModePassive:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeActive, ModePassive, p.Mode)
	}
	return nil
}
