package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string         `json:"log_level" yaml:"log_level"`
	LogFormat string         `json:"log_format" yaml:"log_format"`
	Scanner   ScannerConfig  `json:"scanner" yaml:"scanner"`
	Alerting  AlertingConfig `json:"alerting" yaml:"alerting"`
	Signal    SignalConfig   `json:"signal" yaml:"signal"`
	Ignore    IgnoreConfig   `json:"ignore" yaml:"ignore"`
	OUI       OUIConfig      `json:"oui" yaml:"oui"`
	Ingest    IngestConfig   `json:"ingest" yaml:"ingest"`
	API       APIConfig      `json:"api" yaml:"api"`
	Storage   StorageConfig  `json:"storage" yaml:"storage"`
	Output    OutputConfig   `json:"output" yaml:"output"`
	History   HistoryConfig  `json:"history" yaml:"history"`
	Devices   DevicesConfig  `json:"devices" yaml:"devices"`
}

type ScannerConfig struct {
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	WiFi         WiFiConfig    `json:"wifi" yaml:"wifi"`
	BLE          BLEConfig     `json:"ble" yaml:"ble"`
}

type WiFiConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Iface        string        `json:"iface" yaml:"iface"`
	PcapFile     string        `json:"pcap_file" yaml:"pcap_file"`
	HopInterval  time.Duration `json:"hop_interval" yaml:"hop_interval"`
	MaxChannel   int           `json:"max_channel" yaml:"max_channel"`
	StartChannel int           `json:"start_channel" yaml:"start_channel"`
}

type BLEConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	ScanInterval time.Duration `json:"scan_interval" yaml:"scan_interval"`
	ScanDuration time.Duration `json:"scan_duration" yaml:"scan_duration"`
	Active       bool          `json:"active" yaml:"active"`
}

type AlertingConfig struct {
	InRangeTimeout    time.Duration `json:"in_range_timeout" yaml:"in_range_timeout"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	UpdateCooldown    time.Duration `json:"update_cooldown" yaml:"update_cooldown"`
	Bell              bool          `json:"bell" yaml:"bell"`
	BellDevice        string        `json:"bell_device" yaml:"bell_device"`
}

type SignalConfig struct {
	StrongRSSI int `json:"strong_rssi" yaml:"strong_rssi"`
	MediumRSSI int `json:"medium_rssi" yaml:"medium_rssi"`
}

// IgnoreConfig lists addresses of known benign devices whose matches are
// dropped before they reach the alert state.
type IgnoreConfig struct {
	MACs []string `json:"macs" yaml:"macs"`
}

// OUIConfig points at an IEEE oui.txt registry used to name the
// manufacturer of detected devices. Empty disables the lookup.
type OUIConfig struct {
	Path string `json:"path" yaml:"path"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	DedupeWindow  time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	UDP           UDPConfig       `json:"udp" yaml:"udp"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type UDPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled    bool             `json:"enabled" yaml:"enabled"`
	Driver     string           `json:"driver" yaml:"driver"`
	DSN        string           `json:"dsn" yaml:"dsn"`
	ClickHouse ClickHouseConfig `json:"clickhouse" yaml:"clickhouse"`
}

type ClickHouseConfig struct {
	Addr     []string `json:"addr" yaml:"addr"`
	Database string   `json:"database" yaml:"database"`
	Username string   `json:"username" yaml:"username"`
	Password string   `json:"password" yaml:"password"`
}

type OutputConfig struct {
	WriteTimeout time.Duration  `json:"write_timeout" yaml:"write_timeout"`
	JSON         FileSinkConfig `json:"json" yaml:"json"`
	Protobuf     FileSinkConfig `json:"protobuf" yaml:"protobuf"`
	NATS         NATSConfig     `json:"nats" yaml:"nats"`
}

// FileSinkConfig writes to Path, or stdout when Path is empty or "-".
type FileSinkConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

type NATSConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

type HistoryConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type DevicesConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Scanner: ScannerConfig{
			PollInterval: 100 * time.Millisecond,
			WiFi: WiFiConfig{
				Enabled:      true,
				Iface:        "wlan0mon",
				HopInterval:  500 * time.Millisecond,
				MaxChannel:   13,
				StartChannel: 1,
			},
			BLE: BLEConfig{
				Enabled:      true,
				ScanInterval: 5 * time.Second,
				ScanDuration: 1 * time.Second,
				Active:       true,
			},
		},
		Alerting: AlertingConfig{
			InRangeTimeout:    30 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			UpdateCooldown:    2 * time.Second,
			BellDevice:        "/dev/tty",
		},
		Signal: SignalConfig{StrongRSSI: -50, MediumRSSI: -70},
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			DedupeWindow:  200 * time.Millisecond,
			REST:          RESTConfig{Enabled: false, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			UDP:           UDPConfig{Enabled: false, Addr: ":9001"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:flockwatch.db?_pragma=busy_timeout(5000)"},
		Output: OutputConfig{
			WriteTimeout: 250 * time.Millisecond,
			JSON:         FileSinkConfig{Enabled: true, Path: "-"},
			NATS:         NATSConfig{URL: "nats://127.0.0.1:4222", Subject: "flockwatch.detections"},
		},
		History: HistoryConfig{StoreLimit: 1000},
		Devices: DevicesConfig{StoreLimit: 5000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	if cfg.Scanner.PollInterval <= 0 {
		cfg.Scanner.PollInterval = def.Scanner.PollInterval
	}
	if cfg.Scanner.WiFi.HopInterval <= 0 {
		cfg.Scanner.WiFi.HopInterval = def.Scanner.WiFi.HopInterval
	}
	if cfg.Scanner.WiFi.MaxChannel <= 0 {
		cfg.Scanner.WiFi.MaxChannel = def.Scanner.WiFi.MaxChannel
	}
	if cfg.Scanner.WiFi.StartChannel <= 0 {
		cfg.Scanner.WiFi.StartChannel = 1
	}
	if cfg.Scanner.BLE.ScanInterval <= 0 {
		cfg.Scanner.BLE.ScanInterval = def.Scanner.BLE.ScanInterval
	}
	if cfg.Scanner.BLE.ScanDuration <= 0 {
		cfg.Scanner.BLE.ScanDuration = def.Scanner.BLE.ScanDuration
	}
	if cfg.Alerting.InRangeTimeout <= 0 {
		cfg.Alerting.InRangeTimeout = def.Alerting.InRangeTimeout
	}
	if cfg.Alerting.HeartbeatInterval <= 0 {
		cfg.Alerting.HeartbeatInterval = def.Alerting.HeartbeatInterval
	}
	if cfg.Alerting.BellDevice == "" {
		cfg.Alerting.BellDevice = def.Alerting.BellDevice
	}
	if cfg.Signal.StrongRSSI == 0 && cfg.Signal.MediumRSSI == 0 {
		cfg.Signal = def.Signal
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Output.WriteTimeout <= 0 {
		cfg.Output.WriteTimeout = def.Output.WriteTimeout
	}
	if cfg.Output.NATS.Subject == "" {
		cfg.Output.NATS.Subject = def.Output.NATS.Subject
	}
	if cfg.History.StoreLimit <= 0 {
		cfg.History.StoreLimit = def.History.StoreLimit
	}
	if cfg.Devices.StoreLimit <= 0 {
		cfg.Devices.StoreLimit = def.Devices.StoreLimit
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.UDP.Enabled && cfg.Ingest.UDP.Addr == "" {
		return errors.New("ingest.udp.addr required when ingest.udp.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Scanner.WiFi.MaxChannel > 14 {
		return fmt.Errorf("scanner.wifi.max_channel out of range: %d", cfg.Scanner.WiFi.MaxChannel)
	}
	if cfg.Scanner.WiFi.StartChannel > cfg.Scanner.WiFi.MaxChannel {
		return fmt.Errorf("scanner.wifi.start_channel %d exceeds max_channel %d", cfg.Scanner.WiFi.StartChannel, cfg.Scanner.WiFi.MaxChannel)
	}
	if cfg.Scanner.BLE.ScanDuration >= cfg.Scanner.BLE.ScanInterval {
		return errors.New("scanner.ble.scan_duration must be shorter than scan_interval")
	}
	if cfg.Alerting.HeartbeatInterval >= cfg.Alerting.InRangeTimeout {
		return errors.New("alerting.heartbeat_interval must be shorter than in_range_timeout")
	}
	if cfg.Signal.StrongRSSI <= cfg.Signal.MediumRSSI {
		return errors.New("signal.strong_rssi must be above signal.medium_rssi")
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text, got %q", cfg.LogFormat)
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
			if cfg.Storage.DSN == "" {
				return errors.New("storage.dsn required for sql drivers")
			}
		case "clickhouse":
			if len(cfg.Storage.ClickHouse.Addr) == 0 {
				return errors.New("storage.clickhouse.addr required when driver is clickhouse")
			}
		default:
			return fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
		}
	}
	if cfg.Output.NATS.Enabled && cfg.Output.NATS.URL == "" {
		return errors.New("output.nats.url required when output.nats.enabled is true")
	}
	if cfg.Output.Protobuf.Enabled && cfg.Output.JSON.Enabled && isStdout(cfg.Output.Protobuf.Path) && isStdout(cfg.Output.JSON.Path) {
		return errors.New("output.json and output.protobuf cannot both write to stdout")
	}
	return nil
}

func isStdout(path string) bool {
	return path == "" || path == "-"
}

// Manager holds the configuration loaded at startup. Timing constants are
// read once by the scanner and alerting components and are not reloaded.
type Manager struct {
	path string
	cfg  atomic.Value
}

// NewManager loads path, or starts from defaults when path is empty.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if path == "" {
		cfg := DefaultConfig()
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		m.cfg.Store(cfg)
		return m, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

// Override applies fn to a copy of the current config and keeps the result
// if it still validates. Used for command-line overrides before startup.
func (m *Manager) Override(fn func(*Config)) error {
	next := *m.Get()
	fn(&next)
	applyDefaults(&next)
	if err := Validate(&next); err != nil {
		return err
	}
	m.cfg.Store(&next)
	return nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
