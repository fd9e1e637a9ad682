package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Traces       bool   `yaml:"traces"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Audio       AudioConfig      `yaml:"audio"`
	STT         STTConfig        `yaml:"stt"`
	Transcript  TranscriptConfig `yaml:"transcript"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Bus         BusConfig        `yaml:"bus"`
}

// AudioConfig describes the capture device and the chunk queue between the
// capture goroutine and the recognition loop.
type AudioConfig struct {
	Source         string `yaml:"source"` // exec, wav
	CaptureCommand string `yaml:"capture_command"`
	DeviceFlag     string `yaml:"device_flag"`
	Device         string `yaml:"device"`
	WAVPath        string `yaml:"wav_path"`
	RecordPath     string `yaml:"record_path"`
	Realtime       bool   `yaml:"realtime"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	BlockSize      int    `yaml:"block_size"`
	QueueCapacity  int    `yaml:"queue_capacity"`
	Overflow       string `yaml:"overflow"` // drop, block
	BlockTimeoutMS int    `yaml:"block_timeout_ms"`
}

type STTConfig struct {
	Mode       string `yaml:"mode"` // vosk, exec, mock
	ModelPath  string `yaml:"model_path"`
	Command    string `yaml:"command"`
	MockScript string `yaml:"mock_script"`
}

type TranscriptConfig struct {
	Dir            string `yaml:"dir"`
	TranscriptFile string `yaml:"transcript_file"`
	ReferenceFile  string `yaml:"reference_file"`
	MetricsFile    string `yaml:"metrics_file"`
}

func (t TranscriptConfig) TranscriptPath() string { return filepath.Join(t.Dir, t.TranscriptFile) }
func (t TranscriptConfig) ReferencePath() string  { return filepath.Join(t.Dir, t.ReferenceFile) }
func (t TranscriptConfig) MetricsPath() string    { return filepath.Join(t.Dir, t.MetricsFile) }

type EventStoreConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-scribe",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: false,
			Bind:    "127.0.0.1",
			Port:    9464,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Audio: AudioConfig{
			Source:         "exec",
			CaptureCommand: "arecord -q -t raw -f S16_LE -r {rate} -c {channels}",
			DeviceFlag:     "-D",
			SampleRate:     16000,
			Channels:       1,
			BlockSize:      8000,
			QueueCapacity:  64,
			Overflow:       "drop",
			BlockTimeoutMS: 50,
			Realtime:       true,
		},
		STT: STTConfig{
			Mode:      "vosk",
			ModelPath: "./model",
		},
		Transcript: TranscriptConfig{
			Dir:            "logs",
			TranscriptFile: "transcript.txt",
			ReferenceFile:  "reference.txt",
			MetricsFile:    "run_metrics.txt",
		},
		EventStore: EventStoreConfig{
			Enabled:       false,
			Path:          "./data/loqa-scribe.db",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_SCRIBE_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_SCRIBE_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Traces, "LOQA_SCRIBE_TELEMETRY_TRACES")
	overrideString(&cfg.Audio.Source, "LOQA_SCRIBE_AUDIO_SOURCE")
	overrideString(&cfg.Audio.CaptureCommand, "LOQA_SCRIBE_AUDIO_CAPTURE_COMMAND")
	overrideString(&cfg.Audio.Device, "LOQA_SCRIBE_AUDIO_DEVICE")
	overrideString(&cfg.Audio.WAVPath, "LOQA_SCRIBE_AUDIO_WAV_PATH")
	overrideString(&cfg.Audio.RecordPath, "LOQA_SCRIBE_AUDIO_RECORD_PATH")
	overrideBool(&cfg.Audio.Realtime, "LOQA_SCRIBE_AUDIO_REALTIME")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_SCRIBE_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.BlockSize, "LOQA_SCRIBE_AUDIO_BLOCK_SIZE")
	overrideInt(&cfg.Audio.QueueCapacity, "LOQA_SCRIBE_AUDIO_QUEUE_CAPACITY")
	overrideString(&cfg.Audio.Overflow, "LOQA_SCRIBE_AUDIO_OVERFLOW")
	overrideInt(&cfg.Audio.BlockTimeoutMS, "LOQA_SCRIBE_AUDIO_BLOCK_TIMEOUT_MS")
	overrideString(&cfg.STT.Mode, "LOQA_SCRIBE_STT_MODE")
	overrideString(&cfg.STT.ModelPath, "LOQA_SCRIBE_STT_MODEL_PATH")
	overrideString(&cfg.STT.Command, "LOQA_SCRIBE_STT_COMMAND")
	overrideString(&cfg.STT.MockScript, "LOQA_SCRIBE_STT_MOCK_SCRIPT")
	overrideString(&cfg.Transcript.Dir, "LOQA_SCRIBE_TRANSCRIPT_DIR")
	overrideString(&cfg.Transcript.TranscriptFile, "LOQA_SCRIBE_TRANSCRIPT_FILE")
	overrideString(&cfg.Transcript.ReferenceFile, "LOQA_SCRIBE_REFERENCE_FILE")
	overrideString(&cfg.Transcript.MetricsFile, "LOQA_SCRIBE_METRICS_FILE")
	overrideBool(&cfg.EventStore.Enabled, "LOQA_SCRIBE_EVENT_STORE_ENABLED")
	overrideString(&cfg.EventStore.Path, "LOQA_SCRIBE_EVENT_STORE_PATH")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_SCRIBE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_SCRIBE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Bus.Enabled, "LOQA_SCRIBE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_SCRIBE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_SCRIBE_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_SCRIBE_BUS_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Audio.Source {
	case "exec":
		if strings.TrimSpace(cfg.Audio.CaptureCommand) == "" {
			return errors.New("audio.capture_command must be set when source=exec")
		}
	case "wav":
		if cfg.Audio.WAVPath == "" {
			return errors.New("audio.wav_path must be set when source=wav")
		}
	default:
		return errors.New("audio.source must be one of exec|wav")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1")
	}
	if cfg.Audio.BlockSize <= 0 {
		return errors.New("audio.block_size must be positive")
	}
	if cfg.Audio.QueueCapacity <= 0 {
		return errors.New("audio.queue_capacity must be >= 1")
	}
	switch cfg.Audio.Overflow {
	case "drop":
	case "block":
		if cfg.Audio.BlockTimeoutMS <= 0 {
			return errors.New("audio.block_timeout_ms must be positive when overflow=block")
		}
	default:
		return errors.New("audio.overflow must be one of drop|block")
	}
	switch cfg.STT.Mode {
	case "vosk":
		if cfg.STT.ModelPath == "" {
			return errors.New("stt.model_path must be set when mode=vosk")
		}
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("stt.mode must be one of vosk|exec|mock")
	}
	if cfg.Transcript.Dir == "" || cfg.Transcript.TranscriptFile == "" {
		return errors.New("transcript.dir and transcript.transcript_file must not be empty")
	}
	if cfg.Transcript.ReferenceFile == "" || cfg.Transcript.MetricsFile == "" {
		return errors.New("transcript.reference_file and transcript.metrics_file must not be empty")
	}
	if cfg.EventStore.Enabled {
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
		if cfg.EventStore.RetentionDays < 0 {
			return errors.New("event_store.retention_days must be >= 0")
		}
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}
