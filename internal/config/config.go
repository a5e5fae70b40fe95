// Package config loads runtime configuration: built-in defaults, then an
// optional YAML file, then a .env file and OGGAAC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Convert ConvertConfig `yaml:"convert"`
	Encoder EncoderConfig `yaml:"encoder"`
	Decoder DecoderConfig `yaml:"decoder"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ConvertConfig struct {
	DefaultBitRate int `yaml:"default_bitrate"`
	// TempDir holds scratch directories; empty means next to each output.
	TempDir   string `yaml:"temp_dir"`
	QueueSize int    `yaml:"queue_size"`
	// Fallback is the length of the synthetic tone.
	Fallback time.Duration `yaml:"fallback"`
}

type EncoderConfig struct {
	// Backend is "ffmpeg" or "fdk".
	Backend         string        `yaml:"backend"`
	FFmpegPath      string        `yaml:"ffmpeg_path"`
	Timeout         time.Duration `yaml:"timeout"`
	EndTimeout      time.Duration `yaml:"end_timeout"`
	InputBufferSize int           `yaml:"input_buffer_size"`
}

type DecoderConfig struct {
	// Probers and Decoders are tried in the order listed.
	Probers     []string `yaml:"probers"`
	Decoders    []string `yaml:"decoders"`
	FFprobePath string   `yaml:"ffprobe_path"`
}

var (
	ValidBackends  = []string{"ffmpeg", "fdk"}
	ValidProbers   = []string{"vorbis", "opus", "ffprobe"}
	ValidDecoders  = []string{"opus", "ffmpeg"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Convert: ConvertConfig{
			DefaultBitRate: 192000,
			QueueSize:      16,
			Fallback:       5 * time.Second,
		},
		Encoder: EncoderConfig{
			Backend:         "ffmpeg",
			FFmpegPath:      "ffmpeg",
			Timeout:         5 * time.Millisecond,
			EndTimeout:      30 * time.Second,
			InputBufferSize: 64 * 1024,
		},
		Decoder: DecoderConfig{
			Probers:     []string{"vorbis", "opus", "ffprobe"},
			Decoders:    []string{"opus", "ffmpeg"},
			FFprobePath: "ffprobe",
		},
	}
}

// Load builds the configuration. path names an optional YAML file; envFile
// an optional dotenv file whose variables are set unless already present in
// the environment. Missing files are not an error when their name is empty
// or, for envFile, when it does not exist.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the
// result. The environment is not consulted.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = envStr("OGGAAC_ADDR", cfg.Server.Addr)
	cfg.Server.ShutdownTimeout = envDuration("OGGAAC_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Log.Level = envStr("OGGAAC_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envStr("OGGAAC_LOG_FORMAT", cfg.Log.Format)

	cfg.Convert.DefaultBitRate = envInt("OGGAAC_BITRATE", cfg.Convert.DefaultBitRate)
	cfg.Convert.TempDir = envStr("OGGAAC_TEMP_DIR", cfg.Convert.TempDir)
	cfg.Convert.QueueSize = envInt("OGGAAC_QUEUE_SIZE", cfg.Convert.QueueSize)
	cfg.Convert.Fallback = envDuration("OGGAAC_FALLBACK", cfg.Convert.Fallback)

	cfg.Encoder.Backend = envStr("OGGAAC_ENCODER", cfg.Encoder.Backend)
	cfg.Encoder.FFmpegPath = envStr("OGGAAC_FFMPEG", cfg.Encoder.FFmpegPath)
	cfg.Encoder.Timeout = envDuration("OGGAAC_TIMEOUT", cfg.Encoder.Timeout)
	cfg.Encoder.InputBufferSize = envInt("OGGAAC_INPUT_BUFFER", cfg.Encoder.InputBufferSize)

	cfg.Decoder.Probers = envList("OGGAAC_PROBERS", cfg.Decoder.Probers)
	cfg.Decoder.Decoders = envList("OGGAAC_DECODERS", cfg.Decoder.Decoders)
	cfg.Decoder.FFprobePath = envStr("OGGAAC_FFPROBE", cfg.Decoder.FFprobePath)
}

// Validate returns every problem found, joined.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: %s", c.Log.Level, strings.Join(validLogLevels, ", ")))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", c.Log.Format))
	}
	if b := c.Convert.DefaultBitRate; b < 8000 || b > 512000 {
		errs = append(errs, fmt.Errorf("convert.default_bitrate %d outside [8000, 512000]", b))
	}
	if c.Convert.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("convert.queue_size %d must be positive", c.Convert.QueueSize))
	}
	if c.Convert.Fallback <= 0 {
		errs = append(errs, fmt.Errorf("convert.fallback %v must be positive", c.Convert.Fallback))
	}
	if !slices.Contains(ValidBackends, c.Encoder.Backend) {
		errs = append(errs, fmt.Errorf("encoder.backend %q is invalid; valid values: %s", c.Encoder.Backend, strings.Join(ValidBackends, ", ")))
	}
	if c.Encoder.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("encoder.timeout %v must be positive", c.Encoder.Timeout))
	}
	if c.Encoder.InputBufferSize < 4 {
		errs = append(errs, fmt.Errorf("encoder.input_buffer_size %d cannot hold one stereo sample", c.Encoder.InputBufferSize))
	}
	for _, p := range c.Decoder.Probers {
		if !slices.Contains(ValidProbers, p) {
			errs = append(errs, fmt.Errorf("decoder.probers: unknown prober %q", p))
		}
	}
	for _, d := range c.Decoder.Decoders {
		if !slices.Contains(ValidDecoders, d) {
			errs = append(errs, fmt.Errorf("decoder.decoders: unknown decoder %q", d))
		}
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList reads a comma separated list. "none" yields an empty list.
func envList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if v == "none" {
		return []string{}
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
