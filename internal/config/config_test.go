package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envVars = []string{
	"OGGAAC_ADDR", "OGGAAC_SHUTDOWN_TIMEOUT", "OGGAAC_LOG_LEVEL", "OGGAAC_LOG_FORMAT",
	"OGGAAC_BITRATE", "OGGAAC_TEMP_DIR", "OGGAAC_QUEUE_SIZE", "OGGAAC_FALLBACK",
	"OGGAAC_ENCODER", "OGGAAC_FFMPEG", "OGGAAC_TIMEOUT", "OGGAAC_INPUT_BUFFER",
	"OGGAAC_PROBERS", "OGGAAC_DECODERS", "OGGAAC_FFPROBE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		// Setenv registers the restore; Unsetenv then removes the value.
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Convert.DefaultBitRate != 192000 {
		t.Errorf("DefaultBitRate = %d, want 192000", cfg.Convert.DefaultBitRate)
	}
	if cfg.Convert.QueueSize != 16 {
		t.Errorf("QueueSize = %d, want 16", cfg.Convert.QueueSize)
	}
	if cfg.Convert.Fallback != 5*time.Second {
		t.Errorf("Fallback = %v, want 5s", cfg.Convert.Fallback)
	}
	if cfg.Encoder.Backend != "ffmpeg" {
		t.Errorf("Backend = %q, want ffmpeg", cfg.Encoder.Backend)
	}
	if cfg.Encoder.Timeout != 5*time.Millisecond {
		t.Errorf("Timeout = %v, want 5ms", cfg.Encoder.Timeout)
	}
	if cfg.Encoder.InputBufferSize != 65536 {
		t.Errorf("InputBufferSize = %d, want 65536", cfg.Encoder.InputBufferSize)
	}
	if strings.Join(cfg.Decoder.Probers, ",") != "vorbis,opus,ffprobe" {
		t.Errorf("Probers = %v", cfg.Decoder.Probers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OGGAAC_ADDR", "127.0.0.1:9000")
	t.Setenv("OGGAAC_BITRATE", "128000")
	t.Setenv("OGGAAC_ENCODER", "fdk")
	t.Setenv("OGGAAC_TIMEOUT", "10ms")
	t.Setenv("OGGAAC_DECODERS", "ffmpeg")
	t.Setenv("OGGAAC_PROBERS", "none")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Convert.DefaultBitRate != 128000 {
		t.Errorf("DefaultBitRate = %d, want 128000", cfg.Convert.DefaultBitRate)
	}
	if cfg.Encoder.Backend != "fdk" {
		t.Errorf("Backend = %q, want fdk", cfg.Encoder.Backend)
	}
	if cfg.Encoder.Timeout != 10*time.Millisecond {
		t.Errorf("Timeout = %v, want 10ms", cfg.Encoder.Timeout)
	}
	if len(cfg.Decoder.Decoders) != 1 || cfg.Decoder.Decoders[0] != "ffmpeg" {
		t.Errorf("Decoders = %v, want [ffmpeg]", cfg.Decoder.Decoders)
	}
	if len(cfg.Decoder.Probers) != 0 {
		t.Errorf("Probers = %v, want none", cfg.Decoder.Probers)
	}
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("OGGAAC_QUEUE_SIZE", "lots")
	t.Setenv("OGGAAC_FALLBACK", "forever")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Convert.QueueSize != 16 {
		t.Errorf("QueueSize = %d, want default 16", cfg.Convert.QueueSize)
	}
	if cfg.Convert.Fallback != 5*time.Second {
		t.Errorf("Fallback = %v, want default 5s", cfg.Convert.Fallback)
	}
}

func TestLoadYAMLAndDotenv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yml := filepath.Join(dir, "oggaac.yaml")
	if err := os.WriteFile(yml, []byte(`
server:
  addr: ":7000"
convert:
  default_bitrate: 96000
  temp_dir: /var/tmp/oggaac
encoder:
  timeout: 20ms
`), 0o644); err != nil {
		t.Fatal(err)
	}
	env := filepath.Join(dir, ".env")
	if err := os.WriteFile(env, []byte("OGGAAC_LOG_FORMAT=json\nOGGAAC_ADDR=:7001\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("OGGAAC_LOG_FORMAT")
		os.Unsetenv("OGGAAC_ADDR")
	})

	cfg, err := Load(yml, env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7001" {
		t.Errorf("Addr = %q, want env value :7001", cfg.Server.Addr)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
	if cfg.Convert.DefaultBitRate != 96000 {
		t.Errorf("DefaultBitRate = %d, want 96000", cfg.Convert.DefaultBitRate)
	}
	if cfg.Convert.TempDir != "/var/tmp/oggaac" {
		t.Errorf("TempDir = %q", cfg.Convert.TempDir)
	}
	if cfg.Encoder.Timeout != 20*time.Millisecond {
		t.Errorf("Timeout = %v, want 20ms", cfg.Encoder.Timeout)
	}
	if cfg.Convert.QueueSize != 16 {
		t.Errorf("QueueSize = %d, want default 16", cfg.Convert.QueueSize)
	}
}

func TestLoadMissingFiles(t *testing.T) {
	clearEnv(t)
	if _, err := Load("", filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), ""); err == nil {
		t.Error("missing config file should be an error")
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("encoder:\n  backnd: fdk\n")); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Convert.DefaultBitRate = 1
	cfg.Encoder.Backend = "lame"
	cfg.Decoder.Decoders = []string{"opus", "mp3"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"log.level", "default_bitrate", "encoder.backend", `"mp3"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err.Error(), want)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}
