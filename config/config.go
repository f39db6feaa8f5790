// Package config loads and validates the claimd daemon configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	GRPCListen     string        `yaml:"grpc_listen" validate:"required,listen"`
	WSListen       string        `yaml:"ws_listen" validate:"required,listen"`
	Retention      time.Duration `yaml:"retention" validate:"gt=0"`
	ObserverBuffer int           `yaml:"observer_buffer" validate:"gte=1,lte=65536"`
	Rendezvous     Rendezvous    `yaml:"rendezvous"`
	Snapshot       Snapshot      `yaml:"snapshot"`
	Log            Log           `yaml:"log"`
}

type Rendezvous struct {
	PendingTTL time.Duration `yaml:"pending_ttl" validate:"gt=0"`
}

// Snapshot persistence is off when Dir is empty.
type Snapshot struct {
	Dir string `yaml:"dir" validate:"required_with=Mirrors IPFS"`
	// Mirrors are extra object directories every snapshot is copied to.
	Mirrors []string `yaml:"mirrors" validate:"omitempty,dive,required"`
	// Interval between periodic saves; zero saves only on shutdown.
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
	// IPFS adds a local Kubo repository as one more snapshot copy.
	IPFS *IPFS `yaml:"ipfs"`
}

type IPFS struct {
	Bin     string        `yaml:"bin"`
	Repo    string        `yaml:"repo"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Enabled reports whether snapshots are configured.
func (s Snapshot) Enabled() bool { return s.Dir != "" }

// Head is the HEAD file path inside Dir.
func (s Snapshot) Head() string { return filepath.Join(s.Dir, "HEAD") }

// ObjectDirs lists the CAS directories: Dir/objects first, then Mirrors.
func (s Snapshot) ObjectDirs() []string {
	if !s.Enabled() {
		return nil
	}
	return append([]string{filepath.Join(s.Dir, "objects")}, s.Mirrors...)
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		GRPCListen:     "127.0.0.1:7700",
		WSListen:       "127.0.0.1:7701",
		Retention:      24 * time.Hour,
		ObserverBuffer: 256,
		Rendezvous:     Rendezvous{PendingTTL: 30 * time.Second},
		Log:            Log{Level: "info", Format: "text"},
	}
}

// validate is shared; creating validators is expensive.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("listen", func(fl validator.FieldLevel) bool {
		_, port, err := net.SplitHostPort(fl.Field().String())
		return err == nil && port != ""
	})
	return v
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := Parse(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping fields the document omits, and
// validates the result.
func Parse(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cfg.Validate()
}

// Validate checks field constraints and reports every violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// SlogLevel parses Level, defaulting to info.
func (l Log) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// NewLogger builds the daemon logger writing to w.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
