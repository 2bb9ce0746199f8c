// Package config loads the settings of the knolsched binary. Values come
// from flag defaults, then an optional YAML file, then KNOLSCHED_*
// environment variables, then flags set on the command line.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/sched"
)

// EnvPrefix marks the environment variables read by Load.
const EnvPrefix = "KNOLSCHED_"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every setting of the binary.
type Config struct {
	DB            string `koanf:"db" validate:"required"`
	Addr          string `koanf:"addr" validate:"required"`
	LogLevel      string `koanf:"log-level" validate:"oneof=debug info warn error"`
	LogFormat     string `koanf:"log-format" validate:"oneof=text json"`
	RolloverHour  int    `koanf:"rollover-hour" validate:"gte=0,lte=23"`
	CollapseTime  int    `koanf:"collapse-time" validate:"gte=0"` // seconds
	NewSpread     string `koanf:"new-spread" validate:"oneof=distribute last first"`
	DayLearnFirst bool   `koanf:"day-learn-first"`
	BuryPolicy    string `koanf:"bury-policy" validate:"oneof=answer fetch"`
	Timezone      string `koanf:"timezone"`
	SeedDemo      bool   `koanf:"seed-demo"`
	// Import lists note directories or git URLs imported at start-up.
	Import   []string `koanf:"import" validate:"dive,required"`
	ReposDir string   `koanf:"repos-dir" validate:"required"`
}

// Flags returns the command-line flags of the binary with their defaults.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("knolsched", pflag.ContinueOnError)
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("db", "knolsched.db", "Path to the SQLite database file")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.String("log-format", "text", "Log format: text or json")
	fs.Int("rollover-hour", 4, "Local hour at which a new day starts")
	fs.Int("collapse-time", 1200, "Seconds ahead learning cards are shown when nothing else is due")
	fs.String("new-spread", "distribute", "New card order: distribute, last or first")
	fs.Bool("day-learn-first", false, "Show day learning cards before reviews")
	fs.String("bury-policy", "answer", "Bury siblings on answer or on fetch")
	fs.String("timezone", "", "IANA time zone for day boundaries (default: local)")
	fs.Bool("seed-demo", false, "Seed a demo collection into an empty database")
	fs.StringSlice("import", nil, "Note directories or git URLs to import at start-up")
	fs.String("repos-dir", "repos", "Directory holding clones of imported git repositories")
	return fs
}

// Load parses args and merges every configuration source.
func Load(args []string) (*Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return FromFlags(fs)
}

// FromFlags merges the YAML file named by the config flag, the environment
// and the parsed flags.
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envKey := func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "_", "-")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Unchanged flags only fill keys no other source set.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field, including the time zone name.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Location resolves the configured time zone, defaulting to local time.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SchedulerOptions turns the scheduling settings into scheduler options.
func (c *Config) SchedulerOptions() (sched.Options, error) {
	opts := sched.DefaultOptions()
	spread, err := domain.ParseNewSpread(c.NewSpread)
	if err != nil {
		return opts, err
	}
	loc, err := c.Location()
	if err != nil {
		return opts, err
	}
	opts.RolloverHour = c.RolloverHour
	opts.CollapseTime = time.Duration(c.CollapseTime) * time.Second
	opts.NewSpread = spread
	opts.DayLearnFirst = c.DayLearnFirst
	opts.BuryOnFetch = c.BuryPolicy == "fetch"
	opts.Location = loc
	return opts, nil
}

// Logger builds the slog logger described by the log settings.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
