package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DefaultHopCount        = 1
	DefaultLeaseMinutes    = 30
	DefaultLeaseRetries    = 3
	DefaultInterfacePrefix = "cvpn"
	DefaultStateDir        = "/var/lib/vpncircuit"
	DefaultAPIAddr         = "127.0.0.1:7113"
	DefaultLogLevel        = "info"
)

// Config is the application configuration. The route lifecycle core reads
// it but never writes it back.
type Config struct {
	Validators         []string `validate:"required,min=1,dive,hostname_port"`
	DefaultHops        int      `validate:"min=1,max=8"`
	LeaseMinutes       int      `validate:"min=1,max=1440"`
	LeaseRetries       int      `validate:"min=1,max=10"`
	PreferredCountries []string `validate:"dive,len=2"`
	LogLevel           string
	InterfacePrefix    string `validate:"required,max=12"`
	StateDir           string `validate:"required"`
	KillSwitch         bool
	APIAddr            string `validate:"required,hostname_port"`
}

// Load reads configuration from the environment, with an optional .env file
// in the working directory. Defaults are applied before validation.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		Validators:         splitList(os.Getenv("VPNCIRCUIT_VALIDATORS")),
		DefaultHops:        DefaultHopCount,
		LeaseMinutes:       DefaultLeaseMinutes,
		LeaseRetries:       DefaultLeaseRetries,
		PreferredCountries: normalizeCountries(splitList(os.Getenv("VPNCIRCUIT_COUNTRIES"))),
		LogLevel:           DefaultLogLevel,
		InterfacePrefix:    DefaultInterfacePrefix,
		StateDir:           DefaultStateDir,
		APIAddr:            DefaultAPIAddr,
	}

	if v := os.Getenv("VPNCIRCUIT_HOPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("VPNCIRCUIT_HOPS: %w", err)
		}
		cfg.DefaultHops = n
	}
	if v := os.Getenv("VPNCIRCUIT_LEASE_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("VPNCIRCUIT_LEASE_MINUTES: %w", err)
		}
		cfg.LeaseMinutes = n
	}
	if v := os.Getenv("VPNCIRCUIT_LEASE_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("VPNCIRCUIT_LEASE_RETRIES: %w", err)
		}
		cfg.LeaseRetries = n
	}
	if v := os.Getenv("VPNCIRCUIT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VPNCIRCUIT_IFACE_PREFIX"); v != "" {
		cfg.InterfacePrefix = v
	}
	if v := os.Getenv("VPNCIRCUIT_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("VPNCIRCUIT_API_ADDR"); v != "" {
		cfg.APIAddr = v
	}
	if v := os.Getenv("VPNCIRCUIT_KILL_SWITCH"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("VPNCIRCUIT_KILL_SWITCH: %w", err)
		}
		cfg.KillSwitch = on
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return err
		}
		var msgs []string
		for _, fe := range err.(validator.ValidationErrors) {
			msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

// DBPath is the sqlite database holding validator state and circuit history.
func (c Config) DBPath() string {
	return c.StateDir + "/vpncircuit.db"
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func normalizeCountries(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, strings.ToUpper(c))
	}
	return out
}
