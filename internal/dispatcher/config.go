package dispatcher

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultCooldown = 15 * time.Second
	DefaultPace     = 4 * time.Second
)

// DefaultModels is the classification ladder, most preferred first.
var DefaultModels = []string{"gemini-2.5-flash-lite", "gemini-2.5-flash", "gemini-2.0-flash"}

var (
	// ErrNoCredentials is returned when the credential pool would be empty.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrNoModels is returned when the model ladder would be empty.
	ErrNoModels = errors.New("no models configured")
)

type Config struct {
	Credentials []string
	Models      []string
	// Cooldown is the wait between an exhausted first pass and the second.
	Cooldown time.Duration
	// Pace is the wait between consecutive items of a batch.
	Pace time.Duration
}

func DefaultConfig() Config {
	return Config{
		Models:   append([]string(nil), DefaultModels...),
		Cooldown: DefaultCooldown,
		Pace:     DefaultPace,
	}
}

func (c Config) Validate() error {
	if c.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive, got %s", c.Cooldown)
	}
	if c.Pace < 0 {
		return fmt.Errorf("pace must not be negative, got %s", c.Pace)
	}
	return nil
}
