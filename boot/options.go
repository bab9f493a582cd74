package boot

import (
	"io"
	"time"

	"github.com/aligator/sdboot/flash"
	"github.com/sirupsen/logrus"
)

// Config holds the loader configuration.
type Config struct {
	// Logger receives structured records of every boot cycle (optional).
	// Rejected candidates are only logged at debug level.
	Logger logrus.FieldLogger

	// Sleep waits between the steps of the error pattern.
	Sleep func(time.Duration)

	// Partition selects the card partition, see fat.WithPartition.
	Partition int

	// FlashOptions configure the flash programmer.
	FlashOptions []flash.Option
}

func defaultConfig() Config {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return Config{
		Logger: logger,
		Sleep:  time.Sleep,
	}
}

// Option is a functional option for configuring a Loader.
type Option func(*Config)

// WithLogger sets the logger for boot cycle records.
//
// Example:
//
//	log := logrus.New()
//	log.SetLevel(logrus.DebugLevel)
//	loader, err := boot.New(card, mem, b, leds, boot.WithLogger(log))
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithSleep replaces time.Sleep for the error pattern.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Config) {
		if sleep != nil {
			c.Sleep = sleep
		}
	}
}

// WithPartition selects the card partition to search for updates.
func WithPartition(n int) Option {
	return func(c *Config) {
		c.Partition = n
	}
}

// WithFlashOptions passes options to the flash programmer.
func WithFlashOptions(opts ...flash.Option) Option {
	return func(c *Config) {
		c.FlashOptions = append(c.FlashOptions, opts...)
	}
}
