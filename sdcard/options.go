package sdcard

// Config holds the polling budgets of the driver.
type Config struct {
	// IdleRetries is how often the reset to idle state is attempted.
	IdleRetries int

	// InitPolls bounds the SD and MMC initialization loops, each.
	InitPolls int

	// ResponsePolls bounds the wait for a command response.
	ResponsePolls int

	// TokenPolls bounds the wait for the start of a data block.
	TokenPolls int

	// BusyPolls bounds the wait for the end of a block write.
	BusyPolls int

	// SupplyVoltage is the OCR voltage window bit of the board supply.
	// If set, SD cards whose OCR does not include it are refused. Zero
	// accepts any voltage window.
	SupplyVoltage uint32
}

func defaultConfig() Config {
	return Config{
		IdleRetries:   3,
		InitPolls:     65535,
		ResponsePolls: 65535,
		TokenPolls:    65535,
		BusyPolls:     65535,
	}
}

// Option is a functional option for configuring a Card.
type Option func(*Config)

// WithIdleRetries sets the number of reset attempts.
func WithIdleRetries(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.IdleRetries = n
		}
	}
}

// WithInitPolls sets the budget of the initialization loops.
func WithInitPolls(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.InitPolls = n
		}
	}
}

// WithResponsePolls sets the budget for command responses.
func WithResponsePolls(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ResponsePolls = n
		}
	}
}

// WithTokenPolls sets the budget for data start tokens.
func WithTokenPolls(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.TokenPolls = n
		}
	}
}

// WithBusyPolls sets the budget for write completion.
func WithBusyPolls(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.BusyPolls = n
		}
	}
}

// WithSupplyVoltage sets the OCR voltage window bit of the board supply and
// makes Initialize refuse SD cards whose OCR lacks it. This is stricter than
// plain bring-up, which uses any card leaving idle state. Without the option
// no voltage check takes place.
func WithSupplyVoltage(bit uint32) Option {
	return func(c *Config) {
		c.SupplyVoltage = bit
	}
}
