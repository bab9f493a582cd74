package flash

// Progress is called before each block is read and programmed. block counts
// from zero up to blocks-1.
type Progress func(block, blocks int)

// Config holds the programmer configuration.
type Config struct {
	// BusyPolls bounds the wait after every erase and every write.
	BusyPolls int

	// Progress is called once per block (optional).
	Progress Progress
}

func defaultConfig() Config {
	return Config{
		BusyPolls: 1 << 20,
	}
}

// Option is a functional option for configuring a Programmer.
type Option func(*Config)

// WithBusyPolls sets the budget for page erase and write completion.
func WithBusyPolls(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.BusyPolls = n
		}
	}
}

// WithProgress sets a callback reporting every block.
//
// Example:
//
//	prog := flash.New(mem, flash.WithProgress(func(block, blocks int) {
//	    led.Set((blocks-1-block)&1 == 1)
//	}))
func WithProgress(progress Progress) Option {
	return func(c *Config) {
		c.Progress = progress
	}
}
