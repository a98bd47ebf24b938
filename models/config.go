package models

// Config carries caller-owned settings into every core operation; there is
// no ambient global state.
type Config struct {
	Color     bool
	Verbose   bool
	TraceExec bool
	TraceReg  bool

	// external compiler binary ("cc" when empty)
	Compiler string
	// extra args always passed to the compiler
	CompilerArgs []string

	// cap on instructions per Run before the controller gives up
	StepLimit int
}

const DefaultStepLimit = 10000

func (c *Config) Init() *Config {
	if c.StepLimit == 0 {
		c.StepLimit = DefaultStepLimit
	}
	if c.Compiler == "" {
		c.Compiler = "cc"
	}
	return c
}
