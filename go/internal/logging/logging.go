package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls the global logger
type Config struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty      bool   `env:"LOG_PRETTY" envDefault:"false"`
	SampleEvery int    `env:"LOG_SAMPLE_EVERY" envDefault:"0"`
}

var output io.Writer = os.Stdout

// Init configures the global zerolog logger
func Init(cfg Config) {
	initTo(os.Stdout, cfg)
}

func initTo(w io.Writer, cfg Config) {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(cfg.Level); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	output = w
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).With().Timestamp().Logger()
	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	log.Logger = logger
}

// Writer is the sink the global logger writes to, for request loggers that
// need their own handler.
func Writer() io.Writer {
	return output
}
