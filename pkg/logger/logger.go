package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config is read from LOG_* variables by the autoload package.
type Config struct {
	Level        string `split_words:"true" default:"info"`
	PrettyFormat bool   `split_words:"true" default:"false"`
	Service      string `split_words:"true" default:"vendor-negotiation"`
	// Debug is kept for older deployments; it wins over Level.
	Debug bool `split_words:"true" default:"false"`
}

var DefaultConfig = Config{
	Level:   "info",
	Service: "vendor-negotiation",
}

// Init replaces the global logger.
func Init(opts ...Config) {
	conf := DefaultConfig
	if len(opts) > 0 {
		conf = opts[0]
	}
	var w io.Writer = os.Stdout
	if conf.PrettyFormat {
		w = zerolog.NewConsoleWriter()
	}
	log.Logger = New(conf, w)
}

// New builds a logger writing to w. Unknown levels fall back to info.
func New(conf Config, w io.Writer) zerolog.Logger {
	ctx := zerolog.New(w).With().Timestamp()
	if s := strings.TrimSpace(conf.Service); s != "" {
		ctx = ctx.Str("service", s)
	}
	l := ctx.Logger().Level(levelOf(conf))
	if l.GetLevel() <= zerolog.DebugLevel {
		l = l.With().Caller().Logger()
	}
	return l
}

func levelOf(conf Config) zerolog.Level {
	if conf.Debug {
		return zerolog.DebugLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(conf.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
