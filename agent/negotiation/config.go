package negotiation

import "time"

type Config struct {
	HumanInputTimeout time.Duration `envconfig:"HUMAN_INPUT_TIMEOUT" split_words:"true" default:"15s" validate:"gt=0"`
	HistoryWindow     int           `envconfig:"HISTORY_WINDOW" split_words:"true" default:"12" validate:"gte=1"`
	SaveTimeout       time.Duration `envconfig:"SAVE_TIMEOUT" split_words:"true" default:"5s"`
}

func DefaultConfig() Config {
	return Config{
		HumanInputTimeout: 15 * time.Second,
		HistoryWindow:     12,
		SaveTimeout:       5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HumanInputTimeout <= 0 {
		c.HumanInputTimeout = d.HumanInputTimeout
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = d.HistoryWindow
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = d.SaveTimeout
	}
	return c
}
