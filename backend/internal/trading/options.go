package trading

import "time"

const (
	DefaultCurrencyScale = 2
	DefaultHistoryLimit  = 50
	MaxHistoryLimit      = 500

	// quantityScale is the finest fractional share the ledger records.
	quantityScale = 8
)

type settings struct {
	scale int32
	now   func() time.Time
}

func defaultSettings() settings {
	return settings{
		scale: DefaultCurrencyScale,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Option customizes an Engine or Portfolio.
type Option func(*settings)

// WithCurrencyScale sets the number of decimal places cash amounts round to.
func WithCurrencyScale(scale int32) Option {
	return func(s *settings) {
		if scale >= 0 {
			s.scale = scale
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func applyOptions(opts []Option) settings {
	s := defaultSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}
