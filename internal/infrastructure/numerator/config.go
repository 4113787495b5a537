package numerator

import (
	"fmt"
	"strings"
)

// Strategy defines the numbering generation strategy.
type Strategy int

const (
	// StrategyStrict runs one UPSERT ... RETURNING per number. Numbers are
	// sequential without gaps when drawn on the create transaction
	// (Service.WithTxSource); the sequence row stays locked until it commits.
	StrategyStrict Strategy = iota

	// StrategyCached reserves ranges of numbers and hands them out from memory.
	// A restart loses the rest of the range, leaving gaps.
	StrategyCached
)

// String returns the config spelling of s.
func (s Strategy) String() string {
	if s == StrategyCached {
		return "cached"
	}
	return "strict"
}

// ParseStrategy reads "strict" or "cached". Empty selects strict.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return StrategyStrict, nil
	case "cached":
		return StrategyCached, nil
	default:
		return StrategyStrict, fmt.Errorf("unknown numbering strategy %q", s)
	}
}

// DefaultRangeSize is the cached range size when none is configured.
const DefaultRangeSize = 50

// Config holds numbering configuration.
type Config struct {
	// Prefix added to all numbers (e.g., "FC")
	Prefix string

	// IncludeYear adds year to the number
	IncludeYear bool

	// PadWidth is the minimum number width (default 5)
	PadWidth int

	// ResetPeriod: "year", "month", "never"
	ResetPeriod string

	Strategy Strategy

	// RangeSize is the number of values reserved at once by StrategyCached.
	RangeSize int64
}

// DefaultConfig returns the invoice numbering defaults: FC-2024-00001, strict.
func DefaultConfig() Config {
	return Config{
		Prefix:      "FC",
		IncludeYear: true,
		PadWidth:    5,
		ResetPeriod: "year",
		Strategy:    StrategyStrict,
		RangeSize:   DefaultRangeSize,
	}
}
