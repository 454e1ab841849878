package indicator

import (
	"fmt"
	"strconv"
	"strings"
)

// Study kinds accepted in configuration.
const (
	KindMA        = "MA"
	KindEMA       = "EMA"
	KindSMMA      = "SMMA"
	KindRSI       = "RSI"
	KindMACD      = "MACD"
	KindBollinger = "BOLL"
)

// Spec configures one study on the chart.
type Spec struct {
	Kind   string  `yaml:"kind" json:"kind"`
	Period int     `yaml:"period,omitempty" json:"period,omitempty"`
	Fast   int     `yaml:"fast,omitempty" json:"fast,omitempty"`
	Slow   int     `yaml:"slow,omitempty" json:"slow,omitempty"`
	Signal int     `yaml:"signal,omitempty" json:"signal,omitempty"`
	K      float64 `yaml:"k,omitempty" json:"k,omitempty"`
}

// DefaultSpecs is the study set shown when nothing is configured: the
// 5/20/60/120 moving averages on the price pane plus RSI and MACD below.
func DefaultSpecs() []Spec {
	return []Spec{
		{Kind: KindMA, Period: 5},
		{Kind: KindMA, Period: 20},
		{Kind: KindMA, Period: 60},
		{Kind: KindMA, Period: 120},
		{Kind: KindRSI, Period: 14},
		{Kind: KindMACD, Fast: 12, Slow: 26, Signal: 9},
	}
}

// Validate checks the parameters for the study kind.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindMA, KindEMA, KindSMMA, KindRSI:
		if s.Period <= 0 {
			return fmt.Errorf("%s: period must be positive, got %d", s.Kind, s.Period)
		}
	case KindMACD:
		if s.Fast <= 0 || s.Slow <= 0 || s.Signal <= 0 {
			return fmt.Errorf("MACD: periods must be positive, got %d/%d/%d", s.Fast, s.Slow, s.Signal)
		}
		if s.Fast >= s.Slow {
			return fmt.Errorf("MACD: fast period %d must be below slow period %d", s.Fast, s.Slow)
		}
	case KindBollinger:
		if s.Period <= 0 {
			return fmt.Errorf("BOLL: period must be positive, got %d", s.Period)
		}
		if s.K <= 0 {
			return fmt.Errorf("BOLL: k must be positive, got %v", s.K)
		}
	default:
		return fmt.Errorf("unknown study kind %q", s.Kind)
	}
	return nil
}

// Lines returns the names of the output lines, in Values order.
func (s Spec) Lines() []string {
	switch s.Kind {
	case KindMACD:
		suffix := fmt.Sprintf("%d_%d_%d", s.Fast, s.Slow, s.Signal)
		return []string{"MACD_" + suffix, "MACD_SIGNAL_" + suffix, "MACD_HIST_" + suffix}
	case KindBollinger:
		suffix := strconv.Itoa(s.Period) + "_" + strconv.FormatFloat(s.K, 'f', -1, 64)
		return []string{"BOLL_UPPER_" + suffix, "BOLL_MID_" + suffix, "BOLL_LOWER_" + suffix}
	default:
		return []string{s.Kind + "_" + strconv.Itoa(s.Period)}
	}
}

// New creates a fresh study instance.
func (s Spec) New() (Study, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Kind {
	case KindMA:
		return &closeStudy{k: NewSMA(s.Period)}, nil
	case KindEMA:
		return &closeStudy{k: NewEMA(s.Period)}, nil
	case KindSMMA:
		return &closeStudy{k: NewSMMA(s.Period)}, nil
	case KindRSI:
		return &closeStudy{k: NewRSI(s.Period)}, nil
	case KindMACD:
		return NewMACD(s.Fast, s.Slow, s.Signal), nil
	default:
		return NewBollinger(s.Period, s.K), nil
	}
}

// ParseSpecs parses the compact list form used in environment config:
//
//	MA:5,MA:20,RSI:14,MACD:12/26/9,BOLL:20/2
func ParseSpecs(s string) ([]Spec, error) {
	var specs []Spec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, args, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("study %q: missing parameters", part)
		}
		kind = strings.ToUpper(strings.TrimSpace(kind))
		fields := strings.Split(args, "/")

		spec := Spec{Kind: kind}
		switch kind {
		case KindMACD:
			if len(fields) != 3 {
				return nil, fmt.Errorf("study %q: want fast/slow/signal", part)
			}
			var err error
			if spec.Fast, err = strconv.Atoi(fields[0]); err != nil {
				return nil, fmt.Errorf("study %q: %w", part, err)
			}
			if spec.Slow, err = strconv.Atoi(fields[1]); err != nil {
				return nil, fmt.Errorf("study %q: %w", part, err)
			}
			if spec.Signal, err = strconv.Atoi(fields[2]); err != nil {
				return nil, fmt.Errorf("study %q: %w", part, err)
			}
		case KindBollinger:
			if len(fields) != 2 {
				return nil, fmt.Errorf("study %q: want period/k", part)
			}
			var err error
			if spec.Period, err = strconv.Atoi(fields[0]); err != nil {
				return nil, fmt.Errorf("study %q: %w", part, err)
			}
			if spec.K, err = strconv.ParseFloat(fields[1], 64); err != nil {
				return nil, fmt.Errorf("study %q: %w", part, err)
			}
		default:
			if len(fields) != 1 {
				return nil, fmt.Errorf("study %q: want a single period", part)
			}
			var err error
			if spec.Period, err = strconv.Atoi(fields[0]); err != nil {
				return nil, fmt.Errorf("study %q: %w", part, err)
			}
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
