// Package rates resolves the borrow terms exchanges apply to margin loans.
// Terms ship with built-in per-exchange defaults and can be overridden from a
// YAML file, so the engine never needs a live exchange call to price interest.
package rates

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cryptoMarginBot/internal/domain"
	"cryptoMarginBot/internal/ports"
)

// Config holds the configuration needed to build a Source.
type Config struct {
	Path   string       // Optional YAML file applied on top of the built-in defaults
	Logger ports.Logger // Required logger
}

// entry holds the terms for one exchange plus its per-pair overrides.
type entry struct {
	terms domain.BorrowTerms
	pairs map[string]domain.BorrowTerms
}

// Source implements domain.RateSource from an in-memory table.
// The table is immutable after construction.
type Source struct {
	logger    ports.Logger
	exchanges map[string]entry
	fallback  *domain.BorrowTerms
}

// defaultTable reflects the published billing schemes of the supported
// exchanges: Binance quotes a daily rate billed per started hour, Kraken a
// 4-hour rate billed once at opening and then per started period held past it.
func defaultTable() map[string]entry {
	return map[string]entry{
		"binance": {terms: domain.BorrowTerms{Rate: 0.0005, Period: 24 * time.Hour, Mode: domain.AccrueProratedHourly}},
		"kraken":  {terms: domain.BorrowTerms{Rate: 0.0005, Period: 4 * time.Hour, Mode: domain.AccrueOpeningPlusRollover}},
	}
}

// New builds a Source carrying the built-in exchange defaults, overlaying the
// YAML file at cfg.Path when one is configured.
func New(cfg Config) (*Source, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required for rates source")
	}
	s := &Source{logger: cfg.Logger, exchanges: defaultTable()}
	if cfg.Path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading borrow terms file %s: %v", ports.ErrConfigurationError, cfg.Path, err)
	}
	loaded, err := s.overlay(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: borrow terms file %s: %v", ports.ErrConfigurationError, cfg.Path, err)
	}
	s.logger.Info(context.Background(), "Loaded borrow terms overrides", map[string]interface{}{
		"path":      cfg.Path,
		"exchanges": loaded,
	})
	return s, nil
}

// NewStatic builds a Source from a fixed per-exchange table, with no built-in
// defaults and no file. Used by tests and offline replays.
func NewStatic(table map[string]domain.BorrowTerms, logger ports.Logger) (*Source, error) {
	if logger == nil {
		return nil, errors.New("logger is required for rates source")
	}
	s := &Source{logger: logger, exchanges: make(map[string]entry, len(table))}
	for name, terms := range table {
		if err := validateTerms(terms); err != nil {
			return nil, fmt.Errorf("terms for %q: %v", name, err)
		}
		s.exchanges[strings.ToLower(name)] = entry{terms: terms}
	}
	return s, nil
}

// BorrowTerms resolves the terms for an exchange and pair. A pair-specific
// override wins over the exchange entry, which wins over the file-level
// default. An unknown exchange with no default wraps ports.ErrNotFound.
func (s *Source) BorrowTerms(exchange, pair string) (domain.BorrowTerms, error) {
	e, ok := s.exchanges[strings.ToLower(exchange)]
	if !ok {
		if s.fallback != nil {
			return *s.fallback, nil
		}
		return domain.BorrowTerms{}, fmt.Errorf("%w: no borrow terms for exchange %q", ports.ErrNotFound, exchange)
	}
	if t, ok := e.pairs[strings.ToUpper(pair)]; ok {
		return t, nil
	}
	return e.terms, nil
}

// yamlTerms is one set of (partial) terms in the overrides file. Rate is a
// pointer so an explicit zero can be told apart from an absent field.
type yamlTerms struct {
	Rate   *float64 `yaml:"rate"`
	Period string   `yaml:"period"`
	Mode   string   `yaml:"mode"`
}

type yamlExchange struct {
	yamlTerms `yaml:",inline"`
	Pairs     map[string]yamlTerms `yaml:"pairs"`
}

type yamlFile struct {
	Default   *yamlTerms              `yaml:"default"`
	Exchanges map[string]yamlExchange `yaml:"exchanges"`
}

// overlay merges the parsed file into the table and reports how many exchange
// entries it touched.
func (s *Source) overlay(raw []byte) (int, error) {
	var f yamlFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	if f.Default != nil {
		def, err := f.Default.apply(domain.BorrowTerms{})
		if err != nil {
			return 0, fmt.Errorf("default terms: %v", err)
		}
		s.fallback = &def
	}
	for name, ex := range f.Exchanges {
		key := strings.ToLower(name)
		base := domain.BorrowTerms{}
		if cur, ok := s.exchanges[key]; ok {
			base = cur.terms
		} else if s.fallback != nil {
			base = *s.fallback
		}
		terms, err := ex.yamlTerms.apply(base)
		if err != nil {
			return 0, fmt.Errorf("exchange %q: %v", name, err)
		}
		e := entry{terms: terms}
		if len(ex.Pairs) > 0 {
			e.pairs = make(map[string]domain.BorrowTerms, len(ex.Pairs))
			for pair, override := range ex.Pairs {
				pt, err := override.apply(terms)
				if err != nil {
					return 0, fmt.Errorf("exchange %q pair %q: %v", name, pair, err)
				}
				e.pairs[strings.ToUpper(pair)] = pt
			}
		}
		s.exchanges[key] = e
	}
	return len(f.Exchanges), nil
}

// apply overrides the set fields of o onto base and validates the result.
func (o yamlTerms) apply(base domain.BorrowTerms) (domain.BorrowTerms, error) {
	out := base
	if o.Rate != nil {
		out.Rate = *o.Rate
	}
	if o.Period != "" {
		d, err := time.ParseDuration(o.Period)
		if err != nil {
			return domain.BorrowTerms{}, fmt.Errorf("invalid billing period %q", o.Period)
		}
		out.Period = d
	}
	if o.Mode != "" {
		m, err := parseMode(o.Mode)
		if err != nil {
			return domain.BorrowTerms{}, err
		}
		out.Mode = m
	}
	if err := validateTerms(out); err != nil {
		return domain.BorrowTerms{}, err
	}
	return out, nil
}

func parseMode(s string) (domain.AccrualMode, error) {
	mode := domain.AccrualMode(strings.ToLower(strings.TrimSpace(s)))
	switch mode {
	case domain.AccrueWholePeriods, domain.AccrueProratedHourly, domain.AccrueOpeningPlusRollover:
		return mode, nil
	default:
		return "", fmt.Errorf("unrecognised accrual mode %q", s)
	}
}

func validateTerms(t domain.BorrowTerms) error {
	if t.Rate < 0 {
		return fmt.Errorf("rate must not be negative, got %v", t.Rate)
	}
	if t.Rate > 0 && t.Period <= 0 {
		return fmt.Errorf("a positive rate needs a positive billing period, got %s", t.Period)
	}
	switch t.Mode {
	case "", domain.AccrueWholePeriods, domain.AccrueProratedHourly, domain.AccrueOpeningPlusRollover:
		return nil
	default:
		return fmt.Errorf("unrecognised accrual mode %q", t.Mode)
	}
}
