// Package recurrence decides whether recurring iCalendar components have an
// instance inside a time range.
package recurrence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/teambition/rrule-go"
)

// DefaultMaxOccurrences bounds how many RRULE instances are inspected per
// query.
const DefaultMaxOccurrences = 10000

// Engine expands recurrence rules, optionally caching the answers per rule
// and range.
type Engine struct {
	cache          *cache.Cache
	maxOccurrences int
	logger         *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache memoizes results for ttl. A zero ttl disables caching.
func WithCache(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl <= 0 {
			e.cache = nil
			return
		}
		e.cache = cache.New(ttl, 2*ttl)
	}
}

// WithMaxOccurrences sets how many RRULE instances, counted from the first,
// are inspected at most. Instances past the limit are treated as absent.
func WithMaxOccurrences(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxOccurrences = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine without a cache.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		maxOccurrences: DefaultMaxOccurrences,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HasOccurrenceInRange reports whether the master instance, an RRULE
// instance or an RDATE instance of the series overlaps the range. Every
// instance lasts as long as the master. Instances listed in EXDATE are
// skipped.
func (e *Engine) HasOccurrenceInRange(masterStart, masterEnd time.Time, info Info, rangeStart, rangeEnd time.Time) (bool, error) {
	var key string
	if e.cache != nil {
		key = cacheKey(masterStart, masterEnd, info, rangeStart, rangeEnd)
		if v, ok := e.cache.Get(key); ok {
			return v.(bool), nil
		}
	}

	found, err := e.hasOccurrence(masterStart, masterEnd, info, rangeStart, rangeEnd)
	if err != nil {
		return false, err
	}
	if e.cache != nil {
		e.cache.Set(key, found, cache.DefaultExpiration)
	}
	return found, nil
}

func (e *Engine) hasOccurrence(masterStart, masterEnd time.Time, info Info, rangeStart, rangeEnd time.Time) (bool, error) {
	if Overlaps(masterStart, masterEnd, rangeStart, rangeEnd) && !isExcluded(masterStart, info.ExDates) {
		return true, nil
	}

	duration := masterEnd.Sub(masterStart)
	if info.RRule != "" {
		found, err := e.ruleOverlaps(masterStart, duration, info, rangeStart, rangeEnd)
		if err != nil || found {
			return found, err
		}
	}

	for _, rdate := range info.RDates {
		if Overlaps(rdate, rdate.Add(duration), rangeStart, rangeEnd) && !isExcluded(rdate, info.ExDates) {
			return true, nil
		}
	}
	return false, nil
}

// ruleOverlaps walks the instances of the RRULE in order. It stops at the
// first instance overlapping the range, at the first instance starting after
// it, or once maxOccurrences instances have been inspected.
func (e *Engine) ruleOverlaps(masterStart time.Time, duration time.Duration, info Info, rangeStart, rangeEnd time.Time) (bool, error) {
	next, err := ruleIterator(masterStart, info.RRule)
	if err != nil {
		return false, err
	}
	for inspected := 0; ; inspected++ {
		if inspected == e.maxOccurrences {
			e.logger.Debug("recurrence expansion truncated", "rrule", info.RRule, "inspected", inspected)
			return false, nil
		}
		o, ok := next()
		if !ok || o.After(rangeEnd) {
			return false, nil
		}
		if Overlaps(o, o.Add(duration), rangeStart, rangeEnd) && !isExcluded(o, info.ExDates) {
			return true, nil
		}
	}
}

// ruleIterator yields the instances of rule in ascending order, starting
// with masterStart.
func ruleIterator(masterStart time.Time, rule string) (func() (time.Time, bool), error) {
	dtstart := masterStart.UTC().Format("20060102T150405Z")
	set, err := rrule.StrToRRuleSet(fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, rule))
	if err != nil {
		return nil, fmt.Errorf("parse RRULE %q: %w", rule, err)
	}
	return set.Iterator(), nil
}

// isExcluded reports whether t is listed in exdates. Date-only exceptions,
// stored as UTC midnight, exclude every instance on that day.
func isExcluded(t time.Time, exdates []time.Time) bool {
	for _, ex := range exdates {
		if t.Equal(ex) {
			return true
		}
		if ex.Location() == time.UTC && ex.Hour() == 0 && ex.Minute() == 0 && ex.Second() == 0 {
			u := t.UTC()
			if time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Equal(ex) {
				return true
			}
		}
	}
	return false
}

func cacheKey(masterStart, masterEnd time.Time, info Info, rangeStart, rangeEnd time.Time) string {
	h := sha256.New()
	for _, t := range []time.Time{masterStart, masterEnd, rangeStart, rangeEnd} {
		h.Write([]byte(t.UTC().Format(time.RFC3339Nano)))
		h.Write([]byte{0})
	}
	h.Write([]byte(info.RRule))
	h.Write([]byte{0})
	for _, t := range info.RDates {
		h.Write([]byte("r" + t.UTC().Format(time.RFC3339Nano)))
	}
	for _, t := range info.ExDates {
		h.Write([]byte("x" + t.UTC().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
