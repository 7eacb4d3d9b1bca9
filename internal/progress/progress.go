// Package progress parses iteration counts out of the external simulator's
// log stream. The line format belongs to the simulator, so the pattern is
// configuration, not code.
package progress

import (
	"fmt"
	"regexp"
	"strconv"
)

// DefaultPattern matches lines like "iteration 42 of 1000" or
// "Iteration: 42/1000"; the total group is optional.
const DefaultPattern = `(?i)iteration[:\s]+(\d+)(?:\s*(?:of|/)\s*(\d+))?`

// Update is one recognized progress observation.
type Update struct {
	Iteration       int
	TotalIterations *int
}

// Tracker extracts progress updates from log lines. It is stateless across
// calls except for the total iteration count, which is cached once seen and
// reported with every later update.
type Tracker struct {
	re    *regexp.Regexp
	total *int
}

// New compiles a tracker for the given line pattern. The pattern must have
// an iteration capture group and may have a second, optional total group.
// An empty pattern selects DefaultPattern.
func New(pattern string) (*Tracker, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling progress pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("progress pattern needs an iteration capture group: %q", pattern)
	}
	return &Tracker{re: re}, nil
}

// Observe inspects one log line. Unrecognized lines return (nil, false);
// they are expected, not errors.
func (t *Tracker) Observe(line string) (*Update, bool) {
	m := t.re.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	iter, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, false
	}

	if t.total == nil && len(m) > 2 && m[2] != "" {
		if total, err := strconv.Atoi(m[2]); err == nil && total > 0 {
			t.total = &total
		}
	}

	return &Update{Iteration: iter, TotalIterations: t.total}, true
}

// Total returns the cached total iteration count, or nil if never seen.
func (t *Tracker) Total() *int {
	return t.total
}
