package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var deadlineLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

var deadlineParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDeadline accepts an absolute date (2026-03-01, 2026-03-01 17:00,
// RFC 3339) or a phrase such as "tomorrow 5pm" or "in 3 days", relative
// to now. Empty input means no deadline.
func parseDeadline(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range deadlineLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return &t, nil
		}
	}

	r, err := deadlineParser.Parse(s, now)
	if err != nil {
		return nil, fmt.Errorf("invalid deadline %q: %w", s, err)
	}
	if r == nil {
		return nil, fmt.Errorf("invalid deadline %q: not a date or a recognized phrase", s)
	}
	t := r.Time
	return &t, nil
}
