package utils

import (
	"strings"
	"time"
)

// Date layouts seen in brokerage confirmation emails, most specific first.
var emailDateLayouts = []string{
	"January 2, 2006 3:04 PM MST",
	"January 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// ParseEmailDate parses a date string as brokerages format them. Returns the
// zero time when no layout matches; callers fall back to the message receive
// time in that case.
func ParseEmailDate(dateStr string) time.Time {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return time.Time{}
	}
	for _, layout := range emailDateLayouts {
		if t, err := time.Parse(layout, dateStr); err == nil {
			return t
		}
	}
	return time.Time{}
}
