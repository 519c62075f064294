package calendar

import (
	"fmt"
	"strings"
	"time"
)

// upstream timestamps carry no zone; they are local UK wall-clock times
const upstreamTimeLayout = "2006-01-02T15:04:05"

// ICS renders a Feed as an iCalendar document.
type ICS struct{}

// ContentType returns the iCalendar MIME type.
func (ICS) ContentType() string {
	return "text/calendar; charset=utf-8"
}

// Serialize emits a VCALENDAR with one VEVENT per upstream event. Events
// whose start date cannot be parsed are skipped rather than producing an
// invalid component.
func (ICS) Serialize(feed Feed) ([]byte, error) {
	var b strings.Builder
	writeLine(&b, "BEGIN:VCALENDAR")
	writeLine(&b, "VERSION:2.0")
	writeLine(&b, "PRODID:-//beatcal//neighbourhood events//EN")
	writeLine(&b, "CALSCALE:GREGORIAN")

	for i, ev := range feed.Events {
		start, err := time.Parse(upstreamTimeLayout, ev.StartDate)
		if err != nil {
			continue
		}
		writeLine(&b, "BEGIN:VEVENT")
		writeLine(&b, fmt.Sprintf("UID:%s-%s-%d@beatcal", feed.ForceID, feed.NeighbourhoodID, i))
		writeLine(&b, "DTSTART:"+start.Format("20060102T150405"))
		if end, err := time.Parse(upstreamTimeLayout, ev.EndDate); err == nil {
			writeLine(&b, "DTEND:"+end.Format("20060102T150405"))
		}
		writeLine(&b, "SUMMARY:"+escapeText(ev.Title))
		if ev.Description != "" {
			writeLine(&b, "DESCRIPTION:"+escapeText(ev.Description))
		}
		if ev.Address != "" {
			writeLine(&b, "LOCATION:"+escapeText(ev.Address))
		}
		writeLine(&b, "END:VEVENT")
	}

	writeLine(&b, "END:VCALENDAR")
	return []byte(b.String()), nil
}

func writeLine(b *strings.Builder, line string) {
	b.WriteString(line)
	b.WriteString("\r\n")
}

func escapeText(s string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\n", "\\n",
		"\r", "",
	)
	return r.Replace(s)
}
