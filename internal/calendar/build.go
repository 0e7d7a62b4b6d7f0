package calendar

import (
	"strings"
	"time"
)

// TimeLayout is the basic UTC timestamp format used in iCalendar payloads
// and CalDAV time-range filters.
const TimeLayout = "20060102T150405Z"

const prodID = "-//davgate//DAV gateway//EN"

// escapeText escapes an iCalendar TEXT value per RFC 5545 section 3.3.11.
func escapeText(value string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\r\n", "\\n",
		"\n", "\\n",
	)
	return r.Replace(value)
}

// EventInput holds the writable properties of a new event.
type EventInput struct {
	Summary     string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
}

// TaskInput holds the writable properties of a new task.
type TaskInput struct {
	Summary     string
	Due         time.Time
	Description string
}

// BuildEvent renders a complete VCALENDAR document containing one VEVENT.
func BuildEvent(uid string, in EventInput, stamp time.Time) string {
	var b strings.Builder
	writeCalendarHeader(&b)
	b.WriteString("BEGIN:VEVENT\r\n")
	b.WriteString("UID:" + uid + "\r\n")
	b.WriteString("DTSTAMP:" + stamp.UTC().Format(TimeLayout) + "\r\n")
	b.WriteString("DTSTART:" + in.Start.UTC().Format(TimeLayout) + "\r\n")
	b.WriteString("DTEND:" + in.End.UTC().Format(TimeLayout) + "\r\n")
	b.WriteString("SUMMARY:" + escapeText(in.Summary) + "\r\n")
	if in.Description != "" {
		b.WriteString("DESCRIPTION:" + escapeText(in.Description) + "\r\n")
	}
	if in.Location != "" {
		b.WriteString("LOCATION:" + escapeText(in.Location) + "\r\n")
	}
	b.WriteString("END:VEVENT\r\n")
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

// BuildTask renders a complete VCALENDAR document containing one VTODO.
func BuildTask(uid string, in TaskInput, stamp time.Time) string {
	var b strings.Builder
	writeCalendarHeader(&b)
	b.WriteString("BEGIN:VTODO\r\n")
	b.WriteString("UID:" + uid + "\r\n")
	b.WriteString("DTSTAMP:" + stamp.UTC().Format(TimeLayout) + "\r\n")
	b.WriteString("SUMMARY:" + escapeText(in.Summary) + "\r\n")
	if !in.Due.IsZero() {
		b.WriteString("DUE:" + in.Due.UTC().Format(TimeLayout) + "\r\n")
	}
	if in.Description != "" {
		b.WriteString("DESCRIPTION:" + escapeText(in.Description) + "\r\n")
	}
	b.WriteString("STATUS:NEEDS-ACTION\r\n")
	b.WriteString("END:VTODO\r\n")
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func writeCalendarHeader(b *strings.Builder) {
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:" + prodID + "\r\n")
}
