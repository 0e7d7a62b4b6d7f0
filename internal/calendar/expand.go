package calendar

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// maxOccurrencesPerEvent caps recurrence expansion so a pathological rule
// cannot flood the agenda.
const maxOccurrencesPerEvent = 1000

// AgendaItem is one concrete occurrence within an agenda window.
type AgendaItem struct {
	UID      string    `json:"uid"`
	Summary  string    `json:"summary"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location,omitempty"`
}

// Agenda lists every event occurrence in [start, end), expanding RRULEs
// and honoring EXDATEs. Zero times default the same way EventsInRange
// does. Events that fail strict iCalendar parsing are skipped with a log
// line rather than failing the whole agenda.
func (s *Service) Agenda(ctx context.Context, start, end time.Time) ([]AgendaItem, error) {
	if start.IsZero() {
		start = s.now()
	}
	if end.IsZero() {
		end = start.Add(defaultWindow)
	}

	objects, err := s.EventsInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	var items []AgendaItem
	for _, obj := range objects {
		if obj.raw == "" {
			continue
		}
		cal, err := ical.ParseCalendar(strings.NewReader(obj.raw))
		if err != nil {
			log.Printf("calendar: skip unparseable event %s: %v", obj.Href, err)
			continue
		}
		for _, ve := range cal.Events() {
			items = append(items, expandEvent(ve, start, end)...)
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Start.Equal(items[j].Start) {
			return items[i].UID < items[j].UID
		}
		return items[i].Start.Before(items[j].Start)
	})
	return items, nil
}

func expandEvent(ve *ical.VEvent, windowStart, windowEnd time.Time) []AgendaItem {
	eventStart, err := ve.GetStartAt()
	if err != nil {
		return nil
	}
	eventEnd, err := ve.GetEndAt()
	if err != nil {
		eventEnd = eventStart
	}
	duration := eventEnd.Sub(eventStart)

	item := AgendaItem{
		UID:      propValue(ve, ical.ComponentPropertyUniqueId),
		Summary:  propValue(ve, ical.ComponentPropertySummary),
		Location: propValue(ve, ical.ComponentPropertyLocation),
	}

	rruleProp := ve.GetProperty(ical.ComponentPropertyRrule)
	if rruleProp == nil {
		overlaps := eventStart.Before(windowEnd) &&
			(eventEnd.After(windowStart) || eventStart.Equal(windowStart))
		if overlaps {
			item.Start = eventStart
			item.End = eventEnd
			return []AgendaItem{item}
		}
		return nil
	}

	r, err := rrule.StrToRRule(rruleProp.Value)
	if err != nil {
		log.Printf("calendar: skip invalid RRULE for %s: %v", item.UID, err)
		return nil
	}
	r.DTStart(eventStart)

	set := rrule.Set{}
	set.RRule(r)
	for _, ex := range ve.GetProperties(ical.ComponentPropertyExdate) {
		if t, ok := parseStamp(ex.Value); ok {
			set.ExDate(t)
		}
	}

	occurrences := set.Between(windowStart, windowEnd, true)
	if len(occurrences) > maxOccurrencesPerEvent {
		occurrences = occurrences[:maxOccurrencesPerEvent]
	}

	items := make([]AgendaItem, 0, len(occurrences))
	for _, occ := range occurrences {
		it := item
		it.Start = occ
		it.End = occ.Add(duration)
		items = append(items, it)
	}
	return items
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

var stampLayouts = []string{TimeLayout, "20060102T150405", "20060102"}

func parseStamp(value string) (time.Time, bool) {
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
