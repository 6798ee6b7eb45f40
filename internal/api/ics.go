package api

import (
	"fmt"

	ics "github.com/arran4/golang-ical"

	"remindd/internal/store"
)

// buildICS renders upcoming reminders as an iCalendar feed, one VEVENT per
// pending reminder with DTSTART at the reminder instant.
func buildICS(events []store.Event) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//remindd//reminder feed//EN")

	for i := range events {
		ev := &events[i]
		e := cal.AddEvent(fmt.Sprintf("event-%d@remindd", ev.ID))
		e.SetSummary(ev.Title)
		if ev.Description != "" {
			e.SetDescription(ev.Description)
		}
		e.SetStartAt(ev.ReminderTime)
		e.SetEndAt(ev.ReminderTime)
		if !ev.CreatedAt.IsZero() {
			e.SetCreatedTime(ev.CreatedAt)
		}
	}
	return cal.Serialize()
}
