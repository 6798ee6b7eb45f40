package notify

import (
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

// EventView is the slice of an event the renderer needs. Field values are
// taken at render time, so the notification always reflects the current row.
type EventView struct {
	Title        string
	Description  string
	EventDate    time.Time
	ReminderTime time.Time
}

const htmlBody = `<html>
<body>
<h2>{{.Title}}</h2>
{{- if .Description}}
<p>{{.Description}}</p>
{{- end}}
<p>Event date: {{.EventDate.Format "2006-01-02"}}</p>
<p>Reminder time: {{.ReminderTime.Format "2006-01-02 15:04:05"}}</p>
</body>
</html>
`

const textBody = `{{.Title}}
{{- if .Description}}
{{.Description}}
{{- end}}
Event date: {{.EventDate.Format "2006-01-02"}}
Reminder time: {{.ReminderTime.Format "2006-01-02 15:04:05"}}
`

// Renderer builds notification content from an event's current field values.
type Renderer struct {
	subjectPrefix string
	html          *htmltemplate.Template
	text          *texttemplate.Template
}

func NewRenderer(subjectPrefix string) *Renderer {
	return &Renderer{
		subjectPrefix: strings.TrimSpace(subjectPrefix),
		html:          htmltemplate.Must(htmltemplate.New("html").Parse(htmlBody)),
		text:          texttemplate.Must(texttemplate.New("text").Parse(textBody)),
	}
}

func (r *Renderer) Render(ev EventView) (Content, error) {
	var c Content

	var hb strings.Builder
	if err := r.html.Execute(&hb, ev); err != nil {
		return Content{}, fmt.Errorf("render html: %w", err)
	}
	c.HTML = hb.String()

	var tb strings.Builder
	if err := r.text.Execute(&tb, ev); err != nil {
		return Content{}, fmt.Errorf("render text: %w", err)
	}
	c.Text = tb.String()

	c.Subject = "Reminder: " + ev.Title
	if r.subjectPrefix != "" {
		c.Subject = r.subjectPrefix + " " + c.Subject
	}
	return c, nil
}
