package notification

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Message is a rendered email ready for the mailer.
type Message struct {
	To      string
	Subject string
	HTML    string
}

var bodyTemplates = template.Must(template.New("notification").Parse(`
{{define "meeting_confirmed"}}
<p>Your contract meeting has been confirmed.</p>
<p><strong>Contract:</strong> {{.ContractID}}<br>
<strong>When:</strong> {{.When}}</p>
<p>The meeting has been added to the organizer's calendar.</p>
{{end}}

{{define "meeting_rescheduled"}}
<p>Your contract meeting has been moved.</p>
<p><strong>Contract:</strong> {{.ContractID}}<br>
<strong>Previously:</strong> {{.Previously}}<br>
<strong>Now:</strong> {{.When}}</p>
{{end}}

{{define "meeting_cancelled"}}
<p>Your contract meeting has been cancelled.</p>
<p><strong>Contract:</strong> {{.ContractID}}{{if .When}}<br>
<strong>Was scheduled for:</strong> {{.When}}{{end}}</p>
{{end}}

{{define "sync_failed"}}
<p>We could not update your calendar for a confirmed contract meeting.</p>
<p><strong>Contract:</strong> {{.ContractID}}<br>
<strong>Meeting:</strong> {{.MeetingID}}<br>
<strong>Problem:</strong> {{.Reason}}</p>
<p>The meeting is still confirmed. Please check your calendar manually.</p>
{{end}}
`))

var subjects = map[string]string{
	KindMeetingConfirmed:   "Meeting confirmed for contract %s",
	KindMeetingRescheduled: "Meeting rescheduled for contract %s",
	KindMeetingCancelled:   "Meeting cancelled for contract %s",
	KindSyncFailed:         "Calendar update failed for contract %s",
}

type templateData struct {
	MeetingID  string
	ContractID string
	When       string
	Previously string
	Reason     string
}

// Render turns a persisted job payload into a sendable message.
func Render(recipient, kind string, rawPayload []byte) (Message, error) {
	subject, ok := subjects[kind]
	if !ok {
		return Message{}, fmt.Errorf("notification: unknown kind %q", kind)
	}

	var payload Payload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return Message{}, fmt.Errorf("notification: decoding %s payload: %w", kind, err)
	}

	data := templateData{
		MeetingID:  payload.MeetingID,
		ContractID: payload.ContractID,
		When:       formatRange(payload.Start, payload.End),
		Previously: formatRange(payload.PreviousStart, payload.PreviousEnd),
		Reason:     payload.Reason,
	}

	var body strings.Builder
	if err := bodyTemplates.ExecuteTemplate(&body, kind, data); err != nil {
		return Message{}, fmt.Errorf("notification: rendering %s: %w", kind, err)
	}
	return Message{
		To:      recipient,
		Subject: fmt.Sprintf(subject, payload.ContractID),
		HTML:    strings.TrimSpace(body.String()),
	}, nil
}

func formatRange(start, end *time.Time) string {
	if start == nil || end == nil {
		return ""
	}
	return fmt.Sprintf("%s to %s UTC",
		start.UTC().Format("Mon, 02 Jan 2006 15:04"),
		end.UTC().Format("15:04"))
}
