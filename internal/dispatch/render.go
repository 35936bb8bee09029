package dispatch

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"

	"boxoffice/internal/models"
)

var textTemplate = template.Must(template.New("confirmation").Parse(
	`Hi {{if .Name}}{{.Name}}{{else}}there{{end}},

{{if .Resend}}Here are your tickets again.{{else}}Thanks for your order. Your tickets are below.{{end}}
{{range .Tickets}}
  {{.EventName}} - {{.TicketType}}
  {{.ScanURL}}
{{end}}
Show the link or its QR code at the door. Each ticket admits one person.
`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("confirmation").Parse(
	`<p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
<p>{{if .Resend}}Here are your tickets again.{{else}}Thanks for your order. Your tickets are below.{{end}}</p>
<ul>{{range .Tickets}}
<li>{{.EventName}} - {{.TicketType}}: <a href="{{.ScanURL}}">{{.Token}}</a></li>{{end}}
</ul>
<p>Show the link or its QR code at the door. Each ticket admits one person.</p>
`))

// NewConfirmation builds the message payload for issued tickets. Scan links point at baseURL.
func NewConfirmation(baseURL, email, name string, tickets []models.TicketDetails) models.Confirmation {
	baseURL = strings.TrimRight(baseURL, "/")
	conf := models.Confirmation{
		Email:   email,
		Name:    name,
		Tickets: make([]models.ConfirmationTicket, len(tickets)),
	}
	for i, t := range tickets {
		token := t.Token.String()
		conf.Tickets[i] = models.ConfirmationTicket{
			Token:      token,
			TicketType: t.TicketTypeName,
			EventName:  t.EventName,
			ScanURL:    baseURL + "/tickets/" + token,
		}
	}
	return conf
}

// Render turns a confirmation into a deliverable message.
func Render(conf models.Confirmation) (Message, error) {
	var text, html bytes.Buffer
	if err := textTemplate.Execute(&text, conf); err != nil {
		return Message{}, fmt.Errorf("failed to render confirmation: %w", err)
	}
	if err := htmlTemplate.Execute(&html, conf); err != nil {
		return Message{}, fmt.Errorf("failed to render confirmation: %w", err)
	}

	subject := "Your tickets"
	if len(conf.Tickets) > 0 {
		subject = fmt.Sprintf("Your tickets for %s", conf.Tickets[0].EventName)
	}

	return Message{
		To:      conf.Email,
		ToName:  conf.Name,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
