package notification

import (
	"bytes"
	htmltemplate "html/template"
	"strconv"
	texttemplate "text/template"
)

// ConfirmationCode carries the one-time code sent after a reservation is
// created. Empty fields take the defaults listed on each field.
type ConfirmationCode struct {
	To              string
	Name            string // optional greeting
	Code            string
	ValidityMinutes int    // default 10
	SlotName        string // optional
	Subject         string // default "Your confirmation code"
	Title           string // default "Verification"
	ActionURL       string // optional confirm link
	ActionText      string // default "Confirm code"
}

func (c ConfirmationCode) withDefaults() ConfirmationCode {
	if c.ValidityMinutes <= 0 {
		c.ValidityMinutes = 10
	}
	if c.Subject == "" {
		c.Subject = "Your confirmation code"
	}
	if c.Title == "" {
		c.Title = "Verification"
	}
	if c.ActionText == "" {
		c.ActionText = "Confirm code"
	}
	return c
}

// Render builds the text and HTML variants.
func (c ConfirmationCode) Render() (Message, error) {
	c = c.withDefaults()
	msg := Message{
		Kind:    KindConfirmationCode,
		To:      c.To,
		Subject: c.Subject,
		Meta:    map[string]string{"validity_minutes": strconv.Itoa(c.ValidityMinutes)},
	}
	var err error
	if msg.Text, err = renderText(confirmationText, c); err != nil {
		return Message{}, err
	}
	if msg.HTML, err = renderHTML(confirmationHTML, c); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// SlotAvailable tells a subscriber that a slot has become free.
type SlotAvailable struct {
	To         string
	Name       string // optional greeting
	SlotID     int64
	SlotName   string // default "Parking"
	Location   string // optional
	Subject    string // default "Parking slot available"
	Title      string // default "Availability notice"
	ActionURL  string // optional
	ActionText string // default "View availability"
}

func (s SlotAvailable) withDefaults() SlotAvailable {
	if s.SlotName == "" {
		s.SlotName = "Parking"
	}
	if s.Subject == "" {
		s.Subject = "Parking slot available"
	}
	if s.Title == "" {
		s.Title = "Availability notice"
	}
	if s.ActionText == "" {
		s.ActionText = "View availability"
	}
	return s
}

func (s SlotAvailable) Render() (Message, error) {
	s = s.withDefaults()
	msg := Message{
		Kind:    KindSlotAvailable,
		To:      s.To,
		Subject: s.Subject,
		Meta:    map[string]string{"slot_id": strconv.FormatInt(s.SlotID, 10)},
	}
	var err error
	if msg.Text, err = renderText(availableText, s); err != nil {
		return Message{}, err
	}
	if msg.HTML, err = renderHTML(availableHTML, s); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func renderText(t *texttemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderHTML(t *htmltemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var confirmationText = texttemplate.Must(texttemplate.New("code.txt").Parse(`{{.Title}}

{{if .Name}}{{.Name}}, {{end}}your confirmation code is: {{.Code}}
{{if .SlotName}}Slot: {{.SlotName}}
{{end}}It expires in {{.ValidityMinutes}} minutes.
{{if .ActionURL}}
Confirm here: {{.ActionURL}}
{{end}}`))

var confirmationHTML = htmltemplate.Must(htmltemplate.New("code.html").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1"></head>
<body style="margin:0;padding:0;background:#f2f4f7;font-family:Arial,sans-serif">
  <span style="display:none">Your code is {{.Code}}. It expires in {{.ValidityMinutes}} minutes.</span>
  <div style="max-width:560px;background:#fff;border-radius:14px;margin:30px auto;overflow:hidden">
    <div style="padding:22px;background:#111827;color:#fff;font-size:22px;font-weight:700;text-align:center">{{.Title}}</div>
    <div style="padding:24px;color:#111827;font-size:16px;line-height:1.6">
      {{if .Name}}<div>Hello, <strong>{{.Name}}</strong>.</div>{{end}}
      <div>Your confirmation code{{if .SlotName}} for {{.SlotName}}{{end}}:</div>
      <div style="margin-top:12px"><span style="font-family:monospace;font-size:28px;letter-spacing:3px;background:#111;color:#fff;padding:14px 18px;border-radius:10px">{{.Code}}</span></div>
      <div style="color:#6b7280;font-size:14px;margin-top:12px">It expires in {{.ValidityMinutes}} minutes.</div>
      {{if .ActionURL}}<div><a href="{{.ActionURL}}" style="display:inline-block;background:#16a34a;color:#fff;text-decoration:none;font-weight:700;padding:12px 18px;border-radius:8px;margin-top:18px">{{.ActionText}}</a></div>{{end}}
    </div>
    <div style="padding:12px 24px;background:#f9fafb;color:#6b7280;font-size:12px">If you did not request this code you can ignore this email.</div>
  </div>
</body>
</html>
`))

var availableText = texttemplate.Must(texttemplate.New("available.txt").Parse(`{{.Title}}

{{if .Name}}{{.Name}}, {{end}}{{.SlotName}} (ID: {{.SlotID}}) is now available.
{{if .Location}}Location: {{.Location}}
{{end}}{{if .ActionURL}}
Check it here: {{.ActionURL}}
{{end}}`))

var availableHTML = htmltemplate.Must(htmltemplate.New("available.html").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1"></head>
<body style="font-family:Arial,sans-serif;background:#f4f6f8;margin:0;padding:0">
  <div style="max-width:560px;background:#fff;margin:30px auto;border-radius:12px;padding:24px">
    <div style="color:#111827;font-size:20px;font-weight:700;margin-bottom:16px;text-align:center">{{.Title}}</div>
    <div style="font-size:15px;color:#333;line-height:1.6;text-align:center">
      {{if .Name}}<p>Hello, {{.Name}}.</p>{{end}}
      <p><strong>{{.SlotName}}</strong> (ID: <code>{{.SlotID}}</code>) is now available.</p>
      {{if .Location}}<p>{{.Location}}</p>{{end}}
      {{if .ActionURL}}<p><a href="{{.ActionURL}}" style="display:inline-block;background:#2563eb;color:#fff;text-decoration:none;font-weight:600;padding:12px 18px;border-radius:8px">{{.ActionText}}</a></p>{{end}}
    </div>
    <div style="font-size:12px;color:#999;text-align:center;margin-top:24px">This message was generated automatically. Please do not reply.</div>
  </div>
</body>
</html>
`))
