package notify

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
)

// ErrInvalidAlert is returned for alerts that cannot be sent as given
var ErrInvalidAlert = errors.New("invalid alert")

// Alert carries the fields of an SOS e-mail
type Alert struct {
	UserName     string `json:"userName"`
	ContactName  string `json:"contactName"`
	ContactEmail string `json:"contactEmail"`
	LocationLink string `json:"locationLink,omitempty"`
	LocationName string `json:"locationName,omitempty"`
}

// Validate rejects line breaks in any field, since fields end up in mail
// headers, and requires a bare recipient address
func (a Alert) Validate() error {
	fields := map[string]string{
		"userName":     a.UserName,
		"contactName":  a.ContactName,
		"contactEmail": a.ContactEmail,
		"locationLink": a.LocationLink,
		"locationName": a.LocationName,
	}
	for name, v := range fields {
		if strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("%w: %s contains a line break", ErrInvalidAlert, name)
		}
	}

	addr, err := mail.ParseAddress(a.ContactEmail)
	if err != nil || addr.Address != strings.TrimSpace(a.ContactEmail) {
		return fmt.Errorf("%w: contactEmail is not a valid address", ErrInvalidAlert)
	}
	return nil
}

func (a Alert) sender() string {
	if strings.TrimSpace(a.UserName) == "" {
		return "Someone"
	}
	return a.UserName
}

// Subject returns the alert subject line
func (a Alert) Subject() string {
	return fmt.Sprintf("URGENT: %s needs your help!", a.sender())
}

var alertTemplate = template.Must(template.New("sos").Parse(`
<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #e0e0e0; border-radius: 5px;">
  <h1 style="color: #d9534f; text-align: center;">EMERGENCY SOS ALERT</h1>
  <p style="font-size: 16px;"><strong>{{.Sender}}</strong> has triggered an SOS alert and needs your immediate assistance!</p>
  {{if .LocationLink}}<p>Their current location: <a href="{{.LocationLink}}" target="_blank">View on Google Maps</a></p>
  {{else if .LocationName}}<p>Their last known location: {{.LocationName}}</p>
  {{else}}Location information is not available.{{end}}
  <div style="background-color: #f8d7da; border: 1px solid #f5c6cb; color: #721c24; padding: 15px; margin: 20px 0; border-radius: 5px;">
    <p style="margin: 0;"><strong>Please take immediate action:</strong></p>
    <ul>
      <li>Try to contact them immediately</li>
      <li>If you cannot reach them, consider contacting local emergency services</li>
    </ul>
  </div>
  <p style="color: #666; font-size: 12px; text-align: center; margin-top: 30px;">This is an automated emergency alert sent via the SafeRoute safety app.</p>
</div>
`))

// Render returns the HTML body of the alert
func (a Alert) Render() (string, error) {
	var buf bytes.Buffer
	err := alertTemplate.Execute(&buf, struct {
		Alert
		Sender string
	}{Alert: a, Sender: a.sender()})
	if err != nil {
		return "", fmt.Errorf("failed to render alert: %w", err)
	}
	return buf.String(), nil
}

// Message builds the outbound message for the alert
func (a Alert) Message(from string) (Message, error) {
	html, err := a.Render()
	if err != nil {
		return Message{}, err
	}
	return Message{From: from, To: a.ContactEmail, Subject: a.Subject(), HTML: html}, nil
}

// MapsLink returns a Google Maps link for the coordinates
func MapsLink(lat, lng float64) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%.6f,%.6f", lat, lng)
}
