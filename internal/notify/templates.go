package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// Brand is the product wording that appears in the emails.
type Brand struct {
	ProductName string
	SiteURL     string
	LaunchNote  string
}

// DefaultBrand returns the built-in wording.
func DefaultBrand() Brand {
	return Brand{
		ProductName: "DharmaMind",
		SiteURL:     "https://dharmamind.ai",
		LaunchNote:  "Expected launch: Q1 2026",
	}
}

type adminView struct {
	AdminNotice
	Brand
	Time     string
	Referrer string
	Warn     bool
}

type welcomeView struct {
	Welcome
	Brand
	Year int
}

var adminHTML = htmltemplate.Must(htmltemplate.New("admin").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: sans-serif; background: #f5f5f5; padding: 24px;">
  <div style="max-width: 560px; margin: 0 auto; background: #fff; border-radius: 12px; padding: 24px;">
    <h1 style="margin: 0 0 4px;">New Waitlist Signup</h1>
    <p style="color: #666; margin: 0 0 24px;">Signup ID: {{.SignupID}} &middot; Position #{{.Position}}</p>
    <h3>Contact</h3>
    <p><a href="mailto:{{.Email}}">{{.Email}}</a></p>
    <table style="width: 100%; font-size: 14px;">
      <tr><td>Time (UTC)</td><td>{{.Time}}</td></tr>
      <tr><td>IP address</td><td>{{.IP}}</td></tr>
      <tr><td>Country</td><td>{{if .Country}}{{.Country}}{{else}}Unknown{{end}}</td></tr>
      <tr><td>Bot score</td><td>{{.BotScore}}/100{{if .Warn}} (review){{end}}</td></tr>
      <tr><td>Referrer</td><td>{{.Referrer}}</td></tr>
      <tr><td>User agent</td><td>{{.UserAgent}}</td></tr>
    </table>
    <p style="color: #999; font-size: 12px; margin-top: 24px;">{{.ProductName}} waitlist</p>
  </div>
</body>
</html>`))

var adminText = texttemplate.Must(texttemplate.New("admin").Parse(`New Waitlist Signup!

ID: {{.SignupID}}
Position: {{.Position}}
Email: {{.Email}}
Time: {{.Time}}
IP: {{.IP}}
Country: {{if .Country}}{{.Country}}{{else}}Unknown{{end}}
Referrer: {{.Referrer}}
Bot Score: {{.BotScore}}/100
`))

var welcomeHTML = htmltemplate.Must(htmltemplate.New("welcome").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: sans-serif; background: #f5f5f5; padding: 24px;">
  <div style="max-width: 560px; margin: 0 auto; background: #fff; border-radius: 12px; padding: 32px;">
    <h1 style="margin-top: 0;">Welcome to {{.ProductName}}!</h1>
    <p>You're in. Your signup ID is <strong>{{.SignupID}}</strong>. Save it for early access priority.</p>
    <h3>What's coming for you</h3>
    <ul>
      <li>Early access before the public launch</li>
      <li>Founding member benefits</li>
      <li>Insider updates and previews</li>
    </ul>
    <p>{{.LaunchNote}}</p>
    <p><a href="{{.SiteURL}}">{{.SiteURL}}</a></p>
    <p style="color: #999; font-size: 12px;">&copy; {{.Year}} {{.ProductName}}</p>
  </div>
</body>
</html>`))

var welcomeText = texttemplate.Must(texttemplate.New("welcome").Parse(`Welcome to {{.ProductName}}!

You're in! Your signup ID: {{.SignupID}}
Save this ID for early access priority.

What's coming for you:
- Early access before the public launch
- Founding member benefits
- Insider updates and previews

{{.LaunchNote}}

Visit us: {{.SiteURL}}

(c) {{.Year}} {{.ProductName}}
`))

// renderAdmin returns the text and HTML bodies of the admin notice.
func renderAdmin(b Brand, n AdminNotice) (text, html string, err error) {
	v := adminView{
		AdminNotice: n,
		Brand:       b,
		Time:        n.At.UTC().Format("2006-01-02T15:04:05Z"),
		Referrer:    n.Referrer,
		Warn:        n.BotScore > 30,
	}
	if v.Referrer == "" {
		v.Referrer = "Direct"
	}
	return render("admin", v)
}

// renderWelcome returns the text and HTML bodies of the welcome email.
func renderWelcome(b Brand, w Welcome, year int) (text, html string, err error) {
	return render("welcome", welcomeView{Welcome: w, Brand: b, Year: year})
}

func render(name string, data any) (string, string, error) {
	var textT *texttemplate.Template
	var htmlT *htmltemplate.Template
	switch name {
	case "admin":
		textT, htmlT = adminText, adminHTML
	default:
		textT, htmlT = welcomeText, welcomeHTML
	}

	var text, html bytes.Buffer
	if err := textT.Execute(&text, data); err != nil {
		return "", "", fmt.Errorf("notify: rendering %s text: %w", name, err)
	}
	if err := htmlT.Execute(&html, data); err != nil {
		return "", "", fmt.Errorf("notify: rendering %s html: %w", name, err)
	}
	return text.String(), html.String(), nil
}
