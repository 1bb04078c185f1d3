package briefs

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	htmltemplate "html/template"
	"os"
	"path/filepath"
	"strings"
	texttemplate "text/template"
	"time"

	"log/slog"

	"github.com/yuin/goldmark"
	"gopkg.in/gomail.v2"
)

// Weekly digest: render the week's summaries per channel and email them.

// DigestWindowDays is how far back the weekly digest reaches.
const DigestWindowDays = 7

const (
	digestPreviewHTML = "digest_preview.html"
	digestPreviewText = "digest_preview.txt"
)

// Digest is one rendering window of summarized episodes grouped by channel.
type Digest struct {
	Start    time.Time
	End      time.Time
	Channels []DigestChannel
}

// DigestChannel is one channel's section.
type DigestChannel struct {
	Name     string
	Episodes []Episode
}

// Empty reports whether there is nothing to send.
func (d Digest) Empty() bool {
	return len(d.Channels) == 0
}

// BuildDigest groups episodes into channel sections. The input is expected
// sorted by channel title, the way RecentSummaries returns it.
func BuildDigest(eps []Episode, now time.Time) Digest {
	d := Digest{
		Start: now.AddDate(0, 0, -DigestWindowDays),
		End:   now,
	}
	for _, ep := range eps {
		name := ep.ChannelTitle
		if name == "" {
			name = "Unknown channel"
		}
		if n := len(d.Channels); n == 0 || d.Channels[n-1].Name != name {
			d.Channels = append(d.Channels, DigestChannel{Name: name})
		}
		last := &d.Channels[len(d.Channels)-1]
		last.Episodes = append(last.Episodes, ep)
	}
	return d
}

// RenderSubject fills {start_date} and {end_date} tokens in the configured
// subject format.
func RenderSubject(format string, d Digest) string {
	return strings.NewReplacer(
		"{start_date}", d.Start.Format("2006-01-02"),
		"{end_date}", d.End.Format("2006-01-02"),
	).Replace(format)
}

type digestView struct {
	Start    string
	End      string
	Channels []digestChannelView
}

type digestChannelView struct {
	Name     string
	Episodes []digestEpisodeView
}

type digestEpisodeView struct {
	Title       string
	URL         string
	Published   string
	SummaryHTML htmltemplate.HTML
	SummaryText string
}

var digestHTMLTmpl = htmltemplate.Must(htmltemplate.New("digest").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; max-width: 720px; margin: 0 auto;">
<h1>Weekly Podcast Digest</h1>
<p>{{.Start}} &ndash; {{.End}}</p>
{{range .Channels}}<h2 style="border-bottom: 1px solid #ccc;">{{.Name}}</h2>
{{range .Episodes}}<h3><a href="{{.URL}}">{{.Title}}</a></h3>
{{if .Published}}<p style="color: #666; font-size: 0.85em;">Published {{.Published}}</p>{{end}}
{{.SummaryHTML}}
{{end}}{{end}}</body>
</html>
`))

var digestTextTmpl = texttemplate.Must(texttemplate.New("digest").Parse(`WEEKLY PODCAST DIGEST
{{.Start}} - {{.End}}
{{range .Channels}}
== {{.Name}} ==
{{range .Episodes}}
{{.Title}}
{{.URL}}

{{.SummaryText}}
{{end}}{{end}}`))

// renderMarkdown converts a summary to HTML. A summary goldmark cannot
// handle is shipped escaped inside <pre> rather than dropped.
func renderMarkdown(md string) htmltemplate.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		slog.Warn("markdown render failed, falling back to preformatted text",
			slog.Any("error", err))
		return htmltemplate.HTML("<pre>" + html.EscapeString(md) + "</pre>")
	}
	return htmltemplate.HTML(buf.String())
}

func digestToView(d Digest) digestView {
	view := digestView{
		Start: d.Start.Format("2006-01-02"),
		End:   d.End.Format("2006-01-02"),
	}
	for _, ch := range d.Channels {
		chView := digestChannelView{Name: ch.Name}
		for _, ep := range ch.Episodes {
			published := ""
			if t, err := time.Parse(time.RFC3339, ep.PublishedAt); err == nil {
				published = t.Format("2006-01-02")
			}
			chView.Episodes = append(chView.Episodes, digestEpisodeView{
				Title:       ep.Title,
				URL:         ep.URL,
				Published:   published,
				SummaryHTML: renderMarkdown(ep.SummaryText),
				SummaryText: ep.SummaryText,
			})
		}
		view.Channels = append(view.Channels, chView)
	}
	return view
}

// RenderHTML renders the HTML body of a digest.
func RenderHTML(d Digest) (string, error) {
	var buf bytes.Buffer
	if err := digestHTMLTmpl.Execute(&buf, digestToView(d)); err != nil {
		return "", fmt.Errorf("render digest html: %w", err)
	}
	return buf.String(), nil
}

// RenderText renders the plain-text body of a digest.
func RenderText(d Digest) (string, error) {
	var buf bytes.Buffer
	if err := digestTextTmpl.Execute(&buf, digestToView(d)); err != nil {
		return "", fmt.Errorf("render digest text: %w", err)
	}
	return buf.String(), nil
}

// WriteDigestPreviews writes both renderings to the data directory so the
// digest can be inspected before (or instead of) sending.
func WriteDigestPreviews(dataDir, htmlBody, textBody string) (string, string, error) {
	htmlPath := filepath.Join(dataDir, digestPreviewHTML)
	textPath := filepath.Join(dataDir, digestPreviewText)
	if err := os.WriteFile(htmlPath, []byte(htmlBody), 0o644); err != nil {
		return "", "", fmt.Errorf("write html preview: %w", err)
	}
	if err := os.WriteFile(textPath, []byte(textBody), 0o644); err != nil {
		return "", "", fmt.Errorf("write text preview: %w", err)
	}
	return htmlPath, textPath, nil
}

// DigestSender emails rendered digests over SMTP.
type DigestSender struct {
	email EmailConfig
	smtp  SMTPConfig
	dial  func(m ...*gomail.Message) error
}

// NewDigestSender builds a sender using the configured SMTP account.
func NewDigestSender(email EmailConfig, smtp SMTPConfig) *DigestSender {
	d := gomail.NewDialer(smtp.Host, smtp.Port, smtp.Username, smtp.Password)
	return &DigestSender{email: email, smtp: smtp, dial: d.DialAndSend}
}

// Send delivers the digest. In separate-emails mode each channel section
// goes out on its own, to that channel's recipients when configured; one
// failed channel does not stop the rest.
func (s *DigestSender) Send(d Digest, subjectFormat string) error {
	if !s.email.SeparateEmails() {
		htmlBody, err := RenderHTML(d)
		if err != nil {
			return err
		}
		textBody, err := RenderText(d)
		if err != nil {
			return err
		}
		return s.send(s.email.Recipients, RenderSubject(subjectFormat, d), htmlBody, textBody)
	}

	var errs error
	for _, ch := range d.Channels {
		to := s.email.ChannelRecipients[ch.Name]
		if len(to) == 0 {
			to = s.email.Recipients
		}
		if len(to) == 0 {
			slog.Warn("no recipients for channel, skipping", slog.String("channel", ch.Name))
			continue
		}

		single := Digest{Start: d.Start, End: d.End, Channels: []DigestChannel{ch}}
		htmlBody, err := RenderHTML(single)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		textBody, err := RenderText(single)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		subject := ch.Name + ": " + RenderSubject(subjectFormat, single)
		errs = errors.Join(errs, s.send(to, subject, htmlBody, textBody))
	}
	return errs
}

func (s *DigestSender) send(to []string, subject, htmlBody, textBody string) error {
	if len(to) == 0 {
		return errors.New("no recipients configured")
	}
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.smtp.Username, s.email.FromName))
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	m.AddAlternative("text/html", htmlBody)

	if err := s.dial(m); err != nil {
		return fmt.Errorf("send digest to %s: %w", strings.Join(to, ", "), err)
	}
	slog.Info("digest sent",
		slog.String("subject", subject), slog.Int("recipients", len(to)))
	return nil
}
