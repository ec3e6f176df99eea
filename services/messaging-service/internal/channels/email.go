package channels

import (
	"fmt"
	"net/smtp"
	"regexp"
	"strings"
)

// EmailSender delivers one HTML email.
type EmailSender interface {
	Send(to string, subject string, html string) error
}

// SMTPEmailSender sends email via unauthenticated SMTP
// (Mailpit-compatible in dev, a relay in production).
type SMTPEmailSender struct {
	addr     string
	from     string
	fromName string
}

func NewSMTPEmailSender(host, port, from, fromName string) *SMTPEmailSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "care@valleyweightloss.com"
	}
	if fromName == "" {
		fromName = "Valley Weight Loss"
	}
	return &SMTPEmailSender{
		addr:     fmt.Sprintf("%s:%s", host, port),
		from:     from,
		fromName: fromName,
	}
}

func (s *SMTPEmailSender) Send(to string, subject string, html string) error {
	msg := buildMessage(s.fromName, s.from, to, subject, html)
	return smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg))
}

const altBoundary = "vwl-alt-9f2c4a"

// buildMessage assembles a multipart/alternative body so clients that
// refuse HTML still get readable text.
func buildMessage(fromName, from, to, subject, html string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", fromName, from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", altBoundary)

	fmt.Fprintf(&b, "--%s\r\n", altBoundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(StripHTML(html))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", altBoundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(html)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", altBoundary)
	return b.String()
}

var (
	brRe    = regexp.MustCompile(`(?i)<br\s*/?>`)
	pRe     = regexp.MustCompile(`(?i)</p>`)
	tagRe   = regexp.MustCompile(`<[^>]+>`)
	multiNL = regexp.MustCompile(`\n{3,}`)
)

// StripHTML produces a plain-text fallback from an HTML body.
func StripHTML(html string) string {
	s := brRe.ReplaceAllString(html, "\n")
	s = pRe.ReplaceAllString(s, "\n\n")
	s = tagRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = multiNL.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
