package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog/log"
)

type Sender interface {
	Send(to, subject, body string, attachmentName string, attachment []byte) error
}

// StdoutSender logs instead of sending; the default outside production.
type StdoutSender struct{}

func (StdoutSender) Send(to, subject, body, attachmentName string, attachment []byte) error {
	log.Info().Str("to", to).Str("subject", subject).Str("attachment", attachmentName).
		Int("attachment_bytes", len(attachment)).Msg("EMAIL (stdout sender)")
	return nil
}

// SMTPSender delivers through a plain SMTP relay.
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(addr, from string) *SMTPSender {
	return &SMTPSender{addr: addr, from: from}
}

func (s *SMTPSender) Send(to, subject, body, attachmentName string, attachment []byte) error {
	const boundary = "nexdash-report-boundary"

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", s.from, to, subject)
	msg.WriteString("MIME-Version: 1.0\r\n")

	if len(attachment) == 0 {
		msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		msg.WriteString(body)
	} else {
		fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", boundary)
		fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, body)
		fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/csv\r\nContent-Disposition: attachment; filename=%q\r\n\r\n", boundary, attachmentName)
		msg.Write(attachment)
		fmt.Fprintf(&msg, "\r\n--%s--\r\n", boundary)
	}

	if err := smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
