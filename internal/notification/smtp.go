package notification

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"parking-status-backend/config"
)

// SMTPGateway sends multipart (text + HTML) mail through an SMTP relay.
type SMTPGateway struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPGateway(cfg config.SMTPConfig, from string) *SMTPGateway {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPGateway{
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		from: from,
		auth: auth,
		send: smtp.SendMail,
	}
}

func (g *SMTPGateway) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := buildMIME(g.from, msg)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}
	if err := g.send(g.addr, g.auth, envelopeAddress(g.from), []string{msg.To}, body); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildMIME(from string, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	parts := []struct{ ctype, body string }{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.body)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// envelopeAddress strips a display name: "Parking <a@b.c>" -> "a@b.c".
func envelopeAddress(from string) string {
	start, end := strings.IndexByte(from, '<'), strings.IndexByte(from, '>')
	if start >= 0 && end > start {
		return from[start+1 : end]
	}
	return from
}
