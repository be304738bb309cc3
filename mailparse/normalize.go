// Package mailparse turns raw RFC 822 messages into normalized records.
// Decoding failures degrade per field: the subject, addresses, date and
// body each fall back to a best-effort or empty value instead of failing
// the whole message.
package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	netmail "net/mail"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/maildigest/inbox-digest/model"
)

// Warning records a single field that could not be fully decoded.
type Warning struct {
	Field string
	Err   error
}

// wordDecoder decodes RFC 2047 encoded-words (=?charset?encoding?text?=)
// using the go-message charset registry, so headers in windows-1252,
// iso-8859-*, koi8-r and friends decode instead of erroring.
var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeHeader decodes encoded-words in a header value. On error the
// original value is returned alongside the error.
func DecodeHeader(s string) (string, error) {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s, err
	}
	return decoded, nil
}

// Normalize decodes the headers and body of a raw message into a
// uniform record. It never fails: the returned warnings describe fields
// that degraded to empty or raw values. Normalize is pure, so calling
// it twice on the same bytes yields identical records.
func Normalize(raw []byte) (model.Message, []Warning) {
	var warns []Warning

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		warns = append(warns, Warning{Field: "body", Err: fmt.Errorf("parse mime structure: %w", err)})
		return normalizeFlat(raw, warns)
	}
	defer mr.Close()

	var msg model.Message
	h := mr.Header

	msg.Subject, warns = headerText(h, "Subject", warns)
	msg.From, warns = headerAddress(h, "From", warns)
	msg.To, warns = headerAddress(h, "To", warns)

	if id, err := h.MessageID(); err == nil {
		msg.MessageID = id
	} else {
		msg.MessageID = strings.Trim(h.Get("Message-Id"), " <>")
	}

	if date, err := h.Date(); err == nil {
		msg.Date = date
	} else if h.Get("Date") != "" {
		// Present but unparseable: keep the zero-time sentinel.
		warns = append(warns, Warning{Field: "date", Err: err})
	}

	body, bodyWarns := extractBody(mr)
	msg.Body = body
	warns = append(warns, bodyWarns...)

	return msg, warns
}

func headerText(h mail.Header, key string, warns []Warning) (string, []Warning) {
	value, err := h.Text(key)
	if err != nil {
		// go-message returns a best-effort decode together with the
		// error; keep whatever it managed to produce.
		warns = append(warns, Warning{Field: strings.ToLower(key), Err: err})
		if value == "" {
			value = h.Get(key)
		}
	}
	return strings.TrimSpace(value), warns
}

func headerAddress(h mail.Header, key string, warns []Warning) (string, []Warning) {
	addrs, err := h.AddressList(key)
	if err != nil {
		warns = append(warns, Warning{Field: strings.ToLower(key), Err: err})
		decoded, _ := DecodeHeader(h.Get(key))
		return strings.TrimSpace(decoded), warns
	}
	return formatAddresses(addrs), warns
}

// formatAddresses renders addresses as "Name <addr>" without RFC 2047
// re-encoding. (net/mail.Address.String() re-encodes non-ASCII names.)
func formatAddresses(addrs []*mail.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		if a.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, ", ")
}

// extractBody walks the part tree and selects the plain-text part
// preferentially, falling back to the HTML part stripped of markup, or
// the concatenation of all remaining text parts. Attachments are
// skipped, never decoded into the body.
func extractBody(mr *mail.Reader) (string, []Warning) {
	var warns []Warning
	var plain, html string
	var others []string

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			warns = append(warns, Warning{Field: "body", Err: fmt.Errorf("read part: %w", err)})
			break
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			content, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				warns = append(warns, Warning{Field: "body", Err: fmt.Errorf("decode %s part: %w", contentType, readErr)})
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				if plain == "" {
					plain = string(content)
				}
			case strings.HasPrefix(contentType, "text/html"):
				if html == "" {
					html = string(content)
				}
			case strings.HasPrefix(contentType, "text/"):
				others = append(others, string(content))
			}

		case *mail.AttachmentHeader:
			// Skipped. Draining keeps the reader positioned on the
			// next part.
			_, _ = io.Copy(io.Discard, part.Body)
		}
	}

	switch {
	case plain != "":
		return plain, warns
	case html != "":
		text, err := htmltomarkdown.ConvertString(html)
		if err != nil {
			warns = append(warns, Warning{Field: "body", Err: fmt.Errorf("convert html part: %w", err)})
			return CleanText(html), warns
		}
		return text, warns
	default:
		return strings.Join(others, "\n\n"), warns
	}
}

// normalizeFlat recovers what it can from a message whose MIME structure
// is unreadable: headers via net/mail, everything after the header block
// as a plain-text body.
func normalizeFlat(raw []byte, warns []Warning) (model.Message, []Warning) {
	var msg model.Message

	parsed, err := netmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		_, body := splitRawMessage(raw)
		msg.Body = string(body)
		return msg, warns
	}

	header := parsed.Header

	if subject, derr := DecodeHeader(header.Get("Subject")); derr == nil {
		msg.Subject = strings.TrimSpace(subject)
	} else {
		msg.Subject = strings.TrimSpace(header.Get("Subject"))
		warns = append(warns, Warning{Field: "subject", Err: derr})
	}

	msg.From, warns = flatAddress(header, "From", warns)
	msg.To, warns = flatAddress(header, "To", warns)
	msg.MessageID = strings.Trim(header.Get("Message-Id"), " <>")

	if date := header.Get("Date"); date != "" {
		if t, derr := netmail.ParseDate(date); derr == nil {
			msg.Date = t
		} else {
			warns = append(warns, Warning{Field: "date", Err: derr})
		}
	}

	if body, rerr := io.ReadAll(parsed.Body); rerr == nil {
		msg.Body = string(body)
	} else {
		warns = append(warns, Warning{Field: "body", Err: rerr})
	}

	return msg, warns
}

func flatAddress(header netmail.Header, key string, warns []Warning) (string, []Warning) {
	value := header.Get(key)
	if value == "" {
		return "", warns
	}

	addrs, err := header.AddressList(key)
	if err != nil {
		warns = append(warns, Warning{Field: strings.ToLower(key), Err: err})
		decoded, _ := DecodeHeader(value)
		return strings.TrimSpace(decoded), warns
	}
	return formatAddresses(addrs), warns
}

func splitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}
