package mailparse

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// normalizeEOL makes body comparisons independent of line-ending style.
func normalizeEOL(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

const singlePartMsg = `From: Alice Example <alice@example.com>
To: bob@example.com
Subject: Weekly update
Date: Mon, 25 Aug 2025 09:30:00 +0000
Message-Id: <abc123@example.com>
Content-Type: text/plain; charset=utf-8

Hello Bob,
here is the weekly update.`

func TestNormalizeSinglePart(t *testing.T) {
	msg, warns := Normalize([]byte(crlf(singlePartMsg)))

	if len(warns) != 0 {
		t.Fatalf("expected no warnings, got %v", warns)
	}
	if msg.Subject != "Weekly update" {
		t.Errorf("Subject = %q, want %q", msg.Subject, "Weekly update")
	}
	if msg.From != "Alice Example <alice@example.com>" {
		t.Errorf("From = %q, want %q", msg.From, "Alice Example <alice@example.com>")
	}
	if msg.To != "bob@example.com" {
		t.Errorf("To = %q, want %q", msg.To, "bob@example.com")
	}
	if msg.MessageID != "abc123@example.com" {
		t.Errorf("MessageID = %q, want %q", msg.MessageID, "abc123@example.com")
	}

	wantDate := time.Date(2025, 8, 25, 9, 30, 0, 0, time.UTC)
	if !msg.Date.Equal(wantDate) {
		t.Errorf("Date = %v, want %v", msg.Date, wantDate)
	}

	wantBody := "Hello Bob,\nhere is the weekly update."
	if normalizeEOL(msg.Body) != wantBody {
		t.Errorf("Body = %q, want %q", msg.Body, wantBody)
	}
}

func TestNormalizeEncodedWordSubject(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: =?UTF-8?B?SGVsbG8=?=
Content-Type: text/plain

body`)

	msg, _ := Normalize([]byte(raw))
	if msg.Subject != "Hello" {
		t.Errorf("Subject = %q, want %q", msg.Subject, "Hello")
	}
}

func TestNormalizeLatinCharsetSubject(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: =?ISO-8859-1?Q?caf=E9?=
Content-Type: text/plain

body`)

	msg, warns := Normalize([]byte(raw))
	if msg.Subject != "café" {
		t.Errorf("Subject = %q, want %q", msg.Subject, "café")
	}
	for _, w := range warns {
		if w.Field == "subject" {
			t.Errorf("unexpected subject warning: %v", w.Err)
		}
	}
}

func TestNormalizeUnknownCharsetDegrades(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: =?X-NO-SUCH-CHARSET?B?SGVsbG8=?=
Content-Type: text/plain

body`)

	msg, warns := Normalize([]byte(raw))

	// The message survives with a best-effort subject and a warning.
	if msg.Body == "" {
		t.Error("body should survive a subject decode failure")
	}
	found := false
	for _, w := range warns {
		if w.Field == "subject" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a subject warning, got %v", warns)
	}
	if msg.Subject == "" {
		t.Error("subject should keep a best-effort value")
	}
}

const multipartAlternativeMsg = `From: news@example.com
To: reader@example.com
Subject: Digest
Date: Mon, 25 Aug 2025 10:00:00 +0000
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary=frontier

--frontier
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: base64

VGhlIHBsYWluIHBhcnQu
--frontier
Content-Type: text/html; charset=utf-8

<html><body><p>The html part.</p></body></html>
--frontier--`

func TestNormalizeMultipartPrefersPlainText(t *testing.T) {
	msg, warns := Normalize([]byte(crlf(multipartAlternativeMsg)))

	if len(warns) != 0 {
		t.Fatalf("expected no warnings, got %v", warns)
	}
	if got := strings.TrimSpace(msg.Body); got != "The plain part." {
		t.Errorf("Body = %q, want the decoded plain part", got)
	}
	if strings.Contains(msg.Body, "html part") {
		t.Error("body must not contain the html alternative")
	}
}

func TestNormalizeHTMLOnlyFallsBack(t *testing.T) {
	raw := crlf(`From: news@example.com
Subject: HTML only
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary=frontier

--frontier
Content-Type: text/html; charset=utf-8

<html><body><p>Only <b>formatted</b> content here.</p></body></html>
--frontier--`)

	msg, _ := Normalize([]byte(raw))

	if !strings.Contains(msg.Body, "formatted") {
		t.Errorf("Body = %q, want text extracted from html", msg.Body)
	}
	if strings.Contains(msg.Body, "<p>") || strings.Contains(msg.Body, "<body>") {
		t.Errorf("Body = %q, markup should be stripped", msg.Body)
	}
}

func TestNormalizeSkipsAttachments(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: With attachment
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary=frontier

--frontier
Content-Type: text/plain; charset=utf-8

See attached.
--frontier
Content-Type: application/pdf
Content-Disposition: attachment; filename="report.pdf"
Content-Transfer-Encoding: base64

JVBERi0xLjQK
--frontier--`)

	msg, _ := Normalize([]byte(raw))

	if got := strings.TrimSpace(msg.Body); got != "See attached." {
		t.Errorf("Body = %q, want only the text part", got)
	}
}

func TestNormalizeQuotedPrintableBody(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: QP
Content-Type: text/plain; charset=utf-8
Content-Transfer-Encoding: quoted-printable

Caf=C3=A9 time`)

	msg, _ := Normalize([]byte(raw))
	if got := strings.TrimSpace(msg.Body); got != "Café time" {
		t.Errorf("Body = %q, want %q", got, "Café time")
	}
}

func TestNormalizeMissingDate(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: No date
Content-Type: text/plain

body`)

	msg, warns := Normalize([]byte(raw))
	if !msg.Date.IsZero() {
		t.Errorf("Date = %v, want zero sentinel", msg.Date)
	}
	for _, w := range warns {
		if w.Field == "date" {
			t.Errorf("a missing date header should not warn: %v", w.Err)
		}
	}
}

func TestNormalizeMalformedDate(t *testing.T) {
	raw := crlf(`From: a@example.com
Subject: Bad date
Date: not a real date
Content-Type: text/plain

body`)

	msg, warns := Normalize([]byte(raw))
	if !msg.Date.IsZero() {
		t.Errorf("Date = %v, want zero sentinel", msg.Date)
	}

	found := false
	for _, w := range warns {
		if w.Field == "date" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a date warning, got %v", warns)
	}
	if got := strings.TrimSpace(msg.Body); got != "body" {
		t.Errorf("Body = %q, a bad date must not abort normalization", got)
	}
}

func TestNormalizeMissingHeadersYieldEmptyFields(t *testing.T) {
	raw := crlf(`Content-Type: text/plain

just a body`)

	msg, _ := Normalize([]byte(raw))
	if msg.Subject != "" || msg.From != "" || msg.To != "" {
		t.Errorf("missing headers should normalize to empty strings, got %+v", msg)
	}
	if got := strings.TrimSpace(msg.Body); got != "just a body" {
		t.Errorf("Body = %q, want %q", got, "just a body")
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{singlePartMsg, multipartAlternativeMsg}

	for _, input := range inputs {
		raw := []byte(crlf(input))
		first, firstWarns := Normalize(raw)
		second, secondWarns := Normalize(raw)

		if !reflect.DeepEqual(first, second) {
			t.Errorf("Normalize is not idempotent: %+v != %+v", first, second)
		}
		if len(firstWarns) != len(secondWarns) {
			t.Errorf("warning count differs between runs: %d != %d", len(firstWarns), len(secondWarns))
		}
	}
}

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"base64 utf-8", "=?UTF-8?B?SGVsbG8=?=", "Hello"},
		{"quoted-printable latin1", "=?ISO-8859-1?Q?caf=E9?=", "café"},
		{"plain text untouched", "nothing encoded", "nothing encoded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHeader(tt.input)
			if err != nil {
				t.Fatalf("DecodeHeader(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("DecodeHeader(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
