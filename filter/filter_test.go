package filter

import (
	"testing"
)

func rawMessage(header, body string) []byte {
	return []byte(header + "\r\n\r\n" + body)
}

func TestFilterInactiveAllowsAll(t *testing.T) {
	f, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Active() {
		t.Error("Active() = true, want false with no patterns")
	}
	if !f.Allows(rawMessage("Subject: anything", "any body")) {
		t.Error("an inactive filter must allow every message")
	}
}

func TestFilterIncludeHeader(t *testing.T) {
	f, err := New(Options{IncludeHeader: []string{`Subject: .*[Nn]ewsletter`}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name string
		raw  []byte
		want bool
	}{
		{"matching subject", rawMessage("Subject: Weekly Newsletter", "body"), true},
		{"non-matching subject", rawMessage("Subject: Invoice", "body"), false},
		{"pattern in body only", rawMessage("Subject: Invoice", "Newsletter mention"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Allows(tt.raw); got != tt.want {
				t.Errorf("Allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterIncludeBody(t *testing.T) {
	f, err := New(Options{IncludeBody: []string{`quarterly results`}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows(rawMessage("Subject: x", "our quarterly results are in")) {
		t.Error("matching body should be allowed")
	}
	if f.Allows(rawMessage("Subject: quarterly results", "nothing here")) {
		t.Error("body pattern must not match against headers")
	}
}

func TestFilterExclude(t *testing.T) {
	f, err := New(Options{
		ExcludeHeader: []string{`From: .*@spam\.example`},
		ExcludeBody:   []string{`unsubscribe now`},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name string
		raw  []byte
		want bool
	}{
		{"clean message", rawMessage("From: a@ok.example", "hello"), true},
		{"excluded sender", rawMessage("From: x@spam.example", "hello"), false},
		{"excluded body", rawMessage("From: a@ok.example", "click to unsubscribe now"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Allows(tt.raw); got != tt.want {
				t.Errorf("Allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterMutuallyExclusive(t *testing.T) {
	_, err := New(Options{
		IncludeHeader: []string{`Subject: a`},
		ExcludeBody:   []string{`b`},
	})
	if err == nil {
		t.Error("New() should reject mixed include and exclude patterns")
	}
}

func TestFilterInvalidPattern(t *testing.T) {
	_, err := New(Options{IncludeHeader: []string{`[unclosed`}})
	if err == nil {
		t.Error("New() should reject an invalid regex")
	}
}

func TestFilterBlankPatternsIgnored(t *testing.T) {
	f, err := New(Options{IncludeHeader: []string{"", "  "}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Active() {
		t.Error("blank patterns should leave the filter inactive")
	}
}

func TestSplitRawMessage(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantHeader string
		wantBody   string
	}{
		{
			name:       "crlf separator",
			raw:        "Subject: a\r\nFrom: b\r\n\r\nbody text",
			wantHeader: "Subject: a\r\nFrom: b",
			wantBody:   "body text",
		},
		{
			name:       "lf separator",
			raw:        "Subject: a\n\nbody",
			wantHeader: "Subject: a",
			wantBody:   "body",
		},
		{
			name:       "no separator",
			raw:        "Subject: only headers",
			wantHeader: "Subject: only headers",
			wantBody:   "",
		},
		{
			name:       "empty input",
			raw:        "",
			wantHeader: "",
			wantBody:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, body := SplitRawMessage([]byte(tt.raw))
			if string(header) != tt.wantHeader {
				t.Errorf("header = %q, want %q", header, tt.wantHeader)
			}
			if string(body) != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}
