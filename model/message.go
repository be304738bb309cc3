package model

import "time"

// Credentials holds the mailbox login loaded from the credentials file.
type Credentials struct {
	User     string
	Password string
}

// RawMessage is the undecoded RFC 822 representation of a single message
// as fetched from the server.
type RawMessage struct {
	UID uint32
	Raw []byte
}

// Envelope wraps a raw message alongside an optional error encountered while fetching.
type Envelope struct {
	Raw RawMessage
	Err error
}

// Message is the normalized per-email record produced by the parse stage.
// Every field is present even when the source header is missing or
// malformed; a bad field degrades to its zero value instead of failing
// the whole message.
type Message struct {
	UID       uint32
	MessageID string
	Subject   string
	From      string
	To        string
	Date      time.Time
	Body      string
}

// Summary is the condensed text produced for one normalized message.
type Summary struct {
	UID     uint32
	From    string
	Subject string
	Text    string
}
