package model

import "time"

// InboundMessage is the immutable snapshot of one accepted SMTP
// transaction: envelope data plus the raw message bytes. It is owned
// exclusively by the pipeline invocation that processes it and is
// never persisted as-is.
type InboundMessage struct {
	Sender     string
	Recipients []string
	Raw        []byte
	RemoteAddr string
	ReceivedAt time.Time
}
