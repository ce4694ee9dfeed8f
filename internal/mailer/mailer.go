// Package mailer delivers purchase order emails across a primary and an
// optional fallback SMTP transport.
package mailer

import (
	"context"
	"fmt"
	"strings"
)

// Message is one outbound email with an optional PDF attachment. POID and
// PONumber travel with the payload so an exhausted delivery can be
// dead-lettered with enough context to retry it later.
type Message struct {
	To          string
	Subject     string
	HTML        string
	PDF         []byte
	PDFFilename string
	POID        int64
	PONumber    string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("recipient is required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("subject is required")
	}
	return nil
}

// Transport is a single mail submission endpoint. Implementations enforce
// their own connect/greeting/socket timeouts so one attempt cannot hang the
// dispatcher.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// DeliveryReceipt reports which transport delivered a message and how many
// attempts it took across all transports.
type DeliveryReceipt struct {
	Transport string
	Attempts  int
}

// DeadLetterQueue receives payloads whose delivery exhausted every transport.
type DeadLetterQueue interface {
	Enqueue(ctx context.Context, msg Message, cause error) error
}
