// Package notify delivers operator notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("component", "notify")

// Format selects how the receiving side renders text
type Format string

const (
	FormatPlain    Format = ""
	FormatMarkdown Format = "Markdown"
)

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// EscapeMarkdown escapes the characters that open an entity in legacy
// Markdown so s renders literally
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// ErrNoRecipient is returned when a message has nowhere to go
var ErrNoRecipient = errors.New("no recipient")

// Notifier sends one message to one recipient
type Notifier interface {
	Send(ctx context.Context, recipientID, text string, format Format) error
}

// LogNotifier writes notifications to the log. Used when no chat transport is configured.
type LogNotifier struct{}

// Send logs the message
func (LogNotifier) Send(_ context.Context, recipientID, text string, format Format) error {
	logger.WithFields(log.Fields{"recipient": recipientID, "format": format}).Info(text)
	return nil
}

type message struct {
	recipientID string
	text        string
	format      Format
}

// Async queues notifications and delivers them in order on one goroutine.
// Notify never blocks; a full queue drops the message.
type Async struct {
	next    Notifier
	timeout time.Duration
	queue   chan message
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the delivery goroutine. Each send gets its own timeout.
func NewAsync(next Notifier, timeout time.Duration, buffer int) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if buffer < 1 {
		buffer = 32
	}
	a := &Async{
		next:    next,
		timeout: timeout,
		queue:   make(chan message, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Notify enqueues a message for delivery
func (a *Async) Notify(recipientID, text string, format Format) {
	if recipientID == "" {
		logger.Debug("no owner channel configured, notification dropped")
		return
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.queue <- message{recipientID: recipientID, text: text, format: format}:
	default:
		logger.Warn("notification queue full, message dropped")
	}
}

// Close stops accepting messages and waits for queued ones to be delivered
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *Async) run() {
	defer close(a.done)
	for m := range a.queue {
		if err := a.deliver(m); err != nil {
			logger.WithFields(log.Fields{"recipient": m.recipientID, "error": err}).Warn("failed to send notification")
		}
	}
}

func (a *Async) deliver(m message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return a.next.Send(ctx, m.recipientID, m.text, m.format)
}
