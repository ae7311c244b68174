// Package notify delivers human readable trade notifications. Delivery is fire
// and forget: a sink that fails logs the error and the caller moves on.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Level is the severity of a notification.
type Level string

const (
	// LevelInfo reports a completed trade action.
	LevelInfo Level = "INFO"
	// LevelError reports a failed action that needs attention.
	LevelError Level = "ERROR"
)

// Message is one notification.
type Message struct {
	Level   Level
	Subject string
	Body    string
}

// Info builds an informational message.
func Info(subject, body string) Message {
	return Message{Level: LevelInfo, Subject: subject, Body: body}
}

// Error builds an error message.
func Error(subject, body string) Message {
	return Message{Level: LevelError, Subject: subject, Body: body}
}

// Notifier accepts notifications.
type Notifier interface {
	Notify(ctx context.Context, msg Message)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, msg Message)

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, msg Message) {
	f(ctx, msg)
}

// Multi fans a message out to every sink in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, msg Message) {
	for _, n := range m {
		n.Notify(ctx, msg)
	}
}

// Log writes notifications to a zap logger.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a log sink.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("notify")}
}

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, msg Message) {
	fields := []zap.Field{zap.String("subject", msg.Subject), zap.String("body", msg.Body)}
	if msg.Level == LevelError {
		l.logger.Error("notification", fields...)
		return
	}
	l.logger.Info("notification", fields...)
}

// Recorder keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
