package core

import (
	"context"
	"fmt"
	"sync"

	"notifyrelay/internal/queue"
	"notifyrelay/internal/types"
)

// mockLogger records log messages by level.
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (l *mockLogger) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *mockLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *mockLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) With(args ...any) types.Logger { return l }

// callLog records sink calls across sinks so tests can assert ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
}

func (c *callLog) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type broadcastCall struct {
	room    string
	payload map[string]any
}

type fakeRealtime struct {
	log   *callLog
	calls []broadcastCall
	err   error
}

func (f *fakeRealtime) Broadcast(_ context.Context, room string, payload map[string]any) error {
	f.calls = append(f.calls, broadcastCall{room: room, payload: payload})
	f.log.add("broadcast:%s", room)
	return f.err
}

type fakeChat struct {
	log      *callLog
	textErr  error
	audioErr error
	texts    []string
	audios   []string
}

func (f *fakeChat) PushText(_ context.Context, userID, text string) error {
	f.texts = append(f.texts, text)
	f.log.add("text:%s:%s", userID, text)
	return f.textErr
}

func (f *fakeChat) PushAudio(_ context.Context, userID, objectRef string, durationMs int) error {
	f.audios = append(f.audios, objectRef)
	f.log.add("audio:%s:%s:%d", userID, objectRef, durationMs)
	return f.audioErr
}

type fakeDeadLetters struct {
	records []types.DeadLetter
	err     error
}

func (f *fakeDeadLetters) Record(_ context.Context, dl types.DeadLetter) error {
	f.records = append(f.records, dl)
	return f.err
}

// countingAcker counts settlements that reach the broker.
type countingAcker struct {
	acks  int
	nacks int
}

func (a *countingAcker) Ack() error {
	a.acks++
	return nil
}

func (a *countingAcker) Nack(bool) error {
	a.nacks++
	return nil
}

func newTestDelivery(body string, redelivered bool) (*queue.Delivery, *countingAcker) {
	acker := &countingAcker{}
	d := queue.NewDelivery(queue.Message{
		ID:          "msg-1",
		Queue:       "notifications_queue",
		Body:        []byte(body),
		Redelivered: redelivered,
	}, acker)
	return d, acker
}

type pipeline struct {
	log         *callLog
	realtime    *fakeRealtime
	chat        *fakeChat
	deadLetters *fakeDeadLetters
	logger      *mockLogger
	handler     *NotificationHandler
}

func newPipeline() *pipeline {
	log := &callLog{}
	p := &pipeline{
		log:         log,
		realtime:    &fakeRealtime{log: log},
		chat:        &fakeChat{log: log},
		deadLetters: &fakeDeadLetters{},
		logger:      &mockLogger{},
	}
	router := NewRouter(p.realtime, p.chat)
	p.handler = NewNotificationHandler(router, p.deadLetters, nil, p.logger)
	return p
}
