// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"sync"
)

// Compile-time interface checks.
var (
	_ Notifier = (*Recorder)(nil)
	_ Prompter = (*Recorder)(nil)
)

// Notice is one delivered notification, as observed by a Recorder.
type Notice struct {
	Recipient string
	Text      string
	Image     []byte
}

// Recorder is an in-process Notifier and Prompter for tests and the
// local harness. Notices are recorded and also delivered on C so
// tests can wait for asynchronous session events with
// testutil.RequireReceive. Prompt answers are scripted per recipient
// with QueueAnswer; with nothing queued, Prompt picks the first
// option.
type Recorder struct {
	// C receives every notice in delivery order. Buffered; a test
	// that never reads from C still sees everything via Notices.
	C <-chan Notice

	mu      sync.Mutex
	send    chan Notice
	notices []Notice
	answers map[string][]string
}

// NewRecorder creates a Recorder.
func NewRecorder() *Recorder {
	send := make(chan Notice, 256)
	return &Recorder{
		C:       send,
		send:    send,
		answers: make(map[string][]string),
	}
}

// Notify records the notice and delivers it on C.
func (r *Recorder) Notify(_ context.Context, recipient, text string, image []byte) error {
	r.mu.Lock()
	r.notices = append(r.notices, Notice{Recipient: recipient, Text: text, Image: image})
	r.mu.Unlock()

	// Non-blocking: a full buffer drops the channel copy but never
	// the recorded slice entry, so an unread C cannot wedge a
	// session event loop under test.
	select {
	case r.send <- Notice{Recipient: recipient, Text: text, Image: image}:
	default:
	}
	return nil
}

// Prompt returns the next queued answer for the recipient, or the
// first option when nothing is queued.
func (r *Recorder) Prompt(_ context.Context, recipient, text string, options []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if queued := r.answers[recipient]; len(queued) > 0 {
		answer := queued[0]
		r.answers[recipient] = queued[1:]
		return answer, nil
	}
	return options[0], nil
}

// QueueAnswer scripts the next Prompt answer for a recipient. Answers
// queue in FIFO order.
func (r *Recorder) QueueAnswer(recipient, answer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers[recipient] = append(r.answers[recipient], answer)
}

// Notices returns a snapshot of every notice recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// NoticesTo returns the recorded notices addressed to recipient.
func (r *Recorder) NoticesTo(recipient string) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Notice
	for _, notice := range r.notices {
		if notice.Recipient == recipient {
			matched = append(matched, notice)
		}
	}
	return matched
}
