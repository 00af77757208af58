// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// console is the harness control channel: notices print to stdout,
// prompts print numbered options and block until the operator types
// the number on stdin. QR images are written to the state directory
// and referenced by path, since a terminal cannot render a photo.
type console struct {
	out      io.Writer
	stateDir string

	mu      sync.Mutex
	pending []*pendingPrompt
}

type pendingPrompt struct {
	options []string
	reply   chan string
}

func newConsole(out io.Writer, stateDir string) *console {
	return &console{out: out, stateDir: stateDir}
}

func (c *console) Notify(_ context.Context, recipient, text string, image []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(image) > 0 {
		path := filepath.Join(c.stateDir, fmt.Sprintf("qr-%d.png", time.Now().UnixNano()))
		if err := os.WriteFile(path, image, 0o600); err != nil {
			return fmt.Errorf("writing image: %w", err)
		}
		fmt.Fprintf(c.out, "[%s] %s (image: %s)\n", recipient, text, path)
		return nil
	}
	fmt.Fprintf(c.out, "[%s] %s\n", recipient, text)
	return nil
}

func (c *console) Prompt(ctx context.Context, recipient, text string, options []string) (string, error) {
	prompt := &pendingPrompt{options: options, reply: make(chan string, 1)}

	c.mu.Lock()
	c.pending = append(c.pending, prompt)
	fmt.Fprintf(c.out, "[%s] %s\n", recipient, text)
	for i, option := range options {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, option)
	}
	c.mu.Unlock()

	select {
	case choice := <-prompt.reply:
		return choice, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// answer resolves the oldest pending prompt with a 1-based option
// number. Reports whether a prompt was waiting at all; out-of-range
// numbers leave the prompt pending.
func (c *console) answer(number int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return false
	}
	prompt := c.pending[0]
	if number < 1 || number > len(prompt.options) {
		fmt.Fprintf(c.out, "Choose between 1 and %d.\n", len(prompt.options))
		return true
	}
	c.pending = c.pending[1:]
	prompt.reply <- prompt.options[number-1]
	return true
}
