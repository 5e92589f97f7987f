// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/xopenbeta/envis/cmd/envis/internal/gateway"
)

// =============================================================================
// UserPrompter Interface
// =============================================================================

// UserPrompter abstracts interactive confirmation and credential entry.
//
// # Description
//
// Commands that destroy data or need elevation go through a prompter so
// non-interactive invocations (scripts, CI) fail fast instead of
// hanging on a read from a closed stdin.
//
// # Thread Safety
//
// Implementations are used from a single goroutine per command.
type UserPrompter interface {
	// Confirm asks a yes/no question. Default answer is no.
	Confirm(ctx context.Context, message string) (bool, error)

	// Credential asks for an elevation credential. The value must never
	// be echoed or logged.
	Credential(ctx context.Context, message string) (gateway.Credential, error)

	// IsInteractive reports whether the prompter can actually ask.
	IsInteractive() bool
}

// =============================================================================
// InteractivePrompter
// =============================================================================

// InteractivePrompter reads answers from a terminal.
type InteractivePrompter struct {
	in  io.Reader
	out io.Writer
}

// Compile-time interface satisfaction checks.
var (
	_ UserPrompter = (*InteractivePrompter)(nil)
	_ UserPrompter = (*NonInteractivePrompter)(nil)
	_ UserPrompter = (*MockPrompter)(nil)
)

// NewInteractivePrompter creates a prompter on stdin/stderr.
func NewInteractivePrompter() *InteractivePrompter {
	return NewInteractivePrompterWithIO(os.Stdin, os.Stderr)
}

// NewInteractivePrompterWithIO creates a prompter on explicit streams.
// Tests inject a strings.Reader and bytes.Buffer here.
func NewInteractivePrompterWithIO(in io.Reader, out io.Writer) *InteractivePrompter {
	return &InteractivePrompter{in: in, out: out}
}

// Confirm asks a yes/no question. Only y/yes (any case) is a yes.
func (p *InteractivePrompter) Confirm(ctx context.Context, message string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(p.out, "%s [y/N]: ", message)

	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && line == "" {
		return false, nil // EOF means no
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// Credential asks for an elevation credential.
//
// On a terminal the input is read with echo disabled. Piped input falls
// back to a plain line read so scripted tests still work; trailing
// whitespace is stripped either way. The caller hands the value straight
// to the gateway and must not retain it outside the credential session.
func (p *InteractivePrompter) Credential(ctx context.Context, message string) (gateway.Credential, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintf(p.out, "%s: ", message)

	var (
		line string
		err  error
	)
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		var raw []byte
		raw, err = term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		line = string(raw)
	} else {
		line, err = bufio.NewReader(p.in).ReadString('\n')
	}
	if err != nil && line == "" {
		return "", fmt.Errorf("credential entry aborted: %w", err)
	}
	cred := gateway.Credential(strings.TrimRight(line, "\r\n"))
	if cred.IsZero() {
		return "", fmt.Errorf("empty credential")
	}
	return cred, nil
}

// IsInteractive returns true.
func (p *InteractivePrompter) IsInteractive() bool { return true }

// =============================================================================
// NonInteractivePrompter
// =============================================================================

// NonInteractivePrompter refuses all prompts. Used with --non-interactive
// so scripted runs fail deterministically instead of blocking.
type NonInteractivePrompter struct{}

// Confirm always answers no with an explanatory error.
func (p *NonInteractivePrompter) Confirm(ctx context.Context, message string) (bool, error) {
	return false, fmt.Errorf("confirmation required but running non-interactive: %s", message)
}

// Credential always fails.
func (p *NonInteractivePrompter) Credential(ctx context.Context, message string) (gateway.Credential, error) {
	return "", fmt.Errorf("credential required but running non-interactive: %s", message)
}

// IsInteractive returns false.
func (p *NonInteractivePrompter) IsInteractive() bool { return false }

// =============================================================================
// MockPrompter
// =============================================================================

// MockPrompter is a test double with canned answers.
type MockPrompter struct {
	ConfirmAnswer    bool
	ConfirmErr       error
	CredentialAnswer gateway.Credential
	CredentialErr    error

	// ConfirmAsked and CredentialAsked record the prompt messages.
	ConfirmAsked    []string
	CredentialAsked []string
}

// Confirm returns the canned answer and records the message.
func (p *MockPrompter) Confirm(ctx context.Context, message string) (bool, error) {
	p.ConfirmAsked = append(p.ConfirmAsked, message)
	return p.ConfirmAnswer, p.ConfirmErr
}

// Credential returns the canned credential and records the message.
func (p *MockPrompter) Credential(ctx context.Context, message string) (gateway.Credential, error) {
	p.CredentialAsked = append(p.CredentialAsked, message)
	return p.CredentialAnswer, p.CredentialErr
}

// IsInteractive returns true so prompting paths are exercised.
func (p *MockPrompter) IsInteractive() bool { return true }
