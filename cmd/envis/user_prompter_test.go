// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInteractivePrompter_Confirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes lowercase", "y\n", true},
		{"yes word", "yes\n", true},
		{"yes uppercase", "YES\n", true},
		{"no", "n\n", false},
		{"empty defaults to no", "\n", false},
		{"garbage defaults to no", "maybe\n", false},
		{"eof defaults to no", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewInteractivePrompterWithIO(strings.NewReader(tt.input), &out)

			got, err := p.Confirm(context.Background(), "Delete environment?")
			if err != nil {
				t.Fatalf("Confirm failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if !strings.Contains(out.String(), "[y/N]") {
				t.Error("prompt missing the default-no hint")
			}
		})
	}
}

func TestInteractivePrompter_Confirm_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewInteractivePrompterWithIO(strings.NewReader("y\n"), &bytes.Buffer{})
	if _, err := p.Confirm(ctx, "anything"); err == nil {
		t.Error("expected an error on a cancelled context")
	}
}

func TestInteractivePrompter_Credential(t *testing.T) {
	var out bytes.Buffer
	p := NewInteractivePrompterWithIO(strings.NewReader("hunter2\n"), &out)

	cred, err := p.Credential(context.Background(), "Elevation credential")
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	if cred != "hunter2" {
		t.Errorf("credential = %q", cred)
	}
	if strings.Contains(out.String(), "hunter2") {
		t.Error("credential echoed to the output stream")
	}
}

func TestInteractivePrompter_Credential_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty line", "\n"},
		{"eof", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewInteractivePrompterWithIO(strings.NewReader(tt.input), &bytes.Buffer{})
			if _, err := p.Credential(context.Background(), "Credential"); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestInteractivePrompter_Credential_StripsCRLF(t *testing.T) {
	p := NewInteractivePrompterWithIO(strings.NewReader("hunter2\r\n"), &bytes.Buffer{})
	cred, err := p.Credential(context.Background(), "Credential")
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	if cred != "hunter2" {
		t.Errorf("credential = %q, want CR stripped", cred)
	}
}

func TestInteractivePrompter_Credential_PipedFileInput(t *testing.T) {
	// A redirected stdin is a file but not a terminal; credential entry
	// must fall back to a line read instead of failing the echo-off path.
	path := filepath.Join(t.TempDir(), "stdin")
	if err := os.WriteFile(path, []byte("hunter2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out bytes.Buffer
	p := NewInteractivePrompterWithIO(f, &out)

	cred, err := p.Credential(context.Background(), "Credential")
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	if cred != "hunter2" {
		t.Errorf("credential = %q", cred)
	}
	if strings.Contains(out.String(), "hunter2") {
		t.Error("credential echoed to the output stream")
	}
}

func TestNonInteractivePrompter_RefusesEverything(t *testing.T) {
	p := &NonInteractivePrompter{}
	ctx := context.Background()

	if ok, err := p.Confirm(ctx, "Delete?"); ok || err == nil {
		t.Error("non-interactive Confirm should refuse with an error")
	}
	if _, err := p.Credential(ctx, "Credential"); err == nil {
		t.Error("non-interactive Credential should fail")
	}
	if p.IsInteractive() {
		t.Error("IsInteractive should be false")
	}
}

func TestMockPrompter_RecordsMessages(t *testing.T) {
	p := &MockPrompter{ConfirmAnswer: true, CredentialAnswer: "hunter2"}
	ctx := context.Background()

	ok, err := p.Confirm(ctx, "Delete env dev?")
	if err != nil || !ok {
		t.Fatalf("Confirm = (%v, %v)", ok, err)
	}
	if _, err := p.Credential(ctx, "Credential for hosts"); err != nil {
		t.Fatal(err)
	}
	if len(p.ConfirmAsked) != 1 || p.ConfirmAsked[0] != "Delete env dev?" {
		t.Errorf("ConfirmAsked = %v", p.ConfirmAsked)
	}
	if len(p.CredentialAsked) != 1 {
		t.Errorf("CredentialAsked = %v", p.CredentialAsked)
	}
}
