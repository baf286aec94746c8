package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jonathan/courseware-agent/internal/config"
	"github.com/jonathan/courseware-agent/internal/gateway"
)

// TestMain runs before all tests and loads .env if available
func TestMain(m *testing.M) {
	// Try to load .env file - ignore error if it doesn't exist (CI environment)
	_ = godotenv.Load()

	os.Exit(m.Run())
}

// Markers that tell the prompt families apart.
const (
	routeMarker    = "You route requests"
	semanticMarker = "You are checking a single fact"
)

const proposalReply = `{"fields": {
	"organisation_name": {"value": "Acme Training Pte Ltd", "confidence": 0.95},
	"contact_person": {"value": "Jane Tan", "confidence": 0.9},
	"course_title": {"value": "Applied Data Analytics", "confidence": 0.9},
	"tsc_title": {"value": "Data Analytics", "confidence": 0.9},
	"industry": {"value": "Infocomm Technology", "confidence": 0.9},
	"course_duration_hours": {"value": "16", "confidence": 0.9},
	"learning_outcomes": {"value": ["Build dashboards", "Clean datasets"], "confidence": 0.9},
	"delivery_mode": {"value": "Classroom", "confidence": 0.9},
	"course_fee": {"value": "1200.00", "confidence": 0.9}
}}`

const tiedRoute = `{"candidates": [
	{"pipeline": "course_proposal", "confidence": 0.7},
	{"pipeline": "assessment_set", "confidence": 0.68}
]}`

// MockInvoker is a mock implementation of gateway.Invoker for testing.
type MockInvoker struct {
	InvokeFunc func(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

func (m *MockInvoker) Invoke(ctx context.Context, req gateway.Request) (*gateway.Response, error) {
	return m.InvokeFunc(ctx, req)
}

func scriptedInvoker() *MockInvoker {
	return &MockInvoker{InvokeFunc: func(_ context.Context, req gateway.Request) (*gateway.Response, error) {
		raw := proposalReply
		switch {
		case strings.Contains(req.Prompt, routeMarker):
			raw = tiedRoute
		case strings.Contains(req.Prompt, semanticMarker):
			raw = `{"answer": "yes", "reason": "stated in the document"}`
		}
		return &gateway.Response{Raw: raw, Backend: req.Preferences[0]}, nil
	}}
}

// withInvoker makes every command use inv instead of opening real backends.
func withInvoker(t *testing.T, inv gateway.Invoker) {
	t.Helper()
	orig := openInvoker
	openInvoker = func(context.Context, config.Config, io.Writer) (gateway.Invoker, func(), error) {
		return inv, func() {}, nil
	}
	t.Cleanup(func() { openInvoker = orig })
}

// execute runs the root command with fresh flag values and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	var names []string
	for _, cmd := range rootCmd.Commands() {
		names = append(names, cmd.Name())
	}

	for _, want := range []string{"run", "route", "verify-uen", "history", "serve", "hash-password"} {
		if !assertContains(names, want) {
			t.Errorf("missing subcommand %q in %v", want, names)
		}
	}
}

func assertContains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
