package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	sArg   string
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunReplay(s string) error {
	m.called["RunReplay"] = true
	m.sArg = s
	return m.err
}
func (m *mockApp) RunRender(s string) error {
	m.called["RunRender"] = true
	m.sArg = s
	return m.err
}
func (m *mockApp) RunExport(s string) error {
	m.called["RunExport"] = true
	m.sArg = s
	return m.err
}
func (m *mockApp) RunService() error {
	m.called["RunService"] = true
	return m.err
}

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		expectedArg    string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Replay",
			args:           []string{"replay", "session.yaml", "--config", "site.yaml", "--db", "/tmp/t.db"},
			expectedCalled: "RunReplay",
			expectedArg:    "session.yaml",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != "site.yaml" {
					t.Errorf("expected ConfigFile site.yaml, got %s", opts.ConfigFile)
				}
				if opts.StorePath != "/tmp/t.db" {
					t.Errorf("expected StorePath /tmp/t.db, got %s", opts.StorePath)
				}
				if opts.MQTTMode {
					t.Error("expected MQTTMode false")
				}
			},
		},
		{
			name:           "ReplayDefaults",
			args:           []string{"replay", "session.yaml"},
			expectedCalled: "RunReplay",
			expectedArg:    "session.yaml",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != defaultConfigFile {
					t.Errorf("expected ConfigFile %s, got %s", defaultConfigFile, opts.ConfigFile)
				}
				if opts.OutputFile != "" {
					t.Errorf("expected no OutputFile, got %s", opts.OutputFile)
				}
			},
		},
		{
			name:           "Render",
			args:           []string{"render", "s.yaml", "-o", "out.png", "--scale", "2", "--rotation", "90", "--highlight", "m1,a2"},
			expectedCalled: "RunRender",
			expectedArg:    "s.yaml",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.OutputFile != "out.png" {
					t.Errorf("expected OutputFile out.png, got %s", opts.OutputFile)
				}
				if opts.Scale != 2 {
					t.Errorf("expected Scale 2, got %f", opts.Scale)
				}
				if opts.Rotation != 90 {
					t.Errorf("expected Rotation 90, got %d", opts.Rotation)
				}
				if len(opts.Selected) != 2 || opts.Selected[0] != "m1" || opts.Selected[1] != "a2" {
					t.Errorf("expected Selected [m1 a2], got %v", opts.Selected)
				}
			},
		},
		{
			name:           "RenderDefaults",
			args:           []string{"render", "s.yaml", "--format", "preview"},
			expectedCalled: "RunRender",
			expectedArg:    "s.yaml",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.OutputFile != "overlay.svg" {
					t.Errorf("expected OutputFile overlay.svg, got %s", opts.OutputFile)
				}
				if opts.Format != "preview" {
					t.Errorf("expected Format preview, got %s", opts.Format)
				}
				if opts.Scale != 1 {
					t.Errorf("expected Scale 1, got %f", opts.Scale)
				}
			},
		},
		{
			name:           "Export",
			args:           []string{"--mqtt", "export", "s.yaml"},
			expectedCalled: "RunExport",
			expectedArg:    "s.yaml",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.OutputFile != "-" {
					t.Errorf("expected OutputFile -, got %s", opts.OutputFile)
				}
				if !opts.MQTTMode {
					t.Error("expected MQTTMode true")
				}
			},
		},
		{
			name:           "Serve",
			args:           []string{"serve", "--port", "9090", "--mqtt"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.HTTPPort != 9090 {
					t.Errorf("expected HTTPPort 9090, got %d", opts.HTTPPort)
				}
				if !opts.MQTTMode {
					t.Error("expected MQTTMode true")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if app.sArg != tt.expectedArg {
				t.Errorf("expected argument %q, got %q", tt.expectedArg, app.sArg)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_ArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"ReplayWithoutScript", []string{"replay"}},
		{"ServeWithScript", []string{"serve", "extra"}},
		{"UnknownCommand", []string{"measure"}},
		{"UnknownFlag", []string{"replay", "s.yaml", "--bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			if err := run(tt.args, &out, app); err == nil {
				t.Error("expected error, got nil")
			}
			if len(app.called) != 0 {
				t.Errorf("expected nothing to run, got %v", app.called)
			}
		})
	}
}

func TestRun_PropagatesAppError(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("store offline")
	var out bytes.Buffer
	err := run([]string{"replay", "s.yaml"}, &out, app)
	if err == nil || !strings.Contains(err.Error(), "store offline") {
		t.Errorf("expected store offline error, got %v", err)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"--help"}, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, want := range []string{"Usage:", "replay", "render", "export", "serve"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in help output, got: %s", want, out.String())
		}
	}
}

func TestRun_Version(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"--version"}, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "takeoff version "+Version) {
		t.Errorf("expected version in output, got: %s", out.String())
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
