package profiles

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shepherd-ai/shepherd/internal/mcp"
)

const validProfile = `
name: platform
description: Manages clusters.
systemPrompt: You are a platform assistant.
endpoint: rancher.local/mcp
auth:
  mode: none
enabled: true
validationRules:
  - toolName: create_resource
    kind: CREATE
`

func writeProfile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestProvider(t *testing.T, dir string) *FileProvider {
	t.Helper()
	provider, err := NewFileProvider(dir, false, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewFileProvider() error: %v", err)
	}
	t.Cleanup(func() { provider.Close() })
	return provider
}

func TestFileProviderLoad(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "platform.yaml", validProfile)
	writeProfile(t, dir, "notes.txt", "ignored")

	provider := newTestProvider(t, dir)
	loaded, err := provider.Load(t.Context())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("got %d profiles, want 1", len(loaded))
	}
	p := loaded[0]
	if p.Name != "platform" || p.Endpoint != "rancher.local/mcp" {
		t.Errorf("unexpected profile: %+v", p)
	}
	rule, ok := p.RuleFor("create_resource")
	if !ok || rule.Kind != ActionCreate {
		t.Errorf("RuleFor(create_resource) = %+v, %v", rule, ok)
	}
	if _, ok := p.RuleFor("list_clusters"); ok {
		t.Error("unexpected rule for ungated tool")
	}
}

func TestFileProviderSkipsDisabledAndInvalid(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "platform.yaml", validProfile)
	writeProfile(t, dir, "disabled.yaml", `
name: disabled
endpoint: somewhere/mcp
enabled: false
`)
	writeProfile(t, dir, "invalid.yaml", `
name: UPPERCASE_BAD
endpoint: somewhere/mcp
enabled: true
`)
	writeProfile(t, dir, "badkind.yaml", `
name: badkind
endpoint: somewhere/mcp
enabled: true
validationRules:
  - toolName: x
    kind: DESTROY
`)

	provider := newTestProvider(t, dir)
	loaded, err := provider.Load(t.Context())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Name != "platform" {
		t.Errorf("got %+v, want only platform", loaded)
	}
}

func TestFileProviderDefaultsWhenEmpty(t *testing.T) {
	provider := newTestProvider(t, t.TempDir())
	loaded, err := provider.Load(t.Context())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(loaded) == 0 {
		t.Fatal("expected built-in defaults for empty directory")
	}
	if loaded[0].Name != "platform" {
		t.Errorf("first default = %q, want platform", loaded[0].Name)
	}
}

func TestFileProviderWatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "platform.yaml", validProfile)

	provider, err := NewFileProvider(dir, true, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewFileProvider() error: %v", err)
	}
	defer provider.Close()

	if _, err := provider.Load(t.Context()); err != nil {
		t.Fatal(err)
	}

	writeProfile(t, dir, "delivery.yaml", `
name: delivery
endpoint: fleet.local/mcp
enabled: true
`)

	// The watcher delivers asynchronously; poll until the new profile shows up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		loaded, err := provider.Load(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		if len(loaded) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cache never refreshed, still %d profiles", len(loaded))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{
			name:    "valid none auth",
			profile: Profile{Name: "a", Endpoint: "e", Enabled: true},
			wantErr: false,
		},
		{
			name:    "token auth without token",
			profile: Profile{Name: "a", Endpoint: "e", Auth: AuthConfig{Mode: mcp.AuthToken}},
			wantErr: true,
		},
		{
			name:    "basic auth without secret",
			profile: Profile{Name: "a", Endpoint: "e", Auth: AuthConfig{Mode: mcp.AuthBasic}},
			wantErr: true,
		},
		{
			name: "basic auth with secret",
			profile: Profile{
				Name: "a", Endpoint: "e",
				Auth: AuthConfig{Mode: mcp.AuthBasic, SecretName: "creds"},
			},
			wantErr: false,
		},
		{
			name:    "missing endpoint",
			profile: Profile{Name: "a"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.profile.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type recordingSink struct {
	reports []string
	fail    bool
}

func (s *recordingSink) Report(_ context.Context, agent string, status Status) error {
	s.reports = append(s.reports, agent+":"+status.Phase)
	if s.fail {
		return errors.New("sink unavailable")
	}
	return nil
}

func TestReporterOnlyReportsTransitions(t *testing.T) {
	sink := &recordingSink{}
	reporter := NewReporter(sink, slog.New(slog.DiscardHandler))
	ctx := t.Context()

	reporter.Report(ctx, "platform", true, "ToolsLoaded", "")
	reporter.Report(ctx, "platform", true, "ToolsLoaded", "")
	reporter.Report(ctx, "platform", false, "ConnectionFailed", "dial tcp: refused")
	reporter.Report(ctx, "platform", false, "ConnectionFailed", "dial tcp: refused")
	reporter.Report(ctx, "platform", true, "ToolsLoaded", "")

	want := []string{"platform:Ready", "platform:Failed", "platform:Ready"}
	if len(sink.reports) != len(want) {
		t.Fatalf("got %v, want %v", sink.reports, want)
	}
	for i, w := range want {
		if sink.reports[i] != w {
			t.Errorf("report[%d] = %q, want %q", i, sink.reports[i], w)
		}
	}
}

func TestReporterToleratesSinkFailure(t *testing.T) {
	sink := &recordingSink{fail: true}
	reporter := NewReporter(sink, slog.New(slog.DiscardHandler))

	// Must not panic or retry.
	reporter.Report(t.Context(), "platform", true, "ToolsLoaded", "")
	if len(sink.reports) != 1 {
		t.Errorf("got %d reports, want 1", len(sink.reports))
	}
}

func TestFileStatusSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileStatusSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Report(t.Context(), "platform", NewStatus(true, "ToolsLoaded", "")); err != nil {
		t.Fatalf("Report() error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "platform.status.json"))
	if err != nil {
		t.Fatalf("status file missing: %v", err)
	}
	if got := string(data); !strings.Contains(got, `"phase": "Ready"`) {
		t.Errorf("status file = %s", got)
	}
}
