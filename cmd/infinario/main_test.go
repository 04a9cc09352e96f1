package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"

	"github.com/five82/infinario/internal/transporttest"
	"github.com/five82/infinario/internal/version"
)

func executeRootCommand(t *testing.T, fake *transporttest.Fake, args ...string) (string, string, error) {
	t.Helper()
	c := &cli{}
	if fake != nil {
		c.transport = fake
	}
	cmd := newRootCommand(c)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := body + "\nidentity_path = \"" + filepath.ToSlash(filepath.Join(dir, "identity.toml")) + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{"INFINARIO_CONFIG", "INFINARIO_TOKEN", "INFINARIO_ENDPOINT", "INFINARIO_PROXY", "INFINARIO_CUSTOMER_ID", "INFINARIO_TIMEOUT", "INFINARIO_WAIT"} {
		t.Setenv(key, "")
	}
}

func TestVersionCommandPrintsModuleAndVersion(t *testing.T) {
	clearEnv(t)

	stdout, stderr, err := executeRootCommand(t, nil, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if stderr != "" {
		t.Fatalf("expected empty stderr, got %q", stderr)
	}
	want := version.Module() + " " + version.Current() + "\n"
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
}

func TestTrackCommandPostsEvent(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `project_token = "file-token"`)

	fake := transporttest.New(transporttest.OK(`{"status": "ok"}`))
	stdout, stderr, err := executeRootCommand(t, fake,
		"--config", path, "--endpoint", "http://collector.test/bulk",
		"track", "purchase", `{"item": "sword"}`, "--timestamp", "1449008256.5")
	if err != nil {
		t.Fatalf("track failed: %v (stderr %q)", err, stderr)
	}
	if !strings.Contains(stdout, "track purchase: Success confirmed") {
		t.Fatalf("unexpected stdout %q", stdout)
	}
	if !strings.Contains(stderr, "1 sent, 0 failed, 0 killed") {
		t.Fatalf("unexpected summary %q", stderr)
	}

	posts := fake.Posts()
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(posts))
	}
	if posts[0].URI != "http://collector.test/bulk" {
		t.Fatalf("URI = %q", posts[0].URI)
	}
	var env struct {
		Commands []struct {
			Data struct {
				ProjectID string         `json:"project_id"`
				Type      string         `json:"type"`
				Timestamp float64        `json:"timestamp"`
				Props     map[string]any `json:"properties"`
			} `json:"data"`
		} `json:"commands"`
	}
	if err := gojson.Unmarshal(posts[0].Body, &env); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	data := env.Commands[0].Data
	if data.ProjectID != "file-token" || data.Type != "purchase" || data.Timestamp != 1449008256.5 {
		t.Fatalf("unexpected command data %+v", data)
	}
	if data.Props["item"] != "sword" {
		t.Fatalf("properties = %v", data.Props)
	}
}

func TestTokenFromEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `project_token = "file-token"`)
	t.Setenv("INFINARIO_TOKEN", "env-token")

	fake := transporttest.New(transporttest.OK(`{"status": "ok"}`))
	if _, stderr, err := executeRootCommand(t, fake, "--config", path, "update", `{"plan": "pro"}`); err != nil {
		t.Fatalf("update failed: %v (stderr %q)", err, stderr)
	}
	if !strings.Contains(string(fake.Posts()[0].Body), `"project_id":"env-token"`) {
		t.Fatalf("body %s should carry the env token", fake.Posts()[0].Body)
	}
}

func TestIdentifyRejectedFails(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `project_token = "file-token"`)

	fake := transporttest.New(transporttest.OK(`{"status": "error"}`))
	stdout, _, err := executeRootCommand(t, fake, "--config", path, "identify", "alice")
	if err == nil {
		t.Fatalf("expected identify to fail when the collector rejects it")
	}
	if !strings.Contains(err.Error(), "1 of 1 commands not confirmed") {
		t.Fatalf("unexpected error %v", err)
	}
	if !strings.Contains(stdout, "identify alice: Success rejected") {
		t.Fatalf("unexpected stdout %q", stdout)
	}
}

func TestMissingTokenFails(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "")

	_, _, err := executeRootCommand(t, transporttest.New(), "--config", path, "track", "purchase")
	if err == nil || !strings.Contains(err.Error(), "project token is required") {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestInvalidAttributesFail(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `project_token = "t"`)

	fake := transporttest.New()
	stdout, _, err := executeRootCommand(t, fake, "--config", path, "update", `{"broken":`)
	if err == nil {
		t.Fatalf("expected invalid attributes to fail")
	}
	if !strings.Contains(stdout, "SendRequestError") {
		t.Fatalf("unexpected stdout %q", stdout)
	}
	if len(fake.Posts()) != 0 {
		t.Fatalf("invalid attributes reached the network")
	}
}

func TestInvalidLogLevelFails(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `project_token = "t"`)

	_, _, err := executeRootCommand(t, transporttest.New(), "--config", path, "--log-level", "loud", "track", "x")
	if err == nil || !strings.Contains(err.Error(), "invalid log level") {
		t.Fatalf("expected log level error, got %v", err)
	}
}
