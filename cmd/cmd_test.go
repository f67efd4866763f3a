// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cfclear/api/schemas"
	"github.com/xkilldash9x/cfclear/internal/config"
	"github.com/xkilldash9x/cfclear/internal/coordinator"
	"github.com/xkilldash9x/cfclear/internal/server"
)

type fakeClearer struct {
	mu       sync.Mutex
	result   schemas.ClearanceResult
	requests []coordinator.Request
}

func (f *fakeClearer) Acquire(ctx context.Context, req coordinator.Request) schemas.ClearanceResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result
}

func (f *fakeClearer) Invalidate() {}

// useFakeClearer swaps the component factory for the duration of the test.
func useFakeClearer(t *testing.T, result schemas.ClearanceResult) (*fakeClearer, **config.Config) {
	t.Helper()
	fake := &fakeClearer{result: result}
	var seen *config.Config
	original := newClearer
	newClearer = func(cfg *config.Config, logger *zap.Logger) (server.Clearer, error) {
		seen = cfg
		return fake, nil
	}
	t.Cleanup(func() { newClearer = original })
	return fake, &seen
}

// executeCommand runs a fresh command tree and returns stdout and stderr separately.
func executeCommand(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// createTempConfig helper
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

var solved = schemas.ClearanceResult{
	Success:   true,
	Cookie:    "__cf_bm=bm; cf_clearance=abc",
	UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Chrome/128.0.0.0",
}

func TestAcquire_PrintsCookieAndUserAgent(t *testing.T) {
	fake, _ := useFakeClearer(t, solved)

	stdout, _, err := executeCommand(t, context.Background(), "acquire", "https://target.example/")

	require.NoError(t, err)
	assert.Equal(t, "Cookie: __cf_bm=bm; cf_clearance=abc\nUser agent: Mozilla/5.0 (X11; Linux x86_64) Chrome/128.0.0.0\n", stdout)
	require.Len(t, fake.requests, 1)
	assert.Equal(t, coordinator.Request{
		URL:      "https://target.example/",
		Timeout:  30 * time.Second,
		Headless: true,
	}, fake.requests[0])
}

func TestAcquire_Flags(t *testing.T) {
	fake, _ := useFakeClearer(t, solved)

	_, _, err := executeCommand(t, context.Background(),
		"acquire", "target.example", "--headed", "--timeout=5", "--proxy=http://user:pw@proxy.example:3128")

	require.NoError(t, err)
	require.Len(t, fake.requests, 1)
	assert.Equal(t, coordinator.Request{
		URL:      "https://target.example",
		Timeout:  5 * time.Second,
		Proxy:    "http://user:pw@proxy.example:3128",
		Headless: false,
	}, fake.requests[0])
}

func TestAcquire_FractionalTimeout(t *testing.T) {
	fake, _ := useFakeClearer(t, solved)

	_, _, err := executeCommand(t, context.Background(), "acquire", "https://target.example", "--timeout=2.5")

	require.NoError(t, err)
	require.Len(t, fake.requests, 1)
	assert.Equal(t, 2500*time.Millisecond, fake.requests[0].Timeout)
}

func TestAcquire_Failure(t *testing.T) {
	failure := schemas.Failure("failed to obtain clearance cookie", map[string]any{"page_length": 2048})
	useFakeClearer(t, failure)

	stdout, _, err := executeCommand(t, context.Background(), "acquire", "https://target.example/")

	require.Error(t, err)
	var acqErr *acquireError
	require.True(t, errors.As(err, &acqErr))
	assert.Equal(t, failure, acqErr.result)
	assert.Empty(t, stdout, "nothing but the success lines may reach stdout")
}

func TestAcquire_JSONOutput(t *testing.T) {
	useFakeClearer(t, solved)

	stdout, _, err := executeCommand(t, context.Background(), "acquire", "https://target.example/", "--json")

	require.NoError(t, err)
	var got schemas.ClearanceResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, solved, got)
}

func TestAcquire_ArgumentValidation(t *testing.T) {
	fake, _ := useFakeClearer(t, solved)

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"missing url", []string{"acquire"}, "accepts 1 arg"},
		{"unsupported scheme", []string{"acquire", "ftp://target.example/"}, "must be an absolute http or https URL"},
		{"zero timeout", []string{"acquire", "https://target.example/", "--timeout=0"}, "--timeout"},
		{"nan timeout", []string{"acquire", "https://target.example/", "--timeout=NaN"}, "--timeout"},
		{"huge timeout", []string{"acquire", "https://target.example/", "--timeout=1e300"}, "--timeout"},
		{"bad proxy", []string{"acquire", "https://target.example/", "--proxy=ftp://proxy.example"}, "proxy.url invalid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := executeCommand(t, context.Background(), tc.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
	assert.Empty(t, fake.requests)
}

func TestAcquire_EnvironmentOverride(t *testing.T) {
	fake, seen := useFakeClearer(t, solved)
	t.Setenv("CFCLEAR_SOLVER_TIMEOUT", "7s")
	t.Setenv("CFCLEAR_CACHE_ENABLED", "false")

	_, _, err := executeCommand(t, context.Background(), "acquire", "https://target.example/")

	require.NoError(t, err)
	require.Len(t, fake.requests, 1)
	assert.Equal(t, 7*time.Second, fake.requests[0].Timeout)
	require.NotNil(t, *seen)
	assert.False(t, (*seen).Cache.Enabled)
}

func TestAcquire_ConfigFile(t *testing.T) {
	fake, seen := useFakeClearer(t, solved)
	path := createTempConfig(t, `
solver:
  timeout: 12s
browser:
  headless: false
identity:
  user_agent: "Pinned/1.0"
`)

	_, _, err := executeCommand(t, context.Background(), "acquire", "https://target.example/", "--config", path)

	require.NoError(t, err)
	require.Len(t, fake.requests, 1)
	assert.Equal(t, 12*time.Second, fake.requests[0].Timeout)
	assert.False(t, fake.requests[0].Headless)
	assert.Equal(t, "Pinned/1.0", (*seen).Identity.UserAgent)
}

func TestAcquire_FlagBeatsConfigFile(t *testing.T) {
	fake, _ := useFakeClearer(t, solved)
	path := createTempConfig(t, "solver:\n  timeout: 12s\nproxy:\n  url: http://file-proxy.example:8080\n")

	_, _, err := executeCommand(t, context.Background(),
		"acquire", "https://target.example/", "--config", path, "--timeout=3", "--proxy=socks5://127.0.0.1:1080")

	require.NoError(t, err)
	require.Len(t, fake.requests, 1)
	assert.Equal(t, 3*time.Second, fake.requests[0].Timeout)
	assert.Equal(t, "socks5://127.0.0.1:1080", fake.requests[0].Proxy)
}

func TestAcquire_MissingConfigFileIsAnError(t *testing.T) {
	useFakeClearer(t, solved)

	_, _, err := executeCommand(t, context.Background(),
		"acquire", "https://target.example/", "--config", filepath.Join(t.TempDir(), "missing.yaml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	useFakeClearer(t, solved)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := executeCommand(t, ctx, "serve", "--listen=127.0.0.1:0")
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

func TestServe_RejectsArgs(t *testing.T) {
	useFakeClearer(t, solved)
	_, _, err := executeCommand(t, context.Background(), "serve", "extra")
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	original := Version
	Version = "1.4.2"
	defer func() { Version = original }()

	stdout, _, err := executeCommand(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Equal(t, "cfclear version 1.4.2\n", stdout)
}

func TestRootCmd_VersionFlag(t *testing.T) {
	stdout, _, err := executeCommand(t, context.Background(), "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", stdout)
}

func TestExecute_ReturnsCommandError(t *testing.T) {
	useFakeClearer(t, schemas.Failure("boom", nil))
	original := os.Args
	t.Cleanup(func() { os.Args = original })
	os.Args = []string{"cfclear", "acquire", "https://target.example/"}

	err := Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestNormalizeTarget(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://target.example/path?q=1", want: "https://target.example/path?q=1"},
		{in: "http://target.example", want: "http://target.example"},
		{in: "target.example/login", want: "https://target.example/login"},
		{in: "ws://target.example", wantErr: true},
		{in: "https://", wantErr: true},
	}
	for _, tc := range cases {
		got, err := normalizeTarget(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}
