package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/inealey/cinema-transfer/catalog"
	"github.com/inealey/cinema-transfer/cli/config"
	"github.com/inealey/cinema-transfer/collector"
	"github.com/inealey/cinema-transfer/ledger"
	"github.com/inealey/cinema-transfer/output"
	"github.com/inealey/cinema-transfer/producer"
)

func TestReadOnlyFlags(t *testing.T) {
	names := make(map[string]bool)
	for _, f := range ReadOnlyFlags() {
		names[f.Names()[0]] = true
	}
	if !names["format"] || !names["no-color"] {
		t.Errorf("ReadOnlyFlags = %v, want format and no-color", names)
	}
}

func TestExitCodeConstants(t *testing.T) {
	codes := []int{exitSuccess, exitFailure, exitConfigError, exitNothingToSend}
	seen := make(map[int]bool)
	for _, c := range codes {
		if seen[c] {
			t.Errorf("exit code %d used twice", c)
		}
		seen[c] = true
	}
	if exitSuccess != 0 || exitNothingToSend != 3 {
		t.Errorf("unexpected exit codes: success=%d nothing=%d", exitSuccess, exitNothingToSend)
	}
}

// --- Config precedence ---

// newTestCLIContext builds a minimal *cli.Context with the given flags set.
// flagValues maps flag names to their string values. All listed flags are
// registered and marked as explicitly set (c.IsSet returns true).
// defaultFlags maps flag names to default values (not explicitly set).
func newTestCLIContext(t *testing.T, flagValues map[string]string, defaultFlags map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()

	allFlags := make(map[string]string)
	for k, v := range defaultFlags {
		allFlags[k] = v
	}
	for k, v := range flagValues {
		allFlags[k] = v
	}

	var cliFlags []cli.Flag
	for name, val := range allFlags {
		cliFlags = append(cliFlags, &cli.StringFlag{Name: name, Value: val})
	}
	app.Flags = cliFlags

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for name, val := range allFlags {
		fs.String(name, val, "")
	}

	// Only set the flagValues (not defaults) so c.IsSet works
	for name, val := range flagValues {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}

	return cli.NewContext(app, fs, nil)
}

func TestResolveString_CLIWins(t *testing.T) {
	c := newTestCLIContext(t, map[string]string{"output": "cli-val"}, nil)
	if got := resolveString(c, "output", "config-val"); got != "cli-val" {
		t.Errorf("expected CLI to win, got %q", got)
	}
}

func TestResolveString_ConfigFallback(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"output": "output"})
	if got := resolveString(c, "output", "config-val"); got != "config-val" {
		t.Errorf("expected config fallback, got %q", got)
	}
}

func TestResolveString_FlagDefault(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"host": "127.0.0.1"})
	if got := resolveString(c, "host", ""); got != "127.0.0.1" {
		t.Errorf("expected flag default, got %q", got)
	}
}

func TestConfigVal_NilConfig(t *testing.T) {
	got := configVal(nil, func(c *config.Config) string { return c.Collector.Output })
	if got != "" {
		t.Errorf("expected empty for nil config, got %q", got)
	}
}

func TestConfigVal_NonNil(t *testing.T) {
	cfg := &config.Config{Collector: config.CollectorConfig{Port: 10005}}
	got := configVal(cfg, func(c *config.Config) int { return c.Collector.Port })
	if got != 10005 {
		t.Errorf("expected 10005, got %d", got)
	}
}

func TestResolveInt(t *testing.T) {
	newCtx := func(set bool) *cli.Context {
		app := cli.NewApp()
		app.Flags = []cli.Flag{&cli.IntFlag{Name: "port", Value: defaultPort}}
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.Int("port", defaultPort, "")
		if set {
			_ = fs.Set("port", "12000")
		}
		return cli.NewContext(app, fs, nil)
	}

	if got := resolveInt(newCtx(true), "port", 11000); got != 12000 {
		t.Errorf("expected CLI to win with 12000, got %d", got)
	}
	if got := resolveInt(newCtx(false), "port", 11000); got != 11000 {
		t.Errorf("expected config fallback 11000, got %d", got)
	}
	if got := resolveInt(newCtx(false), "port", 0); got != defaultPort {
		t.Errorf("expected default %d, got %d", defaultPort, got)
	}
}

func TestResolveBool(t *testing.T) {
	newCtx := func(value string) *cli.Context {
		app := cli.NewApp()
		app.Flags = []cli.Flag{&cli.BoolFlag{Name: "s3-path-style"}}
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.Bool("s3-path-style", false, "")
		if value != "" {
			_ = fs.Set("s3-path-style", value)
		}
		return cli.NewContext(app, fs, nil)
	}

	if !resolveBool(newCtx("true"), "s3-path-style", false) {
		t.Error("expected CLI true to win")
	}
	if resolveBool(newCtx("false"), "s3-path-style", true) {
		t.Error("expected explicit CLI false to win over config")
	}
	if !resolveBool(newCtx(""), "s3-path-style", true) {
		t.Error("expected config true when flag unset")
	}
}

func TestResolveDuration(t *testing.T) {
	newCtx := func(set bool) *cli.Context {
		app := cli.NewApp()
		app.Flags = []cli.Flag{&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second}}
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.Duration("timeout", 30*time.Second, "")
		if set {
			_ = fs.Set("timeout", "5s")
		}
		return cli.NewContext(app, fs, nil)
	}

	if got := resolveDuration(newCtx(true), "timeout", time.Minute); got != 5*time.Second {
		t.Errorf("expected CLI 5s to win, got %v", got)
	}
	if got := resolveDuration(newCtx(false), "timeout", time.Minute); got != time.Minute {
		t.Errorf("expected config fallback 1m, got %v", got)
	}
}

// --- Adapter configuration ---

// newAdapterTestContext builds a CLI context with adapter-related flags.
// Header slices need the full app.Run path; see TestCollect_AdapterHeaders.
func newAdapterTestContext(t *testing.T, flags map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	app.Flags = adapterFlags()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.String("adapter", "", "")
	fs.String("adapter-url", "", "")
	fs.String("adapter-channel", "", "")
	fs.String("adapter-list", "", "")
	fs.Duration("adapter-timeout", 10*time.Second, "")
	fs.Int("adapter-retries", 3, "")

	for name, val := range flags {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}
	return cli.NewContext(app, fs, nil)
}

func TestParseAdapterConfig_WebhookValid(t *testing.T) {
	c := newAdapterTestContext(t, map[string]string{
		"adapter-url": "https://hooks.example.com/frames",
	})

	ac, err := parseAdapterConfigWithPrecedence(c, nil, "webhook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.adapterType != "webhook" || ac.url != "https://hooks.example.com/frames" {
		t.Errorf("unexpected choice: %+v", ac)
	}
	if ac.retries != 3 || ac.timeout != 10*time.Second {
		t.Errorf("expected flag defaults, got retries=%d timeout=%v", ac.retries, ac.timeout)
	}
}

func TestParseAdapterConfig_MissingURL(t *testing.T) {
	c := newAdapterTestContext(t, nil)
	_, err := parseAdapterConfigWithPrecedence(c, nil, "redis")
	if err == nil || !strings.Contains(err.Error(), "--adapter-url") {
		t.Fatalf("expected --adapter-url error, got %v", err)
	}
}

func TestParseAdapterConfig_UnknownType(t *testing.T) {
	c := newAdapterTestContext(t, map[string]string{"adapter-url": "x"})
	_, err := parseAdapterConfigWithPrecedence(c, nil, "kafka")
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if !strings.Contains(err.Error(), "kafka") {
		t.Errorf("error should include the bad type name, got: %v", err)
	}
}

func TestParseAdapterConfig_ConfigValues(t *testing.T) {
	retries := 0
	cfg := &config.Config{
		Adapter: config.AdapterConfig{
			URL:     "redis://from-config:6379/0",
			Channel: "render:frames",
			List:    "render:queue",
			Retries: &retries,
			Timeout: config.Duration{Duration: 2 * time.Second},
		},
	}

	ac, err := parseAdapterConfigWithPrecedence(newAdapterTestContext(t, nil), cfg, "redis")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.url != "redis://from-config:6379/0" || ac.channel != "render:frames" || ac.list != "render:queue" {
		t.Errorf("config values not applied: %+v", ac)
	}
	if ac.retries != 0 {
		t.Errorf("retries should come from config (0), got %d", ac.retries)
	}
	if ac.timeout != 2*time.Second {
		t.Errorf("timeout should come from config, got %v", ac.timeout)
	}
}

func TestParseAdapterConfig_CLIOverridesConfig(t *testing.T) {
	retries := 7
	cfg := &config.Config{
		Adapter: config.AdapterConfig{URL: "https://config.example.com", Retries: &retries},
	}
	c := newAdapterTestContext(t, map[string]string{
		"adapter-url":     "https://cli.example.com",
		"adapter-retries": "1",
	})

	ac, err := parseAdapterConfigWithPrecedence(c, cfg, "webhook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.url != "https://cli.example.com" || ac.retries != 1 {
		t.Errorf("CLI should override config, got %+v", ac)
	}
}

func TestCollect_AdapterHeaders(t *testing.T) {
	cfg := &config.Config{
		Adapter: config.AdapterConfig{
			URL:     "https://example.com",
			Headers: map[string]string{"X-Api-Key": "from-config", "X-Team": "render"},
		},
	}

	probe := func(args ...string) (adapterChoice, error) {
		var got adapterChoice
		var parseErr error
		app := cli.NewApp()
		app.Commands = []*cli.Command{{
			Name:  "probe",
			Flags: adapterFlags(),
			Action: func(c *cli.Context) error {
				got, parseErr = parseAdapterConfigWithPrecedence(c, cfg, "webhook")
				return nil
			},
		}}
		if err := app.Run(append([]string{"cinema", "probe"}, args...)); err != nil {
			t.Fatalf("app.Run failed: %v", err)
		}
		return got, parseErr
	}

	got, err := probe(
		"--adapter-header", "X-Api-Key=from-cli",
		"--adapter-header", "Authorization=Bearer t=1",
	)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	want := map[string]string{
		"X-Api-Key":     "from-cli",
		"X-Team":        "render",
		"Authorization": "Bearer t=1",
	}
	for k, v := range want {
		if got.headers[k] != v {
			t.Errorf("header %s = %q, want %q", k, got.headers[k], v)
		}
	}

	if _, err := probe("--adapter-header", "no-equals-sign"); err == nil || !strings.Contains(err.Error(), "malformed") {
		t.Errorf("expected malformed header error, got %v", err)
	}
}

func TestBuildAdapter(t *testing.T) {
	a, err := buildAdapter(adapterChoice{})
	if err != nil || a != nil {
		t.Fatalf("empty choice should build no adapter, got %v, %v", a, err)
	}

	a, err = buildAdapter(adapterChoice{adapterType: "webhook", url: "https://example.com"})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	_ = a.Close()

	a, err = buildAdapter(adapterChoice{adapterType: "redis", url: "redis://127.0.0.1:6379/0"})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	_ = a.Close()

	if _, err := buildAdapter(adapterChoice{adapterType: "redis", url: "http://not-redis"}); err == nil {
		t.Error("expected error for invalid redis URL")
	}
}

func TestValidateStorage(t *testing.T) {
	tests := []struct {
		name    string
		choice  storageChoice
		wantErr string
	}{
		{"fs", storageChoice{backend: "fs", path: "out"}, ""},
		{"s3 bucket", storageChoice{backend: "s3", path: "frames"}, ""},
		{"s3 bucket and prefix", storageChoice{backend: "s3", path: "s3://frames/osc"}, ""},
		{"missing path", storageChoice{backend: "fs"}, "--output is required"},
		{"s3 without bucket", storageChoice{backend: "s3", path: "/osc"}, "bucket"},
		{"unknown backend", storageChoice{backend: "gcs", path: "x"}, "gcs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStorage(tt.choice)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestProducerExit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"nothing to send", fmt.Errorf("%w: images is empty", producer.ErrNothingToSend), exitNothingToSend},
		{"invalid dataset", fmt.Errorf("%w: %q", ledger.ErrInvalidDataset, "a b"), exitConfigError},
		{"transfer failure", errors.New("connection refused"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertExitCode(t, producerExit(tt.err), tt.code)
		})
	}
}

func TestSummarize(t *testing.T) {
	records := []ledger.Record{
		{Dataset: "osc", Timestep: 0},
		{Dataset: "wave", Timestep: 4},
		{Dataset: "osc", Timestep: 2},
		{Dataset: "osc", Timestep: 1},
	}
	got := summarize(records)
	want := []DatasetProgress{
		{Dataset: "osc", Delivered: 3, Resume: 3},
		{Dataset: "wave", Delivered: 1, Resume: 5},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d datasets, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("progress[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

// --- Commands through app.Run ---

// newTestApp creates a cli.App with every command wired up and
// ExitErrHandler suppressed so errors are returned instead of calling
// os.Exit. Rendered output goes to out.
func newTestApp(out *bytes.Buffer) *cli.App {
	app := cli.NewApp()
	app.Writer = out
	app.Commands = []*cli.Command{
		CollectCommand(),
		SendCommand(),
		WatchCommand(),
		CatalogCommand(),
		LedgerCommand(),
		VersionCommand("abc123"),
	}
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func assertExitCode(t *testing.T, err error, want int) {
	t.Helper()
	var exitCoder cli.ExitCoder
	if !errors.As(err, &exitCoder) {
		t.Fatalf("expected cli.ExitCoder, got %v", err)
	}
	if exitCoder.ExitCode() != want {
		t.Errorf("exit code = %d, want %d (%v)", exitCoder.ExitCode(), want, err)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	if err := newTestApp(&out).Run([]string{"cinema", "version", "--format", "json"}); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var resp VersionResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if resp.Commit != "abc123" || resp.Version == "" || resp.Protocol == "" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestVersionCommand_InvalidFormat(t *testing.T) {
	var out bytes.Buffer
	err := newTestApp(&out).Run([]string{"cinema", "version", "--format", "xml"})
	assertExitCode(t, err, exitConfigError)
}

func TestCatalogCommand(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	app := newTestApp(&out)

	err := app.Run([]string{"cinema", "catalog", "--format", "json",
		"--output", dir, "--timesteps", "2", "--phi", "3", "--theta", "2"})
	if err != nil {
		t.Fatalf("catalog failed: %v", err)
	}
	var resp CatalogResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if !resp.Written || resp.Rows != 12 || resp.Manifest != catalog.ManifestName {
		t.Errorf("unexpected response: %+v", resp)
	}

	data, err := os.ReadFile(filepath.Join(dir, catalog.ManifestName))
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 13 {
		t.Errorf("manifest has %d lines, want 13", lines)
	}

	// Second run leaves the manifest alone.
	out.Reset()
	if err := app.Run([]string{"cinema", "catalog", "--format", "json", "--output", dir}); err != nil {
		t.Fatalf("second catalog failed: %v", err)
	}
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if resp.Written {
		t.Error("existing manifest should not be rewritten")
	}
	again, _ := os.ReadFile(filepath.Join(dir, catalog.ManifestName))
	if !bytes.Equal(again, data) {
		t.Error("manifest content changed")
	}
}

func TestCatalogCommand_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "cinema.yaml")
	content := fmt.Sprintf("collector:\n  output: %s\n  timesteps: 1\n  phi: 2\n  theta: 2\n", dir)
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err := newTestApp(&out).Run([]string{"cinema", "catalog", "--format", "json", "--config", cfgPath})
	if err != nil {
		t.Fatalf("catalog failed: %v", err)
	}
	var resp CatalogResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if resp.Rows != 4 || resp.Output != dir {
		t.Errorf("config values not applied: %+v", resp)
	}
}

func TestCatalogCommand_Errors(t *testing.T) {
	var out bytes.Buffer
	app := newTestApp(&out)

	err := app.Run([]string{"cinema", "catalog", "--output", t.TempDir(), "--phi", "0"})
	assertExitCode(t, err, exitConfigError)

	err = app.Run([]string{"cinema", "catalog", "--config", "/nonexistent/cinema.yaml"})
	assertExitCode(t, err, exitConfigError)

	err = app.Run([]string{"cinema", "catalog", "--output", "x", "--output-backend", "ftp"})
	assertExitCode(t, err, exitConfigError)
}

func TestLedgerCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cinema.ledger")
	if err := os.WriteFile(path, []byte("osc 0\nosc 1\nwave 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	app := newTestApp(&out)
	if err := app.Run([]string{"cinema", "ledger", "--format", "json", "--ledger", path}); err != nil {
		t.Fatalf("ledger failed: %v", err)
	}
	var progress []DatasetProgress
	if err := json.Unmarshal(out.Bytes(), &progress); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if len(progress) != 2 || progress[0].Resume != 2 || progress[1].Resume != 8 {
		t.Errorf("unexpected progress: %+v", progress)
	}

	out.Reset()
	if err := app.Run([]string{"cinema", "ledger", "--format", "json", "--ledger", path, "--name", "fresh"}); err != nil {
		t.Fatalf("ledger failed: %v", err)
	}
	if err := json.Unmarshal(out.Bytes(), &progress); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if len(progress) != 1 || progress[0].Dataset != "fresh" || progress[0].Resume != 0 {
		t.Errorf("unknown dataset should resume at 0, got %+v", progress)
	}

	out.Reset()
	if err := app.Run([]string{"cinema", "ledger", "--format", "json", "--ledger", path, "--name", "osc", "--records"}); err != nil {
		t.Fatalf("ledger failed: %v", err)
	}
	var records []ledger.Record
	if err := json.Unmarshal(out.Bytes(), &records); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if len(records) != 2 || records[1].Timestep != 1 {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestSendCommand_Exits(t *testing.T) {
	tmp := t.TempDir()
	ledgerPath := filepath.Join(tmp, "cinema.ledger")
	empty := filepath.Join(tmp, "empty")
	if err := os.Mkdir(empty, 0o755); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	app := newTestApp(&out)

	err := app.Run([]string{"cinema", "send", "--input", empty, "--ledger", ledgerPath})
	assertExitCode(t, err, exitConfigError) // --name missing

	err = app.Run([]string{"cinema", "send", "--input", empty, "--ledger", ledgerPath, "--name", "osc"})
	assertExitCode(t, err, exitNothingToSend)

	if err := os.WriteFile(filepath.Join(empty, "a.png"), []byte("frame"), 0o644); err != nil {
		t.Fatal(err)
	}
	err = app.Run([]string{"cinema", "send", "--input", empty, "--ledger", ledgerPath,
		"--name", "osc", "--port", strconv.Itoa(closedPort(t)), "--timeout", "2s"})
	assertExitCode(t, err, exitFailure)

	if _, err := os.Stat(ledgerPath); err == nil {
		data, _ := os.ReadFile(ledgerPath)
		if len(data) != 0 {
			t.Errorf("failed runs must not touch the ledger, got %q", data)
		}
	}
}

func TestSendCommand_EndToEnd(t *testing.T) {
	sink := output.NewStubSink()
	srv, err := collector.Listen(collector.Config{Addr: "127.0.0.1:0", Sink: sink})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	tmp := t.TempDir()
	input := filepath.Join(tmp, "images")
	if err := os.Mkdir(input, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"a.png": "first", "b.png": "second"} {
		if err := os.WriteFile(filepath.Join(input, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ledgerPath := filepath.Join(tmp, "cinema.ledger")
	port := srv.Addr().(*net.TCPAddr).Port

	var out bytes.Buffer
	err = newTestApp(&out).Run([]string{"cinema", "send", "--format", "json",
		"--input", input, "--ledger", ledgerPath, "--name", "osc",
		"--port", strconv.Itoa(port), "--log-level", "error"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var res producer.Result
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("invalid JSON %q: %v", out.String(), err)
	}
	if res.Dataset != "osc" || res.Timestep != 0 || res.Files != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
	data, err := os.ReadFile(ledgerPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "osc 0\n" {
		t.Errorf("ledger = %q, want %q", data, "osc 0\n")
	}
	if sink.BatchCount() != 1 {
		t.Errorf("collector committed %d batches, want 1", sink.BatchCount())
	}
}

func TestWatchCommand_RequiresCount(t *testing.T) {
	var out bytes.Buffer
	err := newTestApp(&out).Run([]string{"cinema", "watch", "--name", "osc",
		"--input", t.TempDir(), "--ledger", filepath.Join(t.TempDir(), "l")})
	assertExitCode(t, err, exitConfigError)
}

func TestCollectCommand_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad max payload", []string{"--max-payload", "huge"}},
		{"bad resolution", []string{"--timesteps", "-1"}},
		{"bad backend", []string{"--output-backend", "ftp"}},
		{"bad adapter", []string{"--adapter", "kafka", "--adapter-url", "x"}},
		{"adapter without url", []string{"--adapter", "redis"}},
		{"bad log level", []string{"--log-level", "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			args := append([]string{"cinema", "collect", "--output", t.TempDir()}, tt.args...)
			assertExitCode(t, newTestApp(&out).Run(args), exitConfigError)
		})
	}
}

func TestCollectCommand_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	var out bytes.Buffer
	err = newTestApp(&out).Run([]string{"cinema", "collect", "--output", t.TempDir(),
		"--port", strconv.Itoa(port), "--log-level", "error"})
	assertExitCode(t, err, exitFailure)
}

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}
