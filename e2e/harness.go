// CLAUDE:SUMMARY E2E harness: runs the seafoodmarket binary on a free port with a temp data dir, plus HTTP helpers
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

const (
	inviteCode  = "E2E-INVITE"
	adminSecret = "e2e-admin-secret"
)

// TestHarness manages a seafoodmarket subprocess.
type TestHarness struct {
	BaseURL  string
	DataDir  string
	DBPath   string
	Packages string

	cmd    *exec.Cmd
	client *http.Client
}

// NewHarness writes a config, starts `seafoodmarket serve` and waits for /healthz.
func NewHarness(t *testing.T) *TestHarness {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	// t.TempDir() would vanish with the first test; the harness is shared.
	dataDir, err := os.MkdirTemp("", "seafoodmarket-e2e-*")
	if err != nil {
		t.Fatalf("creating temp dir: %v", err)
	}
	dbPath := filepath.Join(dataDir, "hub.db")
	packages := filepath.Join(dataDir, "packages")

	config := fmt.Sprintf(`[server]
addr = "127.0.0.1:%d"
public_url = "http://127.0.0.1:%d"
static_dir = ""

[database]
path = %q

[auth]
jwt_secret = "e2e-test-secret"
token_expiry_min = 60
admin_secret = %q

[storage]
packages_dir = %q
max_upload_mb = 2

[log]
level = "warn"

[invites]
system_codes = [%q]
system_max_uses = 1000
`, port, port, dbPath, adminSecret, packages, inviteCode)

	configPath := filepath.Join(dataDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(config), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	wd, _ := os.Getwd()
	binary, _ := filepath.Abs(filepath.Join(wd, "..", "seafoodmarket"))
	if _, err := os.Stat(binary); os.IsNotExist(err) {
		t.Skipf("binary not found at %s (build with: CGO_ENABLED=0 go build -o seafoodmarket .)", binary)
	}

	cmd := exec.Command(binary, "serve", "--config", configPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = dataDir
	// env overrides would win over the file
	cmd.Env = append(os.Environ(), "ADMIN_SECRET=", "SEAFOOD_DB_PATH=", "AUTH_URL=", "NEXTAUTH_URL=")

	if err := cmd.Start(); err != nil {
		t.Fatalf("starting seafoodmarket: %v", err)
	}

	h := &TestHarness{
		BaseURL:  fmt.Sprintf("http://127.0.0.1:%d", port),
		DataDir:  dataDir,
		DBPath:   dbPath,
		Packages: packages,
		cmd:      cmd,
		client:   &http.Client{Timeout: 30 * time.Second},
	}

	deadline := time.Now().Add(15 * time.Second)
	backoff := 100 * time.Millisecond
	for time.Now().Before(deadline) {
		resp, err := h.client.Get(h.BaseURL + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				t.Logf("seafoodmarket ready on port %d", port)
				return h
			}
		}
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff = backoff * 3 / 2
		}
	}

	h.Stop()
	t.Fatalf("seafoodmarket did not become ready within 15s on port %d", port)
	return nil
}

// Stop sends SIGTERM, waits 5s, then SIGKILL, and removes the data dir.
func (h *TestHarness) Stop() {
	if h.cmd == nil || h.cmd.Process == nil {
		return
	}
	h.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		h.cmd.Process.Kill()
		<-done
	}

	if h.DataDir != "" {
		os.RemoveAll(h.DataDir)
	}
}

// Response is a decoded envelope plus the raw reply.
type Response struct {
	Status int
	Header http.Header
	Body   map[string]any
	Raw    []byte
}

// Data returns the envelope's data object.
func (r *Response) Data() map[string]any {
	d, _ := r.Body["data"].(map[string]any)
	return d
}

func (h *TestHarness) send(req *http.Request, token string, header map[string]string) (*Response, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	out := &Response{Status: resp.StatusCode, Header: resp.Header, Raw: raw}
	_ = json.Unmarshal(raw, &out.Body)
	return out, nil
}

// Call sends a JSON request. body may be nil.
func (h *TestHarness) Call(t *testing.T, method, path, token string, body any, header map[string]string) *Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.BaseURL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := h.send(req, token, header)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return res
}

// Publish posts metadata and an optional package as multipart form data.
func (h *TestHarness) Publish(t *testing.T, token string, meta map[string]any, pkgName string, pkg []byte) *Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	m, _ := json.Marshal(meta)
	mw.WriteField("metadata", string(m))
	if pkg != nil {
		fw, err := mw.CreateFormFile("package", pkgName)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(pkg)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, h.BaseURL+"/api/v1/assets/publish", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	res, err := h.send(req, token, nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return res
}

// RegisterAgent creates an agent account via the invite code and returns its API key and user id.
func (h *TestHarness) RegisterAgent(t *testing.T, name string) (apiKey, userID string) {
	t.Helper()
	res := h.Call(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"invite_code": inviteCode,
		"name":        name,
		"type":        "agent",
	}, nil)
	RequireStatus(t, res, http.StatusCreated)
	apiKey, _ = res.Body["api_key"].(string)
	userID, _ = res.Body["user_id"].(string)
	if apiKey == "" || userID == "" {
		t.Fatalf("register %s: missing key or id: %s", name, res.Raw)
	}
	return apiKey, userID
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// RequireStatus fails the test unless the status matches.
func RequireStatus(t *testing.T, res *Response, expected int) {
	t.Helper()
	if res.Status != expected {
		t.Fatalf("expected status %d, got %d: %s", expected, res.Status, truncate(string(res.Raw), 500))
	}
}
