package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService answers the verification API. Receipts whose body decodes to
// "bad" are declined.
type fakeService struct {
	registers atomic.Int32
	verifies  atomic.Int32
}

func (s *fakeService) start(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "proj-1", r.Header.Get("X-Project-ID"))
		assert.Equal(t, "key-1", r.Header.Get("X-API-Key"))
		s.registers.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"id":"user-1"}`))
	})
	mux.HandleFunc("/v1/itunes/verify/", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/user-1"))
		body, _ := io.ReadAll(r.Body)
		s.verifies.Add(1)
		if string(body) == "YmFk" { // base64("bad")
			_, _ = w.Write([]byte(`{"success":true,"id":"","active":false,"status":"invalid"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"id":"remote-1","active":true,"status":"active"}`))
	})
	mux.HandleFunc("/v1/subscriptions/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"active":true,"status":"active","product_id":"com.app.monthly"}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts.URL
}

type env struct {
	url     string
	storage string
	dir     string
}

func newEnv(t *testing.T, svc *fakeService) env {
	t.Helper()
	t.Setenv("PURCHASES_RETRY_DELAY", "1ms")
	t.Setenv("PURCHASES_MAX_RETRIES", "0")
	dir := t.TempDir()
	return env{url: svc.start(t), storage: filepath.Join(dir, "sdk.db"), dir: dir}
}

// run executes purchasectl with the environment's global flags.
func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{
		"--api-url", e.url,
		"--project", "proj-1",
		"--api-key", "key-1",
		"--storage", e.storage,
	}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func (e env) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func decodeData(t *testing.T, out string, v interface{}) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "purchasectl", cmd.Use)

	for _, name := range []string{"register", "verify", "status", "ledger", "replay"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	e := newEnv(t, &fakeService{})
	_, err := e.run(t, "--format", "yaml", "ledger", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRegisterReusesStoredUser(t *testing.T) {
	svc := &fakeService{}
	e := newEnv(t, svc)

	out, err := e.run(t, "--format", "json", "register", "--device-id", "dev-1")
	require.NoError(t, err)
	var res RegisterResult
	decodeData(t, out, &res)
	assert.Equal(t, "user-1", res.UserID)

	_, err = e.run(t, "register", "--device-id", "dev-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), svc.registers.Load())

	_, err = e.run(t, "register", "--force")
	require.NoError(t, err)
	assert.Equal(t, int32(2), svc.registers.Load())
}

func TestVerifyRequiresRegistration(t *testing.T) {
	e := newEnv(t, &fakeService{})
	receipt := e.writeFile(t, "receipt.bin", "app-receipt")

	_, err := e.run(t, "verify", receipt)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "register")
}

func TestVerifyActiveAndDeclined(t *testing.T) {
	svc := &fakeService{}
	e := newEnv(t, svc)
	_, err := e.run(t, "register")
	require.NoError(t, err)

	out, err := e.run(t, "--format", "json", "verify", e.writeFile(t, "good.bin", "app-receipt"), "--screen-id", "paywall")
	require.NoError(t, err)
	var res VerifyResult
	decodeData(t, out, &res)
	assert.True(t, res.Active)
	assert.Equal(t, "remote-1", res.ID)

	out, err = e.run(t, "verify", e.writeFile(t, "bad.bin", "bad"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "declined")
	assert.Equal(t, int32(2), svc.verifies.Load())
}

func TestStatus(t *testing.T) {
	e := newEnv(t, &fakeService{})
	_, err := e.run(t, "register")
	require.NoError(t, err)

	out, err := e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "user user-1: active")
	assert.Contains(t, out, "com.app.monthly")
}

func TestReplayGrantsThenDedups(t *testing.T) {
	svc := &fakeService{}
	e := newEnv(t, svc)
	receipt := e.writeFile(t, "receipt.bin", "app-receipt")
	batch := e.writeFile(t, "batch.json", `[
		{"id": "t1", "product_id": "com.app.monthly", "state": "purchased"},
		{"id": "t2", "product_id": "com.app.pro", "state": "restored", "original_id": "o2"},
		{"id": "t3", "product_id": "com.app.pro", "state": "failed", "error": "cancelled"},
		{"id": "t4", "product_id": "com.app.pro", "state": "deferred"}
	]`)

	out, err := e.run(t, "--format", "json", "replay", batch, "--receipt", receipt)
	require.NoError(t, err)
	var res ReplayResult
	decodeData(t, out, &res)
	assert.Equal(t, []string{"t1", "t2", "t3"}, res.Finished)
	assert.Equal(t, []string{"t4"}, res.Unfinished)
	assert.Equal(t, []string{"t1"}, res.Granted)
	assert.Equal(t, []string{"com.app.pro"}, res.Restored)
	assert.Len(t, res.Errors, 1)
	// One delivery is one receipt verification.
	assert.Equal(t, int32(1), svc.verifies.Load())

	// The ledger survives the process; replaying the same batch verifies nothing.
	out, err = e.run(t, "--format", "json", "replay", batch, "--receipt", receipt)
	require.NoError(t, err)
	res = ReplayResult{}
	decodeData(t, out, &res)
	assert.Equal(t, []string{"t1", "t2", "t3"}, res.Finished)
	assert.Empty(t, res.Granted)
	assert.Equal(t, int32(1), svc.verifies.Load())

	out, err = e.run(t, "--format", "json", "ledger", "list")
	require.NoError(t, err)
	var ledgerRes LedgerResult
	decodeData(t, out, &ledgerRes)
	assert.ElementsMatch(t, []string{"t1", "t2", "o2"}, ledgerRes.Processed)
	assert.Empty(t, ledgerRes.Unverified)
}

func TestReplayMissingReceiptGoesUnverified(t *testing.T) {
	svc := &fakeService{}
	e := newEnv(t, svc)
	batch := e.writeFile(t, "batch.json", `[{"id": "t1", "product_id": "com.app.monthly", "state": "purchased"}]`)

	out, err := e.run(t, "--format", "json", "replay", batch)
	require.NoError(t, err)
	var res ReplayResult
	decodeData(t, out, &res)
	assert.Equal(t, []string{"t1"}, res.Finished)
	assert.Empty(t, res.Granted)
	assert.Equal(t, int32(0), svc.verifies.Load())

	out, err = e.run(t, "--format", "json", "ledger", "list")
	require.NoError(t, err)
	var ledgerRes LedgerResult
	decodeData(t, out, &ledgerRes)
	assert.Empty(t, ledgerRes.Processed)
	assert.Equal(t, []string{"t1"}, ledgerRes.Unverified)

	out, err = e.run(t, "ledger", "reset", "--unverified")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared 1 transaction ids")
}

func TestReplayRejectsBadBatch(t *testing.T) {
	e := newEnv(t, &fakeService{})
	batch := e.writeFile(t, "batch.json", `[{"id": "t1", "state": "refunded"}]`)

	_, err := e.run(t, "replay", batch)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown transaction state")
}

func TestLedgerResetClearsProcessed(t *testing.T) {
	svc := &fakeService{}
	e := newEnv(t, svc)
	receipt := e.writeFile(t, "receipt.bin", "app-receipt")
	batch := e.writeFile(t, "batch.json", `[{"id": "t1", "product_id": "com.app.monthly", "state": "purchased"}]`)

	_, err := e.run(t, "replay", batch, "--receipt", receipt)
	require.NoError(t, err)

	out, err := e.run(t, "ledger", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared 1 transaction ids")

	// Forgotten transactions are verified again.
	_, err = e.run(t, "replay", batch, "--receipt", receipt)
	require.NoError(t, err)
	assert.Equal(t, int32(2), svc.verifies.Load())
}
