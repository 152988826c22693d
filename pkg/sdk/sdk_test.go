package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"purchase-sync/internal/config"
	"purchase-sync/pkg/sdk/hooks"
	"purchase-sync/pkg/sdk/intent"
	"purchase-sync/pkg/sdk/reconciler"
	"purchase-sync/pkg/sdk/storekit"
	"purchase-sync/pkg/sdk/verifier"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// platform emulates a payment queue that approves every payment.
type platform struct {
	sdk      *SDK
	mu       sync.Mutex
	next     int
	finished []string
	restore  []storekit.Transaction
}

func (p *platform) AddPayment(_ context.Context, payment storekit.Payment) error {
	p.mu.Lock()
	p.next++
	id := fmt.Sprintf("txn-%d", p.next)
	p.mu.Unlock()

	obs := p.sdk.Observer()
	go obs.Updated([]storekit.Transaction{{
		ID:         id,
		ProductID:  payment.ProductID,
		State:      storekit.StatePurchased,
		PaymentKey: payment.CorrelationID,
	}})
	return nil
}

func (p *platform) Finish(_ context.Context, txn storekit.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = append(p.finished, txn.ID)
	return nil
}

func (p *platform) RestoreCompletedTransactions(context.Context) error {
	obs := p.sdk.Observer()
	go func() {
		obs.Updated(p.restore)
		obs.RestoreFinished(nil)
	}()
	return nil
}

type server struct {
	registers atomic.Int32
	verifies  atomic.Int32
	lastBody  atomic.Value
	active    atomic.Bool
}

func (s *server) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "proj-1", r.Header.Get("X-Project-ID"))
		s.registers.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"user-1"}`))
	})
	mux.HandleFunc("/v1/itunes/verify/", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/user-1"))
		body, _ := io.ReadAll(r.Body)
		s.lastBody.Store(string(body))
		s.verifies.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "remote-1",
			"active": s.active.Load(),
			"status": "active",
		})
	})
	mux.HandleFunc("/v1/subscriptions/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"active":true,"status":"active","product_id":"com.app.monthly"}`))
	})
	return mux
}

func configure(t *testing.T, srv *server, storagePath string) (*SDK, *platform) {
	t.Helper()
	ts := httptest.NewServer(srv.handler(t))
	t.Cleanup(ts.Close)

	p := &platform{}
	s, err := Configure(context.Background(), Options{
		Config: &config.ClientConfig{
			APIURL:      ts.URL,
			ProjectID:   "proj-1",
			APIKey:      "key-1",
			StoragePath: storagePath,
			MaxRetries:  1,
			RetryDelay:  time.Millisecond,
			HTTPTimeout: 5 * time.Second,
		},
		Queue: p,
		Receipts: storekit.ReceiptFunc(func(context.Context) ([]byte, error) {
			return []byte("app-receipt"), nil
		}),
		Device: verifier.Device{DeviceID: "device-1", Platform: "ios"},
	})
	require.NoError(t, err)
	p.sdk = s
	return s, p
}

func TestPurchaseEndToEnd(t *testing.T) {
	srv := &server{}
	srv.active.Store(true)
	path := filepath.Join(t.TempDir(), "sdk.db")
	s, p := configure(t, srv, path)

	var purchases []hooks.Purchase
	var mu sync.Mutex
	unsub := s.OnPurchase(func(pu hooks.Purchase) {
		mu.Lock()
		purchases = append(purchases, pu)
		mu.Unlock()
	})
	defer unsub()

	res, err := s.Purchase(context.Background(), "com.app.monthly", intent.Source{ScreenID: "paywall", ScreenName: "Main"})
	require.NoError(t, err)
	assert.Equal(t, reconciler.OutcomeGranted, res.Outcome)
	require.NoError(t, s.Sync(context.Background()))

	mu.Lock()
	require.Len(t, purchases, 1)
	assert.Equal(t, "paywall", purchases[0].Source.ScreenID)
	mu.Unlock()
	assert.Equal(t, "YXBwLXJlY2VpcHQ=", srv.lastBody.Load())

	ids, err := s.ProcessedTransactions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"txn-1"}, ids)
	require.NoError(t, s.Close())

	// Identity and ledger survive a restart.
	s2, p2 := configure(t, srv, path)
	defer s2.Close()
	assert.Equal(t, "user-1", s2.UserID())
	assert.Equal(t, int32(1), srv.registers.Load())

	p2.restore = []storekit.Transaction{{ID: "txn-1", ProductID: "com.app.monthly", State: storekit.StateRestored}}
	products, err := s2.RestorePurchase(context.Background())
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Equal(t, int32(1), srv.verifies.Load())
	p.mu.Lock()
	assert.Equal(t, []string{"txn-1"}, p.finished)
	p.mu.Unlock()
}

func TestBecameActiveAndReset(t *testing.T) {
	srv := &server{}
	s, _ := configure(t, srv, filepath.Join(t.TempDir(), "sdk.db"))
	defer s.Close()

	status, err := s.BecameActive(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, "com.app.monthly", status.ProductID)

	var errs []error
	var mu sync.Mutex
	s.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})
	res, err := s.Purchase(context.Background(), "com.app.monthly", intent.Source{})
	assert.ErrorIs(t, err, reconciler.ErrVerificationDeclined)
	assert.Equal(t, reconciler.OutcomeDeclined, res.Outcome)
	require.NoError(t, s.Sync(context.Background()))
	mu.Lock()
	assert.Len(t, errs, 1)
	mu.Unlock()

	require.NoError(t, s.ResetLedger(context.Background()))
	ids, err := s.ProcessedTransactions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConfigureRequiresPlatform(t *testing.T) {
	_, err := Configure(context.Background(), Options{})
	assert.Error(t, err)
}
