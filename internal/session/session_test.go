package session

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/qcom/portal/internal/billpay"
	"github.com/qcom/portal/internal/clock"
	"github.com/qcom/portal/internal/config"
	"github.com/qcom/portal/internal/models"
	"github.com/qcom/portal/internal/notify"
	"github.com/qcom/portal/internal/watchdog"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const testPhone = "+212600000001"

type fakeValidation struct {
	mu   sync.Mutex
	code string
}

func (f *fakeValidation) RequestSmsValidation(context.Context, models.OperationKind, models.OperationPayload, string) (string, error) {
	return "42", nil
}

func (f *fakeValidation) VerifySmsCode(_ context.Context, _ string, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return code == f.code, nil
}

type fakeBills struct {
	mu   sync.Mutex
	paid []string
}

func (f *fakeBills) GetMoroccanBills(context.Context) ([]models.Bill, error) {
	return []models.Bill{{ID: "b1", Payee: "Lydec", Amount: decimal.NewFromInt(100), Status: models.BillStatusPending}}, nil
}

func (f *fakeBills) PayBill(_ context.Context, billID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, billID)
	return nil
}

func (f *fakeBills) PayVignette(context.Context, models.Vignette, string) error { return nil }

type fakeAccounts struct{}

func (fakeAccounts) GetAccounts(context.Context) ([]models.Account, error) {
	return []models.Account{{ID: "1", Phone: testPhone, Balance: decimal.NewFromInt(1000)}}, nil
}

type fakeRevoker struct {
	mu      sync.Mutex
	revoked []string
}

func (f *fakeRevoker) RevokeSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, id)
	return nil
}

func (f *fakeRevoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.revoked)
}

type fixture struct {
	client  *redis.Client
	manager *Manager
	clock   *clock.Manual
	bills   *fakeBills
	revoker *fakeRevoker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		client:  client,
		clock:   clock.NewManual(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)),
		bills:   &fakeBills{},
		revoker: &fakeRevoker{},
	}
	services := Services{
		Validation: &fakeValidation{code: "123456"},
		Bills:      func(string) billpay.BillService { return f.bills },
		Accounts:   func(string) billpay.AccountService { return fakeAccounts{} },
	}
	cfg := config.SessionConfig{
		IdleTimeout:  20 * time.Minute,
		PollInterval: 5 * time.Millisecond,
		LoginRoute:   "/login",
		ExpiredTTL:   time.Hour,
	}
	f.manager = NewManager(client, services, f.revoker, cfg, logger, WithClock(f.clock))
	t.Cleanup(f.manager.Shutdown)
	return f
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestManager_PaymentThroughDialog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.manager.Open(ctx, testPhone)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	bills, err := s.Orchestrator.Bills(ctx)
	if err != nil {
		t.Fatalf("Bills() error = %v", err)
	}
	if err := s.Orchestrator.PayBill(ctx, bills[0]); err != nil {
		t.Fatalf("PayBill() error = %v", err)
	}
	if !s.Dialog.IsOpen() {
		t.Fatal("dialog should open when a code is requested")
	}

	w := s.Dialog.Widget()
	if err := w.Type("000000"); err != nil {
		t.Fatalf("Type() error = %v", err)
	}
	ok, err := w.Submit(ctx)
	if err != nil || ok {
		t.Fatalf("Submit(wrong) = %v, %v, want false, nil", ok, err)
	}
	if snap := s.Dialog.Snapshot(); !snap.Open || snap.Error == "" || snap.Digits != 6 {
		t.Errorf("after wrong code snapshot = %+v, want open with error and code kept", snap)
	}

	w.Clear()
	if err := w.Type("123456"); err != nil {
		t.Fatalf("Type() error = %v", err)
	}
	ok, err = w.Submit(ctx)
	if err != nil || !ok {
		t.Fatalf("Submit(right) = %v, %v, want true, nil", ok, err)
	}

	if s.Dialog.IsOpen() {
		t.Error("dialog should close after a successful payment")
	}
	if st := s.Orchestrator.State(); st.ShowOTPModal || st.SelectedBill != nil {
		t.Errorf("orchestrator state = %+v, want cleared", st)
	}
	if len(f.bills.paid) != 1 || f.bills.paid[0] != "b1" {
		t.Errorf("paid = %v, want [b1]", f.bills.paid)
	}

	var success bool
	for _, toast := range s.Notifications.Drain() {
		if toast.Level == notify.LevelSuccess {
			success = true
		}
	}
	if !success {
		t.Error("expected a success notification")
	}
}

func TestManager_CancelDialogClearsSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.manager.Open(ctx, testPhone)

	bills, _ := s.Orchestrator.Bills(ctx)
	if err := s.Orchestrator.PayBill(ctx, bills[0]); err != nil {
		t.Fatalf("PayBill() error = %v", err)
	}
	s.Dialog.Close()

	if st := s.Orchestrator.State(); st.ShowOTPModal || st.SMSValidationID != "" {
		t.Errorf("state = %+v, want cleared after cancel", st)
	}
	if len(f.bills.paid) != 0 {
		t.Errorf("paid = %v, want none", f.bills.paid)
	}
}

func TestManager_ExpiresIdleSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.manager.Open(ctx, testPhone)

	f.clock.Advance(21 * time.Minute)

	eventually(t, func() bool {
		expired, err := f.manager.Expired(ctx, s.ID)
		return err == nil && expired
	})

	if _, ok := f.manager.Get(s.ID); ok {
		t.Error("expired session should be removed")
	}
	if _, err := f.manager.Lookup(ctx, s.ID, testPhone); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Lookup() error = %v, want ErrSessionExpired", err)
	}
	if s.Watchdog.State() != watchdog.StateExpired {
		t.Errorf("watchdog state = %v, want expired", s.Watchdog.State())
	}
	eventually(t, func() bool { return f.revoker.count() == 1 })
}

func TestManager_ActivityKeepsSessionAlive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.manager.Open(ctx, testPhone)

	f.clock.Advance(15 * time.Minute)
	if !s.Watchdog.Observe(watchdog.EventKeyDown) {
		t.Fatal("keydown should be observed")
	}
	f.clock.Advance(15 * time.Minute)
	time.Sleep(30 * time.Millisecond)

	if _, err := f.manager.Lookup(ctx, s.ID, testPhone); err != nil {
		t.Errorf("Lookup() error = %v, want live session", err)
	}
	if s.Watchdog.State() != watchdog.StateActive {
		t.Errorf("watchdog state = %v, want active", s.Watchdog.State())
	}
}

func TestManager_CloseRefusesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.manager.Open(ctx, testPhone)

	if err := f.manager.Close(ctx, s.ID); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.Watchdog.State() != watchdog.StateInert {
		t.Errorf("watchdog state = %v, want inert", s.Watchdog.State())
	}
	if _, err := f.manager.Lookup(ctx, s.ID, testPhone); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Lookup() error = %v, want ErrSessionClosed", err)
	}
}

func TestManager_LookupRebuildsUnknownSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.manager.Lookup(ctx, "restored-id", testPhone)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if s.ID != "restored-id" || s.Phone != testPhone {
		t.Errorf("session = %s/%s, want restored-id/%s", s.ID, s.Phone, testPhone)
	}
	if f.manager.Len() != 1 {
		t.Errorf("Len() = %d, want 1", f.manager.Len())
	}
}

// lookupOnMark calls Lookup from inside the command that writes the expiry
// marker, the moment a concurrent request would race the expiry.
type lookupOnMark struct {
	manager *Manager
	phone   string
	results chan error
}

func (h *lookupOnMark) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *lookupOnMark) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		args := cmd.Args()
		if cmd.Name() == "set" && len(args) > 1 {
			if key, ok := args[1].(string); ok && strings.HasPrefix(key, "session_expired:") {
				id := strings.TrimPrefix(key, "session_expired:")
				s, err := h.manager.Lookup(ctx, id, h.phone)
				if err == nil && s != nil {
					err = errors.New("session " + id + " rebuilt during expiry")
				}
				h.results <- err
			}
		}
		return next(ctx, cmd)
	}
}

func (h *lookupOnMark) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestManager_ExpiryRefusesConcurrentLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hook := &lookupOnMark{manager: f.manager, phone: testPhone, results: make(chan error, 1)}
	f.client.AddHook(hook)

	s, _ := f.manager.Open(ctx, testPhone)
	f.clock.Advance(21 * time.Minute)

	select {
	case err := <-hook.results:
		if !errors.Is(err, ErrSessionExpired) {
			t.Errorf("Lookup() during expiry error = %v, want ErrSessionExpired", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expiry marker was never written")
	}

	eventually(t, func() bool { return f.revoker.count() == 1 })
	if _, ok := f.manager.Get(s.ID); ok {
		t.Error("expired session should not be live again")
	}
	if f.manager.Len() != 0 {
		t.Errorf("Len() = %d, want 0", f.manager.Len())
	}
	if s.Watchdog.State() != watchdog.StateExpired {
		t.Errorf("watchdog state = %v, want expired", s.Watchdog.State())
	}
	if _, err := f.manager.Lookup(ctx, s.ID, testPhone); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Lookup() after expiry error = %v, want ErrSessionExpired", err)
	}
}

func TestManager_ExpiryQueuesNoNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.manager.Open(ctx, testPhone)

	f.clock.Advance(21 * time.Minute)
	eventually(t, func() bool { return f.revoker.count() == 1 })

	if n := len(s.Notifications.Drain()); n != 0 {
		t.Errorf("queued %d notifications on expiry, want 0", n)
	}
}
