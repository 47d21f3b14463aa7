package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mmeshcher/videobot-system/internal/model"
	"github.com/mmeshcher/videobot-system/internal/payment"
	"github.com/mmeshcher/videobot-system/internal/provider"
	"github.com/mmeshcher/videobot-system/internal/repository"
	"github.com/mmeshcher/videobot-system/internal/telegram"
)

// stubRepo реализует Repository в памяти с той же семантикой идемпотентности,
// что и хранилище: повторный платёж не зачисляется, повторное завершение
// заказа не применяется.
type stubRepo struct {
	accounts    map[int64]*model.Account
	entries     []model.LedgerEntry
	paymentIDs  map[string]bool
	orders      map[int64]*model.Order
	nextOrderID int64
	states      map[int64]*model.ConversationState

	allowed  bool
	allowErr error

	setJobErr error

	createdLast bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		accounts:   make(map[int64]*model.Account),
		paymentIDs: make(map[string]bool),
		orders:     make(map[int64]*model.Order),
		states:     make(map[int64]*model.ConversationState),
		allowed:    true,
	}
}

func (r *stubRepo) GetOrCreateAccount(_ context.Context, id int64, username, firstName string, welcomeBonus int64) (*model.Account, bool, error) {
	if acc, ok := r.accounts[id]; ok {
		r.createdLast = false
		return acc, false, nil
	}
	acc := &model.Account{ID: id, Username: username, FirstName: firstName, Balance: welcomeBonus}
	r.accounts[id] = acc
	r.entries = append(r.entries, model.LedgerEntry{AccountID: id, Amount: welcomeBonus, Kind: model.EntryKindWelcomeBonus})
	r.createdLast = true
	return acc, true, nil
}

func (r *stubRepo) GetAccount(_ context.Context, id int64) (*model.Account, error) {
	acc, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return acc, nil
}

func (r *stubRepo) TouchActivity(context.Context, int64) error { return nil }

func (r *stubRepo) Close() error { return nil }

func (r *stubRepo) Credit(_ context.Context, accountID, amount int64, kind model.EntryKind, description string, externalPaymentID *string, orderID *int64) (int64, bool, error) {
	acc, ok := r.accounts[accountID]
	if !ok {
		return 0, false, repository.ErrAccountNotFound
	}
	if externalPaymentID != nil {
		if r.paymentIDs[*externalPaymentID] {
			return acc.Balance, false, nil
		}
		r.paymentIDs[*externalPaymentID] = true
	}
	acc.Balance += amount
	r.entries = append(r.entries, model.LedgerEntry{
		AccountID: accountID, Amount: amount, Kind: kind,
		Description: description, ExternalPaymentID: externalPaymentID, OrderID: orderID,
	})
	return acc.Balance, true, nil
}

func (r *stubRepo) Debit(_ context.Context, accountID, amount int64, kind model.EntryKind, description string, orderID *int64) (int64, error) {
	acc, ok := r.accounts[accountID]
	if !ok {
		return 0, repository.ErrAccountNotFound
	}
	if acc.Balance < amount {
		return 0, repository.ErrInsufficientFunds
	}
	acc.Balance -= amount
	r.entries = append(r.entries, model.LedgerEntry{
		AccountID: accountID, Amount: -amount, Kind: kind, Description: description, OrderID: orderID,
	})
	return acc.Balance, nil
}

func (r *stubRepo) GetBalance(_ context.Context, accountID int64) (int64, int64, error) {
	acc, ok := r.accounts[accountID]
	if !ok {
		return 0, 0, repository.ErrAccountNotFound
	}
	var withdrawn int64
	for _, e := range r.entries {
		if e.AccountID == accountID && e.Amount < 0 {
			withdrawn += -e.Amount
		}
	}
	return acc.Balance, withdrawn, nil
}

func (r *stubRepo) CreateOrderWithHold(_ context.Context, o *model.Order) (int64, error) {
	acc, ok := r.accounts[o.AccountID]
	if !ok {
		return 0, repository.ErrAccountNotFound
	}
	if acc.Balance < o.Cost {
		return 0, repository.ErrInsufficientFunds
	}
	acc.Balance -= o.Cost
	r.nextOrderID++
	stored := *o
	stored.ID = r.nextOrderID
	stored.CreatedAt = time.Now()
	r.orders[stored.ID] = &stored
	r.entries = append(r.entries, model.LedgerEntry{
		AccountID: o.AccountID, Amount: -o.Cost, Kind: model.EntryKindDebitHold, OrderID: &stored.ID,
	})
	return stored.ID, nil
}

func (r *stubRepo) SetOrderJob(_ context.Context, orderID int64, jobID string) error {
	if r.setJobErr != nil {
		return r.setJobErr
	}
	o, ok := r.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.ExternalJobID = &jobID
	return nil
}

func (r *stubRepo) GetOrder(_ context.Context, orderID int64) (*model.Order, error) {
	o, ok := r.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

func (r *stubRepo) GetOrderByJobID(_ context.Context, jobID string) (*model.Order, error) {
	for _, o := range r.orders {
		if o.ExternalJobID != nil && *o.ExternalJobID == jobID {
			return o, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (r *stubRepo) GetProcessingOrders(_ context.Context, limit int) ([]model.Order, error) {
	var res []model.Order
	for _, o := range r.orders {
		if o.Status == model.OrderStatusProcessing && o.ExternalJobID != nil && len(res) < limit {
			res = append(res, *o)
		}
	}
	return res, nil
}

func (r *stubRepo) CompleteOrder(_ context.Context, orderID int64, resultRef string) (bool, *model.Order, error) {
	o, ok := r.orders[orderID]
	if !ok {
		return false, nil, repository.ErrOrderNotFound
	}
	if o.Status != model.OrderStatusProcessing {
		return false, nil, nil
	}
	o.Status = model.OrderStatusCompleted
	o.ResultRef = &resultRef
	o.ResultDelivered = true
	return true, o, nil
}

func (r *stubRepo) FailOrderWithRefund(_ context.Context, orderID int64, errorMessage string) (bool, *model.Order, error) {
	o, ok := r.orders[orderID]
	if !ok {
		return false, nil, repository.ErrOrderNotFound
	}
	if o.Status != model.OrderStatusProcessing {
		return false, nil, nil
	}
	o.Status = model.OrderStatusFailed
	o.ErrorMessage = &errorMessage
	r.accounts[o.AccountID].Balance += o.Cost
	r.entries = append(r.entries, model.LedgerEntry{
		AccountID: o.AccountID, Amount: o.Cost, Kind: model.EntryKindRefund, OrderID: &o.ID,
	})
	return true, o, nil
}

func (r *stubRepo) IncrementOrderRetry(_ context.Context, orderID int64) (int, error) {
	o, ok := r.orders[orderID]
	if !ok {
		return 0, repository.ErrOrderNotFound
	}
	o.RetryCount++
	return o.RetryCount, nil
}

func (r *stubRepo) GetConversationState(_ context.Context, accountID int64) (*model.ConversationState, error) {
	st, ok := r.states[accountID]
	if !ok {
		return nil, repository.ErrStateNotFound
	}
	return st, nil
}

func (r *stubRepo) SetConversationState(_ context.Context, st *model.ConversationState) error {
	stored := *st
	stored.UpdatedAt = time.Now()
	r.states[st.AccountID] = &stored
	return nil
}

func (r *stubRepo) ClearConversationState(_ context.Context, accountID int64) error {
	delete(r.states, accountID)
	return nil
}

func (r *stubRepo) AllowAction(context.Context, int64, model.ActionType, int, time.Duration) (bool, error) {
	return r.allowed, r.allowErr
}

func (r *stubRepo) LogError(context.Context, *int64, *int64, string, string, string, []byte) error {
	return nil
}

func (r *stubRepo) GetDashboard(context.Context) (*repository.Dashboard, error) {
	return &repository.Dashboard{}, nil
}

// stubProvider реализует Provider с настраиваемыми ответами.
type stubProvider struct {
	jobID     string
	submitErr error
	status    *provider.JobStatus
	pollErr   error

	submitted int
	polled    int
}

func (p *stubProvider) SubmitJob(context.Context, *model.Order) (string, error) {
	p.submitted++
	return p.jobID, p.submitErr
}

func (p *stubProvider) PollStatus(context.Context, model.OrderType, string) (*provider.JobStatus, error) {
	p.polled++
	return p.status, p.pollErr
}

// stubSender записывает все исходящие вызовы Telegram.
type stubSender struct {
	messages []string
	edits    []string
	photos   []string
	videos   []string
	answers  []string

	precheckoutOK []bool
}

func (s *stubSender) SendMessage(_ context.Context, _ int64, text string, _ *telegram.InlineKeyboard) error {
	s.messages = append(s.messages, text)
	return nil
}

func (s *stubSender) EditMessageText(_ context.Context, _, _ int64, text string, _ *telegram.InlineKeyboard) error {
	s.edits = append(s.edits, text)
	return nil
}

func (s *stubSender) SendPhoto(_ context.Context, _ int64, photoURL, _ string) error {
	s.photos = append(s.photos, photoURL)
	return nil
}

func (s *stubSender) SendVideo(_ context.Context, _ int64, videoURL, _ string) error {
	s.videos = append(s.videos, videoURL)
	return nil
}

func (s *stubSender) AnswerCallback(_ context.Context, _, text string) error {
	s.answers = append(s.answers, text)
	return nil
}

func (s *stubSender) AnswerPreCheckout(_ context.Context, _ string, ok bool, _ string) error {
	s.precheckoutOK = append(s.precheckoutOK, ok)
	return nil
}

// stubPayments реализует PaymentCreator.
type stubPayments struct {
	payment *payment.Payment
	err     error
	calls   int
}

func (p *stubPayments) CreatePayment(context.Context, int64, int64) (*payment.Payment, error) {
	p.calls++
	return p.payment, p.err
}

func testOptions() Options {
	return Options{
		WelcomeBonus: 500,
		StarsRate:    2.0,
		PollInterval: 15 * time.Second,
		OrderTimeout: 2 * time.Hour,
		MaxRetries:   40,
		RateLimit:    10,
		RateWindow:   time.Minute,
		StateIdleTTL: 30 * time.Minute,
	}
}

func newTestService(repo *stubRepo, prov *stubProvider, sender *stubSender, payments *stubPayments) *Service {
	return NewService(repo, prov, sender, payments, testOptions(), nil)
}

func TestCreateOrder_HoldAndSubmit(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[1] = &model.Account{ID: 1, Balance: 500}
	prov := &stubProvider{jobID: "job-1"}
	svc := newTestService(repo, prov, &stubSender{}, nil)

	st := &model.ConversationState{
		AccountID: 1,
		OrderType: model.OrderTypeTextToVideo,
		Prompt:    "закат над морем",
		Duration:  5,
		Quality:   model.QualityStandard,
	}

	o, err := svc.CreateOrder(context.Background(), 1, st)
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if o.Cost != 180 {
		t.Fatalf("cost = %d, want 180", o.Cost)
	}
	if repo.accounts[1].Balance != 320 {
		t.Fatalf("balance = %d, want 320", repo.accounts[1].Balance)
	}
	if o.ExternalJobID == nil || *o.ExternalJobID != "job-1" {
		t.Fatalf("external job id = %v, want job-1", o.ExternalJobID)
	}
}

func TestCreateOrder_InsufficientFunds(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[1] = &model.Account{ID: 1, Balance: 100}
	prov := &stubProvider{jobID: "job-1"}
	svc := newTestService(repo, prov, &stubSender{}, nil)

	st := &model.ConversationState{
		AccountID: 1,
		OrderType: model.OrderTypeTextToVideo,
		Prompt:    "закат",
		Duration:  5,
		Quality:   model.QualityStandard,
	}

	_, err := svc.CreateOrder(context.Background(), 1, st)
	if !errors.Is(err, repository.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}
	if repo.accounts[1].Balance != 100 {
		t.Fatalf("balance changed: %d", repo.accounts[1].Balance)
	}
	if len(repo.orders) != 0 {
		t.Fatalf("order created despite insufficient funds")
	}
	if prov.submitted != 0 {
		t.Fatalf("job submitted despite insufficient funds")
	}
}

func TestCreateOrder_SubmitFailureRefunds(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[1] = &model.Account{ID: 1, Balance: 500}
	prov := &stubProvider{submitErr: fmt.Errorf("connection refused")}
	svc := newTestService(repo, prov, &stubSender{}, nil)

	st := &model.ConversationState{
		AccountID: 1,
		OrderType: model.OrderTypePreview,
		Prompt:    "робот",
	}

	o, err := svc.CreateOrder(context.Background(), 1, st)
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("error = %v, want ErrSubmissionFailed", err)
	}
	if repo.accounts[1].Balance != 500 {
		t.Fatalf("balance = %d, want full refund to 500", repo.accounts[1].Balance)
	}
	if repo.orders[o.ID].Status != model.OrderStatusFailed {
		t.Fatalf("order status = %s, want failed", repo.orders[o.ID].Status)
	}
}

func TestCreateOrder_JobIDPersistFailureRefunds(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[1] = &model.Account{ID: 1, Balance: 500}
	repo.setJobErr = fmt.Errorf("db down")
	prov := &stubProvider{jobID: "job-1"}
	svc := newTestService(repo, prov, &stubSender{}, nil)

	st := &model.ConversationState{
		AccountID: 1,
		OrderType: model.OrderTypePreview,
		Prompt:    "робот",
	}

	o, err := svc.CreateOrder(context.Background(), 1, st)
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("error = %v, want ErrSubmissionFailed", err)
	}
	if repo.accounts[1].Balance != 500 {
		t.Fatalf("balance = %d, want full refund to 500", repo.accounts[1].Balance)
	}
	if repo.orders[o.ID].Status != model.OrderStatusFailed {
		t.Fatalf("order status = %s, want failed", repo.orders[o.ID].Status)
	}
	if repo.orders[o.ID].ExternalJobID != nil {
		t.Fatalf("order kept a job id it could not persist")
	}
}

func TestApplyPayment_Idempotent(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[7] = &model.Account{ID: 7, Balance: 100}
	sender := &stubSender{}
	svc := newTestService(repo, &stubProvider{}, sender, nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.ApplyPayment(context.Background(), "pay-abc", 7, 500); err != nil {
			t.Fatalf("ApplyPayment #%d error: %v", i+1, err)
		}
	}

	if repo.accounts[7].Balance != 600 {
		t.Fatalf("balance = %d, want 600 after single credit", repo.accounts[7].Balance)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.messages))
	}
}

func TestApplyPayment_Invalid(t *testing.T) {
	svc := newTestService(newStubRepo(), &stubProvider{}, &stubSender{}, nil)

	if _, err := svc.ApplyPayment(context.Background(), "", 7, 500); err == nil {
		t.Fatalf("expected error for empty payment id")
	}
	if _, err := svc.ApplyPayment(context.Background(), "pay-1", 7, 0); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestAdminAdjust(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[1] = &model.Account{ID: 1, Balance: 100}
	svc := newTestService(repo, &stubProvider{}, &stubSender{}, nil)

	balance, err := svc.AdminAdjust(context.Background(), 1, 50, "бонус")
	if err != nil {
		t.Fatalf("AdminAdjust error: %v", err)
	}
	if balance != 150 {
		t.Fatalf("balance = %d, want 150", balance)
	}

	balance, err = svc.AdminAdjust(context.Background(), 1, -30, "")
	if err != nil {
		t.Fatalf("AdminAdjust error: %v", err)
	}
	if balance != 120 {
		t.Fatalf("balance = %d, want 120", balance)
	}

	if _, err := svc.AdminAdjust(context.Background(), 1, 0, "x"); err == nil {
		t.Fatalf("expected error for zero adjustment")
	}
}

func TestAllow_FailOpen(t *testing.T) {
	repo := newStubRepo()
	repo.allowErr = fmt.Errorf("db down")
	svc := newTestService(repo, &stubProvider{}, &stubSender{}, nil)

	if !svc.allow(context.Background(), 1, model.ActionMessage) {
		t.Fatalf("allow must pass when the limiter check fails")
	}
}

func TestWelcomeBonusThenPreview(t *testing.T) {
	repo := newStubRepo()
	prov := &stubProvider{jobID: "job-9"}
	svc := newTestService(repo, prov, &stubSender{}, nil)

	acc, created, err := repo.GetOrCreateAccount(context.Background(), 42, "ann", "Аня", 500)
	if err != nil || !created {
		t.Fatalf("account not created: %v", err)
	}
	if acc.Balance != 500 {
		t.Fatalf("welcome balance = %d, want 500", acc.Balance)
	}

	st := &model.ConversationState{AccountID: 42, OrderType: model.OrderTypePreview, Prompt: "кот"}
	if _, err := svc.CreateOrder(context.Background(), 42, st); err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if acc.Balance != 470 {
		t.Fatalf("balance after preview = %d, want 470", acc.Balance)
	}
}
