package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mmeshcher/videobot-system/internal/model"
	"github.com/mmeshcher/videobot-system/internal/provider"
)

func TestResolveOrder(t *testing.T) {
	now := time.Now()
	timeout := 2 * time.Hour
	maxRetries := 40

	tests := []struct {
		name       string
		order      *model.Order
		status     *provider.JobStatus
		pollErr    error
		wantAction reconcileAction
		wantDetail string
	}{
		{
			name:       "completed",
			order:      &model.Order{CreatedAt: now},
			status:     &provider.JobStatus{State: provider.JobStateCompleted, ResultRef: "https://cdn/v.mp4"},
			wantAction: actionComplete,
			wantDetail: "https://cdn/v.mp4",
		},
		{
			name:       "failed",
			order:      &model.Order{CreatedAt: now},
			status:     &provider.JobStatus{State: provider.JobStateFailed, Error: "nsfw"},
			wantAction: actionFail,
			wantDetail: "nsfw",
		},
		{
			name:       "still running",
			order:      &model.Order{CreatedAt: now},
			status:     &provider.JobStatus{State: provider.JobStateRunning},
			wantAction: actionRetry,
		},
		{
			name:       "poll error is transient",
			order:      &model.Order{CreatedAt: now},
			pollErr:    fmt.Errorf("connection refused"),
			wantAction: actionRetry,
		},
		{
			name:       "missing status without error is transient",
			order:      &model.Order{CreatedAt: now},
			wantAction: actionRetry,
		},
		{
			name:       "age ceiling wins over running status",
			order:      &model.Order{CreatedAt: now.Add(-3 * time.Hour)},
			status:     &provider.JobStatus{State: provider.JobStateRunning},
			wantAction: actionFail,
			wantDetail: "generation timed out",
		},
		{
			name:       "retry ceiling wins over poll error",
			order:      &model.Order{CreatedAt: now, RetryCount: 40},
			pollErr:    fmt.Errorf("timeout"),
			wantAction: actionFail,
			wantDetail: "status check limit exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, detail := resolveOrder(tt.order, tt.status, tt.pollErr, now, timeout, maxRetries)
			if action != tt.wantAction {
				t.Fatalf("action = %d, want %d", action, tt.wantAction)
			}
			if detail != tt.wantDetail {
				t.Fatalf("detail = %q, want %q", detail, tt.wantDetail)
			}
		})
	}
}

func TestCompleteAndDeliver_Once(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[1] = &model.Account{ID: 1, Balance: 0}
	jobID := "job-1"
	repo.orders[5] = &model.Order{
		ID: 5, AccountID: 1, Type: model.OrderTypeTextToVideo, Cost: 180,
		Status: model.OrderStatusProcessing, ExternalJobID: &jobID, CreatedAt: time.Now(),
	}
	sender := &stubSender{}
	svc := newTestService(repo, &stubProvider{}, sender, nil)

	svc.completeAndDeliver(context.Background(), 5, "https://cdn/v.mp4")
	svc.completeAndDeliver(context.Background(), 5, "https://cdn/v.mp4")

	if repo.orders[5].Status != model.OrderStatusCompleted {
		t.Fatalf("status = %s, want completed", repo.orders[5].Status)
	}
	if len(sender.videos) != 1 {
		t.Fatalf("delivered %d videos, want 1", len(sender.videos))
	}
}

func TestCompleteAndDeliver_PreviewSendsPhoto(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[1] = &model.Account{ID: 1}
	jobID := "job-2"
	repo.orders[6] = &model.Order{
		ID: 6, AccountID: 1, Type: model.OrderTypePreview, Cost: 30,
		Status: model.OrderStatusProcessing, ExternalJobID: &jobID, CreatedAt: time.Now(),
	}
	sender := &stubSender{}
	svc := newTestService(repo, &stubProvider{}, sender, nil)

	svc.completeAndDeliver(context.Background(), 6, "https://cdn/p.png")

	if len(sender.photos) != 1 || len(sender.videos) != 0 {
		t.Fatalf("photos = %d, videos = %d, want photo delivery", len(sender.photos), len(sender.videos))
	}
}

func TestFailAndNotify_RefundsOnce(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[1] = &model.Account{ID: 1, Balance: 20}
	jobID := "job-3"
	repo.orders[7] = &model.Order{
		ID: 7, AccountID: 1, Type: model.OrderTypeTextToVideo, Cost: 180,
		Status: model.OrderStatusProcessing, ExternalJobID: &jobID, CreatedAt: time.Now(),
	}
	sender := &stubSender{}
	svc := newTestService(repo, &stubProvider{}, sender, nil)

	svc.failAndNotify(context.Background(), 7, "provider error")
	svc.failAndNotify(context.Background(), 7, "provider error")

	if repo.accounts[1].Balance != 200 {
		t.Fatalf("balance = %d, want 200 after single refund", repo.accounts[1].Balance)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(sender.messages))
	}
}

func TestFailThenComplete_NoDoubleFinalize(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[1] = &model.Account{ID: 1, Balance: 0}
	jobID := "job-4"
	repo.orders[8] = &model.Order{
		ID: 8, AccountID: 1, Type: model.OrderTypeTextToVideo, Cost: 400,
		Status: model.OrderStatusProcessing, ExternalJobID: &jobID, CreatedAt: time.Now(),
	}
	sender := &stubSender{}
	svc := newTestService(repo, &stubProvider{}, sender, nil)

	svc.failAndNotify(context.Background(), 8, "timed out")
	svc.completeAndDeliver(context.Background(), 8, "https://cdn/late.mp4")

	if repo.orders[8].Status != model.OrderStatusFailed {
		t.Fatalf("status = %s, want failed to stay terminal", repo.orders[8].Status)
	}
	if repo.accounts[1].Balance != 400 {
		t.Fatalf("balance = %d, want 400", repo.accounts[1].Balance)
	}
	if len(sender.videos) != 0 {
		t.Fatalf("result delivered for failed order")
	}
}

func TestProcessReconcileBatch(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[1] = &model.Account{ID: 1, Balance: 0}
	jobID := "job-5"
	repo.orders[9] = &model.Order{
		ID: 9, AccountID: 1, Type: model.OrderTypeTextToVideo, Cost: 180,
		Status: model.OrderStatusProcessing, ExternalJobID: &jobID, CreatedAt: time.Now(),
	}
	prov := &stubProvider{status: &provider.JobStatus{State: provider.JobStateRunning}}
	svc := newTestService(repo, prov, &stubSender{}, nil)

	svc.processReconcileBatch(context.Background())

	if prov.polled != 1 {
		t.Fatalf("polled %d times, want 1", prov.polled)
	}
	if repo.orders[9].RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", repo.orders[9].RetryCount)
	}

	prov.status = &provider.JobStatus{State: provider.JobStateCompleted, ResultRef: "https://cdn/v.mp4"}
	svc.processReconcileBatch(context.Background())

	if repo.orders[9].Status != model.OrderStatusCompleted {
		t.Fatalf("status = %s, want completed", repo.orders[9].Status)
	}
}

func TestProcessReconcileBatch_CeilingSkipsPoll(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[1] = &model.Account{ID: 1, Balance: 0}
	jobID := "job-6"
	repo.orders[10] = &model.Order{
		ID: 10, AccountID: 1, Type: model.OrderTypeTextToVideo, Cost: 180,
		Status: model.OrderStatusProcessing, ExternalJobID: &jobID,
		CreatedAt: time.Now().Add(-3 * time.Hour),
	}
	prov := &stubProvider{}
	svc := newTestService(repo, prov, &stubSender{}, nil)

	svc.processReconcileBatch(context.Background())

	if prov.polled != 0 {
		t.Fatalf("stale order polled %d times, want 0", prov.polled)
	}
	if repo.orders[10].Status != model.OrderStatusFailed {
		t.Fatalf("status = %s, want failed", repo.orders[10].Status)
	}
	if repo.accounts[1].Balance != 180 {
		t.Fatalf("balance = %d, want refund of 180", repo.accounts[1].Balance)
	}
}

func TestFinalizeFromCallback(t *testing.T) {
	repo := newStubRepo()
	repo.accounts[1] = &model.Account{ID: 1}
	jobID := "job-7"
	repo.orders[11] = &model.Order{
		ID: 11, AccountID: 1, Type: model.OrderTypeTextToVideo, Cost: 180,
		Status: model.OrderStatusProcessing, ExternalJobID: &jobID, CreatedAt: time.Now(),
	}
	sender := &stubSender{}
	svc := newTestService(repo, &stubProvider{}, sender, nil)

	if err := svc.FinalizeFromCallback(context.Background(), "job-7", provider.JobStateCompleted, "https://cdn/v.mp4", ""); err != nil {
		t.Fatalf("FinalizeFromCallback error: %v", err)
	}
	if repo.orders[11].Status != model.OrderStatusCompleted {
		t.Fatalf("status = %s, want completed", repo.orders[11].Status)
	}
	if len(sender.videos) != 1 {
		t.Fatalf("delivered %d videos, want 1", len(sender.videos))
	}

	if err := svc.FinalizeFromCallback(context.Background(), "missing", provider.JobStateCompleted, "", ""); err == nil {
		t.Fatalf("expected error for unknown job id")
	}
}

func TestStartReconciliation_NoProvider(t *testing.T) {
	svc := &Service{}
	svc.StartReconciliation(context.Background())
}
