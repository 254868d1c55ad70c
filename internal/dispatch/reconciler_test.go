package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clipforge/internal/credential"
	"clipforge/internal/domain"
	"clipforge/internal/providers/generation"
	"clipforge/internal/storage"
)

func processingJob(id, credentialID string, jobType domain.JobType, cost int) *domain.Job {
	return &domain.Job{
		ID:            id,
		Type:          jobType,
		Status:        domain.JobStatusProcessing,
		Engine:        "VEO3_1",
		Prompt:        "p",
		CreditCost:    cost,
		CredentialID:  credentialID,
		ProviderJobID: "task-" + id,
		CreatedAt:     time.Now(),
	}
}

func newTestReconciler(creds *fakeCredRepo, jobs *fakeJobRepo, gateway *fakeGateway, blobs storage.BlobStore, ttl time.Duration) *Reconciler {
	pool := credential.NewPool(creds, gateway, zerolog.Nop())
	return NewReconciler(jobs, creds, pool, gateway, blobs, zerolog.Nop(), ttl)
}

func TestPollOnceCompletesAndSettles(t *testing.T) {
	cred := activeCredential("cred-1", 5000)
	cred.ReservedCredits = 24
	creds := newFakeCredRepo(cred)
	job := processingJob("job-1", "cred-1", domain.JobTypeVideo, 24)
	jobs := newFakeJobRepo(job)
	gateway := &fakeGateway{statuses: map[string]generation.Status{
		"task-job-1": {
			State:     generation.StateCompleted,
			ResultURL: "https://assets.provider/clip.mp4",
			Metadata:  map[string]string{domain.ResultMetaFrameRef: "frame-9"},
		},
	}}
	r := newTestReconciler(creds, jobs, gateway, nil, 0)

	if err := r.PollOnce(context.Background(), job); err != nil {
		t.Fatalf("PollOnce returned error: %v", err)
	}
	stored := jobs.get("job-1")
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status mismatch: got %s want completed", stored.Status)
	}
	if stored.ResultURL != "https://assets.provider/clip.mp4" {
		t.Fatalf("result url mismatch: %q", stored.ResultURL)
	}
	if stored.ResultMeta[domain.ResultMetaFrameRef] != "frame-9" {
		t.Fatalf("result meta missing frame ref: %#v", stored.ResultMeta)
	}
	after := creds.get("cred-1")
	if after.RemainingCredits != 4976 || after.ReservedCredits != 0 {
		t.Fatalf("settlement mismatch: remaining=%d reserved=%d", after.RemainingCredits, after.ReservedCredits)
	}
	if after.TotalUses != 1 {
		t.Fatalf("total uses mismatch: %d", after.TotalUses)
	}
}

func TestPollOnceFailureRefunds(t *testing.T) {
	cred := activeCredential("cred-1", 5000)
	cred.ReservedCredits = 660
	creds := newFakeCredRepo(cred)
	job := processingJob("job-1", "cred-1", domain.JobTypeVideo, 660)
	jobs := newFakeJobRepo(job)
	gateway := &fakeGateway{statuses: map[string]generation.Status{
		"task-job-1": {State: generation.StateFailed, FailureReason: "content policy"},
	}}
	r := newTestReconciler(creds, jobs, gateway, nil, 0)

	if err := r.PollOnce(context.Background(), job); err != nil {
		t.Fatalf("PollOnce returned error: %v", err)
	}
	stored := jobs.get("job-1")
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status mismatch: got %s want failed", stored.Status)
	}
	if stored.ErrorMessage != "content policy" {
		t.Fatalf("error message mismatch: %q", stored.ErrorMessage)
	}
	after := creds.get("cred-1")
	if after.RemainingCredits != 5000 || after.ReservedCredits != 0 {
		t.Fatalf("refund mismatch: remaining=%d reserved=%d", after.RemainingCredits, after.ReservedCredits)
	}
	if after.TotalUses != 0 {
		t.Fatalf("failed job must not count as a use: %d", after.TotalUses)
	}
}

func TestPollOnceTerminalJobIsNoOp(t *testing.T) {
	cred := activeCredential("cred-1", 4976)
	creds := newFakeCredRepo(cred)
	job := processingJob("job-1", "cred-1", domain.JobTypeVideo, 24)
	job.Status = domain.JobStatusCompleted
	jobs := newFakeJobRepo(job)
	gateway := &fakeGateway{}
	r := newTestReconciler(creds, jobs, gateway, nil, 0)

	if err := r.PollOnce(context.Background(), job); err != nil {
		t.Fatalf("PollOnce returned error: %v", err)
	}
	if gateway.statusCalls != 0 {
		t.Fatalf("terminal job must not be polled, got %d calls", gateway.statusCalls)
	}
	after := creds.get("cred-1")
	if after.RemainingCredits != 4976 || after.ReservedCredits != 0 || after.TotalUses != 0 {
		t.Fatalf("credential mutated on terminal poll: %+v", after)
	}
}

func TestPollOnceSettlesOnlyOnTransition(t *testing.T) {
	cred := activeCredential("cred-1", 5000)
	cred.ReservedCredits = 24
	creds := newFakeCredRepo(cred)
	job := processingJob("job-1", "cred-1", domain.JobTypeVideo, 24)
	jobs := newFakeJobRepo(job)
	gateway := &fakeGateway{statuses: map[string]generation.Status{
		"task-job-1": {State: generation.StateCompleted, ResultURL: "https://assets.provider/a.mp4"},
	}}
	r := newTestReconciler(creds, jobs, gateway, nil, 0)

	// Two pollers race on the same stale snapshot: only one settles.
	snapshot := *job
	if err := r.PollOnce(context.Background(), job); err != nil {
		t.Fatalf("first PollOnce: %v", err)
	}
	if err := r.PollOnce(context.Background(), &snapshot); err != nil {
		t.Fatalf("second PollOnce: %v", err)
	}
	after := creds.get("cred-1")
	if after.RemainingCredits != 4976 {
		t.Fatalf("double settlement: remaining=%d want 4976", after.RemainingCredits)
	}
	if after.TotalUses != 1 {
		t.Fatalf("double settlement: total uses=%d want 1", after.TotalUses)
	}
}

func TestPollOnceTransientErrorMutatesNothing(t *testing.T) {
	cred := activeCredential("cred-1", 5000)
	cred.ReservedCredits = 24
	creds := newFakeCredRepo(cred)
	job := processingJob("job-1", "cred-1", domain.JobTypeVideo, 24)
	jobs := newFakeJobRepo(job)
	gateway := &fakeGateway{statusErr: errors.New("i/o timeout")}
	r := newTestReconciler(creds, jobs, gateway, nil, 0)

	if err := r.PollOnce(context.Background(), job); err == nil {
		t.Fatal("expected transient error to propagate")
	}
	if stored := jobs.get("job-1"); stored.Status != domain.JobStatusProcessing {
		t.Fatalf("transient error must not transition the job: %s", stored.Status)
	}
	after := creds.get("cred-1")
	if after.ReservedCredits != 24 || after.RemainingCredits != 5000 {
		t.Fatalf("transient error must not touch credits: %+v", after)
	}
}

func TestPollOnceNonTerminalWithinTTLNoChange(t *testing.T) {
	cred := activeCredential("cred-1", 5000)
	cred.ReservedCredits = 24
	creds := newFakeCredRepo(cred)
	job := processingJob("job-1", "cred-1", domain.JobTypeVideo, 24)
	jobs := newFakeJobRepo(job)
	gateway := &fakeGateway{statuses: map[string]generation.Status{
		"task-job-1": {State: generation.StateProcessing},
	}}
	r := newTestReconciler(creds, jobs, gateway, nil, 24*time.Hour)

	if err := r.PollOnce(context.Background(), job); err != nil {
		t.Fatalf("PollOnce returned error: %v", err)
	}
	if stored := jobs.get("job-1"); stored.Status != domain.JobStatusProcessing {
		t.Fatalf("job must stay processing: %s", stored.Status)
	}
	if after := creds.get("cred-1"); after.ReservedCredits != 24 {
		t.Fatalf("reservation must stay held: %d", after.ReservedCredits)
	}
}

func TestPollOnceExpiresStaleJob(t *testing.T) {
	cred := activeCredential("cred-1", 5000)
	cred.ReservedCredits = 24
	creds := newFakeCredRepo(cred)
	job := processingJob("job-1", "cred-1", domain.JobTypeVideo, 24)
	job.CreatedAt = time.Now().Add(-25 * time.Hour)
	jobs := newFakeJobRepo(job)
	gateway := &fakeGateway{statuses: map[string]generation.Status{
		"task-job-1": {State: generation.StateProcessing},
	}}
	r := newTestReconciler(creds, jobs, gateway, nil, 24*time.Hour)

	if err := r.PollOnce(context.Background(), job); err != nil {
		t.Fatalf("PollOnce returned error: %v", err)
	}
	stored := jobs.get("job-1")
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("stale job must fail: %s", stored.Status)
	}
	after := creds.get("cred-1")
	if after.ReservedCredits != 0 || after.RemainingCredits != 5000 {
		t.Fatalf("expiry must refund: %+v", after)
	}
}

func TestPollOnceRehostsImageResult(t *testing.T) {
	cred := activeCredential("cred-1", 5000)
	cred.ReservedCredits = 24
	creds := newFakeCredRepo(cred)
	job := processingJob("job-1", "cred-1", domain.JobTypeImage, 24)
	jobs := newFakeJobRepo(job)
	gateway := &fakeGateway{
		asset: []byte("png-bytes"),
		statuses: map[string]generation.Status{
			"task-job-1": {State: generation.StateCompleted, ResultURL: "https://assets.provider/img.png"},
		},
	}
	blobs := newFakeBlobStore()
	r := newTestReconciler(creds, jobs, gateway, blobs, 0)

	if err := r.PollOnce(context.Background(), job); err != nil {
		t.Fatalf("PollOnce returned error: %v", err)
	}
	stored := jobs.get("job-1")
	if stored.ResultURL != "https://cdn.test/images/job-1.png" {
		t.Fatalf("result url not re-hosted: %q", stored.ResultURL)
	}
	if stored.ResultMeta["origin_url"] != "https://assets.provider/img.png" {
		t.Fatalf("origin url not recorded: %#v", stored.ResultMeta)
	}
	if _, ok := blobs.writes["images/job-1.png"]; !ok {
		t.Fatalf("asset not written to blob store: %#v", blobs.writes)
	}
}

func TestPollOnceRehostFailureRetriesLater(t *testing.T) {
	cred := activeCredential("cred-1", 5000)
	cred.ReservedCredits = 24
	creds := newFakeCredRepo(cred)
	job := processingJob("job-1", "cred-1", domain.JobTypeImage, 24)
	jobs := newFakeJobRepo(job)
	gateway := &fakeGateway{
		assetErr: errors.New("403 forbidden"),
		statuses: map[string]generation.Status{
			"task-job-1": {State: generation.StateCompleted, ResultURL: "https://assets.provider/img.png"},
		},
	}
	r := newTestReconciler(creds, jobs, gateway, newFakeBlobStore(), 0)

	if err := r.PollOnce(context.Background(), job); err == nil {
		t.Fatal("expected rehost failure to propagate")
	}
	if stored := jobs.get("job-1"); stored.Status != domain.JobStatusProcessing {
		t.Fatalf("job must stay processing for retry: %s", stored.Status)
	}
	if after := creds.get("cred-1"); after.ReservedCredits != 24 {
		t.Fatalf("reservation must stay held: %d", after.ReservedCredits)
	}
}

func TestRunOncePollsAllProcessingJobs(t *testing.T) {
	credA := activeCredential("cred-1", 5000)
	credA.ReservedCredits = 48
	creds := newFakeCredRepo(credA)
	jobA := processingJob("job-a", "cred-1", domain.JobTypeVideo, 24)
	jobB := processingJob("job-b", "cred-1", domain.JobTypeVideo, 24)
	jobs := newFakeJobRepo(jobA, jobB)
	gateway := &fakeGateway{statuses: map[string]generation.Status{
		"task-job-a": {State: generation.StateCompleted, ResultURL: "https://assets.provider/a.mp4"},
		"task-job-b": {State: generation.StateFailed, FailureReason: "nsfw"},
	}}
	r := newTestReconciler(creds, jobs, gateway, nil, 0)

	r.RunOnce(context.Background())

	if jobs.get("job-a").Status != domain.JobStatusCompleted {
		t.Fatalf("job-a not completed")
	}
	if jobs.get("job-b").Status != domain.JobStatusFailed {
		t.Fatalf("job-b not failed")
	}
	after := creds.get("cred-1")
	if after.RemainingCredits != 4976 || after.ReservedCredits != 0 {
		t.Fatalf("mixed settlement mismatch: %+v", after)
	}
}
