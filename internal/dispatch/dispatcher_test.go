package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clipforge/internal/costmodel"
	"clipforge/internal/credential"
	"clipforge/internal/domain"
)

func activeCredential(id string, remaining int) *domain.Credential {
	return &domain.Credential{
		ID:               id,
		Secret:           "sk-" + id,
		RemainingCredits: remaining,
		IsActive:         true,
		LastResetDate:    time.Now().UTC().Truncate(24 * time.Hour),
	}
}

func newTestDispatcher(creds *fakeCredRepo, jobs *fakeJobRepo, gateway *fakeGateway) *Dispatcher {
	pool := credential.NewPool(creds, gateway, zerolog.Nop())
	return NewDispatcher(costmodel.Default(), pool, jobs, gateway, zerolog.Nop())
}

func TestDispatchImageReservesAndCreatesJob(t *testing.T) {
	creds := newFakeCredRepo(activeCredential("cred-1", 5000))
	jobs := newFakeJobRepo()
	gateway := &fakeGateway{submitID: "task-img-1"}
	d := newTestDispatcher(creds, jobs, gateway)

	job, err := d.Dispatch(context.Background(), Request{
		Type:   domain.JobTypeImage,
		Engine: costmodel.EngineNano,
		Prompt: "a capy in a canoe",
	})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("status mismatch: got %s want processing", job.Status)
	}
	if job.CreditCost != costmodel.FlatImagePrice {
		t.Fatalf("credit cost mismatch: got %d want %d", job.CreditCost, costmodel.FlatImagePrice)
	}
	if job.ProviderJobID != "task-img-1" {
		t.Fatalf("provider job id mismatch: %q", job.ProviderJobID)
	}
	if job.CredentialID != "cred-1" {
		t.Fatalf("credential mismatch: %q", job.CredentialID)
	}
	cred := creds.get("cred-1")
	if cred.ReservedCredits != costmodel.FlatImagePrice {
		t.Fatalf("reserved mismatch: got %d want %d", cred.ReservedCredits, costmodel.FlatImagePrice)
	}
	if cred.RemainingCredits != 5000 {
		t.Fatalf("remaining must not change at dispatch: %d", cred.RemainingCredits)
	}
	if stored := jobs.get(job.ID); stored.Status != domain.JobStatusProcessing {
		t.Fatalf("job not persisted as processing: %s", stored.Status)
	}
}

func TestDispatchVideoUsesDurationPrice(t *testing.T) {
	creds := newFakeCredRepo(activeCredential("cred-1", 10000))
	jobs := newFakeJobRepo()
	gateway := &fakeGateway{}
	d := newTestDispatcher(creds, jobs, gateway)

	job, err := d.Dispatch(context.Background(), Request{
		Type:            domain.JobTypeVideo,
		Engine:          costmodel.EngineVeo31,
		Prompt:          "dawn over the harbor",
		DurationSeconds: 8,
		Resolution:      "1080p",
		WithAudio:       true,
	})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if job.CreditCost != 2140 {
		t.Fatalf("credit cost mismatch: got %d want 2140", job.CreditCost)
	}
	if gateway.lastSubmit.DurationSeconds != 8 || !gateway.lastSubmit.WithAudio {
		t.Fatalf("submit payload mismatch: %+v", gateway.lastSubmit)
	}
}

func TestDispatchValidationFailureHasNoSideEffects(t *testing.T) {
	creds := newFakeCredRepo(activeCredential("cred-1", 10000))
	jobs := newFakeJobRepo()
	gateway := &fakeGateway{}
	d := newTestDispatcher(creds, jobs, gateway)

	_, err := d.Dispatch(context.Background(), Request{
		Type:            domain.JobTypeVideo,
		Engine:          costmodel.EngineSora2,
		Prompt:          "x",
		DurationSeconds: 8,
		EndFrameRef:     "frame-1", // SORA_2 has no end-frame support
	})
	if !errors.Is(err, domain.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
	if gateway.submitCalls != 0 {
		t.Fatalf("provider must not be called, got %d submits", gateway.submitCalls)
	}
	if cred := creds.get("cred-1"); cred.ReservedCredits != 0 {
		t.Fatalf("no credits may be reserved, got %d", cred.ReservedCredits)
	}
	if jobs.count() != 0 {
		t.Fatalf("no job may be created, got %d", jobs.count())
	}
}

func TestDispatchPoolExhaustion(t *testing.T) {
	creds := newFakeCredRepo(activeCredential("cred-1", 1000))
	jobs := newFakeJobRepo()
	gateway := &fakeGateway{}
	d := newTestDispatcher(creds, jobs, gateway)

	_, err := d.Dispatch(context.Background(), Request{
		Type:            domain.JobTypeVideo,
		Engine:          costmodel.EngineVeo31,
		Prompt:          "x",
		DurationSeconds: 8, // 2140 credits > 1000 available
	})
	if !errors.Is(err, domain.ErrNoCredentialAvailable) {
		t.Fatalf("expected ErrNoCredentialAvailable, got %v", err)
	}
	if gateway.submitCalls != 0 {
		t.Fatalf("provider must not be called, got %d submits", gateway.submitCalls)
	}
	if jobs.count() != 0 {
		t.Fatalf("no job may be created, got %d", jobs.count())
	}
}

func TestDispatchSubmitFailureReleasesReservation(t *testing.T) {
	creds := newFakeCredRepo(activeCredential("cred-1", 5000))
	jobs := newFakeJobRepo()
	gateway := &fakeGateway{submitErr: errors.New("connection reset")}
	d := newTestDispatcher(creds, jobs, gateway)

	_, err := d.Dispatch(context.Background(), Request{
		Type:   domain.JobTypeImage,
		Engine: costmodel.EngineNano,
		Prompt: "x",
	})
	if !errors.Is(err, domain.ErrProviderSubmission) {
		t.Fatalf("expected ErrProviderSubmission, got %v", err)
	}
	cred := creds.get("cred-1")
	if cred.ReservedCredits != 0 {
		t.Fatalf("reservation must be released, got %d", cred.ReservedCredits)
	}
	if cred.RemainingCredits != 5000 {
		t.Fatalf("remaining must be untouched, got %d", cred.RemainingCredits)
	}
	if jobs.count() != 0 {
		t.Fatalf("no job may be created after submit failure, got %d", jobs.count())
	}
}

func TestDispatchPersistFailureReleasesReservation(t *testing.T) {
	creds := newFakeCredRepo(activeCredential("cred-1", 5000))
	jobs := newFakeJobRepo()
	jobs.createErr = errors.New("disk full")
	gateway := &fakeGateway{}
	d := newTestDispatcher(creds, jobs, gateway)

	if _, err := d.Dispatch(context.Background(), Request{
		Type:   domain.JobTypeImage,
		Engine: costmodel.EngineNano,
		Prompt: "x",
	}); err == nil {
		t.Fatal("expected error")
	}
	if cred := creds.get("cred-1"); cred.ReservedCredits != 0 {
		t.Fatalf("reservation must be released, got %d", cred.ReservedCredits)
	}
}

func TestDispatchCarriesLineageFields(t *testing.T) {
	creds := newFakeCredRepo(activeCredential("cred-1", 10000))
	jobs := newFakeJobRepo()
	gateway := &fakeGateway{}
	d := newTestDispatcher(creds, jobs, gateway)

	job, err := d.Dispatch(context.Background(), Request{
		Type:            domain.JobTypeVideoExtend,
		Engine:          costmodel.EngineVeo31Fast,
		Prompt:          "keep walking",
		DurationSeconds: 6,
		StartFrameRef:   "frame-77",
		ParentJobID:     "job-parent",
		ExtendMode:      domain.ExtendModeContinue,
		SourceFrameRef:  "frame-77",
		SceneIndex:      3,
	})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	stored := jobs.get(job.ID)
	if stored.ParentJobID != "job-parent" || stored.ExtendMode != domain.ExtendModeContinue {
		t.Fatalf("lineage not persisted: %+v", stored)
	}
	if stored.SourceFrameRef != "frame-77" || stored.SceneIndex != 3 {
		t.Fatalf("request fields not carried: %+v", stored)
	}
	if gateway.lastSubmit.StartFrameRef != "frame-77" {
		t.Fatalf("frame ref not forwarded to provider: %+v", gateway.lastSubmit)
	}
}
