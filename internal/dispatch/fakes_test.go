package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"clipforge/internal/domain"
	"clipforge/internal/providers/generation"
)

type fakeCredRepo struct {
	mu    sync.Mutex
	creds map[string]*domain.Credential
}

func newFakeCredRepo(creds ...*domain.Credential) *fakeCredRepo {
	r := &fakeCredRepo{creds: map[string]*domain.Credential{}}
	for _, c := range creds {
		r.creds[c.ID] = c
	}
	return r
}

func (r *fakeCredRepo) get(id string) *domain.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *r.creds[id]
	return &copied
}

func (r *fakeCredRepo) Create(_ context.Context, cred *domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *cred
	r.creds[cred.ID] = &copied
	return nil
}

func (r *fakeCredRepo) GetByID(_ context.Context, id string) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *cred
	return &copied, nil
}

func (r *fakeCredRepo) List(_ context.Context) ([]domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Credential
	for _, c := range r.creds {
		out = append(out, *c)
	}
	return out, nil
}

func (r *fakeCredRepo) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok {
		return domain.ErrNotFound
	}
	cred.IsActive = active
	return nil
}

func (r *fakeCredRepo) ResetDailyUses(_ context.Context, day time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.creds {
		if c.IsActive && c.LastResetDate.Before(day) {
			c.UsesToday = 0
			c.LastResetDate = day
		}
	}
	return nil
}

func (r *fakeCredRepo) SelectForAllocation(_ context.Context, cost int) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Credential
	for _, c := range r.creds {
		if !c.IsActive || c.AvailableCredits() <= cost || !c.WithinDailyLimit() {
			continue
		}
		if best == nil || c.AvailableCredits() > best.AvailableCredits() {
			best = c
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	copied := *best
	return &copied, nil
}

func (r *fakeCredRepo) AddReserved(_ context.Context, id string, amount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok {
		return domain.ErrNotFound
	}
	cred.ReservedCredits += amount
	return nil
}

func (r *fakeCredRepo) ReleaseReserved(_ context.Context, id string, amount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok {
		return domain.ErrNotFound
	}
	cred.ReservedCredits -= amount
	if cred.ReservedCredits < 0 {
		cred.ReservedCredits = 0
	}
	return nil
}

func (r *fakeCredRepo) CommitSpend(_ context.Context, id string, amount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok {
		return domain.ErrNotFound
	}
	cred.ReservedCredits -= amount
	if cred.ReservedCredits < 0 {
		cred.ReservedCredits = 0
	}
	cred.RemainingCredits -= amount
	cred.TotalUses++
	cred.UsesToday++
	now := time.Now()
	cred.LastUsedAt = &now
	return nil
}

func (r *fakeCredRepo) SetRemainingCredits(_ context.Context, id string, credits int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok {
		return domain.ErrNotFound
	}
	cred.RemainingCredits = credits
	return nil
}

var _ domain.CredentialRepository = (*fakeCredRepo)(nil)

type fakeJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	createErr error
	seq       int
}

func newFakeJobRepo(jobs ...*domain.Job) *fakeJobRepo {
	r := &fakeJobRepo{jobs: map[string]*domain.Job{}}
	for _, j := range jobs {
		r.seq++
		if j.CreatedAt.IsZero() {
			j.CreatedAt = time.Now().Add(time.Duration(r.seq) * time.Millisecond)
		}
		r.jobs[j.ID] = j
	}
	return r
}

func (r *fakeJobRepo) get(id string) *domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *r.jobs[id]
	return &copied
}

func (r *fakeJobRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *fakeJobRepo) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.seq++
	copied := *job
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().Add(time.Duration(r.seq) * time.Millisecond)
	}
	r.jobs[job.ID] = &copied
	return nil
}

func (r *fakeJobRepo) GetByID(_ context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *fakeJobRepo) List(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, j := range r.jobs {
		if j.DeletedAt != nil {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, *j)
	}
	return out, nil
}

func (r *fakeJobRepo) ListProcessing(_ context.Context) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, j := range r.jobs {
		if j.Status == domain.JobStatusProcessing && j.ProviderJobID != "" && j.DeletedAt == nil {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeJobRepo) ListChildren(_ context.Context, parentID string) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, j := range r.jobs {
		if j.ParentJobID == parentID && j.DeletedAt == nil {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeJobRepo) MarkCompleted(_ context.Context, id, resultURL string, resultMeta map[string]string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return false, nil
	}
	job.Status = domain.JobStatusCompleted
	job.ResultURL = resultURL
	job.ResultMeta = resultMeta
	job.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeJobRepo) MarkFailed(_ context.Context, id, errorMessage string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing {
		return false, nil
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = errorMessage
	job.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeJobRepo) SoftDelete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !job.Status.Terminal() {
		return domain.ErrJobNotTerminal
	}
	now := time.Now()
	job.DeletedAt = &now
	return nil
}

var _ domain.JobRepository = (*fakeJobRepo)(nil)

type fakeGateway struct {
	mu          sync.Mutex
	submitID    string
	submitErr   error
	submitCalls int
	lastSubmit  generation.SubmitRequest
	statuses    map[string]generation.Status
	statusErr   error
	statusCalls int
	balance     int
	asset       []byte
	assetErr    error
}

func (g *fakeGateway) SubmitGeneration(_ context.Context, _ string, req generation.SubmitRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitCalls++
	g.lastSubmit = req
	if g.submitErr != nil {
		return "", g.submitErr
	}
	if g.submitID == "" {
		return "task-1", nil
	}
	return g.submitID, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, _, providerJobID string) (generation.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if g.statusErr != nil {
		return generation.Status{}, g.statusErr
	}
	status, ok := g.statuses[providerJobID]
	if !ok {
		return generation.Status{}, errors.New("unknown task")
	}
	return status, nil
}

func (g *fakeGateway) QueryAccountBalance(context.Context, string) (int, error) {
	return g.balance, nil
}

func (g *fakeGateway) FetchAsset(context.Context, string) ([]byte, error) {
	if g.assetErr != nil {
		return nil, g.assetErr
	}
	return g.asset, nil
}

var _ generation.Client = (*fakeGateway)(nil)

type fakeBlobStore struct {
	baseURL string
	writes  map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{baseURL: "https://cdn.test", writes: map[string][]byte{}}
}

func (s *fakeBlobStore) Write(_ context.Context, key string, data []byte) (string, error) {
	s.writes[key] = data
	return s.baseURL + "/" + key, nil
}
