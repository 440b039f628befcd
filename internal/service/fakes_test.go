package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quranhub/access-gate/internal/model"
	"github.com/quranhub/access-gate/internal/store"
)

// fakeStore is an in-memory store with the same compare-and-swap semantics
// as the Postgres implementation, so the race-condition tests exercise real
// transition behavior.
type fakeStore struct {
	mu            sync.Mutex
	requests      map[uuid.UUID]*model.AccessRequest
	credentials   map[uuid.UUID]*model.Credential
	resources     map[uuid.UUID]*model.Resource
	licenses      map[uuid.UUID]*model.License // by resource id
	distributions map[uuid.UUID]*model.Distribution

	// Failure injection: the named call errors while the counter is positive.
	createCredentialFailures int
	cascadeFailures          int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests:      make(map[uuid.UUID]*model.AccessRequest),
		credentials:   make(map[uuid.UUID]*model.Credential),
		resources:     make(map[uuid.UUID]*model.Resource),
		licenses:      make(map[uuid.UUID]*model.License),
		distributions: make(map[uuid.UUID]*model.Distribution),
	}
}

// --- AccessRequestStore ---

func (f *fakeStore) CreateAccessRequest(_ context.Context, req *model.AccessRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.requests {
		if existing.RequesterID == req.RequesterID &&
			existing.DistributionID == req.DistributionID &&
			existing.Status.Active() {
			return store.ErrDuplicateActive
		}
	}
	req.ID = uuid.New()
	req.RequestedAt = time.Now().UTC()
	cp := *req
	f.requests[req.ID] = &cp
	return nil
}

func (f *fakeStore) GetAccessRequest(_ context.Context, id uuid.UUID) (*model.AccessRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (f *fakeStore) HasActiveRequest(_ context.Context, requesterID, distributionID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.requests {
		if req.RequesterID == requesterID && req.DistributionID == distributionID && req.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListAccessRequests(_ context.Context, filters store.RequestFilters) ([]*model.AccessRequest, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AccessRequest
	for _, req := range f.requests {
		if filters.Status != nil && req.Status != *filters.Status {
			continue
		}
		if filters.RequesterID != nil && req.RequesterID != *filters.RequesterID {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (f *fakeStore) TransitionAccessRequest(_ context.Context, id uuid.UUID, from []model.RequestStatus, change store.RequestTransition) (*model.AccessRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	eligible := false
	for _, s := range from {
		if req.Status == s {
			eligible = true
			break
		}
	}
	if !eligible {
		return nil, store.ErrStaleState
	}

	req.Status = change.To
	if change.ApproverID != nil {
		req.ApproverID = change.ApproverID
	}
	if change.ReviewedAt != nil {
		req.ReviewedAt = change.ReviewedAt
	}
	if change.ExpiresAt != nil {
		req.ExpiresAt = change.ExpiresAt
	}
	if change.RejectionReason != "" {
		req.RejectionReason = change.RejectionReason
	}
	if change.AdminNotes != nil {
		req.AdminNotes = *change.AdminNotes
	}
	cp := *req
	return &cp, nil
}

func (f *fakeStore) ExpireApprovedRequests(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, req := range f.requests {
		if req.Status == model.StatusApproved && req.ExpiresAt != nil && req.ExpiresAt.Before(now) {
			req.Status = model.StatusExpired
			ids = append(ids, req.ID)
		}
	}
	return ids, nil
}

func (f *fakeStore) ExpireStaleReviews(_ context.Context, olderThan time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, req := range f.requests {
		if (req.Status == model.StatusPending || req.Status == model.StatusUnderReview) &&
			req.RequestedAt.Before(olderThan) {
			req.Status = model.StatusExpired
			ids = append(ids, req.ID)
		}
	}
	return ids, nil
}

// --- CredentialStore ---

func (f *fakeStore) CreateCredential(_ context.Context, cred *model.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createCredentialFailures > 0 {
		f.createCredentialFailures--
		return errors.New("insert credential: connection reset")
	}
	cred.ID = uuid.New()
	cred.CreatedAt = time.Now().UTC()
	cred.UpdatedAt = cred.CreatedAt
	cp := *cred
	f.credentials[cred.ID] = &cp
	return nil
}

func (f *fakeStore) GetCredentialByID(_ context.Context, id uuid.UUID) (*model.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.credentials[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (f *fakeStore) GetCredentialByRequestID(_ context.Context, requestID uuid.UUID) (*model.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cred := range f.credentials {
		if cred.AccessRequestID == requestID {
			cp := *cred
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) AuthCandidatesByPrefix(_ context.Context, keyPrefix string) ([]*store.AuthCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.AuthCandidate
	for _, cred := range f.credentials {
		if cred.KeyPrefix != keyPrefix {
			continue
		}
		reqStatus := model.StatusApproved
		if req, ok := f.requests[cred.AccessRequestID]; ok {
			reqStatus = req.Status
		}
		cp := *cred
		out = append(out, &store.AuthCandidate{Credential: &cp, RequestStatus: reqStatus})
	}
	return out, nil
}

func (f *fakeStore) ListCredentials(_ context.Context, ownerID *uuid.UUID, page, perPage int) ([]*model.Credential, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Credential
	for _, cred := range f.credentials {
		if ownerID != nil && cred.OwnerID != *ownerID {
			continue
		}
		cp := *cred
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (f *fakeStore) RotateCredentialKey(_ context.Context, id uuid.UUID, keyPrefix, keySalt, keyHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.credentials[id]
	if !ok {
		return store.ErrNotFound
	}
	if cred.Status != model.CredentialActive {
		return store.ErrStaleState
	}
	cred.KeyPrefix = keyPrefix
	cred.KeySalt = keySalt
	cred.KeyHash = keyHash
	cred.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeStore) RevokeCredential(_ context.Context, id uuid.UUID, actor uuid.UUID, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.credentials[id]
	if !ok {
		return store.ErrNotFound
	}
	if cred.Status == model.CredentialRevoked {
		return nil
	}
	cred.Status = model.CredentialRevoked
	cred.RevokedAt = &at
	cred.RevokedBy = &actor
	cred.RevokedReason = reason
	return nil
}

func (f *fakeStore) ExpireCredentialsForExpiredRequests(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cascadeFailures > 0 {
		f.cascadeFailures--
		return 0, errors.New("expire credentials: connection reset")
	}
	var n int64
	for _, cred := range f.credentials {
		req, ok := f.requests[cred.AccessRequestID]
		if ok && req.Status == model.StatusExpired && cred.Status == model.CredentialActive {
			cred.Status = model.CredentialExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) TouchCredential(_ context.Context, id uuid.UUID, at time.Time, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.credentials[id]
	if !ok {
		return store.ErrNotFound
	}
	cred.RequestCount++
	cred.LastUsedAt = &at
	cred.LastUsedIP = ip
	return nil
}

// --- ContentStore ---

func (f *fakeStore) GetResource(_ context.Context, id uuid.UUID) (*model.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.resources[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (f *fakeStore) GetDistribution(_ context.Context, id uuid.UUID) (*model.Distribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dist, ok := f.distributions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *dist
	return &cp, nil
}

func (f *fakeStore) GetLicenseForResource(_ context.Context, resourceID uuid.UUID) (*model.License, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lic, ok := f.licenses[resourceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *lic
	return &cp, nil
}

// seedContent installs a published resource with a license and distribution
// and returns the distribution id.
func (f *fakeStore) seedContent(license *model.License) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()

	resID := uuid.New()
	published := time.Now().UTC().Add(-24 * time.Hour)
	f.resources[resID] = &model.Resource{
		ID:          resID,
		Type:        model.ResourceText,
		Language:    "ar",
		Version:     "1",
		Checksum:    "c0ffee",
		PublisherID: uuid.New(),
		PublishedAt: &published,
	}

	license.ResourceID = resID
	if license.ID == uuid.Nil {
		license.ID = uuid.New()
	}
	f.licenses[resID] = license

	distID := uuid.New()
	f.distributions[distID] = &model.Distribution{
		ID:         distID,
		ResourceID: resID,
		Format:     model.DistributionREST,
		Endpoint:   "https://content.internal/v1",
		Version:    "1",
		Active:     true,
	}
	return distID
}
