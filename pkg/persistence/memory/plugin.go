// Package memory provides an in-memory persistence plugin. It mirrors the
// Redis repositories' semantics, including the error contract, so services
// behave identically under either backend. Nothing survives a restart; it
// exists for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sunagi/homare/internal/repository"
	"github.com/sunagi/homare/pkg/domain"
	"github.com/sunagi/homare/pkg/persistence"
)

type plugin struct {
	tasks         *taskRepo
	verifications *verificationRepo
	referrals     *referralRepo
	ledger        *ledgerRepo
}

// NewPlugin creates an in-memory persistence plugin.
func NewPlugin(cfg persistence.PluginConfig) persistence.PluginPersistence {
	tz := cfg.Timezone
	if tz == nil {
		tz = time.UTC
	}
	return &plugin{
		tasks:         newTaskRepo(tz),
		verifications: newVerificationRepo(tz),
		referrals:     newReferralRepo(tz),
		ledger:        newLedgerRepo(tz),
	}
}

func (p *plugin) Tasks() repository.TaskRepository                 { return p.tasks }
func (p *plugin) Verifications() repository.VerificationRepository { return p.verifications }
func (p *plugin) Referrals() repository.ReferralRepository         { return p.referrals }
func (p *plugin) Ledger() repository.LedgerRepository              { return p.ledger }

func (p *plugin) Health(ctx context.Context) error { return nil }
func (p *plugin) Close() error                     { return nil }

func init() {
	persistence.RegisterProvider("memory", func(cfg persistence.PluginConfig) (persistence.PluginPersistence, error) {
		return NewPlugin(cfg), nil
	})
}

// ===== tasks =====

type completionKey struct {
	taskID      uint64
	participant string
}

type taskRepo struct {
	mu           sync.Mutex
	tz           *time.Location
	seq          uint64
	tasks        map[uint64]domain.Task
	assets       map[string]struct{}
	completions  map[completionKey]domain.Completion
	participants map[uint64]int64
	verified     map[uint64]int64
	paid         map[completionKey]struct{}
}

func newTaskRepo(tz *time.Location) *taskRepo {
	return &taskRepo{
		tz:           tz,
		tasks:        make(map[uint64]domain.Task),
		assets:       make(map[string]struct{}),
		completions:  make(map[completionKey]domain.Completion),
		participants: make(map[uint64]int64),
		verified:     make(map[uint64]int64),
		paid:         make(map[completionKey]struct{}),
	}
}

func (r *taskRepo) now() time.Time { return time.Now().In(r.tz) }

func (r *taskRepo) Create(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	t := *task
	t.ID = r.seq
	t.Status = domain.TaskActive
	t.CurrentParticipants = 0
	t.CreatedAt = r.now()
	t.UpdatedAt = t.CreatedAt
	r.tasks[t.ID] = t
	return &t, nil
}

func (r *taskRepo) Get(ctx context.Context, id uint64) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrUnknownTask
	}
	t.CurrentParticipants = int(r.participants[id])
	return &t, nil
}

func (r *taskRepo) Update(ctx context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; !ok {
		return domain.ErrUnknownTask
	}
	t := *task
	t.UpdatedAt = r.now()
	r.tasks[t.ID] = t
	return nil
}

func (r *taskRepo) List(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if status != "" && t.Status != status {
			continue
		}
		t.CurrentParticipants = int(r.participants[t.ID])
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *taskRepo) AddAsset(ctx context.Context, asset string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[asset] = struct{}{}
	return nil
}

func (r *taskRepo) RemoveAsset(ctx context.Context, asset string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assets, asset)
	return nil
}

func (r *taskRepo) AssetSupported(ctx context.Context, asset string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.assets[asset]
	return ok, nil
}

func (r *taskRepo) CreateCompletion(ctx context.Context, c *domain.Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := completionKey{c.TaskID, c.Participant}
	if _, ok := r.completions[key]; ok {
		return domain.ErrDuplicateCompletion
	}
	cc := *c
	cc.Submitted = true
	if cc.SubmittedAt.IsZero() {
		cc.SubmittedAt = r.now()
	}
	r.completions[key] = cc
	*c = cc
	return nil
}

func (r *taskRepo) GetCompletion(ctx context.Context, taskID uint64, participant string) (*domain.Completion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.completions[completionKey{taskID, participant}]
	if !ok {
		return nil, domain.ErrUnknownCompletion
	}
	return &c, nil
}

func (r *taskRepo) UpdateCompletion(ctx context.Context, c *domain.Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := completionKey{c.TaskID, c.Participant}
	if _, ok := r.completions[key]; !ok {
		return domain.ErrUnknownCompletion
	}
	r.completions[key] = *c
	return nil
}

func (r *taskRepo) CountCompletions(ctx context.Context, taskID uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for key := range r.completions {
		if key.taskID == taskID {
			n++
		}
	}
	return n, nil
}

func (r *taskRepo) IncrParticipants(ctx context.Context, taskID uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[taskID]++
	return r.participants[taskID], nil
}

func (r *taskRepo) IncrVerified(ctx context.Context, taskID uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified[taskID]++
	return r.verified[taskID], nil
}

func (r *taskRepo) CountVerified(ctx context.Context, taskID uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verified[taskID], nil
}

func (r *taskRepo) AcquireSettlementLatch(ctx context.Context, taskID uint64, participant string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := completionKey{taskID, participant}
	if _, ok := r.paid[key]; ok {
		return false, nil
	}
	r.paid[key] = struct{}{}
	return true, nil
}

// ===== verifications =====

type verificationRepo struct {
	mu        sync.Mutex
	tz        *time.Location
	seq       uint64
	requests  map[uint64]domain.VerificationRequest
	verifiers map[domain.ProofCategory]domain.Verifier
	nonces    map[string]uint64
}

func newVerificationRepo(tz *time.Location) *verificationRepo {
	return &verificationRepo{
		tz:        tz,
		requests:  make(map[uint64]domain.VerificationRequest),
		verifiers: make(map[domain.ProofCategory]domain.Verifier),
		nonces:    make(map[string]uint64),
	}
}

func (r *verificationRepo) now() time.Time { return time.Now().In(r.tz) }

func (r *verificationRepo) Create(ctx context.Context, req *domain.VerificationRequest) (*domain.VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	v := *req
	v.ID = r.seq
	v.Processed = false
	v.Result = domain.VerificationResult{}
	v.CreatedAt = r.now()
	r.requests[v.ID] = v
	return &v, nil
}

func (r *verificationRepo) Get(ctx context.Context, id uint64) (*domain.VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrUnknownRequest
	}
	return &v, nil
}

func (r *verificationRepo) MarkProcessed(ctx context.Context, id uint64, result domain.VerificationResult) (*domain.VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrUnknownRequest
	}
	if v.Processed {
		return nil, domain.ErrAlreadyProcessed
	}
	v.Processed = true
	v.Result = result
	if v.Result.CompletedAt.IsZero() {
		v.Result.CompletedAt = r.now()
	}
	r.requests[id] = v
	return &v, nil
}

func (r *verificationRepo) RegisterVerifier(ctx context.Context, v domain.Verifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.AddedAt.IsZero() {
		v.AddedAt = r.now()
	}
	r.verifiers[v.Category] = v
	return nil
}

func (r *verificationRepo) RemoveVerifier(ctx context.Context, identity string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for category, v := range r.verifiers {
		if v.Identity != identity {
			continue
		}
		delete(r.verifiers, category)
		removed++
	}
	return removed, nil
}

func (r *verificationRepo) VerifierFor(ctx context.Context, category domain.ProofCategory) (*domain.Verifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.verifiers[category]
	if !ok {
		return nil, domain.ErrNoVerifierForCategory
	}
	return &v, nil
}

func (r *verificationRepo) AdvanceNonce(ctx context.Context, identity string, nonce uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.nonces[identity]; ok && nonce <= current {
		return domain.ErrReplayedNonce
	}
	r.nonces[identity] = nonce
	return nil
}

// ===== referrals =====

type earnings struct {
	total    uint64
	direct   uint64
	indirect uint64
}

type referralRepo struct {
	mu       sync.Mutex
	tz       *time.Location
	records  map[string]domain.ReferralRecord
	codes    map[string]string
	byOwner  map[string]string
	earnings map[string]earnings
}

func newReferralRepo(tz *time.Location) *referralRepo {
	return &referralRepo{
		tz:       tz,
		records:  make(map[string]domain.ReferralRecord),
		codes:    make(map[string]string),
		byOwner:  make(map[string]string),
		earnings: make(map[string]earnings),
	}
}

func (r *referralRepo) Create(ctx context.Context, rec *domain.ReferralRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.Participant]; ok {
		return domain.ErrAlreadyRegistered
	}
	v := *rec
	v.Active = true
	if v.RegisteredAt.IsZero() {
		v.RegisteredAt = time.Now().In(r.tz)
	}
	r.records[v.Participant] = v
	*rec = v
	return nil
}

func (r *referralRepo) Get(ctx context.Context, participant string) (*domain.ReferralRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[participant]
	if !ok {
		// No chain, but earnings may still have accrued.
		rec = domain.ReferralRecord{Participant: participant}
	}
	e := r.earnings[participant]
	rec.TotalEarned = e.total
	rec.DirectEarned = e.direct
	rec.IndirectEarned = e.indirect
	return &rec, nil
}

func (r *referralRepo) MintCode(ctx context.Context, code, identity string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.codes[code]; ok {
		return false, nil
	}
	r.codes[code] = identity
	r.byOwner[identity] = code
	return true, nil
}

func (r *referralRepo) CodeFor(ctx context.Context, identity string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byOwner[identity], nil
}

func (r *referralRepo) Resolve(ctx context.Context, code string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.codes[code]
	if !ok {
		return "", domain.ErrInvalidReferrerCode
	}
	return identity, nil
}

func (r *referralRepo) AddEarnings(ctx context.Context, identity string, direct, indirect uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.earnings[identity]
	e.direct += direct
	e.indirect += indirect
	e.total += direct + indirect
	r.earnings[identity] = e
	return nil
}

func (r *referralRepo) Earnings(ctx context.Context, identity string) (total, direct, indirect uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.earnings[identity]
	return e.total, e.direct, e.indirect, nil
}

// ===== ledger =====

type owedKey struct {
	taskID      uint64
	participant string
}

type ledgerRepo struct {
	mu          sync.Mutex
	tz          *time.Location
	pools       map[string]uint64
	balances    map[string]map[string]uint64
	settlements []domain.SettlementRecord
	byTask      map[uint64][]domain.SettlementRecord
	owed        map[owedKey]domain.OwedSettlement
}

func newLedgerRepo(tz *time.Location) *ledgerRepo {
	return &ledgerRepo{
		tz:       tz,
		pools:    make(map[string]uint64),
		balances: make(map[string]map[string]uint64),
		byTask:   make(map[uint64][]domain.SettlementRecord),
		owed:     make(map[owedKey]domain.OwedSettlement),
	}
}

func (r *ledgerRepo) Deposit(ctx context.Context, asset string, amount uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[asset] += amount
	return r.pools[asset], nil
}

func (r *ledgerRepo) PoolBalance(ctx context.Context, asset string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pools[asset], nil
}

func (r *ledgerRepo) Balance(ctx context.Context, identity, asset string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[asset][identity], nil
}

func (r *ledgerRepo) Transfer(ctx context.Context, asset string, gross uint64, credits map[string]uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pools[asset] < gross {
		return domain.ErrInsufficientPoolBalance
	}
	r.pools[asset] -= gross
	if r.balances[asset] == nil {
		r.balances[asset] = make(map[string]uint64)
	}
	for identity, amount := range credits {
		r.balances[asset][identity] += amount
	}
	return nil
}

func (r *ledgerRepo) AppendSettlement(ctx context.Context, rec domain.SettlementRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settlements = append(r.settlements, rec)
	r.byTask[rec.TaskID] = append(r.byTask[rec.TaskID], rec)
	return nil
}

func (r *ledgerRepo) SettlementsByTask(ctx context.Context, taskID uint64) ([]domain.SettlementRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs := r.byTask[taskID]
	out := make([]domain.SettlementRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (r *ledgerRepo) Settlements(ctx context.Context, limit int64) ([]domain.SettlementRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	start := int64(len(r.settlements)) - limit
	if start < 0 {
		start = 0
	}
	recs := r.settlements[start:]
	out := make([]domain.SettlementRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (r *ledgerRepo) CountSettledForTask(ctx context.Context, taskID uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.byTask[taskID])), nil
}

func (r *ledgerRepo) AddOwed(ctx context.Context, owed domain.OwedSettlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := owedKey{owed.TaskID, owed.Participant}
	if _, ok := r.owed[key]; ok {
		return nil
	}
	if owed.FirstTried.IsZero() {
		owed.FirstTried = time.Now().In(r.tz)
	}
	r.owed[key] = owed
	return nil
}

func (r *ledgerRepo) ListOwed(ctx context.Context, limit int64) ([]domain.OwedSettlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	out := make([]domain.OwedSettlement, 0, len(r.owed))
	for _, owed := range r.owed {
		out = append(out, owed)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstTried.Before(out[j].FirstTried) })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ledgerRepo) RemoveOwed(ctx context.Context, taskID uint64, participant string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := owedKey{taskID, participant}
	if _, ok := r.owed[key]; !ok {
		return false, nil
	}
	delete(r.owed, key)
	return true, nil
}
