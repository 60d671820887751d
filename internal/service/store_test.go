package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/notify"
	"newroi/ledger-service/internal/repository"
	"newroi/ledger-service/pkg/logger"
)

// memData is the whole state of the in-memory store
type memData struct {
	users        map[uint64]*models.User
	investments  map[uint64]*models.Investment
	transactions []*models.Transaction
	settings     *models.SystemSettings
	runs         []*models.DistributionRun
	nextUserID   uint64
	nextInvID    uint64
	nextTxID     uint64
}

func copyUser(u *models.User) *models.User {
	c := *u
	if u.UplineID != nil {
		id := *u.UplineID
		c.UplineID = &id
	}
	return &c
}

func copyInvestment(i *models.Investment) *models.Investment {
	c := *i
	return &c
}

func copyTransaction(t *models.Transaction) *models.Transaction {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func copySettings(s *models.SystemSettings) *models.SystemSettings {
	c := *s
	c.LevelCommissions = append([]decimal.Decimal(nil), s.LevelCommissions...)
	c.LevelUnlockThresholds = append([]int(nil), s.LevelUnlockThresholds...)
	return &c
}

func (d *memData) clone() *memData {
	c := &memData{
		users:       make(map[uint64]*models.User, len(d.users)),
		investments: make(map[uint64]*models.Investment, len(d.investments)),
		nextUserID:  d.nextUserID,
		nextInvID:   d.nextInvID,
		nextTxID:    d.nextTxID,
		runs:        append([]*models.DistributionRun(nil), d.runs...),
	}
	for id, u := range d.users {
		c.users[id] = copyUser(u)
	}
	for id, i := range d.investments {
		c.investments[id] = copyInvestment(i)
	}
	for _, t := range d.transactions {
		c.transactions = append(c.transactions, copyTransaction(t))
	}
	if d.settings != nil {
		c.settings = copySettings(d.settings)
	}
	return c
}

// memStore is a repository.Store double. WithinTx snapshots the state and
// restores it when fn fails, which gives the same all-or-nothing behavior as
// a database transaction.
type memStore struct {
	data *memData
	inTx bool

	// failTransaction injects a store error for matching inserts
	failTransaction func(tx *models.Transaction) error
	txCount         int
}

func newMemStore() *memStore {
	return &memStore{
		data: &memData{
			users:       make(map[uint64]*models.User),
			investments: make(map[uint64]*models.Investment),
		},
	}
}

func (s *memStore) Users() repository.UserRepository               { return &memUsers{s} }
func (s *memStore) Investments() repository.InvestmentRepository   { return &memInvestments{s} }
func (s *memStore) Transactions() repository.TransactionRepository { return &memTransactions{s} }
func (s *memStore) Settings() repository.SettingsRepository        { return &memSettings{s} }
func (s *memStore) Runs() repository.RunRepository                 { return &memRuns{s} }

func (s *memStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	s.txCount++
	snapshot := s.data.clone()
	defer func() {
		if p := recover(); p != nil {
			*s.data = *snapshot
			panic(p)
		}
	}()

	if err := fn(&memStore{data: s.data, inTx: true, failTransaction: s.failTransaction}); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

// helpers used by tests

func (s *memStore) addUser(id uint64, code string, upline *uint64, balance decimal.Decimal) *models.User {
	u := &models.User{
		ID:           id,
		Name:         code,
		Email:        code + "@example.com",
		Balance:      balance,
		ReferralCode: code,
		UplineID:     upline,
		Role:         models.RoleUser,
		CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	s.data.users[id] = u
	if id >= s.data.nextUserID {
		s.data.nextUserID = id
	}
	return u
}

func (s *memStore) addInvestment(userID uint64, amount string, rate string, status models.InvestmentStatus, createdAt time.Time) *models.Investment {
	s.data.nextInvID++
	inv := &models.Investment{
		ID:        s.data.nextInvID,
		UserID:    userID,
		Amount:    decimal.RequireFromString(amount),
		ROIRate:   decimal.RequireFromString(rate),
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	s.data.investments[inv.ID] = inv
	return inv
}

func (s *memStore) balance(userID uint64) decimal.Decimal {
	return s.data.users[userID].Balance
}

func (s *memStore) transactionsFor(userID uint64, txType models.TransactionType) []*models.Transaction {
	var out []*models.Transaction
	for _, t := range s.data.transactions {
		if t.UserID == userID && (txType == "" || t.Type == txType) {
			out = append(out, t)
		}
	}
	return out
}

func ptr(id uint64) *uint64 { return &id }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memUsers struct{ s *memStore }

func (r *memUsers) FindByID(ctx context.Context, id uint64) (*models.User, error) {
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, nil
	}
	return copyUser(u), nil
}

func (r *memUsers) FindByIDForUpdate(ctx context.Context, id uint64) (*models.User, error) {
	return r.FindByID(ctx, id)
}

func (r *memUsers) FindByReferralCode(ctx context.Context, code string) (*models.User, error) {
	for _, u := range r.s.data.users {
		if u.ReferralCode == code {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (r *memUsers) FindAll(ctx context.Context) ([]*models.User, error) {
	out := make([]*models.User, 0, len(r.s.data.users))
	for _, u := range r.s.data.users {
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memUsers) Create(ctx context.Context, user *models.User) error {
	for _, u := range r.s.data.users {
		if u.ReferralCode == user.ReferralCode || u.Email == user.Email {
			return repository.ErrDuplicateKey
		}
	}
	r.s.data.nextUserID++
	user.ID = r.s.data.nextUserID
	r.s.data.users[user.ID] = copyUser(user)
	return nil
}

func (r *memUsers) UpdateBalance(ctx context.Context, id uint64, balance decimal.Decimal) error {
	u, ok := r.s.data.users[id]
	if !ok {
		return repository.ErrNoRowsAffected
	}
	u.Balance = balance
	return nil
}

func (r *memUsers) UpdateUpline(ctx context.Context, id uint64, uplineID *uint64) error {
	u, ok := r.s.data.users[id]
	if !ok {
		return repository.ErrNoRowsAffected
	}
	if uplineID == nil {
		u.UplineID = nil
	} else {
		v := *uplineID
		u.UplineID = &v
	}
	return nil
}

type memInvestments struct{ s *memStore }

func (r *memInvestments) FindByID(ctx context.Context, id uint64) (*models.Investment, error) {
	inv, ok := r.s.data.investments[id]
	if !ok {
		return nil, nil
	}
	return copyInvestment(inv), nil
}

func (r *memInvestments) FindByIDForUpdate(ctx context.Context, id uint64) (*models.Investment, error) {
	return r.FindByID(ctx, id)
}

func (r *memInvestments) sorted(filter func(*models.Investment) bool) []*models.Investment {
	var out []*models.Investment
	for _, inv := range r.s.data.investments {
		if filter(inv) {
			out = append(out, copyInvestment(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memInvestments) FindByUserID(ctx context.Context, userID uint64) ([]*models.Investment, error) {
	return r.sorted(func(inv *models.Investment) bool { return inv.UserID == userID }), nil
}

func (r *memInvestments) FindByStatus(ctx context.Context, status models.InvestmentStatus) ([]*models.Investment, error) {
	return r.sorted(func(inv *models.Investment) bool { return inv.Status == status }), nil
}

func (r *memInvestments) Create(ctx context.Context, inv *models.Investment) error {
	r.s.data.nextInvID++
	inv.ID = r.s.data.nextInvID
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
		inv.UpdatedAt = inv.CreatedAt
	}
	r.s.data.investments[inv.ID] = copyInvestment(inv)
	return nil
}

func (r *memInvestments) TransitionStatus(ctx context.Context, id uint64, from, to models.InvestmentStatus, method *models.ApprovalMethod, approvedBy *uint64) error {
	inv, ok := r.s.data.investments[id]
	if !ok || inv.Status != from {
		return repository.ErrNoRowsAffected
	}
	inv.Status = to
	if method != nil {
		inv.ApprovalMethod = method
	}
	if approvedBy != nil {
		inv.ApprovedBy = approvedBy
	}
	return nil
}

func (r *memInvestments) AddROIPaid(ctx context.Context, id uint64, amount decimal.Decimal) error {
	inv, ok := r.s.data.investments[id]
	if !ok {
		return repository.ErrNoRowsAffected
	}
	inv.TotalROIPaid = inv.TotalROIPaid.Add(amount)
	return nil
}

type memTransactions struct{ s *memStore }

func (r *memTransactions) Create(ctx context.Context, tx *models.Transaction) error {
	if r.s.failTransaction != nil {
		if err := r.s.failTransaction(tx); err != nil {
			return err
		}
	}
	if tx.IdempotencyKey != nil {
		for _, existing := range r.s.data.transactions {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *tx.IdempotencyKey {
				return repository.ErrDuplicateKey
			}
		}
	}
	r.s.data.nextTxID++
	tx.ID = r.s.data.nextTxID
	r.s.data.transactions = append(r.s.data.transactions, copyTransaction(tx))
	return nil
}

func (r *memTransactions) find(id uint64) *models.Transaction {
	for _, t := range r.s.data.transactions {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (r *memTransactions) FindByID(ctx context.Context, id uint64) (*models.Transaction, error) {
	t := r.find(id)
	if t == nil {
		return nil, nil
	}
	return copyTransaction(t), nil
}

func (r *memTransactions) FindByIDForUpdate(ctx context.Context, id uint64) (*models.Transaction, error) {
	return r.FindByID(ctx, id)
}

func (r *memTransactions) Complete(ctx context.Context, id uint64, previousBalance, newBalance decimal.Decimal, completedAt time.Time, metadata map[string]any) error {
	t := r.find(id)
	if t == nil || t.Status != models.TxPending {
		return repository.ErrNoRowsAffected
	}
	t.Status = models.TxCompleted
	t.PreviousBalance = previousBalance
	t.NewBalance = newBalance
	t.CompletedAt = &completedAt
	if metadata != nil {
		t.Metadata = metadata
	}
	return nil
}

func (r *memTransactions) Reject(ctx context.Context, id uint64, metadata map[string]any) error {
	t := r.find(id)
	if t == nil || t.Status != models.TxPending {
		return repository.ErrNoRowsAffected
	}
	t.Status = models.TxRejected
	if metadata != nil {
		t.Metadata = metadata
	}
	return nil
}

func (r *memTransactions) ExistsForReference(ctx context.Context, referenceID string, ledgerDate time.Time, types []models.TransactionType) (bool, error) {
	day := ledgerDate.Format("2006-01-02")
	for _, t := range r.s.data.transactions {
		if t.Status != models.TxCompleted || t.Reference() != referenceID || t.LedgerDate == nil {
			continue
		}
		if t.LedgerDate.Format("2006-01-02") != day {
			continue
		}
		for _, typ := range types {
			if t.Type == typ {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *memTransactions) filter(keep func(*models.Transaction) bool) []*models.Transaction {
	var out []*models.Transaction
	for _, t := range r.s.data.transactions {
		if keep(t) {
			out = append(out, copyTransaction(t))
		}
	}
	return out
}

func (r *memTransactions) FindCompletedByUser(ctx context.Context, userID uint64) ([]*models.Transaction, error) {
	out := r.filter(func(t *models.Transaction) bool {
		return t.UserID == userID && t.Status == models.TxCompleted
	})
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].EffectiveAt(), out[j].EffectiveAt()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memTransactions) SumCompletedByUserAndType(ctx context.Context) (map[uint64]map[models.TransactionType]decimal.Decimal, error) {
	sums := make(map[uint64]map[models.TransactionType]decimal.Decimal)
	for _, t := range r.s.data.transactions {
		if t.Status != models.TxCompleted {
			continue
		}
		if sums[t.UserID] == nil {
			sums[t.UserID] = make(map[models.TransactionType]decimal.Decimal)
		}
		sums[t.UserID][t.Type] = sums[t.UserID][t.Type].Add(t.Amount)
	}
	return sums, nil
}

func (r *memTransactions) FindPendingByUser(ctx context.Context, userID uint64, txType models.TransactionType) ([]*models.Transaction, error) {
	return r.filter(func(t *models.Transaction) bool {
		return t.UserID == userID && t.Type == txType && t.Status == models.TxPending
	}), nil
}

func (r *memTransactions) FindPendingByType(ctx context.Context, txType models.TransactionType) ([]*models.Transaction, error) {
	return r.filter(func(t *models.Transaction) bool {
		return t.Type == txType && t.Status == models.TxPending
	}), nil
}

func (r *memTransactions) ListByUser(ctx context.Context, userID uint64, limit int) ([]*models.Transaction, error) {
	out := r.filter(func(t *models.Transaction) bool { return t.UserID == userID })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memSettings struct{ s *memStore }

func (r *memSettings) Get(ctx context.Context) (*models.SystemSettings, error) {
	if r.s.data.settings == nil {
		return nil, nil
	}
	return copySettings(r.s.data.settings), nil
}

func (r *memSettings) CreateIfMissing(ctx context.Context, settings *models.SystemSettings) error {
	if r.s.data.settings == nil {
		r.s.data.settings = copySettings(settings)
	}
	return nil
}

func (r *memSettings) Update(ctx context.Context, settings *models.SystemSettings) error {
	if r.s.data.settings == nil {
		return repository.ErrNoRowsAffected
	}
	r.s.data.settings = copySettings(settings)
	return nil
}

type memRuns struct{ s *memStore }

func (r *memRuns) Create(ctx context.Context, run *models.DistributionRun) error {
	run.ID = uint64(len(r.s.data.runs) + 1)
	c := *run
	r.s.data.runs = append(r.s.data.runs, &c)
	return nil
}

func (r *memRuns) ListRecent(ctx context.Context, limit int) ([]*models.DistributionRun, error) {
	var out []*models.DistributionRun
	for i := len(r.s.data.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, r.s.data.runs[i])
	}
	return out, nil
}

// recordingNotifier keeps every event it receives
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) types() []notify.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.EventType
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

// stubOTP accepts every code unless err is set
type stubOTP struct {
	err      error
	verified int
}

func (o *stubOTP) Issue(ctx context.Context, userID uint64, purpose models.OTPPurpose) (string, error) {
	return "123456", nil
}

func (o *stubOTP) Verify(ctx context.Context, userID uint64, purpose models.OTPPurpose, code string) error {
	if o.err != nil {
		return o.err
	}
	o.verified++
	return nil
}

// fixture wires every service over one memStore
type fixture struct {
	store        *memStore
	notifier     *recordingNotifier
	otp          *stubOTP
	ledger       LedgerService
	settings     SettingsService
	referrals    ReferralService
	distribution DistributionService
	recon        ReconciliationService
	remediation  RemediationService
	wallet       WalletService
	investments  InvestmentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewDiscard()
	store := newMemStore()
	notifier := &recordingNotifier{}
	otp := &stubOTP{}

	settings := NewSettingsService(store, log)
	ledger := NewLedgerService(store, log)
	f := &fixture{
		store:        store,
		notifier:     notifier,
		otp:          otp,
		ledger:       ledger,
		settings:     settings,
		referrals:    NewReferralService(store, settings, log),
		distribution: NewDistributionService(store, ledger, settings, notifier, nil, log, time.UTC),
		recon:        NewReconciliationService(store, log),
		remediation:  NewRemediationService(store, log),
		wallet:       NewWalletService(store, ledger, settings, otp, notifier, log),
		investments:  NewInvestmentService(store, ledger, settings, notifier, log),
	}
	_, err := settings.Load(context.Background())
	require.NoError(t, err)
	return f
}

// updateSettings edits the stored settings row in place
func (f *fixture) updateSettings(t *testing.T, edit func(s *models.SystemSettings)) *models.SystemSettings {
	t.Helper()
	s, err := f.settings.Load(context.Background())
	require.NoError(t, err)
	edit(s)
	updated, err := f.settings.Update(context.Background(), s)
	require.NoError(t, err)
	return updated
}

// credit gives a user funds through the ledger so replay stays consistent
func (f *fixture) credit(t *testing.T, userID uint64, amount string) {
	t.Helper()
	_, err := f.ledger.ApplyEntryTx(context.Background(), Entry{
		UserID:      userID,
		Type:        models.TxDeposit,
		Amount:      dec(amount),
		Description: "test deposit",
	})
	require.NoError(t, err)
}
