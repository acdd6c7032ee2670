package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"arivara/pkg/domain"
)

// MemoryStore keeps all records in-process behind one mutex. It mirrors the
// GormStore semantics exactly and backs the app and server tests.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]domain.Account
	transactions map[string][]domain.CreditTransaction // account ID -> entries, append order
	jobs         map[string]domain.ResearchJob
	jobOrder     []string
	documents    map[string][]domain.ResearchDocument // job ID -> documents, append order
	threads      map[string]domain.ChatThread
	threadOrder  []string
	messages     map[string][]domain.ChatMessage // thread ID -> messages, append order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]domain.Account),
		transactions: make(map[string][]domain.CreditTransaction),
		jobs:         make(map[string]domain.ResearchJob),
		documents:    make(map[string][]domain.ResearchDocument),
		threads:      make(map[string]domain.ChatThread),
		messages:     make(map[string][]domain.ChatMessage),
	}
}

// CreateAccount inserts the account unless it already exists.
func (m *MemoryStore) CreateAccount(a domain.Account) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[a.ID]; exists {
		return false, nil
	}
	m.accounts[a.ID] = a
	return true, nil
}

// GetAccount returns an account by ID.
func (m *MemoryStore) GetAccount(id string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[id]
	return acc, ok, nil
}

// UpdateFullName changes the display name and refreshes updated_at.
func (m *MemoryStore) UpdateFullName(id, fullName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	acc.FullName = fullName
	acc.UpdatedAt = time.Now().UTC()
	m.accounts[id] = acc
	return nil
}

// DeleteAccount removes the account and everything it owns.
func (m *MemoryStore) DeleteAccount(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.accounts, id)
	delete(m.transactions, id)
	for jobID, job := range m.jobs {
		if job.AccountID == id {
			delete(m.jobs, jobID)
			delete(m.documents, jobID)
			m.jobOrder = removeID(m.jobOrder, jobID)
		}
	}
	for threadID, thread := range m.threads {
		if thread.AccountID == id {
			delete(m.threads, threadID)
			delete(m.messages, threadID)
			m.threadOrder = removeID(m.threadOrder, threadID)
		}
	}
	return nil
}

// ApplyTransaction updates the balance and appends the ledger entry under
// the store lock; both land or neither does.
func (m *MemoryStore) ApplyTransaction(accountID string, amount int, kind domain.TransactionKind, description string) (domain.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyTransactionLocked(accountID, amount, kind, description)
}

func (m *MemoryStore) applyTransactionLocked(accountID string, amount int, kind domain.TransactionKind, description string) (domain.CreditTransaction, error) {
	if amount <= 0 {
		return domain.CreditTransaction{}, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	delta := amount
	switch kind {
	case domain.KindCredit:
	case domain.KindDebit:
		delta = -amount
	default:
		return domain.CreditTransaction{}, fmt.Errorf("%w: unknown transaction kind %q", domain.ErrValidation, kind)
	}
	acc, ok := m.accounts[accountID]
	if !ok {
		return domain.CreditTransaction{}, domain.ErrNotFound
	}
	newBalance := acc.Credits + delta
	if newBalance < 0 {
		return domain.CreditTransaction{}, domain.ErrInsufficientCredits
	}
	now := time.Now().UTC()
	acc.Credits = newBalance
	acc.UpdatedAt = now
	m.accounts[accountID] = acc
	entry := domain.CreditTransaction{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Amount:       amount,
		Kind:         kind,
		Description:  description,
		BalanceAfter: newBalance,
		CreatedAt:    now,
	}
	m.transactions[accountID] = append(m.transactions[accountID], entry)
	return entry, nil
}

// ListTransactions returns ledger entries newest first.
func (m *MemoryStore) ListTransactions(accountID string, limit, offset int) ([]domain.CreditTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.transactions[accountID]
	res := make([]domain.CreditTransaction, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		res = append(res, entries[i])
	}
	return slicePage(res, limit, offset), nil
}

// CreateJob inserts a new job record.
func (m *MemoryStore) CreateJob(j domain.ResearchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[j.ID]; !exists {
		m.jobOrder = append(m.jobOrder, j.ID)
	}
	m.jobs[j.ID] = j
	return nil
}

// GetJob returns a job by ID.
func (m *MemoryStore) GetJob(id string) (domain.ResearchJob, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	return job, ok, nil
}

// ListJobsByOwner returns jobs newest first.
func (m *MemoryStore) ListJobsByOwner(accountID string, limit, offset int) ([]domain.ResearchJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ResearchJob, 0)
	for i := len(m.jobOrder) - 1; i >= 0; i-- {
		if job, ok := m.jobs[m.jobOrder[i]]; ok && job.AccountID == accountID {
			res = append(res, job)
		}
	}
	return slicePage(res, limit, offset), nil
}

// CompleteJob transitions pending->completed and debits the owner; an
// insufficient balance leaves the job pending and the ledger untouched.
func (m *MemoryStore) CompleteJob(id string, creditsUsed int, resultSummary string, tokenUsage map[string]any) (domain.ResearchJob, error) {
	if creditsUsed < 0 {
		return domain.ResearchJob{}, fmt.Errorf("%w: creditsUsed must not be negative", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ResearchJob{}, domain.ErrNotFound
	}
	if job.Status != domain.StatusPending {
		return domain.ResearchJob{}, domain.ErrInvalidStateTransition
	}
	if creditsUsed > 0 {
		if _, err := m.applyTransactionLocked(job.AccountID, creditsUsed, domain.KindDebit, debitDescription(job.Query)); err != nil {
			return domain.ResearchJob{}, err
		}
	}
	now := time.Now().UTC()
	job.Status = domain.StatusCompleted
	job.CreditsUsed = creditsUsed
	job.ResultSummary = resultSummary
	job.TokenUsage = tokenUsage
	job.CompletedAt = &now
	m.jobs[id] = job
	return job, nil
}

// FailJob transitions pending->failed without any debit.
func (m *MemoryStore) FailJob(id, reason string) (domain.ResearchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ResearchJob{}, domain.ErrNotFound
	}
	if job.Status != domain.StatusPending {
		return domain.ResearchJob{}, domain.ErrInvalidStateTransition
	}
	now := time.Now().UTC()
	job.Status = domain.StatusFailed
	job.ResultSummary = reason
	job.CompletedAt = &now
	m.jobs[id] = job
	return job, nil
}

// AttachDocument records a document reference for an existing job.
func (m *MemoryStore) AttachDocument(d domain.ResearchDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[d.JobID]; !ok {
		return domain.ErrNotFound
	}
	m.documents[d.JobID] = append(m.documents[d.JobID], d)
	return nil
}

// GetDocument returns a document by ID.
func (m *MemoryStore) GetDocument(id string) (domain.ResearchDocument, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, docs := range m.documents {
		for _, d := range docs {
			if d.ID == id {
				return d, true, nil
			}
		}
	}
	return domain.ResearchDocument{}, false, nil
}

// ListDocuments returns a job's documents oldest first.
func (m *MemoryStore) ListDocuments(jobID string) ([]domain.ResearchDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := m.documents[jobID]
	res := make([]domain.ResearchDocument, len(docs))
	copy(res, docs)
	return res, nil
}

// DeleteDocument removes a document record.
func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for jobID, docs := range m.documents {
		for i, d := range docs {
			if d.ID == id {
				m.documents[jobID] = append(docs[:i:i], docs[i+1:]...)
				return nil
			}
		}
	}
	return domain.ErrNotFound
}

// CreateThread inserts a new thread.
func (m *MemoryStore) CreateThread(t domain.ChatThread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.threads[t.ID]; !exists {
		m.threadOrder = append(m.threadOrder, t.ID)
	}
	m.threads[t.ID] = t
	return nil
}

// GetThread returns a thread by ID.
func (m *MemoryStore) GetThread(id string) (domain.ChatThread, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	return t, ok, nil
}

// ListThreadsByOwner returns threads most recently updated first.
func (m *MemoryStore) ListThreadsByOwner(accountID string, limit, offset int) ([]domain.ChatThread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ChatThread, 0)
	for _, id := range m.threadOrder {
		if t, ok := m.threads[id]; ok && t.AccountID == accountID {
			res = append(res, t)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].UpdatedAt.Equal(res[j].UpdatedAt) {
			return res[i].ID > res[j].ID
		}
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	return slicePage(res, limit, offset), nil
}

// UpdateHeading sets the caller-supplied heading and touches updated_at.
func (m *MemoryStore) UpdateHeading(threadID, heading string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return domain.ErrNotFound
	}
	t.Heading = heading
	t.UpdatedAt = time.Now().UTC()
	m.threads[threadID] = t
	return nil
}

// SetAutoHeading persists the system-derived heading.
func (m *MemoryStore) SetAutoHeading(threadID, autoHeading string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return domain.ErrNotFound
	}
	t.AutoHeading = autoHeading
	t.UpdatedAt = time.Now().UTC()
	m.threads[threadID] = t
	return nil
}

// DeleteThread removes the thread and its messages.
func (m *MemoryStore) DeleteThread(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.threads, id)
	delete(m.messages, id)
	m.threadOrder = removeID(m.threadOrder, id)
	return nil
}

// AppendMessage records a message and bumps the thread's updated_at.
func (m *MemoryStore) AppendMessage(msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[msg.ThreadID]
	if !ok {
		return domain.ErrNotFound
	}
	m.messages[msg.ThreadID] = append(m.messages[msg.ThreadID], msg)
	t.UpdatedAt = msg.CreatedAt
	m.threads[msg.ThreadID] = t
	return nil
}

// GetMessage returns a message by ID.
func (m *MemoryStore) GetMessage(id string) (domain.ChatMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if msg.ID == id {
				return msg, true, nil
			}
		}
	}
	return domain.ChatMessage{}, false, nil
}

// ListMessages returns messages in creation order, ID breaking ties.
func (m *MemoryStore) ListMessages(threadID string, limit, offset int) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[threadID]
	res := make([]domain.ChatMessage, len(msgs))
	copy(res, msgs)
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return slicePage(res, limit, offset), nil
}

// UpdateMessageMetadata replaces a message's metadata payload.
func (m *MemoryStore) UpdateMessageMetadata(id string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for threadID, msgs := range m.messages {
		for i, msg := range msgs {
			if msg.ID == id {
				msg.Metadata = metadata
				m.messages[threadID][i] = msg
				return nil
			}
		}
	}
	return domain.ErrNotFound
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func slicePage[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
