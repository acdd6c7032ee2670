package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"arivara/pkg/domain"
)

// balanceRetries bounds the optimistic read-compute-commit cycle on an
// account balance before giving up with ErrConcurrencyConflict.
const balanceRetries = 3

// errBalanceChanged signals that the balance moved between read and commit
// and the cycle should be retried.
var errBalanceChanged = errors.New("balance changed")

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&AccountModel{},
		&CreditTransactionModel{},
		&ResearchJobModel{},
		&ResearchDocumentModel{},
		&ChatThreadModel{},
		&ChatMessageModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

// CreateAccount inserts the account unless one with the same ID already
// exists. Returns false when the account was already present.
func (s *GormStore) CreateAccount(a domain.Account) (bool, error) {
	model := accountToModel(a)
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return false, storageErr("create account", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetAccount returns an account by ID.
func (s *GormStore) GetAccount(id string) (domain.Account, bool, error) {
	var model AccountModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, false, nil
		}
		return domain.Account{}, false, storageErr("load account", err)
	}
	return accountFromModel(model), true, nil
}

// UpdateFullName changes the display name and refreshes updated_at.
func (s *GormStore) UpdateFullName(id, fullName string) error {
	res := s.db.Model(&AccountModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"full_name":  fullName,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return storageErr("update full name", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteAccount removes the account and everything it owns: ledger entries,
// jobs with their documents, threads with their messages. The platform's
// foreign-key cascades are replaced by this explicit routine.
func (s *GormStore) DeleteAccount(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		threadIDs := tx.Model(&ChatThreadModel{}).Select("id").Where("account_id = ?", id)
		if err := tx.Where("thread_id IN (?)", threadIDs).Delete(&ChatMessageModel{}).Error; err != nil {
			return storageErr("delete messages", err)
		}
		if err := tx.Delete(&ChatThreadModel{}, "account_id = ?", id).Error; err != nil {
			return storageErr("delete threads", err)
		}
		jobIDs := tx.Model(&ResearchJobModel{}).Select("id").Where("account_id = ?", id)
		if err := tx.Where("job_id IN (?)", jobIDs).Delete(&ResearchDocumentModel{}).Error; err != nil {
			return storageErr("delete documents", err)
		}
		if err := tx.Delete(&ResearchJobModel{}, "account_id = ?", id).Error; err != nil {
			return storageErr("delete jobs", err)
		}
		if err := tx.Delete(&CreditTransactionModel{}, "account_id = ?", id).Error; err != nil {
			return storageErr("delete transactions", err)
		}
		res := tx.Delete(&AccountModel{}, "id = ?", id)
		if res.Error != nil {
			return storageErr("delete account", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// ApplyTransaction updates the balance and appends the ledger entry in one
// atomic unit, retrying the optimistic balance check a bounded number of
// times before failing with ErrConcurrencyConflict.
func (s *GormStore) ApplyTransaction(accountID string, amount int, kind domain.TransactionKind, description string) (domain.CreditTransaction, error) {
	var out domain.CreditTransaction
	for attempt := 0; attempt < balanceRetries; attempt++ {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			entry, err := applyTransactionTx(tx, accountID, amount, kind, description)
			if err != nil {
				return err
			}
			out = entry
			return nil
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, errBalanceChanged) {
			continue
		}
		return domain.CreditTransaction{}, err
	}
	return domain.CreditTransaction{}, domain.ErrConcurrencyConflict
}

// applyTransactionTx runs one read-compute-commit cycle inside tx. It
// commits only if the balance is unchanged since the read; otherwise it
// returns errBalanceChanged so the caller can retry the whole cycle.
func applyTransactionTx(tx *gorm.DB, accountID string, amount int, kind domain.TransactionKind, description string) (domain.CreditTransaction, error) {
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
	var acc AccountModel
	if err := tx.First(&acc, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CreditTransaction{}, domain.ErrNotFound
		}
		return domain.CreditTransaction{}, storageErr("load account", err)
	}
	newBalance := acc.Credits + delta
	if newBalance < 0 {
		return domain.CreditTransaction{}, domain.ErrInsufficientCredits
	}
	now := time.Now().UTC()
	res := tx.Model(&AccountModel{}).
		Where("id = ? AND credits = ?", accountID, acc.Credits).
		Updates(map[string]any{
			"credits":    newBalance,
			"updated_at": now,
		})
	if res.Error != nil {
		return domain.CreditTransaction{}, storageErr("update balance", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.CreditTransaction{}, errBalanceChanged
	}
	entry := domain.CreditTransaction{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Amount:       amount,
		Kind:         kind,
		Description:  description,
		BalanceAfter: newBalance,
		CreatedAt:    now,
	}
	model := transactionToModel(entry)
	if err := tx.Create(&model).Error; err != nil {
		return domain.CreditTransaction{}, storageErr("append ledger entry", err)
	}
	return entry, nil
}

// ListTransactions returns ledger entries newest first.
func (s *GormStore) ListTransactions(accountID string, limit, offset int) ([]domain.CreditTransaction, error) {
	var models []CreditTransactionModel
	tx := s.db.Where("account_id = ?", accountID).Order("created_at DESC, id DESC")
	tx = paginate(tx, limit, offset)
	if err := tx.Find(&models).Error; err != nil {
		return nil, storageErr("list transactions", err)
	}
	res := make([]domain.CreditTransaction, 0, len(models))
	for _, m := range models {
		res = append(res, transactionFromModel(m))
	}
	return res, nil
}

// CreateJob inserts a new job record.
func (s *GormStore) CreateJob(j domain.ResearchJob) error {
	model := jobToModel(j)
	if err := s.db.Create(&model).Error; err != nil {
		return storageErr("create job", err)
	}
	return nil
}

// GetJob returns a job by ID.
func (s *GormStore) GetJob(id string) (domain.ResearchJob, bool, error) {
	var model ResearchJobModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ResearchJob{}, false, nil
		}
		return domain.ResearchJob{}, false, storageErr("load job", err)
	}
	return jobFromModel(model), true, nil
}

// ListJobsByOwner returns jobs newest first.
func (s *GormStore) ListJobsByOwner(accountID string, limit, offset int) ([]domain.ResearchJob, error) {
	var models []ResearchJobModel
	tx := s.db.Where("account_id = ?", accountID).Order("created_at DESC, id DESC")
	tx = paginate(tx, limit, offset)
	if err := tx.Find(&models).Error; err != nil {
		return nil, storageErr("list jobs", err)
	}
	res := make([]domain.ResearchJob, 0, len(models))
	for _, m := range models {
		res = append(res, jobFromModel(m))
	}
	return res, nil
}

// CompleteJob transitions pending->completed and debits the owning account
// in the same transaction. An insufficient balance rolls the transition
// back, leaving the job pending. Credits are charged at completion, not at
// submission, so a job can stall in pending on an exhausted account.
func (s *GormStore) CompleteJob(id string, creditsUsed int, resultSummary string, tokenUsage map[string]any) (domain.ResearchJob, error) {
	if creditsUsed < 0 {
		return domain.ResearchJob{}, fmt.Errorf("%w: creditsUsed must not be negative", domain.ErrValidation)
	}
	var out domain.ResearchJob
	for attempt := 0; attempt < balanceRetries; attempt++ {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			var job ResearchJobModel
			if err := tx.First(&job, "id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrNotFound
				}
				return storageErr("load job", err)
			}
			if domain.JobStatus(job.Status) != domain.StatusPending {
				return domain.ErrInvalidStateTransition
			}
			now := time.Now().UTC()
			res := tx.Model(&ResearchJobModel{}).
				Where("id = ? AND status = ?", id, string(domain.StatusPending)).
				Updates(map[string]any{
					"status":         string(domain.StatusCompleted),
					"credits_used":   creditsUsed,
					"result_summary": resultSummary,
					"token_usage":    jsonFromMap(tokenUsage),
					"completed_at":   now,
				})
			if res.Error != nil {
				return storageErr("complete job", res.Error)
			}
			if res.RowsAffected == 0 {
				// lost the race to another terminal transition
				return domain.ErrInvalidStateTransition
			}
			if creditsUsed > 0 {
				if _, err := applyTransactionTx(tx, job.AccountID, creditsUsed, domain.KindDebit, debitDescription(job.Query)); err != nil {
					return err
				}
			}
			job.Status = string(domain.StatusCompleted)
			job.CreditsUsed = creditsUsed
			job.ResultSummary = resultSummary
			job.TokenUsage = jsonFromMap(tokenUsage)
			job.CompletedAt = &now
			out = jobFromModel(job)
			return nil
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, errBalanceChanged) {
			continue
		}
		return domain.ResearchJob{}, err
	}
	return domain.ResearchJob{}, domain.ErrConcurrencyConflict
}

// FailJob transitions pending->failed. Failed jobs consume no credits.
func (s *GormStore) FailJob(id, reason string) (domain.ResearchJob, error) {
	var out domain.ResearchJob
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var job ResearchJobModel
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return storageErr("load job", err)
		}
		if domain.JobStatus(job.Status) != domain.StatusPending {
			return domain.ErrInvalidStateTransition
		}
		now := time.Now().UTC()
		res := tx.Model(&ResearchJobModel{}).
			Where("id = ? AND status = ?", id, string(domain.StatusPending)).
			Updates(map[string]any{
				"status":         string(domain.StatusFailed),
				"result_summary": reason,
				"completed_at":   now,
			})
		if res.Error != nil {
			return storageErr("fail job", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrInvalidStateTransition
		}
		job.Status = string(domain.StatusFailed)
		job.ResultSummary = reason
		job.CompletedAt = &now
		out = jobFromModel(job)
		return nil
	})
	if err != nil {
		return domain.ResearchJob{}, err
	}
	return out, nil
}

// AttachDocument records a document reference for a job. Legal in any job
// status; late artifacts stay attributable after completion.
func (s *GormStore) AttachDocument(d domain.ResearchDocument) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ResearchJobModel{}).Where("id = ?", d.JobID).Count(&count).Error; err != nil {
			return storageErr("check job", err)
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		model := documentToModel(d)
		if err := tx.Create(&model).Error; err != nil {
			return storageErr("attach document", err)
		}
		return nil
	})
}

// GetDocument returns a document by ID.
func (s *GormStore) GetDocument(id string) (domain.ResearchDocument, bool, error) {
	var model ResearchDocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ResearchDocument{}, false, nil
		}
		return domain.ResearchDocument{}, false, storageErr("load document", err)
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns a job's documents oldest first.
func (s *GormStore) ListDocuments(jobID string) ([]domain.ResearchDocument, error) {
	var models []ResearchDocumentModel
	if err := s.db.Where("job_id = ?", jobID).Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, storageErr("list documents", err)
	}
	res := make([]domain.ResearchDocument, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// DeleteDocument removes a document record.
func (s *GormStore) DeleteDocument(id string) error {
	res := s.db.Delete(&ResearchDocumentModel{}, "id = ?", id)
	if res.Error != nil {
		return storageErr("delete document", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateThread inserts a new thread.
func (s *GormStore) CreateThread(t domain.ChatThread) error {
	model := threadToModel(t)
	if err := s.db.Create(&model).Error; err != nil {
		return storageErr("create thread", err)
	}
	return nil
}

// GetThread returns a thread by ID.
func (s *GormStore) GetThread(id string) (domain.ChatThread, bool, error) {
	var model ChatThreadModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ChatThread{}, false, nil
		}
		return domain.ChatThread{}, false, storageErr("load thread", err)
	}
	return threadFromModel(model), true, nil
}

// ListThreadsByOwner returns threads most recently updated first.
func (s *GormStore) ListThreadsByOwner(accountID string, limit, offset int) ([]domain.ChatThread, error) {
	var models []ChatThreadModel
	tx := s.db.Where("account_id = ?", accountID).Order("updated_at DESC, id DESC")
	tx = paginate(tx, limit, offset)
	if err := tx.Find(&models).Error; err != nil {
		return nil, storageErr("list threads", err)
	}
	res := make([]domain.ChatThread, 0, len(models))
	for _, m := range models {
		res = append(res, threadFromModel(m))
	}
	return res, nil
}

// UpdateHeading sets the caller-supplied heading and touches updated_at.
func (s *GormStore) UpdateHeading(threadID, heading string) error {
	return s.updateThread(threadID, map[string]any{"heading": heading})
}

// SetAutoHeading persists the system-derived heading.
func (s *GormStore) SetAutoHeading(threadID, autoHeading string) error {
	return s.updateThread(threadID, map[string]any{"auto_heading": autoHeading})
}

func (s *GormStore) updateThread(threadID string, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := s.db.Model(&ChatThreadModel{}).Where("id = ?", threadID).Updates(updates)
	if res.Error != nil {
		return storageErr("update thread", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteThread removes the thread and its messages.
func (s *GormStore) DeleteThread(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChatMessageModel{}, "thread_id = ?", id).Error; err != nil {
			return storageErr("delete messages", err)
		}
		res := tx.Delete(&ChatThreadModel{}, "id = ?", id)
		if res.Error != nil {
			return storageErr("delete thread", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// AppendMessage records a message and bumps the thread's updated_at in the
// same transaction. The parent thread is re-validated here so a concurrent
// thread deletion cannot orphan the message.
func (s *GormStore) AppendMessage(m domain.ChatMessage) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ChatThreadModel{}).Where("id = ?", m.ThreadID).Count(&count).Error; err != nil {
			return storageErr("check thread", err)
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		model := messageToModel(m)
		if err := tx.Create(&model).Error; err != nil {
			return storageErr("append message", err)
		}
		if err := tx.Model(&ChatThreadModel{}).
			Where("id = ?", m.ThreadID).
			Update("updated_at", m.CreatedAt).Error; err != nil {
			return storageErr("touch thread", err)
		}
		return nil
	})
}

// GetMessage returns a message by ID.
func (s *GormStore) GetMessage(id string) (domain.ChatMessage, bool, error) {
	var model ChatMessageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ChatMessage{}, false, nil
		}
		return domain.ChatMessage{}, false, storageErr("load message", err)
	}
	return messageFromModel(model), true, nil
}

// ListMessages returns messages in creation order, message ID breaking
// timestamp ties.
func (s *GormStore) ListMessages(threadID string, limit, offset int) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	tx := s.db.Where("thread_id = ?", threadID).Order("created_at ASC, id ASC")
	tx = paginate(tx, limit, offset)
	if err := tx.Find(&models).Error; err != nil {
		return nil, storageErr("list messages", err)
	}
	res := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// UpdateMessageMetadata replaces a message's metadata payload.
func (s *GormStore) UpdateMessageMetadata(id string, metadata map[string]any) error {
	res := s.db.Model(&ChatMessageModel{}).Where("id = ?", id).Update("metadata", jsonFromMap(metadata))
	if res.Error != nil {
		return storageErr("update message metadata", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func paginate(tx *gorm.DB, limit, offset int) *gorm.DB {
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	return tx
}

func debitDescription(query string) string {
	const max = 50
	if len(query) > max {
		query = query[:max]
	}
	return "research: " + query
}
