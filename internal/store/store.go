package store

import "arivara/pkg/domain"

// Store defines persistence operations for accounts, the credit ledger,
// research jobs with their documents, and chat threads with their messages.
//
// Operations that touch more than one row (ledger application, job
// completion, message append, cascading deletes) are atomic: a partial
// write is never observable by a subsequent read.
type Store interface {
	// accounts
	CreateAccount(a domain.Account) (bool, error)
	GetAccount(id string) (domain.Account, bool, error)
	UpdateFullName(id, fullName string) error
	DeleteAccount(id string) error

	// credit ledger
	ApplyTransaction(accountID string, amount int, kind domain.TransactionKind, description string) (domain.CreditTransaction, error)
	ListTransactions(accountID string, limit, offset int) ([]domain.CreditTransaction, error)

	// research jobs
	CreateJob(j domain.ResearchJob) error
	GetJob(id string) (domain.ResearchJob, bool, error)
	ListJobsByOwner(accountID string, limit, offset int) ([]domain.ResearchJob, error)
	CompleteJob(id string, creditsUsed int, resultSummary string, tokenUsage map[string]any) (domain.ResearchJob, error)
	FailJob(id, reason string) (domain.ResearchJob, error)

	// research documents
	AttachDocument(d domain.ResearchDocument) error
	GetDocument(id string) (domain.ResearchDocument, bool, error)
	ListDocuments(jobID string) ([]domain.ResearchDocument, error)
	DeleteDocument(id string) error

	// chat threads
	CreateThread(t domain.ChatThread) error
	GetThread(id string) (domain.ChatThread, bool, error)
	ListThreadsByOwner(accountID string, limit, offset int) ([]domain.ChatThread, error)
	UpdateHeading(threadID, heading string) error
	SetAutoHeading(threadID, autoHeading string) error
	DeleteThread(id string) error

	// chat messages
	AppendMessage(m domain.ChatMessage) error
	GetMessage(id string) (domain.ChatMessage, bool, error)
	ListMessages(threadID string, limit, offset int) ([]domain.ChatMessage, error)
	UpdateMessageMetadata(id string, metadata map[string]any) error
}
