package domain

import "time"

type TransactionKind string

const (
	KindDebit  TransactionKind = "debit"
	KindCredit TransactionKind = "credit"
)

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type FileType string

const (
	FilePDF      FileType = "pdf"
	FileDOCX     FileType = "docx"
	FileMarkdown FileType = "markdown"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// DefaultCreditGrant is the starting balance for a freshly provisioned account.
const DefaultCreditGrant = 100

type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName,omitempty"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreditTransaction is an append-only ledger entry. BalanceAfter records the
// account balance immediately after the entry was applied.
type CreditTransaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	Amount       int             `json:"amount"`
	Kind         TransactionKind `json:"kind"`
	Description  string          `json:"description,omitempty"`
	BalanceAfter int             `json:"balanceAfter"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type ResearchJob struct {
	ID            string         `json:"id"`
	AccountID     string         `json:"accountId"`
	Query         string         `json:"query"`
	ReportType    string         `json:"reportType"`
	CreditsUsed   int            `json:"creditsUsed"`
	Status        JobStatus      `json:"status"`
	ResultSummary string         `json:"resultSummary,omitempty"`
	TokenUsage    map[string]any `json:"tokenUsage,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

// ResearchDocument points at an artifact in external object storage.
// FilePath is an opaque storage key; bytes are never read here.
type ResearchDocument struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	FileName  string    `json:"fileName"`
	FilePath  string    `json:"filePath"`
	FileType  FileType  `json:"fileType"`
	FileSize  int64     `json:"fileSize,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChatThread struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"accountId"`
	Heading     string    `json:"heading,omitempty"`
	AutoHeading string    `json:"autoHeading,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ChatMessage is immutable after creation except for metadata enrichment.
// Display order is creation order, message ID breaking timestamp ties.
type ChatMessage struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"threadId"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	ImageURLs []string       `json:"imageUrls,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ValidFileType reports whether t is one of the recognized document kinds.
func ValidFileType(t FileType) bool {
	switch t {
	case FilePDF, FileDOCX, FileMarkdown:
		return true
	}
	return false
}

// ValidRole reports whether r is a recognized message role.
func ValidRole(r MessageRole) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
