package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type AccountModel struct {
	ID        string `gorm:"primaryKey"`
	Email     string `gorm:"not null"`
	FullName  string
	Credits   int       `gorm:"not null;default:100"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (AccountModel) TableName() string { return "accounts" }

type CreditTransactionModel struct {
	ID           string    `gorm:"primaryKey"`
	AccountID    string    `gorm:"not null;index"`
	Amount       int       `gorm:"not null"`
	Kind         string    `gorm:"not null"`
	Description  string
	BalanceAfter int       `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

func (CreditTransactionModel) TableName() string { return "credit_transactions" }

type ResearchJobModel struct {
	ID            string `gorm:"primaryKey"`
	AccountID     string `gorm:"not null;index"`
	Query         string `gorm:"type:text;not null"`
	ReportType    string `gorm:"not null"`
	CreditsUsed   int    `gorm:"not null;default:0"`
	Status        string `gorm:"not null;index"`
	ResultSummary string `gorm:"type:text"`
	TokenUsage    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"not null;index"`
	CompletedAt   *time.Time
}

func (ResearchJobModel) TableName() string { return "research_jobs" }

type ResearchDocumentModel struct {
	ID        string `gorm:"primaryKey"`
	JobID     string `gorm:"not null;index"`
	FileName  string `gorm:"not null"`
	FilePath  string `gorm:"not null"`
	FileType  string `gorm:"not null"`
	FileSize  int64
	CreatedAt time.Time `gorm:"not null"`
}

func (ResearchDocumentModel) TableName() string { return "research_documents" }

type ChatThreadModel struct {
	ID          string `gorm:"primaryKey"`
	AccountID   string `gorm:"not null;index"`
	Heading     string
	AutoHeading string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null;index"`
}

func (ChatThreadModel) TableName() string { return "chat_threads" }

type ChatMessageModel struct {
	ID        string         `gorm:"primaryKey"`
	ThreadID  string         `gorm:"not null;index"`
	Role      string         `gorm:"not null"`
	Content   string         `gorm:"type:text;not null"`
	ImageURLs datatypes.JSON `gorm:"type:jsonb"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
}

func (ChatMessageModel) TableName() string { return "chat_messages" }
