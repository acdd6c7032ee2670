package store

import (
	"encoding/json"

	"gorm.io/datatypes"

	"arivara/pkg/domain"
)

// JSON column helpers. Token usage, message metadata and image lists are
// opaque pass-through payloads; they are stored and returned unchanged.

func jsonFromMap(m map[string]any) datatypes.JSON {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func mapFromJSON(j datatypes.JSON) map[string]any {
	if len(j) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(j, &m); err != nil {
		return nil
	}
	return m
}

func jsonFromStrings(values []string) datatypes.JSON {
	if len(values) == 0 {
		return nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func stringsFromJSON(j datatypes.JSON) []string {
	if len(j) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(j, &values); err != nil {
		return nil
	}
	return values
}

func accountToModel(a domain.Account) AccountModel {
	return AccountModel{
		ID:        a.ID,
		Email:     a.Email,
		FullName:  a.FullName,
		Credits:   a.Credits,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func accountFromModel(m AccountModel) domain.Account {
	return domain.Account{
		ID:        m.ID,
		Email:     m.Email,
		FullName:  m.FullName,
		Credits:   m.Credits,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func transactionToModel(t domain.CreditTransaction) CreditTransactionModel {
	return CreditTransactionModel{
		ID:           t.ID,
		AccountID:    t.AccountID,
		Amount:       t.Amount,
		Kind:         string(t.Kind),
		Description:  t.Description,
		BalanceAfter: t.BalanceAfter,
		CreatedAt:    t.CreatedAt,
	}
}

func transactionFromModel(m CreditTransactionModel) domain.CreditTransaction {
	return domain.CreditTransaction{
		ID:           m.ID,
		AccountID:    m.AccountID,
		Amount:       m.Amount,
		Kind:         domain.TransactionKind(m.Kind),
		Description:  m.Description,
		BalanceAfter: m.BalanceAfter,
		CreatedAt:    m.CreatedAt,
	}
}

func jobToModel(j domain.ResearchJob) ResearchJobModel {
	return ResearchJobModel{
		ID:            j.ID,
		AccountID:     j.AccountID,
		Query:         j.Query,
		ReportType:    j.ReportType,
		CreditsUsed:   j.CreditsUsed,
		Status:        string(j.Status),
		ResultSummary: j.ResultSummary,
		TokenUsage:    jsonFromMap(j.TokenUsage),
		CreatedAt:     j.CreatedAt,
		CompletedAt:   j.CompletedAt,
	}
}

func jobFromModel(m ResearchJobModel) domain.ResearchJob {
	return domain.ResearchJob{
		ID:            m.ID,
		AccountID:     m.AccountID,
		Query:         m.Query,
		ReportType:    m.ReportType,
		CreditsUsed:   m.CreditsUsed,
		Status:        domain.JobStatus(m.Status),
		ResultSummary: m.ResultSummary,
		TokenUsage:    mapFromJSON(m.TokenUsage),
		CreatedAt:     m.CreatedAt,
		CompletedAt:   m.CompletedAt,
	}
}

func documentToModel(d domain.ResearchDocument) ResearchDocumentModel {
	return ResearchDocumentModel{
		ID:        d.ID,
		JobID:     d.JobID,
		FileName:  d.FileName,
		FilePath:  d.FilePath,
		FileType:  string(d.FileType),
		FileSize:  d.FileSize,
		CreatedAt: d.CreatedAt,
	}
}

func documentFromModel(m ResearchDocumentModel) domain.ResearchDocument {
	return domain.ResearchDocument{
		ID:        m.ID,
		JobID:     m.JobID,
		FileName:  m.FileName,
		FilePath:  m.FilePath,
		FileType:  domain.FileType(m.FileType),
		FileSize:  m.FileSize,
		CreatedAt: m.CreatedAt,
	}
}

func threadToModel(t domain.ChatThread) ChatThreadModel {
	return ChatThreadModel{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Heading:     t.Heading,
		AutoHeading: t.AutoHeading,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func threadFromModel(m ChatThreadModel) domain.ChatThread {
	return domain.ChatThread{
		ID:          m.ID,
		AccountID:   m.AccountID,
		Heading:     m.Heading,
		AutoHeading: m.AutoHeading,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func messageToModel(msg domain.ChatMessage) ChatMessageModel {
	return ChatMessageModel{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		ImageURLs: jsonFromStrings(msg.ImageURLs),
		Metadata:  jsonFromMap(msg.Metadata),
		CreatedAt: msg.CreatedAt,
	}
}

func messageFromModel(m ChatMessageModel) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Role:      domain.MessageRole(m.Role),
		Content:   m.Content,
		ImageURLs: stringsFromJSON(m.ImageURLs),
		Metadata:  mapFromJSON(m.Metadata),
		CreatedAt: m.CreatedAt,
	}
}
