package app

import (
	"arivara/pkg/domain"
)

// Access guard. Every operation resolves the target's owning account by
// following at most one level of indirection and compares it against the
// caller before touching anything. Decisions are never cached: an owning
// entity can be deleted between requests, so each call re-resolves the
// chain against live state.

func requireOwner(callerID, ownerID string) error {
	if callerID == "" || callerID != ownerID {
		return domain.ErrForbidden
	}
	return nil
}

// jobForOwner resolves a job and verifies the caller owns it.
func (a *App) jobForOwner(callerID, jobID string) (domain.ResearchJob, error) {
	job, ok, err := a.store.GetJob(jobID)
	if err != nil {
		return domain.ResearchJob{}, err
	}
	if !ok {
		return domain.ResearchJob{}, domain.ErrNotFound
	}
	if err := requireOwner(callerID, job.AccountID); err != nil {
		return domain.ResearchJob{}, err
	}
	return job, nil
}

// documentForOwner resolves a document through its job to the owning account.
func (a *App) documentForOwner(callerID, docID string) (domain.ResearchDocument, error) {
	doc, ok, err := a.store.GetDocument(docID)
	if err != nil {
		return domain.ResearchDocument{}, err
	}
	if !ok {
		return domain.ResearchDocument{}, domain.ErrNotFound
	}
	if _, err := a.jobForOwner(callerID, doc.JobID); err != nil {
		return domain.ResearchDocument{}, err
	}
	return doc, nil
}

// threadForOwner resolves a thread and verifies the caller owns it.
func (a *App) threadForOwner(callerID, threadID string) (domain.ChatThread, error) {
	thread, ok, err := a.store.GetThread(threadID)
	if err != nil {
		return domain.ChatThread{}, err
	}
	if !ok {
		return domain.ChatThread{}, domain.ErrNotFound
	}
	if err := requireOwner(callerID, thread.AccountID); err != nil {
		return domain.ChatThread{}, err
	}
	return thread, nil
}

// messageForOwner resolves a message through its thread to the owning account.
func (a *App) messageForOwner(callerID, messageID string) (domain.ChatMessage, error) {
	msg, ok, err := a.store.GetMessage(messageID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if !ok {
		return domain.ChatMessage{}, domain.ErrNotFound
	}
	if _, err := a.threadForOwner(callerID, msg.ThreadID); err != nil {
		return domain.ChatMessage{}, err
	}
	return msg, nil
}
