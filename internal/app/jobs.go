package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"arivara/pkg/domain"
)

// CreateJob submits a research job for the caller and hands it to the
// report generator. The job starts pending with no credits used; credits
// are charged at completion, not here, so submission never fails on
// balance. If dispatch fails the job is marked failed so it cannot hang
// pending forever.
func (a *App) CreateJob(ctx context.Context, callerID, query, reportType string) (domain.ResearchJob, error) {
	query = strings.TrimSpace(query)
	reportType = strings.TrimSpace(reportType)
	if query == "" {
		return domain.ResearchJob{}, fmt.Errorf("%w: query required", domain.ErrValidation)
	}
	if reportType == "" {
		return domain.ResearchJob{}, fmt.Errorf("%w: report type required", domain.ErrValidation)
	}
	if _, ok, err := a.store.GetAccount(callerID); err != nil {
		return domain.ResearchJob{}, err
	} else if !ok {
		return domain.ResearchJob{}, domain.ErrNotFound
	}
	job := domain.ResearchJob{
		ID:         uuid.NewString(),
		AccountID:  callerID,
		Query:      query,
		ReportType: reportType,
		Status:     domain.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.CreateJob(job); err != nil {
		return domain.ResearchJob{}, err
	}
	if a.dispatch != nil {
		if err := a.dispatch.DispatchJob(ctx, job); err != nil {
			if _, failErr := a.store.FailJob(job.ID, "dispatch failed"); failErr != nil {
				slog.Error("mark undispatched job failed", "job_id", job.ID, "err", failErr)
			}
			return domain.ResearchJob{}, fmt.Errorf("%w: dispatch job: %v", domain.ErrStorageUnavailable, err)
		}
	}
	return job, nil
}

// Job returns one of the caller's jobs.
func (a *App) Job(callerID, jobID string) (domain.ResearchJob, error) {
	return a.jobForOwner(callerID, jobID)
}

// ListJobs returns the caller's jobs, newest first.
func (a *App) ListJobs(callerID string, limit, offset int) ([]domain.ResearchJob, error) {
	if _, ok, err := a.store.GetAccount(callerID); err != nil {
		return nil, err
	} else if !ok {
		return nil, domain.ErrNotFound
	}
	return a.store.ListJobsByOwner(callerID, normalizeLimit(limit), offset)
}

// CompleteJob finalizes a pending job with the pipeline's outcome and debits
// the owner in the same logical unit. If the account cannot cover the cost
// the transition is rolled back and the job stays pending; that trade-off
// (charge at completion, never reserve at submission) is deliberate and
// surfaced to the pipeline as ErrInsufficientCredits.
func (a *App) CompleteJob(jobID string, creditsUsed int, resultSummary string, tokenUsage map[string]any) (domain.ResearchJob, error) {
	return a.store.CompleteJob(jobID, creditsUsed, resultSummary, tokenUsage)
}

// FailJob marks a pending job failed. Failed jobs consume no credits.
func (a *App) FailJob(jobID, reason string) (domain.ResearchJob, error) {
	return a.store.FailJob(jobID, reason)
}

// AttachDocument records an output document reference against a job. The
// pipeline may attach artifacts in any job status; late arrivals after
// completion stay attributable.
func (a *App) AttachDocument(jobID, fileName, filePath string, fileType domain.FileType, fileSize int64) (domain.ResearchDocument, error) {
	fileName = strings.TrimSpace(fileName)
	filePath = strings.TrimSpace(filePath)
	if fileName == "" || filePath == "" {
		return domain.ResearchDocument{}, fmt.Errorf("%w: file name and path required", domain.ErrValidation)
	}
	if !domain.ValidFileType(fileType) {
		return domain.ResearchDocument{}, fmt.Errorf("%w: unrecognized file type %q", domain.ErrValidation, fileType)
	}
	doc := domain.ResearchDocument{
		ID:        uuid.NewString(),
		JobID:     jobID,
		FileName:  fileName,
		FilePath:  filePath,
		FileType:  fileType,
		FileSize:  fileSize,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AttachDocument(doc); err != nil {
		return domain.ResearchDocument{}, err
	}
	return doc, nil
}

// ListDocuments returns the documents attached to one of the caller's jobs.
func (a *App) ListDocuments(callerID, jobID string) ([]domain.ResearchDocument, error) {
	if _, err := a.jobForOwner(callerID, jobID); err != nil {
		return nil, err
	}
	return a.store.ListDocuments(jobID)
}

// DocumentURL returns a presigned download URL for one of the caller's
// documents. The core hands out only the reference; bytes stay in object
// storage.
func (a *App) DocumentURL(ctx context.Context, callerID, docID string) (string, error) {
	doc, err := a.documentForOwner(callerID, docID)
	if err != nil {
		return "", err
	}
	if a.objects == nil {
		return "", fmt.Errorf("%w: object storage not configured", domain.ErrStorageUnavailable)
	}
	url, err := a.objects.PresignGet(ctx, doc.FilePath, a.presignTTL)
	if err != nil {
		return "", fmt.Errorf("%w: presign document: %v", domain.ErrStorageUnavailable, err)
	}
	return url, nil
}

// DeleteDocument removes a document record and its stored object.
func (a *App) DeleteDocument(ctx context.Context, callerID, docID string) error {
	doc, err := a.documentForOwner(callerID, docID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteDocument(docID); err != nil {
		return err
	}
	if a.objects != nil {
		// best effort: the record is authoritative, a dangling object is
		// cleaned up by storage lifecycle rules
		_ = a.objects.Delete(ctx, doc.FilePath)
	}
	return nil
}
