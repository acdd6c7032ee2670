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

const maxHeadingLen = 100

// CreateThread opens a chat thread for the caller.
func (a *App) CreateThread(callerID, heading string) (domain.ChatThread, error) {
	heading = strings.TrimSpace(heading)
	if len(heading) > maxHeadingLen {
		return domain.ChatThread{}, fmt.Errorf("%w: heading exceeds %d characters", domain.ErrValidation, maxHeadingLen)
	}
	if _, ok, err := a.store.GetAccount(callerID); err != nil {
		return domain.ChatThread{}, err
	} else if !ok {
		return domain.ChatThread{}, domain.ErrNotFound
	}
	now := time.Now().UTC()
	thread := domain.ChatThread{
		ID:        uuid.NewString(),
		AccountID: callerID,
		Heading:   heading,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateThread(thread); err != nil {
		return domain.ChatThread{}, err
	}
	return thread, nil
}

// Thread returns one of the caller's threads.
func (a *App) Thread(callerID, threadID string) (domain.ChatThread, error) {
	return a.threadForOwner(callerID, threadID)
}

// ListThreads returns the caller's threads, most recently active first.
func (a *App) ListThreads(callerID string, limit, offset int) ([]domain.ChatThread, error) {
	if _, ok, err := a.store.GetAccount(callerID); err != nil {
		return nil, err
	} else if !ok {
		return nil, domain.ErrNotFound
	}
	return a.store.ListThreadsByOwner(callerID, normalizeLimit(limit), offset)
}

// UpdateHeading sets the caller-supplied heading on a thread.
func (a *App) UpdateHeading(callerID, threadID, heading string) (domain.ChatThread, error) {
	heading = strings.TrimSpace(heading)
	if heading == "" {
		return domain.ChatThread{}, fmt.Errorf("%w: heading required", domain.ErrValidation)
	}
	if len(heading) > maxHeadingLen {
		return domain.ChatThread{}, fmt.Errorf("%w: heading exceeds %d characters", domain.ErrValidation, maxHeadingLen)
	}
	if _, err := a.threadForOwner(callerID, threadID); err != nil {
		return domain.ChatThread{}, err
	}
	if err := a.store.UpdateHeading(threadID, heading); err != nil {
		return domain.ChatThread{}, err
	}
	return a.threadForOwner(callerID, threadID)
}

// DeleteThread removes one of the caller's threads and its messages.
func (a *App) DeleteThread(callerID, threadID string) error {
	if _, err := a.threadForOwner(callerID, threadID); err != nil {
		return err
	}
	return a.store.DeleteThread(threadID)
}

// AppendMessage appends a message to one of the caller's threads and bumps
// the thread's updated_at. The first assistant message in a thread without
// a caller-supplied heading triggers auto-heading generation; the generated
// text is persisted verbatim and a generator failure never fails the append.
func (a *App) AppendMessage(ctx context.Context, callerID, threadID string, role domain.MessageRole, content string, imageURLs []string, metadata map[string]any) (domain.ChatMessage, error) {
	if !domain.ValidRole(role) {
		return domain.ChatMessage{}, fmt.Errorf("%w: unrecognized role %q", domain.ErrValidation, role)
	}
	if strings.TrimSpace(content) == "" {
		return domain.ChatMessage{}, fmt.Errorf("%w: content required", domain.ErrValidation)
	}
	thread, err := a.threadForOwner(callerID, threadID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		ImageURLs: imageURLs,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendMessage(msg); err != nil {
		return domain.ChatMessage{}, err
	}
	if role == domain.RoleAssistant && thread.Heading == "" && thread.AutoHeading == "" && a.headings != nil {
		heading, err := a.headings.Heading(ctx, content)
		if err != nil {
			slog.Warn("auto heading generation failed", "thread_id", threadID, "err", err)
		} else if heading = strings.TrimSpace(heading); heading != "" {
			if len(heading) > maxHeadingLen {
				heading = heading[:maxHeadingLen]
			}
			if err := a.store.SetAutoHeading(threadID, heading); err != nil {
				slog.Warn("persist auto heading failed", "thread_id", threadID, "err", err)
			}
		}
	}
	return msg, nil
}

// ListMessages returns a thread's messages in creation order, message ID
// breaking timestamp ties. The sequence is paginatable and restartable,
// never a live stream.
func (a *App) ListMessages(callerID, threadID string, limit, offset int) ([]domain.ChatMessage, error) {
	if _, err := a.threadForOwner(callerID, threadID); err != nil {
		return nil, err
	}
	return a.store.ListMessages(threadID, normalizeLimit(limit), offset)
}

// EnrichMessageMetadata attaches post-hoc diagnostics to a message. Content
// and ordering stay immutable; only the metadata payload is replaced.
func (a *App) EnrichMessageMetadata(callerID, messageID string, metadata map[string]any) (domain.ChatMessage, error) {
	if _, err := a.messageForOwner(callerID, messageID); err != nil {
		return domain.ChatMessage{}, err
	}
	if err := a.store.UpdateMessageMetadata(messageID, metadata); err != nil {
		return domain.ChatMessage{}, err
	}
	msg, ok, err := a.store.GetMessage(messageID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if !ok {
		return domain.ChatMessage{}, domain.ErrNotFound
	}
	return msg, nil
}
