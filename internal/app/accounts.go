package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"arivara/pkg/domain"
)

// ProvisionAccount creates the account for a freshly issued identity with
// the default credit grant. It is the only account-creation path and is
// invoked from the identity provider's provisioning callback. A duplicate
// event for an existing account is a no-op returning the existing record.
func (a *App) ProvisionAccount(id, email, fullName string) (domain.Account, error) {
	id = strings.TrimSpace(id)
	email = strings.TrimSpace(strings.ToLower(email))
	if id == "" || email == "" {
		return domain.Account{}, fmt.Errorf("%w: identity id and email required", domain.ErrValidation)
	}
	now := time.Now().UTC()
	account := domain.Account{
		ID:        id,
		Email:     email,
		FullName:  strings.TrimSpace(fullName),
		Credits:   domain.DefaultCreditGrant,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := a.store.CreateAccount(account)
	if err != nil {
		return domain.Account{}, fmt.Errorf("provision account: %w", err)
	}
	if !created {
		existing, ok, err := a.store.GetAccount(id)
		if err != nil {
			return domain.Account{}, fmt.Errorf("load existing account: %w", err)
		}
		if !ok {
			return domain.Account{}, domain.ErrNotFound
		}
		return existing, nil
	}
	return account, nil
}

// Account returns the caller's own account.
func (a *App) Account(callerID, accountID string) (domain.Account, error) {
	if err := requireOwner(callerID, accountID); err != nil {
		return domain.Account{}, err
	}
	account, ok, err := a.store.GetAccount(accountID)
	if err != nil {
		return domain.Account{}, err
	}
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, nil
}

// UpdateFullName changes the caller's display name.
func (a *App) UpdateFullName(callerID, accountID, fullName string) (domain.Account, error) {
	if err := requireOwner(callerID, accountID); err != nil {
		return domain.Account{}, err
	}
	if err := a.store.UpdateFullName(accountID, strings.TrimSpace(fullName)); err != nil {
		return domain.Account{}, err
	}
	account, ok, err := a.store.GetAccount(accountID)
	if err != nil {
		return domain.Account{}, err
	}
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, nil
}

// DeleteAccount removes the account and cascades to its ledger, jobs,
// documents, threads and messages. Invoked by the owner or by the identity
// provider's deletion event; deleting an already-absent account is a no-op
// for the latter path, which treats ErrNotFound as success.
func (a *App) DeleteAccount(callerID, accountID string) error {
	if err := requireOwner(callerID, accountID); err != nil {
		return err
	}
	return a.store.DeleteAccount(accountID)
}

// RetireIdentity handles the provider's identity-deletion event. Unlike
// DeleteAccount there is no caller to check: the event is authenticated at
// the boundary and the identity itself is already gone.
func (a *App) RetireIdentity(accountID string) error {
	err := a.store.DeleteAccount(accountID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}
