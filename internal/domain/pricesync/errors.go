package pricesync

import (
	"errors"

	"github.com/erp/pricesync/internal/domain/shared"
)

// Lookup errors
var (
	ErrJobNotFound      = shared.NewDomainError(shared.CodeNotFound, "Sync job not found")
	ErrConflictNotFound = shared.NewDomainError(shared.CodeNotFound, "Conflict not found")
	ErrRuleNotFound     = shared.NewDomainError(shared.CodeNotFound, "Pricing rule not found")
	ErrProductNotFound  = shared.NewDomainError(shared.CodeNotFound, "Product not found")
	ErrOrderNotFound    = shared.NewDomainError(shared.CodeNotFound, "Order not found")
)

// State errors
var (
	ErrJobTerminal          = shared.NewDomainError(shared.CodeInvalidState, "Sync job has already finished")
	ErrJobNotPending        = shared.NewDomainError(shared.CodeInvalidState, "Sync job is not pending")
	ErrJobNotRunning        = shared.NewDomainError(shared.CodeInvalidState, "Sync job is not running")
	ErrConflictNotPending   = shared.NewDomainError(shared.CodeInvalidState, "Conflict is no longer pending")
	ErrSyncAlreadyRunning   = shared.NewDomainError(shared.CodeConcurrencyConflict, "A sync job for this cadence is already running")
	ErrConcurrentLocalWrite = shared.NewDomainError(shared.CodeConcurrencyConflict, "Local entity was modified concurrently")
	ErrSyncDisabled         = shared.NewDomainError(shared.CodeInvalidState, "Sync is disabled for this tenant")
)

// Validation errors
var (
	ErrInvalidTenantID     = shared.NewDomainError(shared.CodeInvalidInput, "Tenant ID is required")
	ErrInvalidCadence      = shared.NewDomainError(shared.CodeInvalidInput, "Unknown sync cadence")
	ErrInvalidBasePrice    = shared.NewDomainError(shared.CodeInvalidInput, "Base price must be greater than zero")
	ErrInvalidRuleName     = shared.NewDomainError(shared.CodeInvalidInput, "Pricing rule name is required")
	ErrInvalidRuleType     = shared.NewDomainError(shared.CodeInvalidInput, "Unknown pricing rule type")
	ErrInvalidRuleAction   = shared.NewDomainError(shared.CodeInvalidInput, "Pricing rule action is invalid")
	ErrInvalidCondition    = shared.NewDomainError(shared.CodeInvalidInput, "Pricing rule condition does not compile")
	ErrInvalidStrategy     = shared.NewDomainError(shared.CodeInvalidInput, "Unknown resolution strategy")
	ErrInvalidChosenSource = shared.NewDomainError(shared.CodeInvalidInput, "Chosen source is invalid")
	ErrCustomDataRequired  = shared.NewDomainError(shared.CodeInvalidInput, "Custom resolution requires custom data")
	ErrInvalidSettings     = shared.NewDomainError(shared.CodeInvalidInput, "Sync settings are invalid")
)

// ERP client errors. These are transport-level failures; any of them fails
// the running job.
var (
	ErrErpUnauthorized = errors.New("pricesync: erp rejected credentials")
	ErrErpUnavailable  = errors.New("pricesync: erp unavailable")
	ErrErpTimeout      = errors.New("pricesync: erp request timed out")
	ErrErpRateLimited  = errors.New("pricesync: erp rate limited")
	ErrErpBadResponse  = errors.New("pricesync: erp returned an invalid response")
)
