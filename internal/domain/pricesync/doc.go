// Package pricesync contains the price synchronization bounded context.
// It keeps the merchant's ERP (system of record for price and stock) and the
// local catalog converged.
//
// Key concepts:
//   - SyncJob: one run of a cadence (realtime, incremental, bulk) for a tenant
//   - PricingRule: tenant-scoped transform applied to incoming ERP prices
//   - Classify: decides whether a proposed price is applied, ignored or rejected
//   - Conflict: a recorded disagreement between local and ERP state
//   - ResolutionStrategy: a named policy that picks the winning value
//
// Everything in this package is pure. Persistence, ERP access and
// scheduling live in the application and infrastructure layers.
package pricesync
