// Package models contains GORM persistence models for the price sync tables.
// Domain entities stay free of ORM tags; each model carries FromDomain and
// ToDomain mappers and repositories only ever touch models.
//
// Structured columns (conflict states, rule actions, applied rule ids) are
// stored as JSON text in jsonb columns.
package models
