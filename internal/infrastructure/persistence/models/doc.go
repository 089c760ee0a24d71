// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// The payment engine persists its aggregates directly (they carry their own GORM tags),
// so this package only holds models for infrastructure-owned tables such as the
// transactional outbox.
package models
