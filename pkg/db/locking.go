package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockForUpdate applies a row-level write lock on dialects that support it.
// The sqlite test driver serializes writers anyway, so the clause is skipped
// there instead of failing the query.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return nil
	}
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
