// Package dbctx bundles a request context with an optional in-flight
// GORM transaction, so repository methods can either join a caller's
// transaction or fall back to the base *gorm.DB.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func (c Context) Resolve(base *gorm.DB) *gorm.DB {
	if c.Tx != nil {
		return c.Tx
	}
	return base
}
