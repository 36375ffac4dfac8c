// Package dbctx bundles a request context with an optional GORM
// transaction handle, so repository methods take an explicit transaction
// scope instead of an implicit ORM session-per-request.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries the caller's context.Context plus, when one is already
// open, the transaction it should participate in. Repos fall back to the
// base *gorm.DB when Tx is nil.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func New(ctx context.Context) Context {
	return Context{Ctx: ctx}
}

func (c Context) WithTx(tx *gorm.DB) Context {
	return Context{Ctx: c.Ctx, Tx: tx}
}

// Resolve returns c.Tx if set, otherwise db, always bound to c.Ctx.
func (c Context) Resolve(db *gorm.DB) *gorm.DB {
	if c.Tx != nil {
		return c.Tx.WithContext(c.Ctx)
	}
	return db.WithContext(c.Ctx)
}
