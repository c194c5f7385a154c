// Package dbctx bundles a request-scoped context with an optional open
// transaction so repository methods can participate in a caller's
// transaction without threading *gorm.DB separately.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func Background() Context {
	return Context{Ctx: context.Background()}
}
