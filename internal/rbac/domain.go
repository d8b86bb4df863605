package rbac

import "github.com/odyssey-erp/fechamento/internal/identity"

// Permission names checked by route guards.
const (
	PermClosingRecord   = "closings.record"
	PermClosingView     = "closings.view"
	PermClosingEdit     = "closings.edit"
	PermClosingOverview = "closings.overview"
	PermReceivableView  = "receivables.view"
	PermReceivableClear = "receivables.clear"
)

// Grants maps every role to its permissions.
var Grants = map[identity.Role][]string{
	identity.RoleOperator: {
		PermClosingRecord,
		PermClosingView,
		PermClosingEdit,
		PermReceivableView,
		PermReceivableClear,
	},
	identity.RoleAdmin: {
		PermClosingView,
		PermClosingOverview,
		PermReceivableView,
		PermReceivableClear,
	},
}
