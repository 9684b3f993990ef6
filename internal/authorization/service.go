package authorization

import (
	"context"
	"errors"
)

const (
	ObjectReconciliation = "reconciliation"

	ActionReconciliationRun  = "reconciliation.run"
	ActionReconciliationView = "reconciliation.view"
)

const (
	RoleAdmin  = "role:admin"
	RoleFinOps = "role:finops"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidActor   = errors.New("invalid_actor")
	ErrInvalidObject  = errors.New("invalid_object")
	ErrInvalidAction  = errors.New("invalid_action")
	ErrInvalidKeyRing = errors.New("invalid_admin_api_keys")
)

// Principal is an authenticated admin caller.
type Principal struct {
	Subject string
	Role    string
}

type Service interface {
	Authorize(ctx context.Context, principal Principal, object string, action string) error
}
