// Package rbac decides who may act on reports, comments and user records.
package rbac

import "errors"

type Action string

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionDelete  Action = "delete"
	ActionInsight Action = "insight"
)

// ErrForbidden is returned by Authorize when the actor may not perform the action.
var ErrForbidden = errors.New("forbidden")

// Can reports whether actor may perform action on a resource owned by owner.
// Reading and commenting are open to any authenticated user; everything else
// is reserved for the owner.
func Can(actor, owner int64, action Action) bool {
	if actor <= 0 {
		return false
	}
	switch action {
	case ActionRead, ActionComment:
		return true
	case ActionWrite, ActionDelete, ActionInsight:
		return actor == owner
	default:
		return false
	}
}

func Authorize(actor, owner int64, action Action) error {
	if !Can(actor, owner, action) {
		return ErrForbidden
	}
	return nil
}

// CanViewUser restricts user records to their own account.
func CanViewUser(actor, subject int64) bool {
	return actor > 0 && actor == subject
}
