package access

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// RoleBankAdmin is the role consulted before bank configuration changes.
const RoleBankAdmin = "BANK_ADMIN"

var errNilState = errors.New("access: state not configured")

type roleState interface {
	SetRole(role string, addr common.Address) error
	RevokeRole(role string, addr common.Address) error
	HasRole(role string, addr common.Address) bool
	RoleMembers(role string) ([]common.Address, error)
}

// Roles answers authorization queries from role membership stored in state.
type Roles struct {
	state roleState
	role  string
}

func NewRoles(state roleState, role string) *Roles {
	return &Roles{state: state, role: role}
}

// IsAuthorized reports whether caller holds the configured role.
func (r *Roles) IsAuthorized(caller common.Address) bool {
	if r == nil || r.state == nil {
		return false
	}
	return r.state.HasRole(r.role, caller)
}

// Grant adds addr to the role.
func (r *Roles) Grant(addr common.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := r.state.SetRole(r.role, addr); err != nil {
		return fmt.Errorf("access: grant %s: %w", r.role, err)
	}
	return nil
}

// Revoke removes addr from the role.
func (r *Roles) Revoke(addr common.Address) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := r.state.RevokeRole(r.role, addr); err != nil {
		return fmt.Errorf("access: revoke %s: %w", r.role, err)
	}
	return nil
}

func (r *Roles) Members() ([]common.Address, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	return r.state.RoleMembers(r.role)
}
