package domain

import "strings"

type Role string

const (
	RoleAdmin      Role = "ADMINISTRADOR"
	RolePharmacist Role = "FARMACEUTICO"
	RoleCashier    Role = "CAJERO"
)

type Permission int

const (
	PermOperateRegister Permission = iota
	PermViewStockAlerts
	PermManageSettings
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin:      {PermOperateRegister, PermViewStockAlerts, PermManageSettings},
	RolePharmacist: {PermOperateRegister, PermViewStockAlerts},
	RoleCashier:    {PermOperateRegister},
}

// Allows reports whether the role grants p.
func (r Role) Allows(p Permission) bool {
	for _, granted := range rolePermissions[r] {
		if granted == p {
			return true
		}
	}
	return false
}

type User struct {
	ID           string
	Username     string
	Email        string
	FullName     string
	Role         Role
	Active       bool
	PasswordHash string
}

// FirstName is what the receipt prints for the cashier.
func (u User) FirstName() string {
	fields := strings.Fields(u.FullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
