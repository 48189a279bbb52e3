package models

// RoleAdmin marks identities allowed to manage products and orders.
const RoleAdmin = "admin"

// Identity is the signed-in actor as reported by the auth service.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}
