package models

// RoleID is an opaque role identifier supplied by the caller. The gate has
// no knowledge of role semantics beyond set membership.
type RoleID string

// GateUser is the caller-supplied identity used for two-factor gating.
type GateUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     RoleID `json:"role"`
}
