// Package domain holds small shared domain types used across components.
package domain

// Role enumerates the kinds of principals the marketplace knows about. Code
// shape and session scope are role-dependent, so the role travels with the
// one-time code record and the session credential.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleVendor Role = "vendor"
	RoleCEO    Role = "ceo"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleVendor, RoleCEO:
		return true
	}
	return false
}

// DeliveryChannel names the outbound channel a one-time code is sent over.
// The dispatcher owns the actual transport; components only record it.
type DeliveryChannel string

const (
	ChannelSMS   DeliveryChannel = "sms"
	ChannelEmail DeliveryChannel = "email"
	ChannelPush  DeliveryChannel = "push"
)
