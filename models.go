package walletauth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleGuest is a guest role (ie. view)
	RoleGuest UserRole = "guest"
	// RoleMember is a member (i.e. view, edit). Wallet-provisioned accounts
	// default to this role.
	RoleMember UserRole = "member"
	// RoleAdmin is an admin role (i.e. view, edit, create)
	RoleAdmin UserRole = "admin"
)

// WalletIdentifierDomain is the synthetic domain appended to a wallet
// address to form the deterministic identity-store identifier.
const WalletIdentifierDomain = "wallet.local"

// WalletIdentifier derives the deterministic synthetic identifier for a
// wallet address, e.g. 0xabc...@wallet.local. Addresses are lowercased so
// mixed-case submissions resolve to the same record.
func WalletIdentifier(address string) string {
	return strings.ToLower(strings.TrimSpace(address)) + "@" + WalletIdentifierDomain
}

// User is the identity store record
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role           UserRole       `bun:"user_role,notnull" json:"user_role,omitempty"`
	Username       string         `bun:"username,notnull,unique" json:"username,omitempty"`
	Email          string         `bun:"email,notnull,unique" json:"email,omitempty"`
	WalletAddress  string         `bun:"wallet_address,nullzero,unique" json:"wallet_address,omitempty"`
	PasswordHash   string         `bun:"password_hash" json:"-"`
	EmailValidated bool           `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	LastSeenAt     *time.Time     `bun:"last_seen_at,nullzero" json:"last_seen_at,omitempty"`
	Metadata       map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt      *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// AddMetadata will append information to a metadata attribute
func (u *User) AddMetadata(key string, val any) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[key] = val
	return u
}

// IsWalletUser reports whether the record was provisioned through the
// wallet challenge flow.
func (u *User) IsWalletUser() bool {
	return u != nil && u.WalletAddress != ""
}
