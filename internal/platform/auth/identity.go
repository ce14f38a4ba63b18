package auth

import "context"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity 是通过鉴权的调用方。AccountID 即 JWT 的 sub，也是链接的 account_id。
type Identity struct {
	AccountID string
	Role      string
}

func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }

// CanActFor admin 可以操作任意账号，其余只能操作自己。
func (id Identity) CanActFor(accountID string) bool {
	return id.IsAdmin() || (id.AccountID != "" && id.AccountID == accountID)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
