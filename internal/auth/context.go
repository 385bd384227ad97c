package auth

import (
	"context"

	"Woe-Notify/pkg/plugin"
)

type userKey struct{}

// WithUser 把通过认证的账户挂到请求上下文，插件服务直接以它为调用方。
func WithUser(ctx context.Context, user plugin.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext 取出 WithUser 写入的账户；未经过认证中间件时 ok 为 false。
func UserFromContext(ctx context.Context) (plugin.User, bool) {
	user, ok := ctx.Value(userKey{}).(plugin.User)
	return user, ok
}
