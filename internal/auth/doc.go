// Package auth 将 Gotify 风格的客户端令牌解析为账号，并为管理 API 提供认证中间件。
package auth
