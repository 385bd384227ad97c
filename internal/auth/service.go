package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"Woe-Notify/pkg/logger"
	"Woe-Notify/pkg/plugin"
)

// HeaderClientKey 是 Gotify 客户端携带令牌的请求头。
const HeaderClientKey = "X-Gotify-Key"

// Service 负责将客户端令牌解析为账号。
type Service struct {
	tokens []Token
	users  UserStore
	audit  *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(tokens []Token, users UserStore) (*Service, error) {
	if users == nil {
		return nil, errors.New("用户存储不能为空")
	}
	seen := make(map[string]struct{}, len(tokens))
	cleaned := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		t.Token = strings.TrimSpace(t.Token)
		if t.Token == "" {
			return nil, errors.New("访问令牌不能为空")
		}
		if t.UserID <= 0 {
			return nil, fmt.Errorf("令牌 %s 的用户 ID 必须为正数", mask(t.Token))
		}
		if _, dup := seen[t.Token]; dup {
			return nil, fmt.Errorf("令牌 %s 重复", mask(t.Token))
		}
		seen[t.Token] = struct{}{}
		cleaned = append(cleaned, t)
	}
	return &Service{
		tokens: cleaned,
		users:  users,
		audit:  logger.Audit(),
	}, nil
}

// Seed 将令牌表中的账号写入存储，使账号标记与配置保持一致。
func (s *Service) Seed(ctx context.Context, writer UserWriter) error {
	if s == nil || writer == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, t := range s.tokens {
		user := plugin.User{ID: t.UserID, Name: t.Name, Admin: t.Admin, Disabled: t.Disabled}
		if err := writer.EnsureUser(ctx, user); err != nil {
			return fmt.Errorf("写入种子用户 %d 失败: %w", t.UserID, err)
		}
	}
	return nil
}

// AuthenticateRequest 从请求中提取令牌并返回相应的主体信息。
func (s *Service) AuthenticateRequest(ctx context.Context, r *http.Request) (*Subject, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, ErrMissingToken
	}
	return s.Authenticate(ctx, token)
}

// Authenticate 校验令牌并从存储加载账号标记。
func (s *Service) Authenticate(ctx context.Context, token string) (*Subject, error) {
	if s == nil {
		return nil, ErrInvalidToken
	}
	entry, ok := s.lookup(token)
	if !ok {
		return nil, ErrInvalidToken
	}
	user, err := s.users.User(ctx, entry.UserID)
	if err != nil {
		if errors.Is(err, plugin.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("加载用户失败: %w", err)
	}
	if user.Disabled {
		return nil, ErrSubjectRevoked
	}
	name := user.Name
	if name == "" {
		name = entry.Name
	}
	return &Subject{ID: user.ID, Name: name, Admin: user.Admin}, nil
}

// lookup 以常量时间比较令牌，避免泄露前缀匹配信息。
func (s *Service) lookup(token string) (Token, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Token{}, false
	}
	var (
		found Token
		ok    bool
	)
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 {
			found, ok = t, true
		}
	}
	return found, ok
}

// TokenFromRequest 按 Authorization Bearer、X-Gotify-Key、token 查询参数的顺序读取令牌。
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}
	if token := strings.TrimSpace(r.Header.Get(HeaderClientKey)); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func mask(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:2] + "****" + token[len(token)-2:]
}
