package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Service 校验 serve 模式下 API 请求携带的静态令牌。
type Service struct {
	mode   Mode
	tokens []credential
}

type credential struct {
	digest  [sha256.Size]byte
	subject Subject
}

// NewService 根据配置创建认证服务。令牌明文只在构造时读取，内存中仅保留摘要。
func NewService(cfg Config) (*Service, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDisabled
	}
	s := &Service{mode: mode}
	switch mode {
	case ModeDisabled:
		return s, nil
	case ModeToken:
	default:
		return nil, fmt.Errorf("未知的认证模式: %s", mode)
	}

	seen := make(map[string]struct{}, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		name := strings.TrimSpace(tok.Name)
		if name == "" {
			return nil, errors.New("令牌缺少名称")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("令牌名称重复: %s", name)
		}
		seen[name] = struct{}{}

		secret := strings.TrimSpace(tok.Secret)
		if secret == "" && tok.SecretEnv != "" {
			secret = strings.TrimSpace(os.Getenv(tok.SecretEnv))
		}
		if secret == "" {
			return nil, fmt.Errorf("令牌 %s 未配置密钥", name)
		}
		s.tokens = append(s.tokens, credential{
			digest: sha256.Sum256([]byte(secret)),
			subject: Subject{
				Name:        name,
				Permissions: append([]string(nil), tok.Permissions...),
				Disabled:    tok.Disabled,
			},
		})
	}
	if len(s.tokens) == 0 {
		return nil, errors.New("令牌认证模式至少需要一个令牌")
	}
	return s, nil
}

// Mode 返回当前的认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 验证 Authorization 头并返回对应的主体。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}

	digest := sha256.Sum256([]byte(token))
	var matched *credential
	for i := range s.tokens {
		if subtle.ConstantTimeCompare(digest[:], s.tokens[i].digest[:]) == 1 {
			matched = &s.tokens[i]
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	if matched.subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	subject := matched.subject
	subject.Permissions = append([]string(nil), matched.subject.Permissions...)
	subject.permissionsSet = nil
	return &subject, nil
}
