// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"
	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
	"sitechat-go/pkg/hash"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/token"

	"gorm.io/gorm"
)

// 账号相关的业务错误。
var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// TokenPair 是一次登录颁发的令牌对。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// UserService 定义了后台账号的业务操作。
type UserService interface {
	// Register 注册新账号。系统中的第一个账号自动成为管理员。
	Register(username, password string) (*model.User, error)
	Login(username, password string) (*model.User, *TokenPair, error)
	GetProfile(userID uint) (*model.User, error)
	RefreshToken(refreshToken string) (*TokenPair, error)
}

type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager) UserService {
	return &userService{userRepo: userRepo, jwtManager: jwtManager}
}

// Register 注册新账号，密码以 bcrypt 哈希存储。
func (s *userService) Register(username, password string) (*model.User, error) {
	if _, err := s.userRepo.FindByUsername(username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	hashed, err := hash.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	role := "USER"
	total, err := s.userRepo.Count()
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if total == 0 {
		role = "ADMIN"
	}

	user := &model.User{
		Username: username,
		Password: hashed,
		Role:     role,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	log.Infof("新账号注册成功: %s (role=%s)", username, role)
	return user, nil
}

// Login 校验凭证并颁发令牌对。
// 用户不存在与密码错误返回同一个错误，避免账号枚举。
func (s *userService) Login(username, password string) (*model.User, *TokenPair, error) {
	user, err := s.userRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !hash.CheckPassword(password, user.Password) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issueTokens(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

func (s *userService) GetProfile(userID uint) (*model.User, error) {
	return s.userRepo.FindByID(userID)
}

// RefreshToken 校验 refresh token 并颁发新的令牌对。
func (s *userService) RefreshToken(refreshToken string) (*TokenPair, error) {
	claims, err := s.jwtManager.VerifyToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	// 重新读库，保证角色变更后旧 refresh token 不再沿用旧角色
	user, err := s.userRepo.FindByID(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return s.issueTokens(user)
}

func (s *userService) issueTokens(user *model.User) (*TokenPair, error) {
	access, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refresh, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
