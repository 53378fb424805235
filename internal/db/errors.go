package db

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrAlreadyActivated   = errors.New("user already activated an invite code")
	ErrQuotaExhausted     = errors.New("invite code quota exhausted")
	ErrInviteExpired      = errors.New("invite code expired")
	ErrAlreadyAuthorized  = errors.New("code already authorized")
	ErrCodeExpired        = errors.New("code expired")
	ErrDeviceBoundToOther = errors.New("device already bound to another user")
	ErrInsufficientCoins  = errors.New("insufficient shrimp coins")
	ErrTokenConsumed      = errors.New("token already used")
)
