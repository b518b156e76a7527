package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidWallet      = errors.New("invalid solana wallet address")
	ErrCancelled          = errors.New("reconstruction cancelled")
	ErrRateLimited        = errors.New("rate limited")
	ErrLockHeld           = errors.New("lock already held")
	ErrDecoderUnavailable = errors.New("event decoder unavailable")
	ErrRunInProgress      = errors.New("reconstruction already running for wallet")
)
