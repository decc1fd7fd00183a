package domain

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrStaleSample     = errors.New("sample is older than the last applied sample")
	ErrInvalidSample   = errors.New("invalid metric sample")
	ErrNoProvider      = errors.New("no stats provider configured")
	ErrEngineStopped   = errors.New("engine stopped")
	ErrSnapshotFailed  = errors.New("stats snapshot failed")
)
