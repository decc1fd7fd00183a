package domain

type SessionID string
