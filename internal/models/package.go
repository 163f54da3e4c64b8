package models

import "time"

// Package is a purchased bundle of sessions. The scheduling core reads
// the quota and adjusts used_sessions inside the same transaction as the
// session change that consumes or restores a credit; everything else about
// packages (purchase, pricing) lives outside this service.
type Package struct {
	ID            int64     `json:"id"`
	ClientID      int64     `json:"client_id"`
	TrainerID     int64     `json:"trainer_id"`
	TotalSessions int       `json:"total_sessions"`
	UsedSessions  int       `json:"used_sessions"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Remaining is the unconsumed session quota.
func (p *Package) Remaining() int {
	return p.TotalSessions - p.UsedSessions
}
