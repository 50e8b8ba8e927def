package domain

import "time"

// Distribution is the derived split of one gross reward. It is computed, never
// stored; the invariant Participant+Direct+Indirect[0]+Indirect[1]+Platform ==
// Gross holds for every computation.
type Distribution struct {
	Gross       uint64    `json:"gross"`
	Participant uint64    `json:"participant"`
	Direct      uint64    `json:"direct"`
	Indirect    [2]uint64 `json:"indirect"`
	Platform    uint64    `json:"platform"`
}

// Total re-derives the disbursed sum; it must always equal Gross.
func (d Distribution) Total() uint64 {
	return d.Participant + d.Direct + d.Indirect[0] + d.Indirect[1] + d.Platform
}

// SettlementRecord is the audit record emitted once per settlement. Its JSON
// shape is the externally depended-on contract; the storage medium behind it
// is not.
type SettlementRecord struct {
	TaskID           uint64    `json:"taskId"`
	Participant      string    `json:"participant"`
	Asset            string    `json:"asset"`
	GrossAmount      uint64    `json:"grossAmount"`
	ParticipantShare uint64    `json:"participantShare"`
	ReferrerShare    uint64    `json:"referrerShare"`
	PlatformShare    uint64    `json:"platformShare"`
	Timestamp        time.Time `json:"timestamp"`
}

// OwedSettlement records a reward obligation that could not be paid because
// the asset pool was short. It is retried, never dropped.
type OwedSettlement struct {
	TaskID      uint64    `json:"taskId"`
	Participant string    `json:"participant"`
	Asset       string    `json:"asset"`
	Gross       uint64    `json:"gross"`
	FirstTried  time.Time `json:"firstTried"`
}
