package domain

import (
	"encoding"
	"time"
)

type TaskCategory string

const (
	CategorySwap   TaskCategory = "SWAP"
	CategoryBridge TaskCategory = "BRIDGE"
	CategorySocial TaskCategory = "SOCIAL"
	CategoryDefi   TaskCategory = "DEFI"
	CategoryNFT    TaskCategory = "NFT"
	CategoryCustom TaskCategory = "CUSTOM"
)

// Categories lists every task category accepted by the registry.
func Categories() []TaskCategory {
	return []TaskCategory{CategorySwap, CategoryBridge, CategorySocial, CategoryDefi, CategoryNFT, CategoryCustom}
}

func (c TaskCategory) Valid() bool {
	for _, k := range Categories() {
		if c == k {
			return true
		}
	}
	return false
}

type TaskStatus string

const (
	TaskActive    TaskStatus = "ACTIVE"
	TaskPaused    TaskStatus = "PAUSED"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// CanTransition reports whether the task state machine admits from -> to.
// ACTIVE may pause, complete or cancel; PAUSED may only resume; the two
// terminal states accept nothing.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskActive:
		return to == TaskPaused || to == TaskCompleted || to == TaskCancelled
	case TaskPaused:
		return to == TaskActive
	default:
		return false
	}
}

type Task struct {
	ID                  uint64       `json:"id"`
	Advertiser          string       `json:"advertiser"`
	Category            TaskCategory `json:"category"`
	Status              TaskStatus   `json:"status"`
	RewardAmount        uint64       `json:"rewardAmount"`
	RewardAsset         string       `json:"rewardAsset"`
	MaxParticipants     int          `json:"maxParticipants"`
	CurrentParticipants int          `json:"currentParticipants"`
	StartTime           time.Time    `json:"startTime"`
	EndTime             time.Time    `json:"endTime"`
	// Criteria is an opaque descriptor forwarded to the verifier; the
	// registry never interprets it.
	Criteria   string    `json:"criteria,omitempty"`
	RequireKYC bool      `json:"requireKyc,omitempty"`
	MinScore   int       `json:"minScore"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// WindowOpen reports whether now falls inside the task's [start, end] window.
func (t *Task) WindowOpen(now time.Time) bool {
	return !now.Before(t.StartTime) && !now.After(t.EndTime)
}

// Completion is the one-per-(task, participant) record of a submitted proof.
// It is created exactly once and never deleted; Verified flips false->true at
// most once.
type Completion struct {
	TaskID      uint64    `json:"taskId"`
	Participant string    `json:"participant"`
	Submitted   bool      `json:"submitted"`
	Verified    bool      `json:"verified"`
	SubmittedAt time.Time `json:"submittedAt"`
	Proof       string    `json:"proof,omitempty"`
	// RiskScore stays nil until a verdict arrives.
	RiskScore *int `json:"riskScore,omitempty"`
}

// TaskStats is the admin/CLI view of a task's completion funnel.
type TaskStats struct {
	TaskID      uint64 `json:"taskId"`
	Submitted   int64  `json:"submitted"`
	Verified    int64  `json:"verified"`
	Settled     int64  `json:"settled"`
	Remaining   int    `json:"remaining"`
	PoolBalance uint64 `json:"poolBalance"`
}

var (
	_ encoding.BinaryMarshaler = TaskCategory("")
	_ encoding.TextMarshaler   = TaskCategory("")
	_ encoding.BinaryMarshaler = TaskStatus("")
	_ encoding.TextMarshaler   = TaskStatus("")
)

func (c TaskCategory) MarshalBinary() ([]byte, error) { return []byte(string(c)), nil }
func (c TaskCategory) MarshalText() ([]byte, error)   { return []byte(string(c)), nil }

func (s TaskStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s TaskStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }
