package domain

import (
	"encoding"
	"time"
)

// ProofCategory selects which registered verifier a proof is routed to.
type ProofCategory string

const (
	ProofOnChainTx ProofCategory = "ONCHAIN_TX"
	ProofSocial    ProofCategory = "SOCIAL"
	ProofCodeHost  ProofCategory = "CODE_HOST"
	ProofChat      ProofCategory = "CHAT"
	ProofCustom    ProofCategory = "CUSTOM"
)

// ProofCategoryFor maps a task category onto the proof category its
// completions are verified under.
func ProofCategoryFor(c TaskCategory) ProofCategory {
	switch c {
	case CategorySwap, CategoryBridge, CategoryDefi, CategoryNFT:
		return ProofOnChainTx
	case CategorySocial:
		return ProofSocial
	default:
		return ProofCustom
	}
}

func (p ProofCategory) Valid() bool {
	switch p {
	case ProofOnChainTx, ProofSocial, ProofCodeHost, ProofChat, ProofCustom:
		return true
	}
	return false
}

// VerificationResult holds the verdict for a processed request. All fields
// stay at their zero values until the request is processed; they are written
// in one step, never partially.
type VerificationResult struct {
	Verified    bool      `json:"verified"`
	RiskScore   int       `json:"riskScore"`
	ProofDigest string    `json:"proofDigest,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	Verifier    string    `json:"verifier,omitempty"`
}

type VerificationRequest struct {
	ID          uint64             `json:"id"`
	TaskID      uint64             `json:"taskId"`
	Participant string             `json:"participant"`
	Category    ProofCategory      `json:"category"`
	Proof       string             `json:"proof,omitempty"`
	Processed   bool               `json:"processed"`
	Result      VerificationResult `json:"result"`
	// TraceParent carries the W3C trace context of the originating
	// submission so the eventual verdict joins the same trace.
	TraceParent string    `json:"traceParent,omitempty"`
	TraceState  string    `json:"traceState,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Verifier is one entry of the gateway's capability table: the identity
// allowed to answer for a category and the endpoint proofs are pushed to.
type Verifier struct {
	Identity    string        `json:"identity"`
	Category    ProofCategory `json:"category"`
	CallbackURL string        `json:"callbackUrl"`
	AddedAt     time.Time     `json:"addedAt"`
}

var (
	_ encoding.BinaryMarshaler = ProofCategory("")
	_ encoding.TextMarshaler   = ProofCategory("")
)

func (p ProofCategory) MarshalBinary() ([]byte, error) { return []byte(string(p)), nil }
func (p ProofCategory) MarshalText() ([]byte, error)   { return []byte(string(p)), nil }
