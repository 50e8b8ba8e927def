package domain

import "time"

// ReferralRecord freezes a participant's referral chain at first
// registration. Referrer is the tier-1 (direct) referrer; Upstream holds the
// tier-2 and tier-3 identities, shortest first. The chain is never rebuilt.
type ReferralRecord struct {
	Participant string   `json:"participant"`
	Referrer    string   `json:"referrer,omitempty"`
	Upstream    []string `json:"upstream,omitempty"`
	Active      bool     `json:"active"`

	TotalEarned    uint64 `json:"totalEarned"`
	DirectEarned   uint64 `json:"directEarned"`
	IndirectEarned uint64 `json:"indirectEarned"`

	RegisteredAt time.Time `json:"registeredAt"`
}

// ChainLen counts the participant's upstream identities, direct referrer
// included. Always <= 3.
func (r *ReferralRecord) ChainLen() int {
	if r.Referrer == "" {
		return 0
	}
	return 1 + len(r.Upstream)
}

// ReferralCode binds a short human-shareable code to the identity that
// minted it. Codes are the only way a referrer can be named at registration.
type ReferralCode struct {
	Code     string    `json:"code"`
	Identity string    `json:"identity"`
	MintedAt time.Time `json:"mintedAt"`
}
