package entity

import (
	"fmt"
	"time"
)

type UserState string

const (
	UserStateIdle             UserState = "IDLE"
	UserStateSearching        UserState = "SEARCHING"
	UserStatePairedHuman      UserState = "PAIRED_HUMAN"
	UserStatePairedAutomation UserState = "PAIRED_AUTOMATION"
)

type PartnerKind int

const (
	PartnerNone PartnerKind = iota
	PartnerHuman
	PartnerAutomation
)

// Partner is what a user is paired with: nobody, another user, or the automation backend.
type Partner struct {
	Kind PartnerKind
	ID   int64 // only meaningful for PartnerHuman
}

var (
	NoPartner         = Partner{Kind: PartnerNone}
	AutomationPartner = Partner{Kind: PartnerAutomation}
)

func HumanPartner(id int64) Partner {
	return Partner{Kind: PartnerHuman, ID: id}
}

func (p Partner) IsNone() bool       { return p.Kind == PartnerNone }
func (p Partner) IsHuman() bool      { return p.Kind == PartnerHuman }
func (p Partner) IsAutomation() bool { return p.Kind == PartnerAutomation }

func (p Partner) String() string {
	switch p.Kind {
	case PartnerHuman:
		return fmt.Sprintf("user:%d", p.ID)
	case PartnerAutomation:
		return "automation"
	default:
		return "none"
	}
}

// ChatUser is the durable per-user pairing record.
type ChatUser struct {
	Id        int64
	Partner   Partner
	Searching bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *ChatUser) State() UserState {
	if u == nil {
		return UserStateIdle
	}
	switch {
	case u.Searching:
		return UserStateSearching
	case u.Partner.IsHuman():
		return UserStatePairedHuman
	case u.Partner.IsAutomation():
		return UserStatePairedAutomation
	default:
		return UserStateIdle
	}
}

// ClearPairing puts the record back to IDLE.
func (u *ChatUser) ClearPairing() {
	u.Searching = false
	u.Partner = NoPartner
}

// WaitingForHuman reports whether the record can be claimed by a matchmaker.
func (u *ChatUser) WaitingForHuman() bool {
	return u != nil && u.Searching && u.Partner.IsNone()
}
