package model

import "time"

// Channel is an outreach source with its own lead pool, sender domain and ramp.
type Channel string

const (
	ChannelKickstarter Channel = "kickstarter"
	ChannelInstagram   Channel = "instagram"
)

// Channels lists every channel in processing order.
var Channels = []Channel{ChannelKickstarter, ChannelInstagram}

func (c Channel) Valid() bool {
	switch c {
	case ChannelKickstarter, ChannelInstagram:
		return true
	}
	return false
}

// EmailType is the message-type label written to the send log.
func (c Channel) EmailType() string {
	return "Email_1_" + string(c)
}

// Variant is one of the fixed A/B/C content versions.
type Variant string

const (
	VariantA Variant = "A"
	VariantB Variant = "B"
	VariantC Variant = "C"
)

var Variants = []Variant{VariantA, VariantB, VariantC}

func (v Variant) Valid() bool {
	switch v {
	case VariantA, VariantB, VariantC:
		return true
	}
	return false
}

// RampConfig describes the linear per-sender ramp of a channel.
type RampConfig struct {
	StartQuota int `json:"start_quota"`
	EndQuota   int `json:"end_quota"`
	RampDays   int `json:"ramp_days"`
}

type Campaign struct {
	Channel      Channel    `json:"channel"`
	StartDate    time.Time  `json:"start_date"`
	Ramp         RampConfig `json:"ramp"`
	SenderCount  int        `json:"sender_count"`
	SenderDomain string     `json:"sender_domain"`
}
