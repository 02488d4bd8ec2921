package domain

import (
	"strings"
	"time"
)

// Channel identifies the external messaging network a message arrived on.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelTelegram Channel = "telegram"
	ChannelSlack    Channel = "slack"
	ChannelDiscord  Channel = "discord"
)

// Channels lists every supported channel in display order.
var Channels = []Channel{
	ChannelEmail, ChannelWhatsApp, ChannelSMS, ChannelTelegram, ChannelSlack, ChannelDiscord,
}

// ParseChannel returns the Channel named by s (case-insensitive).
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Channels {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// AddressKind reports how addresses on the channel should be normalized
// and compared.
func (c Channel) AddressKind() AddressKind {
	switch c {
	case ChannelEmail:
		return AddressEmail
	case ChannelWhatsApp, ChannelSMS:
		return AddressPhone
	default:
		return AddressHandle
	}
}

// AddressKind classifies a channel address.
type AddressKind int

const (
	AddressHandle AddressKind = iota
	AddressEmail
	AddressPhone
)

// InboundMessage is the normalized payload every channel connector posts.
// SenderName, SenderEmail and SenderPhone are optional hints a connector
// may fill in from the channel's profile data; they feed identity matching
// only and are never used as the identity key.
type InboundMessage struct {
	Channel           Channel   `json:"channel"             validate:"required"`
	SenderAddress     string    `json:"sender_address"      validate:"required,max=320"`
	RecipientAddress  string    `json:"recipient_address,omitempty" validate:"max=320"`
	ExternalMessageID string    `json:"external_message_id" validate:"required,max=255"`
	Timestamp         time.Time `json:"timestamp"           validate:"required"`
	Body              string    `json:"body"                validate:"max=65536"`
	Attachments       []string  `json:"attachments,omitempty" validate:"max=32,dive,max=2048"`
	Subject           string    `json:"subject,omitempty"   validate:"max=255"`
	SenderName        string    `json:"sender_name,omitempty"  validate:"max=255"`
	SenderEmail       string    `json:"sender_email,omitempty" validate:"omitempty,max=320"`
	SenderPhone       string    `json:"sender_phone,omitempty" validate:"omitempty,max=32"`
}
