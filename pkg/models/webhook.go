package models

import "time"

// Webhook is a provider handle: the outbound credentials for one remote
// sink. Webhook-family handles carry the webhook URL; bot-family handles
// carry the bot token and target chat. Disabled handles are skipped when
// selecting placement for new parts but remain usable for refresh/delete of
// parts already placed on them.
type Webhook struct {
	ID      string       `gorm:"primaryKey;size:36" json:"id"`
	Kind    ProviderKind `gorm:"index;size:16;default:webhook" json:"kind"`
	Name    string       `gorm:"size:255" json:"name"`
	URL     string       `gorm:"size:1024" json:"url,omitempty"`
	Token   string       `gorm:"size:255" json:"-"`
	ChatID  string       `gorm:"size:64" json:"chat_id,omitempty"`
	Enabled bool         `gorm:"default:true" json:"enabled"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Webhook.
func (Webhook) TableName() string {
	return "webhooks"
}
