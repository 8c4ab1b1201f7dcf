package models

import "time"

// ProviderKind identifies one of the two remote backend families.
type ProviderKind string

const (
	// ProviderWebhook posts parts as attachments through a bulk webhook.
	ProviderWebhook ProviderKind = "webhook"
	// ProviderBot posts parts as documents through a bot messaging API.
	ProviderBot ProviderKind = "bot"
)

// Other returns the opposite provider family, used for mirror placement.
func (k ProviderKind) Other() ProviderKind {
	if k == ProviderWebhook {
		return ProviderBot
	}
	return ProviderWebhook
}

// Part is one ciphertext fragment of an archive. Each part is encrypted
// independently (AES-GCM, fresh IV) and stored as a message attachment on a
// remote provider, with an optional mirror copy on the other family.
//
// The integer row ID is the append order: when two records share an index,
// readers keep the higher ID (see DedupeParts).
type Part struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	ArchiveID string `gorm:"index:idx_parts_archive,priority:1;not null;size:36" json:"-"`
	Idx       int    `gorm:"column:idx;index:idx_parts_archive,priority:2" json:"index"`

	Size      int64  `json:"size"`       // ciphertext bytes
	PlainSize int64  `json:"plain_size"` // plaintext bytes this part carries
	Hash      string `gorm:"size:64" json:"hash"`
	IV        string `gorm:"size:64" json:"-"`
	AuthTag   string `gorm:"size:64" json:"-"`

	// Primary placement.
	Provider  ProviderKind `gorm:"size:16" json:"provider"`
	URL       string       `gorm:"size:1024" json:"-"`
	MessageID string       `gorm:"size:64" json:"-"`
	WebhookID string       `gorm:"size:36" json:"-"` // webhook handle reference
	ChannelID string       `gorm:"size:64" json:"-"` // webhook-family channel
	FileID    string       `gorm:"size:255" json:"-"` // bot-family file handle
	ChatID    string       `gorm:"size:64" json:"-"`  // bot-family chat

	// Mirror placement, empty until the synchronizer or a parallel upload
	// places the second copy.
	MirrorProvider  ProviderKind `gorm:"size:16" json:"mirror_provider,omitempty"`
	MirrorURL       string       `gorm:"size:1024" json:"-"`
	MirrorMessageID string       `gorm:"size:64" json:"-"`
	MirrorWebhookID string       `gorm:"size:36" json:"-"`
	MirrorChannelID string       `gorm:"size:64" json:"-"`
	MirrorFileID    string       `gorm:"size:255" json:"-"`
	MirrorChatID    string       `gorm:"size:64" json:"-"`
	MirrorPending   bool         `json:"mirror_pending"`
	MirrorError     string       `gorm:"type:text" json:"mirror_error,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}

// TableName returns the table name for Part.
func (Part) TableName() string {
	return "parts"
}

// PlainLen returns the plaintext length of the part. Records written before
// plain_size existed are treated as size: under per-part GCM the ciphertext
// is byte-aligned with the plaintext (the tag is stored separately).
func (p *Part) PlainLen() int64 {
	if p.PlainSize == 0 && p.Size > 0 {
		return p.Size
	}
	return p.PlainSize
}

// Mirrored reports whether the mirror copy is placed and verified.
func (p *Part) Mirrored() bool {
	return p.MirrorProvider != "" && !p.MirrorPending && p.MirrorURL != "" && p.MirrorMessageID != ""
}

// Placement is one side (primary or mirror) of a part's remote location,
// carrying everything a provider needs to refresh or delete it.
type Placement struct {
	Provider  ProviderKind
	URL       string
	MessageID string
	WebhookID string
	ChannelID string
	FileID    string
	ChatID    string
	Mirror    bool
}

// PrimaryPlacement returns the part's primary placement.
func (p *Part) PrimaryPlacement() Placement {
	return Placement{
		Provider:  p.Provider,
		URL:       p.URL,
		MessageID: p.MessageID,
		WebhookID: p.WebhookID,
		ChannelID: p.ChannelID,
		FileID:    p.FileID,
		ChatID:    p.ChatID,
	}
}

// MirrorPlacement returns the part's mirror placement. Valid only when
// Mirrored() is true.
func (p *Part) MirrorPlacement() Placement {
	return Placement{
		Provider:  p.MirrorProvider,
		URL:       p.MirrorURL,
		MessageID: p.MirrorMessageID,
		WebhookID: p.MirrorWebhookID,
		ChannelID: p.MirrorChannelID,
		FileID:    p.MirrorFileID,
		ChatID:    p.MirrorChatID,
		Mirror:    true,
	}
}
