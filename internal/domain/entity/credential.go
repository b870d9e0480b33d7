package entity

import (
	"fmt"
	"strings"
	"time"
)

// CredentialFlags are the per-credential behavior switches.
type CredentialFlags struct {
	Active     bool
	TrackUsage bool
	Ping       bool
}

// Credential is an immutable descriptor of one upstream browser session.
// Instances are created at load time and never mutated; a reload produces a
// fresh pool of fresh credentials.
type Credential struct {
	id           string
	displayName  string
	sessionKey   string
	orgID        string
	baseURL      string
	tier         int
	flags        CredentialFlags
	convSettings map[string]interface{}
}

// NewCredential validates and constructs a credential. The base URL is
// normalized: surrounding whitespace stripped, https scheme assumed when no
// scheme is present, trailing slashes removed.
func NewCredential(
	id string,
	displayName string,
	sessionKey string,
	orgID string,
	baseURL string,
	tier int,
	flags CredentialFlags,
	conversationSettings map[string]interface{},
) (*Credential, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidCredentialID
	}
	if strings.TrimSpace(sessionKey) == "" {
		return nil, fmt.Errorf("credential %q: %w", id, ErrBlankSessionKey)
	}
	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("credential %q: %w", id, err)
	}
	if tier < 0 {
		return nil, fmt.Errorf("credential %q: %w", id, ErrInvalidTier)
	}
	if displayName == "" {
		displayName = id
	}

	var settings map[string]interface{}
	if len(conversationSettings) > 0 {
		settings = make(map[string]interface{}, len(conversationSettings))
		for k, v := range conversationSettings {
			settings[k] = v
		}
	}

	return &Credential{
		id:           id,
		displayName:  displayName,
		sessionKey:   sessionKey,
		orgID:        orgID,
		baseURL:      normalized,
		tier:         tier,
		flags:        flags,
		convSettings: settings,
	}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", ErrBlankBaseURL
	}
	if !strings.Contains(u, "://") {
		u = "https://" + u
	}
	u = strings.TrimRight(u, "/")
	return u, nil
}

// ID returns the credential id (as configured; keying is case-insensitive).
func (c *Credential) ID() string {
	return c.id
}

// Key returns the case-insensitive identity used for maps and dedup.
func (c *Credential) Key() string {
	return strings.ToLower(c.id)
}

// DisplayName returns the human-facing name (falls back to the id).
func (c *Credential) DisplayName() string {
	return c.displayName
}

// SessionKey returns the opaque session secret.
func (c *Credential) SessionKey() string {
	return c.sessionKey
}

// OrgID returns the upstream organization id.
func (c *Credential) OrgID() string {
	return c.orgID
}

// BaseURL returns the normalized upstream base URL (no trailing slash).
func (c *Credential) BaseURL() string {
	return c.baseURL
}

// Tier returns the plan tier (0 = free).
func (c *Credential) Tier() int {
	return c.tier
}

// Flags returns the behavior switches.
func (c *Credential) Flags() CredentialFlags {
	return c.flags
}

// ConversationSettings returns a copy of the opaque settings forwarded on
// conversation creation, or nil when none are configured. The proxy never
// interprets these values.
func (c *Credential) ConversationSettings() map[string]interface{} {
	if c.convSettings == nil {
		return nil
	}
	out := make(map[string]interface{}, len(c.convSettings))
	for k, v := range c.convSettings {
		out[k] = v
	}
	return out
}

// CredentialPool is an immutable snapshot of the configured credentials.
// Reloads build a new pool; readers snapshot the pointer once per request.
type CredentialPool struct {
	creds    []*Credential
	byKey    map[string]*Credential
	loadedAt time.Time
}

// NewCredentialPool builds a pool from credentials in load order. Duplicate
// ids (case-insensitive) are rejected.
func NewCredentialPool(creds []*Credential) (*CredentialPool, error) {
	byKey := make(map[string]*Credential, len(creds))
	ordered := make([]*Credential, 0, len(creds))
	for _, c := range creds {
		if _, exists := byKey[c.Key()]; exists {
			return nil, fmt.Errorf("credential %q: %w", c.ID(), ErrDuplicateCredentialID)
		}
		byKey[c.Key()] = c
		ordered = append(ordered, c)
	}
	return &CredentialPool{
		creds:    ordered,
		byKey:    byKey,
		loadedAt: time.Now().UTC(),
	}, nil
}

// All returns the credentials in load order.
func (p *CredentialPool) All() []*Credential {
	out := make([]*Credential, len(p.creds))
	copy(out, p.creds)
	return out
}

// Active returns the credentials with flags.Active set, in load order.
func (p *CredentialPool) Active() []*Credential {
	out := make([]*Credential, 0, len(p.creds))
	for _, c := range p.creds {
		if c.Flags().Active {
			out = append(out, c)
		}
	}
	return out
}

// Get looks a credential up by id, case-insensitively.
func (p *CredentialPool) Get(id string) (*Credential, bool) {
	c, ok := p.byKey[strings.ToLower(strings.TrimSpace(id))]
	return c, ok
}

// Len returns the total number of credentials, active or not.
func (p *CredentialPool) Len() int {
	return len(p.creds)
}

// LoadedAt returns when this snapshot was built.
func (p *CredentialPool) LoadedAt() time.Time {
	return p.loadedAt
}
