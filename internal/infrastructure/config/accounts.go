package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xyz-jphil/ccapis/internal/domain/entity"
)

// accountsFile mirrors the YAML layout of the watched credentials file.
// Omitted booleans default to the useful value, so active and track_usage
// are pointers.
type accountsFile struct {
	Accounts []accountEntry `yaml:"accounts"`
}

type accountEntry struct {
	ID                   string                 `yaml:"id"`
	Name                 string                 `yaml:"name"`
	SessionKey           string                 `yaml:"session_key"`
	OrgID                string                 `yaml:"org_id"`
	BaseURL              string                 `yaml:"base_url"`
	Tier                 *int                   `yaml:"tier"`
	Active               *bool                  `yaml:"active"`
	TrackUsage           *bool                  `yaml:"track_usage"`
	Ping                 bool                   `yaml:"ping"`
	ConversationSettings map[string]interface{} `yaml:"conversation_settings"`
}

// LoadAccounts reads the credentials file and builds the pool. Any invalid
// entry fails the whole load; a half-applied pool would be worse than
// keeping the previous one.
func LoadAccounts(path string) (*entity.CredentialPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts %s: %w", path, err)
	}
	return ParseAccounts(data)
}

// ParseAccounts builds the pool from raw accounts YAML.
func ParseAccounts(data []byte) (*entity.CredentialPool, error) {
	var file accountsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	if len(file.Accounts) == 0 {
		return nil, entity.ErrEmptyPool
	}

	creds := make([]*entity.Credential, 0, len(file.Accounts))
	for i, a := range file.Accounts {
		tier := 1
		if a.Tier != nil {
			tier = *a.Tier
		}
		flags := entity.CredentialFlags{
			Active:     a.Active == nil || *a.Active,
			TrackUsage: a.TrackUsage == nil || *a.TrackUsage,
			Ping:       a.Ping,
		}
		cred, err := entity.NewCredential(a.ID, a.Name, a.SessionKey, a.OrgID, a.BaseURL, tier, flags, a.ConversationSettings)
		if err != nil {
			return nil, fmt.Errorf("account %d (%s): %w", i, a.ID, err)
		}
		creds = append(creds, cred)
	}
	return entity.NewCredentialPool(creds)
}
