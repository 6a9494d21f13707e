package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MailboxConfig describes one IMAP mailbox to sync. The password is not kept
// in the YAML file itself; PasswordEnv names the environment variable that
// holds it.
type MailboxConfig struct {
	ID              string `yaml:"id"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	PasswordEnv     string `yaml:"password_env"`
	Folder          string `yaml:"folder"`
	ProcessedFolder string `yaml:"processed_folder"`
	Enabled         bool   `yaml:"enabled"`
}

// Password reads the mailbox password from the configured environment variable.
func (m MailboxConfig) Password() string {
	return os.Getenv(m.PasswordEnv)
}

// Addr returns the host:port dial address for the mailbox.
func (m MailboxConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

type mailboxFile struct {
	Mailboxes []MailboxConfig `yaml:"mailboxes"`
}

// LoadMailboxes reads the mailbox definitions from the YAML file at path and
// returns the enabled ones. An empty result is a configuration error: a sync
// service with nothing to sync is misconfigured.
func LoadMailboxes(path string) ([]MailboxConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mailbox config %s: %w", path, err)
	}

	var f mailboxFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing mailbox config %s: %w", path, err)
	}

	var enabled []MailboxConfig
	for i, m := range f.Mailboxes {
		if m.ID == "" || m.Host == "" || m.Username == "" {
			return nil, fmt.Errorf("mailbox config %s: entry %d is missing id, host or username", path, i)
		}
		if m.Port == 0 {
			m.Port = 993
		}
		if m.Folder == "" {
			m.Folder = "INBOX"
		}
		if m.ProcessedFolder == "" {
			m.ProcessedFolder = "Processed"
		}
		if m.Enabled {
			enabled = append(enabled, m)
		}
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("mailbox config %s: no enabled mailboxes", path)
	}
	return enabled, nil
}
