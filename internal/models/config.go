package models

import "time"

// Config represents the application configuration
type Config struct {
	LogLevel  string        `yaml:"logLevel"`
	LogFormat string        `yaml:"logFormat"`
	Email     EmailConfig   `yaml:"email"`
	Planka    PlankaConfig  `yaml:"planka"`
	Journal   JournalConfig `yaml:"journal"`
}

// EmailConfig represents IMAP email configuration
type EmailConfig struct {
	Imap        string        `yaml:"imap"`
	Login       string        `yaml:"login"`
	Password    string        `yaml:"password"`
	RefreshTime time.Duration `yaml:"refreshTime"`
	Timeout     time.Duration `yaml:"timeout"`
	Root        string        `yaml:"root"`
	Inbox       string        `yaml:"inbox"`
	Accepted    string        `yaml:"accepted"`
	Rejected    string        `yaml:"rejected"`
}

// InboxPath returns the full name of the inbound mailbox
func (c EmailConfig) InboxPath() string {
	return c.path(c.Inbox)
}

// AcceptedPath returns the full name of the mailbox for accepted emails
func (c EmailConfig) AcceptedPath() string {
	return c.path(c.Accepted)
}

// RejectedPath returns the full name of the mailbox for rejected emails
func (c EmailConfig) RejectedPath() string {
	return c.path(c.Rejected)
}

func (c EmailConfig) path(name string) string {
	if c.Root == "" {
		return name
	}
	return c.Root + "/" + name
}

// PlankaConfig represents the task-board API configuration
type PlankaConfig struct {
	URL                 string        `yaml:"url"`
	APIKey              string        `yaml:"apiKey"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxRetries          int           `yaml:"maxRetries"`
	PrefetchConcurrency int           `yaml:"prefetchConcurrency"`
	DispatchConcurrency int           `yaml:"dispatchConcurrency"`
}

// JournalConfig represents the dispatch journal configuration; an empty path disables it
type JournalConfig struct {
	Path string `yaml:"path"`
}
