package config

import (
	"errors"
	"fmt"
)

// Validate checks the fields every tool needs.
func (c *Config) Validate() error {
	if c.Socket.URL == "" {
		return errors.New("socket.url is required")
	}

	seen := make(map[string]bool, len(c.Topics))
	for i, topic := range c.Topics {
		if topic.Name == "" {
			return fmt.Errorf("topics[%d].name is required", i)
		}
		if seen[topic.Name] {
			return fmt.Errorf("topics[%d]: duplicate topic %q", i, topic.Name)
		}
		seen[topic.Name] = true
	}

	return nil
}

// ValidateRecorder checks the additional fields the recorder needs.
func (c *Config) ValidateRecorder() error {
	if len(c.Topics) == 0 {
		return errors.New("at least one topic is required")
	}
	if err := c.Database.validate("database"); err != nil {
		return err
	}
	if c.Recorder.BatchSize < 1 {
		return errors.New("recorder.batch_size must be >= 1")
	}
	if c.Recorder.BufferSize < 1 {
		return errors.New("recorder.buffer_size must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
