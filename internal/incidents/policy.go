package incidents

import (
	"errors"
	"time"
)

const (
	DefaultQuorum          = 3
	DefaultMutationTimeout = 10 * time.Second
)

// Policy holds the workflow settings fixed at startup.
type Policy struct {
	// Quorum is the number of distinct verifiers that promotes an incident.
	Quorum int `yaml:"quorum" mapstructure:"quorum"`
	// AllowSelfVerification lets the reporter count toward the quorum.
	AllowSelfVerification bool `yaml:"allow_self_verification" mapstructure:"allow_self_verification"`
	// MutationTimeout bounds store writes, which are detached from the
	// caller's cancellation.
	MutationTimeout time.Duration `yaml:"mutation_timeout" mapstructure:"mutation_timeout"`
}

func DefaultPolicy() Policy {
	return Policy{
		Quorum:          DefaultQuorum,
		MutationTimeout: DefaultMutationTimeout,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MutationTimeout <= 0 {
		p.MutationTimeout = DefaultMutationTimeout
	}
	return p
}

func (p Policy) Validate() error {
	if p.Quorum < 1 {
		return errors.New("quorum must be at least 1")
	}
	return nil
}
