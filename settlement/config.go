package settlement

import (
	"github.com/mertksk/accelerate/config/types"
)

// Config represents the configuration of the settlement coordinator
type Config struct {
	// StatusPollInterval is the time between settlement status polls
	StatusPollInterval types.Duration `mapstructure:"StatusPollInterval"`

	// FinalityTimeout bounds the wait for a terminal base layer decision on a
	// submitted batch. On timeout the batch is marked REJECTED.
	FinalityTimeout types.Duration `mapstructure:"FinalityTimeout"`
}
