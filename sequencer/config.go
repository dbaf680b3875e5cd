package sequencer

import (
	"github.com/mertksk/accelerate/config/types"
	"github.com/mertksk/accelerate/mempool"
	"github.com/mertksk/accelerate/prover"
	"github.com/mertksk/accelerate/settlement"
)

// Config represents the configuration of the sequencer
type Config struct {
	// TickInterval is the cadence of the batching loop. One pipeline pass runs
	// per tick, passes never overlap.
	TickInterval types.Duration `mapstructure:"TickInterval"`

	// TreeDepth is the depth of the state tree, leaf capacity is 2^depth
	TreeDepth uint8 `mapstructure:"TreeDepth"`

	// DBPath is the path of the sqlite file holding the transaction registry
	// and the batch history
	DBPath string `mapstructure:"DBPath"`

	// EventBufferSize is the per subscriber event channel capacity. A
	// subscriber that falls further behind misses events.
	EventBufferSize int `mapstructure:"EventBufferSize"`

	Mempool    mempool.Config    `mapstructure:"Mempool"`
	Prover     prover.Config     `mapstructure:"Prover"`
	Settlement settlement.Config `mapstructure:"Settlement"`
}
