package mempool

// Config represents the configuration of the mempool
type Config struct {
	// MaxSenderBacklog is the maximum number of pending transactions a single
	// sender can hold in the pool. 0 disables the limit.
	MaxSenderBacklog uint64 `mapstructure:"MaxSenderBacklog"`
}
