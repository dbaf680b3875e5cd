package common

const (
	// SEQUENCER name to identify the sequencer component
	SEQUENCER = "sequencer"
	// RPC name to identify the rpc component
	RPC = "rpc"
)
