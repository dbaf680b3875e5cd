package config

// DefaultValues is the default configuration, applied before the user's
// config file and the ACCELERATE_ environment overrides
const DefaultValues = `
[Log]
Environment = "development"
Level = "info"
Outputs = ["stderr"]

[Sequencer]
TickInterval = "5s"
TreeDepth = 16
DBPath = "/tmp/accelerate/sequencer.sqlite"
EventBufferSize = 32

[Sequencer.Mempool]
MaxSenderBacklog = 64

[Sequencer.Prover]
Backend = "rpc"
ProverURL = "http://localhost:7878"
GenerationTimeout = "2m"
MaxRetries = 3
RetryDelay = "5s"

[Sequencer.Settlement]
StatusPollInterval = "5s"
FinalityTimeout = "3m"

[Casperman]
NodeURL = "http://localhost:7777/rpc"
ContractHash = ""
ChainName = "casper-test"
PrivateKeyPath = "/etc/accelerate/sequencer.key"
PaymentAmount = 2500000000
DeployTTL = "30m"

[RPC]
Host = "0.0.0.0"
Port = 8545
ReadTimeout = "2s"
WriteTimeout = "2s"
MaxRequestsPerIPAndSecond = 500
`
