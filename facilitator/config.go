package facilitator

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gluenet/agentmesh"
)

// Environment variables read by FromEnv.
const (
	EnvPort       = "FACILITATOR_PORT"
	EnvRPCURL     = "EVM_RPC_URL"
	EnvPrivateKey = "EVM_PRIVATE_KEY"
	EnvKindsFile  = "FACILITATOR_KINDS_FILE"

	defaultPort = "8402"
)

// Config is the facilitator process configuration.
type Config struct {
	Port          string
	RPCURL        string
	PrivateKeyHex string
	KindsFile     string
}

// FromEnv reads the configuration from the environment.
func FromEnv() Config {
	port := os.Getenv(EnvPort)
	if port == "" {
		port = defaultPort
	}
	return Config{
		Port:          port,
		RPCURL:        os.Getenv(EnvRPCURL),
		PrivateKeyHex: os.Getenv(EnvPrivateKey),
		KindsFile:     os.Getenv(EnvKindsFile),
	}
}

// Validate checks that the required settings are present.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return agentmesh.Ef(agentmesh.KindInvalidArgument, "%s is required", EnvRPCURL)
	}
	if c.PrivateKeyHex == "" {
		return agentmesh.Ef(agentmesh.KindInvalidArgument, "%s is required", EnvPrivateKey)
	}
	if c.KindsFile == "" {
		return agentmesh.Ef(agentmesh.KindInvalidArgument, "%s is required", EnvKindsFile)
	}
	return nil
}

// kindsFile is the YAML shape of the supported-kinds config.
type kindsFile struct {
	Kinds []KindConfig `yaml:"kinds"`
}

// LoadKinds parses the supported-kinds YAML file.
func LoadKinds(path string) ([]KindConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInvalidArgument, "failed to read kinds file", err)
	}
	return ParseKinds(raw)
}

// ParseKinds parses supported-kinds YAML bytes.
func ParseKinds(raw []byte) ([]KindConfig, error) {
	var file kindsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInvalidArgument, "malformed kinds file", err)
	}
	if len(file.Kinds) == 0 {
		return nil, agentmesh.E(agentmesh.KindInvalidArgument, "kinds file declares no kinds")
	}
	for _, k := range file.Kinds {
		if err := k.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Kinds, nil
}
