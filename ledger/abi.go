package ledger

var (
	// IdentityRegistryABI covers the agent identity registry. Resolution
	// methods return zero values, not reverts, for unknown agents; agent ids
	// start at 1.
	IdentityRegistryABI = []byte(`[
		{
			"inputs": [
				{"name": "agentDomain", "type": "string"},
				{"name": "agentAddress", "type": "address"}
			],
			"name": "newAgent",
			"outputs": [{"name": "agentId", "type": "uint256"}],
			"stateMutability": "payable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "newDomain", "type": "string"}
			],
			"name": "updateAgent",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "agentAddress", "type": "address"}
			],
			"name": "resolveByAddress",
			"outputs": [
				{"name": "agentId", "type": "uint256"},
				{"name": "agentDomain", "type": "string"},
				{"name": "agentAddress", "type": "address"}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "agentDomain", "type": "string"}
			],
			"name": "resolveByDomain",
			"outputs": [
				{"name": "agentId", "type": "uint256"},
				{"name": "agentDomain", "type": "string"},
				{"name": "agentAddress", "type": "address"}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "registrationFee",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// ReputationRegistryABI stores one (rating, timestamp) entry per ordered
	// (rater, ratee) pair; resubmission overwrites.
	ReputationRegistryABI = []byte(`[
		{
			"inputs": [
				{"name": "serverId", "type": "uint256"},
				{"name": "rating", "type": "uint8"}
			],
			"name": "rateServer",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "clientId", "type": "uint256"},
				{"name": "rating", "type": "uint8"}
			],
			"name": "rateClient",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "raterId", "type": "uint256"},
				{"name": "rateeId", "type": "uint256"}
			],
			"name": "getRating",
			"outputs": [
				{"name": "rating", "type": "uint8"},
				{"name": "exists", "type": "bool"}
			],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// ValidationRegistryABI records validation requests and their single
	// response, keyed by data hash.
	ValidationRegistryABI = []byte(`[
		{
			"inputs": [
				{"name": "validatorId", "type": "uint256"},
				{"name": "sellerId", "type": "uint256"},
				{"name": "dataHash", "type": "bytes32"}
			],
			"name": "validationRequest",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "dataHash", "type": "bytes32"},
				{"name": "score", "type": "uint8"}
			],
			"name": "validationResponse",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "dataHash", "type": "bytes32"}
			],
			"name": "getValidationRequest",
			"outputs": [
				{"name": "validatorId", "type": "uint256"},
				{"name": "sellerId", "type": "uint256"},
				{"name": "expiresAtBlock", "type": "uint256"},
				{"name": "responded", "type": "bool"},
				{"name": "exists", "type": "bool"}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "dataHash", "type": "bytes32"}
			],
			"name": "getValidationResponse",
			"outputs": [
				{"name": "score", "type": "uint8"},
				{"name": "exists", "type": "bool"}
			],
			"stateMutability": "view",
			"type": "function"
		}
	]`)

	// TokenABI covers the EIP-3009 payment token: the v,r,s settlement entry
	// point, the nonce consumption check, balance and the EIP-712 domain
	// metadata reads.
	TokenABI = []byte(`[
		{
			"inputs": [
				{"name": "from", "type": "address"},
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"},
				{"name": "validAfter", "type": "uint256"},
				{"name": "validBefore", "type": "uint256"},
				{"name": "nonce", "type": "bytes32"},
				{"name": "v", "type": "uint8"},
				{"name": "r", "type": "bytes32"},
				{"name": "s", "type": "bytes32"}
			],
			"name": "transferWithAuthorization",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "authorizer", "type": "address"},
				{"name": "nonce", "type": "bytes32"}
			],
			"name": "authorizationState",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "account", "type": "address"}
			],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "name",
			"outputs": [{"name": "", "type": "string"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "symbol",
			"outputs": [{"name": "", "type": "string"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "version",
			"outputs": [{"name": "", "type": "string"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [],
			"name": "decimals",
			"outputs": [{"name": "", "type": "uint8"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
)
