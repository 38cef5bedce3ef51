package payments

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gluenet/agentmesh"
)

func testDomain() Domain {
	return Domain{
		Name:              "Glue Token",
		Version:           "1",
		ChainID:           big.NewInt(43113),
		VerifyingContract: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
	}
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	signer, err := NewSigner(key)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	return signer
}

func TestSignTransfer(t *testing.T) {
	signer := newTestSigner(t)
	to := common.HexToAddress("0x9876543210987654321098765432109876543210")

	t.Run("signed authorization verifies against signer address", func(t *testing.T) {
		auth, err := signer.SignTransfer(SignParams{
			To:     to,
			Value:  big.NewInt(10000),
			Domain: testDomain(),
		})
		if err != nil {
			t.Fatalf("Failed to sign transfer: %v", err)
		}

		if auth.From != signer.Address().Hex() {
			t.Errorf("Expected from %s, got %s", signer.Address().Hex(), auth.From)
		}
		if auth.V != 27 && auth.V != 28 {
			t.Errorf("Expected v in {27, 28}, got %d", auth.V)
		}

		valid, err := VerifyTransfer(*auth, testDomain())
		if err != nil {
			t.Fatalf("Failed to verify transfer: %v", err)
		}
		if !valid {
			t.Error("Authorization should verify against its own domain")
		}
	})

	t.Run("defaults fill validity window and nonce", func(t *testing.T) {
		auth, err := signer.SignTransfer(SignParams{
			To:     to,
			Value:  big.NewInt(1),
			Domain: testDomain(),
		})
		if err != nil {
			t.Fatalf("Failed to sign transfer: %v", err)
		}

		if auth.ValidAfter != "0" {
			t.Errorf("Expected default validAfter 0, got %s", auth.ValidAfter)
		}
		if len(auth.Nonce) != 66 {
			t.Errorf("Expected 0x-prefixed 32-byte nonce, got length %d", len(auth.Nonce))
		}

		validAfter, validBefore, err := auth.Window()
		if err != nil {
			t.Fatalf("Failed to parse window: %v", err)
		}
		if validAfter.Cmp(validBefore) >= 0 {
			t.Error("validAfter should precede validBefore")
		}
	})

	t.Run("distinct calls use distinct nonces", func(t *testing.T) {
		auth1, err1 := signer.SignTransfer(SignParams{To: to, Value: big.NewInt(5), Domain: testDomain()})
		auth2, err2 := signer.SignTransfer(SignParams{To: to, Value: big.NewInt(5), Domain: testDomain()})
		if err1 != nil || err2 != nil {
			t.Fatalf("Signing failed: %v, %v", err1, err2)
		}
		if auth1.Nonce == auth2.Nonce {
			t.Error("Two authorizations should not share a nonce")
		}
	})

	t.Run("explicit nonce is deterministic", func(t *testing.T) {
		nonce := [32]byte{0x01}
		before := big.NewInt(9999999999)
		params := SignParams{
			To:          to,
			Value:       big.NewInt(42),
			ValidBefore: before,
			Nonce:       &nonce,
			Domain:      testDomain(),
		}
		auth1, err1 := signer.SignTransfer(params)
		auth2, err2 := signer.SignTransfer(params)
		if err1 != nil || err2 != nil {
			t.Fatalf("Signing failed: %v, %v", err1, err2)
		}
		if auth1.R != auth2.R || auth1.S != auth2.S || auth1.V != auth2.V {
			t.Error("Same parameters should produce the same signature")
		}
	})

	t.Run("rejects non-positive value", func(t *testing.T) {
		_, err := signer.SignTransfer(SignParams{To: to, Value: big.NewInt(0), Domain: testDomain()})
		if !agentmesh.IsKind(err, agentmesh.KindInvalidArgument) {
			t.Errorf("Expected invalid_argument, got %v", err)
		}
	})

	t.Run("rejects inverted validity window", func(t *testing.T) {
		_, err := signer.SignTransfer(SignParams{
			To:          to,
			Value:       big.NewInt(1),
			ValidAfter:  big.NewInt(200),
			ValidBefore: big.NewInt(100),
			Domain:      testDomain(),
		})
		if !agentmesh.IsKind(err, agentmesh.KindInvalidArgument) {
			t.Errorf("Expected invalid_argument, got %v", err)
		}
	})
}

func TestVerifyTransfer(t *testing.T) {
	signer := newTestSigner(t)
	to := common.HexToAddress("0x9876543210987654321098765432109876543210")

	sign := func(t *testing.T) agentmesh.TransferAuthorization {
		t.Helper()
		auth, err := signer.SignTransfer(SignParams{
			To:     to,
			Value:  big.NewInt(10000),
			Domain: testDomain(),
		})
		if err != nil {
			t.Fatalf("Failed to sign transfer: %v", err)
		}
		return *auth
	}

	t.Run("tampered value fails verification", func(t *testing.T) {
		auth := sign(t)
		auth.Value = "20000"

		valid, err := VerifyTransfer(auth, testDomain())
		if err != nil {
			t.Fatalf("Failed to verify transfer: %v", err)
		}
		if valid {
			t.Error("Tampered value should not verify")
		}
	})

	t.Run("tampered recipient fails verification", func(t *testing.T) {
		auth := sign(t)
		auth.To = "0x1111111111111111111111111111111111111111"

		valid, err := VerifyTransfer(auth, testDomain())
		if err != nil {
			t.Fatalf("Failed to verify transfer: %v", err)
		}
		if valid {
			t.Error("Tampered recipient should not verify")
		}
	})

	t.Run("wrong chain id fails verification", func(t *testing.T) {
		auth := sign(t)
		domain := testDomain()
		domain.ChainID = big.NewInt(1)

		valid, err := VerifyTransfer(auth, domain)
		if err != nil {
			t.Fatalf("Failed to verify transfer: %v", err)
		}
		if valid {
			t.Error("Signature bound to another chain should not verify")
		}
	})

	t.Run("substituted from address fails verification", func(t *testing.T) {
		auth := sign(t)
		auth.From = "0x2222222222222222222222222222222222222222"

		valid, err := VerifyTransfer(auth, testDomain())
		if err != nil {
			t.Fatalf("Failed to verify transfer: %v", err)
		}
		if valid {
			t.Error("Authorization should only verify for the signing address")
		}
	})

	t.Run("malformed authorization is rejected", func(t *testing.T) {
		auth := sign(t)
		auth.Nonce = "0x1234"

		_, err := VerifyTransfer(auth, testDomain())
		if !agentmesh.IsKind(err, agentmesh.KindInvalidArgument) {
			t.Errorf("Expected invalid_argument, got %v", err)
		}
	})
}

func TestDigestTransferAuthorization(t *testing.T) {
	auth := agentmesh.TransferAuthorization{
		From:        "0x1234567890123456789012345678901234567890",
		To:          "0x9876543210987654321098765432109876543210",
		Value:       "1000000",
		ValidAfter:  "0",
		ValidBefore: "9999999999",
		Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
	}

	t.Run("produces 32-byte digest", func(t *testing.T) {
		digest, err := DigestTransferAuthorization(auth, testDomain())
		if err != nil {
			t.Fatalf("Failed to compute digest: %v", err)
		}
		if len(digest) != 32 {
			t.Errorf("Expected 32-byte digest, got %d bytes", len(digest))
		}
	})

	t.Run("same inputs produce same digest", func(t *testing.T) {
		digest1, err1 := DigestTransferAuthorization(auth, testDomain())
		digest2, err2 := DigestTransferAuthorization(auth, testDomain())
		if err1 != nil || err2 != nil {
			t.Fatalf("Hashing failed: %v, %v", err1, err2)
		}
		if string(digest1) != string(digest2) {
			t.Error("Same inputs should produce same digest")
		}
	})

	t.Run("different token contract produces different digest", func(t *testing.T) {
		other := testDomain()
		other.VerifyingContract = common.HexToAddress("0x1111111111111111111111111111111111111111")

		digest1, _ := DigestTransferAuthorization(auth, testDomain())
		digest2, _ := DigestTransferAuthorization(auth, other)
		if string(digest1) == string(digest2) {
			t.Error("Different verifying contracts should produce different digests")
		}
	})
}

func TestDomainFromRequirement(t *testing.T) {
	req := agentmesh.PaymentRequirement{
		Scheme:    agentmesh.SchemeExact,
		Network:   "avalanche-fuji",
		Asset:     "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		PayTo:     "0x9876543210987654321098765432109876543210",
		MaxAmount: "10000",
		Extra:     map[string]any{"name": "Glue Token", "version": "1"},
	}

	t.Run("pulls name and version from extra", func(t *testing.T) {
		domain, err := DomainFromRequirement(req, big.NewInt(43113))
		if err != nil {
			t.Fatalf("Failed to build domain: %v", err)
		}
		if domain.Name != "Glue Token" || domain.Version != "1" {
			t.Errorf("Unexpected domain: %+v", domain)
		}
		if domain.VerifyingContract != common.HexToAddress(req.Asset) {
			t.Error("Verifying contract should be the asset address")
		}
	})

	t.Run("rejects missing token metadata", func(t *testing.T) {
		bare := req
		bare.Extra = nil
		if _, err := DomainFromRequirement(bare, big.NewInt(43113)); err == nil {
			t.Error("Expected error for requirement without token metadata")
		}
	})

	t.Run("rejects missing chain id", func(t *testing.T) {
		if _, err := DomainFromRequirement(req, nil); err == nil {
			t.Error("Expected error for nil chain id")
		}
	})
}
