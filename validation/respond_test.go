package validation

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/ledger"
)

// mockResponder fakes the ledger. Unset hooks default to a registered
// validator with a healthy balance and an open request naming it.
type mockResponder struct {
	getRequest func(dataHash [32]byte) (ledger.ValidationRequest, bool, error)
	respond    func(dataHash [32]byte, score uint8) (common.Hash, error)
	balance    func() (*big.Int, error)
	resolve    func() (ledger.AgentRecord, bool, error)
	head       *big.Int

	responded []uint8
}

var validatorAddr = common.HexToAddress("0x4000000000000000000000000000000000000004")

func (m *mockResponder) Address() common.Address { return validatorAddr }

func (m *mockResponder) ResolveByAddress(ctx context.Context, addr common.Address) (ledger.AgentRecord, bool, error) {
	if m.resolve != nil {
		return m.resolve()
	}
	return ledger.AgentRecord{AgentID: big.NewInt(5), Domain: "validator.example.test", Address: validatorAddr}, true, nil
}

func (m *mockResponder) GetValidationRequest(ctx context.Context, dataHash [32]byte) (ledger.ValidationRequest, bool, error) {
	if m.getRequest != nil {
		return m.getRequest(dataHash)
	}
	return ledger.ValidationRequest{
		ValidatorID:    big.NewInt(5),
		SellerID:       big.NewInt(7),
		ExpiresAtBlock: big.NewInt(9000),
	}, true, nil
}

func (m *mockResponder) RespondValidation(ctx context.Context, dataHash [32]byte, score uint8) (common.Hash, error) {
	m.responded = append(m.responded, score)
	if m.respond != nil {
		return m.respond(dataHash, score)
	}
	return common.HexToHash("0xfeed"), nil
}

func (m *mockResponder) TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if m.balance != nil {
		return m.balance()
	}
	return big.NewInt(1_000_000), nil
}

func (m *mockResponder) BlockNumber(ctx context.Context) (*big.Int, error) {
	if m.head != nil {
		return m.head, nil
	}
	return big.NewInt(100), nil
}

func respondingEngine(t *testing.T, responder Responder, fee int64) *Engine {
	t.Helper()
	return newTestEngine(t, WithResponder(responder, big.NewInt(fee)))
}

func TestRespondIfRequested(t *testing.T) {
	dataHash := DataHash(goodArtifact())
	result := Result{Quality: 90, Fraud: 95, Price: 100, Overall: 94, Passed: true}

	t.Run("records the overall score", func(t *testing.T) {
		responder := &mockResponder{}
		engine := respondingEngine(t, responder, 250)

		txHash, err := engine.RespondIfRequested(context.Background(), dataHash, result)
		if err != nil {
			t.Fatalf("RespondIfRequested: %v", err)
		}
		if txHash != common.HexToHash("0xfeed") {
			t.Errorf("txHash = %s", txHash)
		}
		if len(responder.responded) != 1 || responder.responded[0] != 94 {
			t.Errorf("responded = %v, want [94]", responder.responded)
		}
	})

	t.Run("no request is request_not_found", func(t *testing.T) {
		responder := &mockResponder{
			getRequest: func([32]byte) (ledger.ValidationRequest, bool, error) {
				return ledger.ValidationRequest{}, false, nil
			},
		}
		engine := respondingEngine(t, responder, 250)

		_, err := engine.RespondIfRequested(context.Background(), dataHash, result)
		if !agentmesh.IsKind(err, agentmesh.KindRequestNotFound) {
			t.Fatalf("err = %v, want request_not_found", err)
		}
		if len(responder.responded) != 0 {
			t.Error("responded despite missing request")
		}
	})

	t.Run("answered request is already_responded", func(t *testing.T) {
		responder := &mockResponder{
			getRequest: func([32]byte) (ledger.ValidationRequest, bool, error) {
				return ledger.ValidationRequest{ValidatorID: big.NewInt(5), Responded: true}, true, nil
			},
		}
		engine := respondingEngine(t, responder, 250)

		_, err := engine.RespondIfRequested(context.Background(), dataHash, result)
		if !agentmesh.IsKind(err, agentmesh.KindAlreadyResponded) {
			t.Fatalf("err = %v, want already_responded", err)
		}
	})

	t.Run("expired request is request_expired", func(t *testing.T) {
		responder := &mockResponder{head: big.NewInt(9001)}
		engine := respondingEngine(t, responder, 250)

		_, err := engine.RespondIfRequested(context.Background(), dataHash, result)
		if !agentmesh.IsKind(err, agentmesh.KindRequestExpired) {
			t.Fatalf("err = %v, want request_expired", err)
		}
	})

	t.Run("request naming another validator is unauthorized", func(t *testing.T) {
		responder := &mockResponder{
			getRequest: func([32]byte) (ledger.ValidationRequest, bool, error) {
				return ledger.ValidationRequest{ValidatorID: big.NewInt(99), SellerID: big.NewInt(7)}, true, nil
			},
		}
		engine := respondingEngine(t, responder, 250)

		_, err := engine.RespondIfRequested(context.Background(), dataHash, result)
		if !agentmesh.IsKind(err, agentmesh.KindUnauthorizedValidator) {
			t.Fatalf("err = %v, want unauthorized_validator", err)
		}
		if len(responder.responded) != 0 {
			t.Error("responded despite wrong validator")
		}
	})

	t.Run("unregistered validator is unauthorized", func(t *testing.T) {
		responder := &mockResponder{
			resolve: func() (ledger.AgentRecord, bool, error) {
				return ledger.AgentRecord{}, false, nil
			},
		}
		engine := respondingEngine(t, responder, 250)

		_, err := engine.RespondIfRequested(context.Background(), dataHash, result)
		if !agentmesh.IsKind(err, agentmesh.KindUnauthorizedValidator) {
			t.Fatalf("err = %v, want unauthorized_validator", err)
		}
	})

	t.Run("fee exceeding balance is insufficient_balance", func(t *testing.T) {
		responder := &mockResponder{
			balance: func() (*big.Int, error) { return big.NewInt(100), nil },
		}
		engine := respondingEngine(t, responder, 250)

		_, err := engine.RespondIfRequested(context.Background(), dataHash, result)
		if !agentmesh.IsKind(err, agentmesh.KindInsufficientBalance) {
			t.Fatalf("err = %v, want insufficient_balance", err)
		}
	})

	t.Run("no responder configured", func(t *testing.T) {
		engine := newTestEngine(t)
		_, err := engine.RespondIfRequested(context.Background(), dataHash, result)
		if !agentmesh.IsKind(err, agentmesh.KindInvalidArgument) {
			t.Fatalf("err = %v, want invalid_argument", err)
		}
	})
}
