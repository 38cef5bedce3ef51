package validation

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/gluenet/agentmesh"
	"github.com/gluenet/agentmesh/ledger"
)

// Responder is the on-chain surface RespondIfRequested needs. A
// *ledger.Client satisfies it.
type Responder interface {
	Address() common.Address
	ResolveByAddress(ctx context.Context, addr common.Address) (ledger.AgentRecord, bool, error)
	GetValidationRequest(ctx context.Context, dataHash [32]byte) (ledger.ValidationRequest, bool, error)
	RespondValidation(ctx context.Context, dataHash [32]byte, score uint8) (common.Hash, error)
	TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	BlockNumber(ctx context.Context) (*big.Int, error)
}

// RespondIfRequested records a scored result on-chain when an open
// validation request names this validator. The absence of a request is
// reported, not swallowed; callers that score speculatively decide for
// themselves whether request_not_found matters.
func (e *Engine) RespondIfRequested(ctx context.Context, dataHash [32]byte, result Result) (common.Hash, error) {
	if e.responder == nil {
		return common.Hash{}, agentmesh.E(agentmesh.KindInvalidArgument, "engine has no responder configured")
	}

	req, exists, err := e.responder.GetValidationRequest(ctx, dataHash)
	if err != nil {
		return common.Hash{}, err
	}
	if !exists {
		return common.Hash{}, agentmesh.E(agentmesh.KindRequestNotFound, "no validation request for this data hash")
	}
	if req.Responded {
		return common.Hash{}, agentmesh.E(agentmesh.KindAlreadyResponded, "validation request already answered")
	}

	if req.ExpiresAtBlock != nil && req.ExpiresAtBlock.Sign() > 0 {
		head, err := e.responder.BlockNumber(ctx)
		if err != nil {
			return common.Hash{}, err
		}
		if head.Cmp(req.ExpiresAtBlock) > 0 {
			return common.Hash{}, agentmesh.Ef(agentmesh.KindRequestExpired,
				"validation request expired at block %s, head is %s", req.ExpiresAtBlock, head)
		}
	}

	self, found, err := e.responder.ResolveByAddress(ctx, e.responder.Address())
	if err != nil {
		return common.Hash{}, err
	}
	if !found {
		return common.Hash{}, agentmesh.E(agentmesh.KindUnauthorizedValidator, "validator is not a registered agent")
	}
	if self.AgentID.Cmp(req.ValidatorID) != 0 {
		return common.Hash{}, agentmesh.Ef(agentmesh.KindUnauthorizedValidator,
			"request names validator %s, this agent is %s", req.ValidatorID, self.AgentID)
	}

	if e.feeUnits != nil && e.feeUnits.Sign() > 0 {
		balance, err := e.responder.TokenBalance(ctx, e.responder.Address())
		if err != nil {
			return common.Hash{}, err
		}
		if balance.Cmp(e.feeUnits) < 0 {
			return common.Hash{}, agentmesh.Ef(agentmesh.KindInsufficientBalance,
				"balance %s cannot cover the %s unit validator fee", balance, e.feeUnits)
		}
	}

	txHash, err := e.responder.RespondValidation(ctx, dataHash, result.Overall)
	if err != nil {
		return common.Hash{}, err
	}
	e.log.Info("validation response recorded",
		zap.String("dataHash", common.Hash(dataHash).Hex()),
		zap.Uint8("score", result.Overall),
		zap.String("tx", txHash.Hex()))
	return txHash, nil
}
