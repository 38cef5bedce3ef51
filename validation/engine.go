// Package validation scores data artifacts along three axes (quality,
// fraud, price fairness) and, when an on-chain validation request names
// this validator, records the blended score in the validation registry.
package validation

import (
	"context"
	"encoding/json"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/gluenet/agentmesh"
)

// Result is one artifact's verdict. Sub-scores and the blend are always
// in [0,100]; the same artifact and dataType always produce the same
// Result.
type Result struct {
	Quality uint8    `json:"quality"`
	Fraud   uint8    `json:"fraud"`
	Price   uint8    `json:"price"`
	Overall uint8    `json:"overall"`
	Passed  bool     `json:"passed"`
	Issues  []string `json:"issues,omitempty"`
}

// Weights blends the three sub-scores into the overall score.
type Weights struct {
	Quality float64
	Fraud   float64
	Price   float64
}

// DefaultWeights favors quality and fraud equally, with price as a
// tiebreaker.
var DefaultWeights = Weights{Quality: 0.4, Fraud: 0.4, Price: 0.2}

// PassThreshold is the minimum overall score for a passing verdict.
const PassThreshold = 70

// PriceBand is the historical fair-price range for one dataType, in
// atomic token units.
type PriceBand struct {
	Low  float64
	High float64
}

// Engine is the validator. Zero or one Responder: without one the engine
// is a pure scorer.
type Engine struct {
	weights   Weights
	bands     map[string]PriceBand
	schemas   map[string]*gojsonschema.Schema
	responder Responder
	feeUnits  *big.Int
	log       *zap.Logger
}

// Option customizes an Engine.
type Option func(*Engine) error

// WithWeights replaces the default 0.4/0.4/0.2 blend. Weights must be
// non-negative and sum to a positive total.
func WithWeights(w Weights) Option {
	return func(e *Engine) error {
		if w.Quality < 0 || w.Fraud < 0 || w.Price < 0 || w.Quality+w.Fraud+w.Price <= 0 {
			return agentmesh.E(agentmesh.KindInvalidArgument, "weights must be non-negative with a positive sum")
		}
		e.weights = w
		return nil
	}
}

// WithPriceBand declares the historical fair-price range for a dataType.
func WithPriceBand(dataType string, band PriceBand) Option {
	return func(e *Engine) error {
		if band.Low < 0 || band.High < band.Low {
			return agentmesh.Ef(agentmesh.KindInvalidArgument, "bad price band for %q", dataType)
		}
		e.bands[dataType] = band
		return nil
	}
}

// WithTypeSchema registers a JSON Schema the quality check applies to
// artifacts of the given dataType.
func WithTypeSchema(dataType, schemaJSON string) Option {
	return func(e *Engine) error {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
		if err != nil {
			return agentmesh.Wrap(agentmesh.KindInvalidArgument, "schema for "+dataType, err)
		}
		e.schemas[dataType] = schema
		return nil
	}
}

// WithResponder attaches the on-chain side so RespondIfRequested can
// record scores. feeUnits is the token balance the validator must hold
// before it will respond.
func WithResponder(r Responder, feeUnits *big.Int) Option {
	return func(e *Engine) error {
		if feeUnits == nil || feeUnits.Sign() < 0 {
			return agentmesh.E(agentmesh.KindInvalidArgument, "fee units must be non-negative")
		}
		e.responder = r
		e.feeUnits = new(big.Int).Set(feeUnits)
		return nil
	}
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) error {
		e.log = log
		return nil
	}
}

// NewEngine builds a validation engine with the default weights and the
// built-in chat-logs schema and band.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		weights: DefaultWeights,
		bands:   map[string]PriceBand{"chat-logs": {Low: 5000, High: 50000}},
		schemas: make(map[string]*gojsonschema.Schema),
		log:     zap.NewNop(),
	}
	chatLogs, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(chatLogsSchema))
	if err != nil {
		return nil, agentmesh.Wrap(agentmesh.KindInternal, "built-in chat-logs schema", err)
	}
	e.schemas["chat-logs"] = chatLogs
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// DataHash derives the registry key for an artifact.
func DataHash(artifact []byte) [32]byte {
	return crypto.Keccak256Hash(artifact)
}

// Evaluate scores an artifact. It never fails: malformed input degrades
// to a low-quality, non-passing Result with explanatory issues.
func (e *Engine) Evaluate(ctx context.Context, artifact []byte, dataType string) Result {
	result, err := e.EvaluateStrict(ctx, artifact, dataType)
	if err != nil {
		result = e.blend(0, 50, 50, []string{"quality: artifact is not valid JSON"})
	}
	return result
}

// EvaluateStrict scores an artifact, refusing non-JSON bytes with a
// data_malformed error instead of degrading.
func (e *Engine) EvaluateStrict(ctx context.Context, artifact []byte, dataType string) (Result, error) {
	var doc any
	if err := json.Unmarshal(artifact, &doc); err != nil {
		return Result{}, agentmesh.Wrap(agentmesh.KindDataMalformed, "artifact is not valid JSON", err)
	}

	var issues []string
	quality, qualityIssues := scoreQuality(doc, artifact, e.schemas[dataType])
	issues = append(issues, qualityIssues...)

	fraud, fraudIssues := scoreFraud(doc)
	issues = append(issues, fraudIssues...)

	price, priceIssues := scorePrice(doc, dataType, e.bands)
	issues = append(issues, priceIssues...)

	result := e.blend(quality, fraud, price, issues)
	e.log.Debug("artifact scored",
		zap.String("dataType", dataType),
		zap.Uint8("quality", result.Quality),
		zap.Uint8("fraud", result.Fraud),
		zap.Uint8("price", result.Price),
		zap.Uint8("overall", result.Overall),
		zap.Bool("passed", result.Passed))
	return result, nil
}

func (e *Engine) blend(quality, fraud, price uint8, issues []string) Result {
	total := e.weights.Quality + e.weights.Fraud + e.weights.Price
	raw := (e.weights.Quality*float64(quality) +
		e.weights.Fraud*float64(fraud) +
		e.weights.Price*float64(price)) / total
	overall := clampScore(math.Round(raw))
	return Result{
		Quality: quality,
		Fraud:   fraud,
		Price:   price,
		Overall: overall,
		Passed:  overall >= PassThreshold,
		Issues:  issues,
	}
}

func clampScore(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return uint8(v)
}
