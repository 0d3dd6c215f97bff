package httpapi

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"bundlerelay/internal/application"
	"bundlerelay/internal/domain"
)

type feeRequest struct {
	Token             *common.Address `json:"token"`
	TokenDecimals     *int32          `json:"token_decimals"`
	GasLimit          uint64          `json:"gas_limit"`
	PremiumMultiplier *float64        `json:"premium_multiplier"`
}

type feeResponse struct {
	BribeInEth    string `json:"bribe_in_eth"`
	BribeInTokens string `json:"bribe_in_tokens"`
}

func (s *Server) handleEstimateFee(c echo.Context) error {
	var req feeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Token == nil {
		return domainError(&domain.MissingFieldError{Field: "token"})
	}
	if req.GasLimit == 0 {
		return domainError(&domain.MissingFieldError{Field: "gas_limit"})
	}
	params := domain.FeeParams{
		Token:             *req.Token,
		BundleGasLimit:    req.GasLimit,
		PremiumMultiplier: s.deps.PremiumMultiplier,
	}
	if req.PremiumMultiplier != nil {
		params.PremiumMultiplier = *req.PremiumMultiplier
	}
	switch {
	case req.TokenDecimals != nil:
		params.TokenDecimals = *req.TokenDecimals
	default:
		token, ok := s.deps.Tokens.Lookup(*req.Token)
		if !ok {
			return domainError(&domain.MissingFieldError{Field: "token_decimals"})
		}
		params.TokenDecimals = token.Decimals
	}

	estimate, err := s.deps.Fees.EstimateFee(c.Request().Context(), params)
	s.deps.Metrics.ObserveFeeEstimate(err)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, feeResponse{
		BribeInEth:    estimate.BribeInEth.String(),
		BribeInTokens: estimate.BribeInTokens.String(),
	})
}

type buildRequest struct {
	Token       common.Address  `json:"token"`
	Recipient   common.Address  `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
	FeeTokens   decimal.Decimal `json:"fee_tokens"`
	BribeWei    decimal.Decimal `json:"bribe_wei"`
	Deadline    uint64          `json:"deadline"`
	SkipApprove bool            `json:"skip_approve"`
}

type buildResponse struct {
	Fragments     []domain.TransactionFragment `json:"fragments"`
	TotalGasLimit uint64                       `json:"total_gas_limit"`
}

func (s *Server) handleBuildBundle(c echo.Context) error {
	var req buildRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	token, ok := s.deps.Tokens.Lookup(req.Token)
	if !ok {
		return domainError(domain.ErrUnsupportedToken)
	}
	amount, err := wholeNumber("amount", req.Amount)
	if err != nil {
		return err
	}
	feeTokens, err := wholeNumber("fee_tokens", req.FeeTokens)
	if err != nil {
		return err
	}
	bribe, err := wholeNumber("bribe_wei", req.BribeWei)
	if err != nil {
		return err
	}
	fragments, err := application.BuildTransferBundle(s.deps.Network, token, application.TransferRequest{
		Recipient:   req.Recipient,
		Amount:      amount,
		FeeTokens:   feeTokens,
		BribeWei:    bribe,
		Deadline:    req.Deadline,
		SkipApprove: req.SkipApprove,
	})
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return domainError(err)
	}
	return c.JSON(http.StatusOK, buildResponse{
		Fragments:     fragments,
		TotalGasLimit: domain.TotalGasLimit(fragments),
	})
}

func wholeNumber(field string, value decimal.Decimal) (*big.Int, error) {
	if !value.IsInteger() || value.IsNegative() {
		return nil, echo.NewHTTPError(http.StatusBadRequest, field+" must be a non-negative integer")
	}
	return value.BigInt(), nil
}

type populateRequest struct {
	From      *common.Address              `json:"from"`
	Fragments []domain.TransactionFragment `json:"fragments"`
}

type populatedEntry struct {
	Transaction   domain.PopulatedTransaction `json:"transaction"`
	SigningDigest common.Hash                 `json:"signing_digest"`
}

func (s *Server) handlePopulate(c echo.Context) error {
	var req populateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.From == nil {
		return domainError(&domain.MissingFieldError{Field: "from"})
	}
	if len(req.Fragments) == 0 {
		return domainError(&domain.MissingFieldError{Field: "fragments"})
	}
	populated, err := s.deps.Populator.PopulateTransactions(c.Request().Context(), *req.From, req.Fragments)
	if err != nil {
		return domainError(err)
	}
	out := make([]populatedEntry, 0, len(populated))
	for _, tx := range populated {
		out = append(out, populatedEntry{Transaction: tx, SigningDigest: application.SigningDigest(tx)})
	}
	return c.JSON(http.StatusOK, out)
}

type submitRequest struct {
	Key                string          `json:"key"`
	SignedTransactions []hexutil.Bytes `json:"signed_transactions"`
}

type attemptResponse struct {
	ID           string          `json:"id"`
	Key          string          `json:"key"`
	ChainID      uint64          `json:"chain_id"`
	Status       string          `json:"status"`
	TargetBlock  uint64          `json:"target_block,omitempty"`
	Attempts     int             `json:"attempts"`
	BundleHash   string          `json:"bundle_hash,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	Transactions []hexutil.Bytes `json:"signed_transactions,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toAttemptResponse(attempt domain.BundleAttempt) attemptResponse {
	return attemptResponse{
		ID:           attempt.ID,
		Key:          attempt.Key,
		ChainID:      attempt.ChainID,
		Status:       string(attempt.Status),
		TargetBlock:  attempt.TargetBlock,
		Attempts:     attempt.Attempts,
		BundleHash:   attempt.BundleHash,
		LastError:    attempt.LastError,
		Transactions: attempt.Transactions,
		CreatedAt:    attempt.CreatedAt,
		UpdatedAt:    attempt.UpdatedAt,
	}
}

func (s *Server) handleSubmitBundle(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.SignedTransactions) == 0 {
		return domainError(domain.ErrEmptyBundle)
	}
	for i, raw := range req.SignedTransactions {
		var tx types.Transaction
		if err := tx.UnmarshalBinary(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "signed_transactions["+strconv.Itoa(i)+"] is not a signed transaction")
		}
	}
	attempt, err := s.deps.Bundles.Submit(c.Request().Context(), req.Key, req.SignedTransactions)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusAccepted, toAttemptResponse(attempt))
}

func (s *Server) handleListBundles(c echo.Context) error {
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	attempts, err := s.deps.Bundles.List(c.Request().Context(), c.QueryParam("key"), limit)
	if err != nil {
		return err
	}
	out := make([]attemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		out = append(out, toAttemptResponse(attempt))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetBundle(c echo.Context) error {
	attempt, ok, err := s.deps.Bundles.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "bundle not found")
	}
	return c.JSON(http.StatusOK, toAttemptResponse(attempt))
}

func (s *Server) handleCancelBundle(c echo.Context) error {
	id := c.Param("id")
	if s.deps.Bundles.Cancel(id) {
		return c.JSON(http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
	}
	_, ok, err := s.deps.Bundles.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "bundle not found")
	}
	return echo.NewHTTPError(http.StatusConflict, "bundle already finished")
}
