package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/rs/zerolog"

	"github.com/Pythefnos/Topstep-quant/internal/errors"
)

// BybitConfig holds the configuration for the Bybit execution boundary
type BybitConfig struct {
	APIKey    string
	APISecret string
	Category  string // "linear" for USDT perpetuals
	Testnet   bool
	Demo      bool // demo trading environment (paper trading)
}

// BybitBroker implements ExecutionBroker against the Bybit v5 API.
// Both operations are idempotent: flattening an already-flat account and
// cancelling with no working orders are no-ops on the exchange side.
type BybitBroker struct {
	client   *bybit_api.Client
	category string
	logger   zerolog.Logger
}

// NewBybitBroker creates a Bybit-backed execution boundary
func NewBybitBroker(config BybitConfig, logger zerolog.Logger) *BybitBroker {
	var baseURL string
	if config.Demo {
		// Demo trading environment (paper trading)
		baseURL = "https://api-demo.bybit.com"
	} else if config.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}

	client := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	category := config.Category
	if category == "" {
		category = "linear"
	}

	return &BybitBroker{
		client:   client,
		category: category,
		logger:   logger,
	}
}

type bybitPosition struct {
	Symbol string
	Side   string
	Size   float64
}

// FlattenAll closes every open position with reduce-only market orders
func (b *BybitBroker) FlattenAll(ctx context.Context) error {
	positions, err := b.openPositions(ctx)
	if err != nil {
		return errors.NewExecutionError("flatten_all", "failed to list positions", err)
	}

	for _, pos := range positions {
		if pos.Size == 0 {
			continue
		}
		closeSide := "Sell"
		if pos.Side == "Sell" {
			closeSide = "Buy"
		}

		params := map[string]interface{}{
			"category":   b.category,
			"symbol":     pos.Symbol,
			"side":       closeSide,
			"orderType":  "Market",
			"qty":        strconv.FormatFloat(math.Abs(pos.Size), 'f', -1, 64),
			"reduceOnly": true,
		}

		result, err := b.client.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
		if err != nil {
			return errors.NewExecutionError("flatten_all",
				fmt.Sprintf("failed to close %s position", pos.Symbol), err)
		}
		if err := checkRetCode(result); err != nil {
			return errors.NewExecutionError("flatten_all",
				fmt.Sprintf("close order rejected for %s", pos.Symbol), err)
		}

		b.logger.Warn().
			Str("symbol", pos.Symbol).
			Str("side", closeSide).
			Float64("qty", pos.Size).
			Msg("flattened position")
	}

	return nil
}

// CancelAllWorking cancels every working order in the category
func (b *BybitBroker) CancelAllWorking(ctx context.Context) error {
	params := map[string]interface{}{
		"category":   b.category,
		"settleCoin": "USDT",
	}

	result, err := b.client.NewUtaBybitServiceWithParams(params).CancelAllOrders(ctx)
	if err != nil {
		return errors.NewExecutionError("cancel_all", "failed to cancel working orders", err)
	}
	if err := checkRetCode(result); err != nil {
		return errors.NewExecutionError("cancel_all", "cancel-all rejected", err)
	}

	b.logger.Warn().Str("category", b.category).Msg("cancelled all working orders")
	return nil
}

// openPositions lists the account's open positions for the category
func (b *BybitBroker) openPositions(ctx context.Context) ([]bybitPosition, error) {
	params := map[string]interface{}{
		"category":   b.category,
		"settleCoin": "USDT",
	}

	result, err := b.client.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	if err := checkRetCode(result); err != nil {
		return nil, err
	}

	resultBytes, err := json.Marshal(result.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	var positionResult struct {
		List []struct {
			Symbol string `json:"symbol"`
			Side   string `json:"side"`
			Size   string `json:"size"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &positionResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position result: %w", err)
	}

	var positions []bybitPosition
	for _, posData := range positionResult.List {
		size, err := strconv.ParseFloat(posData.Size, 64)
		if err != nil {
			return nil, fmt.Errorf("unparseable position size %q for %s", posData.Size, posData.Symbol)
		}
		positions = append(positions, bybitPosition{
			Symbol: posData.Symbol,
			Side:   posData.Side,
			Size:   size,
		})
	}

	return positions, nil
}

// checkRetCode validates a Bybit API response envelope
func checkRetCode(response *bybit_api.ServerResponse) error {
	if response == nil {
		return fmt.Errorf("empty response")
	}
	if response.RetCode != 0 {
		return fmt.Errorf("API error: %s (code: %d)", response.RetMsg, response.RetCode)
	}
	return nil
}
