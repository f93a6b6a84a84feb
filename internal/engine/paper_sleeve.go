package engine

import (
	"context"
	"math"
	mathrand "math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/Pythefnos/Topstep-quant/internal/config"
	"github.com/Pythefnos/Topstep-quant/internal/gate"
	"github.com/Pythefnos/Topstep-quant/internal/risk"
	"github.com/Pythefnos/Topstep-quant/internal/sleeve"
	"github.com/Pythefnos/Topstep-quant/pkg/types"
)

// paperSleeve is a self-contained random-walk strategy for sim runs. It
// drives the full coordination path: gate admission before entry, fills
// and marks through the coordinator, directives from its handle.
type paperSleeve struct {
	id     string
	market string
	qty    float64

	coord  *risk.Coordinator
	gate   *gate.Gate
	logger zerolog.Logger
	rng    *mathrand.Rand

	interval time.Duration
	price    float64
	entry    float64
}

func newPaperSleeve(sc config.SleeveConfig, coord *risk.Coordinator, g *gate.Gate, logger zerolog.Logger) *paperSleeve {
	qty := sc.Quantity
	if qty <= 0 {
		qty = 1
	}
	return &paperSleeve{
		id:       sc.ID,
		market:   sc.Market,
		qty:      qty,
		coord:    coord,
		gate:     g,
		logger:   logger.With().Str("component", "sleeve").Str("sleeve", sc.ID).Logger(),
		rng:      mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		interval: 2 * time.Second,
		price:    5000,
	}
}

func (s *paperSleeve) ID() string {
	return s.id
}

func (s *paperSleeve) Run(ctx context.Context, h *sleeve.Handle) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case d := <-h.Directives():
			s.logger.Info().
				Str("type", string(d.Type)).
				Str("reason", d.Reason).
				Msg("directive received")
			if d.Type == sleeve.DirectiveFlatten {
				s.close(h, d.Timestamp)
			}

		case <-ticker.C:
			s.tick(h)
		}
	}
}

func (s *paperSleeve) tick(h *sleeve.Handle) {
	now := time.Now()
	s.price += s.rng.NormFloat64() * 2

	pos := h.Position(s.market)
	if pos == 0 {
		decision := s.gate.Admit(s.id, types.Order{
			Market: s.market,
			Side:   types.SideBuy,
			Qty:    s.qty,
			Price:  s.price,
		})
		if !decision.Admitted {
			return
		}
		s.entry = s.price
		if err := s.coord.RecordFill(s.id, types.Fill{
			Market:    s.market,
			Side:      types.SideBuy,
			Qty:       decision.ScaledQty,
			Price:     s.price,
			Timestamp: now,
		}); err != nil {
			s.logger.Warn().Err(err).Msg("entry fill rejected")
		}
		return
	}

	unrealized := (s.price - s.entry) * pos
	if err := s.coord.RecordPosition(s.id, types.PositionUpdate{
		Market:        s.market,
		NetQty:        pos,
		UnrealizedPnL: unrealized,
		Timestamp:     now,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("mark rejected")
		return
	}

	// take profit or cut loss once the move is large enough
	if math.Abs(unrealized) >= s.qty*20 {
		s.close(h, now)
	}
}

// close realizes the open position's P&L and clears the mark
func (s *paperSleeve) close(h *sleeve.Handle, ts time.Time) {
	pos := h.Position(s.market)
	if pos == 0 {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	side := types.SideSell
	if pos < 0 {
		side = types.SideBuy
	}
	realized := (s.price - s.entry) * pos

	if err := s.coord.RecordFill(s.id, types.Fill{
		Market:      s.market,
		Side:        side,
		Qty:         math.Abs(pos),
		Price:       s.price,
		RealizedPnL: realized,
		Timestamp:   ts,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("exit fill rejected")
		return
	}
	if err := s.coord.RecordPosition(s.id, types.PositionUpdate{
		Market:    s.market,
		NetQty:    0,
		Timestamp: ts,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("clearing mark rejected")
	}
	s.logger.Info().
		Float64("realized", realized).
		Msg("position closed")
}
