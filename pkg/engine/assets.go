package engine

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/0xBreath/lunar-engine/pkg/binance"
	"github.com/0xBreath/lunar-engine/pkg/models"
)

// minNotional is the smallest base-asset imbalance worth a corrective order.
const minNotional = 0.001

// UpdateAssets refreshes the cached balances from the signed account
// snapshot.
func (e *Engine) UpdateAssets(ctx context.Context) error {
	info, err := e.client.AccountInfo(ctx)
	if err != nil {
		return err
	}
	assets, err := info.Assets(e.quoteAsset, e.baseAsset)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.assets = assets
	e.mu.Unlock()
	return nil
}

// Assets returns the last fetched balances.
func (e *Engine) Assets() models.Assets {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.assets
}

func (e *Engine) logAssets() {
	e.logger.WithFields(logrus.Fields{
		"quote_asset":  e.quoteAsset,
		"quote_free":   e.assets.FreeQuote,
		"quote_locked": e.assets.LockedQuote,
		"base_asset":   e.baseAsset,
		"base_free":    e.assets.FreeBase,
		"base_locked":  e.assets.LockedBase,
	}).Info("Account assets")
}

// tradeQty sizes the entry so the symmetric exit legs stay fully
// collateralized without margin: each side is bounded to at most half of
// what the opposite exit would require.
func (e *Engine) tradeQty(side models.Side, bar models.Candle) float64 {
	longQty := e.assets.FreeQuote / bar.Close / 3
	shortQty := e.assets.FreeBase * 0.33

	var qty float64
	switch side {
	case models.SideLong:
		qty = longQty
		if longQty > shortQty/2 {
			qty = shortQty / 2
		}
	default:
		qty = shortQty
		if shortQty > longQty/2 {
			qty = longQty / 2
		}
	}
	return models.RoundQuantity(qty)
}

// EqualizeAssets rebalances base and quote holdings to a 50/50 value split
// before trading begins, issuing at most one corrective limit order per
// asset. Imbalances below the minimum notional are left alone.
func (e *Engine) EqualizeAssets(ctx context.Context) error {
	e.logger.Info("Equalizing assets")
	info, err := e.client.AccountInfo(ctx)
	if err != nil {
		return err
	}
	assets, err := info.Assets(e.quoteAsset, e.baseAsset)
	if err != nil {
		return err
	}
	price, err := e.client.Price(ctx, e.symbol)
	if err != nil {
		return err
	}

	quoteBalance := assets.FreeQuote / price
	baseBalance := assets.FreeBase
	equal := models.RoundQuantity((quoteBalance + baseBalance) / 2)
	quoteDiff := models.RoundQuantity(quoteBalance - equal)
	baseDiff := models.RoundQuantity(baseBalance - equal)

	if quoteDiff > minNotional {
		qty := models.RoundQuantity(quoteDiff)
		e.logger.WithFields(logrus.Fields{
			"quote_value": quoteBalance * price,
			"target":      equal * price,
			"buy_qty":     qty,
		}).Info("Quote asset too high, buying base asset")
		buyBase := binance.TradeRequest{
			Symbol:        e.symbol,
			ClientOrderID: models.Timestamp() + "-EQUALIZE_QUOTE",
			Side:          models.SideLong,
			OrderType:     models.OrderTypeLimit,
			Quantity:      qty,
			Price:         price,
		}
		if _, err := e.client.PlaceOrder(ctx, buyBase); err != nil {
			e.logger.WithError(err).Error("Failed to equalize quote asset")
			return err
		}
	}

	if baseDiff > minNotional {
		qty := models.RoundQuantity(baseDiff)
		e.logger.WithFields(logrus.Fields{
			"base_value": baseBalance,
			"target":     equal,
			"sell_qty":   qty,
		}).Info("Base asset too high, selling base asset")
		sellBase := binance.TradeRequest{
			Symbol:        e.symbol,
			ClientOrderID: models.Timestamp() + "-EQUALIZE_BASE",
			Side:          models.SideShort,
			OrderType:     models.OrderTypeLimit,
			Quantity:      qty,
			Price:         price,
		}
		if _, err := e.client.PlaceOrder(ctx, sellBase); err != nil {
			e.logger.WithError(err).Error("Failed to equalize base asset")
			return err
		}
	}

	return nil
}
