package engine

import (
	"testing"

	"github.com/0xBreath/lunar-engine/pkg/models"
)

func TestTradeQtySizing(t *testing.T) {
	e := &Engine{
		assets: models.Assets{FreeQuote: 300, FreeBase: 3},
	}
	bar := models.Candle{Close: 10}

	// A third of free quote buys 10 base units, but the long is capped at
	// half of what the short side could cover.
	if got, want := e.tradeQty(models.SideLong, bar), models.RoundQuantity(3*0.33/2); got != want {
		t.Errorf("long qty = %v, want %v", got, want)
	}

	// The short side's third of free base fits inside half the long capacity.
	if got, want := e.tradeQty(models.SideShort, bar), models.RoundQuantity(3*0.33); got != want {
		t.Errorf("short qty = %v, want %v", got, want)
	}
}

func TestTradeQtyBalancedAccount(t *testing.T) {
	// With holdings equalized, both sides land on half of the opposite
	// side's capacity so either exit stays collateralized.
	e := &Engine{
		assets: models.Assets{FreeQuote: 100, FreeBase: 10},
	}
	bar := models.Candle{Close: 10}

	long := e.tradeQty(models.SideLong, bar)
	short := e.tradeQty(models.SideShort, bar)
	if want := models.RoundQuantity(10 * 0.33 / 2); long != want {
		t.Errorf("long qty = %v, want %v", long, want)
	}
	if want := models.RoundQuantity(100.0 / 10 / 3 / 2); short != want {
		t.Errorf("short qty = %v, want %v", short, want)
	}
}
