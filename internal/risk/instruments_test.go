package risk

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadInstrumentConfigs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	content := `
instruments:
  - symbol: BTCUSDT
    enabled: true
    max_leverage: 25
    max_open_positions: 2
    stop_loss_pct: 5
  - symbol: DOGEUSDT
    enabled: false
  - symbol: ETHUSDT
    max_leverage: 15
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	configs, err := LoadInstrumentConfigs(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(configs) != 3 {
		t.Fatalf("expected 3 configs, got %d", len(configs))
	}

	btc := configs[0]
	if btc.Symbol != "BTCUSDT" || !btc.Enabled || btc.MaxLeverage != 25 || btc.MaxOpenPositions != 2 {
		t.Fatalf("unexpected BTCUSDT config %+v", btc)
	}
	if btc.StopLossPct != 5 {
		t.Fatalf("explicit stop loss must survive, got %v", btc.StopLossPct)
	}
	// Unset protective levels pick up defaults.
	if btc.TakeProfit1Pct != 10 || btc.TakeProfit1SizePct != 50 {
		t.Fatalf("expected default take profit levels, got %+v", btc)
	}

	doge := configs[1]
	if doge.Enabled {
		t.Fatal("DOGEUSDT must stay disabled")
	}

	// An entry that omits the enabled key gets the enabled default, like
	// every other backfilled field.
	eth := configs[2]
	if !eth.Enabled {
		t.Fatal("omitted enabled key must default to enabled")
	}
	if eth.MaxLeverage != 15 {
		t.Fatalf("explicit override must survive, got %+v", eth)
	}
}

func TestLoadInstrumentConfigsMissingFile(t *testing.T) {
	configs, err := LoadInstrumentConfigs(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not be an error, got %v", err)
	}
	if configs != nil {
		t.Fatalf("expected nil configs, got %v", configs)
	}
}

func TestLoadInstrumentConfigsRejectsMissingSymbol(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	if err := os.WriteFile(path, []byte("instruments:\n  - enabled: true\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadInstrumentConfigs(path); err == nil {
		t.Fatal("expected error for missing symbol")
	}
}
