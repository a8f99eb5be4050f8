package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// instrumentsFile is the on-disk shape of the per-instrument overrides.
// Enabled is a pointer so an omitted key means enabled, like every other
// backfilled field, while an explicit `enabled: false` still disables.
type instrumentsFile struct {
	Instruments []instrumentEntry `yaml:"instruments"`
}

type instrumentEntry struct {
	Symbol           string `yaml:"symbol"`
	Enabled          *bool  `yaml:"enabled"`
	MaxLeverage      int    `yaml:"max_leverage"`
	MaxOpenPositions int    `yaml:"max_open_positions"`

	StopLossPct        float64 `yaml:"stop_loss_pct"`
	TakeProfit1Pct     float64 `yaml:"take_profit_1_pct"`
	TakeProfit1SizePct float64 `yaml:"take_profit_1_size_pct"`
	TakeProfit2Pct     float64 `yaml:"take_profit_2_pct"`
	TakeProfit2SizePct float64 `yaml:"take_profit_2_size_pct"`
}

// LoadInstrumentConfigs reads per-instrument overrides from a YAML file.
// A missing file is not an error; defaults apply to every symbol.
func LoadInstrumentConfigs(path string) ([]InstrumentConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read instruments file: %w", err)
	}

	var f instrumentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse instruments file: %w", err)
	}

	out := make([]InstrumentConfig, 0, len(f.Instruments))
	for i, e := range f.Instruments {
		if e.Symbol == "" {
			return nil, fmt.Errorf("instruments[%d]: symbol is required", i)
		}
		def := DefaultInstrumentConfig(e.Symbol)
		ic := InstrumentConfig{
			Symbol:             e.Symbol,
			Enabled:            e.Enabled == nil || *e.Enabled,
			MaxLeverage:        e.MaxLeverage,
			MaxOpenPositions:   e.MaxOpenPositions,
			StopLossPct:        e.StopLossPct,
			TakeProfit1Pct:     e.TakeProfit1Pct,
			TakeProfit1SizePct: e.TakeProfit1SizePct,
			TakeProfit2Pct:     e.TakeProfit2Pct,
			TakeProfit2SizePct: e.TakeProfit2SizePct,
		}
		if ic.MaxOpenPositions == 0 {
			ic.MaxOpenPositions = def.MaxOpenPositions
		}
		if ic.StopLossPct == 0 {
			ic.StopLossPct = def.StopLossPct
		}
		if ic.TakeProfit1Pct == 0 {
			ic.TakeProfit1Pct = def.TakeProfit1Pct
		}
		if ic.TakeProfit1SizePct == 0 {
			ic.TakeProfit1SizePct = def.TakeProfit1SizePct
		}
		if ic.TakeProfit2Pct == 0 {
			ic.TakeProfit2Pct = def.TakeProfit2Pct
		}
		if ic.TakeProfit2SizePct == 0 {
			ic.TakeProfit2SizePct = def.TakeProfit2SizePct
		}
		out = append(out, ic)
	}
	return out, nil
}
