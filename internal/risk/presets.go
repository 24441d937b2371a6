package risk

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"brokerd/internal/types"
)

//go:embed presets.yaml
var presetsYAML []byte

type presetValues struct {
	StopLossPercentage       float64 `yaml:"stop_loss_percentage"`
	TakeProfitPercentage     float64 `yaml:"take_profit_percentage"`
	MaxDrawdownPercentage    float64 `yaml:"max_drawdown_percentage"`
	CapitalAllocationPercent float64 `yaml:"capital_allocation_percentage"`
	DailyLossLimit           float64 `yaml:"daily_loss_limit"`
	AutoStopLossEnabled      bool    `yaml:"auto_stop_loss_enabled"`
	AutoTakeProfitEnabled    bool    `yaml:"auto_take_profit_enabled"`
	PositionSizingEnabled    bool    `yaml:"position_sizing_enabled"`
}

type presetFile struct {
	Presets map[string]presetValues `yaml:"presets"`
}

var presets map[string]presetValues

func init() {
	var f presetFile
	if err := yaml.Unmarshal(presetsYAML, &f); err != nil {
		panic(fmt.Sprintf("risk: embedded presets are invalid: %v", err))
	}
	presets = f.Presets
	for _, name := range []string{string(types.PresetConservative), string(types.PresetModerate), string(types.PresetAggressive)} {
		if _, ok := presets[name]; !ok {
			panic(fmt.Sprintf("risk: embedded presets missing %q", name))
		}
	}
}

// SettingsForPreset materializes preset defaults for a user. The moderate
// preset is the documented default applied on first access.
func SettingsForPreset(userID string, preset types.RiskPreset) (*types.RiskSettings, error) {
	vals, ok := presets[string(preset)]
	if !ok {
		return nil, fmt.Errorf("unknown risk preset %q", preset)
	}
	return &types.RiskSettings{
		UserID:                   userID,
		StopLossPercentage:       vals.StopLossPercentage,
		TakeProfitPercentage:     vals.TakeProfitPercentage,
		MaxDrawdownPercentage:    vals.MaxDrawdownPercentage,
		CapitalAllocationPercent: vals.CapitalAllocationPercent,
		DailyLossLimit:           vals.DailyLossLimit,
		AutoStopLossEnabled:      vals.AutoStopLossEnabled,
		AutoTakeProfitEnabled:    vals.AutoTakeProfitEnabled,
		PositionSizingEnabled:    vals.PositionSizingEnabled,
		RiskPreset:               preset,
	}, nil
}
