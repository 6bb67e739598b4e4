package risk

import "strings"

// ScalingTier caps contract count while the balance sits below UpTo.
// A zero UpTo marks the open-ended top tier.
type ScalingTier struct {
	UpTo         float64
	MaxContracts int
}

// AccountProfile carries one funded-program rule set. Values mirror the
// published combine parameters; deployments can override via config.
type AccountProfile struct {
	Name                 string
	AccountSize          float64
	ProfitTarget         float64
	DailyLossLimit       float64
	MaxDrawdownLimit     float64
	ConsistencyThreshold float64
	ScalingPlan          []ScalingTier
}

// MaxContractsFor evaluates the scaling plan against the account balance.
func (p AccountProfile) MaxContractsFor(balance float64) int {
	for _, tier := range p.ScalingPlan {
		if tier.UpTo > 0 && balance < tier.UpTo {
			return tier.MaxContracts
		}
	}
	if n := len(p.ScalingPlan); n > 0 {
		return p.ScalingPlan[n-1].MaxContracts
	}
	return 1
}

var profiles = map[string]AccountProfile{
	"50k": {
		Name:                 "50k",
		AccountSize:          50000,
		ProfitTarget:         3000,
		DailyLossLimit:       1000,
		MaxDrawdownLimit:     2000,
		ConsistencyThreshold: 0.5,
		ScalingPlan: []ScalingTier{
			{UpTo: 1500, MaxContracts: 2},
			{UpTo: 3000, MaxContracts: 3},
			{UpTo: 5000, MaxContracts: 4},
			{MaxContracts: 5},
		},
	},
	"100k": {
		Name:                 "100k",
		AccountSize:          100000,
		ProfitTarget:         6000,
		DailyLossLimit:       2000,
		MaxDrawdownLimit:     3000,
		ConsistencyThreshold: 0.5,
		ScalingPlan: []ScalingTier{
			{UpTo: 3000, MaxContracts: 3},
			{UpTo: 6000, MaxContracts: 4},
			{UpTo: 10000, MaxContracts: 5},
			{MaxContracts: 6},
		},
	},
	"150k": {
		Name:                 "150k",
		AccountSize:          150000,
		ProfitTarget:         9000,
		DailyLossLimit:       3000,
		MaxDrawdownLimit:     4500,
		ConsistencyThreshold: 0.5,
		ScalingPlan: []ScalingTier{
			{UpTo: 4500, MaxContracts: 4},
			{UpTo: 9000, MaxContracts: 5},
			{UpTo: 15000, MaxContracts: 6},
			{MaxContracts: 7},
		},
	},
}

// ProfileFor returns the built-in profile for a size name like "50k".
func ProfileFor(name string) (AccountProfile, bool) {
	p, ok := profiles[strings.ToLower(name)]
	return p, ok
}

// tickValues maps micro futures symbols to dollars per point of price
// movement against one contract.
var tickValues = map[string]float64{
	"MES": 5.0,
	"MNQ": 2.0,
	"MGC": 1.0,
}

// TickValue returns the per-contract dollar value for one point of price
// movement; unknown symbols conservatively price at 1.
func TickValue(symbol string) float64 {
	if v, ok := tickValues[strings.ToUpper(symbol)]; ok {
		return v
	}
	return 1.0
}
