package portfolio

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-live-engine/internal/models"
)

// Snapshot 单个品种视角下的账户快照，每次都从持久化层重新读取
type Snapshot struct {
	Instrument      string                `json:"instrument"`
	Equity          decimal.Decimal       `json:"equity"`
	Watermark       decimal.Decimal       `json:"equity_high_watermark"`
	MarginUsed      decimal.Decimal       `json:"margin_used"`
	MarginAvailable decimal.Decimal       `json:"margin_available"`
	OpenRisk        decimal.Decimal       `json:"open_risk"`
	InstrumentRisk  decimal.Decimal       `json:"instrument_risk"`
	Positions       []*models.Position    `json:"positions"` // 该品种 OPEN 仓位，按层级排序
	Pyramid         *models.PyramidState  `json:"pyramid"`
	Portfolio       models.PortfolioState `json:"-"`
}

// Base 底仓
func (s *Snapshot) Base() *models.Position {
	for _, p := range s.Positions {
		if p.PyramidLevel == 0 {
			return p
		}
	}
	return nil
}

// AtLevel 指定层级的仓位
func (s *Snapshot) AtLevel(level int) *models.Position {
	for _, p := range s.Positions {
		if p.PyramidLevel == level {
			return p
		}
	}
	return nil
}

// Top 最高层级仓位
func (s *Snapshot) Top() *models.Position {
	return topOf(s.Positions)
}

// ByLabel 标签匹配的仓位，ALL 或空标签返回全部
func (s *Snapshot) ByLabel(label string) []*models.Position {
	if label == "" || label == "ALL" {
		return s.Positions
	}
	var out []*models.Position
	for _, p := range s.Positions {
		if p.Label == label {
			out = append(out, p)
		}
	}
	return out
}

// View 全量视图，用于恢复校验和查询接口
type View struct {
	Portfolio        models.PortfolioState      `json:"portfolio"`
	MarginAvailable  decimal.Decimal            `json:"margin_available"`
	OpenRisk         decimal.Decimal            `json:"open_risk"`
	RiskByInstrument map[string]decimal.Decimal `json:"risk_by_instrument"`
	Positions        []*models.Position         `json:"positions"`
	Pyramids         []*models.PyramidState     `json:"pyramids"`
}

func newView(state *models.PortfolioState, positions []*models.Position, pyramids []*models.PyramidState) *View {
	sort.SliceStable(positions, func(i, j int) bool {
		a, b := positions[i], positions[j]
		if a.Instrument != b.Instrument {
			return a.Instrument < b.Instrument
		}
		if a.PyramidLevel != b.PyramidLevel {
			return a.PyramidLevel < b.PyramidLevel
		}
		return a.ID < b.ID
	})
	sort.SliceStable(pyramids, func(i, j int) bool {
		return pyramids[i].Instrument < pyramids[j].Instrument
	})

	v := &View{
		Portfolio:        *state,
		MarginAvailable:  state.MarginAvailable(),
		OpenRisk:         decimal.Zero,
		RiskByInstrument: make(map[string]decimal.Decimal),
		Positions:        positions,
		Pyramids:         pyramids,
	}
	for _, p := range positions {
		r := p.Risk()
		v.OpenRisk = v.OpenRisk.Add(r)
		v.RiskByInstrument[p.Instrument] = v.RiskByInstrument[p.Instrument].Add(r)
	}
	return v
}

// DerivePyramid 由 OPEN 仓位推导金字塔状态的 base_open 和 count
func DerivePyramid(positions []*models.Position) (baseOpen bool, count int) {
	count = models.NoPosition
	for _, p := range positions {
		if p.Status != models.PositionOpen {
			continue
		}
		if p.PyramidLevel == 0 {
			baseOpen = true
		}
		if p.PyramidLevel > count {
			count = p.PyramidLevel
		}
	}
	return baseOpen, count
}

func sumRisk(positions []*models.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Risk())
	}
	return total
}
