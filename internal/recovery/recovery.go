package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-live-engine/internal/models"
	"github.com/utrading/utrading-live-engine/internal/monitor"
	"github.com/utrading/utrading-live-engine/internal/portfolio"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

var ErrHealthCheckFailed = errors.New("recovery health check failed")

// Report 恢复结果
type Report struct {
	Snapshot   []byte          `json:"-"`
	View       *portfolio.View `json:"view"`
	Violations []string        `json:"violations,omitempty"`
	Duration   time.Duration   `json:"duration"`
	Completed  time.Time       `json:"completed_at"`
}

// Recoverer 启动时从持久化层重建状态并校验不变量，只校验不修复
type Recoverer struct {
	portfolio *portfolio.Manager
	ready     atomic.Bool
	last      atomic.Pointer[Report]
}

func New(pm *portfolio.Manager) *Recoverer {
	return &Recoverer{portfolio: pm}
}

// Run 可重复执行，相同的持久化状态产生相同的快照字节
func (r *Recoverer) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	view, err := r.portfolio.Rebuild(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "rebuild state")
	}
	snapshot, err := Encode(view)
	if err != nil {
		return nil, errors.Wrap(err, "encode snapshot")
	}

	report := &Report{
		Snapshot:   snapshot,
		View:       view,
		Violations: Validate(view, r.portfolio.Config().MaxInstrumentRiskFraction),
		Duration:   time.Since(start),
		Completed:  time.Now(),
	}
	r.last.Store(report)
	monitor.SetRecoveryDuration(report.Duration)

	if len(report.Violations) > 0 {
		r.ready.Store(false)
		for _, v := range report.Violations {
			logger.Error().Str("violation", v).Msg("recovery invariant violated")
		}
		return report, errors.Wrapf(ErrHealthCheckFailed, "%d violations: %s", len(report.Violations), strings.Join(report.Violations, "; "))
	}

	r.ready.Store(true)
	logger.Info().
		Int("open_positions", len(view.Positions)).
		Int("pyramids", len(view.Pyramids)).
		Str("equity", view.Portfolio.Equity.String()).
		Str("margin_used", view.Portfolio.MarginUsed.String()).
		Dur("duration", report.Duration).
		Msg("recovery completed")
	return report, nil
}

// Ready 恢复成功后为 true
func (r *Recoverer) Ready() bool {
	return r.ready.Load()
}

// Last 最近一次恢复报告
func (r *Recoverer) Last() *Report {
	return r.last.Load()
}

// Encode 确定性的快照编码，视图已排序，map 按 key 排序输出
func Encode(v *portfolio.View) ([]byte, error) {
	return json.Marshal(v)
}

// Validate 校验所有不变量并返回全部违规项
func Validate(v *portfolio.View, riskFraction decimal.Decimal) []string {
	var out []string

	slots := make(map[string]int)
	byInstrument := make(map[string][]*models.Position)
	marginSum := decimal.Zero
	for _, p := range v.Positions {
		slots[models.SlotKey(p.Instrument, p.PyramidLevel)]++
		byInstrument[p.Instrument] = append(byInstrument[p.Instrument], p)
		marginSum = marginSum.Add(p.MarginUsed)
	}
	for _, slot := range sortedKeys(slots) {
		if n := slots[slot]; n > 1 {
			out = append(out, fmt.Sprintf("slot %s has %d open positions", slot, n))
		}
	}

	if riskFraction.IsPositive() {
		ceiling := v.Portfolio.Watermark.Mul(riskFraction)
		for _, inst := range sortedKeys(v.RiskByInstrument) {
			if risk := v.RiskByInstrument[inst]; risk.GreaterThan(ceiling) {
				out = append(out, fmt.Sprintf("instrument %s risk %s exceeds ceiling %s", inst, risk, ceiling))
			}
		}
	}

	if v.Portfolio.Watermark.LessThan(v.Portfolio.Equity) {
		out = append(out, fmt.Sprintf("watermark %s below equity %s", v.Portfolio.Watermark, v.Portfolio.Equity))
	}

	if !v.Portfolio.MarginUsed.Equal(marginSum) {
		out = append(out, fmt.Sprintf("margin_used %s differs from open positions margin %s", v.Portfolio.MarginUsed, marginSum))
	}

	states := make(map[string]*models.PyramidState, len(v.Pyramids))
	for _, s := range v.Pyramids {
		states[s.Instrument] = s
	}
	instruments := make(map[string]struct{})
	for inst := range byInstrument {
		instruments[inst] = struct{}{}
	}
	for inst := range states {
		instruments[inst] = struct{}{}
	}
	for _, inst := range sortedKeys(instruments) {
		baseOpen, count := portfolio.DerivePyramid(byInstrument[inst])
		s, ok := states[inst]
		if !ok {
			out = append(out, fmt.Sprintf("instrument %s has open positions but no pyramid state", inst))
			continue
		}
		if s.BaseOpen != baseOpen || s.Count != count {
			out = append(out, fmt.Sprintf("instrument %s pyramid state base_open=%t count=%d, positions say base_open=%t count=%d",
				inst, s.BaseOpen, s.Count, baseOpen, count))
		}
	}

	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
