package processor

import (
	"github.com/pkg/errors"

	"github.com/utrading/utrading-live-engine/internal/coordination"
	"github.com/utrading/utrading-live-engine/internal/dao"
	"github.com/utrading/utrading-live-engine/internal/execution"
	"github.com/utrading/utrading-live-engine/internal/portfolio"
	"github.com/utrading/utrading-live-engine/internal/signal"
	"github.com/utrading/utrading-live-engine/internal/sizing"
)

// ErrNotReady 崩溃恢复完成前拒绝处理信号
var ErrNotReady = errors.New("engine not ready")

// Kind 错误分类
type Kind string

const (
	KindNone         Kind = ""
	KindInput        Kind = "input"
	KindDuplicate    Kind = "duplicate"
	KindUnavailable  Kind = "unavailable"
	KindCoordination Kind = "coordination"
	KindConflict     Kind = "conflict"
	KindExecution    Kind = "execution"
	KindManual       Kind = "manual_intervention"
	KindInvariant    Kind = "invariant"
	KindInternal     Kind = "internal"
)

// Retryable 调用方是否可以原样重发
func (k Kind) Retryable() bool {
	return k == KindUnavailable || k == KindCoordination
}

// Classify 将错误映射到错误分类
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, signal.ErrMalformedSignal),
		errors.Is(err, signal.ErrStaleSignal),
		errors.Is(err, signal.ErrUnknownInstrument),
		errors.Is(err, sizing.ErrZeroStopDistance),
		errors.Is(err, sizing.ErrInvalidInput):
		return KindInput
	case errors.Is(err, ErrNotReady):
		return KindUnavailable
	case errors.Is(err, coordination.ErrUnavailable):
		return KindCoordination
	case errors.Is(err, portfolio.ErrSizingConflict), errors.Is(err, dao.ErrVersionConflict):
		return KindConflict
	case errors.Is(err, execution.ErrManualIntervention):
		return KindManual
	case errors.Is(err, execution.ErrOrderRejected), errors.Is(err, execution.ErrNotFilled):
		return KindExecution
	case errors.Is(err, portfolio.ErrInvariantViolation):
		return KindInvariant
	default:
		return KindInternal
	}
}

// reasonOf 未认领信号的拒绝原因
func reasonOf(err error) string {
	switch {
	case errors.Is(err, signal.ErrMalformedSignal):
		return "malformed"
	case errors.Is(err, signal.ErrStaleSignal):
		return "stale"
	case errors.Is(err, signal.ErrUnknownInstrument):
		return "unknown_instrument"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	default:
		return "internal"
	}
}
