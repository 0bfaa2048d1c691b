package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-live-engine/internal/models"
)

// Type 信号类型
type Type string

const (
	BaseEntry Type = "BASE_ENTRY"
	Pyramid   Type = "PYRAMID"
	Exit      Type = "EXIT"
	EODClose  Type = "EOD_CLOSE"
)

// LabelAll EXIT 信号关闭品种全部仓位
const LabelAll = "ALL"

var (
	ErrMalformedSignal   = errors.New("malformed signal")
	ErrStaleSignal       = errors.New("stale signal")
	ErrUnknownInstrument = errors.New("unknown instrument")
)

func (t Type) Valid() bool {
	switch t {
	case BaseEntry, Pyramid, Exit, EODClose:
		return true
	}
	return false
}

// IsEntry 开仓类信号需要止损价
func (t Type) IsEntry() bool {
	return t == BaseEntry || t == Pyramid
}

// Signal 校验后的不可变信号
type Signal struct {
	Type          Type
	Instrument    string
	Label         string
	Direction     string
	Price         decimal.Decimal
	Stop          decimal.Decimal
	ATR           decimal.Decimal
	ER            decimal.Decimal
	ROC           decimal.NullDecimal
	SuggestedLots int64
	Timestamp     time.Time
	Fingerprint   string
}

// ToLog 转换为 signal_log 认领记录
func (s *Signal) ToLog(instanceID string) *models.SignalLog {
	return &models.SignalLog{
		Fingerprint:   s.Fingerprint,
		Type:          string(s.Type),
		Instrument:    s.Instrument,
		Label:         s.Label,
		Price:         s.Price,
		StopPrice:     s.Stop,
		ATR:           s.ATR,
		ER:            s.ER,
		ROC:           s.ROC,
		SuggestedLots: s.SuggestedLots,
		SignalTime:    s.Timestamp,
		ClaimedBy:     instanceID,
		Status:        models.SignalClaimed,
	}
}

// DirectionOf 由标签前缀推导方向，Short_ 开头为空头，其余为多头
func DirectionOf(label string) string {
	if strings.HasPrefix(strings.ToLower(label), "short") {
		return models.DirectionShort
	}
	return models.DirectionLong
}

// Fingerprint sha256(type|instrument|label|bucket)
func Fingerprint(t Type, instrument, label string, ts time.Time, bucket time.Duration) string {
	secs := int64(bucket / time.Second)
	if secs <= 0 {
		secs = 1
	}
	b := ts.Unix() / secs
	if ts.Unix() < 0 && ts.Unix()%secs != 0 {
		b--
	}

	h := sha256.New()
	h.Write([]byte(string(t)))
	h.Write([]byte{'|'})
	h.Write([]byte(instrument))
	h.Write([]byte{'|'})
	h.Write([]byte(label))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(b, 10)))
	return hex.EncodeToString(h.Sum(nil))
}
