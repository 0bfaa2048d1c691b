package nats

import (
	"encoding/json"

	"github.com/utrading/utrading-live-engine/pkg/logger"
)

const (
	TopicSignalOutcome = "live_engine.signal_outcome"
	TopicRolloverAlert = "live_engine.rollover_alert"
)

// SignalOutcome 信号处理结果消息
type SignalOutcome struct {
	Fingerprint       string `json:"fingerprint"`
	Type              string `json:"type"`               // BASE_ENTRY/PYRAMID/EXIT/EOD_CLOSE
	Instrument        string `json:"instrument"`         // 品种
	Label             string `json:"label"`              // 仓位标签
	Status            string `json:"status"`             // executed/rejected/failed/manual_review/duplicate
	Kind              string `json:"kind,omitempty"`     // 错误分类
	Reason            string `json:"reason,omitempty"`   // 拒绝原因
	Lots              int64  `json:"lots"`               // 成交手数
	BindingConstraint string `json:"binding_constraint"` // 仓位约束
	OrderID           string `json:"order_id,omitempty"`
	Instance          string `json:"instance"`  // 处理实例
	Timestamp         int64  `json:"timestamp"` // 毫秒时间戳
}

// Marshal 序列化
func (s *SignalOutcome) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		logger.Error().Err(err).Msg("marshal signal outcome failed")
		return nil, err
	}
	return data, nil
}

// RolloverAlert 合约临近到期的持仓提醒
type RolloverAlert struct {
	Instrument   string `json:"instrument"`
	BrokerSymbol string `json:"broker_symbol"`
	Expiry       string `json:"expiry"` // 2006-01-02
	DaysToExpiry int    `json:"days_to_expiry"`
	OpenLots     int64  `json:"open_lots"`
	Positions    int    `json:"positions"`
	Timestamp    int64  `json:"timestamp"`
}

func (a *RolloverAlert) Marshal() ([]byte, error) {
	return json.Marshal(a)
}
