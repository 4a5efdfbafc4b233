package lnd

import (
	"context"
	"time"

	"github.com/kirillm/ln-autopilot/internal/domain"
)

// Call types, используются как имена breaker'ов и retrier'ов
const (
	CallUpdateFees   = "update_channel_fees"
	CallRebalance    = "rebalance_channels"
	CallOpenChannel  = "open_channel"
	CallCloseChannel = "close_channel"
	CallSnapshot     = "snapshot"
)

// FeePolicy новые комиссии канала
type FeePolicy struct {
	BaseFeeMsat int64 `json:"base_fee_msat"`
	FeeRatePPM  int64 `json:"fee_rate_ppm"`
}

// RebalanceLeg перемещение ликвидности между двумя каналами
type RebalanceLeg struct {
	SourceChannel string `json:"source_channel"`
	DestChannel   string `json:"dest_channel"`
	AmountSat     int64  `json:"amount_sat"`
}

// Result ответ узла на изменяющий вызов
type Result struct {
	Reference   string    `json:"reference"`
	Message     string    `json:"message"`
	CompletedAt time.Time `json:"completed_at"`
}

// ControlPlane изменяющие операции над узлом. Реализации возвращают
// *domain.TransientError для ошибок, которые имеет смысл повторить.
type ControlPlane interface {
	UpdateChannelFees(ctx context.Context, resourceID string, fees map[string]FeePolicy) (*Result, error)
	RebalanceChannels(ctx context.Context, resourceID string, legs []RebalanceLeg) (*Result, error)
	OpenChannel(ctx context.Context, resourceID, peer string, amountSat int64) (*Result, error)
	CloseChannel(ctx context.Context, resourceID, channelID string) (*Result, error)
}

// Source источник наблюдений за узлами
type Source interface {
	Resources(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context, resourceID string) (*domain.ResourceSnapshot, error)
}
