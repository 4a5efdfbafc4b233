package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/domain"
	"github.com/kirillm/ln-autopilot/internal/lnd"
	"github.com/kirillm/ln-autopilot/internal/lnd/lndtest"
	"github.com/kirillm/ln-autopilot/internal/policy"
	"github.com/kirillm/ln-autopilot/internal/resilience"
	"github.com/kirillm/ln-autopilot/internal/storage"
)

type harness struct {
	executor *Executor
	cp       *lndtest.MockControlPlane
	security *policy.Manager
	breakers *resilience.BreakerRegistry
	kill     *KillSwitch
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	p := config.DefaultPolicy()
	security := policy.NewManager(p, store, zerolog.Nop(), nil)
	breakers := resilience.NewBreakerRegistry(p.Breaker)
	kill := NewKillSwitch(zerolog.Nop())
	cp := &lndtest.MockControlPlane{}

	cfg := resilience.RetryConfigFromPolicy(p.Retry)
	cfg.Jitter = false
	e := NewExecutor(cp, security, kill, breakers, cfg, nil, nil, zerolog.Nop())
	e.ConfigureRetriers(func(r *resilience.Retrier) {
		r.SetSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })
	})

	return &harness{executor: e, cp: cp, security: security, breakers: breakers, kill: kill}
}

func (h *harness) statuses(t *testing.T, actionID string) []domain.AuditStatus {
	t.Helper()
	entries, err := h.security.AuditHistory(context.Background(), actionID)
	require.NoError(t, err)
	out := make([]domain.AuditStatus, len(entries))
	for i, e := range entries {
		out[i] = e.Status
	}
	return out
}

func feeAction(id string, baseFee float64) domain.Action {
	return domain.Action{
		ActionID:   id,
		ResourceID: "node-a",
		ActionType: domain.ActionFeeUpdate,
		Parameters: map[string]any{
			domain.ParamChannelID:  "chan-1",
			domain.ParamNewBaseFee: baseFee,
			domain.ParamNewFeeRate: 575.0,
		},
		Timestamp: time.Now(),
		Priority:  4,
	}
}

func transient() error {
	return &domain.TransientError{Op: "chanpolicy", Err: errors.New("connection reset")}
}

func TestExecute_RejectedNeverReachesNode(t *testing.T) {
	h := newHarness(t)

	res, err := h.executor.Execute(context.Background(), feeAction("a1", 15000))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.AuditRejected, res.Status)
	assert.False(t, res.Success())
	assert.Equal(t, []domain.AuditStatus{domain.AuditRejected}, h.statuses(t, "a1"))
	h.cp.AssertNotCalled(t, "UpdateChannelFees", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_DryRunValidatesOnly(t *testing.T) {
	h := newHarness(t)
	a := feeAction("a1", 1150)
	a.DryRun = true

	res, err := h.executor.Execute(context.Background(), a)

	require.NoError(t, err)
	assert.Equal(t, domain.AuditValidated, res.Status)
	assert.Nil(t, res.Response)
	assert.Equal(t, []domain.AuditStatus{domain.AuditValidated}, h.statuses(t, "a1"))
	h.cp.AssertNotCalled(t, "UpdateChannelFees", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_RetriesTransientThenSucceeds(t *testing.T) {
	h := newHarness(t)
	want := map[string]lnd.FeePolicy{"chan-1": {BaseFeeMsat: 1150, FeeRatePPM: 575}}
	h.cp.On("UpdateChannelFees", mock.Anything, "node-a", want).Return(nil, transient()).Once()
	h.cp.On("UpdateChannelFees", mock.Anything, "node-a", want).Return(&lnd.Result{Reference: "upd-1"}, nil).Once()

	res, err := h.executor.Execute(context.Background(), feeAction("a1", 1150))

	require.NoError(t, err)
	assert.Equal(t, domain.AuditExecuted, res.Status)
	assert.Equal(t, "upd-1", res.Response.Reference)
	assert.Equal(t, []domain.AuditStatus{domain.AuditExecuted}, h.statuses(t, "a1"))
	h.cp.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.executor.ActionsCounter().WithLabelValues("fee_update", "executed")))
}

func TestExecute_ExhaustedRetriesAuditFailed(t *testing.T) {
	h := newHarness(t)
	h.cp.On("UpdateChannelFees", mock.Anything, "node-a", mock.Anything).Return(nil, transient())

	res, err := h.executor.Execute(context.Background(), feeAction("a1", 1150))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, domain.AuditFailed, res.Status)
	assert.Equal(t, []domain.AuditStatus{domain.AuditFailed}, h.statuses(t, "a1"))
	h.cp.AssertNumberOfCalls(t, "UpdateChannelFees", 4)
	// четыре подряд неудачи открывают breaker для типа вызова
	assert.Equal(t, domain.CircuitOpen, h.breakers.Get(lnd.CallUpdateFees, "node-a").State())
}

func TestExecute_OpenBreakerFailsFast(t *testing.T) {
	h := newHarness(t)
	h.cp.On("UpdateChannelFees", mock.Anything, "node-a", mock.Anything).Return(nil, transient())

	_, err := h.executor.Execute(context.Background(), feeAction("a1", 1150))
	require.Error(t, err)

	_, err = h.executor.Execute(context.Background(), feeAction("a2", 1150))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	h.cp.AssertNumberOfCalls(t, "UpdateChannelFees", 4)
	assert.Equal(t, []domain.AuditStatus{domain.AuditFailed}, h.statuses(t, "a2"))
}

func TestExecute_KillSwitchBlocks(t *testing.T) {
	h := newHarness(t)
	h.kill.Activate("manual stop")

	res, err := h.executor.Execute(context.Background(), feeAction("a1", 1150))

	assert.ErrorIs(t, err, ErrKillSwitchActive)
	assert.Contains(t, err.Error(), "manual stop")
	assert.Equal(t, domain.AuditRejected, res.Status)
	h.cp.AssertNotCalled(t, "UpdateChannelFees", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_DispatchByType(t *testing.T) {
	h := newHarness(t)
	ok := &lnd.Result{Reference: "ref"}
	h.cp.On("RebalanceChannels", mock.Anything, "node-a",
		[]lnd.RebalanceLeg{{SourceChannel: "a", DestChannel: "c", AmountSat: 400}}).Return(ok, nil)
	h.cp.On("OpenChannel", mock.Anything, "node-a", "02peer", int64(500000)).Return(ok, nil)
	h.cp.On("CloseChannel", mock.Anything, "node-a", "chan-9").Return(ok, nil)

	actions := []domain.Action{
		{ActionID: "r1", ResourceID: "node-a", ActionType: domain.ActionRebalance, Priority: 2, Parameters: map[string]any{
			domain.ParamSourceChannel: "a", domain.ParamDestChannel: "c", domain.ParamAmount: int64(400),
		}},
		{ActionID: "o1", ResourceID: "node-a", ActionType: domain.ActionChannelOpen, Parameters: map[string]any{
			domain.ParamPeer: "02peer", domain.ParamAmount: 500000.0,
		}},
		{ActionID: "c1", ResourceID: "node-a", ActionType: domain.ActionChannelClose, Parameters: map[string]any{
			domain.ParamChannelID: "chan-9",
		}},
	}

	for _, a := range actions {
		res, err := h.executor.Execute(context.Background(), a)
		require.NoError(t, err, a.ActionID)
		assert.Equal(t, domain.AuditExecuted, res.Status)
	}
	h.cp.AssertExpectations(t)
}

func TestExecute_FeeMapSentInOneCall(t *testing.T) {
	h := newHarness(t)
	want := map[string]lnd.FeePolicy{
		"chan-1": {BaseFeeMsat: 850, FeeRatePPM: 425},
		"chan-2": {BaseFeeMsat: 1700, FeeRatePPM: 851},
	}
	h.cp.On("UpdateChannelFees", mock.Anything, "node-a", want).Return(&lnd.Result{Reference: "upd-all"}, nil).Once()

	res, err := h.executor.Execute(context.Background(), domain.Action{
		ActionID:   "f1",
		ResourceID: "node-a",
		ActionType: domain.ActionFeeUpdate,
		Parameters: map[string]any{domain.ParamFees: map[string]domain.ChannelFee{
			"chan-1": {BaseFeeMsat: 850, FeeRatePPM: 425},
			"chan-2": {BaseFeeMsat: 1700, FeeRatePPM: 850.5},
		}},
	})

	require.NoError(t, err)
	assert.Equal(t, "upd-all", res.Response.Reference)
	h.cp.AssertExpectations(t)
	h.cp.AssertNumberOfCalls(t, "UpdateChannelFees", 1)
}

func TestExecuteAll_PriorityOrderAndContinuesPastFailure(t *testing.T) {
	h := newHarness(t)
	var order []string
	h.cp.On("RebalanceChannels", mock.Anything, "node-a", mock.Anything).
		Run(func(mock.Arguments) { order = append(order, "rebalance") }).
		Return(nil, domain.ErrControlPlane)
	h.cp.On("UpdateChannelFees", mock.Anything, "node-a", mock.Anything).
		Run(func(mock.Arguments) { order = append(order, "fee") }).
		Return(&lnd.Result{Reference: "upd"}, nil)

	rebalance := domain.Action{ActionID: "r1", ResourceID: "node-a", ActionType: domain.ActionRebalance, Priority: 1,
		Parameters: map[string]any{domain.ParamSourceChannel: "a", domain.ParamDestChannel: "b", domain.ParamAmount: int64(100)}}

	results := h.executor.ExecuteAll(context.Background(), []domain.Action{feeAction("f1", 1150), rebalance})

	require.Len(t, results, 2)
	assert.Equal(t, []string{"rebalance", "fee"}, order)
	assert.Equal(t, domain.AuditFailed, results[0].Status)
	assert.ErrorIs(t, results[0].Err, domain.ErrControlPlane)
	assert.Equal(t, domain.AuditExecuted, results[1].Status)
}

func TestExecuteAll_StopsOnCanceledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := h.executor.ExecuteAll(ctx, []domain.Action{feeAction("f1", 1150)})

	assert.Empty(t, results)
}

func TestKillSwitch_SyncAndHooks(t *testing.T) {
	ks := NewKillSwitch(zerolog.Nop())
	var events []bool
	ks.OnChange(func(active bool, _ string) { events = append(events, active) })

	ks.Sync(true, "")
	ks.Sync(true, "again")
	active, reason, at := ks.GetStatus()
	assert.True(t, active)
	assert.Equal(t, "policy halt", reason)
	assert.False(t, at.IsZero())

	ks.Sync(false, "")
	ks.Deactivate()
	assert.False(t, ks.IsActive())
	assert.Equal(t, []bool{true, false}, events)
}
