package decision

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/ln-autopilot/internal/config"
	"github.com/kirillm/ln-autopilot/internal/domain"
)

var baseTime = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func ch(id string, local, remote int64) domain.Channel {
	return domain.Channel{
		ChannelID:        id,
		PeerID:           "peer-" + id,
		CapacitySat:      local + remote,
		LocalBalanceSat:  local,
		RemoteBalanceSat: remote,
		BaseFeeMsat:      1000,
		FeeRatePPM:       500,
		Active:           true,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(config.DefaultPolicy().Decision, zerolog.Nop())
	e.SetClock(func() time.Time { return baseTime })
	seq := 0
	e.newID = func() string {
		seq++
		return fmt.Sprintf("act-%d", seq)
	}
	return e
}

func evalFor(snap domain.ResourceSnapshot, tags ...domain.ConditionTag) domain.EvaluationResult {
	return domain.EvaluationResult{
		ResourceID:     snap.ResourceID,
		Conditions:     domain.NewConditionSet(tags...),
		LiquidityRatio: snap.LiquidityRatio(),
		EvaluatedAt:    baseTime,
	}
}

func TestApplyRecommendations_StandardRebalance(t *testing.T) {
	e := newTestEngine(t)
	snap := domain.ResourceSnapshot{
		ResourceID: "node-a",
		Channels:   []domain.Channel{ch("a", 900, 100), ch("b", 100, 1900), ch("c", 0, 2000)},
	}
	require.InDelta(t, 0.2, snap.LiquidityRatio(), 1e-9)

	actions := e.ApplyRecommendations(evalFor(snap, domain.ConditionLiquidityImbalance), snap)

	require.Len(t, actions, 1)
	a := actions[0]
	assert.Equal(t, domain.ActionRebalance, a.ActionType)
	assert.Equal(t, "node-a", a.ResourceID)
	assert.Equal(t, PriorityRebalance, a.Priority)
	assert.False(t, a.ParamBool(domain.ParamEmergency))
	assert.Equal(t, "a", a.Parameters[domain.ParamSourceChannel])
	assert.Equal(t, "c", a.Parameters[domain.ParamDestChannel])
	assert.Equal(t, int64(400), a.Parameters[domain.ParamAmount])
	assert.Equal(t, baseTime, a.Timestamp)
	assert.NotEmpty(t, a.ActionID)
}

func TestApplyRecommendations_EmergencyRebalance(t *testing.T) {
	e := newTestEngine(t)
	snap := domain.ResourceSnapshot{
		ResourceID: "node-a",
		Channels:   []domain.Channel{ch("a", 900, 100), ch("b", 0, 4000), ch("c", 100, 4900)},
	}
	require.InDelta(t, 0.1, snap.LiquidityRatio(), 1e-9)

	actions := e.ApplyRecommendations(evalFor(snap, domain.ConditionLiquidityImbalance), snap)

	require.Len(t, actions, 1)
	assert.True(t, actions[0].ParamBool(domain.ParamEmergency))
	assert.Equal(t, PriorityEmergencyRebalance, actions[0].Priority)
	assert.Equal(t, "b", actions[0].Parameters[domain.ParamDestChannel])
}

func TestApplyRecommendations_CriticalUsesEmergencyCandidates(t *testing.T) {
	e := newTestEngine(t)
	snap := domain.ResourceSnapshot{
		ResourceID: "node-a",
		Channels:   []domain.Channel{ch("a", 650, 350), ch("b", 350, 650)},
	}

	actions := e.ApplyRecommendations(evalFor(snap, domain.ConditionCritical), snap)

	require.Len(t, actions, 1)
	a := actions[0]
	assert.Equal(t, domain.ActionRebalance, a.ActionType)
	assert.True(t, a.ParamBool(domain.ParamEmergency))
	assert.Equal(t, int64(150), a.Parameters[domain.ParamAmount])
	assert.Equal(t, "critical score", a.Parameters[domain.ParamReason])
}

func TestApplyRecommendations_FeeAdjustments(t *testing.T) {
	tests := []struct {
		name      string
		tag       domain.ConditionTag
		direction string
		baseFee   float64
		feeRate   float64
		priority  int
	}{
		{"low success decreases", domain.ConditionLowSuccessRate, domain.DirectionDecrease, 850, 425, PriorityFeeDecrease},
		{"high volume increases", domain.ConditionHighVolumeLowFees, domain.DirectionIncrease, 1150, 575, PriorityFeeIncrease},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			snap := domain.ResourceSnapshot{
				ResourceID: "node-a",
				Channels:   []domain.Channel{ch("a", 500, 500), ch("b", 400, 600)},
			}

			actions := e.ApplyRecommendations(evalFor(snap, tt.tag), snap)

			require.Len(t, actions, 1)
			a := actions[0]
			assert.Equal(t, domain.ActionFeeUpdate, a.ActionType)
			assert.Equal(t, tt.direction, a.Parameters[domain.ParamDirection])
			assert.Equal(t, tt.priority, a.Priority)
			_, single := a.Param(domain.ParamChannelID)
			assert.False(t, single)

			fees, ok := a.ParamFees()
			require.True(t, ok)
			want := domain.ChannelFee{BaseFeeMsat: tt.baseFee, FeeRatePPM: tt.feeRate}
			assert.Equal(t, map[string]domain.ChannelFee{"a": want, "b": want}, fees)
		})
	}
}

func TestApplyRecommendations_SingleChannelFeeUpdate(t *testing.T) {
	e := newTestEngine(t)
	snap := domain.ResourceSnapshot{
		ResourceID: "node-a",
		Channels:   []domain.Channel{ch("a", 500, 500)},
	}

	actions := e.ApplyRecommendations(evalFor(snap, domain.ConditionLowSuccessRate), snap)

	require.Len(t, actions, 1)
	a := actions[0]
	assert.Equal(t, "a", a.Parameters[domain.ParamChannelID])
	assert.Equal(t, 850.0, a.Parameters[domain.ParamNewBaseFee])
	assert.Equal(t, 425.0, a.Parameters[domain.ParamNewFeeRate])
}

func TestApplyRecommendations_CriticalSkippedWhenImbalanceRuleFired(t *testing.T) {
	e := newTestEngine(t)
	snap := domain.ResourceSnapshot{
		ResourceID: "node-a",
		Channels:   []domain.Channel{ch("a", 650, 350), ch("b", 0, 3000)},
	}
	// дисбаланс 0.3375: выше порога, но не аварийный; пары при 0.7 нет
	require.InDelta(t, 0.1625, snap.LiquidityRatio(), 1e-9)

	actions := e.ApplyRecommendations(evalFor(snap, domain.ConditionCritical, domain.ConditionLiquidityImbalance), snap)

	assert.Empty(t, actions)
}

func TestApplyRecommendations_PriorityOrder(t *testing.T) {
	e := newTestEngine(t)
	snap := domain.ResourceSnapshot{
		ResourceID: "node-a",
		Channels:   []domain.Channel{ch("a", 650, 350), ch("b", 350, 650)},
	}

	actions := e.ApplyRecommendations(evalFor(snap,
		domain.ConditionHighVolumeLowFees,
		domain.ConditionLowSuccessRate,
		domain.ConditionCritical,
	), snap)

	priorities := make([]int, len(actions))
	for i, a := range actions {
		priorities[i] = a.Priority
	}
	assert.Equal(t, []int{1, 3, 4}, priorities)
}

func TestApplyRecommendations_NoPairSkipsRebalance(t *testing.T) {
	e := newTestEngine(t)
	snap := domain.ResourceSnapshot{
		ResourceID: "node-a",
		Channels:   []domain.Channel{ch("a", 200, 800), ch("b", 200, 800)},
	}

	actions := e.ApplyRecommendations(evalFor(snap, domain.ConditionLiquidityImbalance), snap)

	assert.Empty(t, actions)
	assert.Empty(t, e.GetActionHistory("", 0))
}

func TestApplyRecommendations_HealthyEmitsNothing(t *testing.T) {
	e := newTestEngine(t)
	snap := domain.ResourceSnapshot{
		ResourceID: "node-a",
		Channels:   []domain.Channel{ch("a", 500, 500)},
	}

	assert.Empty(t, e.ApplyRecommendations(evalFor(snap), snap))
}

func TestApplyRecommendations_DryRunSkipsHistory(t *testing.T) {
	e := newTestEngine(t)
	e.ForceDryRun(true)
	snap := domain.ResourceSnapshot{
		ResourceID: "node-a",
		Channels:   []domain.Channel{ch("a", 500, 500)},
	}

	actions := e.ApplyRecommendations(evalFor(snap, domain.ConditionLowSuccessRate), snap)

	require.Len(t, actions, 1)
	assert.True(t, actions[0].DryRun)
	assert.Empty(t, e.GetActionHistory("node-a", 10))
}

func TestGetActionHistory_NewestFirstAndFiltered(t *testing.T) {
	e := newTestEngine(t)
	for i, resource := range []string{"node-a", "node-b", "node-a"} {
		snap := domain.ResourceSnapshot{
			ResourceID: resource,
			Channels:   []domain.Channel{ch(fmt.Sprintf("c%d", i), 500, 500)},
		}
		eval := evalFor(snap, domain.ConditionLowSuccessRate)
		eval.EvaluatedAt = baseTime.Add(time.Duration(i) * time.Minute)
		e.ApplyRecommendations(eval, snap)
	}

	all := e.GetActionHistory("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, "c2", all[0].Parameters[domain.ParamChannelID])
	assert.Equal(t, "c1", all[1].Parameters[domain.ParamChannelID])
	assert.Equal(t, "c0", all[2].Parameters[domain.ParamChannelID])

	onlyA := e.GetActionHistory("node-a", 1)
	require.Len(t, onlyA, 1)
	assert.Equal(t, "c2", onlyA[0].Parameters[domain.ParamChannelID])
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(2)
	for i := 0; i < 3; i++ {
		h.Add(baseTime.Add(time.Duration(i)*time.Second), domain.Action{ActionID: fmt.Sprintf("a%d", i)})
	}

	assert.Equal(t, 2, h.Len())
	got := h.Recent("", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].ActionID)
	assert.Equal(t, "a1", got[1].ActionID)
}

func TestSelectRebalancePair(t *testing.T) {
	tests := []struct {
		name      string
		channels  []domain.Channel
		threshold float64
		wantOK    bool
		source    string
		dest      string
	}{
		{"picks extremes", []domain.Channel{ch("a", 800, 200), ch("b", 950, 50), ch("c", 100, 900)}, 0.7, true, "b", "c"},
		{"only local heavy", []domain.Channel{ch("a", 900, 100)}, 0.7, false, "", ""},
		{"empty channels ignored", []domain.Channel{ch("a", 0, 0), ch("b", 900, 100), ch("c", 50, 950)}, 0.7, true, "b", "c"},
		{"emergency threshold widens", []domain.Channel{ch("a", 650, 350), ch("b", 340, 660)}, 0.6, true, "a", "b"},
		{"standard threshold misses", []domain.Channel{ch("a", 650, 350), ch("b", 340, 660)}, 0.7, false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source, dest, ok := SelectRebalancePair(tt.channels, tt.threshold)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.source, source.ChannelID)
				assert.Equal(t, tt.dest, dest.ChannelID)
			}
		})
	}
}
