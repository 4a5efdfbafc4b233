package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/ln-autopilot/internal/domain"
	"github.com/kirillm/ln-autopilot/internal/resilience"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.err != nil {
		return tgbotapi.Message{}, s.err
	}
	s.sent = append(s.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(s.sent)}, nil
}

type fakeController struct {
	status   Status
	breakers []resilience.BreakerStatus
	halted   string
	resumed  bool
}

func (c *fakeController) Status() Status                       { return c.status }
func (c *fakeController) Breakers() []resilience.BreakerStatus { return c.breakers }
func (c *fakeController) Halt(reason string)                   { c.halted = reason }
func (c *fakeController) Resume()                              { c.resumed = true }

func TestNotifier_Notify(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, 42, zerolog.Nop())

	require.NoError(t, n.Notify(context.Background(), "circuit open"))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(42), sender.sent[0].ChatID)
	assert.Equal(t, "circuit open", sender.sent[0].Text)
}

func TestNotifier_Errors(t *testing.T) {
	sender := &fakeSender{err: errors.New("bad gateway")}
	n := NewNotifier(sender, 42, zerolog.Nop())

	err := n.Notify(context.Background(), "x")
	assert.ErrorContains(t, err, "bad gateway")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Notify(ctx, "x"), context.Canceled)

	assert.NoError(t, NopNotifier{}.Notify(context.Background(), "x"))
}

func TestHandleCommand(t *testing.T) {
	last := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c := &fakeController{
		status: Status{Mode: "live", LastCycle: last, Resources: 2, Actions: 5, Executed: 3, Rejected: 1, Failed: 1},
		breakers: []resilience.BreakerStatus{
			{Name: "update_channel_fees", State: domain.CircuitOpen, FailureCount: 4, LastStateChange: last},
		},
	}

	assert.Contains(t, HandleCommand(c, "help", ""), "/halt")

	status := HandleCommand(c, "status", "")
	assert.Contains(t, status, "Mode: live")
	assert.Contains(t, status, "Halted: no")
	assert.Contains(t, status, "2 resources, 5 actions (3 executed, 1 rejected, 1 failed)")

	assert.Contains(t, HandleCommand(c, "breakers", ""), "update_channel_fees: open (failures 4, since 2026-10-01T12:00:00Z)")

	assert.Contains(t, HandleCommand(c, "halt", "  maintenance "), "maintenance")
	assert.Equal(t, "maintenance", c.halted)

	HandleCommand(c, "halt", "")
	assert.Equal(t, "operator request", c.halted)

	assert.Contains(t, HandleCommand(c, "resume", ""), "deactivated")
	assert.True(t, c.resumed)

	assert.Contains(t, HandleCommand(c, "buy", ""), "Unknown command")
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "No circuit breakers yet.", FormatBreakers(nil))
	assert.Contains(t, FormatStatus(Status{Mode: "shadow", Halted: true, HaltReason: "policy halt"}), "Halted: yes (policy halt)")
	assert.Contains(t, FormatStatus(Status{Mode: "shadow"}), "Last cycle: never")
}
