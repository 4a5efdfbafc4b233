package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/ln-autopilot/internal/resilience"
)

// FormatKillSwitch текст оповещения о kill switch
func FormatKillSwitch(active bool, reason string) string {
	if active {
		return fmt.Sprintf("🛑 Kill switch activated: %s\nAll actions are blocked until /resume.", reason)
	}
	return "✅ Kill switch deactivated, execution resumed."
}

// FormatBreakers список breaker'ов для /breakers
func FormatBreakers(states []resilience.BreakerStatus) string {
	if len(states) == 0 {
		return "No circuit breakers yet."
	}

	var sb strings.Builder
	sb.WriteString("Circuit breakers:\n")
	for _, s := range states {
		fmt.Fprintf(&sb, "• %s: %s (failures %d", s.Name, s.State, s.FailureCount)
		if !s.LastStateChange.IsZero() {
			fmt.Fprintf(&sb, ", since %s", s.LastStateChange.UTC().Format(time.RFC3339))
		}
		sb.WriteString(")\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatStatus текст ответа на /status
func FormatStatus(s Status) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Mode: %s\n", s.Mode)
	if s.Halted {
		fmt.Fprintf(&sb, "Halted: yes (%s)\n", s.HaltReason)
	} else {
		sb.WriteString("Halted: no\n")
	}
	if s.LastCycle.IsZero() {
		sb.WriteString("Last cycle: never")
	} else {
		fmt.Fprintf(&sb, "Last cycle: %s, %d resources, %d actions (%d executed, %d rejected, %d failed)",
			s.LastCycle.UTC().Format(time.RFC3339), s.Resources, s.Actions, s.Executed, s.Rejected, s.Failed)
	}
	return sb.String()
}
