package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagConstraints(t *testing.T) {
	long := strings.Repeat("x", 201)

	t.Run("playbook name over limit", func(t *testing.T) {
		p := testPlaybook()
		p.Name = long
		err := p.Validate()
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("rule description over limit", func(t *testing.T) {
		rule := NewAlertRule("Brute Force", RuleCondition{
			EventType: "failed_login",
			Count:     3,
			Timeframe: "10m",
		}, RuleActionLog, SeverityHigh)
		rule.Description = strings.Repeat("x", 2001)
		err := rule.Validate()
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})

	t.Run("event type over limit", func(t *testing.T) {
		evt := NewEvent(SourceFirewall, long, SeverityLow, time.Time{})
		err := evt.Validate()
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
	})
}
