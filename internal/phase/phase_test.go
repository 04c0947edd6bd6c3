package phase

import (
	"testing"

	"github.com/qascout/qascout/internal/intent"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		action       intent.Action
		transitional Phase
		success      Phase
		failure      Phase
	}{
		{intent.ActionExplore, Exploring, Explored, Idle},
		{intent.ActionDesign, Designing, Designed, Explored},
		{intent.ActionImplement, Implementing, Implemented, Designed},
		{intent.ActionVerify, Verifying, Verified, Implemented},
	}

	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			var m Machine

			if got := m.Begin(tt.action); got != tt.transitional {
				t.Errorf("Begin = %v, want %v", got, tt.transitional)
			}
			if !m.Current().Transitional() {
				t.Errorf("%v should be transitional", m.Current())
			}
			if got := m.Succeed(tt.action); got != tt.success {
				t.Errorf("Succeed = %v, want %v", got, tt.success)
			}

			m.Begin(tt.action)
			if got := m.Fail(tt.action); got != tt.failure {
				t.Errorf("Fail = %v, want %v", got, tt.failure)
			}
		})
	}
}

func TestChatNeverChangesPhase(t *testing.T) {
	var m Machine
	m.Begin(intent.ActionExplore)
	m.Succeed(intent.ActionExplore) // explored

	for _, step := range []func(intent.Action) Phase{m.Begin, m.Succeed, m.Fail} {
		if got := step(intent.ActionChat); got != Explored {
			t.Errorf("chat transition moved phase to %v", got)
		}
	}
}

func TestReset(t *testing.T) {
	var m Machine
	m.Begin(intent.ActionVerify)

	if got := m.Reset(); got != Idle {
		t.Errorf("Reset = %v, want Idle", got)
	}
}

func TestAtLeast(t *testing.T) {
	if !Designed.AtLeast(Explored) {
		t.Error("Designed should be at least Explored")
	}
	if Idle.AtLeast(Explored) {
		t.Error("Idle should not be at least Explored")
	}
}

func TestString(t *testing.T) {
	names := map[Phase]string{
		Idle: "idle", Exploring: "exploring", Explored: "explored",
		Designing: "designing", Designed: "designed",
		Implementing: "implementing", Implemented: "implemented",
		Verifying: "verifying", Verified: "verified",
	}
	for p, want := range names {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", p, got, want)
		}
	}
}
