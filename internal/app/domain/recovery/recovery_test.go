package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/genconfig"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/validation"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: ""},
		{name: "tagged", err: NewError(CodeNetwork, "catalog", errors.New("down")), want: CodeNetwork},
		{name: "wrapped tag", err: fmt.Errorf("stage: %w", NewError(CodeDataMissing, "catalog", errors.New("empty"))), want: CodeDataMissing},
		{name: "deadline", err: fmt.Errorf("generate: %w", context.DeadlineExceeded), want: CodeTimeout},
		{name: "validation", err: fmt.Errorf("cfg: %w", models.ErrValidation), want: CodeValidation},
		{name: "not found", err: models.ErrNotFound, want: CodeDataMissing},
		{name: "net timeout", err: &net.OpError{Op: "dial", Err: timeoutErr{}}, want: CodeTimeout},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "catalog"}, want: CodeNetwork},
		{name: "other", err: errors.New("boom"), want: CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	network := NewError(CodeNetwork, "catalog", errors.New("down"))
	assert.True(t, IsRecoverable(network, 0))
	assert.True(t, IsRecoverable(network, MaxNetworkRetries-1))
	assert.False(t, IsRecoverable(network, MaxNetworkRetries))
	assert.True(t, IsRecoverable(NewError(CodeValidation, "", errors.New("x")), 99))
	assert.True(t, IsRecoverable(NewError(CodeTimeout, "", errors.New("x")), 99))
	assert.False(t, IsRecoverable(errors.New("boom"), 0))
}

func TestPipelineError(t *testing.T) {
	base := errors.New("catalog down")
	err := NewError(CodeNetwork, "catalog", base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "NETWORK_ERROR in catalog: catalog down", err.Error())
}

func input() *models.GeneratorInput {
	return &models.GeneratorInput{
		UserID: "u1",
		Preferences: models.Preferences{
			Budget:            2_000_000,
			Days:              3,
			Travelers:         2,
			AccommodationType: models.AccommodationModerate,
			Cities:            []string{"Malang", "Batu"},
		},
	}
}

func TestManager_Strategies(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, WithBackoffBase(time.Millisecond))
	cfg := genconfig.Defaults()
	cfg.DayStructure.MaxDailyActivities = 9

	t.Run("validation substitutes defaults once", func(t *testing.T) {
		in := input()
		in.Config = &models.ConfigOverrides{}
		a := NewAttempt(in, cfg)
		err := NewError(CodeValidation, "config", errors.New("bad"))

		require.True(t, m.Recover(ctx, err, a))
		assert.Equal(t, genconfig.Defaults(), a.Config)
		assert.Nil(t, a.Input.Config)
		assert.NotNil(t, in.Config, "caller input untouched")
		assert.False(t, m.Recover(ctx, err, a))
	})

	t.Run("network backs off until ceiling", func(t *testing.T) {
		a := NewAttempt(input(), cfg)
		err := NewError(CodeNetwork, "catalog", errors.New("down"))
		for i := 0; i < MaxNetworkRetries; i++ {
			require.True(t, m.Recover(ctx, err, a))
		}
		assert.Equal(t, MaxNetworkRetries, a.RetryCount)
		assert.False(t, m.Recover(ctx, err, a))
	})

	t.Run("network backoff honours cancellation", func(t *testing.T) {
		slow := NewManager(nil, WithBackoffBase(time.Hour))
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		a := NewAttempt(input(), cfg)
		assert.False(t, slow.Recover(cctx, NewError(CodeNetwork, "catalog", errors.New("down")), a))
	})

	t.Run("timeout doubles once", func(t *testing.T) {
		a := NewAttempt(input(), cfg)
		before := a.Timeout
		err := fmt.Errorf("generate: %w", context.DeadlineExceeded)
		require.True(t, m.Recover(ctx, err, a))
		assert.Equal(t, 2*before, a.Timeout)
		assert.False(t, m.Recover(ctx, err, a))
	})

	t.Run("data missing injects a fallback destination", func(t *testing.T) {
		a := NewAttempt(input(), cfg)
		err := NewError(CodeDataMissing, "catalog", errors.New("no destinations"))
		require.True(t, m.Recover(ctx, err, a))
		require.Len(t, a.Input.Destinations, 1)
		assert.Equal(t, "fallback-malang", a.Input.Destinations[0].ID)
		assert.Equal(t, []string{string(CodeDataMissing)}, a.Recoveries)
		assert.False(t, m.Recover(ctx, err, a))
	})

	t.Run("unknown is fatal", func(t *testing.T) {
		assert.False(t, m.Recover(ctx, errors.New("boom"), NewAttempt(input(), cfg)))
	})
}

func TestFallback_StructurallyValid(t *testing.T) {
	now := time.Date(2026, time.March, 3, 15, 0, 0, 0, time.UTC)
	cause := errors.New("catalog unreachable")

	for days := 1; days <= 7; days++ {
		in := input()
		in.Preferences.Days = days
		out := Fallback("it-1", in, genconfig.Defaults(), cause, now)

		assert.False(t, out.Success)
		assert.Equal(t, []string{"catalog unreachable"}, out.Errors)
		res := validation.ValidateStructure(out)
		assert.True(t, res.Valid, res.Messages())
		require.Len(t, out.Days, days)
		for _, d := range out.Days {
			assert.Len(t, d.Destinations, 1)
			assert.Equal(t, FallbackConfidence, d.MLConfidence)
		}
		assert.InDelta(t, 1_000_000, out.Budget.Total, 1e-9)
		assert.True(t, validation.ValidateOutput(out).Valid, validation.ValidateOutput(out).Messages())
	}
}

func TestFallback_TightDay(t *testing.T) {
	cfg := genconfig.Defaults()
	cfg.DayStructure.PreferredStartTime = models.MustTimeOfDay("09:00")
	cfg.DayStructure.PreferredEndTime = models.MustTimeOfDay("10:00")
	cfg.DayStructure.BufferTime = 15

	out := Fallback("it-1", input(), cfg, nil, time.Now())
	d := out.Days[0].Destinations[0]
	assert.LessOrEqual(t, int(d.ScheduledTime)+d.Duration+cfg.DayStructure.BufferTime, int(cfg.DayStructure.PreferredEndTime))
	assert.Equal(t, "Batu", out.Days[1].City)
}
