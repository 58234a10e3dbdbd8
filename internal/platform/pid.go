package platform

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/stewart/internal/command"
	"github.com/banshee-data/stewart/internal/db"
	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/monitoring"
)

// The helpers below forward tuning commands to the controller firmware. Gains
// and feed-forward duties that were transmitted are remembered in the
// settings store so the operator can see what each actuator was last given.

func finite(vals ...*float64) error {
	for _, v := range vals {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%w: values must be finite", ErrInvalidInput)
		}
	}
	return nil
}

func (p *Platform) send(ctx context.Context, lines ...string) ([]string, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: nothing to send", ErrInvalidInput)
	}
	if err := command.Send(ctx, p.Link, p.clock, lines...); err != nil {
		return nil, err
	}
	return lines, nil
}

func (p *Platform) remember(gains ...db.PIDGains) {
	if p.store == nil {
		return
	}
	for _, g := range gains {
		if err := p.store.UpdatePIDGains(g); err != nil {
			monitoring.Logf("platform: persist pid gains: %v", err)
		}
	}
}

// SetSetpoint sets the stroke of one actuator, or of all of them when
// actuator is nil.
func (p *Platform) SetSetpoint(ctx context.Context, actuator *int, mm float64) ([]string, error) {
	if err := finite(&mm); err != nil {
		return nil, err
	}
	if actuator == nil {
		return p.send(ctx, command.Setpoint(mm))
	}
	line, err := command.ActuatorSetpoint(*actuator, mm)
	if err != nil {
		return nil, err
	}
	return p.send(ctx, line)
}

// SetOffset sets the stroke offset of one actuator, or of all of them when
// actuator is nil.
func (p *Platform) SetOffset(ctx context.Context, actuator *int, mm float64) ([]string, error) {
	if err := finite(&mm); err != nil {
		return nil, err
	}
	if actuator == nil {
		return p.send(ctx, command.OffsetAll(mm))
	}
	sel, err := command.Select(*actuator)
	if err != nil {
		return nil, err
	}
	return p.send(ctx, sel, command.Offset(mm))
}

// SetGains selects an actuator and sets the given gains on it.
func (p *Platform) SetGains(ctx context.Context, actuator int, kp, ki, kd *float64) ([]string, error) {
	if err := finite(kp, ki, kd); err != nil {
		return nil, err
	}
	lines, err := command.Gains(actuator, kp, ki, kd)
	if err != nil {
		return nil, err
	}
	if len(lines) == 1 {
		return nil, fmt.Errorf("%w: at least one of kp, ki, kd is required", ErrInvalidInput)
	}
	sent, err := p.send(ctx, lines...)
	if err != nil {
		return nil, err
	}
	p.remember(db.PIDGains{Actuator: actuator, Kp: kp, Ki: ki, Kd: kd})
	return sent, nil
}

// SetGainsAll sets the given gains on every actuator.
func (p *Platform) SetGainsAll(ctx context.Context, kp, ki, kd *float64) ([]string, error) {
	if err := finite(kp, ki, kd); err != nil {
		return nil, err
	}
	sent, err := p.send(ctx, command.GainsAll(kp, ki, kd)...)
	if err != nil {
		return nil, err
	}
	for n := 1; n <= kinematics.NumActuators; n++ {
		p.remember(db.PIDGains{Actuator: n, Kp: kp, Ki: ki, Kd: kd})
	}
	return sent, nil
}

// SetFeedforward selects an actuator and sets its advance and retract
// feed-forward duties.
func (p *Platform) SetFeedforward(ctx context.Context, actuator int, advance, retract *float64) ([]string, error) {
	if err := finite(advance, retract); err != nil {
		return nil, err
	}
	lines, err := command.Feedforward(actuator, advance, retract)
	if err != nil {
		return nil, err
	}
	if len(lines) == 1 {
		return nil, fmt.Errorf("%w: at least one of u0_adv, u0_ret is required", ErrInvalidInput)
	}
	sent, err := p.send(ctx, lines...)
	if err != nil {
		return nil, err
	}
	p.remember(db.PIDGains{Actuator: actuator, U0Adv: advance, U0Ret: retract})
	return sent, nil
}

// SetFeedforwardAll sets the feed-forward duties on every actuator.
func (p *Platform) SetFeedforwardAll(ctx context.Context, advance, retract *float64) ([]string, error) {
	if err := finite(advance, retract); err != nil {
		return nil, err
	}
	sent, err := p.send(ctx, command.FeedforwardAll(advance, retract)...)
	if err != nil {
		return nil, err
	}
	for n := 1; n <= kinematics.NumActuators; n++ {
		p.remember(db.PIDGains{Actuator: n, U0Adv: advance, U0Ret: retract})
	}
	return sent, nil
}

// ApplySettings sends the controller-wide settings that are set.
func (p *Platform) ApplySettings(ctx context.Context, s command.Settings) ([]string, error) {
	if err := finite(s.DeadbandMM, s.CutoffHz); err != nil {
		return nil, err
	}
	return p.send(ctx, s.Lines()...)
}

// Manual sends a jog command: A advances, R retracts, ok stops.
func (p *Platform) Manual(ctx context.Context, action string) ([]string, error) {
	line, err := command.Manual(action)
	if err != nil {
		return nil, err
	}
	return p.send(ctx, line)
}

// SelectActuator makes n the target of later per-actuator commands.
func (p *Platform) SelectActuator(ctx context.Context, n int) ([]string, error) {
	line, err := command.Select(n)
	if err != nil {
		return nil, err
	}
	return p.send(ctx, line)
}

// StoredGains returns what was last sent to each actuator. Without a
// settings store the list is empty.
func (p *Platform) StoredGains() ([]db.PIDGains, error) {
	if p.store == nil {
		return []db.PIDGains{}, nil
	}
	gains, err := p.store.PIDGains()
	if err != nil {
		return nil, err
	}
	if gains == nil {
		gains = []db.PIDGains{}
	}
	return gains, nil
}
