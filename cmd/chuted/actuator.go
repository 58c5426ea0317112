package main

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

// Actuator drives the physical release hardware. Implementations must be
// safe for use from the daemon goroutine only; they are not required to be
// concurrency safe.
type Actuator interface {
	RelayOn(index int) error
	RelayOff(index int) error
	ServoSet(pwmUS int) error
	Close() error
}

// Notifier mirrors the release state onto an external indicator.
type Notifier interface {
	SetReleaseFlag(on bool) error
}

// TextSender delivers operator-facing status text to the ground station.
type TextSender interface {
	SendText(severity Severity, text string) error
}

// rpioActuator drives relays as plain GPIO outputs and the servo through the
// hardware PWM peripheral. One process-wide rpio.Open/Close pair guards the
// /dev/gpiomem mapping.
type rpioActuator struct {
	relayPins []rpio.Pin
	servoPin  rpio.Pin
	hasServo  bool
	ledPin    rpio.Pin
	hasLED    bool
	logger    *slog.Logger

	mu        sync.Mutex
	lastPWMUS int
}

func newRPIOActuator(cfg ActuatorConfig, logger *slog.Logger) (*rpioActuator, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("opening gpio memory: %w", err)
	}

	a := &rpioActuator{logger: logger}

	for _, bcm := range cfg.RelayPins {
		pin := rpio.Pin(bcm)
		pin.Output()
		pin.Low()
		a.relayPins = append(a.relayPins, pin)
	}

	if cfg.ServoPin >= 0 {
		a.servoPin = rpio.Pin(cfg.ServoPin)
		a.servoPin.Mode(rpio.Pwm)
		// 1 us per duty tick at a 20 ms cycle gives the standard 50 Hz
		// servo frame.
		a.servoPin.Freq(servoPWMCycleUS * 50)
		a.hasServo = true
	}

	if cfg.LEDPin >= 0 {
		a.ledPin = rpio.Pin(cfg.LEDPin)
		a.ledPin.Output()
		a.ledPin.Low()
		a.hasLED = true
	}

	return a, nil
}

func (a *rpioActuator) RelayOn(index int) error {
	if index < 0 || index >= len(a.relayPins) {
		return fmt.Errorf("relay index %d out of range (%d pins configured)", index, len(a.relayPins))
	}
	a.relayPins[index].High()
	a.logger.Info("relay energized", "index", index)
	return nil
}

func (a *rpioActuator) RelayOff(index int) error {
	if index < 0 || index >= len(a.relayPins) {
		return fmt.Errorf("relay index %d out of range (%d pins configured)", index, len(a.relayPins))
	}
	a.relayPins[index].Low()
	a.logger.Info("relay de-energized", "index", index)
	return nil
}

func (a *rpioActuator) ServoSet(pwmUS int) error {
	if !a.hasServo {
		return fmt.Errorf("no servo pin configured")
	}
	if pwmUS < pwmMinUS || pwmUS > pwmMaxUS {
		return fmt.Errorf("servo pulse %d us outside %d..%d", pwmUS, pwmMinUS, pwmMaxUS)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if pwmUS == a.lastPWMUS {
		return nil
	}
	a.servoPin.DutyCycle(uint32(pwmUS), servoPWMCycleUS)
	a.lastPWMUS = pwmUS
	a.logger.Info("servo pulse set", "pwm_us", pwmUS)
	return nil
}

func (a *rpioActuator) SetReleaseFlag(on bool) error {
	if !a.hasLED {
		return nil
	}
	if on {
		a.ledPin.High()
	} else {
		a.ledPin.Low()
	}
	return nil
}

func (a *rpioActuator) Close() error {
	for _, pin := range a.relayPins {
		pin.Low()
	}
	if a.hasLED {
		a.ledPin.Low()
	}
	return rpio.Close()
}

// nullActuator satisfies Actuator and Notifier without any hardware. Used
// with driver "none" for bench runs and in tests.
type nullActuator struct {
	logger *slog.Logger
}

func (n *nullActuator) RelayOn(index int) error {
	n.logger.Info("null actuator: relay on", "index", index)
	return nil
}

func (n *nullActuator) RelayOff(index int) error {
	n.logger.Info("null actuator: relay off", "index", index)
	return nil
}

func (n *nullActuator) ServoSet(pwmUS int) error {
	n.logger.Info("null actuator: servo set", "pwm_us", pwmUS)
	return nil
}

func (n *nullActuator) SetReleaseFlag(on bool) error {
	n.logger.Info("null actuator: release flag", "on", on)
	return nil
}

func (n *nullActuator) Close() error { return nil }
