package retry

import (
	"context"

	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/services/toolbridge"
	"go.uber.org/zap"
)

// Observer is notified once per recovery attempt
type Observer interface {
	ObserveRetry(rule string)
}

// SendFunc performs one outbound attempt with the given bridge mode
type SendFunc func(ctx context.Context, mode toolbridge.Mode) error

// Report describes the attempts made for one call
type Report struct {
	Attempts int
	Rule     string
	Modes    []toolbridge.Mode
}

// Orchestrator decides whether and how to resend a failed request
type Orchestrator struct {
	rules    []Rule
	logger   *zap.Logger
	observer Observer
}

// NewOrchestrator creates an Orchestrator with DefaultRules. A nil observer is allowed.
func NewOrchestrator(logger *zap.Logger, observer Observer) *Orchestrator {
	return &Orchestrator{rules: DefaultRules, logger: logger, observer: observer}
}

// Run sends with initial, then follows at most one recovery rule.
// Attempts are sequential and each recovery mode is used once.
// With disableFallback the first error is returned as is.
func (o *Orchestrator) Run(ctx context.Context, initial toolbridge.Mode, disableFallback bool, send SendFunc) (Report, error) {
	report := Report{Attempts: 1, Modes: []toolbridge.Mode{initial}}

	err := send(ctx, initial)
	if err == nil || disableFallback {
		return report, err
	}

	rule, ok := classifyWith(o.rules, err)
	if !ok {
		return report, err
	}
	report.Rule = rule.Name

	tried := make(map[toolbridge.Mode]bool, len(rule.Modes))
	for _, mode := range rule.Modes {
		if tried[mode] {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		tried[mode] = true

		o.logger.Warn("retrying with tool bridge fallback",
			zap.String("rule", rule.Name),
			zap.String("mode", string(mode)),
			zap.Int("attempt", report.Attempts+1),
			zap.String("error", providers.MessageOf(err)))
		if o.observer != nil {
			o.observer.ObserveRetry(rule.Name)
		}

		report.Attempts++
		report.Modes = append(report.Modes, mode)
		err = send(ctx, mode)
		if err == nil {
			return report, nil
		}

		next, ok := classifyWith(o.rules, err)
		if !ok || next.Name != rule.Name {
			break
		}
	}

	if last, ok := classifyWith(o.rules, err); ok {
		return report, &providers.ToolSchemaError{Class: last.Name, Upstream: err}
	}
	return report, err
}
