// Package moderation wraps the remote content-safety classifier behind a
// uniform verdict contract.
//
// The gate never returns an error to the message pipeline: an unconfigured
// classifier degrades to a skipped verdict and any transport, decode, or
// remote failure degrades to an error verdict. Delivery is availability
// first; downstream consumers differentiate treatment by the label alone.
package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/gatechat/gatechat/internal/platform/timeouts"
	"github.com/gatechat/gatechat/internal/services/chat/domain"
)

const (
	skippedReason        = "AI unavailable"
	defaultFlaggedReason = "Content flagged by AI."
)

// ClassifierResult is the schema-constrained verdict returned by the remote
// classifier.
type ClassifierResult struct {
	IsSafe bool   `json:"is_safe"`
	Reason string `json:"reason"`
}

// Classifier issues one remote content-safety call.
type Classifier interface {
	Classify(ctx context.Context, text string) (ClassifierResult, error)
}

// Gate maps classifier outcomes onto moderation verdicts.
type Gate struct {
	classifier Classifier
	timeout    time.Duration
}

// NewGate builds a gate around the given classifier. A nil classifier is
// valid and yields skipped verdicts for every message.
func NewGate(classifier Classifier) *Gate {
	return &Gate{
		classifier: classifier,
		timeout:    timeouts.Moderation,
	}
}

// Moderate classifies text and returns a labeled verdict. It never fails:
// every failure mode is folded into the verdict so one slow or broken
// classifier call cannot block or drop a message.
func (g *Gate) Moderate(ctx context.Context, text string) domain.Verdict {
	if g == nil || g.classifier == nil {
		return domain.Verdict{Status: domain.ModerationSkipped, Reason: skippedReason}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.classifier.Classify(callCtx, text)
	if err != nil {
		return domain.Verdict{
			Status: domain.ModerationError,
			Reason: fmt.Sprintf("AI moderation failed: %v", err),
		}
	}

	if result.IsSafe {
		return domain.Verdict{Status: domain.ModerationSafe, Reason: domain.ReasonNone}
	}

	reason := result.Reason
	if reason == "" || reason == domain.ReasonNone {
		reason = defaultFlaggedReason
	}
	return domain.Verdict{Status: domain.ModerationUnsafe, Reason: reason}
}
