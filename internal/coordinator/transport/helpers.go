package transport

import (
	"context"
	"time"

	"github.com/c3po-dev/c3po/internal/coordinator/apierr"
	"github.com/c3po-dev/c3po/internal/coordinator/messaging"
	"github.com/c3po-dev/c3po/internal/coordinator/validate"
)

// nowUTC is a seam for ping's timestamp; kept as a function (rather than a
// direct time.Now() call at the use site) so tests can substitute it if
// the wire format ever needs pinning down.
func nowUTC() time.Time {
	return time.Now().UTC()
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// waitAnyUntilDeadline re-arms Messaging.WaitAny across spurious empty
// wakes until either a message arrives or the caller's timeout budget is
// exhausted. messaging.Engine.WaitAny itself returns immediately on any
// wake, even an empty one (spec.md §9's spurious-wake question): the retry
// policy lives here, at the edge, rather than inside the engine, so the
// caller-specified timeout is never silently extended.
func waitAnyUntilDeadline(ctx context.Context, eng *messaging.Engine, agentID string, timeout time.Duration) (messaging.WaitResult, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return messaging.WaitResult{TimedOut: true}, nil
		}
		res, err := eng.WaitAny(ctx, agentID, remaining)
		if err != nil {
			return messaging.WaitResult{}, err
		}
		if res.TimedOut || len(res.Messages) > 0 {
			return res, nil
		}
	}
}

// validateProfileFields checks register_agent's optional name/capabilities
// arguments before they reach the registry: name against
// validate.ValidateName's charset/length rule, each capability against
// validate.ValidateProperty's identifier charset (sanitized in the
// process). A nil capabilities slice (field omitted) passes through
// unchanged so UpdateProfile's "nil means leave it alone" contract holds.
func validateProfileFields(name string, capabilities []string) ([]string, error) {
	if name != "" {
		if err := validate.ValidateName(name); err != nil {
			return nil, apierr.Invalid(err.Error())
		}
	}
	if capabilities == nil {
		return nil, nil
	}
	clean := make([]string, len(capabilities))
	for i, c := range capabilities {
		sanitized, err := validate.ValidateProperty("capability", c)
		if err != nil {
			return nil, apierr.Invalid(err.Error())
		}
		clean[i] = sanitized
	}
	return clean, nil
}
