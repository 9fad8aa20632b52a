package actions

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
)

var (
	ErrUnknownType = errors.New("unknown action type")
	ErrMissingURL  = errors.New("navigate action without a valid url")
	ErrMissingText = errors.New("type action without text")
	ErrBadWait     = errors.New("wait action without a positive duration")
	ErrMissingKeys = errors.New("send keys action without keys")
)

// Check reports why an action cannot be sent as-is. Repairable problems
// (missing selector, out-of-range wait, scroll without direction) are not
// errors; Repair fixes them.
func Check(a schemas.Action) error {
	switch a.Type {
	case schemas.ActionNavigate:
		if !validURL(a.URL) {
			return ErrMissingURL
		}
	case schemas.ActionTypeText:
		if a.Text == "" {
			return ErrMissingText
		}
	case schemas.ActionWait:
		if !(a.TimeSeconds > 0) || math.IsInf(a.TimeSeconds, 0) {
			return ErrBadWait
		}
	case schemas.ActionSendKeys:
		if strings.TrimSpace(a.Keys) == "" {
			return ErrMissingKeys
		}
	case schemas.ActionClick, schemas.ActionScroll, schemas.ActionScreenshot:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, a.Type)
	}
	return nil
}

func validURL(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https")
}

// Repair fixes an action that passed Check: interactions get a sanitized
// selector (or the generic fallback), waits are clamped, scrolls get a
// direction.
func Repair(a schemas.Action) schemas.Action {
	a = a.Clone()
	switch a.Type {
	case schemas.ActionClick, schemas.ActionTypeText:
		if a.Selector == nil {
			fb := selectors.Fallback()
			a.Selector = &fb
			break
		}
		s, err := selectors.Sanitize(*a.Selector)
		if err != nil {
			s = selectors.Fallback()
		}
		a.Selector = &s
	case schemas.ActionWait:
		a.TimeSeconds = math.Min(schemas.MaxWaitSeconds, math.Max(schemas.MinWaitSeconds, a.TimeSeconds))
	case schemas.ActionScroll:
		if !a.Up && !a.Down && !a.Left && !a.Right {
			a.Down = true
		}
	}
	return a
}

// Validate drops actions that fail Check and repairs the rest. The result
// is never empty.
func Validate(logger *zap.Logger, in []schemas.Action) []schemas.Action {
	out := make([]schemas.Action, 0, len(in))
	for i, a := range in {
		if err := Check(a); err != nil {
			logger.Debug("Dropping invalid action", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, Repair(a))
	}
	if len(out) == 0 {
		return []schemas.Action{schemas.Screenshot()}
	}
	return out
}
