package control

import (
	"errors"
	"fmt"

	"github.com/padwatch/padwatch/internal/session"
)

// TimeoutReply renders the outcome of SetTimeout for human-facing
// interfaces.
func TimeoutReply(seconds int, err error) string {
	switch {
	case err == nil:
		return fmt.Sprintf("Idle timeout set to %ds", seconds)
	case errors.Is(err, ErrInvalidTimeout):
		return "Invalid timeout value"
	default:
		return fmt.Sprintf("Failed to set idle timeout: %v", err)
	}
}

// DisconnectReply renders the outcome of Disconnect. s may be nil.
func DisconnectReply(slot int, s *session.Session, err error) string {
	switch {
	case err == nil:
		return fmt.Sprintf("Disconnected %s (Player %d)", s.DisplayName, slot)
	case errors.Is(err, ErrNoSuchPlayer):
		return fmt.Sprintf("No controller found at index %d", slot)
	case errors.Is(err, ErrNoHardwareID):
		name := "Controller"
		if s != nil {
			name = s.DisplayName
		}
		return fmt.Sprintf("%s has no MAC, cannot disconnect", name)
	default:
		return fmt.Sprintf("Failed to disconnect Player %d: %v", slot, err)
	}
}
