package installer

import (
	"github.com/quantmind-br/droidctl/internal/core"
	"github.com/quantmind-br/droidctl/internal/session"
	"github.com/rs/zerolog"
)

// statusReceiver logs OS status reports for item and forwards final outcomes to onResult
func statusReceiver(log *zerolog.Logger, item core.InstallItem, onResult func(success bool)) session.StatusReceiver {
	return session.StatusFunc(func(s session.Status) {
		ev := log.With().
			Str("item_id", item.ID).
			Str("package", item.PackageName.String()).
			Int("session_id", s.SessionID).
			Logger()

		switch s.Code {
		case session.StatusPendingUserAction:
			ev.Warn().Msg("waiting for user confirmation on the device")
			return
		case session.StatusSuccess:
			ev.Debug().Str("message", s.Message).Msg("package operation succeeded")
		default:
			ev.Warn().Str("message", s.Message).Msg("package operation failed")
		}

		if onResult != nil {
			onResult(s.Code == session.StatusSuccess)
		}
	})
}
