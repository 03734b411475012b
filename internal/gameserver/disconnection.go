package gameserver

import (
	"context"
	"log/slog"
	"time"
)

// disconnectFlushTimeout bounds the targeted flush on disconnect.
const disconnectFlushTimeout = 5 * time.Second

// onDisconnection tears a session down. Every step runs even when an
// earlier one fails; failures are logged only.
func (s *Server) onDisconnection(sess *session) {
	client := sess.client

	sess.stopForwarder()
	if sess.sub != nil {
		if err := sess.sub.Close(); err != nil {
			slog.Warn("closing chat subscription", "user", client.UserID(), "error", err)
		}
	}

	if err := client.Close(); err != nil {
		slog.Debug("closing connection", "user", client.UserID(), "error", err)
	}
	s.clientManager.Unregister(client)
	// A replacing session of the same user keeps the limiters.
	if s.clientManager.Get(client.UserID()) == nil {
		s.throttle.Forget(client.PlayerID())
	}
	s.scheduler.Leave(client.View())

	ctx, cancel := context.WithTimeout(context.Background(), disconnectFlushTimeout)
	defer cancel()
	if err := s.persister.FlushOne(ctx, client.CharacterID()); err != nil {
		slog.Error("flushing character on disconnect",
			"user", client.UserID(),
			"character", client.CharacterID(),
			"error", err)
	}

	slog.Info("player disconnected",
		"user", client.UserID(),
		"character", client.CharacterID(),
		"online", s.clientManager.Count(),
	)
}
