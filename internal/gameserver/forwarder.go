package gameserver

import (
	"context"
	"log/slog"

	"github.com/leozinhoszg/zerion/internal/chat"
	"github.com/leozinhoszg/zerion/internal/protocol"
)

// session is the teardown state of one joined client.
type session struct {
	client *Client
	sub    chat.Subscription

	cancelForward context.CancelFunc
	forwardDone   chan struct{}
}

// startForwarder relays chat messages to the client as event frames.
func (sess *session) startForwarder(ctx context.Context) {
	if sess.sub == nil {
		return
	}
	fctx, cancel := context.WithCancel(ctx)
	sess.cancelForward = cancel
	sess.forwardDone = make(chan struct{})

	go func() {
		defer close(sess.forwardDone)
		forward(fctx, sess.client, sess.sub)
	}()
}

// stopForwarder cancels the forwarder and waits for it to exit.
func (sess *session) stopForwarder() {
	if sess.cancelForward == nil {
		return
	}
	sess.cancelForward()
	<-sess.forwardDone
}

func forward(ctx context.Context, client *Client, sub chat.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.closeCh:
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if err := client.SendFrame(protocol.OpEvent, msg.Event()); err != nil {
				slog.Debug("relaying chat", "user", client.UserID(), "error", err)
				return
			}
		}
	}
}
