package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Tyrowin/pushgate/internal/common"
	"github.com/Tyrowin/pushgate/internal/logging"
	"github.com/Tyrowin/pushgate/internal/push"
)

// Pusher delivers a payload to a user's bound channel.
type Pusher interface {
	Push(username string, payload []byte) error
}

// Relay is the push.Dispatcher for inbound frames. A frame from a bound
// channel of the form {"to","content"} is forwarded to the recipient as a
// Delivery. Everything else is logged and dropped.
type Relay struct {
	sessions Pusher
	log      logging.Logger
}

func NewRelay(sessions Pusher, log logging.Logger) *Relay {
	return &Relay{sessions: sessions, log: log}
}

func (rl *Relay) Dispatch(ctx context.Context, msg push.Inbound) {
	log := rl.log.With("channel", msg.ChannelID, "remote", msg.Addr)
	if msg.Username == "" {
		log.Debug(ctx, "dropping message from unbound channel", "bytes", len(msg.Payload))
		return
	}

	var in RelayMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		log.Warn(ctx, "invalid message", "user", msg.Username, "error", err)
		return
	}
	in.To = strings.TrimSpace(in.To)
	if in.To == "" || in.Content == "" {
		log.Warn(ctx, "message without recipient or content", "user", msg.Username)
		return
	}

	payload, err := json.Marshal(Delivery{From: msg.Username, Content: in.Content})
	if err != nil {
		log.Error(ctx, "encoding delivery failed", "error", err)
		return
	}

	err = rl.sessions.Push(in.To, payload)
	switch {
	case err == nil:
		log.Debug(ctx, "relayed message", "from", msg.Username, "to", in.To)
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrChannelClosed):
		log.Info(ctx, "recipient has no active channel", "from", msg.Username, "to", in.To)
	default:
		log.Error(ctx, "relay failed", "from", msg.Username, "to", in.To, "error", err)
	}
}
