package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nlazarev/visavis/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump feeds inbound frames to the router. On any exit it tears the
// registration down so a dead channel never lingers in the roster.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, id domain.ID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Int64("id", int64(id)).Msg("readPump closing")
		cancel()
		ctl.Router.Disconnect(id)
		ctl.Limiter.Forget(id)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Int64("id", int64(id)).Msg("readPump read error")
				return
			}
			if !ctl.Limiter.Allow(id) {
				log.Warn().Str("module", "signal").Int64("id", int64(id)).Msg("rate limit exceeded, dropping frame")
				continue
			}
			ctl.Router.HandleFrame(id, data)
		}
	}
}
