package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/apexhq/apex/pkg/hub"
	"github.com/apexhq/apex/pkg/types"
)

const (
	writeTimeout  = 10 * time.Second
	sendQueueSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// origin policy is enforced by the CORS layer for REST; websocket
		// clients include non-browser consumers
		return true
	},
}

// session is one websocket connection registered with the hub. Outbound
// messages go through a bounded queue drained by the write pump; a full
// queue fails the Send, which makes the hub drop the session.
type session struct {
	id      string
	channel types.Channel
	conn    *websocket.Conn
	sendCh  chan []byte
	done    chan struct{}
}

var _ hub.Subscriber = (*session)(nil)

func (s *session) ID() string {
	return s.id
}

func (s *session) Send(payload []byte) error {
	select {
	case s.sendCh <- payload:
		return nil
	case <-s.done:
		return errors.New("session closed")
	default:
		return errors.New("send queue full")
	}
}

func (s *session) writePump() {
	for {
		select {
		case payload := <-s.sendCh:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}

// clientCommand is the inbound subscription control message.
type clientCommand struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type ackMessage struct {
	Status  string   `json:"status"`
	Symbols []string `json:"symbols"`
}

func (s *Server) serveWebsocket(c *gin.Context) {
	channel := types.Channel(c.Param("channel"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sess := &session{
		id:      uuid.New().String(),
		channel: channel,
		conn:    conn,
		sendCh:  make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}

	// register the connection even before the first subscribe so the hub
	// can track and clean it up uniformly
	s.Hub.Subscribe(sess, channel, nil)
	log.Infof("websocket connected: %s on channel %s", sess.id, channel)

	go sess.writePump()
	s.readLoop(sess)
}

func (s *Server) readLoop(sess *session) {
	defer func() {
		close(sess.done)
		_ = sess.conn.Close()
		s.Hub.Disconnect(sess.id)
		log.Infof("websocket disconnected: %s", sess.id)
	}()

	for {
		var cmd clientCommand
		if err := sess.conn.ReadJSON(&cmd); err != nil {
			return
		}

		switch cmd.Action {
		case "subscribe":
			symbols := s.Hub.Subscribe(sess, sess.channel, cmd.Symbols)
			if s.Source != nil {
				s.Source.Subscribe(cmd.Symbols...)
			}
			s.sendAck(sess, "subscribed", symbols)

		case "unsubscribe":
			symbols := s.Hub.Unsubscribe(sess.id, cmd.Symbols)
			s.sendAck(sess, "unsubscribed", symbols)

		default:
			log.Debugf("ignoring unknown websocket action %q from %s", cmd.Action, sess.id)
		}
	}
}

func (s *Server) sendAck(sess *session, status string, symbols []string) {
	if symbols == nil {
		symbols = []string{}
	}

	payload, err := json.Marshal(ackMessage{Status: status, Symbols: symbols})
	if err != nil {
		return
	}

	if err := sess.Send(payload); err != nil {
		log.WithError(err).Debugf("failed to ack %s to %s", status, sess.id)
	}
}
