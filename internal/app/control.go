package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/sensorsend/internal/dispatch"
	"github.com/relabs-tech/sensorsend/internal/session"
)

// Command is a connect or disconnect request from the control surface.
type Command struct {
	Action  string `json:"action,omitempty"` // "connect" or "disconnect"
	Address string `json:"address,omitempty"`
}

// Status is what GET /api/status returns.
type Status struct {
	Session session.State  `json:"session"`
	Stats   dispatch.Stats `json:"stats"`
}

// Controller drives the session from the outside: the HTTP control API and
// the MQTT control topic both end up here.
type Controller struct {
	sess   *session.Session
	disp   *dispatch.Dispatcher
	logger *zap.Logger
}

func NewController(sess *session.Session, disp *dispatch.Dispatcher, logger *zap.Logger) *Controller {
	return &Controller{sess: sess, disp: disp, logger: logger.Named("control")}
}

// Connect points the session at address. A blank address is rejected and
// leaves the session as it was.
func (c *Controller) Connect(address string) error {
	if err := c.sess.Connect(address); err != nil {
		c.logger.Warn("connect rejected", zap.String("address", address), zap.Error(err))
		return err
	}
	c.logger.Info("connected", zap.String("endpoint", c.sess.Endpoint().Addr()))
	return nil
}

func (c *Controller) Disconnect() {
	c.sess.Disconnect()
	c.logger.Info("disconnected")
}

func (c *Controller) Status() Status {
	return Status{Session: c.sess.State(), Stats: c.disp.Stats()}
}

// Apply executes a control command.
func (c *Controller) Apply(cmd Command) error {
	switch strings.ToLower(strings.TrimSpace(cmd.Action)) {
	case "connect":
		return c.Connect(cmd.Address)
	case "disconnect":
		c.Disconnect()
		return nil
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}

// Routes returns the control API.
func (c *Controller) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/connect", func(w http.ResponseWriter, r *http.Request) {
		var cmd Command
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := c.Connect(cmd.Address); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, session.ErrBlankAddress) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		c.writeStatus(w)
	})

	mux.HandleFunc("POST /api/disconnect", func(w http.ResponseWriter, r *http.Request) {
		c.Disconnect()
		c.writeStatus(w)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		c.writeStatus(w)
	})

	return mux
}

func (c *Controller) writeStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(c.Status()); err != nil {
		c.logger.Warn("json encode error", zap.Error(err))
	}
}

// SubscribeMQTT applies commands published on topic.
func (c *Controller) SubscribeMQTT(client mqtt.Client, topic string) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var cmd Command
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			c.logger.Warn("control payload unmarshal error", zap.Error(err))
			return
		}
		if err := c.Apply(cmd); err != nil {
			c.logger.Warn("control command failed", zap.String("action", cmd.Action), zap.Error(err))
		}
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	c.logger.Info("subscribed to control topic", zap.String("topic", topic))
	return nil
}
