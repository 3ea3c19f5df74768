package server

import (
	"encoding/json"
	"errors"
	"log"

	"tracehub/internal/featureflags"
	"tracehub/internal/middleware"
	"tracehub/internal/models"
	"tracehub/internal/notifications"
	"tracehub/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Client frames on the discussion socket.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
)

type discussionFrame struct {
	Type   string `json:"type"`
	ItemID uint   `json:"item_id"`
}

// DiscussionSocketHandler handles GET /api/ws/discussions.
//
// The client sends {"type":"subscribe","item_id":N} and receives
// {"type":"subscribed","item_id":N}, then every message and item_deleted
// event for that item. Posting happens over HTTP.
func (s *Server) DiscussionSocketHandler() fiber.Handler {
	upgrade := websocket.New(func(conn *websocket.Conn) {
		middleware.ActiveWebSockets.Inc()
		defer middleware.ActiveWebSockets.Dec()

		userIDVal := conn.Locals("userID")
		if userIDVal == nil {
			log.Printf("WebSocket Discussions: Unauthenticated connection attempt")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		userID := userIDVal.(uint)

		client, err := s.itemHub.Register(userID, conn)
		if err != nil {
			log.Printf("WebSocket Discussions: Failed to register user %d: %v", userID, err)
			payload, _ := json.Marshal(models.ItemEvent{Type: models.EventError, Error: err.Error(), Reason: models.CodeUnavailable})
			_ = conn.WriteMessage(websocket.TextMessage, payload)
			_ = conn.Close()
			return
		}

		client.IncomingHandler = s.handleDiscussionFrame

		go client.WritePump()
		client.ReadPump()
	})

	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("userID").(uint)
		if !s.featureFlags.EnabledOr(featureflags.RealtimeDiscussions, userID, true) {
			return models.RespondWithError(c, fiber.StatusServiceUnavailable,
				models.NewUnavailableError(errors.New("realtime discussions are disabled")))
		}
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return upgrade(c)
	}
}

func (s *Server) handleDiscussionFrame(client *notifications.Client, raw []byte) {
	var frame discussionFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		sendEvent(client, models.ItemEvent{Type: models.EventError, Error: "invalid frame", Reason: models.CodeValidation})
		return
	}

	span, ctx := observability.StartWebSocketSpan(s.shutdownContext(), s.itemHub.Name(), frame.Type)
	defer span.End()
	span.AddAttributes(observability.AttrItemID.Int64(int64(frame.ItemID)))

	switch frame.Type {
	case frameSubscribe:
		if frame.ItemID == 0 {
			sendEvent(client, models.ItemEvent{Type: models.EventError, Error: "item_id is required", Reason: models.CodeValidation})
			return
		}
		if _, err := s.itemService.GetItem(ctx, frame.ItemID); err != nil {
			span.SetError(err)
			sendEvent(client, errorEvent(frame.ItemID, err))
			return
		}
		// The hub refuses items whose deletion it already broadcast, which
		// covers a delete landing between the lookup above and this call.
		if err := s.itemHub.Subscribe(client, frame.ItemID); err != nil {
			span.SetError(err)
			if errors.Is(err, notifications.ErrItemDeleted) {
				sendEvent(client, errorEvent(frame.ItemID, models.NewNotFoundError("Item", frame.ItemID)))
				return
			}
			sendEvent(client, models.ItemEvent{Type: models.EventError, ItemID: frame.ItemID, Error: err.Error(), Reason: models.CodeValidation})
			return
		}
		sendEvent(client, models.ItemEvent{Type: models.EventSubscribed, ItemID: frame.ItemID})
	case frameUnsubscribe:
		s.itemHub.Unsubscribe(client, frame.ItemID)
	default:
		sendEvent(client, models.ItemEvent{Type: models.EventError, ItemID: frame.ItemID, Error: "unknown frame type", Reason: models.CodeValidation})
	}
}

func errorEvent(itemID uint, err error) models.ItemEvent {
	ev := models.ItemEvent{Type: models.EventError, ItemID: itemID, Error: err.Error(), Reason: models.CodeInternal}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		ev.Error = appErr.Message
		ev.Reason = appErr.Code
	}
	return ev
}

func sendEvent(client *notifications.Client, ev models.ItemEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	client.TrySend(payload)
}
