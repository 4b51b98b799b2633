package handlers

import (
	"net/http"
	"strconv"

	"planewars/services"

	"github.com/gin-gonic/gin"
)

// RoomHandler is the thin REST surface over the room aggregate. Mutations
// here produce the same realtime fan-out as websocket intents.
type RoomHandler struct {
	roomService *services.RoomService
	hub         *services.Hub
}

func NewRoomHandler(roomService *services.RoomService, hub *services.Hub) *RoomHandler {
	return &RoomHandler{roomService: roomService, hub: hub}
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req services.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.roomService.CreateRoom(c.Request.Context(), userID.(uint), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.BindUserToRoom(userID.(uint), view.ID)
	c.JSON(http.StatusCreated, view)
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	list, err := h.roomService.ListRooms(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	view, err := h.roomService.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

type joinRoomRequest struct {
	Password string `json:"password"`
}

func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	var req joinRoomRequest
	_ = c.ShouldBindJSON(&req) // password is optional, body may be empty

	view, err := h.roomService.JoinRoom(c.Request.Context(), userID.(uint), roomID, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.BindUserToRoom(userID.(uint), roomID)

	var slot int
	for i := range view.Members {
		if view.Members[i].UserID == userID.(uint) {
			slot = view.Members[i].Slot
		}
	}
	h.hub.BroadcastToRoomExcludingUser(roomID, services.EventPlayerJoined, gin.H{
		"user_id": userID.(uint),
		"slot":    slot,
	}, userID.(uint))
	h.hub.BroadcastToRoom(roomID, services.EventRoomUpdated, view, "")

	c.JSON(http.StatusOK, view)
}

func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	result, err := h.roomService.LeaveRoom(c.Request.Context(), userID.(uint), roomID)
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.BindUserToRoom(userID.(uint), 0)
	h.hub.FanOutDeparture(roomID, userID.(uint), result, "")

	c.JSON(http.StatusOK, gin.H{"message": "Left room"})
}

func (h *RoomHandler) KickMember(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	targetID, err := strconv.ParseUint(c.Param("userId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}

	result, err := h.roomService.KickMember(c.Request.Context(), userID.(uint), roomID, uint(targetID))
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.SendToUser(uint(targetID), services.EventPlayerKicked, gin.H{
		"user_id": uint(targetID),
		"reason":  "kicked by host",
	})
	h.hub.BindUserToRoom(uint(targetID), 0)
	h.hub.BroadcastToRoom(roomID, services.EventPlayerKicked, gin.H{
		"user_id": uint(targetID),
		"reason":  "kicked by host",
	}, "")
	if result.GameEnded {
		h.hub.BroadcastToRoom(roomID, services.EventGameEnded, gin.H{
			"winner_id": result.WinnerID,
			"reason":    "forfeit",
		}, "")
	}
	h.hub.BroadcastToRoom(roomID, services.EventRoomUpdated, result.Room, "")

	c.JSON(http.StatusOK, result.Room)
}

func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	view, err := h.roomService.DissolveRoom(c.Request.Context(), userID.(uint), roomID)
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.BroadcastToRoom(roomID, services.EventRoomDissolved, gin.H{"reason": "dissolved by host"}, "")
	for _, m := range view.Members {
		h.hub.BindUserToRoom(m.UserID, 0)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Room dissolved"})
}

func roomIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room id"})
		return 0, false
	}
	return uint(id), true
}
