package websocket

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"bus-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Разрешаем подключения с любых источников
	},
}

// Client одно WebSocket соединение
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	key    string
	userID uint
	name   string
	once   sync.Once
}

func (c *Client) Key() string  { return c.key }
func (c *Client) UserID() uint { return c.userID }

// Send вызывается только из горутины хаба
func (c *Client) Send(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.once.Do(func() { close(c.send) })
}

// inboundMessage входящее сообщение клиента
type inboundMessage struct {
	Type   string          `json:"type"`
	RideID json.RawMessage `json:"rideId"`
	Lat    *float64        `json:"lat"`
	Lng    *float64        `json:"lng"`
	Room   string          `json:"room"`
	Text   string          `json:"text"`
}

// parseRideID принимает и число, и строку с числом
func parseRideID(raw json.RawMessage) (uint, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	s := strings.Trim(string(raw), `"`)
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (c *Client) handle(msg inboundMessage) {
	switch msg.Type {
	case "ping":
		c.hub.send(c, PongType, gin.H{"time": time.Now().Unix()})

	case "joinRide":
		if id, ok := parseRideID(msg.RideID); ok {
			c.hub.Join(id, c)
		}

	case "leaveRide":
		if id, ok := parseRideID(msg.RideID); ok {
			c.hub.Leave(id, c)
		}

	case "user:location":
		id, ok := parseRideID(msg.RideID)
		if !ok || msg.Lat == nil || msg.Lng == nil {
			return
		}
		c.hub.UpdatePosition(id, c, c.name, *msg.Lat, *msg.Lng)

	case "chat:join":
		if room := strings.TrimSpace(msg.Room); room != "" {
			c.hub.JoinChat(room, c)
		}

	case "chat:leave":
		if room := strings.TrimSpace(msg.Room); room != "" {
			c.hub.LeaveChat(room, c)
		}

	case "chat:message":
		room, text := strings.TrimSpace(msg.Room), strings.TrimSpace(msg.Text)
		if room == "" || text == "" {
			return
		}
		c.hub.SendChat(ChatMessage{Room: room, Text: text, UserID: c.userID, UserName: c.name, SentAt: time.Now()})

	default:
		log.Printf("Неизвестный тип сообщения от клиента %s: %q", c.key, msg.Type)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Ошибка при чтении сообщения от клиента %s: %v", c.key, err)
			}
			return
		}

		// Соединение живое, сдвигаем дедлайн и для обычных сообщений
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// identify определяет пользователя по необязательному токену.
// Без токена или с недействительным токеном соединение анонимное.
func identify(c *gin.Context) (key string, userID uint, name string) {
	token := c.Query("token")
	if token == "" {
		if parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}
	if token != "" {
		claims, err := utils.ValidateToken(token)
		if err == nil && claims.UserID > 0 {
			name = claims.Name
			if name == "" {
				name = "Пассажир"
			}
			return "user_" + strconv.FormatUint(uint64(claims.UserID), 10), claims.UserID, name
		}
		log.Printf("WebSocket: недействительный токен, подключаем анонимно: %v", err)
	}
	return "anon_" + uuid.NewString(), 0, "Гость"
}

// Handler обрабатывает подключения WebSocket
func Handler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !websocket.IsWebSocketUpgrade(c.Request) {
			c.String(http.StatusBadRequest, "Требуется WebSocket соединение")
			return
		}

		key, userID, name := identify(c)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("Ошибка обновления соединения до WebSocket: %v", err)
			return
		}

		client := &Client{
			hub:    hub,
			conn:   conn,
			send:   make(chan []byte, sendBuffer),
			key:    key,
			userID: userID,
			name:   name,
		}
		hub.Register(client)
		log.Printf("WebSocket клиент подключён: %s", key)

		go client.writePump()
		go client.readPump()
	}
}
