// Package websocket живые позиции пассажиров и автобусов по рейсам.
//
// Всё состояние (комнаты рейсов, позиции, подписчики) принадлежит одной
// горутине Hub.Run. Остальной код меняет его только через команды,
// отправляемые в канал хаба.
package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"time"

	"bus-backend/internal/middleware"
	"bus-backend/internal/models"
	"bus-backend/internal/services/geo"
)

// Типы исходящих сообщений
const (
	RosterUpdateType     = "ROSTER_UPDATE"
	VehiclePositionType  = "VEHICLE_POSITION"
	RideUpdateType       = "RIDE_UPDATE"
	CapacityCounterType  = "CAPACITY_COUNTER"
	TrafficUpdateType    = "TRAFFIC_UPDATE"
	TrafficChatType      = "TRAFFIC_CHAT"
	ChatMessageType      = "CHAT_MESSAGE"
	BookingConfirmedType = "BOOKING_CONFIRMED"
	PongType             = "pong"
)

// WebSocketMessage формат сообщения WebSocket
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Subscriber получатель сообщений хаба. Send не должен блокироваться:
// false означает, что буфер переполнен и подписчика нужно отключить.
type Subscriber interface {
	Key() string
	UserID() uint
	Send(data []byte) bool
	Close()
}

// Sample последняя известная позиция участника рейса
type Sample struct {
	Key       string    `json:"key"`
	UserID    uint      `json:"userId,omitempty"`
	Name      string    `json:"name"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type RosterUpdate struct {
	RideID       uint     `json:"rideId"`
	Participants []Sample `json:"participants"`
}

type VehiclePosition struct {
	RideID     uint      `json:"rideId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	ETAMinutes *int      `json:"etaMinutes,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type CapacityCounter struct {
	RideID uint `json:"rideId"`
	Count  int  `json:"count"`
}

type TrafficUpdate struct {
	Signals []models.JunctionReading `json:"signals"`
}

// ChatMessage сообщение в эфемерной комнате чата (без сохранения)
type ChatMessage struct {
	Room     string    `json:"room"`
	Text     string    `json:"text"`
	UserID   uint      `json:"userId,omitempty"`
	UserName string    `json:"userName"`
	SentAt   time.Time `json:"ts"`
}

type room struct {
	subscribers map[Subscriber]struct{}
	samples     map[string]Sample
	vehicle     *VehiclePosition
}

func newRoom() *room {
	return &room{
		subscribers: make(map[Subscriber]struct{}),
		samples:     make(map[string]Sample),
	}
}

func (r *room) empty() bool {
	return len(r.subscribers) == 0 && len(r.samples) == 0 && r.vehicle == nil
}

func (r *room) roster(rideID uint) RosterUpdate {
	participants := make([]Sample, 0, len(r.samples))
	for _, s := range r.samples {
		participants = append(participants, s)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].Key < participants[j].Key })
	return RosterUpdate{RideID: rideID, Participants: participants}
}

// command одна операция над состоянием хаба, выполняется в Run
type command interface {
	apply(h *Hub)
}

type Hub struct {
	commands chan command
	done     chan struct{}
	now      func() time.Time

	// Поля ниже принадлежат горутине Run
	subscribers map[Subscriber]struct{}
	rooms       map[uint]*room
	chats       map[string]map[Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{
		commands:    make(chan command, 256),
		done:        make(chan struct{}),
		now:         time.Now,
		subscribers: make(map[Subscriber]struct{}),
		rooms:       make(map[uint]*room),
		chats:       make(map[string]map[Subscriber]struct{}),
	}
}

// Run главный цикл хаба. При отмене контекста все подписчики отключаются.
func (h *Hub) Run(ctx context.Context) {
	log.Printf("Запуск WebSocket хаба")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for sub := range h.subscribers {
				sub.Close()
			}
			h.subscribers = map[Subscriber]struct{}{}
			h.rooms = map[uint]*room{}
			h.chats = map[string]map[Subscriber]struct{}{}
			h.reportStats()
			log.Printf("WebSocket хаб остановлен")
			return
		case cmd := <-h.commands:
			cmd.apply(h)
			h.reportStats()
		}
	}
}

func (h *Hub) submit(cmd command) {
	select {
	case h.commands <- cmd:
	case <-h.done:
	}
}

func (h *Hub) reportStats() {
	middleware.HubRooms.Set(float64(len(h.rooms)))
	middleware.HubSubscribers.Set(float64(len(h.subscribers)))
}

func encode(msgType string, payload interface{}) []byte {
	data, err := json.Marshal(WebSocketMessage{Type: msgType, Payload: payload})
	if err != nil {
		log.Printf("Ошибка при кодировании сообщения %s: %v", msgType, err)
		return nil
	}
	return data
}

// deliver отправляет данные набору подписчиков и отключает тех,
// кто не успевает читать
func (h *Hub) deliver(subs map[Subscriber]struct{}, data []byte) {
	if data == nil {
		return
	}
	var slow []Subscriber
	for sub := range subs {
		if !sub.Send(data) {
			slow = append(slow, sub)
		}
	}
	for _, sub := range slow {
		log.Printf("Подписчик %s не успевает читать, отключаем", sub.Key())
		h.disconnect(sub)
	}
}

func (h *Hub) broadcastRoster(rideID uint, r *room) {
	h.deliver(r.subscribers, encode(RosterUpdateType, r.roster(rideID)))
}

func (h *Hub) room(rideID uint) *room {
	r, ok := h.rooms[rideID]
	if !ok {
		r = newRoom()
		h.rooms[rideID] = r
	}
	return r
}

func (h *Hub) dropIfEmpty(rideID uint) {
	if r, ok := h.rooms[rideID]; ok && r.empty() {
		delete(h.rooms, rideID)
	}
}

func (h *Hub) registered(sub Subscriber) bool {
	_, ok := h.subscribers[sub]
	return ok
}

// disconnect убирает подписчика отовсюду и рассылает изменившиеся составы
func (h *Hub) disconnect(sub Subscriber) {
	if !h.registered(sub) {
		return
	}
	delete(h.subscribers, sub)
	sub.Close()

	for name, members := range h.chats {
		delete(members, sub)
		if len(members) == 0 {
			delete(h.chats, name)
		}
	}

	key := sub.Key()
	for rideID, r := range h.rooms {
		delete(r.subscribers, sub)
		if _, ok := r.samples[key]; ok {
			delete(r.samples, key)
			h.broadcastRoster(rideID, r)
		}
		h.dropIfEmpty(rideID)
	}
}

// ---------- команды ----------

type registerCmd struct{ sub Subscriber }

func (c registerCmd) apply(h *Hub) {
	h.subscribers[c.sub] = struct{}{}
}

type disconnectCmd struct{ sub Subscriber }

func (c disconnectCmd) apply(h *Hub) {
	h.disconnect(c.sub)
}

type joinCmd struct {
	rideID uint
	sub    Subscriber
}

func (c joinCmd) apply(h *Hub) {
	if !h.registered(c.sub) {
		return
	}
	r := h.room(c.rideID)
	r.subscribers[c.sub] = struct{}{}
	if r.vehicle != nil {
		if !c.sub.Send(encode(VehiclePositionType, r.vehicle)) {
			h.disconnect(c.sub)
			return
		}
	}
	h.broadcastRoster(c.rideID, r)
}

type leaveCmd struct {
	rideID uint
	sub    Subscriber
}

func (c leaveCmd) apply(h *Hub) {
	r, ok := h.rooms[c.rideID]
	if !ok {
		return
	}
	delete(r.subscribers, c.sub)
	delete(r.samples, c.sub.Key())
	h.broadcastRoster(c.rideID, r)
	h.dropIfEmpty(c.rideID)
}

type updateCmd struct {
	rideID uint
	sub    Subscriber
	name   string
	lat    float64
	lng    float64
	reply  chan []Sample
}

func (c updateCmd) apply(h *Hub) {
	defer close(c.reply)
	if !h.registered(c.sub) {
		return
	}
	r := h.room(c.rideID)
	if geo.Validate(c.lat, c.lng) == nil {
		now := h.now()
		key := c.sub.Key()
		if prev, ok := r.samples[key]; !ok || !now.Before(prev.UpdatedAt) {
			r.samples[key] = Sample{Key: key, UserID: c.sub.UserID(), Name: c.name, Lat: c.lat, Lng: c.lng, UpdatedAt: now}
			h.broadcastRoster(c.rideID, r)
		}
	}
	roster := r.roster(c.rideID)
	h.dropIfEmpty(c.rideID)
	c.reply <- roster.Participants
}

type vehicleCmd struct{ pos VehiclePosition }

func (c vehicleCmd) apply(h *Hub) {
	r := h.room(c.pos.RideID)
	if r.vehicle != nil && c.pos.UpdatedAt.Before(r.vehicle.UpdatedAt) {
		return
	}
	pos := c.pos
	r.vehicle = &pos
	h.deliver(r.subscribers, encode(VehiclePositionType, pos))
}

type publishCmd struct {
	rideID  uint
	msgType string
	payload interface{}
}

func (c publishCmd) apply(h *Hub) {
	if r, ok := h.rooms[c.rideID]; ok {
		h.deliver(r.subscribers, encode(c.msgType, c.payload))
	}
}

type broadcastCmd struct {
	msgType string
	payload interface{}
}

func (c broadcastCmd) apply(h *Hub) {
	h.deliver(h.subscribers, encode(c.msgType, c.payload))
}

type sendToUserCmd struct {
	userID  uint
	msgType string
	payload interface{}
}

func (c sendToUserCmd) apply(h *Hub) {
	targets := make(map[Subscriber]struct{})
	for sub := range h.subscribers {
		if sub.UserID() == c.userID {
			targets[sub] = struct{}{}
		}
	}
	if len(targets) > 0 {
		h.deliver(targets, encode(c.msgType, c.payload))
	}
}

type directCmd struct {
	sub     Subscriber
	msgType string
	payload interface{}
}

func (c directCmd) apply(h *Hub) {
	if h.registered(c.sub) {
		h.deliver(map[Subscriber]struct{}{c.sub: {}}, encode(c.msgType, c.payload))
	}
}

type clearCmd struct{ rideID uint }

func (c clearCmd) apply(h *Hub) {
	delete(h.rooms, c.rideID)
}

type rosterCmd struct {
	rideID uint
	reply  chan []Sample
}

func (c rosterCmd) apply(h *Hub) {
	defer close(c.reply)
	if r, ok := h.rooms[c.rideID]; ok {
		c.reply <- r.roster(c.rideID).Participants
	}
}

type chatJoinCmd struct {
	room string
	sub  Subscriber
}

func (c chatJoinCmd) apply(h *Hub) {
	if !h.registered(c.sub) {
		return
	}
	members, ok := h.chats[c.room]
	if !ok {
		members = make(map[Subscriber]struct{})
		h.chats[c.room] = members
	}
	members[c.sub] = struct{}{}
}

type chatLeaveCmd struct {
	room string
	sub  Subscriber
}

func (c chatLeaveCmd) apply(h *Hub) {
	if members, ok := h.chats[c.room]; ok {
		delete(members, c.sub)
		if len(members) == 0 {
			delete(h.chats, c.room)
		}
	}
}

type chatMessageCmd struct{ msg ChatMessage }

func (c chatMessageCmd) apply(h *Hub) {
	if members, ok := h.chats[c.msg.Room]; ok {
		h.deliver(members, encode(ChatMessageType, c.msg))
	}
}

// ---------- публичный API ----------

// Register добавляет подписчика. Команды от незарегистрированных
// (или уже отключённых) подписчиков игнорируются.
func (h *Hub) Register(sub Subscriber) { h.submit(registerCmd{sub: sub}) }

// Disconnect убирает подписчика из всех рейсов и комнат чата
func (h *Hub) Disconnect(sub Subscriber) { h.submit(disconnectCmd{sub: sub}) }

func (h *Hub) Join(rideID uint, sub Subscriber) { h.submit(joinCmd{rideID: rideID, sub: sub}) }

func (h *Hub) Leave(rideID uint, sub Subscriber) { h.submit(leaveCmd{rideID: rideID, sub: sub}) }

// UpdatePosition обновляет позицию участника и возвращает состав рейса.
// Некорректные координаты молча игнорируются.
func (h *Hub) UpdatePosition(rideID uint, sub Subscriber, displayName string, lat, lng float64) []Sample {
	reply := make(chan []Sample, 1)
	h.submit(updateCmd{rideID: rideID, sub: sub, name: displayName, lat: lat, lng: lng, reply: reply})
	select {
	case roster := <-reply:
		return roster
	case <-h.done:
		return nil
	}
}

// Roster текущий состав рейса
func (h *Hub) Roster(rideID uint) []Sample {
	reply := make(chan []Sample, 1)
	h.submit(rosterCmd{rideID: rideID, reply: reply})
	select {
	case roster := <-reply:
		return roster
	case <-h.done:
		return nil
	}
}

// UpdateVehicle позиция автобуса для всех подписчиков рейса
func (h *Hub) UpdateVehicle(rideID uint, lat, lng float64, etaMinutes *int) {
	h.submit(vehicleCmd{pos: VehiclePosition{RideID: rideID, Lat: lat, Lng: lng, ETAMinutes: etaMinutes, UpdatedAt: h.now()}})
}

func (h *Hub) PublishRideUpdate(rideID uint, payload interface{}) {
	h.submit(publishCmd{rideID: rideID, msgType: RideUpdateType, payload: payload})
}

func (h *Hub) PublishCounter(rideID uint, count int) {
	h.submit(publishCmd{rideID: rideID, msgType: CapacityCounterType, payload: CapacityCounter{RideID: rideID, Count: count}})
}

func (h *Hub) BroadcastTraffic(readings []models.JunctionReading) {
	h.submit(broadcastCmd{msgType: TrafficUpdateType, payload: TrafficUpdate{Signals: readings}})
}

func (h *Hub) BroadcastChat(msg models.TrafficChatMessage) {
	h.submit(broadcastCmd{msgType: TrafficChatType, payload: msg})
}

// SendToUser отправляет сообщение всем подключениям пользователя
func (h *Hub) SendToUser(userID uint, msgType string, payload interface{}) {
	h.submit(sendToUserCmd{userID: userID, msgType: msgType, payload: payload})
}

// ClearRide удаляет комнату завершённого рейса
func (h *Hub) ClearRide(rideID uint) { h.submit(clearCmd{rideID: rideID}) }

func (h *Hub) send(sub Subscriber, msgType string, payload interface{}) {
	h.submit(directCmd{sub: sub, msgType: msgType, payload: payload})
}

func (h *Hub) JoinChat(room string, sub Subscriber)  { h.submit(chatJoinCmd{room: room, sub: sub}) }
func (h *Hub) LeaveChat(room string, sub Subscriber) { h.submit(chatLeaveCmd{room: room, sub: sub}) }
func (h *Hub) SendChat(msg ChatMessage)              { h.submit(chatMessageCmd{msg: msg}) }
