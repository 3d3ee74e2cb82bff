package websocket

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"bus-backend/internal/models"
)

type fakeSubscriber struct {
	key    string
	userID uint

	mu       sync.Mutex
	messages []WebSocketMessage
	raw      [][]byte
	full     bool
	closed   bool
}

func (f *fakeSubscriber) Key() string  { return f.key }
func (f *fakeSubscriber) UserID() uint { return f.userID }

func (f *fakeSubscriber) Send(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	var msg WebSocketMessage
	_ = json.Unmarshal(data, &msg)
	f.messages = append(f.messages, msg)
	f.raw = append(f.raw, data)
	return true
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) ofType(t string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for i, m := range f.messages {
		if m.Type == t {
			out = append(out, f.raw[i])
		}
	}
	return out
}

func (f *fakeSubscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func lastRoster(t *testing.T, f *fakeSubscriber) RosterUpdate {
	t.Helper()
	msgs := f.ofType(RosterUpdateType)
	if len(msgs) == 0 {
		t.Fatalf("%s received no roster updates", f.key)
	}
	var env struct {
		Payload RosterUpdate `json:"payload"`
	}
	if err := json.Unmarshal(msgs[len(msgs)-1], &env); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	return env.Payload
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func keys(samples []Sample) []string {
	out := make([]string, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.Key)
	}
	return out
}

func TestRosterCleanupOnDisconnect(t *testing.T) {
	h := startHub(t)
	a := &fakeSubscriber{key: "user_1", userID: 1}
	b := &fakeSubscriber{key: "user_2", userID: 2}
	h.Register(a)
	h.Register(b)
	h.Join(7, a)
	h.Join(7, b)

	roster := h.UpdatePosition(7, a, "Айдана", 43.25, 76.95)
	if len(roster) != 1 || roster[0].Key != "user_1" || roster[0].Name != "Айдана" {
		t.Fatalf("unexpected roster %+v", roster)
	}
	if got := lastRoster(t, b); len(got.Participants) != 1 {
		t.Fatalf("b must see a's position, got %+v", got)
	}

	h.Disconnect(a)
	if roster := h.Roster(7); len(roster) != 0 {
		t.Fatalf("disconnected participant still present: %v", keys(roster))
	}
	if got := lastRoster(t, b); got.RideID != 7 || len(got.Participants) != 0 {
		t.Errorf("last broadcast must not contain a, got %+v", got)
	}
	if !a.isClosed() {
		t.Error("disconnect must close the subscriber")
	}
}

func TestDisconnectCleansEveryRide(t *testing.T) {
	h := startHub(t)
	a := &fakeSubscriber{key: "user_1"}
	watcher := &fakeSubscriber{key: "user_9"}
	h.Register(a)
	h.Register(watcher)
	h.Join(1, watcher)
	h.Join(2, watcher)

	h.UpdatePosition(1, a, "A", 1, 1)
	h.UpdatePosition(2, a, "A", 2, 2)
	h.Disconnect(a)

	for _, ride := range []uint{1, 2} {
		if roster := h.Roster(ride); len(roster) != 0 {
			t.Errorf("ride %d still lists %v", ride, keys(roster))
		}
	}
	// Два входа, два обновления и два удаления
	if n := len(watcher.ofType(RosterUpdateType)); n != 6 {
		t.Errorf("expected 6 roster broadcasts (2 joins, 2 updates, 2 removals), got %d", n)
	}
}

func TestMalformedPositionIgnored(t *testing.T) {
	h := startHub(t)
	a := &fakeSubscriber{key: "user_1"}
	h.Register(a)
	h.Join(3, a)
	h.Roster(3)
	before := len(a.ofType(RosterUpdateType))

	cases := [][2]float64{{math.NaN(), 10}, {10, math.Inf(1)}, {95, 10}, {10, -181}}
	for _, c := range cases {
		if roster := h.UpdatePosition(3, a, "A", c[0], c[1]); len(roster) != 0 {
			t.Errorf("invalid position %v must be ignored, roster %+v", c, roster)
		}
	}
	if after := len(a.ofType(RosterUpdateType)); after != before {
		t.Errorf("ignored updates must not broadcast, got %d extra", after-before)
	}
}

func TestLeaveRemovesParticipant(t *testing.T) {
	h := startHub(t)
	a := &fakeSubscriber{key: "user_1"}
	b := &fakeSubscriber{key: "user_2"}
	h.Register(a)
	h.Register(b)
	h.Join(4, a)
	h.Join(4, b)
	h.UpdatePosition(4, a, "A", 1, 1)
	h.UpdatePosition(4, b, "B", 2, 2)

	h.Leave(4, a)
	roster := h.Roster(4)
	if len(roster) != 1 || roster[0].Key != "user_2" {
		t.Fatalf("unexpected roster after leave %v", keys(roster))
	}

	// Покинувший рейс больше не получает его рассылки
	n := len(a.ofType(RosterUpdateType))
	h.UpdatePosition(4, b, "B", 3, 3)
	h.Roster(4)
	if len(a.ofType(RosterUpdateType)) != n {
		t.Error("left subscriber still receives roster updates")
	}
}

func TestVehiclePositionDelivery(t *testing.T) {
	h := startHub(t)
	rider := &fakeSubscriber{key: "user_1"}
	late := &fakeSubscriber{key: "user_2"}
	h.Register(rider)
	h.Register(late)
	h.Join(5, rider)

	eta := 12
	h.UpdateVehicle(5, 43.1, 76.8, &eta)
	h.Roster(5)
	if len(rider.ofType(VehiclePositionType)) != 1 {
		t.Fatal("subscriber must receive vehicle position")
	}

	h.Join(5, late)
	h.Roster(5)
	msgs := late.ofType(VehiclePositionType)
	if len(msgs) != 1 {
		t.Fatal("late joiner must receive the last vehicle position")
	}
	var env struct {
		Payload VehiclePosition `json:"payload"`
	}
	_ = json.Unmarshal(msgs[0], &env)
	if env.Payload.ETAMinutes == nil || *env.Payload.ETAMinutes != 12 || env.Payload.Lat != 43.1 {
		t.Errorf("unexpected vehicle payload %+v", env.Payload)
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	h := startHub(t)
	fast := &fakeSubscriber{key: "user_1"}
	slow := &fakeSubscriber{key: "user_2"}
	h.Register(fast)
	h.Register(slow)
	h.Join(6, fast)
	h.Join(6, slow)
	h.UpdatePosition(6, slow, "S", 1, 1)

	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	h.UpdatePosition(6, fast, "F", 2, 2)
	roster := h.Roster(6)
	if !slow.isClosed() {
		t.Fatal("slow subscriber must be closed")
	}
	if len(roster) != 1 || roster[0].Key != "user_1" {
		t.Errorf("slow subscriber sample must be removed, got %v", keys(roster))
	}

	// Команды от отключённого подписчика игнорируются
	h.Join(6, slow)
	h.UpdatePosition(6, slow, "S", 1, 1)
	if roster := h.Roster(6); len(roster) != 1 {
		t.Errorf("dropped subscriber came back: %v", keys(roster))
	}
}

func TestClearRideAndPublish(t *testing.T) {
	h := startHub(t)
	a := &fakeSubscriber{key: "user_1", userID: 1}
	other := &fakeSubscriber{key: "user_2", userID: 2}
	h.Register(a)
	h.Register(other)
	h.Join(8, a)

	h.PublishCounter(8, 14)
	h.PublishRideUpdate(8, map[string]int{"rideId": 8})
	h.BroadcastTraffic([]models.JunctionReading{{JunctionID: "s1", Density: 30, Level: models.LevelModerate}})
	h.SendToUser(2, BookingConfirmedType, map[string]string{"seatNumber": "1A"})
	h.Roster(8)

	if len(a.ofType(CapacityCounterType)) != 1 || len(a.ofType(RideUpdateType)) != 1 {
		t.Error("ride subscriber must receive ride messages")
	}
	if len(other.ofType(CapacityCounterType)) != 0 {
		t.Error("ride messages must stay inside the ride")
	}
	if len(a.ofType(TrafficUpdateType)) != 1 || len(other.ofType(TrafficUpdateType)) != 1 {
		t.Error("traffic updates go to every connected client")
	}
	if len(other.ofType(BookingConfirmedType)) != 1 || len(a.ofType(BookingConfirmedType)) != 0 {
		t.Error("direct message must reach only the target user")
	}

	h.UpdatePosition(8, a, "A", 1, 1)
	h.ClearRide(8)
	if roster := h.Roster(8); roster != nil {
		t.Errorf("cleared ride must have no roster, got %v", keys(roster))
	}
	h.PublishCounter(8, 15)
	h.Roster(8)
	if len(a.ofType(CapacityCounterType)) != 1 {
		t.Error("cleared ride must not deliver messages")
	}
}

func TestChatRooms(t *testing.T) {
	h := startHub(t)
	a := &fakeSubscriber{key: "user_1"}
	b := &fakeSubscriber{key: "user_2"}
	h.Register(a)
	h.Register(b)
	h.JoinChat("s1", a)
	h.JoinChat("s1", b)
	h.LeaveChat("s1", b)

	h.SendChat(ChatMessage{Room: "s1", Text: "Пробка"})
	h.Roster(0)

	if len(a.ofType(ChatMessageType)) != 1 {
		t.Error("room member must receive chat message")
	}
	if len(b.ofType(ChatMessageType)) != 0 {
		t.Error("member who left must not receive chat message")
	}
}

func TestParseRideID(t *testing.T) {
	cases := map[string]uint{`12`: 12, `"34"`: 34, `0`: 0, `"abc"`: 0, ``: 0, `-1`: 0}
	for raw, want := range cases {
		got, ok := parseRideID(json.RawMessage(raw))
		if got != want || ok != (want != 0) {
			t.Errorf("parseRideID(%s) = %d, %v", raw, got, ok)
		}
	}
}
