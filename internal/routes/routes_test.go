package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"bus-backend/internal/models"
	"bus-backend/internal/services/booking"
	"bus-backend/internal/services/qrgate"
	"bus-backend/internal/services/traffic"
	"bus-backend/internal/store"
	"bus-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

type recordingNotifier struct {
	mu       sync.Mutex
	direct   map[uint][]string
	counters map[uint]int
	traffic  int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{direct: map[uint][]string{}, counters: map[uint]int{}}
}

func (n *recordingNotifier) PublishRideUpdate(uint, interface{})        {}
func (n *recordingNotifier) UpdateVehicle(uint, float64, float64, *int) {}
func (n *recordingNotifier) ClearRide(uint)                             {}
func (n *recordingNotifier) BroadcastChat(models.TrafficChatMessage)    {}

func (n *recordingNotifier) PublishCounter(rideID uint, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.counters[rideID] = count
}

func (n *recordingNotifier) BroadcastTraffic([]models.JunctionReading) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.traffic++
}

func (n *recordingNotifier) SendToUser(userID uint, msgType string, _ interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct[userID] = append(n.direct[userID], msgType)
}

type testServer struct {
	router   *gin.Engine
	notifier *recordingNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	utils.SetSecret("routes-test-secret")

	st := store.NewMemoryStore()
	n := newRecordingNotifier()
	gate := qrgate.NewGate(st, qrgate.NewMemoryCredentialStore())

	r := gin.New()
	SetupRoutes(r.Group("/api"), Services{
		Store:    st,
		Bookings: booking.NewEngine(st, gate, n),
		Gate:     gate,
		Traffic:  traffic.NewEngine(st, n),
		Notifier: n,
	})
	return &testServer{router: r, notifier: n}
}

func token(t *testing.T, userID uint, role, name string) string {
	t.Helper()
	var (
		tok string
		err error
	)
	if role == utils.RoleAdmin && userID == 0 {
		tok, err = utils.GenerateAdminJWT()
	} else {
		tok, err = utils.GenerateJWT(userID, role, name)
	}
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body interface{}) (int, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]json.RawMessage{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func errorCode(resp map[string]json.RawMessage) string {
	var code string
	_ = json.Unmarshal(resp["code"], &code)
	return code
}

// setupRide регистрирует автобус и рейс, возвращает ID рейса и QR-код
func setupRide(t *testing.T, s *testServer, conductorTok string) (uint, string) {
	t.Helper()
	admin := token(t, 0, utils.RoleAdmin, "")

	status, resp := s.do(t, http.MethodPost, "/api/admin/buses", admin, gin.H{
		"number": "1010", "seats": 6, "type": "Inter-City",
	})
	if status != http.StatusCreated {
		t.Fatalf("create bus: %d %s", status, resp["error"])
	}
	var bus struct {
		ID      uint   `json:"id"`
		QRValue string `json:"qrValue"`
	}
	_ = json.Unmarshal(resp["bus"], &bus)
	if bus.QRValue == "" {
		t.Fatal("admin must see the canonical QR value")
	}

	status, resp = s.do(t, http.MethodPost, "/api/conductor/rides", conductorTok, gin.H{
		"type": "inter", "origin": "Алматы", "destination": "Талдыкорган", "busId": bus.ID,
	})
	if status != http.StatusCreated {
		t.Fatalf("create ride: %d %s", status, resp["error"])
	}
	var ride models.Ride
	_ = json.Unmarshal(resp["ride"], &ride)
	return ride.ID, bus.QRValue
}

func verify(t *testing.T, s *testServer, rideID uint, tok, code string) string {
	t.Helper()
	status, resp := s.do(t, http.MethodPost, fmt.Sprintf("/api/rides/%d/verify-qr", rideID), tok, gin.H{"qrCode": code})
	if status != http.StatusOK {
		t.Fatalf("verify-qr: %d %s", status, resp["error"])
	}
	var v string
	_ = json.Unmarshal(resp["verificationToken"], &v)
	return v
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t)
	conductor := token(t, 10, utils.RoleConductor, "Ержан")
	rideID, qr := setupRide(t, s, conductor)

	rider := token(t, 20, utils.RoleUser, "Айгерим")
	other := token(t, 21, utils.RoleUser, "Данияр")
	bookPath := fmt.Sprintf("/api/rides/%d/book", rideID)

	status, resp := s.do(t, http.MethodPost, fmt.Sprintf("/api/rides/%d/verify-qr", rideID), rider, gin.H{"qrCode": "BUSQR:2020"})
	if status != http.StatusBadRequest || errorCode(resp) != "INVALID_QR" {
		t.Fatalf("foreign QR: %d %s", status, errorCode(resp))
	}

	cred := verify(t, s, rideID, rider, qr)
	status, resp = s.do(t, http.MethodPost, bookPath, rider, gin.H{"seatNumber": "1a", "verificationToken": cred})
	if status != http.StatusOK {
		t.Fatalf("book: %d %s", status, resp["error"])
	}
	if got := s.notifier.direct[20]; len(got) != 1 || got[0] != "BOOKING_CONFIRMED" {
		t.Errorf("rider must get BOOKING_CONFIRMED, got %v", got)
	}

	cases := []struct {
		name   string
		tok    string
		body   gin.H
		status int
		code   string
	}{
		{"seat taken", other, gin.H{"seatNumber": "1A", "verificationToken": verify(t, s, rideID, other, qr)}, http.StatusConflict, "SEAT_ALREADY_TAKEN"},
		{"second seat", rider, gin.H{"seatNumber": "1B", "verificationToken": cred}, http.StatusConflict, "ALREADY_BOOKED"},
		{"no credential", other, gin.H{"seatNumber": "1B"}, http.StatusUnauthorized, "INVALID_CREDENTIAL_SCOPE"},
		{"foreign credential", other, gin.H{"seatNumber": "1B", "verificationToken": cred}, http.StatusUnauthorized, "INVALID_CREDENTIAL_SCOPE"},
		{"outside layout", other, gin.H{"seatNumber": "9A", "verificationToken": verify(t, s, rideID, other, qr)}, http.StatusBadRequest, "INVALID_SEAT_NUMBER"},
		{"bad method", other, gin.H{"seatNumber": "1B", "verificationToken": verify(t, s, rideID, other, qr), "method": "card"}, http.StatusBadRequest, "INVALID_PAYLOAD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := s.do(t, http.MethodPost, bookPath, tc.tok, tc.body)
			if status != tc.status || errorCode(resp) != tc.code {
				t.Errorf("got %d %s, want %d %s", status, errorCode(resp), tc.status, tc.code)
			}
		})
	}

	status, resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/rides/%d/seats", rideID), "", nil)
	if status != http.StatusOK {
		t.Fatalf("seats: %d", status)
	}
	var taken []string
	_ = json.Unmarshal(resp["taken"], &taken)
	if len(taken) != 1 || taken[0] != "1A" {
		t.Errorf("unexpected taken seats %v", taken)
	}
}

func TestAccessControl(t *testing.T) {
	s := newTestServer(t)
	conductor := token(t, 10, utils.RoleConductor, "Ержан")
	rideID, _ := setupRide(t, s, conductor)

	rider := token(t, 20, utils.RoleUser, "Айгерим")
	stranger := token(t, 11, utils.RoleConductor, "Другой")

	cases := []struct {
		name   string
		method string
		path   string
		tok    string
		body   interface{}
		status int
	}{
		{"book without token", http.MethodPost, fmt.Sprintf("/api/rides/%d/book", rideID), "", gin.H{"seatNumber": "1A"}, http.StatusUnauthorized},
		{"garbage token", http.MethodPost, fmt.Sprintf("/api/rides/%d/verify-qr", rideID), "garbage", gin.H{"qrCode": "x"}, http.StatusUnauthorized},
		{"rider creates bus", http.MethodPost, "/api/admin/buses", rider, gin.H{"number": "7", "seats": 4}, http.StatusForbidden},
		{"rider uses conductor api", http.MethodPatch, fmt.Sprintf("/api/conductor/rides/%d/counter", rideID), rider, gin.H{"value": 3}, http.StatusForbidden},
		{"other conductor", http.MethodPatch, fmt.Sprintf("/api/conductor/rides/%d/counter", rideID), stranger, gin.H{"value": 3}, http.StatusForbidden},
		{"ride conductor", http.MethodPatch, fmt.Sprintf("/api/conductor/rides/%d/counter", rideID), conductor, gin.H{"value": 3}, http.StatusOK},
		{"unknown ride", http.MethodGet, "/api/rides/999", "", nil, http.StatusNotFound},
		{"bad ride id", http.MethodGet, "/api/rides/abc", "", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := s.do(t, tc.method, tc.path, tc.tok, tc.body)
			if status != tc.status {
				t.Errorf("got %d, want %d", status, tc.status)
			}
		})
	}
}

func TestIoTUpdate(t *testing.T) {
	s := newTestServer(t)
	rideID, _ := setupRide(t, s, token(t, 10, utils.RoleConductor, "Ержан"))

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"counter", fmt.Sprintf(`{"rideId":%d,"count":5}`, rideID), http.StatusOK},
		{"string count", fmt.Sprintf(`{"rideId":%d,"count":"5"}`, rideID), http.StatusBadRequest},
		{"fractional count", fmt.Sprintf(`{"rideId":%d,"count":2.5}`, rideID), http.StatusBadRequest},
		{"huge count", fmt.Sprintf(`{"rideId":%d,"count":1e300}`, rideID), http.StatusBadRequest},
		{"huge junction count", `{"junctionId":"s1","entryCount":1e300,"exitCount":1}`, http.StatusBadRequest},
		{"missing ride", `{"count":5}`, http.StatusBadRequest},
		{"malformed json", `{"rideId":`, http.StatusBadRequest},
		{"unknown ride", `{"rideId":999,"count":1}`, http.StatusNotFound},
		{"unknown junction", `{"junctionId":"zz","entryCount":5,"exitCount":1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := s.do(t, http.MethodPost, "/api/iot/update", "", tc.body)
			if status != tc.status {
				t.Errorf("got %d, want %d", status, tc.status)
			}
		})
	}
	if s.notifier.counters[rideID] != 5 {
		t.Errorf("counter must be published, got %d", s.notifier.counters[rideID])
	}
}

func TestTrafficEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, 0, utils.RoleAdmin, "")

	status, resp := s.do(t, http.MethodGet, "/api/traffic/s1/forecast", "", nil)
	if status != http.StatusOK || string(resp["forecast"]) != "null" {
		t.Fatalf("forecast without readings: %d %s", status, resp["forecast"])
	}

	if status, _ := s.do(t, http.MethodPost, "/api/traffic/simulate", token(t, 20, utils.RoleUser, "A"), nil); status != http.StatusForbidden {
		t.Errorf("simulate by user: %d", status)
	}
	for i := 0; i < 2; i++ {
		if status, _ := s.do(t, http.MethodPost, "/api/traffic/simulate", admin, nil); status != http.StatusOK {
			t.Fatalf("simulate: %d", status)
		}
	}

	status, resp = s.do(t, http.MethodGet, "/api/traffic", "", nil)
	var signals []models.JunctionReading
	_ = json.Unmarshal(resp["signals"], &signals)
	if status != http.StatusOK || len(signals) != 3 {
		t.Fatalf("latest: %d, %d signals", status, len(signals))
	}

	status, resp = s.do(t, http.MethodGet, "/api/traffic/s1/forecast", "", nil)
	if status != http.StatusOK || string(resp["forecast"]) == "null" {
		t.Errorf("forecast after two batches: %d %s", status, resp["forecast"])
	}

	status, _ = s.do(t, http.MethodPost, "/api/iot/update", "", `{"junctionId":"s2","entryCount":60,"exitCount":5}`)
	if status != http.StatusOK {
		t.Errorf("junction ingest: %d", status)
	}
	if s.notifier.traffic != 3 {
		t.Errorf("expected 3 traffic broadcasts, got %d", s.notifier.traffic)
	}

	user := token(t, 20, utils.RoleUser, "Айгерим")
	if status, _ := s.do(t, http.MethodPost, "/api/traffic/chat", user, gin.H{"signalId": "s1", "text": "  "}); status != http.StatusBadRequest {
		t.Errorf("empty chat text: %d", status)
	}
	if status, _ := s.do(t, http.MethodPost, "/api/traffic/chat", user, gin.H{"signalId": "s1", "text": "Пробка у ТЦ"}); status != http.StatusCreated {
		t.Errorf("chat post: %d", status)
	}
	status, resp = s.do(t, http.MethodGet, "/api/traffic/chat?signalId=s1", user, nil)
	var messages []models.TrafficChatMessage
	_ = json.Unmarshal(resp["messages"], &messages)
	if status != http.StatusOK || len(messages) != 1 || messages[0].UserName != "Айгерим" {
		t.Errorf("chat list: %d %+v", status, messages)
	}
}
