package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Mschirtzinger/tasksync/internal/remote"
	tasksync "github.com/Mschirtzinger/tasksync/internal/sync"
	"github.com/Mschirtzinger/tasksync/internal/task"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "[test] ", log.LstdFlags)
}

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

// connect dials the server, reads the welcome message and waits until
// the client is registered for broadcasts.
func connect(t *testing.T, ctx context.Context, server *Server) (*websocket.Conn, Message) {
	t.Helper()
	before := server.ClientCount()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	welcome := readMessage(t, ctx, conn)

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() <= before {
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn, welcome
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

type fixedStats tasksync.Stats

func (f fixedStats) Stats() tasksync.Stats { return tasksync.Stats(f) }

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.GetAddr() == "127.0.0.1:0" {
		t.Error("GetAddr did not report the bound port")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestHealth(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Status != "ok" || body.Clients != 0 {
		t.Errorf("health = %+v", body)
	}
}

func TestWelcomeCarriesStats(t *testing.T) {
	server := startServer(t)
	handler := NewHandler(server, testLogger())
	handler.SetSource(fixedStats{Total: 4, Completed: 1, Revision: 9})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, welcome := connect(t, ctx, server)
	if welcome.Type != MessageTypeStats {
		t.Fatalf("welcome type = %s, want stats", welcome.Type)
	}
	var stats tasksync.Stats
	if err := json.Unmarshal(welcome.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Total != 4 || stats.Completed != 1 || stats.Revision != 9 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMultipleClients(t *testing.T) {
	server := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i], _ = connect(t, ctx, server)
	}
	if count := server.ClientCount(); count != 3 {
		t.Errorf("Expected 3 clients, got %d", count)
	}

	server.Broadcast(Message{Type: MessageTypeSyncComplete})
	for i, conn := range conns {
		if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeSyncComplete {
			t.Errorf("client %d got %s", i, msg.Type)
		}
	}
}

func TestHandlerItemChanged(t *testing.T) {
	server := startServer(t)
	handler := NewHandler(server, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _ := connect(t, ctx, server)

	deadline := time.Unix(1800000000, 0)
	handler.ItemChanged(tasksync.Change{
		Action: tasksync.ActionCreated,
		Item: task.Item{
			ID:         "abc",
			Text:       "Buy milk",
			Importance: task.ImportanceHigh,
			Deadline:   &deadline,
		},
	})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeItemUpdate {
		t.Fatalf("type = %s, want item_update", msg.Type)
	}
	var data ItemUpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal item data: %v", err)
	}
	if data.ItemID != "abc" || data.Action != "created" || data.Importance != "high" {
		t.Errorf("item data = %+v", data)
	}
	if data.Deadline == nil || *data.Deadline != 1800000000 {
		t.Errorf("deadline = %v", data.Deadline)
	}

	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStats {
		t.Errorf("follow-up type = %s, want stats", msg.Type)
	}
}

func TestHandlerSyncAndFailure(t *testing.T) {
	server := startServer(t)
	handler := NewHandler(server, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _ := connect(t, ctx, server)

	handler.SyncCompleted(tasksync.SyncReport{
		Kind:  tasksync.SyncSweep,
		Items: 3,
		Stats: tasksync.Stats{Total: 3, Revision: 12},
	})

	msg := readMessage(t, ctx, conn)
	var sync SyncCompleteData
	if err := json.Unmarshal(msg.Data, &sync); err != nil {
		t.Fatalf("Failed to unmarshal sync data: %v", err)
	}
	if msg.Type != MessageTypeSyncComplete || sync.Kind != "sweep" || sync.Items != 3 {
		t.Errorf("sync message = %s %+v", msg.Type, sync)
	}
	readMessage(t, ctx, conn) // stats
	if got := handler.GetStats().Revision; got != 12 {
		t.Errorf("stats revision = %d, want 12", got)
	}

	handler.RemoteFailed("create", &remote.Error{Kind: remote.KindServerError, Op: "create", Err: errors.New("boom")})
	msg = readMessage(t, ctx, conn)
	var failure RemoteErrorData
	if err := json.Unmarshal(msg.Data, &failure); err != nil {
		t.Fatalf("Failed to unmarshal error data: %v", err)
	}
	if msg.Type != MessageTypeRemoteError || failure.Op != "create" || failure.Kind != remote.KindServerError.String() {
		t.Errorf("error message = %s %+v", msg.Type, failure)
	}
}
