package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/astromesh/observer/internal/metrics"
	"github.com/astromesh/observer/internal/models"
	"github.com/astromesh/observer/internal/router"
	"github.com/astromesh/observer/internal/signal"
)

type memStore struct {
	mu     sync.Mutex
	events []models.AttentionEvent
}

func (m *memStore) InsertAttentionEvent(_ context.Context, ev models.AttentionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) InsertOperation(_ context.Context, _ models.Operation) (bool, error) {
	return true, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type nopNotifier struct{}

func (nopNotifier) Emit(string, map[string]any) {}

func startEndpoint(t *testing.T) (*Endpoint, *memStore, *net.UDPAddr) {
	t.Helper()

	e, err := Listen("127.0.0.1:0", zap.NewNop())
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	st := &memStore{}
	rt := router.New("observer", st, nopNotifier{}, e, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Serve(ctx, rt)

	return e, st, e.conn.LocalAddr().(*net.UDPAddr)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestServe_RoutesInboundSignal(t *testing.T) {
	_, st, addr := startEndpoint(t)

	client, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer client.Close()

	b, err := signal.Encode(signal.Signal{
		Type:      signal.Heartbeat,
		Version:   signal.Version,
		Timestamp: 1700000000,
		Payload:   map[string]any{"sender": "search-server"},
	})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if _, err := client.Write(b); err != nil {
		t.Fatalf("write error: %v", err)
	}

	waitFor(t, func() bool { return st.count() == 1 })
}

func TestServe_MalformedDatagramDropped(t *testing.T) {
	_, st, addr := startEndpoint(t)

	client, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("{broken")); err != nil {
		t.Fatalf("write error: %v", err)
	}

	// A valid signal after a malformed one proves the loop survived.
	b, _ := signal.Encode(signal.Signal{
		Type:    signal.Heartbeat,
		Version: signal.Version,
		Payload: map[string]any{"sender": "s"},
	})
	if _, err := client.Write(b); err != nil {
		t.Fatalf("write error: %v", err)
	}

	waitFor(t, func() bool { return st.count() == 1 })
}

// A dock request over the wire must come back as a dock approval to the
// requesting socket.
func TestServe_DockRequestGetsReply(t *testing.T) {
	_, _, addr := startEndpoint(t)

	client, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer client.Close()

	b, _ := signal.Encode(signal.Signal{
		Type:    signal.DockRequest,
		Version: signal.Version,
		Payload: map[string]any{"sender": "newcomer"},
	})
	if _, err := client.Write(b); err != nil {
		t.Fatalf("write error: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, maxDatagram)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("no reply: %v", err)
	}

	reply, err := signal.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Type != signal.DockApproved {
		t.Fatalf("reply type = %v, want DockApproved", reply.Type)
	}
	if reply.Sender() != "observer" {
		t.Fatalf("reply sender = %q", reply.Sender())
	}
	if approved, _ := reply.Payload["approved"].(bool); !approved {
		t.Fatal("reply not approved")
	}
}
