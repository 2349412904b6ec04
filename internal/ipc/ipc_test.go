package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, path string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", path)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	return conn
}

func TestClientReceivesReadyFrameOnConnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.sock")
	srv, err := Listen(path, nil)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	conn := dial(t, path)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())

	var f Frame
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &f))
	require.Equal(t, FrameReady, f.Type)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.sock")
	srv, err := Listen(path, nil)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	a := dial(t, path)
	defer a.Close()
	b := dial(t, path)
	defer b.Close()

	scannerA := bufio.NewScanner(a)
	scannerB := bufio.NewScanner(b)
	require.True(t, scannerA.Scan()) // ready
	require.True(t, scannerB.Scan()) // ready

	require.Eventually(t, func() bool { return srv.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	srv.Broadcast(Frame{Type: FrameTaskCompleted, Payload: Payload(TaskCompletedPayload{StepID: "s1"})})

	require.True(t, scannerA.Scan())
	var fa Frame
	require.NoError(t, json.Unmarshal(scannerA.Bytes(), &fa))
	require.Equal(t, FrameTaskCompleted, fa.Type)

	require.True(t, scannerB.Scan())
	var fb Frame
	require.NoError(t, json.Unmarshal(scannerB.Bytes(), &fb))
	require.Equal(t, FrameTaskCompleted, fb.Type)
}

func TestInboundFrameDeliveredToChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.sock")
	srv, err := Listen(path, nil)
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	conn := dial(t, path)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan()) // ready

	f := Frame{Type: FrameSelected}
	data, err := json.Marshal(f)
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)

	select {
	case in := <-srv.Inbound():
		require.Equal(t, FrameSelected, in.Frame.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound frame")
	}
}

func TestCloseUnlinksSocketAndDisconnectsClients(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.sock")
	srv, err := Listen(path, nil)
	require.NoError(t, err)
	go srv.Serve()

	conn := dial(t, path)
	defer conn.Close()

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close()) // idempotent

	_, err = net.Dial("unix", path)
	require.Error(t, err)
}
