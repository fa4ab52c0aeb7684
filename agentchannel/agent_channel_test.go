package agentchannel

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/simarena/frame"
	"github.com/cyberinferno/simarena/simerr"
)

// newTestChannel binds a loopback channel on an OS-chosen port.
func newTestChannel(t *testing.T, opts ...Option) *AgentChannel {
	t.Helper()

	ch, err := NewAgentChannel("agent-1", 0, false, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func dial(t *testing.T, ch *AgentChannel) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", ch.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// occupyRange listens on n consecutive loopback ports and returns the first.
func occupyRange(t *testing.T, n int) int {
	t.Helper()

	for try := 0; try < 20; try++ {
		probe, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		base := probe.Addr().(*net.TCPAddr).Port
		_ = probe.Close()

		if base+n > 65535 {
			continue
		}

		held := make([]net.Listener, 0, n)
		ok := true
		for p := base; p < base+n; p++ {
			ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(p))
			if err != nil {
				ok = false
				break
			}
			held = append(held, ln)
		}

		if ok {
			t.Cleanup(func() {
				for _, ln := range held {
					_ = ln.Close()
				}
			})
			return base
		}

		for _, ln := range held {
			_ = ln.Close()
		}
	}

	t.Skip("could not reserve a contiguous port range")
	return 0
}

func TestNewAgentChannel(t *testing.T) {
	t.Run("binds loopback by default", func(t *testing.T) {
		ch := newTestChannel(t)

		assert.Equal(t, "agent-1", ch.Name())
		assert.NotZero(t, ch.Port())
		assert.True(t, IsLoopback(ch.Addr()))
		assert.False(t, ch.Connected())
	})

	t.Run("binds all interfaces when external is allowed", func(t *testing.T) {
		ch, err := NewAgentChannel("ext", 0, true)
		require.NoError(t, err)
		defer ch.Close()

		tcp := ch.Addr().(*net.TCPAddr)
		assert.True(t, tcp.IP.IsUnspecified(), "got %s", tcp.IP)
	})

	t.Run("busy port moves to the next one", func(t *testing.T) {
		base := occupyRange(t, 1)

		ch, err := NewAgentChannel("agent-1", base, false)
		require.NoError(t, err)
		defer ch.Close()

		assert.Greater(t, ch.Port(), base)
		assert.LessOrEqual(t, ch.Port(), base+DefaultBindAttempts-1)
	})

	t.Run("exhausting the retry budget is a setup error", func(t *testing.T) {
		base := occupyRange(t, DefaultBindAttempts)

		ch, err := NewAgentChannel("agent-1", base, false)
		require.Error(t, err)
		assert.Nil(t, ch)
		assert.True(t, simerr.Is(err, simerr.Setup))
		assert.Contains(t, err.Error(), "agent-1")
	})

	t.Run("bind attempts are configurable", func(t *testing.T) {
		base := occupyRange(t, 2)

		_, err := NewAgentChannel("agent-1", base, false, WithBindAttempts(2))
		assert.True(t, simerr.Is(err, simerr.Setup))
	})
}

func TestAgentChannel_SendReceive(t *testing.T) {
	t.Run("exchanges frames with the peer", func(t *testing.T) {
		ch := newTestChannel(t)
		peer := dial(t, ch)

		require.NoError(t, ch.Send([]byte("state")))
		got, err := frame.ReadFrame(peer)
		require.NoError(t, err)
		assert.Equal(t, []byte("state"), got)

		require.NoError(t, frame.WriteFrame(peer, []byte("action")))
		reply, err := ch.Receive()
		require.NoError(t, err)
		assert.Equal(t, []byte("action"), reply)
		assert.True(t, ch.Connected())
	})

	t.Run("send blocks until a peer connects", func(t *testing.T) {
		ch := newTestChannel(t)

		sent := make(chan error, 1)
		go func() { sent <- ch.Send([]byte("hello")) }()

		select {
		case <-sent:
			t.Fatal("send returned before any peer connected")
		case <-time.After(100 * time.Millisecond):
		}

		peer := dial(t, ch)
		require.NoError(t, <-sent)
		got, err := frame.ReadFrame(peer)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), got)
	})

	t.Run("two sends in a row keep frame boundaries", func(t *testing.T) {
		ch := newTestChannel(t)
		peer := dial(t, ch)

		require.NoError(t, ch.Send([]byte("one")))
		require.NoError(t, ch.Send([]byte("two")))

		first, err := frame.ReadFrame(peer)
		require.NoError(t, err)
		second, err := frame.ReadFrame(peer)
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), first)
		assert.Equal(t, []byte("two"), second)
	})

	t.Run("concurrent sends never interleave frames", func(t *testing.T) {
		ch := newTestChannel(t)
		peer := dial(t, ch)

		const n = 50
		payload := make([]byte, 4096)
		for i := range payload {
			payload[i] = byte(i)
		}

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, ch.Send(payload))
			}()
		}

		for i := 0; i < n; i++ {
			got, err := frame.ReadFrame(peer)
			require.NoError(t, err)
			require.Equal(t, payload, got)
		}
		wg.Wait()
	})

	t.Run("remote disconnect is a transport error and breaks the slot", func(t *testing.T) {
		ch := newTestChannel(t)
		peer := dial(t, ch)
		require.NoError(t, ch.Send([]byte("state")))
		_ = peer.Close()

		_, err := ch.Receive()
		require.Error(t, err)
		assert.True(t, simerr.Is(err, simerr.Transport))

		_, again := ch.Receive()
		assert.Equal(t, err, again)
		assert.False(t, ch.Connected())
	})
}

func TestAgentChannel_SinglePeer(t *testing.T) {
	t.Run("second connection is refused", func(t *testing.T) {
		ch := newTestChannel(t)
		addr := ch.Addr().String()
		first := dial(t, ch)

		require.NoError(t, ch.Send([]byte("for first")))
		got, err := frame.ReadFrame(first)
		require.NoError(t, err)
		assert.Equal(t, []byte("for first"), got)

		second, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			defer second.Close()
			// The kernel may complete a handshake that nobody will serve;
			// the first peer must still be the one in use.
			require.NoError(t, ch.Send([]byte("still first")))
			got, err := frame.ReadFrame(first)
			require.NoError(t, err)
			assert.Equal(t, []byte("still first"), got)

			_ = second.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			_, err = frame.ReadFrame(second)
			assert.Error(t, err)
			return
		}

		assert.Error(t, err)
	})
}

func TestAgentChannel_Close(t *testing.T) {
	t.Run("unblocks a receive waiting for a peer", func(t *testing.T) {
		ch := newTestChannel(t)

		done := make(chan error, 1)
		go func() {
			_, err := ch.Receive()
			done <- err
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, ch.Close())

		select {
		case err := <-done:
			assert.True(t, simerr.Is(err, simerr.Transport))
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("receive did not unblock")
		}
	})

	t.Run("unblocks a receive waiting for the peer's reply", func(t *testing.T) {
		ch := newTestChannel(t)
		_ = dial(t, ch)
		require.NoError(t, ch.Send([]byte("state")))

		done := make(chan error, 1)
		go func() {
			_, err := ch.Receive()
			done <- err
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, ch.Close())

		select {
		case err := <-done:
			assert.True(t, simerr.Is(err, simerr.Transport))
		case <-time.After(2 * time.Second):
			t.Fatal("receive did not unblock")
		}
	})

	t.Run("is idempotent and later calls fail", func(t *testing.T) {
		ch := newTestChannel(t)
		require.NoError(t, ch.Close())
		require.NoError(t, ch.Close())

		err := ch.Send([]byte("x"))
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("frees the port", func(t *testing.T) {
		ch := newTestChannel(t)
		port := ch.Port()
		require.NoError(t, ch.Close())

		ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
		require.NoError(t, err)
		_ = ln.Close()
	})
}

func TestAgentChannel_Timeouts(t *testing.T) {
	t.Run("read deadline turns a silent peer into a timeout", func(t *testing.T) {
		ch := newTestChannel(t, WithReadTimeout(50*time.Millisecond))
		_ = dial(t, ch)

		_, err := ch.Receive()
		require.Error(t, err)

		var serr *simerr.Error
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, simerr.Transport, serr.Kind)
		assert.True(t, serr.Timeout())
	})
}

func TestAgentChannel_LoopbackOnly(t *testing.T) {
	t.Run("external address cannot reach a loopback channel", func(t *testing.T) {
		external := firstExternalIP(t)
		ch := newTestChannel(t)

		addr := net.JoinHostPort(external.String(), strconv.Itoa(ch.Port()))
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
		}
		assert.Error(t, err)
	})

	t.Run("IsLoopback", func(t *testing.T) {
		assert.True(t, IsLoopback(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}))
		assert.True(t, IsLoopback(&net.TCPAddr{IP: net.IPv6loopback}))
		assert.False(t, IsLoopback(&net.TCPAddr{IP: net.IPv4(10, 1, 2, 3)}))
		assert.False(t, IsLoopback(&net.UnixAddr{Name: "/tmp/x"}))
	})
}

func firstExternalIP(t *testing.T) net.IP {
	t.Helper()

	addrs, err := net.InterfaceAddrs()
	require.NoError(t, err)
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP
		}
	}

	t.Skip("no non-loopback IPv4 address available")
	return nil
}
