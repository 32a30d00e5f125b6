package connector

import (
	"errors"
	"io"
	"net"
	"slices"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/danmuck/igtlctl/internal/protocol"
	"github.com/danmuck/igtlctl/internal/protocol/frame"
	"github.com/danmuck/igtlctl/internal/protocol/message"
	"github.com/danmuck/igtlctl/internal/protocol/session"
	"github.com/danmuck/igtlctl/internal/testutil/testlog"
)

const waitTimeout = 3 * time.Second

func testSessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.AcceptPoll = 50 * time.Millisecond
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.Backoff.InitialDelay = 10 * time.Millisecond
	cfg.Backoff.MaxDelay = 50 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stopAndWait(t *testing.T, c *Connector) {
	t.Helper()
	c.Stop()
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("connector %q did not stop", c.Name())
	}
}

func startServer(t *testing.T, cfg session.Config) (*Connector, string) {
	t.Helper()
	c := New(t.Name(), cfg)
	if err := c.ConfigureAsServer(0); err != nil {
		t.Fatalf("configure server: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { stopAndWait(t, c) })
	waitFor(t, "listener", func() bool { return c.Addr() != nil })
	return c, c.Addr().String()
}

func dialPeer(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func testImage() message.Image {
	scalars := make([]byte, 16)
	for i := range scalars {
		scalars[i] = byte(i)
	}
	return message.Image{
		Header: message.ImageHeader{
			DataType:   message.DataScalar,
			ScalarType: message.ScalarUint8,
			Endian:     message.EndianBig,
			Coord:      message.CoordRAS,
			Size:       [3]uint16{4, 4, 1},
			Matrix:     [12]float32{1, 0, 0, 0, -1, 0, 0, 0, -1, 0, 0, 0},
		},
		Scalars: scalars,
	}
}

func translation(x, y, z float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, x,
		0, 1, 0, y,
		0, 0, 1, z,
		0, 0, 0, 1,
	})
}

func writeTransform(t *testing.T, w io.Writer, device string, m mat.Matrix) {
	t.Helper()
	body, err := message.EncodeTransform(m)
	if err != nil {
		t.Fatalf("encode transform: %v", err)
	}
	if err := frame.WriteMessage(w, frame.Header{DeviceType: message.TypeTransform, DeviceName: device}, body); err != nil {
		t.Fatalf("write transform: %v", err)
	}
}

func writeRaw(t *testing.T, w io.Writer, h frame.Header, body []byte) {
	t.Helper()
	hb, err := frame.EncodeHeader(h)
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	if _, err := w.Write(append(hb, body...)); err != nil {
		t.Fatalf("write raw: %v", err)
	}
}

func pullTransform(t *testing.T, c *Connector, device string) *mat.Dense {
	t.Helper()
	buf, ok := c.GetBuffer(device)
	if !ok {
		t.Fatalf("device %q not registered", device)
	}
	if buf.StartPull() < 0 {
		t.Fatalf("device %q has no data", device)
	}
	defer buf.EndPull()
	if buf.PullDeviceType() != message.TypeTransform {
		t.Fatalf("unexpected device type %q", buf.PullDeviceType())
	}
	m, err := message.DecodeTransform(buf.PullBuffer())
	if err != nil {
		t.Fatalf("decode transform: %v", err)
	}
	return m
}

func TestStartUnconfigured(t *testing.T) {
	testlog.Start(t)
	c := New("idle", testSessionConfig())
	err := c.Start()
	if !errors.Is(err, protocol.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	if c.State() != StateOff {
		t.Fatalf("expected OFF, got %s", c.State())
	}
	if c.Stop() {
		t.Fatalf("stop on idle connector should be a no-op")
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("done should be closed for a never-started connector")
	}
}

func TestConfigureValidation(t *testing.T) {
	testlog.Start(t)
	c := New("cfg", testSessionConfig())
	cases := []error{
		c.ConfigureAsServer(-1),
		c.ConfigureAsServer(70000),
		c.ConfigureAsClient("", 18944),
		c.ConfigureAsClient("localhost", 0),
	}
	for i, err := range cases {
		if !errors.Is(err, protocol.ErrInvalidConfiguration) {
			t.Fatalf("case %d: expected invalid configuration, got %v", i, err)
		}
	}
	if c.Role() != RoleNone {
		t.Fatalf("failed configuration changed role to %s", c.Role())
	}
}

func TestStartTwiceAndReconfigureWhileRunning(t *testing.T) {
	testlog.Start(t)
	c, _ := startServer(t, testSessionConfig())
	if err := c.Start(); !errors.Is(err, protocol.ErrAlreadyRunning) {
		t.Fatalf("expected already running, got %v", err)
	}
	if err := c.ConfigureAsClient("127.0.0.1", 18944); !errors.Is(err, protocol.ErrInvalidConfiguration) {
		t.Fatalf("expected reconfigure rejection, got %v", err)
	}
}

func TestStopReachesOffWithoutPeer(t *testing.T) {
	testlog.Start(t)
	c := New("lonely", testSessionConfig())
	if err := c.ConfigureAsServer(0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State() != StateWaitConnection {
		t.Fatalf("expected WAIT_CONNECTION after start, got %s", c.State())
	}
	waitFor(t, "listener", func() bool { return c.Addr() != nil })

	if !c.Stop() {
		t.Fatalf("stop should report a running connector")
	}
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("connector did not reach OFF")
	}
	if c.State() != StateOff {
		t.Fatalf("expected OFF, got %s", c.State())
	}
	if c.Stop() {
		t.Fatalf("second stop should be a no-op")
	}

	// A stopped connector can be started again.
	if err := c.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	stopAndWait(t, c)
}

func TestStopWhileClientRetrying(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	c := New("retry", testSessionConfig())
	if err := c.ConfigureAsClient("127.0.0.1", port); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if c.State() != StateWaitConnection {
		t.Fatalf("expected WAIT_CONNECTION while retrying, got %s", c.State())
	}
	stopAndWait(t, c)
	if c.State() != StateOff {
		t.Fatalf("expected OFF, got %s", c.State())
	}
}

func TestClientWithoutReconnectTerminates(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	cfg := testSessionConfig()
	cfg.Reconnect = false
	c := New("oneshot", cfg)
	if err := c.ConfigureAsClient("127.0.0.1", port); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("client without reconnect should terminate")
	}
	if c.State() != StateOff {
		t.Fatalf("expected OFF, got %s", c.State())
	}
}

func TestLoopbackImageDelivered(t *testing.T) {
	testlog.Start(t)
	c, addr := startServer(t, testSessionConfig())
	peer := dialPeer(t, addr)

	img := testImage()
	body, err := message.EncodeImage(img)
	if err != nil {
		t.Fatalf("encode image: %v", err)
	}
	if err := frame.WriteMessage(peer, frame.Header{DeviceType: message.TypeImage, DeviceName: "probe"}, body); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "probe update", func() bool {
		return slices.Equal(c.ListUpdatedDevices(), []string{"probe"})
	})
	if c.State() != StateConnected {
		t.Fatalf("expected CONNECTED, got %s", c.State())
	}

	buf, _ := c.GetBuffer("probe")
	buf.StartPull()
	if buf.PullDeviceType() != message.TypeImage {
		t.Fatalf("unexpected type %q", buf.PullDeviceType())
	}
	vol, err := message.DecodeImage(buf.PullBuffer())
	buf.EndPull()
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	if vol.Size != [3]int{4, 4, 1} || vol.ScalarType != message.ScalarUint8 {
		t.Fatalf("unexpected volume shape %v type %d", vol.Size, vol.ScalarType)
	}
	if !slices.Equal(vol.Scalars, img.Scalars) {
		t.Fatalf("scalars mismatch: %v", vol.Scalars)
	}
	if len(c.ListUpdatedDevices()) != 0 {
		t.Fatalf("pull should clear updated flag")
	}
	if st := c.Snapshot(); st.State != "CONNECTED" || len(st.Devices) != 1 || st.Devices[0].Stats.Pushes != 1 {
		t.Fatalf("unexpected snapshot %+v", st)
	}
}

func TestBadVersionDroppedConnectionKept(t *testing.T) {
	testlog.Start(t)
	c, addr := startServer(t, testSessionConfig())
	peer := dialPeer(t, addr)

	writeRaw(t, peer, frame.Header{
		Version:    99,
		DeviceType: message.TypeTransform,
		DeviceName: "future",
		BodySize:   48,
	}, make([]byte, 48))
	writeTransform(t, peer, "tool", translation(1, 2, 3))

	waitFor(t, "tool update", func() bool {
		return slices.Equal(c.ListUpdatedDevices(), []string{"tool"})
	})
	if _, ok := c.GetBuffer("future"); ok {
		t.Fatalf("bad-version device should not be registered")
	}
	if got := pullTransform(t, c, "tool").At(1, 3); got != 2 {
		t.Fatalf("expected translation y=2, got %v", got)
	}
	if c.State() != StateConnected {
		t.Fatalf("connection should stay open, state=%s", c.State())
	}
}

func TestLatestTransformWins(t *testing.T) {
	testlog.Start(t)
	c, addr := startServer(t, testSessionConfig())
	peer := dialPeer(t, addr)

	for i := 1; i <= 5; i++ {
		writeTransform(t, peer, "tool", translation(float64(i), 0, 0))
	}
	waitFor(t, "five pushes", func() bool {
		buf, ok := c.GetBuffer("tool")
		return ok && buf.Stats().Pushes == 5
	})
	if got := pullTransform(t, c, "tool").At(0, 3); got != 5 {
		t.Fatalf("expected latest x=5, got %v", got)
	}
}

func TestCRCEnforceDropsMismatch(t *testing.T) {
	testlog.Start(t)
	cfg := testSessionConfig()
	cfg.CRCPolicy = session.CRCEnforce
	c, addr := startServer(t, cfg)
	peer := dialPeer(t, addr)

	body, _ := message.EncodeTransform(translation(7, 7, 7))
	writeRaw(t, peer, frame.Header{
		Version:    frame.Version,
		DeviceType: message.TypeTransform,
		DeviceName: "corrupt",
		BodySize:   uint64(len(body)),
		CRC:        frame.CRC64(body) ^ 1,
	}, body)
	writeTransform(t, peer, "clean", translation(1, 1, 1))

	waitFor(t, "clean update", func() bool {
		return slices.Equal(c.ListUpdatedDevices(), []string{"clean"})
	})
	buf, ok := c.GetBuffer("corrupt")
	if !ok {
		t.Fatalf("corrupt device should be registered")
	}
	if buf.IsUpdated() || buf.Stats().Pushes != 0 {
		t.Fatalf("crc mismatch should not publish, stats=%+v", buf.Stats())
	}
}

func TestCRCLogKeepsMismatch(t *testing.T) {
	testlog.Start(t)
	c, addr := startServer(t, testSessionConfig())
	peer := dialPeer(t, addr)

	body, _ := message.EncodeTransform(translation(7, 7, 7))
	writeRaw(t, peer, frame.Header{
		Version:    frame.Version,
		DeviceType: message.TypeTransform,
		DeviceName: "corrupt",
		BodySize:   uint64(len(body)),
		CRC:        frame.CRC64(body) ^ 1,
	}, body)

	waitFor(t, "corrupt update", func() bool {
		return slices.Equal(c.ListUpdatedDevices(), []string{"corrupt"})
	})
}

func TestShortBodyAbortsPush(t *testing.T) {
	testlog.Start(t)
	c, addr := startServer(t, testSessionConfig())
	peer := dialPeer(t, addr)

	writeRaw(t, peer, frame.Header{
		Version:    frame.Version,
		DeviceType: message.TypeImage,
		DeviceName: "partial",
		BodySize:   100,
	}, make([]byte, 10))
	_ = peer.Close()

	waitFor(t, "partial registration", func() bool {
		_, ok := c.GetBuffer("partial")
		return ok
	})
	waitFor(t, "peer drop", func() bool { return c.State() == StateWaitConnection })
	buf, _ := c.GetBuffer("partial")
	if buf.IsUpdated() || buf.Stats().Pushes != 0 {
		t.Fatalf("short body should not publish, stats=%+v", buf.Stats())
	}
}

func TestBodyOverLimitClosesConnection(t *testing.T) {
	testlog.Start(t)
	cfg := testSessionConfig()
	cfg.Limits = frame.Limits{MaxBodyBytes: 16}
	c, addr := startServer(t, cfg)
	peer := dialPeer(t, addr)

	writeTransform(t, peer, "tool", translation(1, 0, 0))

	_ = peer.SetReadDeadline(time.Now().Add(waitTimeout))
	var one [1]byte
	if _, err := peer.Read(one[:]); err == nil {
		t.Fatalf("expected connection closed by connector")
	}
	waitFor(t, "wait connection", func() bool { return c.State() == StateWaitConnection })
	if len(c.Devices()) != 0 {
		t.Fatalf("over-limit body should not register devices: %v", c.Devices())
	}
}

func TestPeerReconnectAfterDisconnect(t *testing.T) {
	testlog.Start(t)
	c, addr := startServer(t, testSessionConfig())

	first := dialPeer(t, addr)
	writeTransform(t, first, "tool", translation(1, 0, 0))
	waitFor(t, "first update", func() bool { return len(c.ListUpdatedDevices()) == 1 })
	_ = first.Close()
	waitFor(t, "wait connection", func() bool { return c.State() == StateWaitConnection })

	second := dialPeer(t, addr)
	writeTransform(t, second, "tool", translation(2, 0, 0))
	waitFor(t, "second push", func() bool {
		buf, _ := c.GetBuffer("tool")
		return buf.Stats().Pushes == 2
	})
	if got := pullTransform(t, c, "tool").At(0, 3); got != 2 {
		t.Fatalf("expected x=2 from second peer, got %v", got)
	}
}

func TestClientRoleReceivesAndSends(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	c := New("client", testSessionConfig())
	if err := c.SendTransform("tool", translation(0, 0, 0)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	if err := c.ConfigureAsClient("127.0.0.1", ln.Addr().(*net.TCPAddr).Port); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopAndWait(t, c)

	_ = ln.(*net.TCPListener).SetDeadline(time.Now().Add(waitTimeout))
	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer server.Close()

	writeTransform(t, server, "tracker", translation(4, 5, 6))
	waitFor(t, "tracker update", func() bool {
		return slices.Equal(c.ListUpdatedDevices(), []string{"tracker"})
	})
	if got := pullTransform(t, c, "tracker").At(2, 3); got != 6 {
		t.Fatalf("expected z=6, got %v", got)
	}

	if err := c.SendTransform("echo", translation(9, 8, 7)); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = server.SetReadDeadline(time.Now().Add(waitTimeout))
	h, err := frame.ReadHeader(server)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h.DeviceType != message.TypeTransform || h.DeviceName != "echo" || h.BodySize != message.TransformBodySize {
		t.Fatalf("unexpected header %+v", h)
	}
	body := make([]byte, h.BodySize)
	if err := frame.ReadBody(server, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := frame.Verify(h, body); err != nil {
		t.Fatalf("crc: %v", err)
	}
	m, err := message.DecodeTransform(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.At(0, 3) != 9 {
		t.Fatalf("expected x=9, got %v", m.At(0, 3))
	}
}

func TestClientConnectorToServerConnector(t *testing.T) {
	testlog.Start(t)
	server, addr := startServer(t, testSessionConfig())
	port := server.Addr().(*net.TCPAddr).Port

	client := New("scanner", testSessionConfig())
	if err := client.ConfigureAsClient("127.0.0.1", port); err != nil {
		t.Fatalf("configure client: %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("start client: %v", err)
	}
	defer stopAndWait(t, client)

	waitFor(t, "client connected to "+addr, func() bool { return client.State() == StateConnected })
	waitFor(t, "server connected", func() bool { return server.State() == StateConnected })

	img := testImage()
	if err := client.SendImage("probe", img); err != nil {
		t.Fatalf("send image: %v", err)
	}
	waitFor(t, "probe update", func() bool {
		return slices.Equal(server.ListUpdatedDevices(), []string{"probe"})
	})

	buf, _ := server.GetBuffer("probe")
	buf.StartPull()
	deviceType := buf.PullDeviceType()
	vol, err := message.DecodeImage(buf.PullBuffer())
	buf.EndPull()
	if deviceType != message.TypeImage {
		t.Fatalf("unexpected type %q", deviceType)
	}
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	if vol.Size != [3]int{4, 4, 1} || vol.ScalarType != message.ScalarUint8 {
		t.Fatalf("unexpected volume shape %v type %d", vol.Size, vol.ScalarType)
	}
	if !slices.Equal(vol.Scalars, img.Scalars) {
		t.Fatalf("scalars mismatch: %v", vol.Scalars)
	}
	if got := server.Devices(); !slices.Equal(got, []string{"probe"}) {
		t.Fatalf("unexpected devices %v", got)
	}
}
