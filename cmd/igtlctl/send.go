package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/danmuck/igtlctl/internal/connector"
	"github.com/danmuck/igtlctl/internal/protocol/message"
	"github.com/danmuck/igtlctl/internal/protocol/session"
)

var errConnectTimeout = errors.New("timed out waiting for connection")

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one OpenIGTLink message to a listening peer",
	}
	cmd.PersistentFlags().String("addr", "127.0.0.1:18944", "peer address host:port")
	cmd.PersistentFlags().String("device", "igtlctl", "device name (max 20 bytes)")
	cmd.PersistentFlags().Duration("timeout", 2*time.Second, "connect timeout")

	imageCmd := &cobra.Command{
		Use:   "image",
		Short: "Send a synthetic ramp IMAGE",
		Args:  cobra.NoArgs,
		RunE:  runSendImage,
	}
	imageCmd.Flags().String("size", "4,4,1", "volume size i,j,k")
	imageCmd.Flags().String("spacing", "1,1,1", "voxel spacing i,j,k")
	imageCmd.Flags().String("origin", "0,0,0", "volume origin x,y,z")
	imageCmd.Flags().String("scalar", "uint8", "scalar type: uint8|uint16|float32")

	transformCmd := &cobra.Command{
		Use:   "transform",
		Short: "Send a TRANSFORM with a pure translation",
		Args:  cobra.NoArgs,
		RunE:  runSendTransform,
	}
	transformCmd.Flags().String("translate", "0,0,0", "translation x,y,z")

	cmd.AddCommand(imageCmd, transformCmd)
	return cmd
}

func runSendImage(cmd *cobra.Command, _ []string) error {
	sizeRaw, _ := cmd.Flags().GetString("size")
	spacingRaw, _ := cmd.Flags().GetString("spacing")
	originRaw, _ := cmd.Flags().GetString("origin")
	scalarRaw, _ := cmd.Flags().GetString("scalar")

	size, err := parseTriple(sizeRaw)
	if err != nil {
		return fmt.Errorf("parse size: %w", err)
	}
	spacing, err := parseTriple(spacingRaw)
	if err != nil {
		return fmt.Errorf("parse spacing: %w", err)
	}
	origin, err := parseTriple(originRaw)
	if err != nil {
		return fmt.Errorf("parse origin: %w", err)
	}
	img, err := rampImage(size, spacing, origin, scalarRaw)
	if err != nil {
		return err
	}

	return withConnector(cmd, func(c *connector.Connector, device string) error {
		if err := c.SendImage(device, img); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "sent IMAGE %s size=%v bytes=%d\n", device, img.Header.Size, len(img.Scalars))
		return err
	})
}

func runSendTransform(cmd *cobra.Command, _ []string) error {
	raw, _ := cmd.Flags().GetString("translate")
	t, err := parseTriple(raw)
	if err != nil {
		return fmt.Errorf("parse translate: %w", err)
	}
	m := mat.NewDense(4, 4, []float64{
		1, 0, 0, t[0],
		0, 1, 0, t[1],
		0, 0, 1, t[2],
		0, 0, 0, 1,
	})
	return withConnector(cmd, func(c *connector.Connector, device string) error {
		if err := c.SendTransform(device, m); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "sent TRANSFORM %s translate=%v\n", device, t)
		return err
	})
}

// withConnector dials addr with a one-shot client connector and runs fn once the
// session is up.
func withConnector(cmd *cobra.Command, fn func(*connector.Connector, string) error) error {
	addr, _ := cmd.Flags().GetString("addr")
	device, _ := cmd.Flags().GetString("device")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	host, portRaw, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return fmt.Errorf("parse port: %w", err)
	}

	cfg := session.DefaultConfig()
	cfg.Reconnect = false
	cfg.ConnectTimeout = timeout
	c := connector.New("send", cfg)
	if err := c.ConfigureAsClient(host, port); err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}
	defer func() {
		c.Stop()
		<-c.Done()
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for c.State() != connector.StateConnected {
		select {
		case <-c.Done():
			return fmt.Errorf("connect %s: %w", addr, errConnectTimeout)
		case <-deadline.C:
			return fmt.Errorf("connect %s: %w", addr, errConnectTimeout)
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-tick.C:
		}
	}
	return fn(c, device)
}

func parseTriple(raw string) ([3]float64, error) {
	var out [3]float64
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return out, fmt.Errorf("expected 3 comma-separated values, got %q", raw)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

// rampImage fills a volume with increasing values in big-endian scalar order.
func rampImage(size, spacing, origin [3]float64, scalar string) (message.Image, error) {
	var dims [3]uint16
	n := 1
	for i, v := range size {
		if v < 1 || v > math.MaxUint16 || v != math.Trunc(v) {
			return message.Image{}, fmt.Errorf("invalid size component %v", v)
		}
		dims[i] = uint16(v)
		n *= int(v)
	}

	var scalarType uint8
	switch strings.ToLower(strings.TrimSpace(scalar)) {
	case "uint8":
		scalarType = message.ScalarUint8
	case "uint16":
		scalarType = message.ScalarUint16
	case "float32":
		scalarType = message.ScalarFloat32
	default:
		return message.Image{}, fmt.Errorf("unsupported scalar type %q", scalar)
	}
	width, _ := message.ScalarSize(scalarType)
	scalars := make([]byte, n*width)
	for i := range n {
		switch scalarType {
		case message.ScalarUint8:
			scalars[i] = byte(i)
		case message.ScalarUint16:
			binary.BigEndian.PutUint16(scalars[2*i:], uint16(i))
		case message.ScalarFloat32:
			binary.BigEndian.PutUint32(scalars[4*i:], math.Float32bits(float32(i)))
		}
	}

	axes := [3]r3.Vec{{X: 1}, {Y: 1}, {Z: 1}}
	return message.Image{
		Header: message.ImageHeader{
			DataType:   message.DataScalar,
			ScalarType: scalarType,
			Endian:     message.EndianBig,
			Coord:      message.CoordRAS,
			Size:       dims,
			Matrix: message.MatrixFromSpacingOriginAxes(
				spacing,
				r3.Vec{X: origin[0], Y: origin[1], Z: origin[2]},
				axes,
			),
		},
		Scalars: scalars,
	}, nil
}
