// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// TestServer_DatagramSubscribeAndEvent exercises the pre-subscribe
// first-contact path (spec.md §4.6): a datagram peer with no ClientHandle
// yet sends subscribe, the server synthesizes one via Link.CreateClient,
// and a later BroadcastEvent reaches it by address.
func TestServer_DatagramSubscribeAndEvent(t *testing.T) {
	dir := t.TempDir()
	serverPath := filepath.Join(dir, "gracht.sock")
	clientPath := filepath.Join(dir, "client.sock")

	link, err := NewUnixLink(SocketConfig{DatagramAddress: serverPath}, testMaxMsgSize)
	if err != nil {
		t.Fatalf("NewUnixLink: %v", err)
	}

	connected := make(chan int, 1)
	srv := &Server{}
	err = srv.Init(Config{
		Link:           link,
		Callbacks:      Callbacks{OnConnect: func(h int) { connected <- h }},
		MaxMessageSize: testMaxMsgSize,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer srv.Shutdown()

	go srv.Run()

	clientConn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: clientPath, Net: "unixgram"})
	if err != nil {
		t.Fatalf("ListenUnixgram: %v", err)
	}
	defer clientConn.Close()

	serverAddr := &net.UnixAddr{Name: serverPath, Net: "unixgram"}
	buf := make([]byte, testMaxMsgSize)
	n, err := EncodeFrame(buf, 1, controlProtocolID, controlActionSubscribe,
		[]OutParam{{Tag: ParamScalar, Scalar: 3}}, nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if _, err := clientConn.WriteTo(buf[:n], serverAddr); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	var handle int
	select {
	case handle = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for OnConnect")
	}
	if handle < dgramHandleBase {
		t.Fatalf("datagram client handle %d should be offset by dgramHandleBase", handle)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		c, ok := srv.clients.Get(handle)
		if ok && c.Subs.Test(3) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for datagram subscribe to take effect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := srv.BroadcastEvent(3, 9, []OutParam{{Tag: ParamScalar, Scalar: 555}}); err != nil {
		t.Fatalf("BroadcastEvent: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply := make([]byte, testMaxMsgSize)
	rn, _, err := clientConn.ReadFrom(reply)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	f, err := DecodeFrame(reply[:rn], testMaxMsgSize)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if f.ProtocolID != 3 || f.ActionID != 9 || len(f.ParamsOut) != 1 || f.ParamsOut[0].Scalar != 555 {
		t.Fatalf("event frame = %+v", f)
	}
}

func TestSockaddrKey_UnixAddress(t *testing.T) {
	addr := &unix.SockaddrUnix{Name: "/tmp/example.sock"}
	if got := sockaddrKey(addr); got != "unix:/tmp/example.sock" {
		t.Fatalf("sockaddrKey = %q", got)
	}
}
