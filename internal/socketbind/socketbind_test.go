package socketbind

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestDialContextNoPolicyConnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	d := New(Policy{}, 2*time.Second)
	conn, err := d.DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	conn.Close()
}

func TestDialContextInvalidInterfaceFailsFast(t *testing.T) {
	d := New(Policy{Interface: "no-such-iface-xyz"}, time.Second)
	_, err := d.DialContext(context.Background(), "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatal("expected error for nonexistent interface")
	}
	var se *Error
	if !asSocketbindError(err, &se) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if se.Kind != InvalidInterface {
		t.Errorf("Kind = %v, want InvalidInterface", se.Kind)
	}
}

func TestPolicyEmpty(t *testing.T) {
	if !(Policy{}).Empty() {
		t.Error("zero Policy should be Empty")
	}
	if (Policy{Interface: "eth0"}).Empty() {
		t.Error("Policy with Interface set should not be Empty")
	}
}

func asSocketbindError(err error, target **Error) bool {
	se, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = se
	return true
}
