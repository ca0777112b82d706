package gateway

import (
	"context"
	"errors"
	"testing"
)

func TestSessionFaultClassification(t *testing.T) {
	cause := errors.New("connection reset")
	err := SessionFault(cause)

	if !IsSessionFault(err) {
		t.Error("Expected wrapped error to be a session fault")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected wrapped error to keep its cause")
	}
	if IsSessionFault(ErrRejected) {
		t.Error("Delivery failure must not be a session fault")
	}
	if !IsSessionFault(SessionFault(nil)) {
		t.Error("Expected SessionFault(nil) to be a session fault")
	}
	if !IsSessionFault(&PanicError{Value: "boom"}) {
		t.Error("Expected recovered panic to be a session fault")
	}
}

func TestLoopback(t *testing.T) {
	gw := NewLoopback()
	ctx := context.Background()

	if _, err := gw.Authenticate(ctx, "   "); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Expected ErrAuthFailed for blank credential, got %v", err)
	}

	sess, err := gw.Authenticate(ctx, "token-123456789")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	if err := sess.Send(ctx, "hello", "room-1"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := sess.Send(ctx, "hello", ""); !errors.Is(err, ErrRejected) {
		t.Errorf("Expected ErrRejected for blank destination, got %v", err)
	}

	if gw.Sent() != 1 || gw.SentTo("room-1") != 1 {
		t.Errorf("Expected 1 accepted payload, got %d (room-1: %d)", gw.Sent(), gw.SentTo("room-1"))
	}

	d, ok := sess.(Describer)
	if !ok {
		t.Fatal("Expected loopback session to implement Describer")
	}
	md, err := d.Describe(ctx, "room-1")
	if err != nil || md.Name != "loopback:room-1" {
		t.Errorf("Unexpected metadata %+v, err %v", md, err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := sess.Send(cancelled, "x", "room-1"); !IsSessionFault(err) {
		t.Errorf("Expected session fault on cancelled context, got %v", err)
	}
}
