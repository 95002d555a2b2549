package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestJoinContexts_CancelsWhenEitherDone(t *testing.T) {
	for _, first := range []string{"a", "b"} {
		a, ac := context.WithCancel(context.Background())
		b, bc := context.WithCancel(context.Background())
		j, cancelJ := joinContexts(a, b)
		if first == "a" {
			ac()
		} else {
			bc()
		}
		select {
		case <-j.Done():
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("joined context did not cancel when %s was canceled", first)
		}
		cancelJ()
		ac()
		bc()
	}
}

func TestRequestContext_BaseAndTimeout(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	SetBaseContext(base)
	defer SetBaseContext(nil)

	ctx, cancel := requestContext(context.Background(), 0)
	defer cancel()
	cancelBase()
	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("request context survived base shutdown")
	}

	SetBaseContext(nil)
	ctx2, cancel2 := requestContext(context.Background(), 20*time.Millisecond)
	defer cancel2()
	select {
	case <-ctx2.Done():
		if ctx2.Err() != context.DeadlineExceeded {
			t.Fatalf("err=%v", ctx2.Err())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout not applied")
	}
}
