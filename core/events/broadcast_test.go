package events

import (
	"testing"

	"github.com/gagliardetto/solana-go"
)

type plainEvent struct{}

func (plainEvent) EventType() string { return "plain" }

func TestBroadcasterDeliversTypedEvents(t *testing.T) {
	b := NewBroadcaster(2)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Emit(plainEvent{})
	b.Emit(Deposited{From: solana.NewWallet().PublicKey(), Amount: 9})

	select {
	case evt := <-ch:
		if evt.Type != TypeRedeemDeposit || evt.Attr("amount") != "9" {
			t.Fatalf("unexpected event %+v", evt)
		}
	default:
		t.Fatalf("expected a buffered event")
	}
	select {
	case evt := <-ch:
		t.Fatalf("untyped event must not be delivered, got %+v", evt)
	default:
	}
}

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewBroadcaster(1)
	_, cancel := b.Subscribe()
	for i := 0; i < 3; i++ {
		b.Emit(Deposited{Amount: uint64(i)})
	}
	if got := b.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped deliveries, got %d", got)
	}

	cancel()
	cancel()
	if b.Subscribers() != 0 {
		t.Fatalf("subscriber not removed")
	}
	b.Emit(Deposited{Amount: 1})
}
