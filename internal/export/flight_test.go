package export

import (
	"context"
	"testing"

	"github.com/23skdu/longbow-spyglass/internal/device"
)

func TestNewFlightClient(t *testing.T) {
	client := NewFlightClient("localhost", 3000)
	if client == nil {
		t.Fatal("expected non-nil client")
	}
	if client.addr != "localhost:3000" {
		t.Errorf("unexpected addr %q", client.addr)
	}
}

func TestNewFlightClientDefaultPort(t *testing.T) {
	client := NewFlightClient("localhost", 0)
	if client.addr != "localhost:3000" {
		t.Errorf("expected default port 3000, got %q", client.addr)
	}
}

func TestPublishWithoutConnect(t *testing.T) {
	client := NewFlightClient("localhost", 3000)
	err := client.PublishMatrix(context.Background(), "selfsim", device.Zeros("m", 2, 2), nil)
	if err == nil {
		t.Error("expected error when publishing before Connect")
	}
}

func TestMockPublishAndRetrieve(t *testing.T) {
	mock := NewMockClient()
	ctx := context.Background()

	if err := mock.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	m, err := device.New("sim", []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	md := map[string]string{"stage": "11", "source": "keys"}
	if err := mock.PublishMatrix(ctx, "selfsim", m, md); err != nil {
		t.Fatalf("PublishMatrix failed: %v", err)
	}

	stored := mock.Stored("selfsim")
	if stored == nil {
		t.Fatal("expected stored matrix")
	}
	if len(stored.Rows) != 2 || len(stored.Rows[1]) != 3 {
		t.Fatalf("unexpected stored shape: %d rows", len(stored.Rows))
	}
	if stored.Rows[1][2] != 6 {
		t.Errorf("expected value 6, got %v", stored.Rows[1][2])
	}
	if stored.Metadata["source"] != "keys" {
		t.Errorf("expected metadata source=keys, got %q", stored.Metadata["source"])
	}
}

func TestMockPublishNotConnected(t *testing.T) {
	mock := NewMockClient()
	err := mock.PublishMatrix(context.Background(), "x", device.Zeros("m", 1, 1), nil)
	if err == nil {
		t.Error("expected error when not connected")
	}
}

func TestMockRejectsNonMatrix(t *testing.T) {
	mock := NewMockClient()
	if err := mock.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	err := mock.PublishMatrix(context.Background(), "x", device.Zeros("m", 2, 2, 2), nil)
	if err == nil {
		t.Error("expected error for rank-3 tensor")
	}
}

func TestMockReset(t *testing.T) {
	mock := NewMockClient()
	ctx := context.Background()
	if err := mock.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := mock.PublishMatrix(ctx, "x", device.Zeros("m", 1, 1), nil); err != nil {
		t.Fatalf("PublishMatrix failed: %v", err)
	}
	mock.Reset()
	if mock.Stored("x") != nil {
		t.Error("expected no stored matrices after Reset")
	}
}
