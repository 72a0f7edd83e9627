package gateway

import (
	"context"
	"testing"
)

func TestSimulatorSettlesAmbiguousTransfers(t *testing.T) {
	sim := NewSimulator()
	sim.Script("900-X", Outcome{Process: StatusTimeout, Settled: StatusSuccess})
	ctx := context.Background()

	resp, err := sim.ProcessTransfer(ctx, sampleRequest())
	if err != nil || resp.Status != StatusTimeout {
		t.Fatalf("expected timeout, got %+v err=%v", resp, err)
	}
	status, err := sim.GetTransferStatus(ctx, "tx-1")
	if err != nil || status.Status != StatusSuccess || status.BankTransactionID == "" {
		t.Fatalf("expected settled success, got %+v err=%v", status, err)
	}
}

func TestSimulatorUnknownTransaction(t *testing.T) {
	sim := NewSimulator()
	resp, err := sim.GetTransferStatus(context.Background(), "nope")
	if err != nil || resp.Status != StatusUnknown {
		t.Fatalf("expected unknown, got %+v err=%v", resp, err)
	}
}

func TestParseDirectory(t *testing.T) {
	dir, err := ParseDirectory(" bnk=Bank One, afb = Afriland ,")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if name, ok := dir.Lookup("BNK"); !ok || name != "Bank One" {
		t.Fatalf("unexpected lookup %q %v", name, ok)
	}
	if _, ok := dir.Lookup("afb"); !ok {
		t.Fatal("expected case-insensitive lookup")
	}
	if got := dir.Codes(); len(got) != 2 || got[0] != "AFB" {
		t.Fatalf("unexpected codes %v", got)
	}
	if _, err := ParseDirectory("=nameless"); err == nil {
		t.Fatal("expected error for missing code")
	}
}
