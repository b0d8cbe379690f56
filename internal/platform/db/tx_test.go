package db

import (
	"context"
	"errors"
	"testing"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Fatal("expected no transaction on a bare context")
	}
}

func TestNoTx_RunsFunction(t *testing.T) {
	called := false
	err := NoTx{}.WithinTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run without error, called=%v err=%v", called, err)
	}

	want := errors.New("boom")
	if err := (NoTx{}).WithinTx(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected error to propagate, got %v", err)
	}
}
