package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConnectPostgres_BadDSN(t *testing.T) {
	if _, err := ConnectPostgres(context.Background(), "postgres://%zz", PoolOptions{}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConnectPostgres_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := ConnectPostgres(ctx, "postgres://u:p@127.0.0.1:1/db?connect_timeout=1", PoolOptions{
		Attempts:   100,
		RetryDelay: 50 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected error for unreachable database")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Logf("gave up with: %v", err)
	}
}
