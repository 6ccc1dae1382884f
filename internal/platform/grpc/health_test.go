package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestDialWithHealthServing(t *testing.T) {
	addr, _ := startHealthServer(t, "game.v1.TurnService")

	conn, err := DialWithHealth(context.Background(), addr, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("dial with health: %v", err)
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "game.v1.TurnService"})
	if err != nil {
		t.Fatalf("check named service: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", resp.GetStatus())
	}
}

func TestWaitForHealthTransitionsToServing(t *testing.T) {
	addr, healthServer := startHealthServer(t)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	go func() {
		time.Sleep(200 * time.Millisecond)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	}()

	conn, err := DialWithHealth(context.Background(), addr, 3*time.Second, nil)
	if err != nil {
		t.Fatalf("wait for health after transition: %v", err)
	}
	_ = conn.Close()
}

func TestDialWithHealthReportsHealthStage(t *testing.T) {
	addr, healthServer := startHealthServer(t)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	var logged int
	_, err := DialWithHealth(context.Background(), addr, 300*time.Millisecond, func(string, ...any) { logged++ })
	if err == nil {
		t.Fatal("expected health error")
	}
	var dialErr *DialError
	if !errors.As(err, &dialErr) {
		t.Fatalf("expected *DialError, got %T", err)
	}
	if dialErr.Stage != DialStageHealth {
		t.Fatalf("stage = %q, want %q", dialErr.Stage, DialStageHealth)
	}
	if logged == 0 {
		t.Fatal("expected wait progress to be logged")
	}
}

func TestWaitForHealthRejectsNilConn(t *testing.T) {
	if err := WaitForHealth(context.Background(), nil, "", nil); err == nil {
		t.Fatal("expected nil connection error")
	}
}

func startHealthServer(t *testing.T, services ...string) (string, *health.Server) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	grpcServer, healthServer := NewHealthServer(services...)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	t.Cleanup(func() {
		grpcServer.Stop()
		<-serveErr
	})
	return listener.Addr().String(), healthServer
}
