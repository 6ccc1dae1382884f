package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/robotbattle/internal/platform/otel"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("ROBOTBATTLE_OTEL_ENDPOINT", "")
	t.Setenv("ROBOTBATTLE_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("ROBOTBATTLE_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("ROBOTBATTLE_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_RejectsSampleRatioOutOfRange(t *testing.T) {
	t.Setenv("ROBOTBATTLE_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("ROBOTBATTLE_OTEL_SAMPLE_RATIO", "1.5")

	if _, err := otel.Setup(context.Background(), "test-service"); err == nil {
		t.Fatal("expected sample ratio error")
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address: nothing is exported.
	t.Setenv("ROBOTBATTLE_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("ROBOTBATTLE_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
