package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value + "\n")}}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func writeFallback(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

func TestResolveSecretCachesRemoteValue(t *testing.T) {
	client := newFakeSecretClient()
	resource := "projects/shop/secrets/stripe-webhook-secret/versions/latest"
	client.values[resource] = "whsec_remote"

	fetcher, err := NewFetcher(context.Background(), WithSecretManagerClient(client), WithProject("shop"))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(context.Background(), "secret://stripe-webhook-secret")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got != "whsec_remote" {
			t.Fatalf("expected trimmed remote value, got %q", got)
		}
	}
	if client.calls[resource] != 1 {
		t.Fatalf("expected one remote call, got %d", client.calls[resource])
	}
}

func TestResolveSecretHonoursVersionAndProject(t *testing.T) {
	client := newFakeSecretClient()
	client.values["projects/other/secrets/db-url/versions/3"] = "postgres://pinned"
	fetcher, _ := NewFetcher(context.Background(), WithSecretManagerClient(client), WithProject("shop"))

	got, err := fetcher.ResolveSecret(context.Background(), "sm://db-url?version=3&project=other")
	if err != nil || got != "postgres://pinned" {
		t.Fatalf("unexpected value %q err=%v", got, err)
	}
}

func TestResolveSecretFallsBackOnPermissionDenied(t *testing.T) {
	client := newFakeSecretClient()
	client.errs["projects/shop/secrets/stripe-api-key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")
	path := writeFallback(t, "# local values", "secret://stripe-api-key=sk_test_local", "sm://db-url = postgres://local")

	fetcher, _ := NewFetcher(context.Background(), WithSecretManagerClient(client), WithProject("shop"), WithFallbackFile(path))
	got, err := fetcher.ResolveSecret(context.Background(), "secret://stripe-api-key")
	if err != nil || got != "sk_test_local" {
		t.Fatalf("unexpected fallback %q err=%v", got, err)
	}
}

func TestResolveSecretWithoutClientUsesFallback(t *testing.T) {
	path := writeFallback(t, "db-url=postgres://local")
	fetcher, _ := NewFetcher(context.Background(), WithFallbackFile(path))
	got, err := fetcher.ResolveSecret(context.Background(), "secret://db-url")
	if err != nil || got != "postgres://local" {
		t.Fatalf("unexpected value %q err=%v", got, err)
	}
	if _, err := fetcher.ResolveSecret(context.Background(), "secret://unknown"); err == nil {
		t.Fatalf("expected missing secret error")
	}
}

func TestResolveSecretPropagatesHardErrors(t *testing.T) {
	client := newFakeSecretClient()
	client.errs["projects/shop/secrets/db-url/versions/latest"] = status.Error(codes.InvalidArgument, "bad name")
	path := writeFallback(t, "db-url=postgres://local")
	fetcher, _ := NewFetcher(context.Background(), WithSecretManagerClient(client), WithProject("shop"), WithFallbackFile(path))
	if _, err := fetcher.ResolveSecret(context.Background(), "secret://db-url"); err == nil {
		t.Fatalf("expected invalid argument to surface")
	}
}

func TestParseReferenceRejectsUnsupported(t *testing.T) {
	for _, ref := range []string{"https://example.com/x", "secret://", ""} {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("expected error for %q", ref)
		}
	}
}
