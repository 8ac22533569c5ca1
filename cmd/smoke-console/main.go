package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"zippytrip.org/internal/remote"
)

func main() {
	grpcAddr := os.Getenv("ZIPPY_GRPC_ADDR")
	if grpcAddr == "" {
		grpcAddr = "localhost:9090"
	}
	apiURL := strings.TrimRight(os.Getenv("ZIPPY_API_URL"), "/")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	client, err := remote.Dial(ctx, grpcAddr)
	cancel()
	if err != nil {
		log.Fatalf("dial console-api at %s: %v", grpcAddr, err)
	}
	defer client.Close()

	ctxOp, cancelOp := remote.WithTimeout(context.Background(), 5*time.Second)
	defer cancelOp()

	if err := client.Check(ctxOp, remote.ServiceName); err != nil {
		log.Fatalf("grpc health: %v", err)
	}

	hc := &http.Client{Timeout: 5 * time.Second}
	expect := func(method, path string, header map[string]string, want int) {
		req, err := http.NewRequestWithContext(ctxOp, method, apiURL+path, nil)
		if err != nil {
			log.Fatalf("%s %s: %v", method, path, err)
		}
		for k, v := range header {
			req.Header.Set(k, v)
		}
		resp, err := hc.Do(req)
		if err != nil {
			log.Fatalf("%s %s: %v", method, path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			log.Fatalf("%s %s: expected %d, got %d", method, path, want, resp.StatusCode)
		}
	}

	expect(http.MethodGet, "/healthz", nil, http.StatusOK)
	expect(http.MethodGet, "/readyz", nil, http.StatusOK)
	expect(http.MethodOptions, "/functions/v1/admin-reset-password", nil, http.StatusNoContent)
	expect(http.MethodPost, "/v1/admin/reset-password", nil, http.StatusUnauthorized)
	expect(http.MethodPost, "/v1/admin/reset-password", map[string]string{"Authorization": "Bearer forged"}, http.StatusUnauthorized)

	fmt.Printf("✅ console-api smoke test passed: grpc=%s http=%s\n", grpcAddr, apiURL)
}
