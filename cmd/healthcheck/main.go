// Command healthcheck requests /healthz of a local chatmerge instance and exits
// non-zero when it is unhealthy. Intended for container HEALTHCHECK.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	os.Exit(run(healthURL(os.Getenv("HTTP_ADDR"))))
}

// healthURL maps a listen address like ":3000" or "0.0.0.0:3000" to a
// loopback URL.
func healthURL(addr string) string {
	if addr == "" {
		addr = ":3000"
	}
	host, port := "localhost", addr
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			if h := addr[:i]; h != "" && h != "0.0.0.0" && h != "[::]" {
				host = h
			}
			port = addr[i+1:]
			break
		}
	}
	return "http://" + host + ":" + port + "/healthz"
}

func run(url string) int {
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return 1
	}
	resp, err := client.Do(req)
	if err != nil {
		return 1
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
