//go:build integration

// Package integration runs black-box tests against the composed stack:
// the API server built from this repo plus PostgreSQL.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/compose"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	baseURL string
	pgURL   string
)

func TestMain(m *testing.M) {
	os.Exit(runMain(m))
}

func runMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stack, err := compose.NewDockerComposeWith(
		compose.WithStackFiles("docker-compose.test.yml"),
		compose.StackIdentifier("freshcart-it"),
	)
	if err != nil {
		log.Printf("create compose stack: %v", err)
		return 1
	}
	defer func() {
		if err := stack.Down(context.Background(), compose.RemoveOrphans(true), compose.RemoveVolumes(true)); err != nil {
			log.Printf("compose down: %v", err)
		}
	}()

	err = stack.
		WaitForService("api", wait.ForHTTP("/readyz").WithPort("8080/tcp").WithStartupTimeout(2*time.Minute)).
		Up(ctx, compose.Wait(true))
	if err != nil {
		log.Printf("compose up: %v", err)
		return 1
	}

	api, err := stack.ServiceContainer(ctx, "api")
	if err != nil {
		log.Printf("api container: %v", err)
		return 1
	}
	host, err := api.Host(ctx)
	if err != nil {
		log.Printf("api host: %v", err)
		return 1
	}
	apiPort, err := api.MappedPort(ctx, "8080/tcp")
	if err != nil {
		log.Printf("api port: %v", err)
		return 1
	}
	baseURL = fmt.Sprintf("http://%s:%s", host, apiPort.Port())

	pg, err := stack.ServiceContainer(ctx, "postgres")
	if err != nil {
		log.Printf("postgres container: %v", err)
		return 1
	}
	pgPort, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Printf("postgres port: %v", err)
		return 1
	}
	pgURL = fmt.Sprintf("postgres://freshcart:freshcart@%s:%s/freshcart?sslmode=disable", host, pgPort.Port())

	return m.Run()
}

// dbPool opens a short-lived pool for direct database fixtures.
func dbPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(context.Background(), pgURL)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func seedProduct(t *testing.T, id, name, price string, stock int) {
	t.Helper()
	pool := dbPool(t)
	_, err := pool.Exec(context.Background(),
		`INSERT INTO products (id, name, price, stock) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = $2, price = $3, stock = $4`,
		id, name, price, stock)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func doGet(t *testing.T, path string, headers ...string) *http.Response {
	t.Helper()
	return doRequest(t, http.MethodGet, path, nil, headers...)
}

func doJSON(t *testing.T, method, path string, body any, headers ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	return doRequest(t, method, path, &buf, headers...)
}

func doRequest(t *testing.T, method, path string, body *bytes.Buffer, headers ...string) *http.Response {
	t.Helper()
	if len(headers)%2 != 0 {
		t.Fatal("headers must be key/value pairs")
	}

	var rd *bytes.Buffer
	if body == nil {
		rd = &bytes.Buffer{}
	} else {
		rd = body
	}
	req, err := http.NewRequest(method, baseURL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type healthResponse struct {
	Status string `json:"status"`
}
