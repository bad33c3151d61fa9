package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const defaultPostgresImage = "postgres:16-alpine"

// startPostgresContainer runs a throwaway Postgres through the Docker CLI.
// Docker picks the host port; TEST_POSTGRES_IMAGE overrides the image.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	image := os.Getenv("TEST_POSTGRES_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}

	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"--label", "lab-integration-test",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=lab",
		"-e", "POSTGRES_PASSWORD=lab",
		"-e", "POSTGRES_DB=labtest",
		image,
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run %s: %w\n%s", image, err, out)
	}
	id := strings.TrimSpace(string(out))
	cleanup := func() { exec.Command("docker", "rm", "-f", id).Run() }

	addr, err := mappedAddr(ctx, id)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	connStr := fmt.Sprintf("postgres://lab:lab@%s/labtest?sslmode=disable", addr)
	if err := waitForPostgres(ctx, connStr, 30*time.Second); err != nil {
		cleanup()
		return "", nil, err
	}
	return connStr, cleanup, nil
}

// mappedAddr asks Docker which host address serves the container's 5432.
func mappedAddr(ctx context.Context, id string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", "port", id, "5432/tcp").Output()
	if err != nil {
		return "", fmt.Errorf("docker port: %w", err)
	}
	// One line per binding, e.g. "127.0.0.1:49153".
	first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if _, _, err := net.SplitHostPort(first); err != nil {
		return "", fmt.Errorf("unexpected docker port output %q: %w", out, err)
	}
	return first, nil
}

// waitForPostgres retries a single connection until the server accepts
// queries. The image restarts Postgres once after init, so one successful
// connect is not enough; the probe also runs a query.
func waitForPostgres(ctx context.Context, connStr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		conn, err := pgx.Connect(ctx, connStr)
		if err == nil {
			var one int
			err = conn.QueryRow(ctx, "SELECT 1").Scan(&one)
			conn.Close(ctx)
			if err == nil {
				return nil
			}
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", timeout, lastErr)
		case <-time.After(300 * time.Millisecond):
		}
	}
}
