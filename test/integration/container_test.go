package integration

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const postgresImage = "postgres:16-alpine"

// startPostgresContainer runs a throwaway Postgres through the Docker CLI,
// publishing 5432 on a random host port, and waits until it answers.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return "", nil, fmt.Errorf("no TEST_DATABASE_URL and docker not found")
	}

	out, err := exec.CommandContext(ctx, "docker", "run", "--rm", "-d",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=queue",
		"-e", "POSTGRES_PASSWORD=queue",
		"-e", "POSTGRES_DB=queuetest",
		postgresImage,
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run: %w: %s", err, strings.TrimSpace(string(out)))
	}
	id := strings.TrimSpace(string(out))
	cleanup := func() {
		_ = exec.Command("docker", "stop", id).Run()
	}

	out, err = exec.CommandContext(ctx, "docker", "port", id, "5432/tcp").Output()
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("docker port: %w", err)
	}
	// "127.0.0.1:49153", possibly followed by an IPv6 line.
	hostPort := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])

	url := fmt.Sprintf("postgres://queue:queue@%s/queuetest?sslmode=disable", hostPort)
	if err := waitReady(ctx, url, 30*time.Second); err != nil {
		cleanup()
		return "", nil, err
	}
	return url, cleanup, nil
}

// waitReady retries a connect-and-ping until Postgres finishes its init
// restart or timeout passes.
func waitReady(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()

	var lastErr error
	for {
		conn, err := pgx.Connect(ctx, url)
		if err == nil {
			err = conn.Ping(ctx)
			conn.Close(context.Background())
			if err == nil {
				return nil
			}
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", timeout, lastErr)
		case <-tick.C:
		}
	}
}
