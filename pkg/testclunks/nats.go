package testclunks

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// natsImage — версия NATS, с которой проверялся мост.
	natsImage = "nats:2.10-alpine"

	// natsImageEnv переопределяет образ, например для зеркала registry.
	natsImageEnv = "CLUNKS_NATS_IMAGE"

	natsClientPort  = "4222/tcp"
	natsMonitorPort = "8222/tcp"
)

// natsContainer — NATS сервер для моста к хранилищу.
type natsContainer struct {
	container testcontainers.Container
	url       string
}

// imageName возвращает образ NATS с учётом CLUNKS_NATS_IMAGE.
func imageName() string {
	if v := os.Getenv(natsImageEnv); v != "" {
		return v
	}
	return natsImage
}

// startNATS запускает NATS и ждёт и клиентский порт, и ответ 200 от /healthz.
func startNATS(ctx context.Context) (*natsContainer, error) {
	image := imageName()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			Cmd:          []string{"--name", "clunks-test", "--http_port", "8222"},
			ExposedPorts: []string{natsClientPort, natsMonitorPort},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(natsClientPort),
				wait.ForHTTP("/healthz").WithPort(natsMonitorPort),
			).WithDeadline(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start NATS container %s: %w", image, err)
	}

	endpoint, err := container.PortEndpoint(ctx, natsClientPort, "nats")
	if err != nil {
		terminateContainer(ctx, container)
		return nil, fmt.Errorf("get NATS endpoint: %w", err)
	}

	return &natsContainer{container: container, url: endpoint}, nil
}

// URL возвращает NATS URL для подключения.
func (n *natsContainer) URL() string {
	return n.url
}

// Terminate останавливает контейнер.
func (n *natsContainer) Terminate(ctx context.Context) error {
	if n.container == nil {
		return nil
	}
	return n.container.Terminate(ctx)
}

func terminateContainer(ctx context.Context, c testcontainers.Container) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = c.Terminate(ctx)
}
