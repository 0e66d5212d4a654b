// Package testclunks поднимает окружение для интеграционных тестов clunks:
// NATS контейнер через testcontainers, сервер в процессе и мост к хранилищу.
//
// Использование в тестах:
//
//	func TestIntegration(t *testing.T) {
//	    ctx := context.Background()
//
//	    env, err := testclunks.Start(ctx)
//	    require.NoError(t, err)
//	    defer env.Close(ctx)
//
//	    // Хранилище: отвечает на Command
//	    _, err = env.Respond(protocol.Command, func(r broker.Request) string {
//	        return protocol.StatusSuccess
//	    })
//	    require.NoError(t, err)
//
//	    c, err := env.NewClient(protocol.Medium)
//	    require.NoError(t, err)
//	    defer c.Close("done")
//	}
package testclunks
