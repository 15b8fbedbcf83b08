//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"codechat/internal/domain"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "codechat",
				"POSTGRES_PASSWORD": "codechat",
				"POSTGRES_DB":       "codechat",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("container port: %v", err)
	}
	url := fmt.Sprintf("postgres://codechat:codechat@%s:%s/codechat?sslmode=disable", host, port.Port())

	if err := RunMigrations(url, MigrationsFS()); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	testPool, err = NewPool(ctx, url)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	code := m.Run()

	testPool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	p, err := NewPostgres(testPool)
	require.NoError(t, err)
	return p
}

func TestPostgres_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	p := newTestPostgres(t)

	s, err := p.CreateSession(ctx, 101, "Explain closures", map[string]any{"source": "web"})
	require.NoError(t, err)
	require.NotZero(t, s.ID)

	got, err := p.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, int64(101), got.UserID)
	require.Equal(t, "Explain closures", got.Title)
	require.Equal(t, "web", got.Metadata["source"])

	user, err := p.AppendMessage(ctx, NewMessage{SessionID: s.ID, UserID: 101, Sender: domain.SenderUser, Content: "What is a closure?"})
	require.NoError(t, err)
	ai, err := p.AppendMessage(ctx, NewMessage{
		SessionID: s.ID, UserID: 101, Sender: domain.SenderAI, Content: "A function value with captured state.",
		Metadata: map[string]any{"model": "gpt-4o-mini"},
	})
	require.NoError(t, err)
	require.False(t, ai.Timestamp.Before(user.Timestamp))

	msgs, err := p.ListMessages(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, domain.SenderUser, msgs[0].Sender)
	require.Equal(t, domain.SenderAI, msgs[1].Sender)
	require.Equal(t, "gpt-4o-mini", msgs[1].Metadata["model"])

	after, err := p.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.False(t, after.UpdatedAt.Before(ai.Timestamp))
}

func TestPostgres_GetSession_NotFound(t *testing.T) {
	_, err := newTestPostgres(t).GetSession(context.Background(), 987654321)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPostgres_AppendMessage_UnknownSession(t *testing.T) {
	_, err := newTestPostgres(t).AppendMessage(context.Background(), NewMessage{
		SessionID: 987654321, UserID: 1, Sender: domain.SenderUser, Content: "hi",
	})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPostgres_ListSessions_NewestFirstWithPreview(t *testing.T) {
	ctx := context.Background()
	p := newTestPostgres(t)
	const user = 202

	older, err := p.CreateSession(ctx, user, "older", nil)
	require.NoError(t, err)
	newer, err := p.CreateSession(ctx, user, "newer", nil)
	require.NoError(t, err)
	_, err = p.AppendMessage(ctx, NewMessage{SessionID: older.ID, UserID: user, Sender: domain.SenderUser, Content: "bump"})
	require.NoError(t, err)

	summaries, err := p.ListSessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, older.ID, summaries[0].Session.ID)
	require.NotNil(t, summaries[0].LastMessage)
	require.Equal(t, "bump", summaries[0].LastMessage.Content)
	require.Equal(t, newer.ID, summaries[1].Session.ID)
	require.Nil(t, summaries[1].LastMessage)
}
