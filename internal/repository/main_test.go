package repository_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/repository"
	"github.com/channelhub/migrations"
)

var (
	testPool *pgxpool.Pool
	channels *repository.ChannelRepository
	messages *repository.MessageRepository
	users    *repository.UserRepository
	webhooks *repository.WebhookRepository
)

func TestMain(m *testing.M) {
	os.Exit(runTests(m))
}

// runTests поднимает встроенный PostgreSQL на отдельном порту, накатывает
// миграции и выполняет тесты против настоящей базы.
func runTests(m *testing.M) int {
	const (
		port     = 55432
		user     = "channelhub"
		password = "channelhub_secret"
		database = "channelhub_test"
	)

	dataDir, err := os.MkdirTemp("", "channelhub-pgdata-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(dataDir)

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-test-runtime")),
	)
	if err := db.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "embedded postgres start: %v\n", err)
		return 1
	}
	defer db.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	url := fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pgxpool: %v\n", err)
		return 1
	}
	defer pool.Close()

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "migrations: %v\n", err)
		return 1
	}

	testPool = pool
	channels = repository.NewChannelRepository(pool)
	messages = repository.NewMessageRepository(pool)
	users = repository.NewUserRepository(pool)
	webhooks = repository.NewWebhookRepository(pool)

	return m.Run()
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".sql" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrations.Files.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func createUser(t *testing.T, name string) *model.User {
	t.Helper()
	u := &model.User{
		ID:    uuid.New().String(),
		Name:  name,
		Email: name + "-" + uuid.New().String()[:8] + "@example.com",
		Role:  model.RoleUser,
	}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("users.Create: %v", err)
	}
	return u
}

// createGroup создаёт group-канал от имени owner с указанными участниками
// (owner включается автоматически).
func createGroup(t *testing.T, owner *model.User, memberIDs ...string) *model.Channel {
	t.Helper()
	c := &model.Channel{
		ID:     uuid.New().String(),
		UserID: owner.ID,
		Type:   model.ChannelTypeGroup,
		Name:   "group-" + uuid.New().String()[:8],
	}
	all := append([]string{owner.ID}, memberIDs...)
	if err := channels.Create(context.Background(), c, all, owner.ID); err != nil {
		t.Fatalf("channels.Create: %v", err)
	}
	return c
}

func postMessage(t *testing.T, channelID, userID, content string, parentID *string) *model.Message {
	t.Helper()
	m := &model.Message{
		ID:        uuid.New().String(),
		UserID:    userID,
		ChannelID: &channelID,
		ParentID:  parentID,
		Content:   content,
	}
	if err := messages.Insert(context.Background(), m); err != nil {
		t.Fatalf("messages.Insert: %v", err)
	}
	return m
}
