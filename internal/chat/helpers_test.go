package chat

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/counsel-platform/internal/ai"
	"github.com/suPer8Hu/counsel-platform/internal/msgcrypt"
	"github.com/suPer8Hu/counsel-platform/internal/usage"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection keeps the shared in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testCipher(t *testing.T) *msgcrypt.Cipher {
	t.Helper()
	c, err := msgcrypt.New(bytes.Repeat([]byte{7}, msgcrypt.KeySize))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	return c
}

type usageRecord struct {
	accountID     uint64
	input, output int
}

type fakeMeter struct {
	mu      sync.Mutex
	deny    error
	checks  int
	records []usageRecord
}

func (m *fakeMeter) CheckAvailable(ctx context.Context, accountID uint64) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	return m.deny
}

func (m *fakeMeter) RecordUsage(ctx context.Context, accountID uint64, in, out int) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, usageRecord{accountID: accountID, input: in, output: out})
	return nil
}

func (m *fakeMeter) snapshot() []usageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]usageRecord(nil), m.records...)
}

var _ usage.Meter = (*fakeMeter)(nil)

// scriptedLLM streams fixed chunks and then optionally fails.
type scriptedLLM struct {
	mu     sync.Mutex
	chunks []string
	err    error
	// hang waits for ctx to end after the scripted chunks
	hang  bool
	calls [][]ai.Message
}

func (p *scriptedLLM) StreamChat(ctx context.Context, messages []ai.Message) (<-chan string, <-chan error) {
	p.mu.Lock()
	p.calls = append(p.calls, append([]ai.Message(nil), messages...))
	p.mu.Unlock()

	chunks := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, c := range p.chunks {
			select {
			case chunks <- c:
			case <-ctx.Done():
				errs <- fmt.Errorf("%w: %w", ai.ErrUpstreamGeneration, ctx.Err())
				return
			}
		}
		if p.hang {
			<-ctx.Done()
			errs <- fmt.Errorf("%w: %w", ai.ErrUpstreamGeneration, ctx.Err())
			return
		}
		if p.err != nil {
			errs <- p.err
		}
	}()
	return chunks, errs
}

func (p *scriptedLLM) lastCall() []ai.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

func (p *scriptedLLM) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type testEnv struct {
	db     *gorm.DB
	repo   *Repo
	cipher *msgcrypt.Cipher
	meter  *fakeMeter
	llm    *scriptedLLM
	svc    *Service
}

func newTestEnv(t *testing.T, llm *scriptedLLM, opts ...Option) *testEnv {
	t.Helper()
	db := openTestDB(t)
	env := &testEnv{
		db:     db,
		repo:   NewRepo(db, nil),
		cipher: testCipher(t),
		meter:  &fakeMeter{},
		llm:    llm,
	}
	env.svc = NewService(env.repo, env.cipher, env.meter, llm, opts...)
	return env
}

func (e *testEnv) decrypt(t *testing.T, m Message) string {
	t.Helper()
	text, err := e.cipher.Decrypt(m.Payload())
	if err != nil {
		t.Fatalf("decrypt message %d: %v", m.ID, err)
	}
	return text
}

func collect(out *[]string) EmitFunc {
	return func(s string) error {
		*out = append(*out, s)
		return nil
	}
}
