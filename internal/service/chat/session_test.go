package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baobabted/AI-Coding-Tutor/internal/history"
	"github.com/baobabted/AI-Coding-Tutor/internal/llm"
	"github.com/baobabted/AI-Coding-Tutor/internal/models"
	"github.com/baobabted/AI-Coding-Tutor/internal/pedagogy"
	"github.com/baobabted/AI-Coding-Tutor/internal/store"
)

// fakeConn feeds scripted frames to the session and records every event it
// sends back, decoded to a generic map.
type fakeConn struct {
	frames []string
	next   int
	events []map[string]any
}

func (c *fakeConn) Read(_ context.Context) (websocket.MessageType, []byte, error) {
	if c.next >= len(c.frames) {
		return 0, nil, io.EOF
	}
	frame := c.frames[c.next]
	c.next++
	return websocket.MessageText, []byte(frame), nil
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	var event map[string]any
	if err := json.Unmarshal(p, &event); err != nil {
		return err
	}
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) eventTypes() []string {
	types := make([]string, len(c.events))
	for i, ev := range c.events {
		types[i], _ = ev["type"].(string)
	}
	return types
}

// fakeProvider scripts the classifier replies and the streamed answer.
type fakeProvider struct {
	replies   []string
	deltas    []string
	streamErr error
	chatCalls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Chat(_ context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.chatCalls >= len(p.replies) {
		return nil, errors.New("no scripted reply")
	}
	reply := p.replies[p.chatCalls]
	p.chatCalls++
	return &llm.ChatResponse{Content: reply}, nil
}

func (p *fakeProvider) ChatStream(_ context.Context, _ *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	if p.streamErr != nil && len(p.deltas) == 0 {
		return nil, p.streamErr
	}
	ch := make(chan llm.StreamEvent, len(p.deltas)+2)
	for _, d := range p.deltas {
		ch <- llm.StreamEvent{Delta: d}
	}
	if p.streamErr != nil {
		ch <- llm.StreamEvent{Error: p.streamErr}
	} else {
		ch <- llm.StreamEvent{Done: true}
	}
	close(ch)
	return ch, nil
}

type fakeEmbedder struct {
	vec []float64
}

func (e *fakeEmbedder) EmbedText(_ context.Context, _ string) ([]float64, error) {
	return e.vec, nil
}

func (e *fakeEmbedder) EmbedImage(_ context.Context, _ []byte, _ string) ([]float64, error) {
	return e.vec, nil
}

type savedMessage struct {
	store.SaveMessageParams
	committed bool
}

// fakeStore is an in-memory stand-in for the Postgres store; all
// transactions share it and mark their writes committed on Commit.
type fakeStore struct {
	underQuota bool
	sessionID  uuid.UUID
	beginErr   error

	messages    []*savedMessage
	inputUsed   int
	outputUsed  int
	progLevel   float64
	mathsLevel  float64
	embedding   []float64
	levelsSaved bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{underQuota: true, sessionID: uuid.New()}
}

func (f *fakeStore) CheckDailyLimit(_ context.Context, _ uuid.UUID) (bool, error) {
	return f.underQuota, nil
}

func (f *fakeStore) GetChatHistory(_ context.Context, _ uuid.UUID) ([]store.HistoryEntry, error) {
	var entries []store.HistoryEntry
	for _, m := range f.messages {
		if m.committed {
			entries = append(entries, store.HistoryEntry{Role: m.Role, Content: m.Content})
		}
	}
	return entries, nil
}

func (f *fakeStore) Begin(_ context.Context) (Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &fakeTx{store: f}, nil
}

func (f *fakeStore) committedMessages() []*savedMessage {
	var out []*savedMessage
	for _, m := range f.messages {
		if m.committed {
			out = append(out, m)
		}
	}
	return out
}

type fakeTx struct {
	store   *fakeStore
	pending []*savedMessage
}

func (t *fakeTx) GetOrCreateSession(_ context.Context, userID uuid.UUID, _ *uuid.UUID) (*models.ChatSession, error) {
	return &models.ChatSession{ID: t.store.sessionID, UserID: userID}, nil
}

func (t *fakeTx) SaveMessage(_ context.Context, p store.SaveMessageParams) (*models.ChatMessage, error) {
	m := &savedMessage{SaveMessageParams: p}
	t.pending = append(t.pending, m)
	t.store.messages = append(t.store.messages, m)
	return &models.ChatMessage{ID: uuid.New(), SessionID: p.SessionID, Role: p.Role, Content: p.Content}, nil
}

func (t *fakeTx) IncrementTokenUsage(_ context.Context, _ uuid.UUID, inputTokens, outputTokens int) error {
	t.store.inputUsed += inputTokens
	t.store.outputUsed += outputTokens
	return nil
}

func (t *fakeTx) UpdateEffectiveLevels(_ context.Context, _ uuid.UUID, programming, maths float64) error {
	t.store.progLevel = programming
	t.store.mathsLevel = maths
	t.store.levelsSaved = true
	return nil
}

func (t *fakeTx) UpdateLastEmbedding(_ context.Context, _ uuid.UUID, embedding []float64, _ time.Time) error {
	t.store.embedding = embedding
	return nil
}

func (t *fakeTx) Commit(_ context.Context) error {
	for _, m := range t.pending {
		m.committed = true
	}
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) {}

type fakeUploads struct {
	files []models.UploadedFile
}

func (u *fakeUploads) GetUserUploadsByIDs(_ context.Context, _ uuid.UUID, ids []uuid.UUID) ([]models.UploadedFile, error) {
	var out []models.UploadedFile
	for _, id := range ids {
		for _, f := range u.files {
			if f.ID == id {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func testUser() *models.User {
	return &models.User{
		ID:               uuid.New(),
		Email:            "ada@example.com",
		DisplayName:      "Ada",
		ProgrammingLevel: 3,
		MathsLevel:       2,
	}
}

type fixture struct {
	conn     *fakeConn
	store    *fakeStore
	provider *fakeProvider
	uploads  *fakeUploads
	session  *Session
}

func newFixture(t *testing.T, provider *fakeProvider, frames ...string) *fixture {
	t.Helper()

	conn := &fakeConn{frames: frames}
	st := newFakeStore()
	embedder := &fakeEmbedder{vec: []float64{0.6, 0.8}}
	uploads := &fakeUploads{}
	engine := pedagogy.NewEngine(provider, embedder, 0.05)
	builder := history.NewBuilder(provider, 10000, 0.6)

	svc := NewService(st, provider, embedder, engine, uploads, builder, Config{
		MaxUserInputTokens: 2000,
		MaxImages:          3,
		MaxDocuments:       2,
	})
	return &fixture{
		conn:     conn,
		store:    st,
		provider: provider,
		uploads:  uploads,
		session:  NewSession(svc, conn, testUser()),
	}
}

func TestSessionStreamedTurn(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		// Topic filter, hint level, difficulty, then the stream.
		replies: []string{"ON_TOPIC", "2", "4,3"},
		deltas:  []string{"Think about ", "the base case."},
	}
	f := newFixture(t, provider, `{"content":"Why does my recursion overflow?"}`)

	require.NoError(t, f.session.Run(context.Background()))

	assert.Equal(t, []string{"session", "token", "token", "done"}, f.conn.eventTypes())
	assert.Equal(t, f.store.sessionID.String(), f.conn.events[0]["session_id"])
	assert.Equal(t, "Think about ", f.conn.events[1]["content"])

	done := f.conn.events[3]
	assert.EqualValues(t, 2, done["hint_level"])
	assert.EqualValues(t, 4, done["programming_difficulty"])
	assert.EqualValues(t, 3, done["maths_difficulty"])

	messages := f.store.committedMessages()
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, "Why does my recursion overflow?", messages[0].Content)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Think about the base case.", messages[1].Content)
	require.NotNil(t, messages[1].HintLevelUsed)
	assert.Equal(t, 2, *messages[1].HintLevelUsed)

	assert.Positive(t, f.store.inputUsed)
	assert.Positive(t, f.store.outputUsed)

	// Difficulty 4 pulls the effective level up from 3, maths 3 up from 2.
	assert.True(t, f.store.levelsSaved)
	assert.InDelta(t, 3.05, f.store.progLevel, 1e-9)
	assert.InDelta(t, 2.05, f.store.mathsLevel, 1e-9)
	assert.NotEmpty(t, f.store.embedding)
}

func TestSessionGreetingIsCanned(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{replies: []string{"GREETING"}}
	f := newFixture(t, provider, `{"content":"hello there"}`)

	require.NoError(t, f.session.Run(context.Background()))

	require.Equal(t, []string{"session", "canned"}, f.conn.eventTypes())
	canned := f.conn.events[1]
	assert.Equal(t, "greeting", canned["filter"])
	assert.Contains(t, canned["content"], "Ada")

	messages := f.store.committedMessages()
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleAssistant, messages[1].Role)
	assert.Equal(t, canned["content"], messages[1].Content)
	assert.Zero(t, f.store.outputUsed, "canned turns cost no output tokens")
}

func TestSessionQuotaReached(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeProvider{}, `{"content":"help me"}`)
	f.store.underQuota = false

	require.NoError(t, f.session.Run(context.Background()))

	require.Equal(t, []string{"error"}, f.conn.eventTypes())
	assert.Equal(t, "Daily token limit reached. Try again tomorrow.", f.conn.events[0]["message"])
	assert.Empty(t, f.store.committedMessages())
}

func TestSessionLLMFailure(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		replies:   []string{"ON_TOPIC", "2", "3,3"},
		deltas:    []string{"partial "},
		streamErr: errors.New("upstream exploded"),
	}
	f := newFixture(t, provider, `{"content":"explain goroutines"}`)

	require.NoError(t, f.session.Run(context.Background()))

	assert.Equal(t, []string{"session", "token", "error"}, f.conn.eventTypes())
	assert.Equal(t, "AI service temporarily unavailable. Please try again.",
		f.conn.events[2]["message"])

	// The user message survives; no assistant message is recorded. The
	// input estimate is still booked against the daily quota, the output
	// side is not.
	messages := f.store.committedMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Positive(t, f.store.inputUsed)
	assert.Zero(t, f.store.outputUsed)
}

func TestSessionStoreFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeProvider{}, `{"content":"explain goroutines"}`)
	f.store.beginErr = errors.New("pool exhausted")

	err := f.session.Run(context.Background())
	require.Error(t, err)

	// The client hears about the failure before the connection is closed.
	require.Equal(t, []string{"error"}, f.conn.eventTypes())
	assert.Equal(t, "Internal error", f.conn.events[0]["message"])
	assert.Empty(t, f.store.committedMessages())
}

func TestSessionOversizeInput(t *testing.T) {
	t.Parallel()

	frame, err := json.Marshal(clientFrame{Content: strings.Repeat("x", 9000)})
	require.NoError(t, err)

	f := newFixture(t, &fakeProvider{}, string(frame))

	require.NoError(t, f.session.Run(context.Background()))

	require.Equal(t, []string{"error"}, f.conn.eventTypes())
	assert.Equal(t, "Files are too large for one message. Please split them and try again.",
		f.conn.events[0]["message"])
}

func TestSessionFrameValidation(t *testing.T) {
	t.Parallel()

	t.Run("MalformedJSON", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &fakeProvider{}, `not json`)
		require.NoError(t, f.session.Run(context.Background()))
		require.Equal(t, []string{"error"}, f.conn.eventTypes())
		assert.Equal(t, "Invalid message format", f.conn.events[0]["message"])
	})

	t.Run("EmptyFrameIsSkipped", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &fakeProvider{}, `{"content":"   "}`)
		require.NoError(t, f.session.Run(context.Background()))
		assert.Empty(t, f.conn.events)
	})

	t.Run("BadAttachmentReference", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &fakeProvider{}, `{"content":"hi","upload_ids":["nope"]}`)
		require.NoError(t, f.session.Run(context.Background()))
		require.Equal(t, []string{"error"}, f.conn.eventTypes())
		assert.Equal(t, "Invalid attachment reference format.", f.conn.events[0]["message"])
	})

	t.Run("TooManyReferences", func(t *testing.T) {
		t.Parallel()
		ids := make([]string, 6)
		for i := range ids {
			ids[i] = uuid.NewString()
		}
		frame, err := json.Marshal(clientFrame{Content: "hi", UploadIDs: ids})
		require.NoError(t, err)

		f := newFixture(t, &fakeProvider{}, string(frame))
		require.NoError(t, f.session.Run(context.Background()))
		require.Equal(t, []string{"error"}, f.conn.eventTypes())
		assert.Contains(t, f.conn.events[0]["message"], "Too many files")
	})

	t.Run("UnknownAttachment", func(t *testing.T) {
		t.Parallel()
		frame, err := json.Marshal(clientFrame{Content: "hi", UploadIDs: []string{uuid.NewString()}})
		require.NoError(t, err)

		f := newFixture(t, &fakeProvider{}, string(frame))
		require.NoError(t, f.session.Run(context.Background()))
		require.Equal(t, []string{"error"}, f.conn.eventTypes())
		assert.Equal(t, "One or more attachments are invalid, expired, or inaccessible.",
			f.conn.events[0]["message"])
	})
}

func TestSessionAttachmentsSkipTopicFilters(t *testing.T) {
	t.Parallel()

	text := "print('hi')"
	doc := models.UploadedFile{
		ID:               uuid.New(),
		OriginalFilename: "solution.py",
		FileType:         models.FileTypeDocument,
		ExtractedText:    &text,
	}

	// No topic-filter reply is scripted: the engine goes straight to the
	// hint and difficulty classifiers.
	provider := &fakeProvider{
		replies: []string{"3", "2,1"},
		deltas:  []string{"Looks fine."},
	}
	frame, err := json.Marshal(clientFrame{UploadIDs: []string{doc.ID.String()}})
	require.NoError(t, err)

	f := newFixture(t, provider, string(frame))
	f.uploads.files = []models.UploadedFile{doc}

	require.NoError(t, f.session.Run(context.Background()))

	assert.Equal(t, []string{"session", "token", "done"}, f.conn.eventTypes())

	messages := f.store.committedMessages()
	require.Len(t, messages, 2)
	assert.Equal(t, "Sent attachments.", messages[0].Content)
	require.Len(t, messages[0].AttachmentIDs, 1)
	assert.Equal(t, doc.ID, messages[0].AttachmentIDs[0])
}

func TestEnrichMessage(t *testing.T) {
	t.Parallel()

	text := "def f(): pass"
	doc := models.UploadedFile{OriginalFilename: "hw.py", ExtractedText: &text}

	got := enrichMessage("Why is this wrong?", []models.UploadedFile{doc})
	assert.Equal(t, "Why is this wrong?\n\n[Attached document: hw.py]\ndef f(): pass", got)

	assert.Equal(t, "Please analyse the attached files.", enrichMessage("", nil))

	empty := ""
	got = enrichMessage("", []models.UploadedFile{{OriginalFilename: "a.txt", ExtractedText: &empty}})
	assert.Equal(t, "Please analyse the attached files.", got)
}

func TestParseSessionID(t *testing.T) {
	t.Parallel()

	assert.Nil(t, parseSessionID(""))
	assert.Nil(t, parseSessionID("garbage"))

	id := uuid.New()
	got := parseSessionID(id.String())
	require.NotNil(t, got)
	assert.Equal(t, id, *got)
}
