package interact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidegate/interact/config"
	"github.com/tidegate/interact/llm"
	"github.com/tidegate/interact/store"
	"github.com/tidegate/interact/vector"
)

// fakeLLM echoes a canned reply and records the last request it saw.
type fakeLLM struct {
	reply     string
	lastReq   llm.Request
	completes int
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Connect(ctx context.Context, p map[string]string) error { return nil }

func (f *fakeLLM) Connected(ctx context.Context) bool { return true }

func (f *fakeLLM) ValidateModel(ctx context.Context, m string) (bool, error) {
	return true, nil
}

func (f *fakeLLM) Info() map[string]string { return map[string]string{"model": "fake-1"} }
func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.lastReq = req
	f.completes++
	reply := f.reply
	if reply == "" {
		reply = "echo: " + req.Prompt
	}
	return &llm.Response{Content: reply, Model: "fake-1", Metadata: map[string]any{"finish_reason": "stop"}}, nil
}

// fakeVector records saved documents and serves canned search results.
type fakeVector struct {
	saved   []vector.Record
	results []string
}

func (f *fakeVector) Name() string { return "fakevec" }

func (f *fakeVector) Connect(ctx context.Context, p map[string]string) error { return nil }

func (f *fakeVector) Connected(ctx context.Context) bool { return true }

func (f *fakeVector) Info() map[string]string { return nil }

func (f *fakeVector) Save(ctx context.Context, collection string, rec vector.Record) error {
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeVector) Get(ctx context.Context, collection, id string) (*vector.Record, error) {
	for i := range f.saved {
		if f.saved[i].ID == id {
			return &f.saved[i], nil
		}
	}
	return nil, fmt.Errorf("no record %q", id)
}

func (f *fakeVector) Search(ctx context.Context, collection, input string, topK int) ([]string, error) {
	if topK < len(f.results) {
		return f.results[:topK], nil
	}
	return f.results, nil
}

func (f *fakeVector) Import(ctx context.Context, collection string, recs []vector.Record) error {
	f.saved = append(f.saved, recs...)
	return nil
}

// fakeStore keeps conversations in memory, merging messages by ID.
type fakeStore struct {
	convs map[string]*store.Conversation
	order []string
}

func newFakeStore() *fakeStore { return &fakeStore{convs: map[string]*store.Conversation{}} }

func (f *fakeStore) Name() string { return "fakestore" }

func (f *fakeStore) Connect(ctx context.Context, p map[string]string) error { return nil }

func (f *fakeStore) Connected(ctx context.Context) bool { return true }

func (f *fakeStore) Info() map[string]string { return nil }

func (f *fakeStore) SelectDatabase(ctx context.Context, name string) error { return nil }

func (f *fakeStore) SaveRecord(ctx context.Context, conv store.Conversation, msgs []store.Message) error {
	existing, ok := f.convs[conv.ID]
	if !ok {
		c := conv
		c.Messages = nil
		f.convs[conv.ID] = &c
		f.order = append(f.order, conv.ID)
		existing = f.convs[conv.ID]
	} else {
		existing.Name = conv.Name
		existing.Metadata = conv.Metadata
	}
	for _, msg := range msgs {
		replaced := false
		for i := range existing.Messages {
			if existing.Messages[i].ID == msg.ID {
				existing.Messages[i] = msg
				replaced = true
				break
			}
		}
		if !replaced {
			existing.Messages = append(existing.Messages, msg)
		}
	}
	return nil
}

func (f *fakeStore) Records(ctx context.Context, flt store.Filter) ([]store.Conversation, error) {
	var out []store.Conversation
	for _, id := range f.order {
		c := f.convs[id]
		if flt.ConversationID != "" && c.ID != flt.ConversationID {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeLLM, *fakeVector, *fakeStore) {
	t.Helper()
	settings, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}
	fl, fv, fs := &fakeLLM{}, &fakeVector{}, newFakeStore()
	m, err := New(context.Background(),
		WithSettings(settings),
		WithLLM(fl),
		WithVector(fv),
		WithStore(fs),
	)
	if err != nil {
		t.Fatalf("Failed to build manager: %v", err)
	}
	return m, fl, fv, fs
}

func TestNewAdoptsConnectedHandlers(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	if m.Settings().DefaultHandler("llm") != "fake" {
		t.Fatalf("Expected the LLM selection to be saved, got %q", m.Settings().DefaultHandler("llm"))
	}
	if m.Settings().Handler("fake")["model"] != "fake-1" {
		t.Fatalf("Expected the handler parameters to be saved, got %v", m.Settings().Handler("fake"))
	}
	if m.Settings().DefaultHandler("vector") != "fakevec" {
		t.Fatalf("Expected the vector selection to be saved, got %q", m.Settings().DefaultHandler("vector"))
	}
}

func TestNewWithEmptySettings(t *testing.T) {
	settings, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}

	m, err := New(context.Background(), WithSettings(settings))
	if err != nil {
		t.Fatalf("Expected manager to build without configured handlers: %v", err)
	}
	if m.IsConnected(context.Background(), RoleLLM) {
		t.Fatalf("Expected no LLM handler to be connected")
	}
	if _, err := m.StartConversation(context.Background(), "x", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected starting a conversation, got %v", err)
	}
}

func TestStartConversationRequiresAllHandlers(t *testing.T) {
	settings, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}
	// Vector handler missing on purpose.
	m, err := New(context.Background(),
		WithSettings(settings),
		WithLLM(&fakeLLM{}),
		WithStore(newFakeStore()),
	)
	if err != nil {
		t.Fatalf("Failed to build manager: %v", err)
	}
	if _, err := m.StartConversation(context.Background(), "x", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}
}

func TestSendPromptPersistsExchange(t *testing.T) {
	m, fl, fv, fs := newTestManager(t)
	ctx := context.Background()

	conv, err := m.StartConversation(ctx, "tides", nil)
	if err != nil {
		t.Fatalf("Failed to start conversation: %v", err)
	}
	if !strings.HasPrefix(conv.ID(), "conv_") {
		t.Fatalf("Expected conversation ID prefix, got %q", conv.ID())
	}

	fl.reply = "Mostly the moon."
	resp, err := conv.SendPrompt(ctx, "What causes tides?")
	if err != nil {
		t.Fatalf("Failed to send prompt: %v", err)
	}
	if resp != "Mostly the moon." {
		t.Fatalf("Expected the LLM reply, got %q", resp)
	}

	last, err := conv.LastResponse()
	if err != nil {
		t.Fatalf("Failed to read last response: %v", err)
	}
	if last != resp {
		t.Fatalf("Expected LastResponse %q, got %q", resp, last)
	}

	// Persistent store holds the conversation with one message.
	recs, err := fs.Records(ctx, store.Filter{ConversationID: conv.ID()})
	if err != nil {
		t.Fatalf("Failed to read store: %v", err)
	}
	if len(recs) != 1 || len(recs[0].Messages) != 1 {
		t.Fatalf("Expected one stored conversation with one message, got %+v", recs)
	}
	msg := recs[0].Messages[0]
	if !strings.HasPrefix(msg.ID, "msg_") {
		t.Fatalf("Expected message ID prefix, got %q", msg.ID)
	}
	if msg.Prompt != "What causes tides?" || msg.Response != "Mostly the moon." {
		t.Fatalf("Expected prompt and response to be stored, got %+v", msg)
	}
	if msg.Metadata["model"] != "fake-1" {
		t.Fatalf("Expected model metadata on the message, got %v", msg.Metadata)
	}

	// Vector store holds the exchange as a document.
	if len(fv.saved) != 1 {
		t.Fatalf("Expected one indexed record, got %d", len(fv.saved))
	}
	if fv.saved[0].Prompt != "What causes tides?" {
		t.Fatalf("Expected the prompt to be indexed, got %+v", fv.saved[0])
	}
}

func TestConnectSwapsHandlerDuringConversation(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	// Embedding endpoint for the memory vector store swapped in below.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}

	conv, err := m.StartConversation(ctx, "swap", nil)
	if err != nil {
		t.Fatalf("Failed to start conversation: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 25; i++ {
			if _, err := conv.SendPrompt(ctx, fmt.Sprintf("prompt %d", i)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	params := map[string]string{
		"embedder":      "ollama",
		"embedder_host": u.Hostname(),
		"embedder_port": u.Port(),
	}
	for i := 0; i < 10; i++ {
		if err := m.Connect(ctx, RoleVector, "memory", params); err != nil {
			t.Fatalf("Failed to reconnect vector handler: %v", err)
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("Failed to send prompt while reconnecting: %v", err)
	}
	if got := len(conv.History()); got != 25 {
		t.Fatalf("Expected 25 exchanges, got %d", got)
	}
}

func TestSendPromptRejectsEmpty(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	conv, err := m.StartConversation(context.Background(), "x", nil)
	if err != nil {
		t.Fatalf("Failed to start conversation: %v", err)
	}
	if _, err := conv.SendPrompt(context.Background(), ""); err == nil {
		t.Fatalf("Expected error sending an empty prompt, got none")
	}
}

func TestRAGModes(t *testing.T) {
	m, fl, fv, _ := newTestManager(t)
	ctx := context.Background()

	conv, err := m.StartConversation(ctx, "rag", nil)
	if err != nil {
		t.Fatalf("Failed to start conversation: %v", err)
	}

	t.Run("NoneSendsNoContext", func(t *testing.T) {
		if _, err := conv.SendPrompt(ctx, "hello"); err != nil {
			t.Fatalf("Failed to send prompt: %v", err)
		}
		if len(fl.lastReq.Context) != 0 {
			t.Fatalf("Expected no context documents, got %v", fl.lastReq.Context)
		}
	})

	t.Run("PersistentUsesSavedData", func(t *testing.T) {
		if err := m.SetRAGData(map[string]string{"a": "fact A", "b": "fact B"}, false); err != nil {
			t.Fatalf("Failed to set RAG data: %v", err)
		}
		if _, err := conv.SendPrompt(ctx, "hello"); err != nil {
			t.Fatalf("Failed to send prompt: %v", err)
		}
		if len(fl.lastReq.Context) != 2 || fl.lastReq.Context[0] != "fact A" {
			t.Fatalf("Expected persistent data in key order, got %v", fl.lastReq.Context)
		}
	})

	t.Run("VolatileOverridesWithoutPersisting", func(t *testing.T) {
		if err := m.SetRAGData(map[string]string{"v": "volatile fact"}, true); err != nil {
			t.Fatalf("Failed to set volatile RAG data: %v", err)
		}
		if _, err := conv.SendPrompt(ctx, "hello"); err != nil {
			t.Fatalf("Failed to send prompt: %v", err)
		}
		if len(fl.lastReq.Context) != 1 || fl.lastReq.Context[0] != "volatile fact" {
			t.Fatalf("Expected volatile data, got %v", fl.lastReq.Context)
		}

		raw, err := os.ReadFile(m.Settings().Path())
		if err != nil {
			t.Fatalf("Failed to read settings file: %v", err)
		}
		if strings.Contains(string(raw), "volatile fact") {
			t.Fatalf("Volatile data leaked into the settings file")
		}
	})

	t.Run("DynamicSearchesVectorStore", func(t *testing.T) {
		fv.results = []string{"retrieved one", "retrieved two"}
		// Switching modes drops the volatile session override.
		if err := m.SetRAGMode(RAGDynamic); err != nil {
			t.Fatalf("Failed to set dynamic mode: %v", err)
		}
		if _, err := conv.SendPrompt(ctx, "hello"); err != nil {
			t.Fatalf("Failed to send prompt: %v", err)
		}
		if len(fl.lastReq.Context) != 2 || fl.lastReq.Context[0] != "retrieved one" {
			t.Fatalf("Expected retrieved documents, got %v", fl.lastReq.Context)
		}
	})

	t.Run("DeleteFallsBackToNone", func(t *testing.T) {
		if err := m.DeleteRAGData(); err != nil {
			t.Fatalf("Failed to delete RAG data: %v", err)
		}
		mode, err := m.RAGMode()
		if err != nil {
			t.Fatalf("Failed to read RAG mode: %v", err)
		}
		if mode != RAGNone {
			t.Fatalf("Expected mode none after delete, got %v", mode)
		}
	})
}

func TestSetRAGModeRequiresData(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if err := m.SetRAGMode(RAGPersistent); !errors.Is(err, ErrNoRAGData) {
		t.Fatalf("Expected ErrNoRAGData for persistent mode without data, got %v", err)
	}
	if err := m.SetRAGMode(RAGVolatile); !errors.Is(err, ErrNoRAGData) {
		t.Fatalf("Expected ErrNoRAGData for volatile mode without data, got %v", err)
	}
	if err := m.SetRAGData(nil, false); !errors.Is(err, ErrNoRAGData) {
		t.Fatalf("Expected ErrNoRAGData setting empty data, got %v", err)
	}
}

func TestChangeComment(t *testing.T) {
	m, _, _, fs := newTestManager(t)
	ctx := context.Background()

	conv, err := m.StartConversation(ctx, "comments", nil)
	if err != nil {
		t.Fatalf("Failed to start conversation: %v", err)
	}
	if _, err := conv.SendPrompt(ctx, "first"); err != nil {
		t.Fatalf("Failed to send prompt: %v", err)
	}

	if err := conv.ChangeComment(ctx, "", "helpful"); err != nil {
		t.Fatalf("Failed to change comment: %v", err)
	}

	recs, _ := fs.Records(ctx, store.Filter{ConversationID: conv.ID()})
	if recs[0].Messages[0].Comment != "helpful" {
		t.Fatalf("Expected comment to be persisted, got %q", recs[0].Messages[0].Comment)
	}

	if err := conv.ChangeComment(ctx, "msg_missing", "x"); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("Expected ErrNoMessage for unknown message, got %v", err)
	}
}

func TestMetadata(t *testing.T) {
	m, _, _, fs := newTestManager(t)
	ctx := context.Background()

	conv, err := m.StartConversation(ctx, "meta", map[string]any{"origin": "unit"})
	if err != nil {
		t.Fatalf("Failed to start conversation: %v", err)
	}
	if _, err := conv.SendPrompt(ctx, "prompt"); err != nil {
		t.Fatalf("Failed to send prompt: %v", err)
	}
	msgID := conv.History()[0].ID

	if err := conv.AddMetadata(ctx, "", "experiment", "e-42"); err != nil {
		t.Fatalf("Failed to add conversation metadata: %v", err)
	}
	if err := conv.AddMetadata(ctx, msgID, "rating", 5); err != nil {
		t.Fatalf("Failed to add message metadata: %v", err)
	}

	recs, _ := fs.Records(ctx, store.Filter{ConversationID: conv.ID()})
	if recs[0].Metadata["experiment"] != "e-42" {
		t.Fatalf("Expected conversation metadata to be persisted, got %v", recs[0].Metadata)
	}
	if recs[0].Metadata["origin"] != "unit" {
		t.Fatalf("Expected initial metadata to be persisted, got %v", recs[0].Metadata)
	}
	if recs[0].Messages[0].Metadata["rating"] != 5 {
		t.Fatalf("Expected message metadata to be persisted, got %v", recs[0].Messages[0].Metadata)
	}

	if err := conv.AddMetadata(ctx, "msg_missing", "k", "v"); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("Expected ErrNoMessage for unknown message, got %v", err)
	}
	if err := conv.RemoveMetadata(ctx, msgID, "model"); err == nil {
		t.Fatalf("Expected protected key to be refused, got none")
	}
	if err := conv.RemoveMetadata(ctx, msgID, "rating"); err != nil {
		t.Fatalf("Failed to remove message metadata: %v", err)
	}
}

func TestHistoryContext(t *testing.T) {
	m, fl, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.Settings().Set(config.KeySendHistory, true); err != nil {
		t.Fatalf("Failed to enable history: %v", err)
	}

	conv, err := m.StartConversation(ctx, "history", nil)
	if err != nil {
		t.Fatalf("Failed to start conversation: %v", err)
	}
	if _, err := conv.SendPrompt(ctx, "first question"); err != nil {
		t.Fatalf("Failed to send prompt: %v", err)
	}
	if _, err := conv.SendPrompt(ctx, "second question"); err != nil {
		t.Fatalf("Failed to send prompt: %v", err)
	}

	found := false
	for _, doc := range fl.lastReq.Context {
		if strings.Contains(doc, "first question") {
			found = true
		}
	}
	if !found {
		t.Fatalf("Expected the previous exchange in the context, got %v", fl.lastReq.Context)
	}
}

func TestExportData(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	conv, err := m.StartConversation(ctx, "export", nil)
	if err != nil {
		t.Fatalf("Failed to start conversation: %v", err)
	}
	if _, err := conv.SendPrompt(ctx, "to be exported"); err != nil {
		t.Fatalf("Failed to send prompt: %v", err)
	}

	dir := t.TempDir()
	path, err := m.ExportData(ctx, dir, store.Filter{})
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "interact_export_") {
		t.Fatalf("Expected export filename prefix, got %q", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read export file: %v", err)
	}
	var convs []store.Conversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		t.Fatalf("Export file is not valid JSON: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != conv.ID() {
		t.Fatalf("Expected the conversation in the export, got %+v", convs)
	}
	if len(convs[0].Messages) != 1 || convs[0].Messages[0].Prompt != "to be exported" {
		t.Fatalf("Expected the message in the export, got %+v", convs[0].Messages)
	}
}

func TestAddPersistentData(t *testing.T) {
	m, _, _, fs := newTestManager(t)
	ctx := context.Background()

	conv := store.Conversation{ID: "conv_ext", Name: "imported"}
	msgs := []store.Message{{ID: "msg_ext", ConversationID: "conv_ext", Prompt: "p", Response: "r"}}
	if err := m.AddPersistentData(ctx, conv, msgs); err != nil {
		t.Fatalf("Failed to add persistent data: %v", err)
	}

	recs, _ := fs.Records(ctx, store.Filter{ConversationID: "conv_ext"})
	if len(recs) != 1 || len(recs[0].Messages) != 1 {
		t.Fatalf("Expected the external record to be stored, got %+v", recs)
	}
}

func TestSettingsReadWrite(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	if err := m.WriteSetting(config.KeyDefaultSystemPrompt, "be brief"); err != nil {
		t.Fatalf("Failed to write setting: %v", err)
	}
	got, err := m.ReadSetting(config.KeyDefaultSystemPrompt)
	if err != nil {
		t.Fatalf("Failed to read setting: %v", err)
	}
	if got != "be brief" {
		t.Fatalf("Expected setting round-trip, got %v", got)
	}
	if _, err := m.ReadSetting("bogus"); err == nil {
		t.Fatalf("Expected error reading unknown setting, got none")
	}
}

func TestParseRAGMode(t *testing.T) {
	cases := map[string]RAGMode{
		"":           RAGNone,
		"none":       RAGNone,
		"persistent": RAGPersistent,
		"volatile":   RAGVolatile,
		"dynamic":    RAGDynamic,
	}
	for in, want := range cases {
		got, err := ParseRAGMode(in)
		if err != nil {
			t.Fatalf("Failed to parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("Expected %v for %q, got %v", want, in, got)
		}
	}
	if _, err := ParseRAGMode("telepathic"); err == nil {
		t.Fatalf("Expected error for unknown mode, got none")
	}
}

func TestDefaultAPI(t *testing.T) {
	defaultMu.Lock()
	defaultMgr = nil
	defaultMu.Unlock()

	if _, err := StartConversation(context.Background(), "x", nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Expected ErrNotInitialized before Initialize, got %v", err)
	}
	if _, err := SendPrompt(context.Background(), "x"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Expected ErrNotInitialized before Initialize, got %v", err)
	}

	settings, err := config.Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}
	fl := &fakeLLM{reply: "global reply"}
	err = Initialize(context.Background(),
		WithSettings(settings),
		WithLLM(fl),
		WithVector(&fakeVector{}),
		WithStore(newFakeStore()),
	)
	if err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	if _, err := SendPrompt(context.Background(), "x"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("Expected ErrNoConversation before starting one, got %v", err)
	}

	if _, err := StartConversation(context.Background(), "global", nil); err != nil {
		t.Fatalf("Failed to start conversation: %v", err)
	}
	resp, err := SendPrompt(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Failed to send prompt: %v", err)
	}
	if resp != "global reply" {
		t.Fatalf("Expected the global manager to answer, got %q", resp)
	}
	last, err := LastResponse()
	if err != nil {
		t.Fatalf("Failed to read last response: %v", err)
	}
	if last != "global reply" {
		t.Fatalf("Expected LastResponse %q, got %q", "global reply", last)
	}
}
