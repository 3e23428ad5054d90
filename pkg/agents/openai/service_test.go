package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/parley/pkg/agents"
	"github.com/rhuss/parley/pkg/api"
)

// fakeAssistants serves the subset of the Assistants API the service uses.
type fakeAssistants struct {
	mu        sync.Mutex
	submitted []map[string]any
	queries   map[string]string
}

func (f *fakeAssistants) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}

	mux.HandleFunc("POST /v1/threads", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))
		write(w, `{"id":"thread_1","object":"thread","created_at":1,"metadata":{}}`)
	})
	mux.HandleFunc("POST /v1/threads/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "user", body["role"])
		assert.Equal(t, "hello", body["content"])
		write(w, `{"id":"msg_u1","object":"thread.message","role":"user","thread_id":"`+r.PathValue("thread")+`","content":[]}`)
	})
	mux.HandleFunc("POST /v1/threads/{thread}/runs", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "asst_A", body["assistant_id"])
		write(w, `{"id":"run_1","object":"thread.run","status":"queued","thread_id":"thread_1","assistant_id":"asst_A","created_at":10}`)
	})
	mux.HandleFunc("GET /v1/threads/{thread}/runs/{run}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("run") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			write(w, `{"error":{"message":"No run found","type":"invalid_request_error","code":null,"param":null}}`)
			return
		}
		write(w, `{"id":"run_1","object":"thread.run","status":"requires_action","thread_id":"thread_1","assistant_id":"asst_A",
			"required_action":{"type":"submit_tool_outputs","submit_tool_outputs":{"tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"query\":\"x\"}"}}
			]}}}`)
	})
	mux.HandleFunc("GET /v1/threads/{thread}/runs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.queries = map[string]string{"limit": r.URL.Query().Get("limit"), "order": r.URL.Query().Get("order")}
		f.mu.Unlock()
		write(w, `{"object":"list","has_more":false,"data":[
			{"id":"run_2","status":"in_progress","thread_id":"thread_1"},
			{"id":"run_1","status":"completed","thread_id":"thread_1"}]}`)
	})
	mux.HandleFunc("POST /v1/threads/{thread}/runs/{run}/submit_tool_outputs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ToolOutputs []map[string]any `json:"tool_outputs"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.submitted = append(f.submitted, body.ToolOutputs...)
		f.mu.Unlock()
		write(w, `{"id":"run_1","object":"thread.run","status":"queued","thread_id":"thread_1"}`)
	})
	mux.HandleFunc("GET /v1/threads/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		assert.Equal(t, "30", r.URL.Query().Get("limit"))
		write(w, `{"object":"list","has_more":false,"data":[
			{"id":"msg_2","role":"assistant","assistant_id":"asst_A","thread_id":"thread_1","run_id":"run_1","created_at":20,
			 "content":[
				{"type":"text","text":{"value":"Answer【0】","annotations":[
					{"type":"file_citation","text":"【0】","start_index":6,"end_index":9,"file_citation":{"file_id":"file_1"}}]}},
				{"type":"image_file","image_file":{"file_id":"file_img"}}]},
			{"id":"msg_1","role":"user","thread_id":"thread_1","created_at":19,"content":[{"type":"text","text":{"value":"hello","annotations":[]}}]}
		]}`)
	})
	mux.HandleFunc("GET /v1/assistants", func(w http.ResponseWriter, r *http.Request) {
		write(w, `{"object":"list","has_more":false,"data":[
			{"id":"asst_A","object":"assistant","name":"Research"},
			{"id":"asst_B","object":"assistant","name":"Writer"}]}`)
	})
	return mux
}

func newTestService(t *testing.T) (*Service, *fakeAssistants) {
	t.Helper()
	fake := &fakeAssistants{}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	svc, err := New(Options{BaseURL: server.URL + "/v1", APIKey: "k"})
	require.NoError(t, err)
	return svc, fake
}

func TestService_SessionAndRun(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sid, err := svc.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thread_1", sid)

	mid, err := svc.SendMessage(ctx, sid, "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg_u1", mid)

	run, err := svc.StartRun(ctx, "asst_A", sid)
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.ID)
	assert.Equal(t, api.RunStatusQueued, run.Status)
	assert.Equal(t, int64(10), run.CreatedAt)
}

func TestService_GetRunRequiresAction(t *testing.T) {
	svc, _ := newTestService(t)

	run, err := svc.GetRun(context.Background(), "thread_1", "run_1")
	require.NoError(t, err)
	assert.True(t, run.Status.NeedsAction())
	require.Len(t, run.ToolCalls, 1)
	assert.Equal(t, "call_1", run.ToolCalls[0].ID)
	assert.Equal(t, api.ToolTypeFunction, run.ToolCalls[0].Type)
	assert.Equal(t, "search", run.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"query":"x"}`, run.ToolCalls[0].Function.Arguments)
}

func TestService_GetRunNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetRun(context.Background(), "thread_1", "missing")
	require.Error(t, err)
	assert.True(t, api.IsType(err, api.ErrorTypeNotFound), "got %v", err)
}

func TestService_ListRuns(t *testing.T) {
	svc, fake := newTestService(t)

	runs, err := svc.ListRuns(context.Background(), "thread_1", 50)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].Status.IsBusy())
	assert.Equal(t, map[string]string{"limit": "50", "order": "desc"}, fake.queries)
}

func TestService_SubmitToolOutputs(t *testing.T) {
	svc, fake := newTestService(t)

	err := svc.SubmitToolOutputs(context.Background(), "thread_1", "run_1", []agents.ToolOutput{
		{CallID: "call_1", Output: "3 results"},
	})
	require.NoError(t, err)
	require.Len(t, fake.submitted, 1)
	assert.Equal(t, "call_1", fake.submitted[0]["tool_call_id"])
	assert.Equal(t, "3 results", fake.submitted[0]["output"])
}

func TestService_ListMessages(t *testing.T) {
	svc, _ := newTestService(t)

	msgs, err := svc.ListMessages(context.Background(), "thread_1", agents.MessageFilter{
		Role:       api.RoleAssistant,
		Limit:      30,
		Descending: true,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1, "user messages are filtered out")

	m := msgs[0]
	assert.Equal(t, "run_1", m.RunID)
	assert.Equal(t, int64(20), m.CreatedAt)
	require.Len(t, m.Parts, 2)
	assert.Equal(t, "Answer【0】", m.Parts[0].Text)
	require.Len(t, m.Parts[0].Annotations, 1)
	assert.Equal(t, "file_1", m.Parts[0].Annotations[0].FileID)
	assert.Equal(t, 6, m.Parts[0].Annotations[0].StartIndex)
	assert.Equal(t, "file_img", m.Parts[1].FileID)

	resp := agents.ToChatResponse(m)
	assert.Equal(t, "Answer【0】", resp.Message)
	assert.Equal(t, []string{"file_img"}, resp.Metadata[agents.MetadataImages])
}

func TestService_ListAgents(t *testing.T) {
	svc, _ := newTestService(t)

	list, err := svc.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []agents.Agent{{ID: "asst_A", Name: "Research"}, {ID: "asst_B", Name: "Writer"}}, list)
}

func TestService_Azure(t *testing.T) {
	var gotPath, gotVersion, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.URL.Query().Get("api-version")
		gotKey = r.Header.Get("api-key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"thread_az","object":"thread"}`))
	}))
	defer server.Close()

	svc, err := New(Options{BaseURL: server.URL, APIKey: "azkey", Azure: true, APIVersion: "2024-02-15-preview"})
	require.NoError(t, err)

	id, err := svc.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_az", id)
	assert.Equal(t, "/openai/threads", gotPath)
	assert.Equal(t, "2024-02-15-preview", gotVersion)
	assert.Equal(t, "azkey", gotKey)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, api.IsConfiguration(err))

	_, err = New(Options{BaseURL: "http://x", Azure: true})
	assert.True(t, api.IsConfiguration(err))
}
