package runs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/parley/pkg/agents"
	"github.com/rhuss/parley/pkg/agents/agentstest"
	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/tools"
	"github.com/rhuss/parley/pkg/tools/registry"
)

func fastOptions() Options {
	return Options{
		PollInterval:   5 * time.Millisecond,
		IdleInterval:   5 * time.Millisecond,
		Workers:        4,
		EpisodeTimeout: time.Second,
	}
}

func newDispatcher(fns ...tools.Function) *tools.Dispatcher {
	reg := registry.New()
	reg.RegisterFunctions("test", fns...)
	return tools.NewDispatcher(reg, nil)
}

func echoFunction(name string, calls *atomic.Int32, gate <-chan struct{}) tools.Function {
	return tools.NewFunction(tools.FunctionSpec{
		Name:        name,
		Description: "echoes the query",
		Params:      []tools.Param{{Name: "query", Type: "string", Required: true}},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		if calls != nil {
			calls.Add(1)
		}
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return "echo:" + tools.String(args, "query", ""), nil
	})
}

// askOnce makes a run require one tool call on its first poll and
// complete once the outputs were submitted.
func askOnce(calls ...api.ToolCallRequest) func(*agents.Run, int) {
	asked := false
	return func(run *agents.Run, _ int) {
		if asked {
			run.Status = api.RunStatusCompleted
			return
		}
		asked = true
		run.Status = api.RunStatusRequiresAction
		run.ToolCalls = calls
	}
}

func startRun(t *testing.T, fake *agentstest.Fake, agentID string) (string, string) {
	t.Helper()
	ctx := context.Background()
	sessionID, err := fake.CreateSession(ctx)
	require.NoError(t, err)
	_, err = fake.SendMessage(ctx, sessionID, "hello")
	require.NoError(t, err)
	run, err := fake.StartRun(ctx, agentID, sessionID)
	require.NoError(t, err)
	return sessionID, run.ID
}

func TestAwaitCompletion_Completed(t *testing.T) {
	fake := agentstest.New()
	fake.Step = func(run *agents.Run, polls int) {
		if polls < 3 {
			run.Status = api.RunStatusInProgress
			return
		}
		run.Status = api.RunStatusCompleted
	}
	sessionID, runID := startRun(t, fake, "asst_1")

	s := New(fake, newDispatcher(), fastOptions())
	status, err := s.AwaitCompletion(context.Background(), sessionID, runID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, api.RunStatusCompleted, status)
	assert.Equal(t, 3, fake.Calls("GetRun"))
}

func TestAwaitCompletion_FailedIsTerminal(t *testing.T) {
	fake := agentstest.New()
	fake.Step = func(run *agents.Run, _ int) {
		run.Status = api.RunStatusFailed
		run.LastError = "rate limited"
	}
	sessionID, runID := startRun(t, fake, "asst_1")

	s := New(fake, newDispatcher(), fastOptions())
	status, err := s.AwaitCompletion(context.Background(), sessionID, runID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, api.RunStatusFailed, status)
}

func TestAwaitCompletion_Timeout(t *testing.T) {
	fake := agentstest.New()
	fake.Step = func(run *agents.Run, _ int) { run.Status = api.RunStatusInProgress }
	sessionID, runID := startRun(t, fake, "asst_1")

	s := New(fake, newDispatcher(), fastOptions())
	_, err := s.AwaitCompletion(context.Background(), sessionID, runID, 30*time.Millisecond)
	require.Error(t, err)
	assert.True(t, api.IsTimeout(err), "expected timeout, got %v", err)
}

func TestAwaitCompletion_UnknownRun(t *testing.T) {
	fake := agentstest.New()
	sessionID, _ := startRun(t, fake, "asst_1")

	s := New(fake, newDispatcher(), fastOptions())
	_, err := s.AwaitCompletion(context.Background(), sessionID, "run_missing", time.Second)
	require.Error(t, err)
	assert.True(t, api.IsType(err, api.ErrorTypeNotFound))
}

func TestAwaitCompletion_SubmitsToolOutputs(t *testing.T) {
	fake := agentstest.New()
	fake.Step = askOnce(
		api.ToolCallRequest{ID: "call_1", Type: "function", Function: api.FunctionCall{Name: "echo", Arguments: `{"query":"a"}`}},
		api.ToolCallRequest{ID: "call_2", Type: "function", Function: api.FunctionCall{Name: "echo", Arguments: `{"query":"b"}`}},
		api.ToolCallRequest{ID: "call_3", Type: "code_interpreter"},
	)
	sessionID, runID := startRun(t, fake, "asst_1")

	var calls atomic.Int32
	s := New(fake, newDispatcher(echoFunction("echo", &calls, nil)), fastOptions())
	status, err := s.AwaitCompletion(context.Background(), sessionID, runID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, api.RunStatusCompleted, status)

	s.Wait()
	submitted := fake.Submitted(runID)
	require.Len(t, submitted, 1)
	assert.Equal(t, []agents.ToolOutput{
		{CallID: "call_1", Output: "echo:a"},
		{CallID: "call_2", Output: "echo:b"},
	}, submitted[0])
	assert.Equal(t, int32(2), calls.Load())
	assert.Zero(t, s.Active())
}

func TestAwaitCompletion_ConcurrentRequiresActionSubmitsOnce(t *testing.T) {
	fake := agentstest.New()
	fake.Step = askOnce(api.ToolCallRequest{
		ID: "call_1", Type: "function",
		Function: api.FunctionCall{Name: "echo", Arguments: `{"query":"x"}`},
	})
	sessionID, runID := startRun(t, fake, "asst_1")

	gate := make(chan struct{})
	var calls atomic.Int32
	s := New(fake, newDispatcher(echoFunction("echo", &calls, gate)), fastOptions())

	var wg sync.WaitGroup
	statuses := make([]api.RunStatus, 3)
	errs := make([]error, 3)
	for i := range statuses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i], errs[i] = s.AwaitCompletion(context.Background(), sessionID, runID, 2*time.Second)
		}()
	}

	// Let every waiter observe requires_action while the episode is blocked.
	require.Eventually(t, func() bool { return fake.Calls("GetRun") >= 6 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, s.Active())
	close(gate)
	wg.Wait()
	s.Wait()

	for i := range statuses {
		require.NoError(t, errs[i])
		assert.Equal(t, api.RunStatusCompleted, statuses[i])
	}
	assert.Len(t, fake.Submitted(runID), 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEpisode_OutlivesCaller(t *testing.T) {
	fake := agentstest.New()
	fake.Step = askOnce(api.ToolCallRequest{
		ID: "call_1", Type: "function",
		Function: api.FunctionCall{Name: "echo", Arguments: `{"query":"late"}`},
	})
	sessionID, runID := startRun(t, fake, "asst_1")

	gate := make(chan struct{})
	s := New(fake, newDispatcher(echoFunction("echo", nil, gate)), fastOptions())

	_, err := s.AwaitCompletion(context.Background(), sessionID, runID, 20*time.Millisecond)
	require.True(t, api.IsTimeout(err))

	close(gate)
	s.Wait()
	require.Len(t, fake.Submitted(runID), 1)
	assert.Equal(t, "echo:late", fake.Submitted(runID)[0][0].Output)
}

func TestEpisode_UnknownToolFails(t *testing.T) {
	fake := agentstest.New()
	sessionID, runID := startRun(t, fake, "asst_1")
	run, err := fake.GetRun(context.Background(), sessionID, runID)
	require.NoError(t, err)

	s := New(fake, newDispatcher(), fastOptions())
	run.ToolCalls = []api.ToolCallRequest{{ID: "call_1", Type: "function", Function: api.FunctionCall{Name: "nope", Arguments: "{}"}}}
	task := s.handleRequiredAction(context.Background(), sessionID, run)
	require.NotNil(t, task)

	err = task.Err()
	require.Error(t, err)
	assert.True(t, api.IsDispatch(err))
	assert.Empty(t, fake.Submitted(runID))
	s.Wait()
	assert.False(t, s.guard.Held(runID))
}

func TestEpisode_UnsupportedToolTypeFails(t *testing.T) {
	fake := agentstest.New()
	sessionID, runID := startRun(t, fake, "asst_1")
	run, err := fake.GetRun(context.Background(), sessionID, runID)
	require.NoError(t, err)

	var calls atomic.Int32
	s := New(fake, newDispatcher(echoFunction("echo", &calls, nil)), fastOptions())
	run.ToolCalls = []api.ToolCallRequest{
		{ID: "call_1", Type: api.ToolTypeFunction, Function: api.FunctionCall{Name: "echo", Arguments: `{"query":"x"}`}},
		{ID: "call_2", Type: "code_interpreter"},
	}
	task := s.handleRequiredAction(context.Background(), sessionID, run)
	require.NotNil(t, task)

	err = task.Err()
	require.Error(t, err)
	assert.True(t, api.IsDispatch(err), "expected dispatch error, got %v", err)
	assert.Empty(t, fake.Submitted(runID))
	assert.Equal(t, int32(0), calls.Load())
	s.Wait()
	assert.False(t, s.guard.Held(runID))
}

func TestTimedWaits_NoBudgetLeft(t *testing.T) {
	fake := agentstest.New()
	fake.Step = func(run *agents.Run, _ int) { run.Status = api.RunStatusInProgress }
	sessionID, runID := startRun(t, fake, "asst_1")
	polls := fake.Calls("GetRun")

	s := New(fake, newDispatcher(), fastOptions())
	for _, timeout := range []time.Duration{0, -time.Millisecond} {
		_, err := s.AwaitCompletion(context.Background(), sessionID, runID, timeout)
		assert.True(t, api.IsTimeout(err), "AwaitCompletion(%s) = %v", timeout, err)

		err = s.WaitUntilIdle(context.Background(), sessionID, timeout)
		assert.True(t, api.IsTimeout(err), "WaitUntilIdle(%s) = %v", timeout, err)
	}
	assert.Equal(t, polls, fake.Calls("GetRun"))
}

func TestCollect_SecondResolution(t *testing.T) {
	fake := agentstest.New()
	sessionID, err := fake.CreateSession(context.Background())
	require.NoError(t, err)

	since := time.Unix(1_700_000_010, 600_000_000)
	add := func(id string, created int64) {
		fake.AddMessage(api.AgentMessage{
			ID: id, SessionID: sessionID, Role: api.RoleAssistant, CreatedAt: created,
			Parts: []api.ContentPart{{Type: agents.PartText, Text: id}},
		})
	}
	add("msg_before", 1_700_000_009)
	add("msg_same_second", 1_700_000_010)
	add("msg_after", 1_700_000_011)
	add("msg_undated", 0)

	s := New(fake, newDispatcher(), fastOptions())
	msgs, err := s.Collect(context.Background(), sessionID, "run_1", since)
	require.NoError(t, err)

	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"msg_undated", "msg_after", "msg_same_second"}, ids)
}

func TestWaitUntilIdle(t *testing.T) {
	fake := agentstest.New()
	sessionID, err := fake.CreateSession(context.Background())
	require.NoError(t, err)
	fake.AddRun(agents.Run{ID: "run_busy", SessionID: sessionID, Status: api.RunStatusInProgress})

	s := New(fake, newDispatcher(), fastOptions())

	go func() {
		time.Sleep(20 * time.Millisecond)
		fake.SetStatus("run_busy", api.RunStatusCompleted)
	}()
	require.NoError(t, s.WaitUntilIdle(context.Background(), sessionID, time.Second))
	assert.GreaterOrEqual(t, fake.Calls("ListRuns"), 2)
}

func TestWaitUntilIdle_Timeout(t *testing.T) {
	fake := agentstest.New()
	sessionID, err := fake.CreateSession(context.Background())
	require.NoError(t, err)
	fake.AddRun(agents.Run{ID: "run_busy", SessionID: sessionID, Status: api.RunStatusQueued})

	s := New(fake, newDispatcher(), fastOptions())
	err = s.WaitUntilIdle(context.Background(), sessionID, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, api.IsTimeout(err))
}

func TestSendAndCollect(t *testing.T) {
	fake := agentstest.New()
	fake.Reply = func(run *agents.Run) string { return "answer for " + run.SessionID }
	sessionID, err := fake.CreateSession(context.Background())
	require.NoError(t, err)

	// A reply from an earlier run must not be collected.
	fake.AddMessage(api.AgentMessage{
		ID: "msg_old", SessionID: sessionID, RunID: "run_old", Role: api.RoleAssistant,
		CreatedAt: time.Now().Unix(),
		Parts:     []api.ContentPart{{Type: agents.PartText, Text: "old"}},
	})

	s := New(fake, newDispatcher(), fastOptions())
	ctx := context.Background()
	runID, since, err := s.Send(ctx, sessionID, "asst_1", "question", time.Second)
	require.NoError(t, err)

	status, err := s.AwaitCompletion(ctx, sessionID, runID, time.Second)
	require.NoError(t, err)
	require.Equal(t, api.RunStatusCompleted, status)

	msgs, err := s.Collect(ctx, sessionID, runID, since)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, runID, msgs[0].RunID)
	assert.Equal(t, "answer for "+sessionID, msgs[0].Parts[0].Text)
}

func TestGuard(t *testing.T) {
	g := NewGuard()
	assert.True(t, g.TryAcquire("run_1"))
	assert.False(t, g.TryAcquire("run_1"))
	assert.True(t, g.TryAcquire("run_2"))
	g.Release("run_1")
	assert.False(t, g.Held("run_1"))
	assert.True(t, g.TryAcquire("run_1"))
}

func TestWithService_SharesGuardAndEpisodes(t *testing.T) {
	base := New(agentstest.New(), newDispatcher(), fastOptions())
	other := agentstest.New()
	derived := base.WithService(other)

	assert.Same(t, other, derived.Service())
	require.True(t, base.guard.TryAcquire("run_1"))
	assert.False(t, derived.guard.TryAcquire("run_1"))
	base.guard.Release("run_1")

	gate := make(chan struct{})
	derived = New(agentstest.New(), newDispatcher(echoFunction("echo", nil, gate)), fastOptions())
	fake := agentstest.New()
	fake.Step = askOnce(api.ToolCallRequest{
		ID: "call_1", Type: api.ToolTypeFunction,
		Function: api.FunctionCall{Name: "echo", Arguments: `{"query":"x"}`},
	})
	sessionID, runID := startRun(t, fake, "asst_1")
	s := derived.WithService(fake)

	_, err := s.AwaitCompletion(context.Background(), sessionID, runID, 30*time.Millisecond)
	require.True(t, api.IsTimeout(err))
	assert.Equal(t, 1, derived.Active())

	close(gate)
	derived.Wait()
	assert.Equal(t, 0, s.Active())
}
