package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dockhand/dockhand/pkg/cloud"
	"github.com/dockhand/dockhand/pkg/cloud/cloudtest"
	"github.com/dockhand/dockhand/pkg/events"
	"github.com/dockhand/dockhand/pkg/registry"
	"github.com/dockhand/dockhand/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRegistry captures registry writes in memory.
type recordingRegistry struct {
	mu       sync.Mutex
	records  []*registry.Record
	sessions []*types.Session
}

func (r *recordingRegistry) Insert(rec *registry.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingRegistry) SaveHistory(sess *types.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sess)
	return nil
}

func testRequest() *types.DeploymentRequest {
	return &types.DeploymentRequest{
		Region:        "us-east-2",
		AccountID:     "123456789012",
		Repository:    "cpu",
		ImageTag:      "latest",
		InstanceClass: "t3.medium",
		Storage:       types.StorageSpec{SizeGiB: 30},
	}
}

func testOrchestrator(fake *cloudtest.Fake, reg Registry) *Orchestrator {
	return New(Config{
		Compute:        fake,
		Commands:       fake,
		RegistryAuth:   fake,
		Registry:       reg,
		RetryAttempts:  5,
		RetryDelay:     time.Millisecond,
		LaunchTimeout:  200 * time.Millisecond,
		AddressTimeout: 200 * time.Millisecond,
		PollInterval:   time.Millisecond,
	})
}

// drain collects every event from the stream after Run returns.
func drain(s *events.Stream) []*events.Event {
	var out []*events.Event
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}

func TestHappyPathPhaseSequence(t *testing.T) {
	fake := cloudtest.NewFake()
	reg := &recordingRegistry{}
	o := testOrchestrator(fake, reg)
	stream := events.NewStream(128)

	session := o.Run(context.Background(), testRequest(), stream)
	evs := drain(stream)

	require.Equal(t, types.PhaseSucceeded, session.Phase)

	var progress []int
	for _, ev := range evs {
		if ev.Kind == events.KindProgress {
			progress = append(progress, ev.Percent)
		}
	}
	assert.Equal(t, []int{15, 45, 60, 75, 90, 100}, progress)

	last := evs[len(evs)-1]
	require.Equal(t, events.KindComplete, last.Kind)
	assert.NotEmpty(t, last.Instance.InstanceID)
	assert.NotEmpty(t, last.Instance.PublicAddress)

	// Single registry insert with the logical owner.
	require.Len(t, reg.records, 1)
	assert.Equal(t, session.Instance.InstanceID, reg.records[0].InstanceID)
	assert.Equal(t, "dockhand-cpu-t3-medium", reg.records[0].LogicalOwner)
}

func TestOrderingInvariant(t *testing.T) {
	fake := cloudtest.NewFake()
	o := testOrchestrator(fake, nil)
	stream := events.NewStream(128)

	o.Run(context.Background(), testRequest(), stream)
	evs := drain(stream)

	// Progress values never decrease, exactly one terminal event, last.
	prev := 0
	terminals := 0
	for i, ev := range evs {
		if ev.Kind == events.KindProgress {
			assert.GreaterOrEqual(t, ev.Percent, prev)
			prev = ev.Percent
		}
		if ev.Terminal() {
			terminals++
			assert.Equal(t, len(evs)-1, i, "terminal event must be last")
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestNoGPUImageFailsInProvisioning(t *testing.T) {
	fake := cloudtest.NewFake() // default catalog has no GPU images
	o := testOrchestrator(fake, nil)
	stream := events.NewStream(128)

	req := testRequest()
	req.Repository = "gpu"
	req.InstanceClass = "g5.xlarge"

	session := o.Run(context.Background(), req, stream)
	evs := drain(stream)

	require.Equal(t, types.PhaseFailed, session.Phase)
	require.NotNil(t, session.Error)
	assert.Equal(t, types.ErrResourceNotFound, session.Error.Kind)
	assert.Equal(t, types.PhaseProvisioning, session.Error.Phase)

	// The launcher must never have been reached.
	assert.Equal(t, 0, fake.LaunchCount())

	last := evs[len(evs)-1]
	require.Equal(t, events.KindError, last.Kind)
	assert.Equal(t, types.PhaseProvisioning, last.Error.Phase)

	// No Launching checkpoint was emitted.
	for _, ev := range evs {
		if ev.Kind == events.KindProgress {
			assert.Less(t, ev.Percent, 45)
		}
	}
}

func TestBootWindowRetriesThenSucceeds(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.UnreachableRuns = 4 // first 4 of the 5-attempt budget fail
	o := testOrchestrator(fake, nil)
	stream := events.NewStream(128)

	session := o.Run(context.Background(), testRequest(), stream)
	evs := drain(stream)

	require.Equal(t, types.PhaseSucceeded, session.Phase)

	retryNotices := 0
	sawEstablished := false
	for _, ev := range evs {
		if ev.Kind != events.KindLog {
			continue
		}
		if strings.Contains(ev.Message, "retrying") {
			retryNotices++
			assert.False(t, sawEstablished, "retry notices must precede the connectivity success log")
		}
		if strings.Contains(ev.Message, "Management channel established") {
			sawEstablished = true
		}
	}
	assert.Equal(t, 4, retryNotices)
	assert.True(t, sawEstablished)
}

func TestConnectivityBudgetExhausted(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.UnreachableRuns = 1 << 30
	o := testOrchestrator(fake, nil)
	stream := events.NewStream(256)

	session := o.Run(context.Background(), testRequest(), stream)

	require.Equal(t, types.PhaseFailed, session.Phase)
	assert.Equal(t, types.ErrConnectivityTimeout, session.Error.Kind)
	assert.Equal(t, types.PhaseAwaitingConnectivity, session.Error.Phase)

	// The instance descriptor survives the failure: the session reached
	// a successful launch.
	assert.NotNil(t, session.Instance)
}

func TestClientGoneMidRunStillCompletes(t *testing.T) {
	fake := cloudtest.NewFake()
	reg := &recordingRegistry{}
	o := testOrchestrator(fake, reg)

	// Nobody drains the stream until Run has finished: the client is
	// gone right after requesting. The buffered stream absorbs the
	// events and the orchestration proceeds regardless.
	stream := events.NewStream(256)
	session := o.Run(context.Background(), testRequest(), stream)

	require.Equal(t, types.PhaseSucceeded, session.Phase)
	require.Len(t, reg.records, 1, "registry insert must happen even with no consumer")

	evs := drain(stream)
	assert.Equal(t, events.KindComplete, evs[len(evs)-1].Kind)
}

func TestTerminateOnFailurePolicy(t *testing.T) {
	fake := cloudtest.NewFake()
	fake.RunHook = func(_, command string) (*cloud.CommandResult, error) {
		if strings.Contains(command, "docker pull") {
			return &cloud.CommandResult{ExitCode: 1, Stderr: "manifest unknown"}, nil
		}
		return &cloud.CommandResult{ExitCode: 0}, nil
	}

	t.Run("default keeps the instance", func(t *testing.T) {
		o := testOrchestrator(fake, nil)
		stream := events.NewStream(256)
		session := o.Run(context.Background(), testRequest(), stream)

		require.Equal(t, types.PhaseFailed, session.Phase)
		assert.Equal(t, types.ErrImagePullFailed, session.Error.Kind)
		assert.Empty(t, fake.Terminated)
	})

	t.Run("opt-in terminates after launch", func(t *testing.T) {
		fake2 := cloudtest.NewFake()
		fake2.RunHook = fake.RunHook
		o := New(Config{
			Compute:            fake2,
			Commands:           fake2,
			RegistryAuth:       fake2,
			RetryAttempts:      3,
			RetryDelay:         time.Millisecond,
			PollInterval:       time.Millisecond,
			TerminateOnFailure: true,
		})
		stream := events.NewStream(256)
		session := o.Run(context.Background(), testRequest(), stream)

		require.Equal(t, types.PhaseFailed, session.Phase)
		require.NotNil(t, session.Instance)
		assert.Equal(t, []string{session.Instance.InstanceID}, fake2.Terminated)
	})
}

func TestSessionTranscriptMirrorsLogEvents(t *testing.T) {
	fake := cloudtest.NewFake()
	reg := &recordingRegistry{}
	o := testOrchestrator(fake, reg)
	stream := events.NewStream(128)

	session := o.Run(context.Background(), testRequest(), stream)
	evs := drain(stream)

	var logLines []string
	for _, ev := range evs {
		if ev.Kind == events.KindLog {
			logLines = append(logLines, ev.Message)
		}
	}
	assert.Equal(t, logLines, session.Logs)

	// History was saved with the terminal state.
	require.Len(t, reg.sessions, 1)
	assert.Equal(t, types.PhaseSucceeded, reg.sessions[0].Phase)
}
