package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dockhand/dockhand/pkg/bootstrap"
	"github.com/dockhand/dockhand/pkg/cloud"
	"github.com/dockhand/dockhand/pkg/deploy"
	"github.com/dockhand/dockhand/pkg/events"
	"github.com/dockhand/dockhand/pkg/launch"
	"github.com/dockhand/dockhand/pkg/log"
	"github.com/dockhand/dockhand/pkg/metrics"
	"github.com/dockhand/dockhand/pkg/provision"
	"github.com/dockhand/dockhand/pkg/registry"
	"github.com/dockhand/dockhand/pkg/remote"
	"github.com/dockhand/dockhand/pkg/types"
)

// Progress checkpoints emitted at each phase boundary.
var checkpoints = map[types.Phase]int{
	types.PhaseProvisioning:         15,
	types.PhaseLaunching:            45,
	types.PhaseAwaitingConnectivity: 60,
	types.PhaseBootstrapping:        75,
	types.PhaseDeploying:            90,
	types.PhaseSucceeded:            100,
}

// Registry receives the single insert a successful session performs, plus
// finished-session history. Satisfied by registry.Store.
type Registry interface {
	Insert(rec *registry.Record) error
	SaveHistory(session *types.Session) error
}

// Config wires an orchestrator to its cloud APIs and policy knobs.
type Config struct {
	Compute      cloud.Compute
	Commands     cloud.Commands
	RegistryAuth cloud.RegistryAuth

	// Registry is optional; without it successful sessions are not
	// recorded.
	Registry Registry

	// PolicyName is the shared security policy ensured per deployment.
	PolicyName string

	// InstanceProfile grants launched instances their management agent
	// permissions.
	InstanceProfile string

	// Remote executor retry budget.
	RetryAttempts int
	RetryDelay    time.Duration

	// Launcher wait budgets. Zero values keep the launcher defaults.
	LaunchTimeout  time.Duration
	AddressTimeout time.Duration
	PollInterval   time.Duration

	// WorkspacePath overrides the host path mounted into containers.
	WorkspacePath string

	// TerminateOnFailure tears down a successfully launched instance
	// when a later phase fails. Off by default: a partial deployment is
	// left for explicit cleanup so the user can still find it.
	TerminateOnFailure bool
}

// Orchestrator runs deployment sessions. Safe for concurrent use; every
// session gets its own component instances.
type Orchestrator struct {
	cfg Config
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.PolicyName == "" {
		cfg.PolicyName = "dockhand-deploy"
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = remote.DefaultAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = remote.DefaultDelay
	}
	return &Orchestrator{cfg: cfg}
}

// Run executes one deployment session, emitting ordered events on stream
// until exactly one terminal event. The returned session is the final
// state; the stream is closed when Run returns.
//
// ctx unwinds the in-process waits (overall timeout, explicit shutdown).
// It is deliberately NOT tied to the client connection: a disconnected
// client never cancels a running deployment.
func (o *Orchestrator) Run(ctx context.Context, req *types.DeploymentRequest, stream *events.Stream) *types.Session {
	session := &types.Session{
		ID:        uuid.New().String()[:8],
		Request:   req,
		Phase:     types.PhaseQueued,
		StartedAt: time.Now(),
	}
	logger := log.WithSessionID(session.ID)

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	run := &sessionRun{
		o:       o,
		session: session,
		stream:  stream,
		logger:  logger,
	}
	run.buildComponents()

	if err := run.execute(ctx); err != nil {
		run.fail(ctx, err)
	} else {
		run.succeed()
	}

	session.EndedAt = time.Now()
	if o.cfg.Registry != nil {
		if err := o.cfg.Registry.SaveHistory(session); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist session history")
		}
	}
	return session
}

// sessionRun is the per-session execution state: one logical thread of
// control, phases strictly sequential.
type sessionRun struct {
	o       *Orchestrator
	session *types.Session
	stream  *events.Stream
	logger  zerolog.Logger

	phaseTimer *metrics.Timer

	provisioner *provision.Provisioner
	launcher    *launch.Launcher
	executor    *remote.Executor
	installer   *bootstrap.Installer
	deployer    *deploy.Deployer
}

func (r *sessionRun) buildComponents() {
	cfg := r.o.cfg

	r.provisioner = provision.NewProvisioner(cfg.Compute)

	r.launcher = launch.NewLauncher(cfg.Compute)
	if cfg.LaunchTimeout > 0 {
		r.launcher.LaunchTimeout = cfg.LaunchTimeout
	}
	if cfg.AddressTimeout > 0 {
		r.launcher.AddressTimeout = cfg.AddressTimeout
	}
	if cfg.PollInterval > 0 {
		r.launcher.PollInterval = cfg.PollInterval
	}

	r.executor = remote.NewExecutor(cfg.Commands)
	r.executor.Attempts = cfg.RetryAttempts
	r.executor.Delay = cfg.RetryDelay
	r.executor.OnRetry = func(attempt int, err error) {
		metrics.CommandRetriesTotal.Inc()
		r.emitLog("Management channel not ready (attempt %d/%d), retrying", attempt, cfg.RetryAttempts)
	}

	r.installer = bootstrap.NewInstaller(r.executor)
	r.deployer = deploy.NewDeployer(r.executor)
	if cfg.WorkspacePath != "" {
		r.deployer.WorkspacePath = cfg.WorkspacePath
	}
}

// execute walks the phases in order, returning the first failure.
func (r *sessionRun) execute(ctx context.Context) error {
	req := r.session.Request

	// Provisioning
	r.enterPhase(types.PhaseProvisioning)
	r.emitLog("Provisioning deployment resources in %s", req.Region)

	policyID, err := r.provisioner.EnsureSecurityPolicy(ctx, r.o.cfg.PolicyName)
	if err != nil {
		return err
	}
	r.emitLog("Security policy ready: %s", policyID)

	imageID, err := r.provisioner.ResolveMachineImage(ctx, req.InstanceClass, req.MachineImageOverride)
	if err != nil {
		return err
	}
	r.emitLog("Machine image resolved: %s", imageID)
	r.completePhase(types.PhaseProvisioning)

	// Launching
	r.enterPhase(types.PhaseLaunching)
	r.emitLog("Launching %s instance", req.InstanceClass)

	spec := cloud.LaunchSpec{
		ImageID:        imageID,
		InstanceClass:  req.InstanceClass,
		PolicyID:       policyID,
		Name:           req.LogicalName(),
		StorageSizeGiB: req.Storage.SizeGiB,
		StorageClass:   req.Storage.Class,
		InitScript:     req.InitScript,
		Profile:        r.o.cfg.InstanceProfile,
	}
	if req.Placement != nil {
		spec.Zone = req.Placement.Zone
		spec.SubnetID = req.Placement.SubnetID
	}

	descriptor, err := r.launcher.Launch(ctx, spec)
	if err != nil {
		return err
	}
	r.session.Instance = descriptor
	r.emitLog("Instance launched: %s", descriptor.InstanceID)
	r.emitLog("Public address: %s", descriptor.PublicAddress)
	r.completePhase(types.PhaseLaunching)

	// AwaitingConnectivity
	r.enterPhase(types.PhaseAwaitingConnectivity)
	r.emitLog("Waiting for management channel")
	if _, err := r.executor.Run(ctx, descriptor.InstanceID, "echo ready"); err != nil {
		return err
	}
	r.emitLog("Management channel established")
	r.completePhase(types.PhaseAwaitingConnectivity)

	// Bootstrapping
	r.enterPhase(types.PhaseBootstrapping)
	r.emitLog("Installing container runtime")
	if err := r.installer.InstallRuntime(ctx, descriptor.InstanceID); err != nil {
		return err
	}
	r.emitLog("Container runtime ready")

	user, token, err := r.o.cfg.RegistryAuth.PullToken(ctx)
	if err != nil {
		return types.NewDeployError(types.ErrRegistryAuthFailed, err, "registry token acquisition failed")
	}
	if err := r.installer.AuthenticateRegistry(ctx, descriptor.InstanceID, req.RegistryEndpoint(), user, token); err != nil {
		return err
	}
	r.emitLog("Registry authentication configured")
	r.completePhase(types.PhaseBootstrapping)

	// Deploying
	r.enterPhase(types.PhaseDeploying)
	r.emitLog("Deploying %s", req.ImageRef())
	if err := r.deployer.Deploy(ctx, descriptor.InstanceID, req.ImageRef(), req.LogicalName(), req.GPURequested()); err != nil {
		return err
	}
	r.emitLog("Container deployment completed")
	r.completePhase(types.PhaseDeploying)

	return nil
}

func (r *sessionRun) succeed() {
	r.session.Phase = types.PhaseSucceeded
	r.emitLog("Deployment completed successfully")
	r.setProgress(checkpoints[types.PhaseSucceeded])

	if reg := r.o.cfg.Registry; reg != nil {
		err := reg.Insert(&registry.Record{
			InstanceID:   r.session.Instance.InstanceID,
			Descriptor:   r.session.Instance,
			LogicalOwner: r.session.Request.LogicalName(),
		})
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to record instance in registry")
		}
	}

	if err := r.stream.Complete(r.session.Instance); err != nil {
		r.logger.Warn().Err(err).Msg("Terminal event emission failed")
	}
	metrics.DeploymentsTotal.WithLabelValues("success").Inc()
	r.logger.Info().Str("instance_id", r.session.Instance.InstanceID).Msg("Session succeeded")
}

func (r *sessionRun) fail(ctx context.Context, err error) {
	derr := types.AsDeployError(err)
	derr.Phase = r.session.Phase

	r.session.Phase = types.PhaseFailed
	r.session.Error = derr

	if emitErr := r.stream.Error(derr); emitErr != nil {
		r.logger.Warn().Err(emitErr).Msg("Terminal event emission failed")
	}
	metrics.DeploymentsTotal.WithLabelValues("failure").Inc()
	r.logger.Error().Err(derr).Str("phase", string(derr.Phase)).Msg("Session failed")

	// Optional cleanup of an instance that did launch. LaunchTimeout and
	// AddressUnavailable leave the instance untouched even here: the user
	// should be able to inspect what they were charged for.
	if r.o.cfg.TerminateOnFailure && r.session.Instance != nil {
		if termErr := r.launcher.Terminate(ctx, r.session.Instance.InstanceID); termErr != nil {
			r.logger.Error().Err(termErr).Msg("Cleanup termination failed")
		} else {
			r.logger.Info().Str("instance_id", r.session.Instance.InstanceID).Msg("Instance terminated after failure")
		}
	}
}

// enterPhase moves the session into phase. Exactly one phase is active at
// a time.
func (r *sessionRun) enterPhase(phase types.Phase) {
	r.session.Phase = phase
	r.phaseTimer = metrics.NewTimer()
	r.logger.Info().Str("phase", string(phase)).Msg("Phase started")
}

// completePhase emits the phase's progress checkpoint, after any log lines
// the phase produced.
func (r *sessionRun) completePhase(phase types.Phase) {
	r.phaseTimer.ObservePhase(string(phase))
	r.setProgress(checkpoints[phase])
}

func (r *sessionRun) setProgress(percent int) {
	if percent < r.session.Progress {
		// Progress is monotonically non-decreasing within a session.
		return
	}
	r.session.Progress = percent
	if err := r.stream.Progress(percent); err != nil {
		r.logger.Warn().Err(err).Msg("Progress event emission failed")
	}
}

func (r *sessionRun) emitLog(format string, args ...interface{}) {
	if err := r.stream.Log(format, args...); err != nil {
		r.logger.Warn().Err(err).Msg("Log event emission failed")
		return
	}
	// Mirror into the session transcript.
	r.session.Logs = append(r.session.Logs, fmt.Sprintf(format, args...))
}
