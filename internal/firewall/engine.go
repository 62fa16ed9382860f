package firewall

import (
	"time"

	"github.com/google/uuid"

	"grimm.is/bridgewall/internal/clock"
	"grimm.is/bridgewall/internal/errors"
	"grimm.is/bridgewall/internal/filter"
	"grimm.is/bridgewall/internal/logging"
	"grimm.is/bridgewall/internal/metrics"
)

// Phase is a step of the generation upgrade.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBuildingTemp
	PhasePopulating
	PhaseLinking
	PhasePromoting
	PhaseRollingBack
)

func (p Phase) String() string {
	switch p {
	case PhaseBuildingTemp:
		return "building_temp"
	case PhasePopulating:
		return "populating"
	case PhaseLinking:
		return "linking"
	case PhasePromoting:
		return "promoting"
	case PhaseRollingBack:
		return "rolling_back"
	}
	return "idle"
}

// PhaseHook is called whenever an operation enters a phase.
type PhaseHook func(ifname string, p Phase)

// ipLayers are the IP-layer backends in processing order.
var ipLayers = []Layer{LayerIptables, LayerIp6tables}

// Engine runs the generation lifecycle of an interface's chains. It does no
// locking; callers serialize access.
type Engine struct {
	env      *Environment
	compiler *Compiler
	exec     Executor
	lister   ChainLister
	checker  *EnvironmentChecker
	clock    clock.Clock
	onPhase  PhaseHook
	logger   *logging.Logger
	metrics  *metrics.Registry
}

func newEngine(env *Environment, exec Executor, lister ChainLister, checker *EnvironmentChecker, clk clock.Clock, hook PhaseHook, logger *logging.Logger) *Engine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		env:      env,
		compiler: NewCompiler(env),
		exec:     exec,
		lister:   lister,
		checker:  checker,
		clock:    clk,
		onPhase:  hook,
		logger:   logger.WithComponent("engine"),
		metrics:  metrics.Get(),
	}
}

// txn tracks one operation for logging and metrics.
type txn struct {
	e      *Engine
	op     string
	ifname string
	id     string
	start  time.Time
	phase  Phase
	logger *logging.Logger
}

func (e *Engine) begin(op, ifname string) *txn {
	id := uuid.NewString()
	return &txn{
		e:      e,
		op:     op,
		ifname: ifname,
		id:     id,
		start:  e.clock.Now(),
		logger: e.logger.WithInterface(ifname).WithFields(map[string]any{"txn": id, "operation": op}),
	}
}

func (t *txn) enter(p Phase) {
	t.phase = p
	t.logger.Debug("phase", "phase", p.String())
	if t.e.onPhase != nil {
		t.e.onPhase(t.ifname, p)
	}
}

func (t *txn) finish(err error) error {
	t.e.metrics.OperationsTotal.WithLabelValues(t.op, metrics.Result(err)).Inc()
	t.e.metrics.OperationDuration.WithLabelValues(t.op).Observe(t.e.clock.Since(t.start).Seconds())
	if t.phase != PhaseIdle {
		t.enter(PhaseIdle)
	}
	return err
}

func (e *Engine) submit(l *CommandList) error {
	if l.Len() == 0 {
		return nil
	}
	return e.exec.Apply(l.Commands())
}

func applyFailed(ifname string, err error) error {
	return errors.Attr(
		errors.Wrapf(err, errors.GetKind(err), "some rules could not be created for interface %s", ifname),
		"interface", ifname)
}

// ApplyNewRules builds the rules as a temporary generation and links it
// behind the active one. The active generation keeps deciding traffic until
// TearOldRules promotes the new one. On failure the temporary generation is
// removed and the active one is left as it was.
func (e *Engine) ApplyNewRules(ifname string, rules []*filter.Instance) error {
	t := e.begin("apply", ifname)

	if e.checker != nil {
		e.checker.CheckLink(ifname)
	}

	sorted := sortRules(rules)
	compile := func(inst *filter.Instance) ([]Command, error) {
		return e.compiler.Compile(ifname, inst)
	}

	incoming, outgoing := ebChainSets(rules)
	chains, err := subChainItems(ifname, incoming, outgoing)
	if err != nil {
		return t.finish(applyFailed(ifname, err))
	}
	ebRules, err := interleave(sorted, chains, compile)
	if err != nil {
		return t.finish(applyFailed(ifname, err))
	}
	var layers []Layer
	ipRules := map[Layer][]Command{}
	for _, layer := range ipLayers {
		if !usesLayer(rules, layer) {
			continue
		}
		cmds, err := layerRules(sorted, layer, compile)
		if err != nil {
			return t.finish(applyFailed(ifname, err))
		}
		layers = append(layers, layer)
		ipRules[layer] = cmds
	}

	needIn, needOut := len(incoming) > 0, len(outgoing) > 0

	t.enter(PhaseBuildingTemp)
	if e.env.Tools.Have(LayerEbtables) {
		var cleanup CommandList
		e.tearTempEb(&cleanup, ifname)
		if err := e.submit(&cleanup); err != nil {
			t.logger.Debug("cleanup of stale temporary chains failed", "error", err)
		}
	}
	var build CommandList
	if needIn {
		ebCreateRoot(&build, GenTemp, true, ifname)
	}
	if needOut {
		ebCreateRoot(&build, GenTemp, false, ifname)
	}
	if err := e.submit(&build); err != nil {
		return t.finish(e.rollback(t, layers, err))
	}

	t.enter(PhasePopulating)
	var populate CommandList
	populate.Append(ebRules...)
	if err := e.submit(&populate); err != nil {
		return t.finish(e.rollback(t, layers, err))
	}
	for _, layer := range layers {
		var base CommandList
		iptUnlinkRoots(&base, layer, GenTemp, ifname)
		iptRemoveRoots(&base, layer, GenTemp, ifname)
		iptCreateBaseChains(&base, layer)
		if err := e.submit(&base); err != nil {
			return t.finish(e.rollback(t, layers, err))
		}

		var roots CommandList
		iptCreateTempRoots(&roots, layer, ifname)
		roots.Append(ipRules[layer]...)
		if err := e.submit(&roots); err != nil {
			return t.finish(e.rollback(t, layers, err))
		}
		if e.checker != nil {
			e.checker.CheckBridgeNF(layer)
		}
	}

	t.enter(PhaseLinking)
	var link CommandList
	for _, layer := range layers {
		iptLinkTempRoots(&link, layer, ifname)
		iptSetupVirtInPost(&link, layer, ifname)
	}
	if needIn {
		ebLinkRoot(&link, GenTemp, true, ifname)
	}
	if needOut {
		ebLinkRoot(&link, GenTemp, false, ifname)
	}
	if err := e.submit(&link); err != nil {
		return t.finish(e.rollback(t, layers, err))
	}

	t.logger.Info("temporary generation installed", "rules", len(rules))
	return t.finish(nil)
}

// rollback removes the temporary generation after a failed phase.
func (e *Engine) rollback(t *txn, layers []Layer, cause error) error {
	failed := t.phase
	t.enter(PhaseRollingBack)
	e.metrics.RollbacksTotal.WithLabelValues(failed.String()).Inc()
	t.logger.Warn("rolling back temporary generation", "phase", failed.String(), "error", cause)

	var l CommandList
	for _, layer := range layers {
		iptUnlinkRoots(&l, layer, GenTemp, t.ifname)
		iptRemoveRoots(&l, layer, GenTemp, t.ifname)
	}
	if e.env.Tools.Have(LayerEbtables) {
		e.tearTempEb(&l, t.ifname)
	}
	if err := e.submit(&l); err != nil {
		t.logger.Warn("rollback incomplete", "error", err)
	}
	return applyFailed(t.ifname, cause)
}

// tearTempEb unlinks and removes the temporary bridge-layer generation.
func (e *Engine) tearTempEb(l *CommandList, ifname string) {
	ebUnlinkRoot(l, GenTemp, true, ifname)
	ebUnlinkRoot(l, GenTemp, false, ifname)
	ebRemoveSubChains(l, e.lister, GenTemp, ifname)
	ebRemoveRoot(l, GenTemp, true, ifname)
	ebRemoveRoot(l, GenTemp, false, ifname)
}

// tearActiveEb unlinks and removes the active bridge-layer generation.
func (e *Engine) tearActiveEb(l *CommandList, ifname string) {
	ebUnlinkRoot(l, GenActive, true, ifname)
	ebUnlinkRoot(l, GenActive, false, ifname)
	ebRemoveSubChains(l, e.lister, GenActive, ifname)
	ebRemoveRoot(l, GenActive, true, ifname)
	ebRemoveRoot(l, GenActive, false, ifname)
}

// promoteEb renames the temporary bridge-layer generation to its active names.
func (e *Engine) promoteEb(l *CommandList, ifname string) {
	ebRenameSubChains(l, e.lister, ifname)
	ebRenameRoot(l, true, ifname)
	ebRenameRoot(l, false, ifname)
}

// TearNewRules discards the temporary generation. Errors of individual commands are ignored.
func (e *Engine) TearNewRules(ifname string) error {
	t := e.begin("tear_new", ifname)
	var l CommandList
	for _, layer := range ipLayers {
		iptUnlinkRoots(&l, layer, GenTemp, ifname)
		iptRemoveRoots(&l, layer, GenTemp, ifname)
	}
	e.tearTempEb(&l, ifname)
	return t.finish(e.submit(&l))
}

// TearOldRules replaces the active generation with the temporary one.
func (e *Engine) TearOldRules(ifname string) error {
	t := e.begin("promote", ifname)
	t.enter(PhasePromoting)

	var l CommandList
	for _, layer := range ipLayers {
		iptUnlinkRoots(&l, layer, GenActive, ifname)
		iptRemoveRoots(&l, layer, GenActive, ifname)
		iptRenameTempRoots(&l, layer, ifname)
	}
	e.tearActiveEb(&l, ifname)
	e.promoteEb(&l, ifname)

	err := e.submit(&l)
	if err == nil {
		t.logger.Audit("promote", ifname, map[string]any{"txn": t.id})
	}
	return t.finish(err)
}

// AllTeardown removes every chain of the interface, active and temporary,
// ignoring individual failures.
func (e *Engine) AllTeardown(ifname string) error {
	t := e.begin("teardown", ifname)
	var l CommandList
	e.allTeardown(&l, ifname)
	err := e.submit(&l)
	if err == nil {
		t.logger.Audit("teardown", ifname, map[string]any{"txn": t.id})
	}
	return t.finish(err)
}

func (e *Engine) allTeardown(l *CommandList, ifname string) {
	for _, layer := range ipLayers {
		iptUnlinkRoots(l, layer, GenActive, ifname)
		iptUnlinkRoots(l, layer, GenTemp, ifname)
		iptClearVirtInPost(l, layer, ifname)
		iptRemoveRoots(l, layer, GenActive, ifname)
		iptRemoveRoots(l, layer, GenTemp, ifname)
	}
	e.tearActiveEb(l, ifname)
	e.tearTempEb(l, ifname)
}
