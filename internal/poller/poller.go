// Package poller implements the user poller: one full fetch→diff→derive→
// speed→evaluate→dispatch→reschedule cycle for a single registered user.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"seedwatch/internal/apiclient"
	"seedwatch/internal/classify"
	"seedwatch/internal/clock"
	"seedwatch/internal/dispatch"
	"seedwatch/internal/metrics"
	"seedwatch/internal/model"
	"seedwatch/internal/registry"
	"seedwatch/internal/rules"
	"seedwatch/internal/shadow"
	"seedwatch/internal/speed"
	"seedwatch/internal/storage"
	"seedwatch/internal/telemetry"
)

// Result summarizes one PollOnce call for the scheduler, metrics, and
// logging to consume.
type Result struct {
	Skipped           bool
	SkipReason        string
	RulesRun          int
	ActionsDispatched int
	NonTerminalCount  int
	NextPollAt        *time.Time
	Err               error
}

// HandleOpener opens the per-user storage handle at dbPath. Production uses
// storage.Open; tests inject a stub returning a fake storage.Handle.
type HandleOpener func(ctx context.Context, dbPath string) (storage.Handle, error)

// UserAPI is the per-tenant external API surface a poll cycle needs:
// fetching the two item lists and the three actions the dispatcher can
// take. apiclient.UserClient satisfies this structurally.
type UserAPI interface {
	GetItems(ctx context.Context, bypassCache bool) ([]model.Item, error)
	GetQueuedItems(ctx context.Context) ([]model.Item, error)
	StopSeeding(ctx context.Context, itemID string) error
	ForceStart(ctx context.Context, itemID string) error
	DeleteItem(ctx context.Context, itemID string) error
}

// APIProvider binds a tenant's credentials to a UserAPI. apiclient.Client,
// wrapped by clientAdapter, is the production implementation.
type APIProvider interface {
	ForUser(authID, apiKey string) UserAPI
}

// clientAdapter narrows *apiclient.Client's ForUser down to the UserAPI
// interface so tests can substitute a fake without touching apiclient.
type clientAdapter struct {
	client *apiclient.Client
}

func (a clientAdapter) ForUser(authID, apiKey string) UserAPI {
	return a.client.ForUser(authID, apiKey)
}

// Poller runs poll cycles for whatever users the scheduler hands it. It
// caches one open storage.Handle per auth_id for the life of the process
// (per SPEC_FULL.md §2 EXPANDED item 18, "opened lazily and cached by the
// poller") and enforces at most one in-flight cycle per auth_id
// independently of the scheduler's own concurrency cap.
type Poller struct {
	Registry registry.Registry
	API      APIProvider
	Clock    clock.Clock
	Policy   clock.IntervalPolicy
	Stagger  time.Duration
	Open     HandleOpener

	inProgress sync.Map // authID -> struct{}

	handlesMu sync.Mutex
	handles   map[string]storage.Handle
}

// New returns a Poller with IntervalPolicy defaulted to production values
// and HandleOpener defaulted to storage.Open.
func New(reg registry.Registry, api *apiclient.Client, clk clock.Clock, policy clock.IntervalPolicy) *Poller {
	return &Poller{
		Registry: reg,
		API:      clientAdapter{client: api},
		Clock:    clk,
		Policy:   policy,
		Open:     func(ctx context.Context, dbPath string) (storage.Handle, error) { return storage.Open(ctx, dbPath) },
		handles:  make(map[string]storage.Handle),
	}
}

func (p *Poller) handleFor(ctx context.Context, user model.UserRegistryEntry) (storage.Handle, error) {
	p.handlesMu.Lock()
	defer p.handlesMu.Unlock()
	if h, ok := p.handles[user.AuthID]; ok {
		return h, nil
	}
	h, err := p.Open(ctx, user.DBPath)
	if err != nil {
		return nil, err
	}
	p.handles[user.AuthID] = h
	return h, nil
}

// PollOnce implements the eight numbered steps of §4.7 in order. The
// in-progress flag is cleared on every exit path, including a panic-free
// early return.
func (p *Poller) PollOnce(ctx context.Context, user model.UserRegistryEntry) (Result, error) {
	// Step 1: acquire per-user in-progress flag.
	if _, already := p.inProgress.LoadOrStore(user.AuthID, struct{}{}); already {
		return Result{Skipped: true, SkipReason: "in_progress"}, nil
	}
	defer p.inProgress.Delete(user.AuthID)

	// Step 2: verify user has active rules.
	if !user.HasActiveRules {
		return Result{Skipped: true, SkipReason: "no_active_rules"}, nil
	}

	now := p.Clock.Now()

	handle, err := p.handleFor(ctx, user)
	if err != nil {
		return Result{}, fmt.Errorf("open storage for %s: %w", user.AuthID, err)
	}

	userClient := p.API.ForUser(user.AuthID, user.EncryptedAPIKey)

	// Step 3: fetch items. apiclient already degrades transient errors to
	// an empty list; only AuthError and "other" errors reach here.
	items, err := userClient.GetItems(ctx, false)
	if err != nil {
		return p.handleFetchError(ctx, user, err)
	}
	queued, err := userClient.GetQueuedItems(ctx)
	if err != nil {
		return p.handleFetchError(ctx, user, err)
	}
	items = append(items, queued...)

	// Step 4: diff, derive, record speed for updated+active items.
	diff, err := shadow.New(handle).ProcessSnapshot(ctx, items, now)
	if err != nil {
		return Result{}, fmt.Errorf("process snapshot for %s: %w", user.AuthID, err)
	}

	if err := telemetry.New(handle, telemetry.DefaultStallWindow).Apply(ctx, now, diff); err != nil {
		return Result{}, fmt.Errorf("apply telemetry for %s: %w", user.AuthID, err)
	}

	speedAgg := speed.New(handle, speed.DefaultRetention)
	for _, u := range diff.Updated {
		if !u.Item.Active {
			continue
		}
		if err := speedAgg.RecordSample(ctx, u.Item.ID, u.Item.TotalDownloaded, u.Item.TotalUploaded, now); err != nil {
			return Result{}, fmt.Errorf("record speed sample for %s: %w", user.AuthID, err)
		}
	}

	// Step 5: evaluate, pre-filter, dispatch, log, and reschedule each
	// enabled rule.
	loadedRules, err := handle.LoadRules(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load rules for %s: %w", user.AuthID, err)
	}

	evaluator := rules.New(handle, handle, handle, rules.SlogInvalidLogger{})
	evaluator.Multiplier = p.Policy.Multiplier
	dispatcher := dispatch.New(userClient, handle, handle)

	var rulesRun int
	var actionsDispatched int
	var enabledIntervals []time.Duration
	var enabledCount int

	for _, rule := range loadedRules {
		if !rule.Enabled {
			continue
		}
		enabledCount++
		if rule.Trigger.Type == model.TriggerInterval {
			enabledIntervals = append(enabledIntervals, time.Duration(rule.Trigger.Value)*time.Minute)
		}

		if !rules.TriggerDue(rule, now, p.Policy.Multiplier) {
			continue
		}
		rulesRun++

		matched, err := evaluator.Evaluate(ctx, rule, items, now)
		if err != nil {
			return Result{}, fmt.Errorf("evaluate rule %d for %s: %w", rule.ID, user.AuthID, err)
		}

		outcome, dispatchErr := dispatcher.Dispatch(ctx, rule.Action, matched)
		actionsDispatched += outcome.Succeeded

		actionType := string(rule.Action.Type)
		if outcome.Succeeded > 0 {
			metrics.PollActionsDispatched.WithLabelValues(actionType, "succeeded").Add(float64(outcome.Succeeded))
		}
		if outcome.Failed > 0 {
			metrics.PollActionsDispatched.WithLabelValues(actionType, "failed").Add(float64(outcome.Failed))
		}

		errMsg := ""
		success := dispatchErr == nil && outcome.Failed == 0
		switch {
		case dispatchErr != nil:
			errMsg = dispatchErr.Error()
		case outcome.Failed > 0:
			errMsg = fmt.Sprintf("%d of %d items failed", outcome.Failed, outcome.Attempted)
		}

		if err := handle.RecordRuleExecution(ctx, model.RuleExecutionRecord{
			RuleID:         rule.ID,
			RuleName:       rule.Name,
			ExecutionType:  string(rule.Action.Type),
			ItemsProcessed: outcome.Attempted,
			Success:        success,
			ErrorMessage:   errMsg,
			ExecutedAt:     now,
		}); err != nil {
			return Result{}, fmt.Errorf("record rule execution %d for %s: %w", rule.ID, user.AuthID, err)
		}

		if err := handle.UpdateRuleEvaluation(ctx, rule.ID, now, true); err != nil {
			return Result{}, fmt.Errorf("update rule evaluation %d for %s: %w", rule.ID, user.AuthID, err)
		}
	}

	// Step 6: count non-terminal items in the snapshot.
	nonTerminal := 0
	for _, it := range items {
		if !classify.Classify(it).Terminal() {
			nonTerminal++
		}
	}

	// Step 7: compute next_poll_at and write it back.
	hasRecent, err := handle.HasRecentExecution(ctx, now.Add(-time.Hour))
	if err != nil {
		return Result{}, fmt.Errorf("check recent execution for %s: %w", user.AuthID, err)
	}

	mode := SelectMode(enabledCount > 0, rulesRun, hasRecent)
	nextPollAt := ComputeNextPollAt(now, mode, enabledIntervals, nonTerminal, p.Policy.Multiplier, p.Policy.MinInterval, p.Stagger)

	if err := p.Registry.UpdateNextPoll(ctx, user.AuthID, &nextPollAt, nonTerminal); err != nil {
		return Result{}, fmt.Errorf("update next poll for %s: %w", user.AuthID, err)
	}

	return Result{
		RulesRun:          rulesRun,
		ActionsDispatched: actionsDispatched,
		NonTerminalCount:  nonTerminal,
		NextPollAt:        &nextPollAt,
	}, nil
}

// handleFetchError implements the AuthError recovery path from §7: mark the
// user inactive and return without scheduling a retry. Any other error
// aborts the cycle per the StorageError-adjacent "surface it" rule; the
// scheduler will reselect the user next tick.
func (p *Poller) handleFetchError(ctx context.Context, user model.UserRegistryEntry, err error) (Result, error) {
	var authErr *apiclient.AuthError
	if errors.As(err, &authErr) {
		if setErr := p.Registry.SetStatus(ctx, user.AuthID, model.RegistryStatusInactive); setErr != nil {
			return Result{}, fmt.Errorf("mark %s inactive after auth error: %w", user.AuthID, setErr)
		}
		return Result{Err: err}, nil
	}
	return Result{}, fmt.Errorf("fetch items for %s: %w", user.AuthID, err)
}
