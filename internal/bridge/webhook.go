package bridge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"smartherbridge/internal/infrastructure/logging"
	"smartherbridge/internal/smarther"
)

// webhookPathPrefix is the path component under the public endpoint the
// ingress server serves notifications on. The full per-plant URL is
// {endpoint}/smarther_bridge/{plant_id}.
const webhookPathPrefix = "/smarther_bridge/"

// teardownTimeout bounds the unregistration pass during shutdown. The
// run context is already cancelled by then, so teardown runs on its own
// deadline.
const teardownTimeout = 30 * time.Second

// ErrNoSubscriptions reports that not a single plant could be subscribed:
// the platform will push nothing, so the subsystem has no work to hold.
var ErrNoSubscriptions = errors.New("bridge: no webhook subscriptions registered")

// ManagerState is the webhook manager's lifecycle phase.
type ManagerState int

const (
	StateIdle ManagerState = iota
	StateReconciling
	StateRegistering
	StateActive
	StateUnregistering
)

// String returns the state name for logging.
func (s ManagerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReconciling:
		return "reconciling"
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateUnregistering:
		return "unregistering"
	default:
		return "unknown"
	}
}

// SubscriptionStore persists the active-subscription snapshot.
type SubscriptionStore interface {
	LoadSubscriptions() ([]smarther.SubscriptionInfo, error)
	SaveSubscriptions(subs []smarther.SubscriptionInfo) error
}

// WebhookManager keeps the cloud-side webhook registrations in step with
// the managed topology: one subscription per plant, delivered to this
// bridge's public endpoint.
//
// Registration failures are tolerated per plant: a plant whose
// registration fails simply receives no push notifications this run,
// the remaining plants work normally.
type WebhookManager struct {
	api      CloudAPI
	tokens   *TokenManager
	store    SubscriptionStore
	topology smarther.CachedTopology
	endpoint string
	logger   *logging.Logger

	mu     sync.RWMutex
	state  ManagerState
	active []smarther.SubscriptionInfo
}

// NewWebhookManager creates the manager. endpoint is the public base URL
// the cloud platform can reach this bridge on.
func NewWebhookManager(api CloudAPI, tokens *TokenManager, store SubscriptionStore, topology smarther.CachedTopology, endpoint string, logger *logging.Logger) *WebhookManager {
	return &WebhookManager{
		api:      api,
		tokens:   tokens,
		store:    store,
		topology: topology,
		endpoint: strings.TrimRight(endpoint, "/"),
		logger:   logger,
		state:    StateIdle,
	}
}

// State returns the current lifecycle phase.
func (w *WebhookManager) State() ManagerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// ActiveSubscriptions returns a copy of the currently registered set.
func (w *WebhookManager) ActiveSubscriptions() []smarther.SubscriptionInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]smarther.SubscriptionInfo, len(w.active))
	copy(out, w.active)
	return out
}

// endpointFor returns the notification URL for one plant.
func (w *WebhookManager) endpointFor(plantID string) string {
	return w.endpoint + webhookPathPrefix + plantID
}

// Run reconciles and registers subscriptions, then holds them until the
// context is cancelled, unregistering on the way out.
func (w *WebhookManager) Run(ctx context.Context) error {
	w.setState(StateReconciling)
	existing, err := w.reconcile(ctx)
	if err != nil {
		w.setState(StateIdle)
		return fmt.Errorf("reconciling subscriptions: %w", err)
	}

	w.setState(StateRegistering)
	active := w.register(ctx, existing)

	w.mu.Lock()
	w.active = active
	w.mu.Unlock()

	if err := w.store.SaveSubscriptions(active); err != nil {
		w.logger.Error("persisting subscription snapshot", "error", err)
	}

	if len(active) == 0 {
		w.logger.Error("failed to register any webhook, subsystem stopping")
		w.setState(StateIdle)
		return ErrNoSubscriptions
	}

	w.setState(StateActive)
	w.logger.Info("webhook subscriptions active",
		"plants", len(w.topology.Plants),
		"subscriptions", len(active),
	)

	<-ctx.Done()

	w.teardown()
	return nil
}

// reconcile determines which subscriptions already exist for this
// bridge's endpoint.
//
// The local snapshot is the authority when present: it records exactly
// what this bridge registered. The cloud is consulted only when no
// snapshot exists (first run, or the file was removed), and its answer
// is filtered to subscriptions pointing at our endpoint so foreign
// registrations on the same credential are left alone.
func (w *WebhookManager) reconcile(ctx context.Context) ([]smarther.SubscriptionInfo, error) {
	snapshot, err := w.store.LoadSubscriptions()
	if err == nil {
		w.logger.Debug("reconciled from local snapshot", "subscriptions", len(snapshot))
		return snapshot, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	auth, err := w.tokens.RefreshIfNeeded(ctx)
	if err != nil {
		return nil, err
	}

	remote, err := w.api.Webhooks(ctx, auth)
	if err != nil {
		return nil, err
	}

	var ours []smarther.SubscriptionInfo
	for _, sub := range remote {
		if strings.HasPrefix(sub.EndpointURL, w.endpoint+webhookPathPrefix) {
			ours = append(ours, sub)
		}
	}
	w.logger.Debug("reconciled from cloud",
		"remote", len(remote),
		"matching_endpoint", len(ours),
	)
	return ours, nil
}

// register ensures every managed plant has a subscription, reusing
// entries from the reconciled set where the endpoint still matches.
// Anything in the reconciled set that cannot be reused is unregistered
// first, so no registration survives pointing at an endpoint this run
// does not serve.
func (w *WebhookManager) register(ctx context.Context, existing []smarther.SubscriptionInfo) []smarther.SubscriptionInfo {
	w.clearStale(ctx, existing)

	byPlant := make(map[string]smarther.SubscriptionInfo, len(existing))
	for _, sub := range existing {
		byPlant[sub.PlantID] = sub
	}

	var active []smarther.SubscriptionInfo
	for _, plant := range w.topology.Plants {
		wantURL := w.endpointFor(plant.ID)

		if sub, ok := byPlant[plant.ID]; ok && sub.EndpointURL == wantURL {
			active = append(active, sub)
			continue
		}

		auth, err := w.tokens.RefreshIfNeeded(ctx)
		if err != nil {
			w.logger.Error("skipping plant, credential refresh failed",
				"plant_id", plant.ID,
				"error", err,
			)
			continue
		}

		sub, err := w.api.RegisterWebhook(ctx, auth, plant.ID, wantURL)
		if err != nil {
			w.logger.Error("webhook registration failed",
				"plant_id", plant.ID,
				"error", err,
			)
			continue
		}

		w.logger.Info("webhook registered",
			"plant_id", plant.ID,
			"subscription_id", sub.SubscriptionID,
		)
		active = append(active, sub)
	}

	return active
}

// clearStale unregisters reconciled subscriptions this run cannot reuse:
// a different endpoint, or a plant no longer in the topology. Left alone
// they would keep the platform delivering to an address nobody serves,
// invisible once the snapshot is overwritten with the new active set.
func (w *WebhookManager) clearStale(ctx context.Context, existing []smarther.SubscriptionInfo) {
	for _, sub := range existing {
		if _, managed := w.topology.Plant(sub.PlantID); managed && sub.EndpointURL == w.endpointFor(sub.PlantID) {
			continue
		}

		auth, err := w.tokens.RefreshIfNeeded(ctx)
		if err == nil {
			err = w.api.UnregisterWebhook(ctx, auth, sub.PlantID, sub.SubscriptionID)
		}
		if err != nil {
			w.logger.Error("clearing stale webhook failed",
				"plant_id", sub.PlantID,
				"subscription_id", sub.SubscriptionID,
				"error", err,
			)
			continue
		}
		w.logger.Info("stale webhook cleared",
			"plant_id", sub.PlantID,
			"subscription_id", sub.SubscriptionID,
		)
	}
}

// teardown unregisters every active subscription. Failures leave the
// subscription in the persisted snapshot so the next run (or the
// operator) can retry.
func (w *WebhookManager) teardown() {
	w.setState(StateUnregistering)

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	w.mu.RLock()
	active := make([]smarther.SubscriptionInfo, len(w.active))
	copy(active, w.active)
	w.mu.RUnlock()

	var remaining []smarther.SubscriptionInfo
	for _, sub := range active {
		auth, err := w.tokens.RefreshIfNeeded(ctx)
		if err == nil {
			err = w.api.UnregisterWebhook(ctx, auth, sub.PlantID, sub.SubscriptionID)
		}
		if err != nil {
			w.logger.Error("webhook unregistration failed",
				"plant_id", sub.PlantID,
				"subscription_id", sub.SubscriptionID,
				"error", err,
			)
			remaining = append(remaining, sub)
			continue
		}
		w.logger.Info("webhook unregistered", "plant_id", sub.PlantID)
	}

	w.mu.Lock()
	w.active = remaining
	w.mu.Unlock()

	if err := w.store.SaveSubscriptions(remaining); err != nil {
		w.logger.Error("persisting subscription snapshot after teardown", "error", err)
	}

	w.setState(StateIdle)
}

// setState transitions the lifecycle phase.
func (w *WebhookManager) setState(state ManagerState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
	w.logger.Debug("webhook manager state", "state", state.String())
}
