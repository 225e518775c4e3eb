package bridge

import (
	"context"
	"errors"
	"testing"

	"smartherbridge/internal/smarther"
)

const testEndpoint = "https://bridge.example.com"

func newTestWebhookManager(cloud *fakeCloud, store *fakeSubStore) *WebhookManager {
	tokens := NewTokenManager(cloud, &fakeAuthStore{}, freshAuth(), testLogger())
	return NewWebhookManager(cloud, tokens, store, testTopology(), testEndpoint, testLogger())
}

// runManager starts Run and waits until the manager reaches StateActive.
func runManager(t *testing.T, w *WebhookManager) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()

	waitFor(t, "active state", func() bool { return w.State() == StateActive })

	return func() {
		cancel()
		<-done
	}
}

func TestRegistersEveryManagedPlant(t *testing.T) {
	cloud := &fakeCloud{}
	store := &fakeSubStore{missing: true}
	w := newTestWebhookManager(cloud, store)

	stop := runManager(t, w)

	active := w.ActiveSubscriptions()
	if len(active) != 2 {
		t.Fatalf("active subscriptions = %d, want 2", len(active))
	}
	for _, sub := range active {
		want := testEndpoint + "/smarther_bridge/" + sub.PlantID
		if sub.EndpointURL != want {
			t.Errorf("endpoint = %q, want %q", sub.EndpointURL, want)
		}
	}
	if got := store.lastSaved(); len(got) != 2 {
		t.Errorf("persisted snapshot = %d entries, want 2", len(got))
	}

	stop()
}

func TestPartialRegistrationFailureTolerated(t *testing.T) {
	cloud := &fakeCloud{
		registerErrs: map[string]error{"plantB": errors.New("quota exceeded")},
	}
	store := &fakeSubStore{missing: true}
	w := newTestWebhookManager(cloud, store)

	stop := runManager(t, w)

	active := w.ActiveSubscriptions()
	if len(active) != 1 {
		t.Fatalf("active subscriptions = %d, want 1", len(active))
	}
	if active[0].PlantID != "plantA" {
		t.Errorf("active plant = %q, want plantA", active[0].PlantID)
	}

	stop()

	// Only the successfully registered plant is unregistered.
	cloud.mu.Lock()
	defer cloud.mu.Unlock()
	if len(cloud.unregisterCalls) != 1 || cloud.unregisterCalls[0] != "plantA" {
		t.Errorf("unregister calls = %v, want [plantA]", cloud.unregisterCalls)
	}
}

func TestSnapshotTrustedOverCloud(t *testing.T) {
	// The snapshot already covers both plants: no cloud listing, no new
	// registrations.
	store := &fakeSubStore{
		subs: []smarther.SubscriptionInfo{
			{SubscriptionID: "sub-a", PlantID: "plantA", EndpointURL: testEndpoint + "/smarther_bridge/plantA"},
			{SubscriptionID: "sub-b", PlantID: "plantB", EndpointURL: testEndpoint + "/smarther_bridge/plantB"},
		},
	}
	cloud := &fakeCloud{webhooksErr: errors.New("cloud must not be queried")}
	w := newTestWebhookManager(cloud, store)

	stop := runManager(t, w)
	defer stop()

	if len(cloud.registerCalls) != 0 {
		t.Errorf("register calls = %v, want none", cloud.registerCalls)
	}
	if len(w.ActiveSubscriptions()) != 2 {
		t.Errorf("active = %d, want 2 from snapshot", len(w.ActiveSubscriptions()))
	}
}

func TestCloudQueriedWhenSnapshotMissing(t *testing.T) {
	// First run: no snapshot. The cloud listing is filtered to this
	// bridge's endpoint; the foreign subscription is left alone.
	cloud := &fakeCloud{
		webhooks: []smarther.SubscriptionInfo{
			{SubscriptionID: "ours", PlantID: "plantA", EndpointURL: testEndpoint + "/smarther_bridge/plantA"},
			{SubscriptionID: "foreign", PlantID: "plantB", EndpointURL: "https://other.example.com/hook"},
		},
	}
	store := &fakeSubStore{missing: true}
	w := newTestWebhookManager(cloud, store)

	stop := runManager(t, w)
	defer stop()

	// plantA reused, plantB freshly registered.
	cloud.mu.Lock()
	registerCalls := append([]string(nil), cloud.registerCalls...)
	cloud.mu.Unlock()
	if len(registerCalls) != 1 || registerCalls[0] != "plantB" {
		t.Errorf("register calls = %v, want [plantB]", registerCalls)
	}

	active := w.ActiveSubscriptions()
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	if active[0].SubscriptionID != "ours" {
		t.Errorf("plantA subscription = %q, want reused id ours", active[0].SubscriptionID)
	}
}

func TestStaleEndpointReRegistered(t *testing.T) {
	// The snapshot records a subscription pointing at an old endpoint:
	// it is unregistered, then the plant gets a fresh registration.
	store := &fakeSubStore{
		subs: []smarther.SubscriptionInfo{
			{SubscriptionID: "old", PlantID: "plantA", EndpointURL: "https://old.example.com/smarther_bridge/plantA"},
		},
	}
	cloud := &fakeCloud{}
	w := newTestWebhookManager(cloud, store)

	stop := runManager(t, w)
	defer stop()

	cloud.mu.Lock()
	defer cloud.mu.Unlock()
	if len(cloud.registerCalls) != 2 {
		t.Errorf("register calls = %v, want both plants registered", cloud.registerCalls)
	}
	if len(cloud.unregisterIDs) != 1 || cloud.unregisterIDs[0] != "old" {
		t.Errorf("cleared subscriptions = %v, want [old]", cloud.unregisterIDs)
	}
}

func TestRemovedPlantSubscriptionCleared(t *testing.T) {
	// The snapshot holds a subscription for a plant that is no longer
	// managed. It cannot be reused, so it is unregistered rather than
	// silently forgotten.
	store := &fakeSubStore{
		subs: []smarther.SubscriptionInfo{
			{SubscriptionID: "sub-z", PlantID: "plantZ", EndpointURL: testEndpoint + "/smarther_bridge/plantZ"},
		},
	}
	cloud := &fakeCloud{}
	w := newTestWebhookManager(cloud, store)

	stop := runManager(t, w)
	defer stop()

	cloud.mu.Lock()
	defer cloud.mu.Unlock()
	if len(cloud.unregisterIDs) != 1 || cloud.unregisterIDs[0] != "sub-z" {
		t.Errorf("cleared subscriptions = %v, want [sub-z]", cloud.unregisterIDs)
	}
	if len(cloud.registerCalls) != 2 {
		t.Errorf("register calls = %v, want both managed plants registered", cloud.registerCalls)
	}
}

func TestNoSubscriptionsReportsFailure(t *testing.T) {
	cloud := &fakeCloud{
		registerErrs: map[string]error{
			"plantA": errors.New("quota exceeded"),
			"plantB": errors.New("quota exceeded"),
		},
	}
	store := &fakeSubStore{missing: true}
	w := newTestWebhookManager(cloud, store)

	err := w.Run(context.Background())
	if !errors.Is(err, ErrNoSubscriptions) {
		t.Fatalf("Run() error = %v, want ErrNoSubscriptions", err)
	}
	if w.State() != StateIdle {
		t.Errorf("state = %v, want idle after failed registration", w.State())
	}
	if len(cloud.unregisterCalls) != 0 {
		t.Errorf("unregister calls = %v, want none", cloud.unregisterCalls)
	}
}

func TestTeardownPersistsFailedUnregistrations(t *testing.T) {
	cloud := &fakeCloud{
		unregisterErrs: map[string]error{"plantB": errors.New("gateway timeout")},
	}
	store := &fakeSubStore{missing: true}
	w := newTestWebhookManager(cloud, store)

	stop := runManager(t, w)
	stop()

	waitFor(t, "idle state", func() bool { return w.State() == StateIdle })

	// plantB's subscription survives in the snapshot for the next run.
	remaining := store.lastSaved()
	if len(remaining) != 1 || remaining[0].PlantID != "plantB" {
		t.Errorf("remaining snapshot = %v, want plantB only", remaining)
	}
}

func TestStateTransitions(t *testing.T) {
	cloud := &fakeCloud{}
	store := &fakeSubStore{missing: true}
	w := newTestWebhookManager(cloud, store)

	if w.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", w.State())
	}

	stop := runManager(t, w)
	if w.State() != StateActive {
		t.Errorf("running state = %v, want active", w.State())
	}

	stop()
	waitFor(t, "idle after shutdown", func() bool { return w.State() == StateIdle })
}
