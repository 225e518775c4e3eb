package bridge

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"smartherbridge/internal/infrastructure/logging"
	"smartherbridge/internal/infrastructure/mqtt"
	"smartherbridge/internal/smarther"
)

// testLogger returns a quiet logger for tests.
func testLogger() *logging.Logger {
	return logging.Default()
}

// freshAuth returns a credential that does not need refreshing.
func freshAuth() smarther.AuthorizationInfo {
	return smarther.AuthorizationInfo{
		ClientID:     "client",
		ClientSecret: "secret",
		Subkey:       "subkey",
		AccessToken:  "token-fresh",
		RefreshToken: "refresh-1",
		ExpiresOn:    time.Now().Add(time.Hour),
	}
}

// staleAuth returns a credential inside the refresh threshold.
func staleAuth() smarther.AuthorizationInfo {
	auth := freshAuth()
	auth.AccessToken = "token-stale"
	auth.ExpiresOn = time.Now().Add(time.Minute)
	return auth
}

type setCall struct {
	plantID  string
	moduleID string
	request  smarther.SetStatusRequest
}

// fakeCloud is an in-memory CloudAPI implementation.
type fakeCloud struct {
	mu sync.Mutex

	refreshCalls int
	refreshErr   error

	setCalls   []setCall
	setErrs    []error // consumed per call; nil entry means success
	setCallNum int

	webhooks    []smarther.SubscriptionInfo
	webhooksErr error

	registerCalls []string
	registerErrs  map[string]error
	nextSubID     int

	unregisterCalls []string
	unregisterIDs   []string
	unregisterErrs  map[string]error
}

func (f *fakeCloud) RefreshToken(_ context.Context, auth smarther.AuthorizationInfo) (smarther.AuthorizationInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return smarther.AuthorizationInfo{}, f.refreshErr
	}
	refreshed := auth
	refreshed.AccessToken = fmt.Sprintf("token-refreshed-%d", f.refreshCalls)
	refreshed.RefreshToken = fmt.Sprintf("refresh-%d", f.refreshCalls+1)
	refreshed.ExpiresOn = time.Now().Add(time.Hour)
	return refreshed, nil
}

func (f *fakeCloud) SetDeviceStatus(_ context.Context, _ smarther.AuthorizationInfo, plantID, moduleID string, req smarther.SetStatusRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, setCall{plantID: plantID, moduleID: moduleID, request: req})
	var err error
	if f.setCallNum < len(f.setErrs) {
		err = f.setErrs[f.setCallNum]
	}
	f.setCallNum++
	return err
}

func (f *fakeCloud) Webhooks(_ context.Context, _ smarther.AuthorizationInfo) ([]smarther.SubscriptionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.webhooks, f.webhooksErr
}

func (f *fakeCloud) RegisterWebhook(_ context.Context, _ smarther.AuthorizationInfo, plantID, endpointURL string) (smarther.SubscriptionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls = append(f.registerCalls, plantID)
	if err := f.registerErrs[plantID]; err != nil {
		return smarther.SubscriptionInfo{}, err
	}
	f.nextSubID++
	return smarther.SubscriptionInfo{
		SubscriptionID: fmt.Sprintf("sub-%d", f.nextSubID),
		PlantID:        plantID,
		EndpointURL:    endpointURL,
	}, nil
}

func (f *fakeCloud) UnregisterWebhook(_ context.Context, _ smarther.AuthorizationInfo, plantID, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisterCalls = append(f.unregisterCalls, plantID)
	f.unregisterIDs = append(f.unregisterIDs, subscriptionID)
	return f.unregisterErrs[plantID]
}

func (f *fakeCloud) setCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.setCalls)
}

// fakeAuthStore records persisted credentials.
type fakeAuthStore struct {
	mu      sync.Mutex
	saved   []smarther.AuthorizationInfo
	saveErr error
}

func (s *fakeAuthStore) SaveAuth(auth smarther.AuthorizationInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, auth)
	return nil
}

func (s *fakeAuthStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// fakeSubStore is an in-memory subscription snapshot.
type fakeSubStore struct {
	mu      sync.Mutex
	missing bool
	subs    []smarther.SubscriptionInfo
	saved   [][]smarther.SubscriptionInfo
}

func (s *fakeSubStore) LoadSubscriptions() ([]smarther.SubscriptionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.missing {
		return nil, fmt.Errorf("reading subscriptions.json: %w", fs.ErrNotExist)
	}
	return s.subs, nil
}

func (s *fakeSubStore) SaveSubscriptions(subs []smarther.SubscriptionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = subs
	s.missing = false
	s.saved = append(s.saved, subs)
	return nil
}

func (s *fakeSubStore) lastSaved() []smarther.SubscriptionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return nil
	}
	return s.saved[len(s.saved)-1]
}

type published struct {
	topic   string
	payload []byte
}

// fakeBroker records subscriptions and publications.
type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []published
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Subscribe(topic string, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{topic: topic, payload: payload})
	return nil
}

// deliver invokes the handler registered for a topic, as the paho client
// would on message arrival.
func (b *fakeBroker) deliver(topic string, payload []byte) error {
	b.mu.Lock()
	handler := b.handlers[topic]
	b.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("no handler for %s", topic)
	}
	return handler(topic, payload)
}

func (b *fakeBroker) publications() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]published, len(b.published))
	copy(out, b.published)
	return out
}

// testTopology returns two plants with one module each.
func testTopology() smarther.CachedTopology {
	return smarther.CachedTopology{
		Plants: []smarther.PlantDetail{
			{ID: "plantA", Modules: []smarther.Module{{ID: "modA", Type: "chronothermostat"}}},
			{ID: "plantB", Modules: []smarther.Module{{ID: "modB", Type: "chronothermostat"}}},
		},
	}
}
