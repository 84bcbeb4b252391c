package healthinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hrp/abdm-bridge/internal/domain/consent"
	"github.com/hrp/abdm-bridge/internal/domain/linking"
	"github.com/hrp/abdm-bridge/internal/platform/correlator"
	"github.com/hrp/abdm-bridge/internal/platform/crypto"
	"github.com/hrp/abdm-bridge/internal/platform/gateway"
	"github.com/hrp/abdm-bridge/internal/platform/hrp"
	"github.com/hrp/abdm-bridge/internal/platform/worker"
)

type postRecord struct {
	Path    string
	Payload interface{}
}

type stubGateway struct {
	posts  []postRecord
	err    error
	onPost func(path string, payload interface{})
}

func (g *stubGateway) Post(_ context.Context, path string, payload interface{}) (map[string]interface{}, error) {
	g.posts = append(g.posts, postRecord{Path: path, Payload: payload})
	if g.onPost != nil {
		g.onPost(path, payload)
	}
	return nil, g.err
}

func (g *stubGateway) postsTo(path string) []postRecord {
	var out []postRecord
	for _, p := range g.posts {
		if p.Path == path {
			out = append(out, p)
		}
	}
	return out
}

type stubData struct {
	records map[string][]hrp.HealthRecord
	err     error
}

func (d *stubData) FetchHealthData(_ context.Context, req hrp.HealthDataRequest) ([]hrp.HealthRecord, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.records[req.CareContextReference], nil
}

type testEnv struct {
	repo     *InMemoryRepository
	consents *consent.InMemoryRepository
	links    *linking.InMemoryRepository
	gw       *stubGateway
	corr     *correlator.Correlator
	svc      *Service
}

func newTestEnv(t *testing.T, collab hrp.Collaborators, entriesPerPage int, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:     NewInMemoryRepository(),
		consents: consent.NewInMemoryRepository(),
		links:    linking.NewInMemoryRepository(),
		gw:       &stubGateway{},
		corr:     correlator.New(correlator.NewInMemoryStore(), time.Second),
	}
	runner := worker.NewRunner(zerolog.Nop(), gateway.IsRetryable, worker.WithBaseDelay(time.Millisecond))
	cfg := ServiceConfig{
		HIPID:          "HIP-1",
		HIUID:          "HIU-1",
		DataPushURL:    "https://hiu.example/push",
		EntriesPerPage: entriesPerPage,
		PollAttempts:   5,
		PollInterval:   5 * time.Millisecond,
	}
	env.svc = NewService(env.repo, env.consents, env.links, env.gw, env.corr, runner, collab, cfg, zerolog.Nop(), opts...)
	return env
}

func storeArtefact(t *testing.T, repo *consent.InMemoryRepository, artefactID, patientRef string, refs []string, from, to, eraseAt time.Time) {
	t.Helper()
	ccs := make([]consent.CareContext, 0, len(refs))
	for _, ref := range refs {
		ccs = append(ccs, consent.CareContext{PatientReference: patientRef, CareContextReference: ref})
	}
	detail := consent.Detail{
		Patient:      consent.Actor{ID: patientRef},
		CareContexts: ccs,
		Purpose:      consent.Purpose{Code: "CAREMGT", Text: "Care Management"},
		HITypes:      []string{"Prescription", "DiagnosticReport"},
		Permission: consent.Permission{
			AccessMode:  "VIEW",
			DateRange:   consent.DateRange{From: from, To: to},
			DataEraseAt: eraseAt,
		},
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		t.Fatalf("marshal detail: %v", err)
	}
	art := &consent.Artefact{
		ArtefactID: artefactID,
		Details:    raw,
		Signature:  "sig",
		ExpiryDate: eraseAt,
	}
	if err := repo.SaveArtefact(context.Background(), art); err != nil {
		t.Fatalf("save artefact: %v", err)
	}
}

func linkContexts(t *testing.T, repo *linking.InMemoryRepository, patientRef string, refs []string, hiTypes []string) {
	t.Helper()
	lr := &linking.LinkRequest{
		HIPID:            "HIP-1",
		PatientReference: patientRef,
		PatientDisplay:   "Test Patient",
		Initiator:        linking.InitiatorHIP,
		Status:           linking.LinkSuccess,
	}
	ccs := make([]*linking.CareContext, 0, len(refs))
	for _, ref := range refs {
		ccs = append(ccs, &linking.CareContext{Reference: ref, Display: ref, HITypes: hiTypes})
	}
	if err := repo.CreateLinkRequest(context.Background(), lr, ccs); err != nil {
		t.Fatalf("create link request: %v", err)
	}
}

func requesterCallback(t *testing.T, consentID, pushURL string, from, to time.Time) (*HIPRequestCallback, *crypto.KeyMaterial) {
	t.Helper()
	km, err := crypto.GenerateKeyMaterial()
	if err != nil {
		t.Fatalf("generate key material: %v", err)
	}
	tm, err := km.TransferMaterial(false)
	if err != nil {
		t.Fatalf("transfer material: %v", err)
	}
	cb := &HIPRequestCallback{TransactionID: "txn-1"}
	cb.RequestID = "gw-req-1"
	cb.HIRequest.Consent.ID = consentID
	cb.HIRequest.DateRange.From = from
	cb.HIRequest.DateRange.To = to
	cb.HIRequest.DataPushURL = pushURL
	cb.HIRequest.KeyMaterial = *tm
	return cb, km
}

func capturePushes(t *testing.T, pushes *[]DataPush, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var push DataPush
		if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
			t.Errorf("decode push: %v", err)
		}
		*pushes = append(*pushes, push)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcessHIPRequestGates(t *testing.T) {
	now := time.Now().UTC()
	from := now.Add(-30 * 24 * time.Hour)
	to := now.Add(-time.Hour)

	cases := []struct {
		name     string
		prepare  func(t *testing.T, env *testEnv, cb *HIPRequestCallback)
		wantCode int
	}{
		{
			name:     "artefact not found",
			prepare:  func(t *testing.T, env *testEnv, cb *HIPRequestCallback) {},
			wantCode: 3416,
		},
		{
			name: "key pair expired",
			prepare: func(t *testing.T, env *testEnv, cb *HIPRequestCallback) {
				storeArtefact(t, env.consents, cb.HIRequest.Consent.ID, "PAT-1", []string{"CC-1"}, from, to, now.Add(time.Hour))
				cb.HIRequest.KeyMaterial.DHPublicKey.Expiry = now.Add(-time.Minute).Format(gateway.TimestampLayout)
			},
			wantCode: 3410,
		},
		{
			name: "malformed key material expiry",
			prepare: func(t *testing.T, env *testEnv, cb *HIPRequestCallback) {
				storeArtefact(t, env.consents, cb.HIRequest.Consent.ID, "PAT-1", []string{"CC-1"}, from, to, now.Add(time.Hour))
				cb.HIRequest.KeyMaterial.DHPublicKey.Expiry = "not-a-timestamp"
			},
			wantCode: 3410,
		},
		{
			name: "artefact expired",
			prepare: func(t *testing.T, env *testEnv, cb *HIPRequestCallback) {
				storeArtefact(t, env.consents, cb.HIRequest.Consent.ID, "PAT-1", []string{"CC-1"}, from, to, now.Add(-time.Minute))
			},
			wantCode: 3418,
		},
		{
			name: "date range outside consent",
			prepare: func(t *testing.T, env *testEnv, cb *HIPRequestCallback) {
				storeArtefact(t, env.consents, cb.HIRequest.Consent.ID, "PAT-1", []string{"CC-1"}, from, to, now.Add(time.Hour))
				cb.HIRequest.DateRange.From = from.Add(-24 * time.Hour)
			},
			wantCode: 3419,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, hrp.Collaborators{}, 10)
			cb, _ := requesterCallback(t, "consent-1", "https://hiu.example/push", from, to)
			tc.prepare(t, env, cb)

			if err := env.svc.ProcessHIPRequest(context.Background(), cb); err != nil {
				t.Fatalf("ProcessHIPRequest: %v", err)
			}

			posts := env.gw.postsTo(gateway.PathHealthInfoHIPOnRequest)
			if len(posts) != 1 {
				t.Fatalf("on-request posts = %d, want 1", len(posts))
			}
			payload := posts[0].Payload.(map[string]interface{})
			errBlock, ok := payload["error"].(map[string]interface{})
			if !ok {
				t.Fatalf("on-request payload has no error block: %v", payload)
			}
			if got := errBlock["code"].(int); got != tc.wantCode {
				t.Fatalf("error code = %d, want %d", got, tc.wantCode)
			}
			if notifies := env.gw.postsTo(gateway.PathHealthInfoNotify); len(notifies) != 0 {
				t.Fatalf("gated job still notified: %d", len(notifies))
			}

			job, err := env.repo.GetHIPRequestByTransaction(context.Background(), cb.TransactionID)
			if err != nil {
				t.Fatalf("load job: %v", err)
			}
			if job.Status != SessionError {
				t.Fatalf("job status = %s, want %s", job.Status, SessionError)
			}
		})
	}
}

func TestProcessHIPRequestPartialOutcomes(t *testing.T) {
	now := time.Now().UTC()
	from := now.Add(-30 * 24 * time.Hour)
	to := now.Add(-time.Hour)

	data := &stubData{records: map[string][]hrp.HealthRecord{
		"CC-1": {{Content: json.RawMessage(`{"resourceType":"Bundle","id":"b1"}`), HIType: "Prescription"}},
	}}
	env := newTestEnv(t, hrp.Collaborators{Data: data}, 10)

	var pushes []DataPush
	srv := capturePushes(t, &pushes, http.StatusOK)

	storeArtefact(t, env.consents, "consent-1", "PAT-1", []string{"CC-1", "CC-2", "CC-3"}, from, to, now.Add(time.Hour))
	linkContexts(t, env.links, "PAT-1", []string{"CC-1", "CC-3"}, []string{"Prescription"})

	cb, _ := requesterCallback(t, "consent-1", srv.URL, from, to)
	if err := env.svc.ProcessHIPRequest(context.Background(), cb); err != nil {
		t.Fatalf("ProcessHIPRequest: %v", err)
	}

	notifies := env.gw.postsTo(gateway.PathHealthInfoNotify)
	if len(notifies) != 1 {
		t.Fatalf("notify posts = %d, want 1", len(notifies))
	}
	payload := notifies[0].Payload.(map[string]interface{})
	notification := payload["notification"].(map[string]interface{})
	statusNotification := notification["statusNotification"].(map[string]interface{})
	if got := statusNotification["sessionStatus"].(string); got != string(SessionFailed) {
		t.Fatalf("sessionStatus = %s, want %s", got, SessionFailed)
	}
	outcomes := statusNotification["statusResponses"].([]CareContextStatus)
	if len(outcomes) != 3 {
		t.Fatalf("statusResponses = %d, want 3", len(outcomes))
	}
	want := []CareContextStatus{
		{Reference: "CC-1", Status: ItemDelivered, Description: "Delivered"},
		{Reference: "CC-2", Status: ItemErrored, Description: "Linked Care Context not found for CC-2"},
		{Reference: "CC-3", Status: ItemErrored, Description: "No health record available from HRP for CC-3"},
	}
	for i, w := range want {
		if outcomes[i] != w {
			t.Fatalf("outcome[%d] = %+v, want %+v", i, outcomes[i], w)
		}
	}

	if len(pushes) != 1 {
		t.Fatalf("pushes = %d, want 1", len(pushes))
	}
	if len(pushes[0].Entries) != 1 || pushes[0].Entries[0].CareContextReference != "CC-1" {
		t.Fatalf("pushed entries = %+v", pushes[0].Entries)
	}

	job, err := env.repo.GetHIPRequestByTransaction(context.Background(), cb.TransactionID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != SessionFailed {
		t.Fatalf("job status = %s, want %s", job.Status, SessionFailed)
	}
}

type failingLinks struct {
	err error
}

func (f *failingLinks) FindCareContext(context.Context, string, string) (*linking.CareContext, error) {
	return nil, f.err
}

func TestProcessHIPRequestLinkLookupFailure(t *testing.T) {
	now := time.Now().UTC()
	from := now.Add(-30 * 24 * time.Hour)
	to := now.Add(-time.Hour)

	env := newTestEnv(t, hrp.Collaborators{Data: &stubData{}}, 10)
	env.svc.links = &failingLinks{err: errors.New("link store offline")}
	var pushes []DataPush
	srv := capturePushes(t, &pushes, http.StatusOK)

	storeArtefact(t, env.consents, "consent-1", "PAT-1", []string{"CC-1"}, from, to, now.Add(time.Hour))

	cb, _ := requesterCallback(t, "consent-1", srv.URL, from, to)
	if err := env.svc.ProcessHIPRequest(context.Background(), cb); err != nil {
		t.Fatalf("ProcessHIPRequest: %v", err)
	}

	notifies := env.gw.postsTo(gateway.PathHealthInfoNotify)
	if len(notifies) != 1 {
		t.Fatalf("notify posts = %d, want 1", len(notifies))
	}
	statusNotification := notifies[0].Payload.(map[string]interface{})["notification"].(map[string]interface{})["statusNotification"].(map[string]interface{})
	outcomes := statusNotification["statusResponses"].([]CareContextStatus)
	if outcomes[0].Status != ItemErrored {
		t.Fatalf("outcome status = %s, want %s", outcomes[0].Status, ItemErrored)
	}
	want := "Error occurred while resolving linked care context for CC-1: link store offline"
	if outcomes[0].Description != want {
		t.Fatalf("description = %q, want %q", outcomes[0].Description, want)
	}
	if len(pushes) != 0 {
		t.Fatalf("pushes = %d, want 0", len(pushes))
	}
}

func TestProcessHIPRequestHITypeMismatch(t *testing.T) {
	now := time.Now().UTC()
	from := now.Add(-30 * 24 * time.Hour)
	to := now.Add(-time.Hour)

	env := newTestEnv(t, hrp.Collaborators{Data: &stubData{}}, 10)
	var pushes []DataPush
	srv := capturePushes(t, &pushes, http.StatusOK)

	storeArtefact(t, env.consents, "consent-1", "PAT-1", []string{"CC-1"}, from, to, now.Add(time.Hour))
	linkContexts(t, env.links, "PAT-1", []string{"CC-1"}, []string{"WellnessRecord"})

	cb, _ := requesterCallback(t, "consent-1", srv.URL, from, to)
	if err := env.svc.ProcessHIPRequest(context.Background(), cb); err != nil {
		t.Fatalf("ProcessHIPRequest: %v", err)
	}

	notifies := env.gw.postsTo(gateway.PathHealthInfoNotify)
	if len(notifies) != 1 {
		t.Fatalf("notify posts = %d, want 1", len(notifies))
	}
	statusNotification := notifies[0].Payload.(map[string]interface{})["notification"].(map[string]interface{})["statusNotification"].(map[string]interface{})
	outcomes := statusNotification["statusResponses"].([]CareContextStatus)
	if outcomes[0].Description != "Validation failed for HI Types for care context: CC-1" {
		t.Fatalf("description = %q", outcomes[0].Description)
	}
	if len(pushes) != 0 {
		t.Fatalf("pushes = %d, want 0", len(pushes))
	}
}

func TestProcessHIPRequestPushFailure(t *testing.T) {
	now := time.Now().UTC()
	from := now.Add(-30 * 24 * time.Hour)
	to := now.Add(-time.Hour)

	data := &stubData{records: map[string][]hrp.HealthRecord{
		"CC-1": {{Content: json.RawMessage(`{"resourceType":"Bundle"}`), HIType: "Prescription"}},
	}}
	env := newTestEnv(t, hrp.Collaborators{Data: data}, 10)
	var pushes []DataPush
	srv := capturePushes(t, &pushes, http.StatusInternalServerError)

	storeArtefact(t, env.consents, "consent-1", "PAT-1", []string{"CC-1"}, from, to, now.Add(time.Hour))
	linkContexts(t, env.links, "PAT-1", []string{"CC-1"}, []string{"Prescription"})

	cb, _ := requesterCallback(t, "consent-1", srv.URL, from, to)
	if err := env.svc.ProcessHIPRequest(context.Background(), cb); err != nil {
		t.Fatalf("ProcessHIPRequest: %v", err)
	}

	statusNotification := env.gw.postsTo(gateway.PathHealthInfoNotify)[0].Payload.(map[string]interface{})["notification"].(map[string]interface{})["statusNotification"].(map[string]interface{})
	outcomes := statusNotification["statusResponses"].([]CareContextStatus)
	if outcomes[0].Status != ItemErrored {
		t.Fatalf("outcome status = %s, want %s", outcomes[0].Status, ItemErrored)
	}
	if !strings.HasPrefix(outcomes[0].Description, "Error occurred while sending health data to HIU: ") {
		t.Fatalf("description = %q", outcomes[0].Description)
	}
}

func TestProcessHIPRequestPagination(t *testing.T) {
	now := time.Now().UTC()
	from := now.Add(-30 * 24 * time.Hour)
	to := now.Add(-time.Hour)

	data := &stubData{records: map[string][]hrp.HealthRecord{
		"CC-1": {{Content: json.RawMessage(`{"id":"r1"}`), HIType: "Prescription"}},
		"CC-2": {{Content: json.RawMessage(`{"id":"r2"}`), HIType: "Prescription"}},
	}}
	env := newTestEnv(t, hrp.Collaborators{Data: data}, 1)
	var pushes []DataPush
	srv := capturePushes(t, &pushes, http.StatusOK)

	storeArtefact(t, env.consents, "consent-1", "PAT-1", []string{"CC-1", "CC-2"}, from, to, now.Add(time.Hour))
	linkContexts(t, env.links, "PAT-1", []string{"CC-1", "CC-2"}, []string{"Prescription"})

	cb, _ := requesterCallback(t, "consent-1", srv.URL, from, to)
	if err := env.svc.ProcessHIPRequest(context.Background(), cb); err != nil {
		t.Fatalf("ProcessHIPRequest: %v", err)
	}

	if len(pushes) != 2 {
		t.Fatalf("pushes = %d, want 2", len(pushes))
	}
	for i, push := range pushes {
		if push.PageNumber != i+1 || push.PageCount != 2 {
			t.Fatalf("push %d: page %d/%d", i, push.PageNumber, push.PageCount)
		}
		wantRef := fmt.Sprintf("CC-%d", i+1)
		if len(push.Entries) != 1 || push.Entries[0].CareContextReference != wantRef {
			t.Fatalf("push %d entries = %+v", i, push.Entries)
		}
	}

	job, err := env.repo.GetHIPRequestByTransaction(context.Background(), cb.TransactionID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job.Status != SessionTransferred {
		t.Fatalf("job status = %s, want %s", job.Status, SessionTransferred)
	}
	transfers, err := env.repo.ListTransfers(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("list transfers: %v", err)
	}
	if len(transfers) != 2 {
		t.Fatalf("transfer rows = %d, want 2", len(transfers))
	}
	for i, tr := range transfers {
		statuses, err := tr.Statuses()
		if err != nil {
			t.Fatalf("parse statuses: %v", err)
		}
		if len(statuses) != 1 || statuses[0].Reference != fmt.Sprintf("CC-%d", i+1) {
			t.Fatalf("transfer %d statuses = %+v", i, statuses)
		}
	}
}

func TestHealthDataRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	from := now.Add(-30 * 24 * time.Hour)
	to := now.Add(-time.Hour)
	original := `{"resourceType":"Bundle","id":"round-trip"}`

	data := &stubData{records: map[string][]hrp.HealthRecord{
		"CC-1": {{Content: json.RawMessage(original), HIType: "Prescription"}},
	}}
	env := newTestEnv(t, hrp.Collaborators{Data: data}, 10)
	var pushes []DataPush
	srv := capturePushes(t, &pushes, http.StatusOK)

	storeArtefact(t, env.consents, "consent-1", "PAT-1", []string{"CC-1"}, from, to, now.Add(time.Hour))
	linkContexts(t, env.links, "PAT-1", []string{"CC-1"}, []string{"Prescription"})

	cb, requesterKM := requesterCallback(t, "consent-1", srv.URL, from, to)
	if err := env.svc.ProcessHIPRequest(context.Background(), cb); err != nil {
		t.Fatalf("ProcessHIPRequest: %v", err)
	}
	if len(pushes) != 1 {
		t.Fatalf("pushes = %d, want 1", len(pushes))
	}
	if pushes[0].Entries[0].Content == original {
		t.Fatal("pushed content is not encrypted")
	}

	kmRaw, err := json.Marshal(requesterKM)
	if err != nil {
		t.Fatalf("marshal key material: %v", err)
	}
	req := &HIURequest{
		ArtefactID:       "consent-1",
		GatewayRequestID: "hiu-req-1",
		KeyMaterial:      kmRaw,
		Status:           SessionRequested,
	}
	if err := env.repo.CreateHIURequest(context.Background(), req); err != nil {
		t.Fatalf("create hiu request: %v", err)
	}
	txn := cb.TransactionID
	req.TransactionID = &txn
	if err := env.repo.UpdateHIURequest(context.Background(), req); err != nil {
		t.Fatalf("update hiu request: %v", err)
	}

	if err := env.svc.ReceiveData(context.Background(), &pushes[0]); err != nil {
		t.Fatalf("ReceiveData: %v", err)
	}

	stored, err := env.repo.ListHealthData(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("list health data: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored records = %d, want 1", len(stored))
	}
	if string(stored[0].Content) != original {
		t.Fatalf("decrypted content = %s, want %s", stored[0].Content, original)
	}

	updated, err := env.repo.GetHIURequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("load hiu request: %v", err)
	}
	if updated.Status != SessionTransferred {
		t.Fatalf("status = %s, want %s", updated.Status, SessionTransferred)
	}

	notifies := env.gw.postsTo(gateway.PathHealthInfoNotify)
	if len(notifies) != 2 {
		t.Fatalf("notify posts = %d, want 2", len(notifies))
	}
	notifier := notifies[1].Payload.(map[string]interface{})["notification"].(map[string]interface{})["notifier"].(map[string]string)
	if notifier["type"] != "HIU" || notifier["id"] != "HIU-1" {
		t.Fatalf("notifier = %v", notifier)
	}
}

func TestReceiveDataChecksumMismatch(t *testing.T) {
	now := time.Now().UTC()
	from := now.Add(-30 * 24 * time.Hour)
	to := now.Add(-time.Hour)

	data := &stubData{records: map[string][]hrp.HealthRecord{
		"CC-1": {{Content: json.RawMessage(`{"id":"r1"}`), HIType: "Prescription"}},
	}}
	env := newTestEnv(t, hrp.Collaborators{Data: data}, 10)
	var pushes []DataPush
	srv := capturePushes(t, &pushes, http.StatusOK)

	storeArtefact(t, env.consents, "consent-1", "PAT-1", []string{"CC-1"}, from, to, now.Add(time.Hour))
	linkContexts(t, env.links, "PAT-1", []string{"CC-1"}, []string{"Prescription"})

	cb, requesterKM := requesterCallback(t, "consent-1", srv.URL, from, to)
	if err := env.svc.ProcessHIPRequest(context.Background(), cb); err != nil {
		t.Fatalf("ProcessHIPRequest: %v", err)
	}

	kmRaw, _ := json.Marshal(requesterKM)
	txn := cb.TransactionID
	req := &HIURequest{ArtefactID: "consent-1", GatewayRequestID: "hiu-req-1", KeyMaterial: kmRaw, Status: SessionRequested}
	if err := env.repo.CreateHIURequest(context.Background(), req); err != nil {
		t.Fatalf("create hiu request: %v", err)
	}
	req.TransactionID = &txn
	if err := env.repo.UpdateHIURequest(context.Background(), req); err != nil {
		t.Fatalf("update hiu request: %v", err)
	}

	pushes[0].Entries[0].Checksum = crypto.Checksum([]byte("tampered"))
	if err := env.svc.ReceiveData(context.Background(), &pushes[0]); err != nil {
		t.Fatalf("ReceiveData: %v", err)
	}

	updated, err := env.repo.GetHIURequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("load hiu request: %v", err)
	}
	if updated.Status != SessionFailed {
		t.Fatalf("status = %s, want %s", updated.Status, SessionFailed)
	}
	if stored, _ := env.repo.ListHealthData(context.Background(), req.ID); len(stored) != 0 {
		t.Fatalf("stored records = %d, want 0", len(stored))
	}
}

func TestRequestHealthInformation(t *testing.T) {
	now := time.Now().UTC()
	env := newTestEnv(t, hrp.Collaborators{}, 10)
	storeArtefact(t, env.consents, "consent-1", "PAT-1", []string{"CC-1"},
		now.Add(-30*24*time.Hour), now, now.Add(time.Hour))

	env.gw.onPost = func(path string, payload interface{}) {
		if path != gateway.PathHealthInfoCMRequest {
			return
		}
		requestID := payload.(map[string]interface{})["requestId"].(string)
		cb := fmt.Sprintf(`{
			"requestId": "cb-1",
			"timestamp": %q,
			"hiRequest": {"transactionId": "txn-9", "sessionStatus": "ACKNOWLEDGED"},
			"resp": {"requestId": %q}
		}`, gateway.Timestamp(), requestID)
		env.corr.Deposit(requestID, []byte(cb))
	}

	req, err := env.svc.RequestHealthInformation(context.Background(), HIURequestInput{
		ArtefactID: "consent-1",
		From:       now.Add(-30 * 24 * time.Hour),
		To:         now,
	})
	if err != nil {
		t.Fatalf("RequestHealthInformation: %v", err)
	}
	if req.Status != SessionRequested {
		t.Fatalf("status = %s, want %s", req.Status, SessionRequested)
	}
	if req.TransactionID == nil || *req.TransactionID != "txn-9" {
		t.Fatalf("transaction id = %v, want txn-9", req.TransactionID)
	}
}

func TestRequestHealthInformationExpiredArtefact(t *testing.T) {
	now := time.Now().UTC()
	env := newTestEnv(t, hrp.Collaborators{}, 10)
	storeArtefact(t, env.consents, "consent-1", "PAT-1", []string{"CC-1"},
		now.Add(-30*24*time.Hour), now, now.Add(-time.Minute))

	_, err := env.svc.RequestHealthInformation(context.Background(), HIURequestInput{ArtefactID: "consent-1"})
	if !errors.Is(err, ErrConsentExpired) {
		t.Fatalf("err = %v, want ErrConsentExpired", err)
	}
	if len(env.gw.posts) != 0 {
		t.Fatalf("gateway posts = %d, want 0", len(env.gw.posts))
	}
}

func TestRequestHealthInformationCallbackTimeout(t *testing.T) {
	now := time.Now().UTC()
	env := newTestEnv(t, hrp.Collaborators{}, 10)
	env.svc.cfg.PollAttempts = 2
	storeArtefact(t, env.consents, "consent-1", "PAT-1", []string{"CC-1"},
		now.Add(-30*24*time.Hour), now, now.Add(time.Hour))

	_, err := env.svc.RequestHealthInformation(context.Background(), HIURequestInput{
		ArtefactID: "consent-1",
		From:       now.Add(-30 * 24 * time.Hour),
		To:         now,
	})
	var timeout *gateway.CallbackTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want CallbackTimeoutError", err)
	}

	reqs, _, listErr := env.repo.ListHIURequests(context.Background(), 10, 0)
	if listErr != nil {
		t.Fatalf("list requests: %v", listErr)
	}
	if len(reqs) != 1 || reqs[0].Status != SessionPending {
		t.Fatalf("requests = %+v, want one PENDING", reqs)
	}
}
