package linking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hrp/abdm-bridge/internal/platform/correlator"
	"github.com/hrp/abdm-bridge/internal/platform/gateway"
	"github.com/hrp/abdm-bridge/internal/platform/hrp"
	"github.com/hrp/abdm-bridge/internal/platform/worker"
)

type postRecord struct {
	Path    string
	Payload map[string]interface{}
}

type stubGateway struct {
	mu     sync.Mutex
	posts  []postRecord
	onPost func(path string, payload map[string]interface{})
}

func (g *stubGateway) Post(_ context.Context, path string, payload interface{}) (map[string]interface{}, error) {
	p, _ := payload.(map[string]interface{})
	g.mu.Lock()
	g.posts = append(g.posts, postRecord{Path: path, Payload: p})
	hook := g.onPost
	g.mu.Unlock()
	if hook != nil {
		hook(path, p)
	}
	return map[string]interface{}{}, nil
}

func (g *stubGateway) lastPost(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.posts) - 1; i >= 0; i-- {
		if g.posts[i].Path == path {
			return g.posts[i].Payload
		}
	}
	t.Fatalf("no post to %s", path)
	return nil
}

func (g *stubGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.posts)
}

type stubDiscovery struct {
	result *hrp.DiscoveryResult
	err    error
}

func (d *stubDiscovery) Discover(context.Context, hrp.PatientProfile) (*hrp.DiscoveryResult, error) {
	return d.result, d.err
}

type stubOTP struct {
	mu          sync.Mutex
	dispatchErr error
	verifyErr   error
	dispatched  int
	lastTxn     string
	lastOTP     string
}

func (o *stubOTP) Dispatch(_ context.Context, _ string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dispatchErr != nil {
		return "", o.dispatchErr
	}
	o.dispatched++
	return "otp-txn-1", nil
}

func (o *stubOTP) Verify(_ context.Context, transactionID, otp string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastTxn = transactionID
	o.lastOTP = otp
	return o.verifyErr
}

func newTestService(t *testing.T, collab hrp.Collaborators) (*Service, *InMemoryRepository, *stubGateway, *correlator.Correlator) {
	t.Helper()
	repo := NewInMemoryRepository()
	gw := &stubGateway{}
	corr := correlator.New(correlator.NewInMemoryStore(), time.Second)
	runner := worker.NewRunner(zerolog.Nop(), gateway.IsRetryable, worker.WithBaseDelay(time.Millisecond))
	svc := NewService(repo, gw, corr, runner, collab, ServiceConfig{
		HIPID:        "HIP-1",
		PollAttempts: 5,
		PollInterval: 5 * time.Millisecond,
	}, zerolog.Nop())
	return svc, repo, gw, corr
}

func linkSuccess(t *testing.T, repo *InMemoryRepository, patientRef string, refs ...string) {
	t.Helper()
	contexts := make([]*CareContext, 0, len(refs))
	for _, ref := range refs {
		contexts = append(contexts, &CareContext{Reference: ref, Display: "visit " + ref})
	}
	lr := &LinkRequest{
		HIPID:            "HIP-1",
		PatientReference: patientRef,
		Initiator:        InitiatorHIP,
		Status:           LinkSuccess,
	}
	if err := repo.CreateLinkRequest(context.Background(), lr, contexts); err != nil {
		t.Fatal(err)
	}
}

func TestProcessDiscoverFiltersLinkedContexts(t *testing.T) {
	discovery := &stubDiscovery{result: &hrp.DiscoveryResult{
		ReferenceNumber: "PT-1",
		Display:         "Asha Rao",
		MatchedBy:       []string{"MOBILE"},
		CareContexts: []hrp.CareContextRef{
			{ReferenceNumber: "CC-1", Display: "OPD visit"},
			{ReferenceNumber: "CC-2", Display: "Lab report"},
		},
	}}
	svc, repo, gw, _ := newTestService(t, hrp.Collaborators{Discovery: discovery})
	linkSuccess(t, repo, "PT-1", "CC-1")

	err := svc.ProcessDiscover(context.Background(), &DiscoverCallback{
		Envelope:      gateway.Envelope{RequestID: "cb-1"},
		TransactionID: "txn-1",
		Patient:       hrp.PatientProfile{ID: "asha@sbx"},
	})
	if err != nil {
		t.Fatalf("ProcessDiscover: %v", err)
	}

	payload := gw.lastPost(t, gateway.PathCareContextsOnDiscover)
	patient := payload["patient"].(map[string]interface{})
	contexts := patient["careContexts"].([]hrp.CareContextRef)
	if len(contexts) != 1 || contexts[0].ReferenceNumber != "CC-2" {
		t.Errorf("careContexts = %v, want only CC-2", contexts)
	}

	dr, err := repo.GetDiscoveryRequestByTransaction(context.Background(), "txn-1")
	if err != nil {
		t.Fatalf("snapshot not stored: %v", err)
	}
	var snapshot []hrp.CareContextRef
	if err := json.Unmarshal(dr.CareContexts, &snapshot); err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != 2 {
		t.Errorf("snapshot has %d contexts, want the unfiltered 2", len(snapshot))
	}
}

func TestProcessDiscoverTypedFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"no match", hrp.ErrPatientNotFound, codePatientNotFound},
		{"multiple matches", hrp.ErrMultipleMatches, codeMultipleMatches},
		{"internal", errors.New("lookup exploded"), codeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, gw, _ := newTestService(t, hrp.Collaborators{Discovery: &stubDiscovery{err: tc.err}})

			err := svc.ProcessDiscover(context.Background(), &DiscoverCallback{
				Envelope:      gateway.Envelope{RequestID: "cb-2"},
				TransactionID: "txn-2",
			})
			if err != nil {
				t.Fatalf("ProcessDiscover: %v", err)
			}

			payload := gw.lastPost(t, gateway.PathCareContextsOnDiscover)
			errBlock := payload["error"].(map[string]interface{})
			if errBlock["code"].(int) != tc.code {
				t.Errorf("code = %v, want %v", errBlock["code"], tc.code)
			}
			if _, err := repo.GetDiscoveryRequestByTransaction(context.Background(), "txn-2"); err != nil {
				t.Errorf("failure snapshot not stored: %v", err)
			}
		})
	}
}

func discoverySnapshot(t *testing.T, repo *InMemoryRepository, txn, patientRef string, refs ...string) {
	t.Helper()
	contexts := make([]hrp.CareContextRef, 0, len(refs))
	for _, ref := range refs {
		contexts = append(contexts, hrp.CareContextRef{ReferenceNumber: ref, Display: "visit " + ref})
	}
	raw, err := json.Marshal(contexts)
	if err != nil {
		t.Fatal(err)
	}
	err = repo.CreateDiscoveryRequest(context.Background(), &DiscoveryRequest{
		TransactionID:    txn,
		PatientReference: &patientRef,
		CareContexts:     raw,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestProcessLinkInit(t *testing.T) {
	otp := &stubOTP{}
	svc, repo, gw, _ := newTestService(t, hrp.Collaborators{OTP: otp})
	discoverySnapshot(t, repo, "txn-3", "PT-3", "CC-1", "CC-2")

	cb := &LinkInitCallback{
		Envelope:      gateway.Envelope{RequestID: "cb-3"},
		TransactionID: "txn-3",
	}
	cb.Patient.ReferenceNumber = "PT-3"
	cb.Patient.CareContexts = []LinkInitCareContext{{ReferenceNumber: "CC-2"}}

	if err := svc.ProcessLinkInit(context.Background(), cb); err != nil {
		t.Fatalf("ProcessLinkInit: %v", err)
	}
	if otp.dispatched != 1 {
		t.Errorf("otp dispatched %d times, want 1", otp.dispatched)
	}

	payload := gw.lastPost(t, gateway.PathLinkOnInit)
	link := payload["link"].(map[string]interface{})
	linkRef := link["referenceNumber"].(string)
	if linkRef == "" {
		t.Fatal("no link reference in on-init")
	}

	plr, err := repo.GetPatientLinkRequestByRef(context.Background(), linkRef)
	if err != nil {
		t.Fatalf("patient link request not stored: %v", err)
	}
	if plr.OTPTransactionID != "otp-txn-1" {
		t.Errorf("otp transaction = %q", plr.OTPTransactionID)
	}
	lr, err := repo.GetLinkRequest(context.Background(), plr.LinkRequestID)
	if err != nil {
		t.Fatalf("link request not stored: %v", err)
	}
	if lr.Status != LinkPending || lr.Initiator != InitiatorPatient {
		t.Errorf("link request status=%s initiator=%s", lr.Status, lr.Initiator)
	}
}

func TestProcessLinkInitValidation(t *testing.T) {
	svc, repo, gw, _ := newTestService(t, hrp.Collaborators{OTP: &stubOTP{}})
	discoverySnapshot(t, repo, "txn-4", "PT-4", "CC-1")

	cases := []struct {
		name   string
		txn    string
		ref    string
		chosen []LinkInitCareContext
	}{
		{"unknown transaction", "nope", "PT-4", []LinkInitCareContext{{ReferenceNumber: "CC-1"}}},
		{"wrong patient", "txn-4", "PT-9", []LinkInitCareContext{{ReferenceNumber: "CC-1"}}},
		{"undiscovered context", "txn-4", "PT-4", []LinkInitCareContext{{ReferenceNumber: "CC-9"}}},
		{"no contexts", "txn-4", "PT-4", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cb := &LinkInitCallback{Envelope: gateway.Envelope{RequestID: "cb-4"}, TransactionID: tc.txn}
			cb.Patient.ReferenceNumber = tc.ref
			cb.Patient.CareContexts = tc.chosen

			if err := svc.ProcessLinkInit(context.Background(), cb); err != nil {
				t.Fatalf("ProcessLinkInit: %v", err)
			}
			payload := gw.lastPost(t, gateway.PathLinkOnInit)
			errBlock, ok := payload["error"].(map[string]interface{})
			if !ok {
				t.Fatal("expected error block in on-init")
			}
			if errBlock["code"].(int) != codeValidation {
				t.Errorf("code = %v, want %d", errBlock["code"], codeValidation)
			}
		})
	}
}

func TestProcessLinkInitOTPFailureKeepsRecord(t *testing.T) {
	otp := &stubOTP{dispatchErr: errors.New("sms provider down")}
	svc, repo, gw, _ := newTestService(t, hrp.Collaborators{OTP: otp})
	discoverySnapshot(t, repo, "txn-5", "PT-5", "CC-1")

	cb := &LinkInitCallback{Envelope: gateway.Envelope{RequestID: "cb-5"}, TransactionID: "txn-5"}
	cb.Patient.ReferenceNumber = "PT-5"
	cb.Patient.CareContexts = []LinkInitCareContext{{ReferenceNumber: "CC-1"}}

	if err := svc.ProcessLinkInit(context.Background(), cb); err != nil {
		t.Fatalf("ProcessLinkInit: %v", err)
	}

	payload := gw.lastPost(t, gateway.PathLinkOnInit)
	link := payload["link"].(map[string]interface{})
	plr, err := repo.GetPatientLinkRequestByRef(context.Background(), link["referenceNumber"].(string))
	if err != nil {
		t.Fatalf("patient link request not stored: %v", err)
	}
	lr, err := repo.GetLinkRequest(context.Background(), plr.LinkRequestID)
	if err != nil {
		t.Fatal(err)
	}
	if lr.ErrorMessage == nil || *lr.ErrorMessage != "sms provider down" {
		t.Errorf("dispatch failure not recorded: %v", lr.ErrorMessage)
	}
}

func initLink(t *testing.T, svc *Service, repo *InMemoryRepository, gw *stubGateway, txn, patientRef string) string {
	t.Helper()
	discoverySnapshot(t, repo, txn, patientRef, "CC-1")
	cb := &LinkInitCallback{Envelope: gateway.Envelope{RequestID: "cb-init"}, TransactionID: txn}
	cb.Patient.ReferenceNumber = patientRef
	cb.Patient.CareContexts = []LinkInitCareContext{{ReferenceNumber: "CC-1"}}
	if err := svc.ProcessLinkInit(context.Background(), cb); err != nil {
		t.Fatal(err)
	}
	payload := gw.lastPost(t, gateway.PathLinkOnInit)
	return payload["link"].(map[string]interface{})["referenceNumber"].(string)
}

func TestProcessLinkConfirmSuccess(t *testing.T) {
	otp := &stubOTP{}
	svc, repo, gw, _ := newTestService(t, hrp.Collaborators{OTP: otp})
	linkRef := initLink(t, svc, repo, gw, "txn-6", "PT-6")

	cb := &LinkConfirmCallback{Envelope: gateway.Envelope{RequestID: "cb-6"}}
	cb.Confirmation.LinkRefNumber = linkRef
	cb.Confirmation.Token = "123456"

	if err := svc.ProcessLinkConfirm(context.Background(), cb); err != nil {
		t.Fatalf("ProcessLinkConfirm: %v", err)
	}
	if otp.lastTxn != "otp-txn-1" || otp.lastOTP != "123456" {
		t.Errorf("verify called with txn=%q otp=%q", otp.lastTxn, otp.lastOTP)
	}

	plr, _ := repo.GetPatientLinkRequestByRef(context.Background(), linkRef)
	if plr.Status != LinkSuccess {
		t.Errorf("patient link status = %s, want SUCCESS", plr.Status)
	}
	lr, _ := repo.GetLinkRequest(context.Background(), plr.LinkRequestID)
	if lr.Status != LinkSuccess {
		t.Errorf("link request status = %s, want SUCCESS", lr.Status)
	}

	payload := gw.lastPost(t, gateway.PathLinkOnConfirm)
	patient := payload["patient"].(map[string]interface{})
	if patient["referenceNumber"].(string) != "PT-6" {
		t.Errorf("on-confirm patient = %v", patient["referenceNumber"])
	}
}

func TestProcessLinkConfirmInvalidOTP(t *testing.T) {
	otp := &stubOTP{verifyErr: hrp.ErrOTPMismatch}
	svc, repo, gw, _ := newTestService(t, hrp.Collaborators{OTP: otp})
	linkRef := initLink(t, svc, repo, gw, "txn-7", "PT-7")

	cb := &LinkConfirmCallback{Envelope: gateway.Envelope{RequestID: "cb-7"}}
	cb.Confirmation.LinkRefNumber = linkRef
	cb.Confirmation.Token = "000000"

	if err := svc.ProcessLinkConfirm(context.Background(), cb); err != nil {
		t.Fatalf("ProcessLinkConfirm: %v", err)
	}

	plr, _ := repo.GetPatientLinkRequestByRef(context.Background(), linkRef)
	lr, _ := repo.GetLinkRequest(context.Background(), plr.LinkRequestID)
	if lr.Status != LinkError {
		t.Errorf("link request status = %s, want ERROR", lr.Status)
	}

	payload := gw.lastPost(t, gateway.PathLinkOnConfirm)
	errBlock := payload["error"].(map[string]interface{})
	if errBlock["code"].(int) != codeInvalidOTP {
		t.Errorf("code = %v, want %d", errBlock["code"], codeInvalidOTP)
	}
	if errBlock["message"].(string) != "Invalid OTP" {
		t.Errorf("message = %v", errBlock["message"])
	}
}

func TestProcessLinkConfirmUnknownReference(t *testing.T) {
	svc, _, gw, _ := newTestService(t, hrp.Collaborators{OTP: &stubOTP{}})

	cb := &LinkConfirmCallback{Envelope: gateway.Envelope{RequestID: "cb-8"}}
	cb.Confirmation.LinkRefNumber = "no-such-ref"

	if err := svc.ProcessLinkConfirm(context.Background(), cb); err != nil {
		t.Fatalf("ProcessLinkConfirm: %v", err)
	}
	payload := gw.lastPost(t, gateway.PathLinkOnConfirm)
	errBlock := payload["error"].(map[string]interface{})
	if errBlock["code"].(int) != codeValidation {
		t.Errorf("code = %v, want %d", errBlock["code"], codeValidation)
	}
}

func TestLinkCareContextsAlreadyLinked(t *testing.T) {
	svc, repo, gw, _ := newTestService(t, hrp.Collaborators{})
	linkSuccess(t, repo, "PT-8", "CC-1", "CC-2")

	_, err := svc.LinkCareContexts(context.Background(), LinkInput{
		PatientReference: "PT-8",
		AccessToken:      "tok",
		CareContexts:     []LinkInputCareContext{{Reference: "CC-1", Display: "OPD"}},
	})
	var already *AlreadyLinkedError
	if !errors.As(err, &already) {
		t.Fatalf("err = %v, want AlreadyLinkedError", err)
	}
	if len(already.Refs) != 1 || already.Refs[0] != "CC-1" {
		t.Errorf("refs = %v, want [CC-1]", already.Refs)
	}
	if already.Error() != "CC-1 care contexts are already linked" {
		t.Errorf("message = %q", already.Error())
	}
	if gw.count() != 0 {
		t.Error("gateway contacted despite idempotency failure")
	}
	if _, total, _ := repo.ListLinkRequests(context.Background(), 10, 0); total != 1 {
		t.Errorf("link requests = %d, want only the pre-existing 1", total)
	}
}

func TestLinkCareContextsSuccess(t *testing.T) {
	svc, repo, gw, corr := newTestService(t, hrp.Collaborators{})
	gw.onPost = func(path string, payload map[string]interface{}) {
		if path != gateway.PathLinkAddContexts {
			return
		}
		cb, _ := json.Marshal(map[string]interface{}{
			"requestId":       "gw-cb",
			"timestamp":       gateway.Timestamp(),
			"acknowledgement": map[string]string{"status": "SUCCESS"},
			"resp":            map[string]string{"requestId": payload["requestId"].(string)},
		})
		corr.Deposit(payload["requestId"].(string), cb)
	}

	lr, err := svc.LinkCareContexts(context.Background(), LinkInput{
		PatientReference: "PT-9",
		PatientDisplay:   "Asha Rao",
		AccessToken:      "tok",
		CareContexts: []LinkInputCareContext{
			{Reference: "CC-1", Display: "OPD", HITypes: []string{"Prescription"}},
		},
	})
	if err != nil {
		t.Fatalf("LinkCareContexts: %v", err)
	}
	if lr.Status != LinkSuccess {
		t.Errorf("status = %s, want SUCCESS", lr.Status)
	}

	cc, err := repo.FindCareContext(context.Background(), "PT-9", "CC-1")
	if err != nil {
		t.Fatalf("care context not linked: %v", err)
	}
	if len(cc.HITypes) != 1 || cc.HITypes[0] != "Prescription" {
		t.Errorf("hi types = %v", cc.HITypes)
	}
}

func TestLinkCareContextsCallbackTimeout(t *testing.T) {
	svc, _, _, _ := newTestService(t, hrp.Collaborators{})
	svc.cfg.PollAttempts = 2
	svc.cfg.PollInterval = time.Millisecond

	_, err := svc.LinkCareContexts(context.Background(), LinkInput{
		PatientReference: "PT-10",
		AccessToken:      "tok",
		CareContexts:     []LinkInputCareContext{{Reference: "CC-1"}},
	})
	var timeout *gateway.CallbackTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want CallbackTimeoutError", err)
	}
}

func addContextsCallbackBody(t *testing.T, gatewayRequestID string, errBlock map[string]interface{}) []byte {
	t.Helper()
	payload := map[string]interface{}{
		"requestId":       "gw-cb",
		"timestamp":       gateway.Timestamp(),
		"acknowledgement": map[string]string{"status": "SUCCESS"},
		"resp":            map[string]string{"requestId": gatewayRequestID},
	}
	if errBlock != nil {
		delete(payload, "acknowledgement")
		payload["error"] = errBlock
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestProcessAddContextsAckAfterWaiterGaveUp(t *testing.T) {
	svc, repo, _, _ := newTestService(t, hrp.Collaborators{})
	svc.cfg.PollAttempts = 2
	svc.cfg.PollInterval = time.Millisecond

	_, err := svc.LinkCareContexts(context.Background(), LinkInput{
		PatientReference: "PT-11",
		AccessToken:      "tok",
		CareContexts:     []LinkInputCareContext{{Reference: "CC-1"}},
	})
	var timeout *gateway.CallbackTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want CallbackTimeoutError", err)
	}

	items, _, err := repo.ListLinkRequests(context.Background(), 10, 0)
	if err != nil || len(items) != 1 {
		t.Fatalf("link requests = %v (%v)", items, err)
	}
	if items[0].Status != LinkPending {
		t.Fatalf("status before ack = %s, want PENDING", items[0].Status)
	}

	// The gateway confirms after the waiter gave up; the stored request
	// must still pick up the verdict.
	body := addContextsCallbackBody(t, *items[0].GatewayRequestID, nil)
	if err := svc.ProcessAddContextsAck(context.Background(), body); err != nil {
		t.Fatalf("ProcessAddContextsAck: %v", err)
	}

	lr, err := repo.GetLinkRequest(context.Background(), items[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if lr.Status != LinkSuccess {
		t.Errorf("status after late ack = %s, want SUCCESS", lr.Status)
	}
}

func TestProcessAddContextsAckRecordsGatewayError(t *testing.T) {
	svc, repo, _, _ := newTestService(t, hrp.Collaborators{})
	svc.cfg.PollAttempts = 2
	svc.cfg.PollInterval = time.Millisecond

	_, err := svc.LinkCareContexts(context.Background(), LinkInput{
		PatientReference: "PT-12",
		AccessToken:      "tok",
		CareContexts:     []LinkInputCareContext{{Reference: "CC-1"}},
	})
	var timeout *gateway.CallbackTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want CallbackTimeoutError", err)
	}
	items, _, _ := repo.ListLinkRequests(context.Background(), 10, 0)

	body := addContextsCallbackBody(t, *items[0].GatewayRequestID,
		map[string]interface{}{"code": 1413, "message": "invalid access token"})
	if err := svc.ProcessAddContextsAck(context.Background(), body); err != nil {
		t.Fatalf("ProcessAddContextsAck: %v", err)
	}

	lr, _ := repo.GetLinkRequest(context.Background(), items[0].ID)
	if lr.Status != LinkError {
		t.Errorf("status = %s, want ERROR", lr.Status)
	}
	if lr.ErrorMessage == nil {
		t.Error("gateway error message not recorded")
	}
}

func TestProcessAddContextsAckUnknownRequestStillDeposits(t *testing.T) {
	svc, _, _, corr := newTestService(t, hrp.Collaborators{})

	body := addContextsCallbackBody(t, "never-sent", nil)
	if err := svc.ProcessAddContextsAck(context.Background(), body); err != nil {
		t.Fatalf("ProcessAddContextsAck: %v", err)
	}
	if _, ok := corr.Await(context.Background(), "never-sent", 1, time.Millisecond); !ok {
		t.Error("callback was not deposited for the waiting flow")
	}
}

// ---- user auth ----

func depositAuthCallback(corr *correlator.Correlator, auth map[string]interface{}) func(string, map[string]interface{}) {
	return func(path string, payload map[string]interface{}) {
		cb, _ := json.Marshal(map[string]interface{}{
			"requestId": "gw-cb",
			"timestamp": gateway.Timestamp(),
			"auth":      auth,
			"resp":      map[string]string{"requestId": payload["requestId"].(string)},
		})
		corr.Deposit(payload["requestId"].(string), cb)
	}
}

func TestFetchAuthModesStripsDirect(t *testing.T) {
	svc, _, gw, corr := newTestService(t, hrp.Collaborators{})
	gw.onPost = depositAuthCallback(corr, map[string]interface{}{
		"purpose": AuthPurposeLink,
		"modes":   []string{"MOBILE_OTP", "DIRECT", "DEMOGRAPHICS"},
	})

	modes, err := svc.FetchAuthModes(context.Background(), AuthFetchModesInput{
		PatientID: "asha@sbx",
		Purpose:   AuthPurposeLink,
	})
	if err != nil {
		t.Fatalf("FetchAuthModes: %v", err)
	}
	if len(modes) != 2 || modes[0] != "MOBILE_OTP" || modes[1] != "DEMOGRAPHICS" {
		t.Errorf("modes = %v, want [MOBILE_OTP DEMOGRAPHICS]", modes)
	}

	payload := gw.lastPost(t, gateway.PathUsersAuthFetchModes)
	query := payload["query"].(map[string]interface{})
	if query["id"].(string) != "asha@sbx" || query["purpose"].(string) != AuthPurposeLink {
		t.Errorf("query = %v", query)
	}
	requester := query["requester"].(map[string]string)
	if requester["type"] != "HIP" || requester["id"] != "HIP-1" {
		t.Errorf("requester = %v", requester)
	}
}

func TestFetchAuthModesValidation(t *testing.T) {
	svc, _, gw, _ := newTestService(t, hrp.Collaborators{})

	cases := []struct {
		name string
		in   AuthFetchModesInput
	}{
		{"missing patient", AuthFetchModesInput{Purpose: AuthPurposeLink}},
		{"bad purpose", AuthFetchModesInput{PatientID: "asha@sbx", Purpose: "TREATMENT"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.FetchAuthModes(context.Background(), tc.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
	if gw.count() != 0 {
		t.Error("gateway contacted despite validation failure")
	}
}

func TestInitAuth(t *testing.T) {
	svc, _, gw, corr := newTestService(t, hrp.Collaborators{})
	gw.onPost = depositAuthCallback(corr, map[string]interface{}{
		"transactionId": "auth-txn-1",
		"mode":          "MOBILE_OTP",
	})

	result, err := svc.InitAuth(context.Background(), AuthInitInput{
		PatientID: "asha@sbx",
		Purpose:   AuthPurposeLink,
		AuthMode:  "MOBILE_OTP",
	})
	if err != nil {
		t.Fatalf("InitAuth: %v", err)
	}
	if result.TransactionID != "auth-txn-1" || result.Mode != "MOBILE_OTP" {
		t.Errorf("result = %+v", result)
	}

	payload := gw.lastPost(t, gateway.PathUsersAuthInit)
	query := payload["query"].(map[string]interface{})
	if query["authMode"].(string) != "MOBILE_OTP" {
		t.Errorf("authMode = %v", query["authMode"])
	}
}

func TestInitAuthRejectsDirectMode(t *testing.T) {
	svc, _, gw, _ := newTestService(t, hrp.Collaborators{})

	_, err := svc.InitAuth(context.Background(), AuthInitInput{
		PatientID: "asha@sbx",
		Purpose:   AuthPurposeLink,
		AuthMode:  AuthModeDirect,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if gw.count() != 0 {
		t.Error("gateway contacted despite unsupported mode")
	}
}

func TestConfirmAuth(t *testing.T) {
	svc, _, gw, corr := newTestService(t, hrp.Collaborators{})
	gw.onPost = depositAuthCallback(corr, map[string]interface{}{
		"accessToken": "token-abc",
	})

	result, err := svc.ConfirmAuth(context.Background(), AuthConfirmInput{
		TransactionID: "auth-txn-1",
		Credential:    AuthCredential{AuthCode: "123456"},
	})
	if err != nil {
		t.Fatalf("ConfirmAuth: %v", err)
	}
	if result.AccessToken != "token-abc" {
		t.Errorf("access token = %q", result.AccessToken)
	}

	payload := gw.lastPost(t, gateway.PathUsersAuthConfirm)
	if payload["transactionId"].(string) != "auth-txn-1" {
		t.Errorf("transactionId = %v", payload["transactionId"])
	}
}

func TestConfirmAuthRequiresCredential(t *testing.T) {
	svc, _, _, _ := newTestService(t, hrp.Collaborators{})

	_, err := svc.ConfirmAuth(context.Background(), AuthConfirmInput{TransactionID: "auth-txn-1"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestConfirmAuthGatewayError(t *testing.T) {
	svc, _, gw, corr := newTestService(t, hrp.Collaborators{})
	gw.onPost = func(path string, payload map[string]interface{}) {
		cb, _ := json.Marshal(map[string]interface{}{
			"requestId": "gw-cb",
			"timestamp": gateway.Timestamp(),
			"error":     map[string]interface{}{"code": 1441, "message": "invalid OTP"},
			"resp":      map[string]string{"requestId": payload["requestId"].(string)},
		})
		corr.Deposit(payload["requestId"].(string), cb)
	}

	_, err := svc.ConfirmAuth(context.Background(), AuthConfirmInput{
		TransactionID: "auth-txn-2",
		Credential:    AuthCredential{AuthCode: "000000"},
	})
	var gwErr *gateway.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %v, want GatewayError", err)
	}
	if gwErr.Code != 1441 {
		t.Errorf("code = %d, want 1441", gwErr.Code)
	}
}
