package telecom

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/telflow/telflow/common/logger"
	"github.com/telflow/telflow/common/models"
)

func testClient(srv *httptest.Server) *ATClient {
	return &ATClient{
		username: "sandbox",
		apiKey:   "test-key",
		baseURL:  srv.URL,
		http:     srv.Client(),
		log:      logger.NewNop(),
	}
}

func TestSendSMS_Success(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/version1/messaging" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("apiKey") != "test-key" {
			t.Errorf("missing api key header")
		}
		r.ParseForm()
		gotForm = map[string]string{
			"username": r.PostForm.Get("username"),
			"to":       r.PostForm.Get("to"),
			"message":  r.PostForm.Get("message"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"SMSMessageData":{"Recipients":[
			{"messageId":"ATXid_1","status":"Success","statusCode":101,"cost":"KES 0.80"}
		]}}`))
	}))
	defer srv.Close()

	res, nerr := testClient(srv).SendSMS(context.Background(), SMSRequest{
		To:      "+254700000001",
		Message: "hello",
	})
	if nerr != nil {
		t.Fatalf("unexpected error: %+v", nerr)
	}
	if res.MessageID != "ATXid_1" || res.Cost != "KES 0.80" {
		t.Errorf("unexpected result: %+v", res)
	}
	if gotForm["to"] != "+254700000001" || gotForm["message"] != "hello" || gotForm["username"] != "sandbox" {
		t.Errorf("unexpected form: %+v", gotForm)
	}
}

func TestSendSMS_GatewayRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"SMSMessageData":{"Recipients":[
			{"messageId":"","status":"InvalidPhoneNumber","statusCode":403}
		]}}`))
	}))
	defer srv.Close()

	_, nerr := testClient(srv).SendSMS(context.Background(), SMSRequest{To: "bad", Message: "x"})
	if nerr == nil {
		t.Fatal("expected an error")
	}
	if nerr.Code != models.CodeSMSSend || nerr.Type != models.ErrorPermanent {
		t.Errorf("expected permanent sms_send_error, got %+v", nerr)
	}
}

func TestSendSMS_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, nerr := testClient(srv).SendSMS(context.Background(), SMSRequest{To: "+254700000001", Message: "x"})
	if nerr == nil || nerr.Code != models.CodeRateLimit || nerr.Type != models.ErrorRateLimit {
		t.Fatalf("expected rate_limit classification, got %+v", nerr)
	}
}

func TestSendUSSDReply_Prefixes(t *testing.T) {
	var responses []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		responses = append(responses, r.PostForm.Get("response"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := testClient(srv)
	if nerr := client.SendUSSDReply(context.Background(), USSDReply{SessionID: "s1", Message: "Pick an option", ExpectInput: true}); nerr != nil {
		t.Fatalf("unexpected error: %+v", nerr)
	}
	if nerr := client.SendUSSDReply(context.Background(), USSDReply{SessionID: "s1", Message: "Goodbye"}); nerr != nil {
		t.Fatalf("unexpected error: %+v", nerr)
	}

	if len(responses) != 2 || responses[0] != "CON Pick an option" || responses[1] != "END Goodbye" {
		t.Errorf("unexpected responses: %v", responses)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		wantCode string
		wantType models.NodeErrorType
	}{
		{429, models.CodeRateLimit, models.ErrorRateLimit},
		{500, models.CodePaymentRequest, models.ErrorTransient},
		{503, models.CodePaymentRequest, models.ErrorTransient},
		{400, models.CodePaymentRequest, models.ErrorPermanent},
		{404, models.CodePaymentRequest, models.ErrorPermanent},
	}
	for _, tc := range tests {
		nerr := classifyStatus(models.CodePaymentRequest, tc.status, "x")
		if nerr.Code != tc.wantCode || nerr.Type != tc.wantType {
			t.Errorf("status %d: got %s/%s, want %s/%s", tc.status, nerr.Code, nerr.Type, tc.wantCode, tc.wantType)
		}
	}
}

func TestClassifyTransportError(t *testing.T) {
	nerr := classifyTransportError(context.DeadlineExceeded)
	if nerr.Code != models.CodeNodeTimeout || nerr.Type != models.ErrorTransient {
		t.Errorf("deadline: %+v", nerr)
	}
	nerr = classifyTransportError(errors.New("connection refused"))
	if nerr.Code != models.CodeNetworkError || nerr.Type != models.ErrorTransient {
		t.Errorf("network: %+v", nerr)
	}
}
