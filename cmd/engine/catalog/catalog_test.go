package catalog

import (
	"testing"

	"github.com/telflow/telflow/common/models"
)

func TestBuiltin_CoversAllTypes(t *testing.T) {
	r := Builtin()

	types := []string{
		models.TriggerSMSReceived, models.TriggerUSSDSessionStart, models.TriggerIncomingCall,
		models.TriggerPaymentCallback, models.TriggerScheduled, models.TriggerHTTPWebhook,
		TypeSendSMS, TypeSendUSSDResponse, TypeInitiateCall, TypePlayIVR, TypeCollectDTMF,
		TypeRequestPayment, TypeRefundPayment, TypeHTTPRequest,
		TypeCondition, TypeSwitch, TypeDelay, TypeRetry, TypeRateLimit, TypeMerge,
		TypeSessionRead, TypeSessionWrite, TypeSessionEnd,
	}
	for _, typ := range types {
		entry, ok := r.Lookup(typ)
		if !ok {
			t.Errorf("missing builtin entry: %s", typ)
			continue
		}
		if entry.Name == "" || entry.Category == "" {
			t.Errorf("entry %s is incomplete: %+v", typ, entry)
		}
	}

	if triggers := r.ByCategory(CategoryTrigger); len(triggers) != 6 {
		t.Errorf("expected 6 triggers, got %d", len(triggers))
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := NewRegistry()
	entry := &Entry{Type: "x", Category: CategoryAction, Name: "X"}
	if err := r.Register(entry); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(entry); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestValidateConfig_AppliesDefaults(t *testing.T) {
	r := Builtin()

	resolved, errs := r.ValidateConfig(TypeCollectDTMF, map[string]any{"prompt": "Enter PIN"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if resolved["num_digits"] != float64(1) || resolved["timeout_ms"] != float64(10000) {
		t.Errorf("defaults not applied: %+v", resolved)
	}

	_, errs = r.ValidateConfig(TypeCollectDTMF, map[string]any{})
	if len(errs) != 1 || errs[0].Path != "prompt" {
		t.Errorf("expected a required error on prompt, got %+v", errs)
	}
}

func TestValidateConfig_UnknownType(t *testing.T) {
	r := Builtin()
	_, errs := r.ValidateConfig("teleport", map[string]any{})
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %+v", errs)
	}
}

func TestPlayIVR_ExactlyOneSource(t *testing.T) {
	r := Builtin()

	if _, errs := r.ValidateConfig(TypePlayIVR, map[string]any{"text": "hello"}); len(errs) != 0 {
		t.Errorf("text only should pass: %+v", errs)
	}
	if _, errs := r.ValidateConfig(TypePlayIVR, map[string]any{"audio_url": "https://x/y.mp3"}); len(errs) != 0 {
		t.Errorf("audio only should pass: %+v", errs)
	}
	if _, errs := r.ValidateConfig(TypePlayIVR, map[string]any{}); len(errs) == 0 {
		t.Error("neither source should fail")
	}
	if _, errs := r.ValidateConfig(TypePlayIVR, map[string]any{"text": "hi", "audio_url": "https://x/y.mp3"}); len(errs) == 0 {
		t.Error("both sources should fail")
	}
}

func TestScheduledTrigger_CronValidation(t *testing.T) {
	r := Builtin()

	valid := []string{"*/5 * * * *", "0 9 * * 1-5", "30 */10 * * * *"}
	for _, expr := range valid {
		if _, errs := r.ValidateConfig(models.TriggerScheduled, map[string]any{"cron_expression": expr}); len(errs) != 0 {
			t.Errorf("%q should be valid: %+v", expr, errs)
		}
	}

	invalid := []string{"* * *", "99 * * * *", "not a cron"}
	for _, expr := range invalid {
		if _, errs := r.ValidateConfig(models.TriggerScheduled, map[string]any{"cron_expression": expr}); len(errs) == 0 {
			t.Errorf("%q should be rejected", expr)
		}
	}
}

func TestWebhookTrigger_AuthTokenRequired(t *testing.T) {
	r := Builtin()

	_, errs := r.ValidateConfig(models.TriggerHTTPWebhook, map[string]any{
		"path":         "/orders",
		"require_auth": true,
	})
	if len(errs) != 1 || errs[0].Path != "auth_token" {
		t.Errorf("expected auth_token error, got %+v", errs)
	}

	_, errs = r.ValidateConfig(models.TriggerHTTPWebhook, map[string]any{
		"path":         "/orders",
		"require_auth": true,
		"auth_token":   "secret",
	})
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %+v", errs)
	}

	if _, errs := r.ValidateConfig(models.TriggerHTTPWebhook, map[string]any{"path": "no-slash"}); len(errs) == 0 {
		t.Error("expected pattern rejection for a path without a leading slash")
	}
}
