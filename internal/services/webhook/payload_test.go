package webhook

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_ExpandedAndCollapsedReferences(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantProduct  string
		wantCustomer string
		wantSub      string
		wantCreated  time.Time
	}{
		{
			name:         "ids as strings",
			body:         `{"id":"evt_1","eventType":"checkout.completed","created_at":1773144000000,"object":{"product":"prod_a","customer":"cus_a","subscription":"sub_a"}}`,
			wantProduct:  "prod_a",
			wantCustomer: "cus_a",
			wantSub:      "sub_a",
			wantCreated:  time.UnixMilli(1773144000000).UTC(),
		},
		{
			name:         "expanded objects",
			body:         `{"id":"evt_1","eventType":"checkout.completed","created_at":"2026-03-10T12:00:00Z","object":{"product":{"id":"prod_b","billing_period":"every-year"},"customer":{"id":"cus_b","email":"a@b.c"},"subscription":{"id":"sub_b","status":"active"}}}`,
			wantProduct:  "prod_b",
			wantCustomer: "cus_b",
			wantSub:      "sub_b",
			wantCreated:  time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		},
		{
			name:        "null references",
			body:        `{"id":"evt_1","eventType":"checkout.completed","created_at":null,"object":{"product":null,"customer":null,"subscription":null}}`,
			wantCreated: time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Payload
			require.NoError(t, json.Unmarshal([]byte(tt.body), &p))
			assert.Equal(t, tt.wantProduct, p.product().ID)
			assert.Equal(t, tt.wantCustomer, p.customer().ID)
			if tt.wantSub == "" {
				assert.Nil(t, p.subscription())
			} else {
				require.NotNil(t, p.subscription())
				assert.Equal(t, tt.wantSub, p.subscription().ID)
			}
			assert.True(t, tt.wantCreated.Equal(p.CreatedAt.Time))
		})
	}
}

func TestPayload_SubscriptionEventUsesObjectItself(t *testing.T) {
	var p Payload
	body := `{"id":"evt_1","eventType":"subscription.paid","object":{"id":"sub_1","product":{"id":"prod_x"},"metadata":{"userId":"u1"}}}`
	require.NoError(t, json.Unmarshal([]byte(body), &p))

	require.NotNil(t, p.subscription())
	assert.Equal(t, "sub_1", p.subscription().ID)
	assert.Equal(t, "prod_x", p.product().ID)
	assert.Equal(t, "u1", p.metadata("userId"))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	valid := Sign("secret", body)

	tests := []struct {
		name      string
		secret    string
		signature string
		want      bool
	}{
		{name: "valid", secret: "secret", signature: valid, want: true},
		{name: "upper case hex", secret: "secret", signature: strings.ToUpper(valid), want: true},
		{name: "wrong secret", secret: "other", signature: valid, want: false},
		{name: "empty signature", secret: "secret", signature: "", want: false},
		{name: "empty secret", secret: "", signature: Sign("", body), want: false},
		{name: "garbage", secret: "secret", signature: "not-hex", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.secret, body, tt.signature))
		})
	}
}
