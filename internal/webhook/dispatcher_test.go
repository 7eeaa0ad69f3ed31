package webhook

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_NoURL_NoOp(t *testing.T) {
	d := &Dispatcher{}
	err := d.Send(context.Background(), "", "secret", Payload{Type: "auth"})
	require.NoError(t, err)
}

func TestSend_SignsAndDelivers(t *testing.T) {
	var gotSig, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Nango-Signature")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := &Dispatcher{HTTPClient: srv.Client()}
	payload := Payload{Type: "auth", ConnectionID: "conn-1", Success: true}
	err := d.Send(context.Background(), srv.URL, "secret", payload)
	require.NoError(t, err)

	wantSig := sign("secret", []byte(gotBody))
	assert.Equal(t, wantSig, gotSig)
	_, err = hex.DecodeString(gotSig)
	assert.NoError(t, err)
}

func TestSend_ReceiverRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := &Dispatcher{HTTPClient: srv.Client()}
	err := d.Send(context.Background(), srv.URL, "secret", Payload{Type: "auth"})
	require.Error(t, err)
}

func TestSign_Deterministic(t *testing.T) {
	a := sign("s", []byte("body"))
	b := sign("s", []byte("body"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, sign("other", []byte("body")))
}
