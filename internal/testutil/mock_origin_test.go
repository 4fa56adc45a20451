package testutil

import (
	"errors"
	"io"
	"net/http"
	"testing"
)

func TestMockOrigin_ServesDefaults(t *testing.T) {
	origin := NewMockOrigin()
	defer origin.Close()

	resp, err := origin.HTTPClient().Get(origin.URL() + "/styles.css")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if string(body) != DefaultAssets["/styles.css"].Body {
		t.Errorf("body = %q", body)
	}
	if origin.GetPathCount("/styles.css") != 1 {
		t.Errorf("path count = %d, want 1", origin.GetPathCount("/styles.css"))
	}
}

func TestMockOrigin_UnknownPath(t *testing.T) {
	origin := NewMockOrigin()
	defer origin.Close()

	resp, err := origin.HTTPClient().Get(origin.URL() + "/missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
	}
}

func TestMockOrigin_Offline(t *testing.T) {
	origin := NewMockOrigin()
	defer origin.Close()

	origin.SetOffline(true)
	_, err := origin.HTTPClient().Get(origin.URL() + "/")
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("error = %v, want ErrOffline", err)
	}
	if origin.GetRequestCount() != 0 {
		t.Errorf("RequestCount = %d, want 0", origin.GetRequestCount())
	}

	origin.SetOffline(false)
	resp, err := origin.HTTPClient().Get(origin.URL() + "/")
	if err != nil {
		t.Fatalf("Get() after reconnect error = %v", err)
	}
	resp.Body.Close()
}
