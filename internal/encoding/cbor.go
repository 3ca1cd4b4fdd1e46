// Package encoding centralizes the CBOR wire helpers used for fleet
// reporting and stream payloads.
package encoding

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/fxamacker/cbor/v2"
)

const ContentType = "application/cbor"

// Marshal encodes v to CBOR.
func Marshal(v interface{}) ([]byte, error) {
	return cbor.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// PostCBOR sends an HTTP POST with a CBOR-encoded body.
func PostCBOR(client *http.Client, url string, data interface{}, headers map[string]string) (*http.Response, error) {
	body, err := Marshal(data)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", ContentType)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return client.Do(req)
}

// ReadCBOR decodes a CBOR response body into v and closes it.
func ReadCBOR(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" && ct != ContentType {
		return fmt.Errorf("unexpected content type %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return Unmarshal(body, v)
}

// DecodeRequest reads a CBOR request body into v.
func DecodeRequest(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return Unmarshal(body, v)
}

// WriteCBOR encodes v as CBOR into an HTTP response.
func WriteCBOR(w http.ResponseWriter, status int, v interface{}) error {
	body, err := Marshal(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}
