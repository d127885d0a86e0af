// demo-flow drives a full envelope lifecycle against a running signet server:
// create, invite, sign with consent for every party, then verify the audit
// chain. Useful for manual smoke testing a deployment.
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

var (
	baseURL = getEnv("BASE_URL", "http://localhost:8080")
	client  = &http.Client{Timeout: 10 * time.Second}

	tenantID = newUUID()
	ownerID  = newUUID()
)

type signer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type envelope struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Signers []signer `json:"signers"`
}

func main() {
	log.Printf("demo flow against %s (tenant %s)", baseURL, tenantID)

	env := createEnvelope()
	log.Printf("created envelope %s with %d parties", env.ID, len(env.Signers))

	post(fmt.Sprintf("/envelopes/%s/invite", env.ID), nil)
	log.Printf("invited all parties")

	for _, s := range env.Signers {
		post(fmt.Sprintf("/envelopes/%s/sign", env.ID), map[string]any{
			"signer_id": s.ID,
			"consent":   map[string]any{"given": true, "channel": "demo"},
		})
		log.Printf("party %s signed", s.Email)
	}

	var final envelope
	get(fmt.Sprintf("/envelopes/%s", env.ID), &final)
	log.Printf("envelope status: %s", final.Status)

	var verdict struct {
		Valid bool `json:"valid"`
	}
	get(fmt.Sprintf("/envelopes/%s/audit/verify", env.ID), &verdict)
	log.Printf("audit chain valid: %v", verdict.Valid)

	if final.Status != "COMPLETED" || !verdict.Valid {
		log.Fatal("demo flow failed")
	}
	log.Printf("demo flow complete")
}

func createEnvelope() envelope {
	body := map[string]any{
		"title":         "Demo Agreement",
		"signing_order": "PARALLEL",
		"parties": []map[string]any{
			{"email": "owner@demo.test", "order_index": 1, "is_owner": true},
			{"email": "alice@demo.test", "order_index": 2},
			{"email": "bob@demo.test", "order_index": 3},
		},
	}
	var env envelope
	decode(post("/envelopes", body), &env)
	return env
}

func post(path string, body map[string]any) []byte {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s: %v", path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest("POST", baseURL+path, reader)
	if err != nil {
		log.Fatalf("build %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, path)
}

func get(path string, out any) {
	req, err := http.NewRequest("GET", baseURL+path, nil)
	if err != nil {
		log.Fatalf("build %s: %v", path, err)
	}
	decode(do(req, path), out)
}

func do(req *http.Request, path string) []byte {
	req.Header.Set("X-Tenant-ID", tenantID)
	req.Header.Set("X-Actor-ID", ownerID)

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s: %v", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	if resp.StatusCode >= 300 {
		log.Fatalf("%s returned %d: %s", path, resp.StatusCode, string(data))
	}
	return data
}

func decode(data []byte, out any) {
	if out == nil {
		return
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Fatalf("decode response: %v", err)
	}
}

func newUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Fatal(err)
	}
	buf[6] = (buf[6] & 0x0f) | 0x40
	buf[8] = (buf[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", buf[0:4], buf[4:6], buf[6:8], buf[8:10], buf[10:16])
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
