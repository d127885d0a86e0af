// Mock signing provider for local development and e2e tests. It implements
// the /sign contract with deterministic HMAC-SHA256 signatures and "magic"
// key refs that let tests force specific failure modes.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	defaultPort      = "8090"
	defaultKey       = "signing-provider-dev-key"
	defaultLatencyMs = "50"
)

type SignRequest struct {
	KeyRef    string `json:"key_ref"`
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

type SignResponse struct {
	Signature string `json:"signature"`
	KeyRef    string `json:"key_ref"`
	Algorithm string `json:"algorithm"`
	SignedAt  string `json:"signed_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var (
	signingKey = getEnv("SIGNING_KEY", defaultKey)
	latencyMs  = getEnvInt("LATENCY_MS", defaultLatencyMs)
)

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/sign", handleSign)

	log.Printf("Mock signing provider starting on port %s", port)
	log.Printf("Simulated latency: %dms", latencyMs)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "signing-provider",
		"version": "1.0.0",
	})
}

func handleSign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}

	time.Sleep(time.Duration(latencyMs) * time.Millisecond)

	var req SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	// Magic key refs let e2e tests force provider failure modes.
	switch req.KeyRef {
	case "FAIL500":
		writeError(w, http.StatusInternalServerError, "internal", "simulated provider outage")
		return
	case "FAIL429":
		writeError(w, http.StatusTooManyRequests, "throttled", "simulated throttling")
		return
	case "FAIL400":
		writeError(w, http.StatusBadRequest, "rejected", "simulated permanent rejection")
		return
	case "SLOW":
		time.Sleep(30 * time.Second)
	}

	digest, err := base64.StdEncoding.DecodeString(req.Digest)
	if err != nil || len(digest) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "digest must be non-empty base64")
		return
	}

	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write(digest)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(SignResponse{
		Signature: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		KeyRef:    req.KeyRef,
		Algorithm: req.Algorithm,
		SignedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: code, Message: message})
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key, fallback string) int {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		n, _ = strconv.Atoi(fallback)
	}
	return n
}
